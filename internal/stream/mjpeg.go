// Package stream serves the annotated live view as an MJPEG stream.
package stream

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PreviewFunc returns the current frame with the overlay drawn on it
type PreviewFunc func(ctx context.Context) (*image.RGBA, error)

// Broadcaster fans annotated JPEG frames out to MJPEG clients
type Broadcaster struct {
	clients   map[chan []byte]bool
	clientsMu sync.RWMutex

	current []byte
	frameMu sync.RWMutex

	quality     int
	minInterval time.Duration
	lastPublish time.Time
	publishMu   sync.Mutex

	logger *zap.SugaredLogger
}

// NewBroadcaster creates a broadcaster publishing at most maxFPS frames per second
func NewBroadcaster(maxFPS int, quality int, logger *zap.SugaredLogger) *Broadcaster {
	if maxFPS <= 0 {
		maxFPS = 15
	}
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Broadcaster{
		clients:     make(map[chan []byte]bool),
		quality:     quality,
		minInterval: time.Second / time.Duration(maxFPS),
		logger:      logger.Named("mjpeg"),
	}
}

// HasClients returns true if any client is connected
func (b *Broadcaster) HasClients() bool {
	b.clientsMu.RLock()
	defer b.clientsMu.RUnlock()
	return len(b.clients) > 0
}

// Publish stores frame as current and sends it to every client
func (b *Broadcaster) Publish(frame []byte) {
	if len(frame) == 0 {
		return
	}

	b.frameMu.Lock()
	b.current = frame
	b.frameMu.Unlock()

	b.clientsMu.RLock()
	for ch := range b.clients {
		select {
		case ch <- frame:
		default:
			// Client is slow, skip frame
		}
	}
	b.clientsMu.RUnlock()
}

// PublishImage JPEG-encodes img and publishes it
func (b *Broadcaster) PublishImage(img image.Image) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: b.quality}); err != nil {
		return err
	}
	b.Publish(buf.Bytes())
	return nil
}

// Current returns the last published frame
func (b *Broadcaster) Current() []byte {
	b.frameMu.RLock()
	defer b.frameMu.RUnlock()
	return b.current
}

// Reset drops the current frame
func (b *Broadcaster) Reset() {
	b.frameMu.Lock()
	b.current = nil
	b.frameMu.Unlock()
}

// RefreshHook returns a display refresh callback that renders preview frames
// while clients are connected, rate limited to the broadcaster's max FPS
func (b *Broadcaster) RefreshHook(preview PreviewFunc) func() {
	return func() {
		if !b.HasClients() {
			return
		}

		b.publishMu.Lock()
		now := time.Now()
		if now.Sub(b.lastPublish) < b.minInterval {
			b.publishMu.Unlock()
			return
		}
		b.lastPublish = now
		b.publishMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), b.minInterval*4)
		defer cancel()
		img, err := preview(ctx)
		if err != nil {
			b.logger.Debugw("preview unavailable", "error", err)
			return
		}
		if err := b.PublishImage(img); err != nil {
			b.logger.Warnw("encode preview", "error", err)
		}
	}
}

// ServeHTTP serves the MJPEG stream to a client
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	clientCh := make(chan []byte, 5)
	b.clientsMu.Lock()
	b.clients[clientCh] = true
	b.clientsMu.Unlock()

	defer func() {
		b.clientsMu.Lock()
		delete(b.clients, clientCh)
		b.clientsMu.Unlock()
	}()

	b.logger.Infow("client connected", "remote", r.RemoteAddr)
	w.WriteHeader(http.StatusOK)
	if frame := b.Current(); frame != nil {
		writePart(w, frame)
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			b.logger.Infow("client disconnected", "remote", r.RemoteAddr)
			return
		case frame := <-clientCh:
			writePart(w, frame)
			flusher.Flush()
		}
	}
}

func writePart(w http.ResponseWriter, frame []byte) {
	fmt.Fprintf(w, "--frame\r\n")
	fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
	fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
	w.Write(frame)
	fmt.Fprintf(w, "\r\n")
}

// SnapshotHandler serves the last published frame
type SnapshotHandler struct {
	broadcaster *Broadcaster
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(b *Broadcaster) *SnapshotHandler {
	return &SnapshotHandler{broadcaster: b}
}

// ServeHTTP serves a single JPEG snapshot
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	frame := h.broadcaster.Current()
	if frame == nil {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame)))
	w.Write(frame)
}
