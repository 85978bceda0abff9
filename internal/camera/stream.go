package camera

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"

	"candyscope/internal/pipeline"
)

// StreamSource decodes a device, network stream or video file with ffmpeg
// into a latest-frame slot. Capture decodes whatever frame is newest.
type StreamSource struct {
	desc              Descriptor
	width             int
	height            int
	fps               int
	firstFrameTimeout time.Duration
	logger            *zap.SugaredLogger

	mu         sync.RWMutex
	latest     []byte
	seq        uint64
	cancel     context.CancelFunc
	done       chan struct{}
	firstFrame chan struct{}
	firstOnce  sync.Once
}

// NewStreamSource creates an unopened ffmpeg-backed source
func NewStreamSource(desc Descriptor, opts Options) *StreamSource {
	opts = opts.withDefaults()
	return &StreamSource{
		desc:              desc,
		width:             opts.Width,
		height:            opts.Height,
		fps:               opts.FPS,
		firstFrameTimeout: opts.FirstFrameTimeout,
		logger:            opts.Logger.Named("stream").With("source", desc.Raw),
	}
}

// ID implements pipeline.FrameSource
func (s *StreamSource) ID() string { return s.desc.Raw }

// inputArgs returns ffmpeg input options for the source kind
func (s *StreamSource) inputArgs() ffmpeg.KwArgs {
	switch {
	case s.desc.Kind == KindDevice:
		args := ffmpeg.KwArgs{"f": "v4l2", "framerate": s.fps}
		if s.width > 0 && s.height > 0 {
			args["video_size"] = fmt.Sprintf("%dx%d", s.width, s.height)
		}
		return args
	case strings.HasPrefix(s.desc.Target, "rtsp://"):
		return ffmpeg.KwArgs{"rtsp_transport": "tcp"}
	case isNetworkSource(s.desc.Target):
		return ffmpeg.KwArgs{}
	default:
		// Video files play back in real time and loop
		return ffmpeg.KwArgs{"re": "", "stream_loop": -1}
	}
}

func (s *StreamSource) outputArgs() ffmpeg.KwArgs {
	return ffmpeg.KwArgs{"f": "image2pipe", "vcodec": "mjpeg", "q:v": 5, "r": s.fps}
}

// Open starts ffmpeg and waits for the first frame
func (s *StreamSource) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.firstFrame = make(chan struct{})
	s.firstOnce = sync.Once{}
	s.latest = nil
	done, firstFrame := s.done, s.firstFrame
	s.mu.Unlock()

	pr, pw := io.Pipe()
	stream := ffmpeg.Input(s.desc.Target, s.inputArgs()).
		Output("pipe:", s.outputArgs()).
		WithOutput(pw).
		WithErrorOutput(io.Discard)
	stream.Context = runCtx

	go func() {
		err := stream.Run()
		if err != nil && runCtx.Err() == nil {
			s.logger.Warnw("ffmpeg exited", "error", err)
		}
		if err == nil {
			err = io.EOF
		}
		pw.CloseWithError(err)
	}()

	go func() {
		defer close(done)
		s.readFrames(pr)
	}()

	s.logger.Infow("starting capture", "kind", s.desc.Kind, "target", s.desc.Target)

	timer := time.NewTimer(s.firstFrameTimeout)
	defer timer.Stop()

	var cause error
	select {
	case <-firstFrame:
		return nil
	case <-done:
		cause = errors.New("stream ended before the first frame")
	case <-timer.C:
		cause = errors.Errorf("no frame within %s", s.firstFrameTimeout)
	case <-ctx.Done():
		cause = ctx.Err()
	}
	s.Close()
	return errors.Wrapf(pipeline.ErrSourceUnavailable, "%s: %v", s.desc.Raw, cause)
}

// readFrames splits the MJPEG pipe into frames until it closes
func (s *StreamSource) readFrames(r io.ReadCloser) {
	defer r.Close()

	frameBuffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			frameBuffer = append(frameBuffer, chunk[:n]...)
			for {
				frame := extractJPEGFrame(&frameBuffer)
				if frame == nil {
					break
				}
				s.updateFrame(frame)
			}
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Debugw("frame reader stopped", "error", err)
			}
			return
		}
	}
}

func (s *StreamSource) updateFrame(frame []byte) {
	s.mu.Lock()
	s.latest = frame
	s.seq++
	first := s.firstFrame
	s.mu.Unlock()

	s.firstOnce.Do(func() { close(first) })
}

// Capture decodes the most recent frame
func (s *StreamSource) Capture(ctx context.Context) (*pipeline.RasterFrame, error) {
	s.mu.RLock()
	data, seq := s.latest, s.seq
	s.mu.RUnlock()

	if data == nil {
		return nil, errors.Wrapf(pipeline.ErrSourceUnavailable, "%s has no frame", s.desc.Raw)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(pipeline.ErrSourceUnavailable, "decode frame %d: %v", seq, err)
	}
	return pipeline.NewRasterFrame(img, s.desc.Raw, seq), nil
}

// Close stops ffmpeg and waits for the reader to exit
func (s *StreamSource) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.latest = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	s.logger.Infow("capture stopped")
	return nil
}

// extractJPEGFrame extracts a complete JPEG frame from buffer
func extractJPEGFrame(buffer *[]byte) []byte {
	if len(*buffer) < 4 {
		return nil
	}

	startIdx := bytes.Index(*buffer, []byte{0xFF, 0xD8})
	if startIdx == -1 {
		// Keep a trailing 0xFF in case the marker is split across reads
		if (*buffer)[len(*buffer)-1] == 0xFF {
			*buffer = (*buffer)[len(*buffer)-1:]
		} else {
			*buffer = (*buffer)[:0]
		}
		return nil
	}

	endRel := bytes.Index((*buffer)[startIdx+2:], []byte{0xFF, 0xD9})
	if endRel == -1 {
		return nil
	}
	endIdx := startIdx + 2 + endRel + 2

	frame := make([]byte, endIdx-startIdx)
	copy(frame, (*buffer)[startIdx:endIdx])
	*buffer = (*buffer)[endIdx:]

	return frame
}

var _ pipeline.FrameSource = (*StreamSource)(nil)
