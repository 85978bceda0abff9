// Package live runs the periodic capture, detect and render loop.
package live

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"candyscope/internal/analysis"
	"candyscope/internal/annotate"
	"candyscope/internal/codec"
	"candyscope/internal/pipeline"
)

// Config holds loop timing and rendering settings
type Config struct {
	Interval        time.Duration // Analysis tick period
	RefreshInterval time.Duration // Display refresh period, drives the rate meter
	Quality         float64
	MediaType       string
	MaxInFlight     int64 // 0 means unbounded
	DiscardStale    bool  // Drop results older than the last rendered one
	SummaryPanel    bool
	DisplayWidth    int // 0 follows the frame size
	DisplayHeight   int
	TickTimeout     time.Duration // 0 leaves timing to the detector client
}

// DefaultConfig returns the standard loop settings
func DefaultConfig() Config {
	return Config{
		Interval:        500 * time.Millisecond,
		RefreshInterval: time.Second / 60,
		Quality:         codec.LiveQuality,
		MediaType:       pipeline.MediaTypeJPEG,
	}
}

// Status is a point-in-time view of the loop
type Status struct {
	Running   bool                 `json:"running"`
	SessionID string               `json:"session_id,omitempty"`
	Source    string               `json:"source,omitempty"`
	StartedAt time.Time            `json:"started_at,omitempty"`
	FPS       float64              `json:"fps"`
	Stats     StatsSnapshot        `json:"stats"`
	Last      *pipeline.TickResult `json:"last,omitempty"`
}

// Option configures a Loop
type Option func(*Loop)

// WithClock replaces the wall clock, used by tests
func WithClock(c clock.Clock) Option {
	return func(l *Loop) { l.clock = c }
}

// WithResultHandler receives every rendered tick
func WithResultHandler(h pipeline.TickResultHandler) Option {
	return func(l *Loop) { l.handler = h }
}

// WithRefreshHook runs fn on every display refresh while the loop runs
func WithRefreshHook(fn func()) Option {
	return func(l *Loop) { l.refreshHook = fn }
}

// WithLogger sets the logger
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(l *Loop) { l.logger = logger }
}

// Loop drives live analysis. Ticks are fire-and-forget: a slow detection
// call never delays the next tick, and results render in completion order
// unless DiscardStale is set.
type Loop struct {
	cfg         Config
	chain       *analysis.Chain
	annotator   *annotate.Annotator
	surface     *annotate.Surface
	clock       clock.Clock
	handler     pipeline.TickResultHandler
	refreshHook func()
	logger      *zap.SugaredLogger
	meter       *Meter
	stats       *Stats
	sem         *semaphore.Weighted
	seq         *atomic.Uint64

	// Lifecycle, guarded by mu
	mu        sync.Mutex
	running   bool
	stopping  bool
	source    pipeline.FrameSource
	sessionID string
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	inflight  sync.WaitGroup

	// Render state, guarded by renderMu
	renderMu     sync.Mutex
	generation   uint64
	lastRendered uint64
	last         *pipeline.TickResult
}

// NewLoop creates an idle loop rendering onto surface
func NewLoop(cfg Config, chain *analysis.Chain, annotator *annotate.Annotator, surface *annotate.Surface, opts ...Option) *Loop {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.Quality <= 0 {
		cfg.Quality = def.Quality
	}
	if cfg.MediaType == "" {
		cfg.MediaType = def.MediaType
	}

	l := &Loop{
		cfg:       cfg,
		chain:     chain,
		annotator: annotator,
		surface:   surface,
		clock:     clock.New(),
		logger:    zap.NewNop().Sugar(),
		meter:     NewMeter(time.Second),
		stats:     NewStats(),
		seq:       atomic.NewUint64(0),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("live")
	if cfg.MaxInFlight > 0 {
		l.sem = semaphore.NewWeighted(cfg.MaxInFlight)
	}
	return l
}

// Start opens src and begins ticking. Returns an error wrapping
// ErrAlreadyRunning if a session is active, or the source's open error.
func (l *Loop) Start(ctx context.Context, src pipeline.FrameSource) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return "", errors.Wrapf(pipeline.ErrAlreadyRunning, "session %s", l.sessionID)
	}
	if err := src.Open(ctx); err != nil {
		return "", err
	}

	l.renderMu.Lock()
	l.generation++
	gen := l.generation
	l.lastRendered = 0
	l.last = nil
	l.renderMu.Unlock()

	l.meter.Reset()
	l.stats.Reset()
	l.seq.Store(0)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.running = true
	l.source = src
	l.sessionID = uuid.NewString()
	l.startedAt = l.clock.Now()
	l.cancel = cancel

	analysisTicker := l.clock.Ticker(l.cfg.Interval)
	refreshTicker := l.clock.Ticker(l.cfg.RefreshInterval)
	l.wg.Add(2)
	go l.analysisLoop(loopCtx, analysisTicker, gen, l.sessionID, src)
	go l.refreshLoop(loopCtx, refreshTicker)

	l.logger.Infow("live session started",
		"session", l.sessionID,
		"source", src.ID(),
		"interval", l.cfg.Interval,
		"max_in_flight", l.cfg.MaxInFlight,
		"discard_stale", l.cfg.DiscardStale,
	)
	return l.sessionID, nil
}

// Stop ends the session, clears the surface and resets the rate meter.
// In-flight detection calls are left to finish and their results are
// dropped. Stopping an idle or already stopping loop is a no-op.
func (l *Loop) Stop() error {
	l.mu.Lock()
	if !l.running || l.stopping {
		l.mu.Unlock()
		return nil
	}
	l.stopping = true
	cancel, src, sessionID := l.cancel, l.source, l.sessionID
	l.mu.Unlock()

	// Refresh hooks may call Preview, which takes mu
	cancel()
	l.wg.Wait()

	l.renderMu.Lock()
	l.generation++
	l.surface.Clear()
	l.last = nil
	l.renderMu.Unlock()

	l.meter.Reset()

	err := src.Close()
	l.logger.Infow("live session stopped", "session", sessionID, "stats", l.stats.Snapshot())

	l.mu.Lock()
	l.running = false
	l.stopping = false
	l.source = nil
	l.sessionID = ""
	l.cancel = nil
	l.mu.Unlock()

	if err != nil {
		return errors.Wrap(err, "close source")
	}
	return nil
}

// Running reports whether a session is active
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// FPS returns the display refresh rate, 0 when stopped
func (l *Loop) FPS() float64 {
	return l.meter.Rate()
}

// Status returns the current loop status
func (l *Loop) Status() Status {
	l.mu.Lock()
	st := Status{
		Running:   l.running,
		SessionID: l.sessionID,
		StartedAt: l.startedAt,
	}
	if l.source != nil {
		st.Source = l.source.ID()
	}
	l.mu.Unlock()

	if !st.Running {
		st.StartedAt = time.Time{}
	}
	st.FPS = l.meter.Rate()
	st.Stats = l.stats.Snapshot()

	l.renderMu.Lock()
	st.Last = l.last
	l.renderMu.Unlock()
	return st
}

// Surface returns the overlay surface
func (l *Loop) Surface() *annotate.Surface {
	return l.surface
}

// Preview captures the current frame and draws the overlay on top of it
func (l *Loop) Preview(ctx context.Context) (*image.RGBA, error) {
	l.mu.Lock()
	src := l.source
	if l.stopping {
		src = nil
	}
	l.mu.Unlock()
	if src == nil {
		return nil, pipeline.ErrNotRunning
	}

	frame, err := src.Capture(ctx)
	if err != nil {
		return nil, err
	}
	overlay := l.surface.Snapshot()
	if overlay.Bounds().Empty() {
		return frame.Image, nil
	}
	return annotate.Overlay(frame.Image, overlay), nil
}

// WaitIdle blocks until no tick is in flight. Only meaningful once the
// loop is stopped.
func (l *Loop) WaitIdle() {
	l.inflight.Wait()
}

func (l *Loop) analysisLoop(ctx context.Context, ticker *clock.Ticker, gen uint64, sessionID string, src pipeline.FrameSource) {
	defer l.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Both cases may be ready at once after cancel
			if ctx.Err() != nil {
				return
			}
			seq := l.seq.Inc()
			l.inflight.Add(1)
			go l.tick(ctx, gen, sessionID, src, seq)
		}
	}
}

func (l *Loop) refreshLoop(ctx context.Context, ticker *clock.Ticker) {
	defer l.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			l.meter.Mark(now)
			if l.refreshHook != nil {
				l.refreshHook()
			}
		}
	}
}

func (l *Loop) tick(ctx context.Context, gen uint64, sessionID string, src pipeline.FrameSource, seq uint64) {
	defer l.inflight.Done()

	if l.sem != nil {
		if !l.sem.TryAcquire(1) {
			l.stats.skip()
			return
		}
		defer l.sem.Release(1)
	}
	l.stats.tick()

	// Stopping the session must not abort calls already in flight
	tickCtx := context.WithoutCancel(ctx)
	if l.cfg.TickTimeout > 0 {
		var cancel context.CancelFunc
		tickCtx, cancel = context.WithTimeout(tickCtx, l.cfg.TickTimeout)
		defer cancel()
	}

	start := l.clock.Now()
	out, err := l.chain.Run(tickCtx, src, l.cfg.MediaType, l.cfg.Quality)
	latency := l.clock.Since(start)
	if err != nil {
		l.stats.fail(err)
		l.logger.Warnw("tick failed", "seq", seq, "kind", pipeline.Kind(err), "error", err)
		return
	}
	l.stats.succeed(latency)
	l.render(gen, sessionID, seq, out, latency)
}

// render draws out onto the surface and publishes it, unless the session
// that issued the tick has ended or a newer result is already shown
func (l *Loop) render(gen uint64, sessionID string, seq uint64, out *analysis.Outcome, latency time.Duration) {
	l.renderMu.Lock()
	defer l.renderMu.Unlock()

	if gen != l.generation {
		l.stats.discard()
		return
	}
	if l.cfg.DiscardStale && seq < l.lastRendered {
		l.stats.discard()
		return
	}
	l.lastRendered = seq

	dw, dh := l.cfg.DisplayWidth, l.cfg.DisplayHeight
	if dw <= 0 || dh <= 0 {
		dw, dh = out.Frame.Width, out.Frame.Height
	}
	l.annotator.Annotate(l.surface, out.Batch, dw, dh)
	if l.cfg.SummaryPanel {
		annotate.DrawSummary(l.surface, out.Aggregate, l.meter.Rate())
	}

	agg := out.Aggregate
	l.last = &pipeline.TickResult{
		SessionID: sessionID,
		Seq:       seq,
		Timestamp: l.clock.Now(),
		Batch:     out.Batch,
		Aggregate: &agg,
		Latency:   latency,
	}
	if l.handler != nil {
		l.handler.OnTickResult(l.last)
	}
}
