package live

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"candyscope/internal/analysis"
	"candyscope/internal/annotate"
	"candyscope/internal/codec"
	"candyscope/internal/nutrition"
	"candyscope/internal/pipeline"
)

// memSource serves a fixed frame
type memSource struct {
	mu      sync.Mutex
	openErr error
	opened  bool
	closed  int
	seq     uint64
}

func (m *memSource) ID() string { return "mem" }

func (m *memSource) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.opened = true
	return nil
}

func (m *memSource) Capture(ctx context.Context) (*pipeline.RasterFrame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return pipeline.NewRasterFrame(image.NewRGBA(image.Rect(0, 0, 100, 100)), "mem", m.seq), nil
}

func (m *memSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

// gatedDetector blocks the first call until release is closed
type gatedDetector struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func newGatedDetector() *gatedDetector {
	return &gatedDetector{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedDetector) Detect(ctx context.Context, frame *pipeline.EncodedFrame) (*pipeline.DetectionBatch, error) {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()

	if first {
		close(g.started)
		<-g.release
	}
	return &pipeline.DetectionBatch{
		Detections: []pipeline.Detection{
			{Category: "Gems", Confidence: 0.9, BBox: &pipeline.BBox{XMin: 10, YMin: 30, XMax: 50, YMax: 60}},
		},
		FrameWidth:  frame.Width,
		FrameHeight: frame.Height,
		Seq:         frame.Seq,
	}, nil
}

// flakyDetector fails its first call with a transport error
type flakyDetector struct {
	mu    sync.Mutex
	calls int
}

func (f *flakyDetector) Detect(ctx context.Context, frame *pipeline.EncodedFrame) (*pipeline.DetectionBatch, error) {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	f.mu.Unlock()

	if first {
		return nil, errors.Wrap(pipeline.ErrTransport, "connection refused")
	}
	return &pipeline.DetectionBatch{
		Detections:  []pipeline.Detection{{Category: "Bar One", Confidence: 0.8}},
		FrameWidth:  frame.Width,
		FrameHeight: frame.Height,
		Seq:         frame.Seq,
	}, nil
}

type harness struct {
	loop    *Loop
	clock   *clock.Mock
	results chan *pipeline.TickResult
	surface *annotate.Surface
}

func newHarness(t *testing.T, det pipeline.Detector, cfg Config, opts ...Option) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	chain := analysis.NewChain(codec.NewEncoder(), det, nutrition.NewStore(nil, logger), logger)
	ann, err := annotate.NewAnnotator()
	require.NoError(t, err)

	h := &harness{
		clock:   clock.NewMock(),
		results: make(chan *pipeline.TickResult, 16),
		surface: annotate.NewSurface(0, 0),
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = 100 * time.Millisecond
	}
	opts = append([]Option{
		WithClock(h.clock),
		WithLogger(logger),
		WithResultHandler(pipeline.TickResultHandlerFunc(func(r *pipeline.TickResult) {
			select {
			case h.results <- r:
			default:
			}
		})),
	}, opts...)
	h.loop = NewLoop(cfg, chain, ann, h.surface, opts...)
	return h
}

func (h *harness) tick() {
	h.clock.Add(500 * time.Millisecond)
}

func (h *harness) next(t *testing.T) *pipeline.TickResult {
	t.Helper()
	select {
	case r := <-h.results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no tick result")
		return nil
	}
}

func waitStarted(t *testing.T, g *gatedDetector) {
	t.Helper()
	select {
	case <-g.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first detection call never started")
	}
}

func opaquePixels(img *image.RGBA) int {
	n := 0
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 {
			n++
		}
	}
	return n
}

func TestLoopRendersTicks(t *testing.T) {
	det := newGatedDetector()
	close(det.release)
	h := newHarness(t, det, Config{SummaryPanel: true})

	src := &memSource{}
	id, err := h.loop.Start(context.Background(), src)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	defer h.loop.Stop()

	h.tick()
	r := h.next(t)
	assert.Equal(t, id, r.SessionID)
	assert.Equal(t, uint64(1), r.Seq)
	assert.Equal(t, 50, r.Aggregate.TotalCalories)

	w, hgt := h.surface.Size()
	assert.Equal(t, 100, w)
	assert.Equal(t, 100, hgt)
	assert.Greater(t, opaquePixels(h.surface.Snapshot()), 0)

	st := h.loop.Status()
	assert.True(t, st.Running)
	assert.Equal(t, "mem", st.Source)
	assert.Equal(t, int64(1), st.Stats.Succeeded)
	require.NotNil(t, st.Last)
}

func TestLoopLastWriterWins(t *testing.T) {
	det := newGatedDetector()
	h := newHarness(t, det, Config{})
	_, err := h.loop.Start(context.Background(), &memSource{})
	require.NoError(t, err)
	defer h.loop.Stop()

	h.tick()
	waitStarted(t, det)
	h.tick()
	assert.Equal(t, uint64(2), h.next(t).Seq)

	close(det.release)
	assert.Equal(t, uint64(1), h.next(t).Seq, "late result still renders")
	assert.Equal(t, uint64(1), h.loop.Status().Last.Seq)
}

func TestLoopDiscardStale(t *testing.T) {
	det := newGatedDetector()
	h := newHarness(t, det, Config{DiscardStale: true})
	_, err := h.loop.Start(context.Background(), &memSource{})
	require.NoError(t, err)
	defer h.loop.Stop()

	h.tick()
	waitStarted(t, det)
	h.tick()
	assert.Equal(t, uint64(2), h.next(t).Seq)

	close(det.release)
	assert.Eventually(t, func() bool {
		return h.loop.Status().Stats.Discarded == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(2), h.loop.Status().Last.Seq)
	assert.Empty(t, h.results)
}

func TestLoopStopDiscardsInFlight(t *testing.T) {
	det := newGatedDetector()
	h := newHarness(t, det, Config{})
	src := &memSource{}
	_, err := h.loop.Start(context.Background(), src)
	require.NoError(t, err)

	h.tick()
	waitStarted(t, det)
	require.NoError(t, h.loop.Stop())

	close(det.release)
	h.loop.WaitIdle()

	assert.Equal(t, int64(1), h.loop.Status().Stats.Discarded)
	assert.Empty(t, h.results)
	assert.Equal(t, 0, opaquePixels(h.surface.Snapshot()))
	assert.Equal(t, 1, src.closed)
}

func TestLoopStopIsIdempotent(t *testing.T) {
	det := newGatedDetector()
	close(det.release)
	h := newHarness(t, det, Config{})

	require.NoError(t, h.loop.Stop(), "stop before start")

	src := &memSource{}
	_, err := h.loop.Start(context.Background(), src)
	require.NoError(t, err)

	h.tick()
	h.next(t)
	assert.Eventually(t, func() bool {
		h.clock.Add(100 * time.Millisecond)
		return h.loop.FPS() > 0
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, h.loop.Stop())
	require.NoError(t, h.loop.Stop())

	assert.Equal(t, 0.0, h.loop.FPS())
	assert.False(t, h.loop.Running())
	assert.Equal(t, 0, opaquePixels(h.surface.Snapshot()))
	assert.Equal(t, 1, src.closed)
	assert.Nil(t, h.loop.Status().Last)
}

func TestLoopAlreadyRunning(t *testing.T) {
	det := newGatedDetector()
	close(det.release)
	h := newHarness(t, det, Config{})

	_, err := h.loop.Start(context.Background(), &memSource{})
	require.NoError(t, err)
	defer h.loop.Stop()

	_, err = h.loop.Start(context.Background(), &memSource{})
	assert.True(t, errors.Is(err, pipeline.ErrAlreadyRunning))
}

func TestLoopStartSourceUnavailable(t *testing.T) {
	h := newHarness(t, newGatedDetector(), Config{})
	src := &memSource{openErr: errors.Wrap(pipeline.ErrSourceUnavailable, "no camera")}

	_, err := h.loop.Start(context.Background(), src)
	assert.True(t, errors.Is(err, pipeline.ErrSourceUnavailable))
	assert.False(t, h.loop.Running())
}

func TestLoopMaxInFlightSkips(t *testing.T) {
	det := newGatedDetector()
	h := newHarness(t, det, Config{MaxInFlight: 1})
	_, err := h.loop.Start(context.Background(), &memSource{})
	require.NoError(t, err)

	h.tick()
	waitStarted(t, det)
	h.tick()
	assert.Eventually(t, func() bool {
		return h.loop.Status().Stats.Skipped == 1
	}, 5*time.Second, 10*time.Millisecond)

	close(det.release)
	assert.Equal(t, uint64(1), h.next(t).Seq)
	require.NoError(t, h.loop.Stop())
}

func TestLoopPreview(t *testing.T) {
	det := newGatedDetector()
	close(det.release)
	h := newHarness(t, det, Config{})

	_, err := h.loop.Preview(context.Background())
	assert.True(t, errors.Is(err, pipeline.ErrNotRunning))

	_, err = h.loop.Start(context.Background(), &memSource{})
	require.NoError(t, err)
	defer h.loop.Stop()

	h.tick()
	h.next(t)
	img, err := h.loop.Preview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 100), img.Bounds())
	assert.Greater(t, opaquePixels(img), 0)
}

func TestLoopSurvivesFailedTick(t *testing.T) {
	h := newHarness(t, &flakyDetector{}, Config{})
	_, err := h.loop.Start(context.Background(), &memSource{})
	require.NoError(t, err)
	defer h.loop.Stop()

	h.tick()
	assert.Eventually(t, func() bool {
		return h.loop.Status().Stats.Failed == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, h.loop.Running())

	h.tick()
	r := h.next(t)
	assert.Equal(t, uint64(2), r.Seq)
	assert.Equal(t, 201, r.Aggregate.TotalCalories)

	st := h.loop.Status()
	assert.True(t, st.Running)
	assert.Equal(t, int64(1), st.Stats.Failed)
	assert.Equal(t, int64(1), st.Stats.Succeeded)
	assert.Equal(t, "TransportError", st.Stats.LastErrorKind)
}

func TestLoopStopWithPreviewRefreshHook(t *testing.T) {
	det := newGatedDetector()
	close(det.release)

	entered := make(chan struct{})
	proceed := make(chan struct{})
	var once sync.Once
	var h *harness
	hook := func() {
		once.Do(func() {
			close(entered)
			<-proceed
		})
		_, _ = h.loop.Preview(context.Background())
	}
	h = newHarness(t, det, Config{}, WithRefreshHook(hook))

	_, err := h.loop.Start(context.Background(), &memSource{})
	require.NoError(t, err)

	h.clock.Add(100 * time.Millisecond)
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh hook never ran")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- h.loop.Stop() }()

	// Once stopping, Preview reports the loop as not running without blocking
	assert.Eventually(t, func() bool {
		_, err := h.loop.Preview(context.Background())
		return errors.Is(err, pipeline.ErrNotRunning)
	}, 5*time.Second, 10*time.Millisecond)
	close(proceed)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return while a refresh hook called Preview")
	}
	assert.False(t, h.loop.Running())
}

func TestAnalysisLoopIgnoresTickAfterCancel(t *testing.T) {
	h := newHarness(t, newGatedDetector(), Config{})
	src := &memSource{}

	for i := 0; i < 50; i++ {
		ticker := h.clock.Ticker(500 * time.Millisecond)
		h.clock.Add(500 * time.Millisecond)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		h.loop.wg.Add(1)
		h.loop.analysisLoop(ctx, ticker, 1, "s", src)
	}
	h.loop.WaitIdle()

	assert.Equal(t, uint64(0), h.loop.seq.Load())
	assert.Equal(t, uint64(0), src.seq)
}
