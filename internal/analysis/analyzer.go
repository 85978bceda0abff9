package analysis

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"candyscope/internal/annotate"
	"candyscope/internal/camera"
	"candyscope/internal/codec"
	"candyscope/internal/pipeline"
)

// Analysis is the result of analyzing one still image
type Analysis struct {
	ID        string                   `json:"id"`
	Source    string                   `json:"source"`
	CreatedAt time.Time                `json:"created_at"`
	Duration  time.Duration            `json:"duration"`
	Batch     *pipeline.DetectionBatch `json:"batch"`
	Aggregate pipeline.AggregateResult `json:"aggregate"`
	Overlay   *image.RGBA              `json:"-"` // Image with boxes drawn on it
}

// FolderItem is one file's outcome in a folder analysis
type FolderItem struct {
	Path     string    `json:"path"`
	Analysis *Analysis `json:"analysis,omitempty"`
	Err      error     `json:"-"`
	Error    string    `json:"error,omitempty"`
	Kind     string    `json:"error_kind,omitempty"`
}

// AnalyzerOptions configures an Analyzer
type AnalyzerOptions struct {
	Quality      float64 // JPEG quality for the detection request
	SummaryPanel bool    // Draw the summary panel onto overlays
	Phases       *pipeline.PhaseTracker
	Logger       *zap.SugaredLogger
}

// Analyzer performs single-shot analysis and remembers the last success
type Analyzer struct {
	chain     *Chain
	annotator *annotate.Annotator
	opts      AnalyzerOptions
	logger    *zap.SugaredLogger

	mu   sync.RWMutex
	last *Analysis
}

// NewAnalyzer creates an analyzer
func NewAnalyzer(chain *Chain, annotator *annotate.Annotator, opts AnalyzerOptions) *Analyzer {
	if opts.Quality <= 0 {
		opts.Quality = codec.SingleShotQuality
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Analyzer{
		chain:     chain,
		annotator: annotator,
		opts:      opts,
		logger:    opts.Logger.Named("analyzer"),
	}
}

// Analyze opens src, analyzes one frame and closes it. On failure the
// previous result stays available through Last.
func (a *Analyzer) Analyze(ctx context.Context, src pipeline.FrameSource) (*Analysis, error) {
	if err := a.transition(pipeline.PhasePreview); err != nil {
		return nil, err
	}

	res, err := a.analyze(ctx, src, true)
	if err != nil {
		a.fail(err)
		return nil, err
	}

	a.mu.Lock()
	a.last = res
	a.mu.Unlock()

	if err := a.transition(pipeline.PhaseResults); err != nil {
		return nil, err
	}
	return res, nil
}

// AnalyzeBytes analyzes an in-memory encoded image
func (a *Analyzer) AnalyzeBytes(ctx context.Context, name string, data []byte) (*Analysis, error) {
	return a.Analyze(ctx, camera.NewImageBytes(name, data))
}

// AnalyzeFolder analyzes every image in dir with at most concurrency
// requests in flight. Per-file failures are reported in the items, not as
// the returned error.
func (a *Analyzer) AnalyzeFolder(ctx context.Context, dir string, concurrency int) ([]FolderItem, error) {
	files, err := camera.ListImages(dir)
	if err != nil {
		return nil, err
	}
	if err := a.transition(pipeline.PhaseAnalyzing); err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	items := make([]FolderItem, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			res, err := a.analyze(gctx, camera.NewImageFile(path), false)
			items[i] = FolderItem{Path: path, Analysis: res, Err: err}
			if err != nil {
				items[i].Error = err.Error()
				items[i].Kind = pipeline.Kind(err)
				a.logger.Warnw("file analysis failed", "path", path, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		a.fail(err)
		return items, err
	}
	if err := a.transition(pipeline.PhaseResults); err != nil {
		return items, err
	}
	return items, nil
}

// Last returns the most recent successful analysis, or nil
func (a *Analyzer) Last() *Analysis {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last
}

func (a *Analyzer) analyze(ctx context.Context, src pipeline.FrameSource, track bool) (*Analysis, error) {
	start := time.Now()

	if err := src.Open(ctx); err != nil {
		return nil, err
	}
	defer src.Close()

	frame, err := src.Capture(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "capture")
	}

	if track {
		if err := a.transition(pipeline.PhaseAnalyzing); err != nil {
			return nil, err
		}
	}

	mediaType := pipeline.MediaTypeJPEG
	if mt, ok := src.(pipeline.MediaTyper); ok {
		mediaType = mt.MediaType()
	}

	out, err := a.chain.Process(ctx, frame, mediaType, a.opts.Quality)
	if err != nil {
		return nil, err
	}

	surface := annotate.NewSurface(frame.Width, frame.Height)
	a.annotator.Compose(surface, frame.Image, out.Batch, frame.Width, frame.Height)
	if a.opts.SummaryPanel {
		annotate.DrawSummary(surface, out.Aggregate, -1)
	}

	res := &Analysis{
		ID:        uuid.NewString(),
		Source:    src.ID(),
		CreatedAt: start,
		Duration:  time.Since(start),
		Batch:     out.Batch,
		Aggregate: out.Aggregate,
		Overlay:   surface.Snapshot(),
	}
	a.logger.Infow("analysis complete",
		"id", res.ID,
		"source", res.Source,
		"candies", res.Aggregate.TotalCount,
		"calories", res.Aggregate.TotalCalories,
		"risk", res.Aggregate.RiskLevel,
		"duration", res.Duration,
	)
	return res, nil
}

func (a *Analyzer) transition(to pipeline.Phase) error {
	if a.opts.Phases == nil {
		return nil
	}
	return a.opts.Phases.Transition(to)
}

func (a *Analyzer) fail(err error) {
	if a.opts.Phases != nil {
		a.opts.Phases.Fail(err)
	}
}
