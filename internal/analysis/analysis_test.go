package analysis

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"candyscope/internal/annotate"
	"candyscope/internal/codec"
	"candyscope/internal/nutrition"
	"candyscope/internal/pipeline"
)

// fakeDetector returns fixed detections scaled to whatever frame it gets
type fakeDetector struct {
	mu         sync.Mutex
	detections []pipeline.Detection
	err        error
	requests   []*pipeline.EncodedFrame
}

func (f *fakeDetector) Detect(ctx context.Context, frame *pipeline.EncodedFrame) (*pipeline.DetectionBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, frame)
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.DetectionBatch{
		Detections:  f.detections,
		FrameWidth:  frame.Width,
		FrameHeight: frame.Height,
		SourceID:    frame.SourceID,
		Seq:         frame.Seq,
	}, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.Set(0, 0, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newAnalyzer(t *testing.T, det *fakeDetector, phases *pipeline.PhaseTracker) *Analyzer {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	chain := NewChain(codec.NewEncoder(), det, nutrition.NewStore(nil, logger), logger)
	ann, err := annotate.NewAnnotator()
	require.NoError(t, err)
	return NewAnalyzer(chain, ann, AnalyzerOptions{SummaryPanel: true, Phases: phases, Logger: logger})
}

func TestAnalyzeBytes(t *testing.T) {
	det := &fakeDetector{detections: []pipeline.Detection{
		{Category: "Bar_One", Confidence: 0.9, BBox: &pipeline.BBox{XMin: 10, YMin: 10, XMax: 40, YMax: 40}},
		{Category: "Bar_One", Confidence: 0.8, BBox: &pipeline.BBox{XMin: 50, YMin: 50, XMax: 90, YMax: 90}},
		{Category: "Gems", Confidence: 0.7},
	}}
	phases := pipeline.NewPhaseTracker()
	a := newAnalyzer(t, det, phases)

	res, err := a.AnalyzeBytes(context.Background(), "upload.png", pngBytes(t, 100, 100))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Aggregate.TotalCount)
	assert.Equal(t, 452, res.Aggregate.TotalCalories)
	assert.Equal(t, pipeline.RiskExcessive, res.Aggregate.RiskLevel)
	assert.Equal(t, image.Rect(0, 0, 100, 100), res.Overlay.Bounds())
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, pipeline.PhaseResults, phases.Current())
	assert.Same(t, res, a.Last())

	require.Len(t, det.requests, 1)
	assert.Equal(t, pipeline.MediaTypePNG, det.requests[0].MediaType)
	assert.Equal(t, codec.SingleShotQuality, det.requests[0].Quality)
}

func TestAnalyzeFailureKeepsPreviousResult(t *testing.T) {
	det := &fakeDetector{}
	phases := pipeline.NewPhaseTracker()
	a := newAnalyzer(t, det, phases)

	first, err := a.AnalyzeBytes(context.Background(), "a.png", pngBytes(t, 20, 20))
	require.NoError(t, err)

	det.err = errors.Wrap(pipeline.ErrTransport, "down")
	_, err = a.AnalyzeBytes(context.Background(), "b.png", pngBytes(t, 20, 20))
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipeline.ErrTransport))

	snap := phases.Snapshot()
	assert.Equal(t, pipeline.PhaseError, snap.Phase)
	assert.Equal(t, "TransportError", snap.ErrorKind)
	assert.Same(t, first, a.Last())
}

func TestAnalyzeUndecodableImage(t *testing.T) {
	a := newAnalyzer(t, &fakeDetector{}, nil)
	_, err := a.AnalyzeBytes(context.Background(), "junk", []byte("junk"))
	assert.True(t, errors.Is(err, pipeline.ErrSourceUnavailable))
	assert.Nil(t, a.Last())
}

func TestAnalyzeFolder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), pngBytes(t, 10, 10), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.png"), pngBytes(t, 12, 12), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.jpg"), []byte("broken"), 0o644))

	det := &fakeDetector{detections: []pipeline.Detection{{Category: "Gems", Confidence: 0.9}}}
	phases := pipeline.NewPhaseTracker()
	a := newAnalyzer(t, det, phases)

	items, err := a.AnalyzeFolder(context.Background(), dir, 2)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.NoError(t, items[0].Err)
	assert.Equal(t, 50, items[0].Analysis.Aggregate.TotalCalories)
	assert.NoError(t, items[1].Err)
	assert.True(t, errors.Is(items[2].Err, pipeline.ErrSourceUnavailable))
	assert.Equal(t, pipeline.PhaseResults, phases.Current())
}

func TestChainProcessEncodeError(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	chain := NewChain(codec.NewEncoder(), &fakeDetector{}, nutrition.NewStore(nil, logger), logger)

	empty := pipeline.NewRasterFrame(image.NewRGBA(image.Rect(0, 0, 0, 0)), "x", 1)
	_, err := chain.Process(context.Background(), empty, pipeline.MediaTypeJPEG, codec.LiveQuality)
	assert.True(t, errors.Is(err, pipeline.ErrEncode))
}
