package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"image/png"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"candyscope/internal/analysis"
	"candyscope/internal/pipeline"
	"candyscope/internal/ws"
)

// AnalyzePayload is an uploaded still image
type AnalyzePayload struct {
	Name string
	Data []byte
}

// AnalyzeResult is the wire form of a single-shot analysis
type AnalyzeResult struct {
	ID          string                   `json:"id"`
	Source      string                   `json:"source"`
	CreatedAt   time.Time                `json:"created_at"`
	DurationMs  float64                  `json:"duration_ms"`
	FrameWidth  int                      `json:"frame_width"`
	FrameHeight int                      `json:"frame_height"`
	Objects     []ws.ObjectDetection     `json:"objects"`
	Summary     pipeline.AggregateResult `json:"summary"`
	OverlayPNG  string                   `json:"overlay_png,omitempty"` // base64
}

// AnalysisImplementation implements single-shot analysis
type AnalysisImplementation struct {
	analyzer *analysis.Analyzer
	logger   *zap.SugaredLogger
}

// NewAnalysisService creates a new analysis service implementation
func NewAnalysisService(analyzer *analysis.Analyzer, logger *zap.SugaredLogger) *AnalysisImplementation {
	return &AnalysisImplementation{analyzer: analyzer, logger: logger.Named("analysis")}
}

// Analyze runs the uploaded image through the chain
func (s *AnalysisImplementation) Analyze(ctx context.Context, p *AnalyzePayload) (*AnalyzeResult, error) {
	if p == nil || len(p.Data) == 0 {
		return nil, errors.Wrap(ErrBadRequest, "empty image")
	}
	name := p.Name
	if name == "" {
		name = "upload"
	}

	res, err := s.analyzer.AnalyzeBytes(ctx, name, p.Data)
	if err != nil {
		s.logger.Warnw("analysis failed", "source", name, "kind", pipeline.Kind(err), "error", err)
		return nil, err
	}
	return newAnalyzeResult(res, true)
}

// Last returns the most recent successful analysis
func (s *AnalysisImplementation) Last(ctx context.Context) (*AnalyzeResult, error) {
	res := s.analyzer.Last()
	if res == nil {
		return nil, errors.Wrap(ErrNotFound, "no analysis yet")
	}
	return newAnalyzeResult(res, false)
}

func newAnalyzeResult(a *analysis.Analysis, withOverlay bool) (*AnalyzeResult, error) {
	out := &AnalyzeResult{
		ID:         a.ID,
		Source:     a.Source,
		CreatedAt:  a.CreatedAt,
		DurationMs: float64(a.Duration) / float64(time.Millisecond),
		Objects:    ws.Objects(a.Batch),
		Summary:    a.Aggregate,
	}
	if a.Batch != nil {
		out.FrameWidth = a.Batch.FrameWidth
		out.FrameHeight = a.Batch.FrameHeight
	}
	if withOverlay && a.Overlay != nil {
		var buf bytes.Buffer
		if err := png.Encode(&buf, a.Overlay); err != nil {
			return nil, errors.Wrap(pipeline.ErrEncode, err.Error())
		}
		out.OverlayPNG = base64.StdEncoding.EncodeToString(buf.Bytes())
	}
	return out, nil
}
