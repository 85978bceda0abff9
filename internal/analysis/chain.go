// Package analysis runs frames through encode, detect and aggregate, and
// drives single-shot and folder analysis on top of that chain.
package analysis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"candyscope/internal/aggregate"
	"candyscope/internal/nutrition"
	"candyscope/internal/pipeline"
)

// TableProvider returns the nutrition table in effect right now
type TableProvider interface {
	Current() nutrition.Table
}

// Outcome is everything one pass through the chain produced
type Outcome struct {
	Frame        *pipeline.RasterFrame
	Batch        *pipeline.DetectionBatch
	Aggregate    pipeline.AggregateResult
	EncodedBytes int
	Elapsed      time.Duration
}

// Chain wires the stages of one analysis pass
type Chain struct {
	encoder  pipeline.FrameEncoder
	detector pipeline.Detector
	tables   TableProvider
	logger   *zap.SugaredLogger
}

// NewChain creates a chain
func NewChain(encoder pipeline.FrameEncoder, detector pipeline.Detector, tables TableProvider, logger *zap.SugaredLogger) *Chain {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Chain{
		encoder:  encoder,
		detector: detector,
		tables:   tables,
		logger:   logger,
	}
}

// Run captures a frame from src and processes it
func (c *Chain) Run(ctx context.Context, src pipeline.FrameSource, mediaType string, quality float64) (*Outcome, error) {
	frame, err := src.Capture(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "capture")
	}
	return c.Process(ctx, frame, mediaType, quality)
}

// Process encodes frame, submits it for detection and aggregates the result
func (c *Chain) Process(ctx context.Context, frame *pipeline.RasterFrame, mediaType string, quality float64) (*Outcome, error) {
	start := time.Now()

	encoded, err := c.encoder.Encode(frame, mediaType, quality)
	if err != nil {
		return nil, errors.WithMessage(err, "encode")
	}

	batch, err := c.detector.Detect(ctx, encoded)
	if err != nil {
		return nil, errors.WithMessage(err, "detect")
	}

	out := &Outcome{
		Frame:        frame,
		Batch:        batch,
		Aggregate:    aggregate.Aggregate(batch, c.tables.Current()),
		EncodedBytes: len(encoded.Data),
		Elapsed:      time.Since(start),
	}

	c.logger.Debugw("chain pass",
		"source", frame.SourceID,
		"seq", frame.Seq,
		"detections", batch.Len(),
		"calories", out.Aggregate.TotalCalories,
		"elapsed", out.Elapsed,
	)
	return out, nil
}
