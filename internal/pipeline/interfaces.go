package pipeline

import (
	"context"
)

// FrameSource produces RasterFrames on demand
type FrameSource interface {
	// ID identifies the coordinate space of frames produced by this source
	ID() string

	// Open acquires the underlying device, stream or file.
	// Returns an error wrapping ErrSourceUnavailable when it cannot.
	Open(ctx context.Context) error

	// Capture returns the most recent frame at call time. It never blocks
	// waiting for a future frame once the source is open.
	Capture(ctx context.Context) (*RasterFrame, error)

	// Close releases the source, safe to call more than once
	Close() error
}

// MediaTyper is implemented by sources that know their native encoding
type MediaTyper interface {
	MediaType() string
}

// FrameEncoder turns a RasterFrame into a transmittable payload
type FrameEncoder interface {
	// Encode compresses frame as mediaType at quality in [0,1].
	// Returns an error wrapping ErrEncode for empty frames or unsupported media types.
	Encode(frame *RasterFrame, mediaType string, quality float64) (*EncodedFrame, error)
}

// Detector submits encoded frames to a detection service
type Detector interface {
	// Detect returns the detections for one encoded frame. Coordinates in the
	// returned batch are in the pixel space of the frame that was encoded.
	Detect(ctx context.Context, frame *EncodedFrame) (*DetectionBatch, error)
}

// TickResultHandler is the callback interface for rendered live ticks
type TickResultHandler interface {
	OnTickResult(result *TickResult)
}

// TickResultHandlerFunc adapts a function to TickResultHandler
type TickResultHandlerFunc func(result *TickResult)

// OnTickResult implements TickResultHandler
func (f TickResultHandlerFunc) OnTickResult(result *TickResult) {
	f(result)
}
