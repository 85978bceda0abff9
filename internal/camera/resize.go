package camera

import (
	"context"

	"github.com/disintegration/imaging"

	"candyscope/internal/pipeline"
)

// resizedSource scales every captured frame to a fixed resolution so that
// detection coordinates refer to the resized space
type resizedSource struct {
	pipeline.FrameSource
	width, height int
}

// Resized wraps src so that captured frames are width x height
func Resized(src pipeline.FrameSource, width, height int) pipeline.FrameSource {
	return &resizedSource{FrameSource: src, width: width, height: height}
}

func (r *resizedSource) Capture(ctx context.Context) (*pipeline.RasterFrame, error) {
	frame, err := r.FrameSource.Capture(ctx)
	if err != nil {
		return nil, err
	}
	if frame.Width == r.width && frame.Height == r.height {
		return frame, nil
	}
	scaled := imaging.Resize(frame.Image, r.width, r.height, imaging.Linear)
	out := pipeline.NewRasterFrame(scaled, frame.SourceID, frame.Seq)
	out.Timestamp = frame.Timestamp
	return out, nil
}

// MediaType forwards to the wrapped source when it knows its encoding
func (r *resizedSource) MediaType() string {
	if mt, ok := r.FrameSource.(pipeline.MediaTyper); ok {
		return mt.MediaType()
	}
	return pipeline.MediaTypeJPEG
}
