// Package codec encodes raster frames into JPEG or PNG payloads for the
// detection service.
package codec

import (
	"bytes"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/pkg/errors"

	"candyscope/internal/pipeline"
)

// Default quality factors
const (
	LiveQuality       = 0.8
	SingleShotQuality = 0.92
)

// Encoder implements pipeline.FrameEncoder using the standard image codecs
type Encoder struct {
	png png.Encoder
}

// NewEncoder creates an encoder
func NewEncoder() *Encoder {
	return &Encoder{png: png.Encoder{CompressionLevel: png.BestSpeed}}
}

// Encode compresses frame at quality in [0,1]. Quality only affects JPEG.
func (e *Encoder) Encode(frame *pipeline.RasterFrame, mediaType string, quality float64) (*pipeline.EncodedFrame, error) {
	if frame == nil || frame.Image == nil || frame.Area() == 0 {
		return nil, errors.Wrap(pipeline.ErrEncode, "frame has zero area")
	}

	var buf bytes.Buffer
	switch mediaType {
	case pipeline.MediaTypeJPEG, "image/jpg":
		mediaType = pipeline.MediaTypeJPEG
		if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: JPEGQuality(quality)}); err != nil {
			return nil, errors.Wrapf(pipeline.ErrEncode, "jpeg: %v", err)
		}
	case pipeline.MediaTypePNG:
		if err := e.png.Encode(&buf, frame.Image); err != nil {
			return nil, errors.Wrapf(pipeline.ErrEncode, "png: %v", err)
		}
	default:
		return nil, errors.Wrapf(pipeline.ErrEncode, "unsupported media type %q", mediaType)
	}

	return &pipeline.EncodedFrame{
		Data:      buf.Bytes(),
		MediaType: mediaType,
		Quality:   quality,
		Width:     frame.Width,
		Height:    frame.Height,
		SourceID:  frame.SourceID,
		Seq:       frame.Seq,
	}, nil
}

// JPEGQuality maps a [0,1] quality factor onto the 1..100 JPEG scale
func JPEGQuality(q float64) int {
	v := int(math.Round(q * 100))
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}

var _ pipeline.FrameEncoder = (*Encoder)(nil)
