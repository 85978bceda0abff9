package camera

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"candyscope/internal/pipeline"
)

// StaticSource serves a single still image. Every Capture returns the same
// pixels under a new sequence number.
type StaticSource struct {
	id        string
	path      string
	data      []byte
	mediaType string

	mu    sync.Mutex
	frame *pipeline.RasterFrame
	seq   uint64
}

// NewImageFile creates a source reading path on Open
func NewImageFile(path string) *StaticSource {
	return &StaticSource{id: path, path: path}
}

// NewImageBytes creates a source over an in-memory encoded image
func NewImageBytes(name string, data []byte) *StaticSource {
	return &StaticSource{id: name, data: data}
}

// ID implements pipeline.FrameSource
func (s *StaticSource) ID() string { return s.id }

// Open decodes the image, applying EXIF orientation
func (s *StaticSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame != nil {
		return nil
	}

	data := s.data
	if data == nil {
		var err error
		if data, err = os.ReadFile(s.path); err != nil {
			return errors.Wrapf(pipeline.ErrSourceUnavailable, "read %s: %v", s.path, err)
		}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return errors.Wrapf(pipeline.ErrSourceUnavailable, "decode %s: %v", s.id, err)
	}

	s.mediaType = http.DetectContentType(data)
	s.frame = pipeline.NewRasterFrame(img, s.id, 0)
	return nil
}

// Capture returns the decoded image
func (s *StaticSource) Capture(ctx context.Context) (*pipeline.RasterFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return nil, errors.Wrapf(pipeline.ErrSourceUnavailable, "%s is not open", s.id)
	}
	s.seq++
	frame := *s.frame
	frame.Seq = s.seq
	return &frame, nil
}

// MediaType returns the encoding to resend the image in: PNG stays PNG,
// everything else goes out as JPEG
func (s *StaticSource) MediaType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mediaType == pipeline.MediaTypePNG {
		return pipeline.MediaTypePNG
	}
	return pipeline.MediaTypeJPEG
}

// Close releases the decoded frame
func (s *StaticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = nil
	return nil
}

var (
	_ pipeline.FrameSource = (*StaticSource)(nil)
	_ pipeline.MediaTyper  = (*StaticSource)(nil)
)
