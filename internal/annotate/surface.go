package annotate

import (
	"image"
	"image/draw"
	"image/png"
	"io"
	"sync"

	"github.com/fogleman/gg"
)

// Surface is a transparent RGBA drawing target sized to the display
// resolution. Every drawing pass holds the surface lock for its whole
// duration so that passes never interleave.
type Surface struct {
	mu  sync.Mutex
	img *image.RGBA
}

// NewSurface creates a cleared surface
func NewSurface(width, height int) *Surface {
	return &Surface{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

// Size returns the current surface dimensions
func (s *Surface) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.img.Bounds()
	return b.Dx(), b.Dy()
}

// Clear erases the whole surface to transparent
func (s *Surface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clearRGBA(s.img)
}

// Snapshot returns a copy of the current pixels
func (s *Surface) Snapshot() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := image.NewRGBA(s.img.Bounds())
	copy(out.Pix, s.img.Pix)
	return out
}

// WritePNG encodes the current pixels as PNG
func (s *Surface) WritePNG(w io.Writer) error {
	return png.Encode(w, s.Snapshot())
}

// Draw resizes the surface to width x height if needed and runs fn with a
// context over it while holding the surface lock
func (s *Surface) Draw(width, height int, fn func(dc *gg.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.img.Bounds(); b.Dx() != width || b.Dy() != height {
		s.img = image.NewRGBA(image.Rect(0, 0, width, height))
	}
	fn(gg.NewContextForRGBA(s.img))
}

func clearRGBA(img *image.RGBA) {
	draw.Draw(img, img.Bounds(), image.Transparent, image.Point{}, draw.Src)
}
