package annotate

import (
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
)

// Overlay scales base to the overlay's size and draws overlay on top of it
func Overlay(base image.Image, overlay *image.RGBA) *image.RGBA {
	ob := overlay.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, ob.Dx(), ob.Dy()))

	if base != nil {
		if bb := base.Bounds(); bb.Dx() != ob.Dx() || bb.Dy() != ob.Dy() {
			base = imaging.Resize(base, ob.Dx(), ob.Dy(), imaging.Linear)
		}
		draw.Draw(out, out.Bounds(), base, base.Bounds().Min, draw.Src)
	}
	draw.Draw(out, out.Bounds(), overlay, ob.Min, draw.Over)
	return out
}
