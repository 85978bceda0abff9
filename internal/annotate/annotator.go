// Package annotate renders detection overlays onto a drawing surface.
package annotate

import (
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"candyscope/internal/pipeline"
)

// Label geometry in display pixels
const (
	DefaultFontSize = 16
	LineWidth       = 3
	TextHeight      = 20
	LabelPadding    = 5
	LabelMargin     = 5
	textBaselineGap = 8
)

// Rect is a float rectangle in display coordinates
type Rect struct {
	X, Y, W, H float64
}

// BoxLayout is the computed placement of one detection's box and label
type BoxLayout struct {
	Index     int // Position in the batch, drives the palette color
	Color     color.RGBA
	Box       Rect
	Label     string
	LabelBox  Rect
	TextX     float64
	TextY     float64 // Baseline
	TextWidth float64
}

// Annotator draws detection boxes and labels. A single annotator can be
// shared across goroutines.
type Annotator struct {
	mu   sync.Mutex // Guards face, truetype faces cache glyphs
	face font.Face
}

// NewAnnotator creates an annotator using the embedded Go Regular font
func NewAnnotator() (*Annotator, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, err
	}
	return NewAnnotatorWithFace(truetype.NewFace(f, &truetype.Options{Size: DefaultFontSize})), nil
}

// NewAnnotatorWithFace creates an annotator drawing labels with face
func NewAnnotatorWithFace(face font.Face) *Annotator {
	return &Annotator{face: face}
}

// Layout computes box and label placement for batch on a display of
// displayW x displayH. Detections without a bbox get no layout but still
// consume a palette index.
func (a *Annotator) Layout(batch *pipeline.DetectionBatch, displayW, displayH int) []BoxLayout {
	if batch.Len() == 0 {
		return nil
	}
	sx, sy := scaleFactors(batch, displayW, displayH)

	a.mu.Lock()
	defer a.mu.Unlock()

	layouts := make([]BoxLayout, 0, len(batch.Detections))
	for i, d := range batch.Detections {
		if d.BBox == nil {
			continue
		}
		b := d.BBox.Scale(sx, sy)
		label := d.Label()
		textW := a.measure(label)

		layouts = append(layouts, BoxLayout{
			Index: i,
			Color: PaletteColor(i),
			Box:   Rect{X: b.XMin, Y: b.YMin, W: b.Width(), H: b.Height()},
			Label: label,
			LabelBox: Rect{
				X: b.XMin,
				Y: math.Max(b.YMin-TextHeight-LabelMargin, 0),
				W: textW + 2*LabelPadding,
				H: TextHeight + LabelMargin,
			},
			TextX:     b.XMin + LabelPadding,
			TextY:     math.Max(b.YMin-textBaselineGap, TextHeight-3),
			TextWidth: textW,
		})
	}
	return layouts
}

// Annotate clears the surface, resizes it to the display and draws the
// overlay for batch. The whole pass is atomic with respect to other passes.
func (a *Annotator) Annotate(s *Surface, batch *pipeline.DetectionBatch, displayW, displayH int) {
	layouts := a.Layout(batch, displayW, displayH)
	s.Draw(displayW, displayH, func(dc *gg.Context) {
		clearRGBA(s.img)
		a.render(dc, layouts)
	})
}

// Compose draws base scaled to the display and then the overlay for batch
// on top of it
func (a *Annotator) Compose(s *Surface, base image.Image, batch *pipeline.DetectionBatch, displayW, displayH int) {
	layouts := a.Layout(batch, displayW, displayH)
	s.Draw(displayW, displayH, func(dc *gg.Context) {
		clearRGBA(s.img)
		if base != nil {
			b := base.Bounds()
			dc.Push()
			dc.Scale(float64(displayW)/float64(b.Dx()), float64(displayH)/float64(b.Dy()))
			dc.DrawImage(base, -b.Min.X, -b.Min.Y)
			dc.Pop()
		}
		a.render(dc, layouts)
	})
}

func (a *Annotator) render(dc *gg.Context, layouts []BoxLayout) {
	a.mu.Lock()
	defer a.mu.Unlock()

	dc.SetFontFace(a.face)
	for _, l := range layouts {
		dc.SetColor(l.Color)
		dc.SetLineWidth(LineWidth)
		dc.DrawRectangle(l.Box.X, l.Box.Y, l.Box.W, l.Box.H)
		dc.Stroke()

		dc.DrawRectangle(l.LabelBox.X, l.LabelBox.Y, l.LabelBox.W, l.LabelBox.H)
		dc.Fill()

		dc.SetColor(color.Black)
		dc.DrawString(l.Label, l.TextX, l.TextY)
	}
}

func (a *Annotator) measure(s string) float64 {
	return float64(font.MeasureString(a.face, s)) / 64
}

func scaleFactors(batch *pipeline.DetectionBatch, displayW, displayH int) (float64, float64) {
	sx, sy := 1.0, 1.0
	if batch.FrameWidth > 0 {
		sx = float64(displayW) / float64(batch.FrameWidth)
	}
	if batch.FrameHeight > 0 {
		sy = float64(displayH) / float64(batch.FrameHeight)
	}
	return sx, sy
}
