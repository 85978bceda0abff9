package annotate

import (
	"fmt"
	"image/color"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"candyscope/internal/pipeline"
)

const (
	panelX          = 10
	panelY          = 10
	panelLineHeight = 18
	panelPadding    = 8
)

var panelBackground = color.RGBA{0, 0, 0, 170}

// PanelLine is one text row of the summary panel
type PanelLine struct {
	Text  string
	Color color.RGBA
}

// SummaryLines builds the panel rows for an aggregate result. A negative
// fps hides the rate row.
func SummaryLines(res pipeline.AggregateResult, fps float64) []PanelLine {
	white := color.RGBA{255, 255, 255, 255}
	lines := []PanelLine{
		{Text: fmt.Sprintf("Candies: %d", res.TotalCount), Color: white},
		{Text: fmt.Sprintf("Calories: %d kcal", res.TotalCalories), Color: white},
		{Text: fmt.Sprintf("Sugar: %d g", res.TotalSugar), Color: white},
	}
	for _, item := range res.Items {
		lines = append(lines, PanelLine{
			Text:  fmt.Sprintf("  %s x%d: %d kcal", item.DisplayName, item.Count, item.Calories),
			Color: white,
		})
	}

	riskColor, err := ParseHex(res.RiskColor)
	if err != nil {
		riskColor = white
	}
	lines = append(lines, PanelLine{Text: fmt.Sprintf("Risk: %s", res.RiskLevel), Color: riskColor})

	if fps >= 0 {
		lines = append(lines, PanelLine{Text: fmt.Sprintf("FPS: %.1f", fps), Color: white})
	}
	return lines
}

// DrawSummary draws the summary panel in the top-left corner of the
// surface, on top of whatever is already there
func DrawSummary(s *Surface, res pipeline.AggregateResult, fps float64) {
	lines := SummaryLines(res, fps)
	w, h := s.Size()
	s.Draw(w, h, func(dc *gg.Context) {
		dc.SetFontFace(basicfont.Face7x13)

		maxW := 0.0
		for _, l := range lines {
			if tw, _ := dc.MeasureString(l.Text); tw > maxW {
				maxW = tw
			}
		}
		dc.SetColor(panelBackground)
		dc.DrawRectangle(panelX, panelY, maxW+2*panelPadding, float64(len(lines))*panelLineHeight+panelPadding)
		dc.Fill()

		for i, l := range lines {
			dc.SetColor(l.Color)
			dc.DrawString(l.Text, panelX+panelPadding, panelY+float64(i+1)*panelLineHeight)
		}
	})
}
