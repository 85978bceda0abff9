package annotate

import (
	"image/color"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Box colors, picked by detection index modulo the palette length
var (
	paletteHex = []string{
		"#A47857", "#4494E4", "#5D61D1", "#B2B685", "#589F6A",
		"#60CAE7", "#9F7CA8", "#A9A2F1", "#627696", "#ACB0B8",
	}
	boxPalette = mustPalette(paletteHex...)
)

// PaletteColor returns the box color for the i-th detection
func PaletteColor(i int) color.RGBA {
	return boxPalette[i%len(boxPalette)]
}

// PaletteHex returns the box color for the i-th detection as "#RRGGBB"
func PaletteHex(i int) string {
	return paletteHex[i%len(paletteHex)]
}

// ParseHex converts "#RRGGBB" into an opaque RGBA color
func ParseHex(hex string) (color.RGBA, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return color.RGBA{}, err
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}

func mustPalette(hexes ...string) []color.RGBA {
	out := make([]color.RGBA, len(hexes))
	for i, h := range hexes {
		c, err := ParseHex(h)
		if err != nil {
			panic(err)
		}
		out[i] = c
	}
	return out
}
