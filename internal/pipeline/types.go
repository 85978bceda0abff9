package pipeline

import (
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"math"
	"time"
)

// Media types understood by the encoder and the detection service
const (
	MediaTypeJPEG = "image/jpeg"
	MediaTypePNG  = "image/png"
)

// RasterFrame represents one decoded frame. It is owned by the stage that
// produced it until handed to the next stage.
type RasterFrame struct {
	Image     *image.RGBA // Pixels, bounds always start at (0,0)
	Width     int
	Height    int
	SourceID  string    // Coordinate space identity (which source produced it)
	Seq       uint64    // Capture sequence within the source
	Timestamp time.Time // Capture time
}

// NewRasterFrame copies img into an origin-anchored RGBA frame
func NewRasterFrame(img image.Image, sourceID string, seq uint64) *RasterFrame {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return &RasterFrame{
		Image:     rgba,
		Width:     b.Dx(),
		Height:    b.Dy(),
		SourceID:  sourceID,
		Seq:       seq,
		Timestamp: time.Now(),
	}
}

// Area returns width*height
func (f *RasterFrame) Area() int {
	if f == nil {
		return 0
	}
	return f.Width * f.Height
}

// EncodedFrame is an immutable transmittable payload built from a RasterFrame
type EncodedFrame struct {
	Data      []byte
	MediaType string
	Quality   float64 // Quality factor in [0,1] used by the encoder
	Width     int     // Size of the frame the payload was encoded from
	Height    int
	SourceID  string
	Seq       uint64
}

// Base64 returns the payload as standard base64 without a data-URL prefix
func (e *EncodedFrame) Base64() string {
	return base64.StdEncoding.EncodeToString(e.Data)
}

// BBox is an axis-aligned box in source-frame pixel coordinates
type BBox struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// Width of the box
func (b BBox) Width() float64 { return b.XMax - b.XMin }

// Height of the box
func (b BBox) Height() float64 { return b.YMax - b.YMin }

// Scale maps the box into a space scaled by sx, sy
func (b BBox) Scale(sx, sy float64) BBox {
	return BBox{
		XMin: b.XMin * sx,
		YMin: b.YMin * sy,
		XMax: b.XMax * sx,
		YMax: b.YMax * sy,
	}
}

// Detection is one object instance reported by the detection service
type Detection struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"` // [0-1]
	BBox       *BBox   `json:"bbox,omitempty"` // nil: counted but not drawn
}

// Label renders "{category}: {confidence%}"
func (d Detection) Label() string {
	return fmt.Sprintf("%s: %d%%", d.Category, int(math.Round(d.Confidence*100)))
}

// DetectionBatch is the ordered detection list for one frame plus the frame
// dimensions its coordinates refer to
type DetectionBatch struct {
	Detections  []Detection `json:"detections"`
	FrameWidth  int         `json:"frame_width"`
	FrameHeight int         `json:"frame_height"`
	SourceID    string      `json:"source_id"`
	Seq         uint64      `json:"seq"`
}

// Len returns the number of detections, nil-safe
func (b *DetectionBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Detections)
}

// RiskLevel is a severity bucket derived from total calories
type RiskLevel string

const (
	RiskSafe      RiskLevel = "Safe"
	RiskModerate  RiskLevel = "Moderate"
	RiskHigh      RiskLevel = "High"
	RiskExcessive RiskLevel = "Excessive"
	RiskExtreme   RiskLevel = "Extreme"
)

// CategoryTotal is the per-category breakdown line for a nutrition-known category
type CategoryTotal struct {
	Category    string `json:"category"`     // Normalized key
	DisplayName string `json:"display_name"` // Key with separators turned back into spaces
	Count       int    `json:"count"`
	Calories    int    `json:"calories"`
	Sugar       int    `json:"sugar_g"`
}

// AggregateResult is recomputed from scratch for every batch
type AggregateResult struct {
	CountsByCategory map[string]int  `json:"counts_by_category"`
	TotalCount       int             `json:"total_count"`
	TotalCalories    int             `json:"total_calories"`
	TotalSugar       int             `json:"total_sugar_g"`
	RiskLevel        RiskLevel       `json:"risk_level"`
	RiskColor        string          `json:"risk_color"` // Hex display color
	Items            []CategoryTotal `json:"items"`
}

// TickResult is what one live tick publishes after rendering
type TickResult struct {
	SessionID string           `json:"session_id"`
	Seq       uint64           `json:"seq"`
	Timestamp time.Time        `json:"timestamp"`
	Batch     *DetectionBatch  `json:"batch"`
	Aggregate *AggregateResult `json:"aggregate"`
	Latency   time.Duration    `json:"latency"`
}
