package ws

import (
	"time"

	"candyscope/internal/annotate"
	"candyscope/internal/pipeline"
)

// TickMessage is broadcast for every rendered live tick
type TickMessage struct {
	Type        string                    `json:"type"` // "tick"
	SessionID   string                    `json:"session_id"`
	Seq         uint64                    `json:"seq"`
	Timestamp   time.Time                 `json:"timestamp"`
	FrameWidth  int                       `json:"frame_width"`
	FrameHeight int                       `json:"frame_height"`
	Objects     []ObjectDetection         `json:"objects"`
	Summary     *pipeline.AggregateResult `json:"summary"`
	LatencyMs   float64                   `json:"latency_ms"`
}

// ObjectDetection represents a single detected candy
type ObjectDetection struct {
	Candy      string    `json:"candy"`
	Confidence float64   `json:"confidence"`     // 0.0-1.0
	BBox       []float64 `json:"bbox,omitempty"` // [xmin, ymin, xmax, ymax] in frame pixels
	Color      string    `json:"color"`          // Box color as drawn on the overlay
}

// StatusMessage announces live session state changes
type StatusMessage struct {
	Type      string    `json:"type"` // "status"
	Running   bool      `json:"running"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTickMessage converts a tick result into its wire form
func NewTickMessage(r *pipeline.TickResult) *TickMessage {
	msg := &TickMessage{
		Type:      "tick",
		SessionID: r.SessionID,
		Seq:       r.Seq,
		Timestamp: r.Timestamp,
		Objects:   Objects(r.Batch),
		Summary:   r.Aggregate,
		LatencyMs: float64(r.Latency) / float64(time.Millisecond),
	}
	if r.Batch != nil {
		msg.FrameWidth = r.Batch.FrameWidth
		msg.FrameHeight = r.Batch.FrameHeight
	}
	return msg
}

// Objects converts a batch into wire detections colored as drawn
func Objects(batch *pipeline.DetectionBatch) []ObjectDetection {
	objs := make([]ObjectDetection, 0, batch.Len())
	if batch == nil {
		return objs
	}
	for i, d := range batch.Detections {
		obj := ObjectDetection{
			Candy:      d.Category,
			Confidence: d.Confidence,
			Color:      annotate.PaletteHex(i),
		}
		if d.BBox != nil {
			obj.BBox = []float64{d.BBox.XMin, d.BBox.YMin, d.BBox.XMax, d.BBox.YMax}
		}
		objs = append(objs, obj)
	}
	return objs
}

// NewStatusMessage creates a status message
func NewStatusMessage(running bool, sessionID string) *StatusMessage {
	return &StatusMessage{
		Type:      "status",
		Running:   running,
		SessionID: sessionID,
		Timestamp: time.Now(),
	}
}
