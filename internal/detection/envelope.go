package detection

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"candyscope/internal/pipeline"
)

// contentBlock is one element of the service's response envelope
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Envelope is the outer response body of the detection service
type Envelope struct {
	Content []contentBlock `json:"content"`
}

// wireDetection is one detection as serialized by the service
type wireDetection struct {
	Candy      string          `json:"candy"`
	Confidence float64         `json:"confidence"`
	BBox       json.RawMessage `json:"bbox,omitempty"`
}

// Payload is the JSON document embedded in the first text block
type Payload struct {
	Detections []wireDetection `json:"detections"`
	Error      string          `json:"error,omitempty"`
}

var fenceStripper = strings.NewReplacer("```json", "", "```", "")

// ExtractText returns the text of the first "text" block. A missing block
// or an empty text yields "{}"; later text blocks are never consulted.
func (e *Envelope) ExtractText() string {
	for _, block := range e.Content {
		if block.Type != "text" {
			continue
		}
		if block.Text == "" {
			return "{}"
		}
		return block.Text
	}
	return "{}"
}

// StripFences removes markdown code fences and surrounding whitespace
func StripFences(text string) string {
	return strings.TrimSpace(fenceStripper.Replace(text))
}

// ParseEnvelope decodes a full response body into its embedded payload
func ParseEnvelope(body []byte) (*Payload, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Wrapf(pipeline.ErrMalformedPayload, "envelope: %v", err)
	}
	return ParsePayload(env.ExtractText())
}

// ParsePayload decodes the embedded JSON after stripping fences.
// Blank text decodes to an empty payload.
func ParsePayload(text string) (*Payload, error) {
	cleaned := StripFences(text)
	if cleaned == "" {
		return &Payload{}, nil
	}

	var p Payload
	if err := json.Unmarshal([]byte(cleaned), &p); err != nil {
		return nil, errors.Wrapf(pipeline.ErrMalformedPayload, "payload: %v", err)
	}
	return &p, nil
}

// ToDetections converts the payload into pipeline detections, dropping those
// below minConfidence
func (p *Payload) ToDetections(minConfidence float64) ([]pipeline.Detection, error) {
	out := make([]pipeline.Detection, 0, len(p.Detections))
	for i, wd := range p.Detections {
		if wd.Candy == "" {
			return nil, errors.Wrapf(pipeline.ErrMalformedPayload, "detection %d has no category", i)
		}
		if wd.Confidence < 0 || wd.Confidence > 1 {
			return nil, errors.Wrapf(pipeline.ErrMalformedPayload, "detection %d confidence %v out of range", i, wd.Confidence)
		}

		bbox, err := parseBBox(wd.BBox)
		if err != nil {
			return nil, errors.Wrapf(err, "detection %d", i)
		}

		if wd.Confidence < minConfidence {
			continue
		}
		out = append(out, pipeline.Detection{
			Category:   wd.Candy,
			Confidence: wd.Confidence,
			BBox:       bbox,
		})
	}
	return out, nil
}

func parseBBox(raw json.RawMessage) (*pipeline.BBox, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var coords []float64
	if err := json.Unmarshal(raw, &coords); err != nil {
		return nil, errors.Wrapf(pipeline.ErrMalformedPayload, "bbox: %v", err)
	}
	if len(coords) != 4 {
		return nil, errors.Wrapf(pipeline.ErrMalformedPayload, "bbox has %d values, want 4", len(coords))
	}
	return &pipeline.BBox{XMin: coords[0], YMin: coords[1], XMax: coords[2], YMax: coords[3]}, nil
}
