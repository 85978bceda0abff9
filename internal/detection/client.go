// Package detection talks to the remote candy detection service.
package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"candyscope/internal/pipeline"
)

// DefaultEndpoint is where the reference service listens
const DefaultEndpoint = "http://localhost:8000/api/send"

// countPlaceholder is sent in the request's number_of_candies field
const countPlaceholder = "analyzing"

// maxResponseBytes bounds how much of a response body is read
const maxResponseBytes = 8 << 20

// Config holds configuration for the client
type Config struct {
	Endpoint      string
	Timeout       time.Duration
	MinConfidence float64 // Detections below this are dropped, 0 keeps all
}

// detectRequest is the request body of the service
type detectRequest struct {
	ImageData       string `json:"image_data"`
	ImageType       string `json:"image_type"`
	NumberOfCandies string `json:"number_of_candies"`
}

// Client handles candy detection over HTTP
type Client struct {
	endpoint      string
	client        *http.Client
	minConfidence float64
	logger        *zap.SugaredLogger
}

// NewClient creates a detection client
func NewClient(cfg Config, logger *zap.SugaredLogger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		endpoint:      cfg.Endpoint,
		client:        &http.Client{Timeout: cfg.Timeout},
		minConfidence: cfg.MinConfidence,
		logger:        logger.Named("detection"),
	}
}

// Endpoint returns the service URL
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Detect submits one encoded frame and returns its detections.
// The returned batch carries the encoded frame's dimensions.
func (c *Client) Detect(ctx context.Context, frame *pipeline.EncodedFrame) (*pipeline.DetectionBatch, error) {
	if frame == nil || len(frame.Data) == 0 {
		return nil, errors.Wrap(pipeline.ErrEncode, "empty payload")
	}

	body, err := json.Marshal(detectRequest{
		ImageData:       frame.Base64(),
		ImageType:       frame.MediaType,
		NumberOfCandies: countPlaceholder,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal detect request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrapf(pipeline.ErrTransport, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(pipeline.ErrTransport, "post %s: %v", c.endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrapf(pipeline.ErrTransport, "read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.WithStack(serviceError(resp.StatusCode, respBody))
	}

	payload, err := ParseEnvelope(respBody)
	if err != nil {
		return nil, err
	}
	if payload.Error != "" {
		return nil, errors.WithStack(&pipeline.ServiceError{StatusCode: resp.StatusCode, Message: payload.Error})
	}

	detections, err := payload.ToDetections(c.minConfidence)
	if err != nil {
		return nil, err
	}

	c.logger.Debugw("detect",
		"seq", frame.Seq,
		"bytes", len(frame.Data),
		"detections", len(detections),
		"elapsed", time.Since(start),
	)

	return &pipeline.DetectionBatch{
		Detections:  detections,
		FrameWidth:  frame.Width,
		FrameHeight: frame.Height,
		SourceID:    frame.SourceID,
		Seq:         frame.Seq,
	}, nil
}

// serviceError extracts the error message embedded in a failure envelope
// when the service provided one
func serviceError(status int, body []byte) *pipeline.ServiceError {
	se := &pipeline.ServiceError{StatusCode: status}
	if payload, err := ParseEnvelope(body); err == nil && payload.Error != "" {
		se.Message = payload.Error
	}
	return se
}

var _ pipeline.Detector = (*Client)(nil)
