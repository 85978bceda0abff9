package services

import (
	"context"
	"net"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"candyscope/internal/pipeline"
)

// ReadyResult describes readiness of the service's dependencies
type ReadyResult struct {
	Ready             bool   `json:"ready"`
	DetectorURL       string `json:"detector_url"`
	DetectorReachable bool   `json:"detector_reachable"`
	Error             string `json:"error,omitempty"`
}

// HealthImplementation implements the health service
type HealthImplementation struct {
	detectorURL string
	dialTimeout time.Duration
}

// NewHealthService creates a new health service implementation
func NewHealthService(detectorURL string) *HealthImplementation {
	return &HealthImplementation{detectorURL: detectorURL, dialTimeout: 2 * time.Second}
}

// Healthz implements the liveness probe
func (h *HealthImplementation) Healthz(ctx context.Context) error {
	return nil
}

// Readyz implements the readiness probe. The detection service only answers
// POST, so reachability is a TCP connect to its host.
func (h *HealthImplementation) Readyz(ctx context.Context) (*ReadyResult, error) {
	res := &ReadyResult{DetectorURL: h.detectorURL}

	u, err := url.Parse(h.detectorURL)
	if err != nil {
		return res, errors.Wrap(err, "parse detector url")
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}

	d := net.Dialer{Timeout: h.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		res.Error = err.Error()
		return res, errors.Wrapf(pipeline.ErrTransport, "dial %s: %v", host, err)
	}
	_ = conn.Close()

	res.Ready = true
	res.DetectorReachable = true
	return res, nil
}
