package camera

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"candyscope/internal/pipeline"
)

// SnapshotSource fetches a fresh JPEG from an HTTP endpoint on every Capture
type SnapshotSource struct {
	url    string
	client *http.Client
	logger *zap.SugaredLogger
	seq    atomic.Uint64
	open   atomic.Bool
}

// NewSnapshotSource creates an unopened snapshot source
func NewSnapshotSource(url string, opts Options) *SnapshotSource {
	opts = opts.withDefaults()
	return &SnapshotSource{
		url:    url,
		client: &http.Client{Timeout: opts.SnapshotTimeout},
		logger: opts.Logger.Named("snapshot").With("url", url),
	}
}

// ID implements pipeline.FrameSource
func (s *SnapshotSource) ID() string { return s.url }

// Open probes the endpoint once
func (s *SnapshotSource) Open(ctx context.Context) error {
	if _, err := s.fetch(ctx); err != nil {
		return err
	}
	s.open.Store(true)
	return nil
}

// Capture fetches and decodes the current snapshot
func (s *SnapshotSource) Capture(ctx context.Context) (*pipeline.RasterFrame, error) {
	if !s.open.Load() {
		return nil, errors.Wrapf(pipeline.ErrSourceUnavailable, "%s is not open", s.url)
	}
	return s.fetch(ctx)
}

func (s *SnapshotSource) fetch(ctx context.Context) (*pipeline.RasterFrame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, errors.Wrapf(pipeline.ErrSourceUnavailable, "build request: %v", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(pipeline.ErrSourceUnavailable, "fetch %s: %v", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, errors.Wrapf(pipeline.ErrSourceUnavailable, "fetch %s: status %d", s.url, resp.StatusCode)
	}

	img, err := imaging.Decode(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(pipeline.ErrSourceUnavailable, "decode snapshot: %v", err)
	}
	return pipeline.NewRasterFrame(img, s.url, s.seq.Add(1)), nil
}

// Close marks the source closed
func (s *SnapshotSource) Close() error {
	s.open.Store(false)
	return nil
}

var _ pipeline.FrameSource = (*SnapshotSource)(nil)
