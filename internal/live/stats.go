package live

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"go.uber.org/atomic"

	"candyscope/internal/pipeline"
)

// latencyWindow is how many recent tick latencies are kept
const latencyWindow = 200

// StatsSnapshot is a copy of the tick counters and latency summary
type StatsSnapshot struct {
	Ticks         int64   `json:"ticks"`
	Succeeded     int64   `json:"succeeded"`
	Failed        int64   `json:"failed"`
	Skipped       int64   `json:"skipped"`   // Not started, in-flight limit reached
	Discarded     int64   `json:"discarded"` // Completed but not rendered
	LatencyMeanMs float64 `json:"latency_mean_ms"`
	LatencyP95Ms  float64 `json:"latency_p95_ms"`
	LatencyMaxMs  float64 `json:"latency_max_ms"`
	LastError     string  `json:"last_error,omitempty"`
	LastErrorKind string  `json:"last_error_kind,omitempty"`
}

// Stats tracks per-session tick outcomes
type Stats struct {
	ticks     *atomic.Int64
	succeeded *atomic.Int64
	failed    *atomic.Int64
	skipped   *atomic.Int64
	discarded *atomic.Int64

	mu        sync.Mutex
	latencies []float64 // Ring buffer in milliseconds
	next      int
	lastErr   error
}

// NewStats creates empty stats
func NewStats() *Stats {
	return &Stats{
		ticks:     atomic.NewInt64(0),
		succeeded: atomic.NewInt64(0),
		failed:    atomic.NewInt64(0),
		skipped:   atomic.NewInt64(0),
		discarded: atomic.NewInt64(0),
		latencies: make([]float64, 0, latencyWindow),
	}
}

func (s *Stats) tick()    { s.ticks.Inc() }
func (s *Stats) skip()    { s.skipped.Inc() }
func (s *Stats) discard() { s.discarded.Inc() }

func (s *Stats) fail(err error) {
	s.failed.Inc()
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Stats) succeed(latency time.Duration) {
	s.succeeded.Inc()
	ms := float64(latency) / float64(time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) < latencyWindow {
		s.latencies = append(s.latencies, ms)
		return
	}
	s.latencies[s.next] = ms
	s.next = (s.next + 1) % latencyWindow
}

// Reset zeroes all counters
func (s *Stats) Reset() {
	for _, c := range []*atomic.Int64{s.ticks, s.succeeded, s.failed, s.skipped, s.discarded} {
		c.Store(0)
	}
	s.mu.Lock()
	s.latencies = s.latencies[:0]
	s.next = 0
	s.lastErr = nil
	s.mu.Unlock()
}

// Snapshot returns the current counters and latency summary
func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Ticks:     s.ticks.Load(),
		Succeeded: s.succeeded.Load(),
		Failed:    s.failed.Load(),
		Skipped:   s.skipped.Load(),
		Discarded: s.discarded.Load(),
	}

	s.mu.Lock()
	data := stats.Float64Data(append([]float64(nil), s.latencies...))
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
		snap.LastErrorKind = pipeline.Kind(s.lastErr)
	}
	s.mu.Unlock()

	if data.Len() > 0 {
		snap.LatencyMeanMs, _ = stats.Mean(data)
		snap.LatencyP95Ms, _ = stats.Percentile(data, 95)
		snap.LatencyMaxMs, _ = stats.Max(data)
	}
	return snap
}
