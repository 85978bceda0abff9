package live

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"candyscope/internal/pipeline"
)

func TestMeterWindowedRate(t *testing.T) {
	m := NewMeter(time.Second)
	start := time.Unix(1000, 0)

	for i := 0; i <= 60; i++ {
		m.Mark(start.Add(time.Duration(i) * time.Second / 60))
	}
	assert.InDelta(t, 60, m.Rate(), 0.01)

	// The rate holds until the next window completes
	m.Mark(start.Add(1100 * time.Millisecond))
	assert.InDelta(t, 60, m.Rate(), 0.01)

	m.Reset()
	assert.Equal(t, 0.0, m.Rate())
}

func TestStatsSnapshot(t *testing.T) {
	s := NewStats()
	for i := 1; i <= 250; i++ {
		s.tick()
		s.succeed(time.Duration(i) * time.Millisecond)
	}
	s.fail(errors.Wrap(pipeline.ErrTransport, "down"))
	s.skip()
	s.discard()

	snap := s.Snapshot()
	assert.Equal(t, int64(250), snap.Ticks)
	assert.Equal(t, int64(250), snap.Succeeded)
	assert.Equal(t, int64(1), snap.Failed)
	assert.Equal(t, int64(1), snap.Skipped)
	assert.Equal(t, int64(1), snap.Discarded)
	assert.Equal(t, "TransportError", snap.LastErrorKind)

	// Only the last 200 latencies (51..250 ms) are kept
	assert.InDelta(t, 150.5, snap.LatencyMeanMs, 1e-9)
	assert.Equal(t, 250.0, snap.LatencyMaxMs)

	s.Reset()
	assert.Equal(t, StatsSnapshot{}, s.Snapshot())
}
