package live

import (
	"sync"
	"time"
)

// Meter measures an event rate over fixed windows. The reported rate is the
// rate of the last completed window.
type Meter struct {
	mu          sync.Mutex
	window      time.Duration
	windowStart time.Time
	count       int
	rate        float64
}

// NewMeter creates a meter with the given window length
func NewMeter(window time.Duration) *Meter {
	if window <= 0 {
		window = time.Second
	}
	return &Meter{window: window}
}

// Mark records one event at now
func (m *Meter) Mark(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.windowStart.IsZero() {
		m.windowStart = now
		return
	}
	m.count++
	if elapsed := now.Sub(m.windowStart); elapsed >= m.window {
		m.rate = float64(m.count) / elapsed.Seconds()
		m.count = 0
		m.windowStart = now
	}
}

// Rate returns events per second over the last completed window
func (m *Meter) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate
}

// Reset zeroes the meter
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windowStart = time.Time{}
	m.count = 0
	m.rate = 0
}
