package pipeline

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Phase is the user-visible state of the application
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePreview   Phase = "preview"
	PhaseAnalyzing Phase = "analyzing"
	PhaseResults   Phase = "results"
	PhaseLive      Phase = "live"
	PhaseError     Phase = "error"
)

// Error and Idle are reachable from every phase and are not listed here
var phaseTransitions = map[Phase][]Phase{
	PhaseIdle:      {PhasePreview, PhaseAnalyzing, PhaseLive},
	PhasePreview:   {PhasePreview, PhaseAnalyzing, PhaseLive},
	PhaseAnalyzing: {PhasePreview, PhaseResults},
	PhaseResults:   {PhasePreview, PhaseAnalyzing, PhaseLive},
	PhaseError:     {PhasePreview, PhaseAnalyzing, PhaseLive},
	PhaseLive:      {},
}

// PhaseSnapshot is a point-in-time copy of the tracker state
type PhaseSnapshot struct {
	Phase     Phase     `json:"phase"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Since     time.Time `json:"since"`
}

// PhaseTracker enforces the allowed phase transitions
type PhaseTracker struct {
	mu      sync.RWMutex
	current Phase
	lastErr error
	since   time.Time
}

// NewPhaseTracker starts in PhaseIdle
func NewPhaseTracker() *PhaseTracker {
	return &PhaseTracker{current: PhaseIdle, since: time.Now()}
}

// Transition moves to phase to, or returns an error if not allowed from the current phase
func (t *PhaseTracker) Transition(to Phase) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !canTransition(t.current, to) {
		return errors.Wrapf(ErrPhaseConflict, "%s -> %s", t.current, to)
	}
	t.current = to
	t.since = time.Now()
	if to != PhaseError {
		t.lastErr = nil
	}
	return nil
}

// Fail moves to PhaseError and records err
func (t *PhaseTracker) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = PhaseError
	t.lastErr = err
	t.since = time.Now()
}

// Current returns the current phase
func (t *PhaseTracker) Current() Phase {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Snapshot returns the current phase and last error
func (t *PhaseTracker) Snapshot() PhaseSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := PhaseSnapshot{Phase: t.current, Since: t.since}
	if t.lastErr != nil {
		snap.Error = t.lastErr.Error()
		snap.ErrorKind = Kind(t.lastErr)
	}
	return snap
}

func canTransition(from, to Phase) bool {
	if to == PhaseIdle || to == PhaseError {
		return true
	}
	for _, p := range phaseTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}
