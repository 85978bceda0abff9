package services

import (
	"context"
	"time"

	"candyscope/internal/live"
	"candyscope/internal/pipeline"
)

// ClientCounter reports connected push clients
type ClientCounter interface {
	ClientCount() int
}

// SystemStatus is the overall application state
type SystemStatus struct {
	Phase         pipeline.PhaseSnapshot `json:"phase"`
	Live          live.Status            `json:"live"`
	PushClients   int                    `json:"push_clients"`
	UptimeSeconds int                    `json:"uptime_seconds"`
}

// SystemImplementation implements the system service
type SystemImplementation struct {
	phases    *pipeline.PhaseTracker
	loop      *live.Loop
	clients   ClientCounter // optional
	startTime time.Time
}

// NewSystemService creates a new system service implementation
func NewSystemService(phases *pipeline.PhaseTracker, loop *live.Loop, clients ClientCounter) *SystemImplementation {
	return &SystemImplementation{
		phases:    phases,
		loop:      loop,
		clients:   clients,
		startTime: time.Now(),
	}
}

// State returns the current UI phase
func (s *SystemImplementation) State(ctx context.Context) (*pipeline.PhaseSnapshot, error) {
	snap := s.phases.Snapshot()
	return &snap, nil
}

// Status returns the overall system status
func (s *SystemImplementation) Status(ctx context.Context) (*SystemStatus, error) {
	st := &SystemStatus{
		Phase:         s.phases.Snapshot(),
		Live:          s.loop.Status(),
		UptimeSeconds: int(time.Since(s.startTime).Seconds()),
	}
	if s.clients != nil {
		st.PushClients = s.clients.ClientCount()
	}
	return st, nil
}

// Reset returns to the idle phase. It fails while a live session runs.
func (s *SystemImplementation) Reset(ctx context.Context) (*pipeline.PhaseSnapshot, error) {
	if s.loop.Running() {
		return nil, pipeline.ErrAlreadyRunning
	}
	if err := s.phases.Transition(pipeline.PhaseIdle); err != nil {
		return nil, err
	}
	return s.State(ctx)
}
