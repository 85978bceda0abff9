package services

import (
	"bytes"
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"candyscope/internal/live"
	"candyscope/internal/pipeline"
	"candyscope/internal/stream"
	"candyscope/internal/ws"
)

// SourceOpener builds an unopened frame source from a source string
type SourceOpener func(source string) (pipeline.FrameSource, error)

// StartPayload selects the live source
type StartPayload struct {
	Source string `json:"source"`
}

// StartResult identifies the started session
type StartResult struct {
	SessionID string `json:"session_id"`
	Source    string `json:"source"`
}

// LiveImplementation starts and stops the live loop and keeps the phase
// tracker and push channels in step with it
type LiveImplementation struct {
	loop   *live.Loop
	phases *pipeline.PhaseTracker
	open   SourceOpener
	hub    *ws.Hub            // optional
	mjpeg  *stream.Broadcaster // optional
	logger *zap.SugaredLogger

	mu sync.Mutex
}

// NewLiveService creates a new live service implementation. hub and mjpeg may be nil.
func NewLiveService(loop *live.Loop, phases *pipeline.PhaseTracker, open SourceOpener, hub *ws.Hub, mjpeg *stream.Broadcaster, logger *zap.SugaredLogger) *LiveImplementation {
	return &LiveImplementation{
		loop:   loop,
		phases: phases,
		open:   open,
		hub:    hub,
		mjpeg:  mjpeg,
		logger: logger.Named("live-service"),
	}
}

// Start opens the source and starts a live session
func (s *LiveImplementation) Start(ctx context.Context, p *StartPayload) (*StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p == nil || p.Source == "" {
		return nil, errors.Wrap(ErrBadRequest, "source is required")
	}
	if s.loop.Running() {
		return nil, errors.Wrap(pipeline.ErrAlreadyRunning, "start")
	}
	if s.phases.Current() == pipeline.PhaseAnalyzing {
		return nil, errors.Wrap(pipeline.ErrPhaseConflict, "analysis in progress")
	}

	src, err := s.open(p.Source)
	if err != nil {
		s.phases.Fail(err)
		return nil, err
	}
	sessionID, err := s.loop.Start(ctx, src)
	if err != nil {
		s.phases.Fail(err)
		return nil, err
	}
	if err := s.phases.Transition(pipeline.PhaseLive); err != nil {
		_ = s.loop.Stop()
		return nil, err
	}

	s.announce(true, sessionID)
	return &StartResult{SessionID: sessionID, Source: src.ID()}, nil
}

// Stop ends the live session, if any, and returns the final status
func (s *LiveImplementation) Stop(ctx context.Context) (*live.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	final := s.loop.Status()
	wasRunning := final.Running
	err := s.loop.Stop()

	if s.mjpeg != nil {
		s.mjpeg.Reset()
	}
	if wasRunning {
		if s.phases.Current() == pipeline.PhaseLive {
			_ = s.phases.Transition(pipeline.PhaseIdle)
		}
		s.announce(false, final.SessionID)
	}
	final.Running = false
	final.Last = nil
	return &final, err
}

// Status returns the loop status
func (s *LiveImplementation) Status(ctx context.Context) (*live.Status, error) {
	st := s.loop.Status()
	return &st, nil
}

// Overlay returns the current annotation surface as PNG
func (s *LiveImplementation) Overlay(ctx context.Context) ([]byte, error) {
	surface := s.loop.Surface()
	if w, h := surface.Size(); w == 0 || h == 0 {
		return nil, errors.Wrap(ErrNotFound, "no overlay rendered yet")
	}
	var buf bytes.Buffer
	if err := surface.WritePNG(&buf); err != nil {
		return nil, errors.Wrap(pipeline.ErrEncode, err.Error())
	}
	return buf.Bytes(), nil
}

func (s *LiveImplementation) announce(running bool, sessionID string) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastJSON(ws.TopicLive, ws.NewStatusMessage(running, sessionID))
}
