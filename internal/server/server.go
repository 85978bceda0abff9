// Package server maps the services onto HTTP routes of a goa muxer.
package server

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	goahttp "goa.design/goa/v3/http"
	"goa.design/goa/v3/middleware"

	"candyscope/internal/pipeline"
	"candyscope/internal/services"
)

// maxUpload bounds analyze request bodies
const maxUpload = 32 << 20

// MountPoint holds information about the mounted endpoints
type MountPoint struct {
	Method  string // Service method name
	Verb    string
	Pattern string
}

// Services groups the implementations served over HTTP
type Services struct {
	Health   *services.HealthImplementation
	Analysis *services.AnalysisImplementation
	Live     *services.LiveImplementation
	System   *services.SystemImplementation
	Config   *services.ConfigImplementation

	Stream   http.Handler // MJPEG stream
	Snapshot http.Handler // Latest MJPEG frame
	Push     http.Handler // WebSocket upgrades
}

// ErrorHandler writes a transport level error
type ErrorHandler func(ctx context.Context, w http.ResponseWriter, err error)

// Server lists the endpoints exposed over HTTP
type Server struct {
	Mounts []*MountPoint

	svcs Services
	dec  func(*http.Request) goahttp.Decoder
	enc  func(context.Context, http.ResponseWriter) goahttp.Encoder
	eh   ErrorHandler
}

// ErrorBody is the JSON body of every error response
type ErrorBody struct {
	Name    string `json:"name"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

// New instantiates the HTTP server for the given services
func New(svcs Services, dec func(*http.Request) goahttp.Decoder, enc func(context.Context, http.ResponseWriter) goahttp.Encoder, eh ErrorHandler) *Server {
	if eh == nil {
		eh = func(context.Context, http.ResponseWriter, error) {}
	}
	s := &Server{svcs: svcs, dec: dec, enc: enc, eh: eh}
	s.Mounts = []*MountPoint{
		{"Healthz", "GET", "/health"},
		{"Readyz", "GET", "/ready"},
		{"Analyze", "POST", "/api/analyze"},
		{"LastAnalysis", "GET", "/api/analyze/last"},
		{"LiveStart", "POST", "/api/live/start"},
		{"LiveStop", "POST", "/api/live/stop"},
		{"LiveStatus", "GET", "/api/live/status"},
		{"LiveOverlay", "GET", "/api/live/overlay"},
		{"State", "GET", "/api/state"},
		{"Reset", "POST", "/api/state/reset"},
		{"System", "GET", "/api/system"},
		{"Config", "GET", "/api/config"},
		{"Nutrition", "GET", "/api/nutrition"},
		{"ReloadNutrition", "POST", "/api/nutrition/reload"},
	}
	if svcs.Stream != nil {
		s.Mounts = append(s.Mounts, &MountPoint{"LiveStream", "GET", "/api/live/stream"})
	}
	if svcs.Snapshot != nil {
		s.Mounts = append(s.Mounts, &MountPoint{"LiveSnapshot", "GET", "/api/live/snapshot"})
	}
	if svcs.Push != nil {
		s.Mounts = append(s.Mounts, &MountPoint{"Push", "GET", "/ws/{topic}"})
	}
	return s
}

// Mount configures the mux to serve the endpoints
func Mount(mux goahttp.Muxer, s *Server) {
	h := s.svcs
	mux.Handle("GET", "/health", s.handle(func(ctx context.Context, r *http.Request) (any, error) {
		if err := h.Health.Healthz(ctx); err != nil {
			return nil, err
		}
		return map[string]string{"status": "ok"}, nil
	}))
	mux.Handle("GET", "/ready", s.handle(func(ctx context.Context, r *http.Request) (any, error) {
		return h.Health.Readyz(ctx)
	}))

	mux.Handle("POST", "/api/analyze", s.handle(func(ctx context.Context, r *http.Request) (any, error) {
		p, err := decodeAnalyzePayload(r)
		if err != nil {
			return nil, err
		}
		return h.Analysis.Analyze(ctx, p)
	}))
	mux.Handle("GET", "/api/analyze/last", s.handle(func(ctx context.Context, r *http.Request) (any, error) {
		return h.Analysis.Last(ctx)
	}))

	mux.Handle("POST", "/api/live/start", s.handle(func(ctx context.Context, r *http.Request) (any, error) {
		var p services.StartPayload
		if err := s.dec(r).Decode(&p); err != nil {
			if err == io.EOF {
				return nil, errors.Wrap(services.ErrBadRequest, "missing body")
			}
			return nil, errors.Wrap(services.ErrBadRequest, err.Error())
		}
		return h.Live.Start(ctx, &p)
	}))
	mux.Handle("POST", "/api/live/stop", s.handle(func(ctx context.Context, r *http.Request) (any, error) {
		return h.Live.Stop(ctx)
	}))
	mux.Handle("GET", "/api/live/status", s.handle(func(ctx context.Context, r *http.Request) (any, error) {
		return h.Live.Status(ctx)
	}))
	mux.Handle("GET", "/api/live/overlay", func(w http.ResponseWriter, r *http.Request) {
		data, err := h.Live.Overlay(r.Context())
		if err != nil {
			s.writeError(r.Context(), w, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(data)
	})

	mux.Handle("GET", "/api/state", s.handle(func(ctx context.Context, r *http.Request) (any, error) {
		return h.System.State(ctx)
	}))
	mux.Handle("POST", "/api/state/reset", s.handle(func(ctx context.Context, r *http.Request) (any, error) {
		return h.System.Reset(ctx)
	}))
	mux.Handle("GET", "/api/system", s.handle(func(ctx context.Context, r *http.Request) (any, error) {
		return h.System.Status(ctx)
	}))

	mux.Handle("GET", "/api/config", s.handle(func(ctx context.Context, r *http.Request) (any, error) {
		return h.Config.Get(ctx)
	}))
	mux.Handle("GET", "/api/nutrition", s.handle(func(ctx context.Context, r *http.Request) (any, error) {
		return h.Config.Nutrition(ctx)
	}))
	mux.Handle("POST", "/api/nutrition/reload", s.handle(func(ctx context.Context, r *http.Request) (any, error) {
		return h.Config.ReloadNutrition(ctx)
	}))

	if h.Stream != nil {
		mux.Handle("GET", "/api/live/stream", h.Stream.ServeHTTP)
	}
	if h.Snapshot != nil {
		mux.Handle("GET", "/api/live/snapshot", h.Snapshot.ServeHTTP)
	}
	if h.Push != nil {
		mux.Handle("GET", "/ws/{topic}", h.Push.ServeHTTP)
	}
}

type endpoint func(ctx context.Context, r *http.Request) (any, error)

// handle wraps a JSON endpoint with response encoding and error mapping
func (s *Server) handle(ep endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		res, err := ep(ctx, r)
		if err != nil {
			s.writeError(ctx, w, err)
			return
		}
		enc := s.enc(ctx, w)
		w.WriteHeader(http.StatusOK)
		if err := enc.Encode(res); err != nil {
			s.eh(ctx, w, err)
		}
	}
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	body := &ErrorBody{Name: ErrorName(err), Message: err.Error()}
	if id, ok := ctx.Value(middleware.RequestIDKey).(string); ok {
		body.ID = id
	}
	enc := s.enc(ctx, w)
	w.WriteHeader(StatusCode(err))
	if encErr := enc.Encode(body); encErr != nil {
		s.eh(ctx, w, encErr)
	}
}

// ErrorName names err for API clients
func ErrorName(err error) string {
	switch {
	case errors.Is(err, services.ErrBadRequest):
		return "BadRequest"
	case errors.Is(err, services.ErrNotFound):
		return "NotFound"
	default:
		return pipeline.Kind(err)
	}
}

// StatusCode maps an error kind to an HTTP status
func StatusCode(err error) int {
	switch {
	case errors.Is(err, services.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrSourceUnavailable), errors.Is(err, pipeline.ErrEncode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrTransport), errors.Is(err, pipeline.ErrMalformedPayload):
		return http.StatusBadGateway
	case errors.Is(err, pipeline.ErrAlreadyRunning), errors.Is(err, pipeline.ErrNotRunning), errors.Is(err, pipeline.ErrPhaseConflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decodeAnalyzePayload accepts a multipart "file" field or a raw image body
func decodeAnalyzePayload(r *http.Request) (*services.AnalyzePayload, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			return nil, errors.Wrap(services.ErrBadRequest, err.Error())
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			return nil, errors.Wrap(services.ErrBadRequest, "multipart field \"file\" is required")
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, maxUpload))
		if err != nil {
			return nil, errors.Wrap(services.ErrBadRequest, err.Error())
		}
		return &services.AnalyzePayload{Name: hdr.Filename, Data: data}, nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUpload))
	if err != nil {
		return nil, errors.Wrap(services.ErrBadRequest, err.Error())
	}
	return &services.AnalyzePayload{Name: r.URL.Query().Get("name"), Data: data}, nil
}
