// Package api exposes setup sessions, saved projects and the deployment
// sinks over a JSON HTTP API.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/getsentry/sentry-go"

	"taskrails/internal/events"
	"taskrails/internal/observability"
	"taskrails/internal/setup"
	"taskrails/internal/storage"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

type apiError struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Options carries the server's collaborators. Registry is required; the
// read-only sink views are registered only for the stores that are set.
type Options struct {
	Registry  *setup.Registry
	Store     storage.Store
	Documents storage.DocumentStore
	Hub       *events.Hub
	Providers ProviderLister
	Logger    observability.Logger
	Metrics   *observability.Metrics
	RateLimit RateLimitConfig
}

// ProviderLister reports which completion providers are configured.
// *llm.Router satisfies it.
type ProviderLister interface {
	Available() []string
}

type Server struct {
	mux       *http.ServeMux
	registry  *setup.Registry
	store     storage.Store
	documents storage.DocumentStore
	hub       *events.Hub
	providers ProviderLister
	logger    observability.Logger
	metrics   *observability.Metrics
	rateLimit RateLimitConfig
}

// NewServer creates the API server. If Logger is nil, log output is discarded.
// If Metrics is nil, metrics collection is disabled.
func NewServer(opts Options) *Server {
	return &Server{
		mux:       http.NewServeMux(),
		registry:  opts.Registry,
		store:     opts.Store,
		documents: opts.Documents,
		hub:       opts.Hub,
		providers: opts.Providers,
		logger:    observability.OrDiscard(opts.Logger).WithComponent("api"),
		metrics:   opts.Metrics,
		rateLimit: opts.RateLimit,
	}
}

// Handler registers every route and wraps the mux in the middleware chain.
func (s *Server) Handler() http.Handler {
	s.RegisterRoutes()
	return ApplyMiddlewares(s.mux,
		RequestIDMiddleware(),
		TracingMiddleware(),
		LoggingMiddleware(s.logger),
		RecoverMiddleware(s.logger),
		observability.MetricsMiddleware(s.metrics),
		observability.RateLimitMetricsMiddleware(s.metrics, s.rateLimit.Enabled()),
		RateLimitMiddleware(s.rateLimit, s.logger),
	)
}

// RegisterRoutes registers all routes on the server's mux.
func (s *Server) RegisterRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /readyz", s.handleReady)
	s.mux.HandleFunc("GET /openapi.yaml", s.handleOpenAPISpec)
	s.mux.HandleFunc("/api/v1/test-sentry", s.handleTestSentry)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if s.hub != nil {
		s.mux.Handle("GET /api/v1/events", events.NewHandler(s.hub, s.logger))
	}
	s.mux.HandleFunc("GET /api/v1/setup/providers", s.handleProviders)

	s.registerSessionRoutes()
	s.registerProjectRoutes()
	s.registerSinkRoutes()
}

func (s *Server) writeErr(ctx context.Context, w http.ResponseWriter, code int, msg string, detail string) {
	fields := []any{
		"status", code,
		"error", msg,
	}
	if detail != "" {
		fields = append(fields, "detail", detail)
	}
	if code >= 500 {
		s.logger.ErrorContext(ctx, "request failed", fields...)
		captureMessage(ctx, fmt.Sprintf("HTTP %d: %s (detail: %s)", code, msg, detail))
	} else {
		s.logger.WarnContext(ctx, "request failed", fields...)
	}
	writeJSON(w, code, apiError{Error: msg, Detail: detail})
}

func captureMessage(ctx context.Context, msg string) {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureMessage(msg)
		return
	}
	sentry.CaptureMessage(msg)
}

// writeStoreErr maps a storage-layer error to the appropriate HTTP status code
// and writes the error response. Unknown errors become 500 Internal Server Error.
func (s *Server) writeStoreErr(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.writeErr(ctx, w, http.StatusNotFound, err.Error(), "")
	case errors.Is(err, storage.ErrConflict):
		s.writeErr(ctx, w, http.StatusConflict, err.Error(), "")
	case errors.Is(err, storage.ErrValidation):
		s.writeErr(ctx, w, http.StatusBadRequest, err.Error(), "")
	default:
		s.writeErr(ctx, w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

// writeSetupErr maps session and deployment errors, falling back to
// writeStoreErr for storage errors.
func (s *Server) writeSetupErr(ctx context.Context, w http.ResponseWriter, err error) {
	var incomplete *setup.IncompleteError
	switch {
	case errors.As(err, &incomplete):
		s.writeErr(ctx, w, http.StatusPreconditionFailed, setup.ErrIncomplete.Error(), incomplete.Error())
	case errors.Is(err, setup.ErrSessionNotFound), errors.Is(err, setup.ErrAgentNotFound):
		s.writeErr(ctx, w, http.StatusNotFound, err.Error(), "")
	case errors.Is(err, setup.ErrTurnInFlight), errors.Is(err, setup.ErrDeployInFlight), errors.Is(err, setup.ErrStaleReply):
		s.writeErr(ctx, w, http.StatusConflict, err.Error(), "")
	case errors.Is(err, setup.ErrEmptyMessage), errors.Is(err, setup.ErrInvalidModel):
		s.writeErr(ctx, w, http.StatusBadRequest, err.Error(), "")
	default:
		s.writeStoreErr(ctx, w, err)
	}
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) { s.status = code; s.ResponseWriter.WriteHeader(code) }

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// Hijack lets the websocket upgrader take over the connection.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
