package api

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	apidocs "taskrails/docs"
	"taskrails/internal/planning/llm"
	"taskrails/internal/storage"
)

func (s *Server) handleOpenAPISpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(apidocs.OpenAPISpec)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.registry.Len(),
	})
}

// ReadinessResponse is the body of GET /readyz.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type readinessCheck struct {
	name string
	run  func(r *http.Request) string
}

// readinessChecks returns the probes that apply to this server. Each probe
// returns "ok" or a short failure reason.
func (s *Server) readinessChecks() []readinessCheck {
	var checks []readinessCheck
	if hc, ok := s.store.(storage.HealthCheck); ok {
		checks = append(checks, readinessCheck{"database", func(r *http.Request) string {
			if err := hc.Ping(r.Context()); err != nil {
				s.logger.ErrorContext(r.Context(), "database ping failed", "error", err.Error())
				return "error"
			}
			return "ok"
		}})
	}
	if s.providers != nil {
		checks = append(checks, readinessCheck{"llm", func(*http.Request) string {
			if len(s.providers.Available()) == 0 {
				return "no provider configured"
			}
			return "ok"
		}})
	}
	return checks
}

// handleReady answers 503 unless every readiness probe reports ok.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := ReadinessResponse{Status: "ok", Checks: map[string]string{}}
	for _, c := range s.readinessChecks() {
		result := c.run(r)
		resp.Checks[c.name] = result
		if result != "ok" {
			resp.Status = "unhealthy"
		}
	}
	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

type providerInfo struct {
	Name         string   `json:"name"`
	Models       []string `json:"models"`
	DefaultModel string   `json:"default_model"`
	Available    bool     `json:"available"`
}

// handleProviders lists the provider catalogue and which entries are configured.
func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	available := map[string]bool{}
	if s.providers != nil {
		for _, name := range s.providers.Available() {
			available[name] = true
		}
	}
	names := llm.Providers()
	out := make([]providerInfo, 0, len(names))
	for _, name := range names {
		out = append(out, providerInfo{
			Name:         name,
			Models:       llm.Models(name),
			DefaultModel: llm.DefaultModel(name),
			Available:    available[name],
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

func (s *Server) handleTestSentry(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("type") {
	case "message":
		sentry.CaptureMessage("Sentry test message from TaskRails")
		sentry.Flush(2 * time.Second)
		writeJSON(w, http.StatusOK, map[string]string{"status": "message sent to Sentry"})
	case "error":
		s.writeErr(r.Context(), w, http.StatusInternalServerError, "test error for Sentry", "this is a test error to verify Sentry integration")
	case "panic":
		panic("test panic for Sentry")
	default:
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Sentry test endpoint",
			"usage":   "?type=message|error|panic",
		})
	}
}
