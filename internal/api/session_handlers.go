package api

import (
	"fmt"
	"net/http"
	"strings"

	"taskrails/internal/domain"
	"taskrails/internal/observability"
	"taskrails/internal/setup"
)

func (s *Server) registerSessionRoutes() {
	s.mux.HandleFunc("POST /api/v1/setup/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/v1/setup/sessions/{id}", s.withSession(s.handleGetSession))
	s.mux.HandleFunc("DELETE /api/v1/setup/sessions/{id}", s.handleCloseSession)
	s.mux.HandleFunc("POST /api/v1/setup/sessions/{id}/messages", s.withSession(s.handleSendMessage))
	s.mux.HandleFunc("POST /api/v1/setup/sessions/{id}/reset", s.withSession(s.handleReset))
	s.mux.HandleFunc("PATCH /api/v1/setup/sessions/{id}/config", s.withSession(s.handlePatchConfig))
	s.mux.HandleFunc("PUT /api/v1/setup/sessions/{id}/model", s.handleSetModel)
	s.mux.HandleFunc("PUT /api/v1/setup/sessions/{id}/workspace", s.withSession(s.handleSetWorkspace))
	s.mux.HandleFunc("GET /api/v1/setup/sessions/{id}/completeness", s.withSession(s.handleCompleteness))
	s.mux.HandleFunc("POST /api/v1/setup/sessions/{id}/agents", s.withSession(s.handleAddAgent))
	s.mux.HandleFunc("PUT /api/v1/setup/sessions/{id}/agents/{agentID}", s.withSession(s.handleUpdateAgent))
	s.mux.HandleFunc("DELETE /api/v1/setup/sessions/{id}/agents/{agentID}", s.withSession(s.handleRemoveAgent))
	s.mux.HandleFunc("POST /api/v1/setup/sessions/{id}/deploy", s.handleDeploy)
	s.mux.HandleFunc("POST /api/v1/setup/sessions/{id}/save", s.handleSave)
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *setup.Session)

// withSession resolves the {id} path value to a live session and tags the
// request context with it.
func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		sess, err := s.registry.Get(id)
		if err != nil {
			s.writeSetupErr(r.Context(), w, err)
			return
		}
		r = r.WithContext(observability.WithSessionID(r.Context(), id))
		h(w, r, sess)
	}
}

type createSessionRequest struct {
	WorkspacePath string `json:"workspace_path"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeErr(r.Context(), w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}
	sess, err := s.registry.Create(r.Context())
	if err != nil {
		s.writeSetupErr(r.Context(), w, err)
		return
	}
	if strings.TrimSpace(req.WorkspacePath) != "" {
		sess.SetWorkspace(req.WorkspacePath)
	}
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request, sess *setup.Session) {
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if !s.registry.Close(r.PathValue("id")) {
		s.writeSetupErr(r.Context(), w, setup.ErrSessionNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendMessageResponse struct {
	Turn    setup.Turn             `json:"turn"`
	Session domain.SessionSnapshot `json:"session"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, sess *setup.Session) {
	var req domain.SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeErr(r.Context(), w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	turn, err := sess.Send(r.Context(), req.Message)
	if err != nil {
		s.writeSetupErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, sendMessageResponse{Turn: turn, Session: sess.Snapshot()})
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request, sess *setup.Session) {
	sess.Reset()
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

type configResponse struct {
	Config       domain.ProjectConfiguration `json:"config"`
	Completeness domain.CompletenessReport   `json:"completeness"`
}

func (s *Server) handlePatchConfig(w http.ResponseWriter, r *http.Request, sess *setup.Session) {
	var partial domain.ProjectConfiguration
	if err := decodeJSON(w, r, &partial); err != nil {
		s.writeErr(r.Context(), w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	cfg := sess.Apply(partial)
	writeJSON(w, http.StatusOK, configResponse{Config: cfg, Completeness: setup.Evaluate(cfg)})
}

func (s *Server) handleSetModel(w http.ResponseWriter, r *http.Request) {
	var sel domain.ModelSelection
	if err := decodeJSON(w, r, &sel); err != nil {
		s.writeErr(r.Context(), w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	applied, err := s.registry.SetModel(r.Context(), r.PathValue("id"), sel)
	if err != nil {
		s.writeSetupErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, applied)
}

func (s *Server) handleSetWorkspace(w http.ResponseWriter, r *http.Request, sess *setup.Session) {
	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeErr(r.Context(), w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	sess.SetWorkspace(req.WorkspacePath)
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleCompleteness(w http.ResponseWriter, _ *http.Request, sess *setup.Session) {
	writeJSON(w, http.StatusOK, setup.Evaluate(sess.Config()))
}

func (s *Server) handleAddAgent(w http.ResponseWriter, r *http.Request, sess *setup.Session) {
	var a domain.Agent
	if err := decodeJSON(w, r, &a); err != nil {
		s.writeErr(r.Context(), w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sess.AddAgent(a))
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request, sess *setup.Session) {
	var a domain.Agent
	if err := decodeJSON(w, r, &a); err != nil {
		s.writeErr(r.Context(), w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	updated, err := sess.UpdateAgent(r.PathValue("agentID"), a)
	if err != nil {
		s.writeSetupErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleRemoveAgent(w http.ResponseWriter, r *http.Request, sess *setup.Session) {
	if err := sess.RemoveAgent(r.PathValue("agentID")); err != nil {
		s.writeSetupErr(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeploy answers 200 with the per-sink report even when some sinks
// failed; only a rejected deployment is an error response.
func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	ctx := observability.WithSessionID(r.Context(), r.PathValue("id"))
	report, err := s.registry.Deploy(ctx, r.PathValue("id"))
	if err != nil {
		s.writeSetupErr(ctx, w, err)
		return
	}
	if !report.Succeeded() {
		captureMessage(ctx, fmt.Sprintf("partial deployment of %s: %s", report.ProjectID, report.Summary()))
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	p, err := s.registry.Save(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeSetupErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}
