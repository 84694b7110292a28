package api

import (
	"net/http"
)

func (s *Server) registerProjectRoutes() {
	s.mux.HandleFunc("GET /api/v1/setup/projects", s.handleListProjects)
	s.mux.HandleFunc("GET /api/v1/setup/projects/{id}", s.handleGetProject)
	s.mux.HandleFunc("DELETE /api/v1/setup/projects/{id}", s.handleDeleteProject)
	s.mux.HandleFunc("POST /api/v1/setup/projects/{id}/load", s.handleLoadProject)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	list, err := s.registry.ListProjects(r.Context())
	if err != nil {
		s.writeStoreErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": list})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.registry.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.DeleteProject(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreErr(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLoadProject restores a saved project into a new session.
func (s *Server) handleLoadProject(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeSetupErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}
