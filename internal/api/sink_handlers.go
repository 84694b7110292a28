package api

import (
	"net/http"

	"taskrails/internal/setup"
)

// registerSinkRoutes exposes read views of what deployments wrote, plus
// document removal from the memory bank.
func (s *Server) registerSinkRoutes() {
	if s.store != nil {
		s.mux.HandleFunc("GET /api/v1/spec", s.handleGetSpec)
		s.mux.HandleFunc("GET /api/v1/roster", s.handleListRoster)
		s.mux.HandleFunc("GET /api/v1/tasks", s.handleListTasks)
	}
	if s.documents != nil {
		s.mux.HandleFunc("GET /api/v1/documents", s.handleListDocuments)
		s.mux.HandleFunc("GET /api/v1/documents/{name}", s.handleGetDocument)
		s.mux.HandleFunc("DELETE /api/v1/documents/{name}", s.handleDeleteDocument)
	}
}

func (s *Server) handleGetSpec(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetSpec(r.Context(), setup.SpecID)
	if err != nil {
		s.writeStoreErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListRoster(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListCollections(r.Context())
	if err != nil {
		s.writeStoreErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": list})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks(r.Context())
	if err != nil {
		s.writeStoreErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	names, err := s.documents.ListDocuments(r.Context())
	if err != nil {
		s.writeStoreErr(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": names})
}

// handleGetDocument returns the raw Markdown unless JSON is requested.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.GetDocument(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeStoreErr(r.Context(), w, err)
		return
	}
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, doc)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc.Content))
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.documents.DeleteDocument(r.Context(), r.PathValue("name")); err != nil {
		s.writeStoreErr(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
