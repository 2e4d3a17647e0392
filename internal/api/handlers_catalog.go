package api

import (
	"net/http"

	"github.com/grant-reconciler/internal/types"
)

// handleListCatalog handles GET /api/projects - active catalog rows with reconciled chain ids
func (s *Server) handleListCatalog(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Project catalog is not configured", nil)
		return
	}

	entries, err := s.deps.Catalog.List(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// handleCreateCatalog handles POST /api/projects
func (s *Server) handleCreateCatalog(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Project catalog is not configured", nil)
		return
	}

	var req types.NewCatalogProject
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	entry, err := s.deps.Catalog.Create(r.Context(), &req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"project": entry,
	})
}
