package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/grant-reconciler/internal/service"
)

func chainIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["chainId"], 10, 64)
	return id, err == nil && id >= 0
}

// handleListViews handles GET /api/views/projects?sort=id|score|votes&order=asc|desc.
// A failed project is reported in errors and never fails the list.
func (s *Server) handleListViews(w http.ResponseWriter, r *http.Request) {
	session := s.sessionFor(w, r)

	opts, err := service.ParseListOptions(r.URL.Query().Get("sort"), r.URL.Query().Get("order"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	list, err := s.deps.Views.AssembleAll(r.Context(), "projects:"+session.ID, opts, session)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// handleGetView handles GET /api/views/projects/{chainId}
func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	session := s.sessionFor(w, r)

	chainID, ok := chainIDParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid chain id", nil)
		return
	}

	view, err := s.deps.Views.AssembleProjectView(r.Context(), chainID, session)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// handleScoreView handles POST /api/views/projects/{chainId}/score. The result
// is cached in the session and shows up on later views of the project.
func (s *Server) handleScoreView(w http.ResponseWriter, r *http.Request) {
	session := s.sessionFor(w, r)

	chainID, ok := chainIDParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid chain id", nil)
		return
	}
	if s.deps.Scoring == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Scoring is not configured", nil)
		return
	}

	view, err := s.deps.Views.AssembleProjectView(r.Context(), chainID, session)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	result := s.deps.Scoring.Score(r.Context(), chainID, view.Project.GithubURL, view.Project.Description)
	result.ProjectChainID = chainID
	session.SetScore(result)
	respondJSON(w, http.StatusOK, result)
}
