package api

import (
	stderrors "errors"
	"net/http"

	"github.com/grant-reconciler/internal/adapter"
	"github.com/grant-reconciler/internal/types"
)

// handleGitHubMetrics handles POST /api/github - repository metrics for a GitHub URL
func (s *Server) handleGitHubMetrics(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GithubURL string `json:"githubUrl"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if _, _, err := adapter.ParseRepository(req.GithubURL); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid GitHub URL", map[string]interface{}{"githubUrl": req.GithubURL})
		return
	}
	if s.deps.Metrics == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Repository metrics are not configured", nil)
		return
	}

	metrics, err := s.deps.Metrics.FetchMetrics(r.Context(), req.GithubURL)
	if err != nil {
		if stderrors.Is(err, adapter.ErrInvalidRepositoryURL) {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid GitHub URL", nil)
			return
		}
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, metrics)
}

// scoreRequest carries caller-supplied metrics. When none are given the
// metrics are fetched for GithubURL.
type scoreRequest struct {
	ProjectID    *int64 `json:"projectId,omitempty"`
	GithubURL    string `json:"githubUrl"`
	Description  string `json:"description"`
	Commits      *int   `json:"commits,omitempty"`
	PullRequests *int   `json:"pullRequests,omitempty"`
	Issues       *int   `json:"issues,omitempty"`
	Stars        *int   `json:"stars,omitempty"`
	Forks        *int   `json:"forks,omitempty"`
	Contributors *int   `json:"contributors,omitempty"`
}

func (req *scoreRequest) metrics() (types.RepoMetrics, bool) {
	var m types.RepoMetrics
	given := false
	for _, f := range []struct {
		src *int
		dst *int
	}{
		{req.Commits, &m.Commits},
		{req.PullRequests, &m.PullRequests},
		{req.Issues, &m.Issues},
		{req.Stars, &m.Stars},
		{req.Forks, &m.Forks},
		{req.Contributors, &m.Contributors},
	} {
		if f.src != nil {
			*f.dst = *f.src
			given = true
		}
	}
	return m, given
}

// handleScore handles POST /api/score. Scoring failures degrade to the
// deterministic result, so this always answers 200 for a well-formed body.
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scoring == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Scoring is not configured", nil)
		return
	}

	var req scoreRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	chainID := int64(-1)
	if req.ProjectID != nil {
		chainID = *req.ProjectID
	}

	var result *types.ScoreResult
	if m, ok := req.metrics(); ok {
		result = s.deps.Scoring.ScoreMetrics(r.Context(), chainID, req.GithubURL, req.Description, m, false)
	} else {
		result = s.deps.Scoring.Score(r.Context(), chainID, req.GithubURL, req.Description)
	}
	respondJSON(w, http.StatusOK, result)
}
