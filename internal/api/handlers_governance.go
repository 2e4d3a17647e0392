package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/grant-reconciler/internal/service"
)

// handleCompanies handles GET /api/companies
func (s *Server) handleCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := s.deps.Governance.Companies(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, companies)
}

// handleCompanyQueue handles GET /api/companies/{address}/projects - the
// projects a company is assigned to vote on
func (s *Server) handleCompanyQueue(w http.ResponseWriter, r *http.Request) {
	session := s.sessionFor(w, r)

	opts, err := service.ParseListOptions(r.URL.Query().Get("sort"), r.URL.Query().Get("order"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	entries, viewErrs, err := s.deps.Governance.CompanyQueue(r.Context(), mux.Vars(r)["address"], session, opts)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"projects": entries,
		"errors":   viewErrs,
	})
}

// handleOwnerProjects handles GET /api/owners/{address}/projects
func (s *Server) handleOwnerProjects(w http.ResponseWriter, r *http.Request) {
	session := s.sessionFor(w, r)

	opts, err := service.ParseListOptions(r.URL.Query().Get("sort"), r.URL.Query().Get("order"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	list, err := s.deps.Governance.OwnerProjects(r.Context(), mux.Vars(r)["address"], session, opts)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func blockParam(r *http.Request, name string) (*uint64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, false
	}
	return &v, true
}

// handleFundingHistory handles GET /api/grants?fromBlock=&toBlock=
func (s *Server) handleFundingHistory(w http.ResponseWriter, r *http.Request) {
	from, okFrom := blockParam(r, "fromBlock")
	to, okTo := blockParam(r, "toBlock")
	if !okFrom || !okTo {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "fromBlock and toBlock must be block numbers", nil)
		return
	}

	events, err := s.deps.Governance.FundingHistory(r.Context(), from, to)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}

// handleTreasury handles GET /api/treasury
func (s *Server) handleTreasury(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Governance.Treasury(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
