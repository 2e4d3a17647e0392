package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/grant-reconciler/internal/errors"
	"github.com/grant-reconciler/internal/service"
)

// handleSubmitAction handles POST /api/actions. The response carries the
// action snapshot once the transaction is broadcast; confirmation is polled
// through GET /api/actions/{key}.
func (s *Server) handleSubmitAction(w http.ResponseWriter, r *http.Request) {
	session := s.sessionFor(w, r)

	var req service.ActionRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	intent, err := s.deps.Intents.Build(r.Context(), &req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	snap, err := s.deps.Actions.Submit(r.Context(), session, intent)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, snap)
}

// handleGetAction handles GET /api/actions/{key}
func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	session := s.sessionFor(w, r)
	key := mux.Vars(r)["key"]

	snap, ok := s.deps.Actions.Action(session, key)
	if !ok {
		respondServiceError(w, r, errors.NewNotFoundError("action", key))
		return
	}
	respondJSON(w, http.StatusOK, snap)
}
