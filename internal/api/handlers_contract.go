package api

import (
	"encoding/json"
	"net/http"
)

// handleContractRead handles POST /api/contract/read - any view function by name
func (s *Server) handleContractRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FunctionName string        `json:"functionName"`
		Args         []interface{} `json:"args"`
	}
	// numbers stay json.Number so uint256 arguments keep their precision
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&req); err != nil || req.FunctionName == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "functionName is required", nil)
		return
	}

	result, err := s.deps.Contract.Call(r.Context(), req.FunctionName, req.Args)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

// handleContractEvents handles POST /api/contract/events
func (s *Server) handleContractEvents(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventName string  `json:"eventName"`
		FromBlock *uint64 `json:"fromBlock,omitempty"`
		ToBlock   *uint64 `json:"toBlock,omitempty"`
	}
	if err := parseJSONBody(r, &req); err != nil || req.EventName == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "eventName is required", nil)
		return
	}

	logs, err := s.deps.Contract.GetLogs(r.Context(), req.EventName, req.FromBlock, req.ToBlock)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"events":  logs,
	})
}
