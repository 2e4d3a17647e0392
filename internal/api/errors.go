package api

import (
	"encoding/json"
	"net/http"

	"github.com/grant-reconciler/internal/errors"
	"github.com/grant-reconciler/internal/logging"
	"github.com/grant-reconciler/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Success bool               `json:"success"`
	Error   types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}

// respondServiceError categorizes err and sends it. Server-side failures are
// logged with the request logger and their message is not exposed.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	cat := errors.Categorize(err)
	if cat.StatusCode >= http.StatusInternalServerError && cat.StatusCode != http.StatusBadGateway && cat.StatusCode != http.StatusServiceUnavailable {
		logging.FromContext(r.Context()).WithError(err).Error("request failed")
		respondError(w, cat.StatusCode, cat.Code, "An internal error occurred", nil)
		return
	}
	respondError(w, cat.StatusCode, cat.Code, cat.Message, cat.Details)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// Common error codes
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)
