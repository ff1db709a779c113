package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/qen-labs/execserv/internal/execerr"
)

// apiError is the standard error response body, adapted from the
// teacher's server.APIError.
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError classifies err per the taxonomy in spec §7 and
// writes the matching HTTP status.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case execerr.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case execerr.IsValidation(err):
		writeJSONError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
	case execerr.IsInvalidTransition(err):
		writeJSONError(w, http.StatusBadRequest, "invalid_transition", err.Error())
	case execerr.IsConflict(err):
		writeJSONError(w, http.StatusBadRequest, "conflict", err.Error())
	case execerr.IsResourceAllocation(err):
		writeJSONError(w, http.StatusBadRequest, "resource_allocation_error", err.Error())
	case errors.Is(err, execerr.ErrExecutionTimeout):
		writeJSONError(w, http.StatusOK, "execution_timeout", err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
	}
}
