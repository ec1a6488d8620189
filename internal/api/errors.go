package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/token-indexer/internal/errors"
	"github.com/token-indexer/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError maps a categorized error onto an HTTP error response.
func respondError(w http.ResponseWriter, err error) {
	catErr := apperrors.Categorize(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(catErr.StatusCode)

	json.NewEncoder(w).Encode(ErrorResponse{Error: *catErr.ToServiceError()})
}

// respondErrorCode sends an error response with an explicit status and code.
func respondErrorCode(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(ErrorResponse{Error: types.ServiceError{
		Code:    code,
		Message: message,
	}})
}

// parseJSONBody parses a JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
