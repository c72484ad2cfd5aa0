package api

import (
	"encoding/json"
	"net/http"

	"github.com/pair-tracker/internal/errors"
	"github.com/pair-tracker/internal/logging"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Message string `json:"message"`
}

// statusFor maps an error category to one of the statuses the API exposes
func statusFor(err error) int {
	switch {
	case errors.IsValidation(err):
		return http.StatusBadRequest
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.Categorize(err).Category == errors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// respondError sends the client-safe message of err. Server-side failures
// are logged with their cause.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).Error("Request failed")
	}
	respondJSON(w, status, ErrorResponse{Message: errors.ClientMessage(err)})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}
