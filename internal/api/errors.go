package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/vault-snapshots/internal/errors"
	"github.com/vault-snapshots/internal/logging"
	"github.com/vault-snapshots/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	respondJSON(w, statusCode, ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// respondServiceError maps err to its status and public error shape. Causes are logged, never returned.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := apperrors.Categorize(err)
	logger := logging.FromContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"code":   catErr.Code,
		"status": catErr.StatusCode,
	})
	switch {
	case apperrors.IsConfigurationError(catErr):
		logger.Error("Request failed on missing configuration")
	case apperrors.IsSystemError(catErr):
		logger.Error("Request failed")
	case apperrors.IsUserError(catErr):
		logger.Warn("Request rejected")
	default:
		logger.Info("Request not served")
	}

	svcErr := catErr.ToServiceError()
	respondError(w, catErr.StatusCode, svcErr.Code, svcErr.Message, svcErr.Details)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}
