package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/teemow/accountbroker/internal/authflow"
	"github.com/teemow/accountbroker/internal/credentials"
)

// ErrorResponse is the JSON body of every failed API request.
type ErrorResponse struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

const authenticateHint = "start authorization with POST /api/accounts/authenticate"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, hint string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Hint: hint})
}

// errorStatus maps broker errors to HTTP status codes. Unknown errors map to
// fallback.
func errorStatus(err error, fallback int) int {
	switch {
	case errors.Is(err, credentials.ErrInvalidAccount),
		errors.Is(err, authflow.ErrInvalidState),
		errors.Is(err, authflow.ErrAccountMismatch),
		errors.Is(err, authflow.ErrAuthorizationDenied):
		return http.StatusBadRequest
	case errors.Is(err, credentials.ErrStoreUnavailable):
		// Checked first: a rejection whose purge could not be persisted
		// matches both and is retryable.
		return http.StatusServiceUnavailable
	case errors.Is(err, credentials.ErrNotAuthenticated):
		// Also covers ErrProviderRejected.
		return http.StatusUnauthorized
	case errors.Is(err, credentials.ErrInvalidResponse):
		return http.StatusBadGateway
	}
	return fallback
}

// writeFailure writes err with its mapped status. Messages of server-side
// failures are replaced by a generic text and logged instead.
func (s *HTTPServer) writeFailure(w http.ResponseWriter, r *http.Request, err error, fallback int) {
	status := errorStatus(err, fallback)

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"request_id", RequestID(r.Context()),
			"error", err.Error(),
		)
		msg = http.StatusText(status)
	}

	hint := ""
	if status == http.StatusUnauthorized {
		hint = authenticateHint
	}
	writeError(w, status, msg, hint)
}
