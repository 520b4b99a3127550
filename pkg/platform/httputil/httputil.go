// Package httputil renders JSON bodies and domain errors consistently.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "baobab/pkg/domain-errors"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error            string `json:"error"`
	Reason           string `json:"reason,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// StatusFor maps a domain error code to its HTTP status.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeValidation, dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeInvariantViolation:
		return http.StatusUnprocessableEntity
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case dErrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as a JSON error envelope. Errors without a domain
// code are reported as internal errors. Internal and unavailable errors omit
// the description so store details never leak to callers.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeInternal
	resp := ErrorResponse{}
	if de, ok := dErrors.As(err); ok {
		code = de.Code
		resp.Reason = de.Reason
		if code != dErrors.CodeInternal && code != dErrors.CodeUnavailable {
			resp.ErrorDescription = de.Message
		}
	}
	resp.Error = string(code)
	WriteJSON(w, StatusFor(code), resp)
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
