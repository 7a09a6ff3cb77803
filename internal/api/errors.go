package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/voltgrid/voltgrid-core/internal/provisioning"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeConflict writes a 409 error response.
func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

// writeProvisioningError maps provisioning sentinel errors onto HTTP
// responses. Storage internals are never leaked; unexpected failures
// become a generic 500.
func writeProvisioningError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, provisioning.ErrDeviceNotFound),
		errors.Is(err, provisioning.ErrTemplateNotFound),
		errors.Is(err, provisioning.ErrCodeNotFound),
		errors.Is(err, provisioning.ErrCredentialsNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, provisioning.ErrDeviceExists):
		writeConflict(w, err.Error())
	case errors.Is(err, provisioning.ErrTypeMismatch),
		errors.Is(err, provisioning.ErrInvalidDeviceType),
		errors.Is(err, provisioning.ErrInvalidAuthMethod),
		errors.Is(err, provisioning.ErrInvalidTransition),
		errors.Is(err, provisioning.ErrValidation),
		errors.Is(err, provisioning.ErrCodeInactive),
		errors.Is(err, provisioning.ErrCodeExpired),
		errors.Is(err, provisioning.ErrCodeExhausted):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	default:
		writeInternalError(w, "internal server error")
	}
}
