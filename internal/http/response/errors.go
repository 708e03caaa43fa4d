package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/premisehq/visitor-gate/internal/domain"
	"github.com/premisehq/visitor-gate/pkg/logger"
)

// ErrorResponse represents a structured JSON error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Common error codes
const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeRateLimit        = "RATE_LIMIT_EXCEEDED"
	CodeInternalError    = "INTERNAL_ERROR"
	CodeDuplicateActive  = "DUPLICATE_ACTIVE_REQUEST"
	CodeInvalidCode      = "INVALID_CODE"
	CodeAlreadyResolved  = "ALREADY_RESOLVED"
	CodeNotApproved      = "NOT_APPROVED"
	CodeAlreadyCheckedIn = "ALREADY_CHECKED_IN"
	CodeNoOpenSession    = "NO_OPEN_SESSION"
	CodeCheckedIn        = "CANNOT_CANCEL_CHECKED_IN"
)

// WriteError writes a structured JSON error response
func WriteError(w http.ResponseWriter, statusCode int, message string, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errResp := ErrorResponse{
		Error: message,
		Code:  code,
	}

	if err := json.NewEncoder(w).Encode(errResp); err != nil {
		logger.Error("Failed to encode error response", "error", err)
	}
}

// WriteJSON writes a JSON payload with the given status
func WriteJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

// WriteDomainError maps engine errors to HTTP statuses and codes.
func WriteDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		WriteError(w, http.StatusBadRequest, err.Error(), CodeInvalidInput)
	case errors.Is(err, domain.ErrDuplicateActive):
		WriteError(w, http.StatusConflict, err.Error(), CodeDuplicateActive)
	case errors.Is(err, domain.ErrInvalidCode):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), CodeInvalidCode)
	case errors.Is(err, domain.ErrUnauthorized):
		WriteError(w, http.StatusForbidden, err.Error(), CodeForbidden)
	case errors.Is(err, domain.ErrRequestNotFound), errors.Is(err, domain.ErrPassNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), CodeNotFound)
	case errors.Is(err, domain.ErrAlreadyResolved):
		WriteError(w, http.StatusConflict, err.Error(), CodeAlreadyResolved)
	case errors.Is(err, domain.ErrCannotCancelCheckedIn):
		WriteError(w, http.StatusConflict, err.Error(), CodeCheckedIn)
	case errors.Is(err, domain.ErrNotApproved):
		WriteError(w, http.StatusConflict, err.Error(), CodeNotApproved)
	case errors.Is(err, domain.ErrAlreadyCheckedIn):
		WriteError(w, http.StatusConflict, err.Error(), CodeAlreadyCheckedIn)
	case errors.Is(err, domain.ErrNoOpenSession):
		WriteError(w, http.StatusConflict, err.Error(), CodeNoOpenSession)
	default:
		WriteError(w, http.StatusInternalServerError, "internal error", CodeInternalError)
	}
}

// Convenience functions for common errors
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message, CodeInvalidInput)
}

func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, message, CodeUnauthorized)
}

func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, message, CodeForbidden)
}

func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message, CodeNotFound)
}

func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message, CodeInternalError)
}

func RateLimit(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, message, CodeRateLimit)
}
