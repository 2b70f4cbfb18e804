package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"mood-pulse-backend/internal/services"
	"mood-pulse-backend/internal/validation"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Error codes for API responses
const (
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeTooManyRequests  = "TOO_MANY_REQUESTS"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeUnavailable      = "SERVICE_UNAVAILABLE"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error     string                  `json:"error"`
	Code      string                  `json:"code"`
	Fields    []validation.FieldError `json:"fields,omitempty"`
	RequestID string                  `json:"request_id,omitempty"`
}

// respondJSON writes v as JSON with the given status
func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, r *http.Request, code, message string, statusCode int) {
	respondJSON(w, statusCode, ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: chiMiddleware.GetReqID(r.Context()),
	})
}

// respondValidation reports every rejected field at once
func respondValidation(w http.ResponseWriter, r *http.Request, errs *validation.Errors) {
	respondJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:     "validation failed",
		Code:      ErrCodeValidationFailed,
		Fields:    errs.Fields,
		RequestID: chiMiddleware.GetReqID(r.Context()),
	})
}

// respondServiceError maps the service error taxonomy onto HTTP statuses.
// Store faults stay opaque; the service has already logged the detail.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs *validation.Errors
	var limited *services.RateLimitedError

	switch {
	case errors.As(err, &verrs):
		respondValidation(w, r, verrs)
	case errors.As(err, &limited):
		secs := int(math.Ceil(limited.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		respondError(w, r, ErrCodeTooManyRequests, "too many pulses, try again later", http.StatusTooManyRequests)
	case errors.Is(err, services.ErrRateLimited):
		respondError(w, r, ErrCodeTooManyRequests, "too many pulses, try again later", http.StatusTooManyRequests)
	case errors.Is(err, services.ErrNotFound):
		respondError(w, r, ErrCodeNotFound, "pulse not found", http.StatusNotFound)
	case errors.Is(err, services.ErrForbidden):
		respondError(w, r, ErrCodeForbidden, "invalid delete token", http.StatusForbidden)
	default:
		respondError(w, r, ErrCodeInternalError, "internal server error", http.StatusInternalServerError)
	}
}
