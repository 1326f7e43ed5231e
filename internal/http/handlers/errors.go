// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP
// responses (via the `fail()` helper in this package). These codes give
// clients a stable, machine-readable error taxonomy that supplements
// human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes mirror common HTTP status semantics.
//   - Domain-specific codes (payment_required, upstream_failed, invalid_signature)
//     cover outcomes that clients branch on beyond the status alone.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "payment_required",
//	  "message": "insufficient credits"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/genstudio-backend/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeUnavailable      = "unavailable"

	// Domain-specific:
	ErrCodePaymentRequired  = "payment_required"
	ErrCodeUpstreamFailed   = "upstream_failed"
	ErrCodeInvalidSignature = "invalid_signature"
)

// failErr maps a service error to its status and code and aborts the request.
// Unknown errors become 500s; their text is logged but not returned.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrUnauthenticated):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
	case errors.Is(err, services.ErrInvalidSignature):
		fail(c, http.StatusUnauthorized, ErrCodeInvalidSignature, "invalid signature")
	case errors.Is(err, services.ErrInsufficientCredits):
		fail(c, http.StatusPaymentRequired, ErrCodePaymentRequired, "insufficient credits")
	case errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
	case errors.Is(err, services.ErrJobNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "job not found")
	case errors.Is(err, services.ErrSubscriptionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "subscription not found")
	case errors.Is(err, services.ErrDuplicateJob):
		fail(c, http.StatusConflict, ErrCodeConflict, "duplicate job")
	case errors.Is(err, services.ErrRequestInProgress):
		c.Header("Retry-After", "1")
		fail(c, http.StatusConflict, ErrCodeConflict, "a request with this Idempotency-Key is still in progress")
	case errors.Is(err, services.ErrEmptyPrompt):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "prompt required")
	case errors.Is(err, services.ErrTooLong):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "prompt too long")
	case errors.Is(err, services.ErrInvalidParams),
		errors.Is(err, services.ErrInvalidKind),
		errors.Is(err, services.ErrInvalidAmount):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrMalformedPayload),
		errors.Is(err, services.ErrNoResultURL):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrExternalSubmissionFailed),
		errors.Is(err, services.ErrPromptEnhanceFailed):
		fail(c, http.StatusBadGateway, ErrCodeUpstreamFailed, "upstream request failed")
		_ = c.Error(err)
	case errors.Is(err, services.ErrPromptEnhancerDisabled):
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "prompt enhancement is not configured")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}
