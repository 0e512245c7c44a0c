// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` helper in this package). These codes provide clients with a stable,
// machine-readable error taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, unauthorized, conflict) mirror common HTTP
//     status semantics to aid interoperability.
//   - Domain-specific codes (e.g., invalid_state, assistant_unavailable) are reserved
//     for business logic errors that cannot be conveyed by status alone.
//   - All error responses must include both an HTTP status and one of these codes.
//
// Usage:
//   - Handlers select the most specific matching code and pass it to `fail()` along
//     with the corresponding HTTP status and message.
//   - Clients are expected to branch on these codes for programmatic error handling.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "conflict",
//	  "message": "participant already present"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/exdrums/hbg-sub001/internal/services"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeInvalidState         = "invalid_state"
	ErrCodeAssistantUnavailable = "assistant_unavailable"
	ErrCodeMethodNotAllowed     = "method_not_allowed"
)

// classify maps a service-layer error to its HTTP status and symbolic code.
// Unrecognized errors are reported as internal.
func classify(err error) (status int, code string) {
	switch {
	case errors.Is(err, services.ErrConversationNotFound),
		errors.Is(err, services.ErrMessageNotFound),
		errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrParticipantNotFound),
		errors.Is(err, services.ErrParentNotFound):
		return http.StatusNotFound, ErrCodeNotFound

	case errors.Is(err, services.ErrNotParticipant),
		errors.Is(err, services.ErrNotAuthor),
		errors.Is(err, services.ErrNotAdmin):
		return http.StatusForbidden, ErrCodeForbidden

	case errors.Is(err, services.ErrSelfConversation),
		errors.Is(err, services.ErrEmptyTitle),
		errors.Is(err, services.ErrNoParticipants),
		errors.Is(err, services.ErrEmptyMessage),
		errors.Is(err, services.ErrMessageTooLong),
		errors.Is(err, services.ErrInvalidRole),
		errors.Is(err, services.ErrInvalidPreferences),
		errors.Is(err, services.ErrEmptyDisplayName),
		errors.Is(err, services.ErrEmptySubject):
		return http.StatusBadRequest, ErrCodeBadRequest

	case errors.Is(err, services.ErrSystemAlertImmutable),
		errors.Is(err, services.ErrMessageBusy),
		errors.Is(err, services.ErrMessageDeleted),
		errors.Is(err, services.ErrNotAssistantMessage),
		errors.Is(err, services.ErrNotAssistantConversation),
		errors.Is(err, services.ErrConversationTypeFixed),
		errors.Is(err, services.ErrLastHumanParticipant):
		return http.StatusUnprocessableEntity, ErrCodeInvalidState

	case errors.Is(err, services.ErrParticipantExists):
		return http.StatusConflict, ErrCodeConflict

	case errors.Is(err, services.ErrRateLimited):
		return http.StatusTooManyRequests, ErrCodeRateLimited

	case errors.Is(err, services.ErrAssistantUnavailable):
		return http.StatusBadGateway, ErrCodeAssistantUnavailable
	}
	return http.StatusInternalServerError, ErrCodeInternal
}
