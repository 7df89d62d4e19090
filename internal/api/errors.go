package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/phrazzld/scry-exam/internal/api/shared"
	"github.com/phrazzld/scry-exam/internal/auth"
	"github.com/phrazzld/scry-exam/internal/domain"
	"github.com/phrazzld/scry-exam/internal/store"
	"github.com/phrazzld/scry-exam/internal/task"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking internal error types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized

	case errors.Is(err, auth.ErrForbidden),
		errors.Is(err, domain.ErrNotOwned),
		errors.Is(err, domain.ErrAuthRequired):
		return http.StatusForbidden

	case store.IsNotFoundError(err):
		return http.StatusNotFound

	case errors.Is(err, domain.ErrWindowClosed),
		errors.Is(err, domain.ErrAttemptLimitExceeded),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrState),
		store.IsDuplicateError(err):
		return http.StatusConflict

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	case errors.Is(err, domain.ErrConfiguration),
		errors.Is(err, task.ErrQueueFull),
		errors.Is(err, task.ErrQueueClosed):
		return http.StatusServiceUnavailable

	case errors.Is(err, domain.ErrExternalService):
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a user-facing message for err that carries no
// internal detail.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		return "Invalid token"
	case errors.Is(err, auth.ErrExpiredToken):
		return "Token expired"
	case errors.Is(err, auth.ErrForbidden):
		return "Role not permitted"

	case errors.Is(err, domain.ErrNotOwned):
		return "Attempt belongs to another student"
	case errors.Is(err, domain.ErrAuthRequired):
		return "Exam password required or incorrect"
	case errors.Is(err, domain.ErrWindowClosed):
		return "Exam window is closed"
	case errors.Is(err, domain.ErrAttemptLimitExceeded):
		return "Attempt limit reached"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "Attempt is not in progress"

	case errors.Is(err, store.ErrAttemptNotFound):
		return "Attempt not found"
	case errors.Is(err, store.ErrPublicationNotFound):
		return "Publication not found"
	case errors.Is(err, store.ErrCourseNotFound):
		return "Course not found"
	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"
	case store.IsNotFoundError(err):
		return "Resource not found"

	case errors.Is(err, domain.ErrConfiguration):
		return "AI provider is not configured"
	case errors.Is(err, task.ErrQueueFull), errors.Is(err, task.ErrQueueClosed):
		return "Service is busy, try again later"
	case errors.Is(err, domain.ErrExternalService):
		return "AI provider unavailable"
	case errors.Is(err, domain.ErrValidation):
		return SanitizeValidationError(err)

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError maps err to a status and a safe message and writes the
// response. defaultMsg replaces the message for server errors when set.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, defaultMsg string) {
	status := MapErrorToStatusCode(err)
	msg := GetSafeErrorMessage(err)
	if status >= http.StatusInternalServerError && defaultMsg != "" {
		msg = defaultMsg
	}
	shared.RespondWithErrorAndLog(w, r, status, msg, err)
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	if strings.Contains(errMsg, "Field validation") {
		// Key: 'Request.Topic' Error:Field validation for 'Topic' failed on the 'required' tag
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				var tag string
				if len(fieldParts) >= 5 {
					tag = fieldParts[3]
				}
				if tag != "" {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}

	switch {
	case strings.Contains(errMsg, "unknown question type"):
		return "Unknown question type"
	case strings.Contains(errMsg, "not part of this attempt"):
		return "Answer references a question outside this attempt"
	}
	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min", "gte":
		return "too small"
	case "max", "lte":
		return "too large"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
