package handler

import (
	"errors"
	"net/http"

	"github.com/cvforge/cvforge-auth/internal/middleware"
	"github.com/cvforge/cvforge-auth/internal/service"
)

// serviceError writes the response for err. tokenStatus is the status used for
// ErrInvalidOrExpiredToken, which differs between endpoints.
func (h *Handler) serviceError(w http.ResponseWriter, r *http.Request, err error, tokenStatus int) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Incorrect email or password")
	case errors.Is(err, service.ErrInactiveUser):
		writeError(w, http.StatusForbidden, "inactive_user", "Inactive user")
	case errors.Is(err, service.ErrEmailAlreadyExists):
		writeError(w, http.StatusBadRequest, "email_exists", "Email already registered")
	case errors.Is(err, service.ErrInvalidOrExpiredToken):
		writeError(w, tokenStatus, "invalid_token", "Invalid or expired token")
	case errors.Is(err, service.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "weak_password", err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, service.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, "invalid_role", err.Error())
	case errors.Is(err, service.ErrSelfAction):
		writeError(w, http.StatusBadRequest, "self_action", err.Error())
	case errors.Is(err, service.ErrRateLimitExceeded):
		writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests. Please try again later.")
	case errors.Is(err, service.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "forbidden", "Not enough permissions")
	case errors.Is(err, service.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", "User not found")
	case errors.Is(err, service.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", "Session not found")
	default:
		h.log.WithRequestID(middleware.GetRequestID(r.Context())).Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		message := "An unexpected error occurred"
		if h.cfg.Server.Debug {
			message = err.Error()
		}
		writeError(w, http.StatusInternalServerError, "internal_error", message)
	}
}
