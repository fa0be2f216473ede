package handler

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/cvforge/cvforge-auth/internal/middleware"
	"github.com/cvforge/cvforge-auth/internal/service"
)

// ListSessions handles GET /auth/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())

	sessions, err := h.sessSvc.ListSessions(r.Context(), p.UserID)
	if err != nil {
		h.serviceError(w, r, err, http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// RevokeSession handles DELETE /auth/sessions/{id}
func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())

	sessionID := r.PathValue("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		h.serviceError(w, r, service.ErrSessionNotFound, http.StatusUnauthorized)
		return
	}

	if err := h.sessSvc.RevokeSession(r.Context(), p.UserID, sessionID, middleware.Client(r)); err != nil {
		h.serviceError(w, r, err, http.StatusUnauthorized)
		return
	}

	writeMessage(w, "Session revoked")
}
