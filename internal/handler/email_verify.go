package handler

import (
	"net/http"

	"github.com/cvforge/cvforge-auth/internal/middleware"
)

type verifyEmailRequest struct {
	Token string `json:"token" validate:"required,max=4096"`
}

// VerifyEmail handles POST /users/verify-email
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !bind(w, r, &req) {
		return
	}

	if err := h.authSvc.VerifyEmail(r.Context(), req.Token, middleware.Client(r)); err != nil {
		h.serviceError(w, r, err, http.StatusBadRequest)
		return
	}

	writeMessage(w, "Email verified successfully")
}

type resendVerificationRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// ResendVerification handles POST /users/resend-verification. Unknown,
// already verified and cooling-down addresses get the same answer.
func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req resendVerificationRequest
	if !bind(w, r, &req) {
		return
	}

	if err := h.authSvc.ResendVerification(r.Context(), req.Email, middleware.Client(r)); err != nil {
		h.serviceError(w, r, err, http.StatusBadRequest)
		return
	}

	writeMessage(w, "If the account needs verification, a new email has been sent")
}

// Me handles GET /users/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())

	user, err := h.authSvc.Me(r.Context(), p.UserID)
	if err != nil {
		h.serviceError(w, r, err, http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, user)
}
