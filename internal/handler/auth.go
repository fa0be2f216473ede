package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/cvforge/cvforge-auth/internal/middleware"
	"github.com/cvforge/cvforge-auth/internal/service"
)

// --- Registration Handler ---

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
	Name     string `json:"name" validate:"max=200"`
}

// Register handles POST /auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !bind(w, r, &req) {
		return
	}

	user, err := h.authSvc.Register(r.Context(), service.RegisterRequest{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.Name,
		Client:   middleware.Client(r),
	})
	if err != nil {
		h.serviceError(w, r, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// --- Login Handler ---

type loginRequest struct {
	Username string `json:"username" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

// Login handles POST /auth/login. It takes the OAuth2 password form fields
// username and password; a JSON body with username or email is also accepted.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if isForm(r) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Invalid form body")
			return
		}
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
	} else {
		var body struct {
			Username string `json:"username"`
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
			return
		}
		req.Username = body.Username
		if req.Username == "" {
			req.Username = body.Email
		}
		req.Password = body.Password
	}
	req.Username = strings.TrimSpace(req.Username)
	if !check(w, &req) {
		return
	}

	pair, err := h.authSvc.Login(r.Context(), service.LoginRequest{
		Email:    req.Username,
		Password: req.Password,
		Client:   middleware.Client(r),
	})
	if err != nil {
		h.serviceError(w, r, err, http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

// --- Token Refresh Handler ---

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,max=4096"`
}

// Refresh handles POST /auth/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !bind(w, r, &req) {
		return
	}

	pair, err := h.authSvc.Refresh(r.Context(), req.RefreshToken, middleware.Client(r))
	if err != nil {
		h.serviceError(w, r, err, http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

// --- Logout Handlers ---

type logoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"max=4096"`
}

// Logout handles POST /auth/logout. It answers 200 whether or not the refresh
// token was live.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())

	var req logoutRequest
	if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if !check(w, &req) {
		return
	}

	if err := h.authSvc.Logout(r.Context(), p.UserID, req.RefreshToken, middleware.Client(r)); err != nil {
		h.serviceError(w, r, err, http.StatusUnauthorized)
		return
	}

	writeMessage(w, "Successfully logged out")
}

// LogoutAll handles POST /auth/logout-all
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())

	n, err := h.authSvc.LogoutAll(r.Context(), p.UserID, middleware.Client(r))
	if err != nil {
		h.serviceError(w, r, err, http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":          "All sessions logged out",
		"revoked_sessions": n,
	})
}

// Verify handles GET /auth/verify. The Auth middleware has already validated
// the bearer token.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    p.UserID,
		"email":      p.Email,
		"expires_at": p.ExpiresAt.UTC(),
	})
}

// --- Password Handlers ---

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// ForgotPassword handles POST /auth/forgot-password. The response never reveals
// whether the email is registered.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !bind(w, r, &req) {
		return
	}

	if err := h.authSvc.ForgotPassword(r.Context(), req.Email, middleware.Client(r)); err != nil {
		h.serviceError(w, r, err, http.StatusBadRequest)
		return
	}

	writeMessage(w, "If the email is registered, a password reset link has been sent")
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required,max=4096"`
	NewPassword string `json:"new_password" validate:"required,max=128"`
}

// ResetPassword handles POST /auth/reset-password
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !bind(w, r, &req) {
		return
	}

	if err := h.authSvc.ResetPassword(r.Context(), req.Token, req.NewPassword, middleware.Client(r)); err != nil {
		h.serviceError(w, r, err, http.StatusBadRequest)
		return
	}

	writeMessage(w, "Password has been reset successfully")
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=128"`
	NewPassword     string `json:"new_password" validate:"required,max=128"`
	RevokeSessions  bool   `json:"revoke_sessions"`
}

// ChangePassword handles POST /auth/change-password
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())

	var req changePasswordRequest
	if !bind(w, r, &req) {
		return
	}

	err := h.authSvc.ChangePassword(r.Context(), service.ChangePasswordRequest{
		UserID:          p.UserID,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		RevokeSessions:  req.RevokeSessions,
		Client:          middleware.Client(r),
	})
	if err != nil {
		h.serviceError(w, r, err, http.StatusBadRequest)
		return
	}

	writeMessage(w, "Password changed successfully")
}
