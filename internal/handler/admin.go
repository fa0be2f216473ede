package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/cvforge/cvforge-auth/internal/middleware"
	"github.com/cvforge/cvforge-auth/internal/model"
	"github.com/cvforge/cvforge-auth/internal/service"
)

// Audit summary bounds
const (
	defaultSummaryHours = 24
	maxSummaryHours     = 24 * 30
	defaultSummaryTop   = 10
	maxSummaryTop       = 100
)

// queryInt reads a non-negative integer query parameter, returning def when absent
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", service.ErrInvalidInput, name)
	}
	return n, nil
}

func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an RFC 3339 timestamp", service.ErrInvalidInput, name)
	}
	t = t.UTC()
	return &t, nil
}

// targetUserID returns the {id} path value, or "" after writing a 404
func (h *Handler) targetUserID(w http.ResponseWriter, r *http.Request) string {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		h.serviceError(w, r, service.ErrUserNotFound, http.StatusUnauthorized)
		return ""
	}
	return id
}

// AdminListUsers handles GET /admin/users
func (h *Handler) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		h.serviceError(w, r, err, http.StatusBadRequest)
		return
	}
	limit, err := queryInt(r, "limit", service.DefaultUserPageSize)
	if err != nil {
		h.serviceError(w, r, err, http.StatusBadRequest)
		return
	}

	users, err := h.adminSvc.ListUsers(r.Context(), skip, limit)
	if err != nil {
		h.serviceError(w, r, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, users)
}

// AdminGetUser handles GET /admin/users/{id}
func (h *Handler) AdminGetUser(w http.ResponseWriter, r *http.Request) {
	id := h.targetUserID(w, r)
	if id == "" {
		return
	}

	user, err := h.adminSvc.GetUser(r.Context(), id)
	if err != nil {
		h.serviceError(w, r, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

type addRoleRequest struct {
	Role string `json:"role" validate:"required,max=32"`
}

// AdminAddRole handles POST /admin/users/{id}/roles
func (h *Handler) AdminAddRole(w http.ResponseWriter, r *http.Request) {
	id := h.targetUserID(w, r)
	if id == "" {
		return
	}
	var req addRoleRequest
	if !bind(w, r, &req) {
		return
	}

	actor := middleware.GetPrincipal(r.Context())
	user, err := h.adminSvc.AddRole(r.Context(), actor.UserID, id, req.Role, middleware.Client(r))
	if err != nil {
		h.serviceError(w, r, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// AdminRemoveRole handles DELETE /admin/users/{id}/roles/{role}
func (h *Handler) AdminRemoveRole(w http.ResponseWriter, r *http.Request) {
	id := h.targetUserID(w, r)
	if id == "" {
		return
	}

	actor := middleware.GetPrincipal(r.Context())
	user, err := h.adminSvc.RemoveRole(r.Context(), actor.UserID, id, r.PathValue("role"), middleware.Client(r))
	if err != nil {
		h.serviceError(w, r, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// AdminDeactivateUser handles POST /admin/users/{id}/deactivate
func (h *Handler) AdminDeactivateUser(w http.ResponseWriter, r *http.Request) {
	id := h.targetUserID(w, r)
	if id == "" {
		return
	}

	actor := middleware.GetPrincipal(r.Context())
	if err := h.adminSvc.Deactivate(r.Context(), actor.UserID, id, middleware.Client(r)); err != nil {
		h.serviceError(w, r, err, http.StatusBadRequest)
		return
	}

	writeMessage(w, "User deactivated")
}

// AdminDeleteUser handles DELETE /admin/users/{id}
func (h *Handler) AdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := h.targetUserID(w, r)
	if id == "" {
		return
	}

	actor := middleware.GetPrincipal(r.Context())
	if err := h.adminSvc.DeleteUser(r.Context(), actor.UserID, id, middleware.Client(r)); err != nil {
		h.serviceError(w, r, err, http.StatusBadRequest)
		return
	}

	writeMessage(w, "User deleted")
}

// AdminAuditLogs handles GET /admin/audit-logs. action matches as a prefix.
func (h *Handler) AdminAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.AuditFilter{
		ActionPrefix: q.Get("action"),
		UserID:       q.Get("user_id"),
	}

	var err error
	if filter.From, err = queryTime(r, "from"); err != nil {
		h.serviceError(w, r, err, http.StatusBadRequest)
		return
	}
	if filter.To, err = queryTime(r, "to"); err != nil {
		h.serviceError(w, r, err, http.StatusBadRequest)
		return
	}
	if filter.Skip, err = queryInt(r, "skip", 0); err != nil {
		h.serviceError(w, r, err, http.StatusBadRequest)
		return
	}
	if filter.Limit, err = queryInt(r, "limit", 100); err != nil {
		h.serviceError(w, r, err, http.StatusBadRequest)
		return
	}
	if filter.UserID != "" {
		if _, err := uuid.Parse(filter.UserID); err != nil {
			h.serviceError(w, r, fmt.Errorf("%w: user_id must be a UUID", service.ErrInvalidInput), http.StatusBadRequest)
			return
		}
	}

	logs, err := h.auditSvc.Query(r.Context(), filter)
	if err != nil {
		h.serviceError(w, r, err, http.StatusBadRequest)
		return
	}
	if logs == nil {
		logs = []*model.AuditLog{}
	}

	writeJSON(w, http.StatusOK, logs)
}

// AdminAuditSummary handles GET /admin/audit-logs/summary
func (h *Handler) AdminAuditSummary(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours", defaultSummaryHours)
	if err != nil {
		h.serviceError(w, r, err, http.StatusBadRequest)
		return
	}
	top, err := queryInt(r, "top", defaultSummaryTop)
	if err != nil {
		h.serviceError(w, r, err, http.StatusBadRequest)
		return
	}
	hours = min(max(hours, 1), maxSummaryHours)
	top = min(max(top, 1), maxSummaryTop)

	summary, err := h.auditSvc.Summarize(r.Context(), time.Duration(hours)*time.Hour, top)
	if err != nil {
		h.serviceError(w, r, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
