package model

import (
	"strings"
	"time"
)

// AuditLog represents an audit log entry
type AuditLog struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	UserID    *string        `json:"user_id,omitempty"`
	IPAddress *string        `json:"ip_address,omitempty"`
	UserAgent *string        `json:"user_agent,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Audit action constants
const (
	AuditActionLogin                  = "AUTH_LOGIN"
	AuditActionLoginFailed            = "FAILED_AUTH_LOGIN"
	AuditActionLogout                 = "AUTH_LOGOUT"
	AuditActionLogoutAll              = "AUTH_LOGOUT_ALL"
	AuditActionSessionRevoked         = "AUTH_SESSION_REVOKED"
	AuditActionTokenRefresh           = "AUTH_TOKEN_REFRESH"
	AuditActionTokenRefreshFailed     = "FAILED_AUTH_REFRESH"
	AuditActionUserCreated            = "USER_CREATED"
	AuditActionPasswordResetRequest   = "PASSWORD_RESET_REQUESTED"
	AuditActionPasswordResetUnknown   = "PASSWORD_RESET_REQUESTED_UNKNOWN"
	AuditActionPasswordReset          = "PASSWORD_RESET"
	AuditActionPasswordResetFailed    = "FAILED_PASSWORD_RESET"
	AuditActionPasswordChanged        = "PASSWORD_CHANGED"
	AuditActionPasswordChangeFailed   = "FAILED_PASSWORD_CHANGE"
	AuditActionEmailVerified          = "EMAIL_VERIFIED"
	AuditActionEmailVerifyFailed      = "FAILED_EMAIL_VERIFY"
	AuditActionVerificationResent     = "EMAIL_VERIFICATION_RESENT"
	AuditActionRateLimit              = "SECURITY_RATE_LIMIT"
	AuditActionPermissionDenied       = "SECURITY_PERMISSION_DENIED"
	AuditActionAdminUserDelete        = "ADMIN_USER_DELETE"
	AuditActionAdminUserDeactivate    = "ADMIN_USER_DEACTIVATE"
	AuditActionAdminRoleAdd           = "ADMIN_ROLE_ADD"
	AuditActionAdminRoleRemove        = "ADMIN_ROLE_REMOVE"
	AuditActionSystemAuditPurge       = "SYSTEM_AUDIT_PURGE"
	AuditActionSystemSuperuserCreated = "SYSTEM_SUPERUSER_CREATED"
)

// FailedActionPrefix marks actions counted as failed authentication
const FailedActionPrefix = "FAILED_"

// IsFailedAction reports whether action represents a failed security check
func IsFailedAction(action string) bool {
	return strings.HasPrefix(action, FailedActionPrefix)
}

// AuditFilter narrows an audit log query
type AuditFilter struct {
	ActionPrefix string
	UserID       string
	From         *time.Time
	To           *time.Time
	Skip         int
	Limit        int
}

// AuditSummary aggregates audit activity over a trailing window
type AuditSummary struct {
	Since        time.Time      `json:"since"`
	Total        int            `json:"total"`
	ActionCounts map[string]int `json:"action_counts"`
	FailedAuth   int            `json:"failed_auth"`
	TopUsers     []UserActivity `json:"top_users"`
}

// UserActivity is one row of the most-active-users ranking
type UserActivity struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}
