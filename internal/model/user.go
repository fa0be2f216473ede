package model

import (
	"fmt"
	"slices"
	"time"
)

// Role is a named capability granted to a user
type Role string

const (
	RoleUser    Role = "user"
	RolePremium Role = "premium"
	RoleSupport Role = "support"
	RoleAdmin   Role = "admin"
)

var knownRoles = []Role{RoleUser, RolePremium, RoleSupport, RoleAdmin}

// ParseRole validates a role name against the closed set of known roles
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !slices.Contains(knownRoles, r) {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// RoleSet is an ordered set of known roles
type RoleSet []Role

// Has reports whether r is in the set
func (s RoleSet) Has(r Role) bool {
	return slices.Contains(s, r)
}

// With returns the set with r added. Adding an existing role is a no-op.
func (s RoleSet) With(r Role) RoleSet {
	if s.Has(r) {
		return s
	}
	return append(slices.Clone(s), r)
}

// Without returns the set with r removed. Removing an absent role is a no-op.
func (s RoleSet) Without(r Role) RoleSet {
	out := make(RoleSet, 0, len(s))
	for _, existing := range s {
		if existing != r {
			out = append(out, existing)
		}
	}
	return out
}

// Strings returns the role names for storage
func (s RoleSet) Strings() []string {
	out := make([]string, len(s))
	for i, r := range s {
		out[i] = string(r)
	}
	return out
}

// RoleSetFromStrings converts stored names, dropping anything outside the known set
func RoleSetFromStrings(names []string) RoleSet {
	var set RoleSet
	for _, n := range names {
		if r, err := ParseRole(n); err == nil {
			set = set.With(r)
		}
	}
	return set
}

// User represents the core user entity
type User struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	FullName         string     `json:"full_name"`
	PasswordHash     string     `json:"-"`
	IsActive         bool       `json:"is_active"`
	IsVerified       bool       `json:"is_verified"`
	IsSuperuser      bool       `json:"is_superuser"`
	Roles            RoleSet    `json:"roles"`
	FailedLoginCount int        `json:"-"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DeactivatedAt    *time.Time `json:"deactivated_at,omitempty"`
	DeletedAt        *time.Time `json:"-"`
}

// CanLogin reports whether the account may authenticate. When requireVerified is set
// the email must also be verified.
func (u *User) CanLogin(requireVerified bool) bool {
	if !u.IsActive || u.DeletedAt != nil {
		return false
	}
	return !requireVerified || u.IsVerified
}
