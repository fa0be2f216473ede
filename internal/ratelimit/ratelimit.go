// Package ratelimit implements sliding-window request limiting keyed by client identity.
package ratelimit

import (
	"context"
	"time"

	"github.com/cvforge/cvforge-auth/internal/config"
)

// Decision is the outcome of one Allow call
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is how long until the oldest counted request leaves the window.
	// Zero when Allowed.
	RetryAfter time.Duration
}

// Limiter counts requests per key over a rolling window
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Class names an endpoint group with its own budget
type Class struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Key builds the storage key for a class and client identity
func (c Class) Key(identity string) string {
	return c.Name + ":" + identity
}

// Classes is the set of budgets applied to the HTTP surface
type Classes struct {
	General       Class
	Login         Class
	Register      Class
	PasswordReset Class
	VerifyEmail   Class
}

// ClassesFromConfig builds the endpoint classes. Every class shares one window.
func ClassesFromConfig(cfg config.RateLimitingConfig) Classes {
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	return Classes{
		General:       Class{Name: "general", Limit: cfg.PerMinute, Window: window},
		Login:         Class{Name: "login", Limit: cfg.Login, Window: window},
		Register:      Class{Name: "register", Limit: cfg.Register, Window: window},
		PasswordReset: Class{Name: "password_reset", Limit: cfg.PasswordReset, Window: window},
		VerifyEmail:   Class{Name: "verify_email", Limit: cfg.VerifyEmail, Window: window},
	}
}
