package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/cvforge/cvforge-auth/internal/model"
	"github.com/cvforge/cvforge-auth/internal/ratelimit"
	"github.com/cvforge/cvforge-auth/internal/service"
)

// RateLimit limits requests per client IP within class. Limiter failures let
// the request through.
func (m *Middleware) RateLimit(class ratelimit.Class) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.cfg.Security.RateLimiting.Enabled || m.limiter == nil || class.Limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			ip := ClientIP(r)
			decision, err := m.limiter.Allow(ctx, class.Key(ip), class.Limit, class.Window)
			if err != nil {
				m.log.Error().Err(err).Str("class", class.Name).Msg("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

			if !decision.Allowed {
				retry := max(int(math.Ceil(decision.RetryAfter.Seconds())), 1)
				w.Header().Set("Retry-After", strconv.Itoa(retry))

				m.metrics.RateLimitRejections.WithLabelValues(class.Name).Inc()
				m.audit.Record(ctx, service.AuditEvent{
					Action:  model.AuditActionRateLimit,
					Client:  Client(r),
					Details: map[string]any{"class": class.Name, "path": r.URL.Path, "limit": class.Limit},
				})
				writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
