package middleware

import (
	"net/http"
	"strconv"
	"time"
)

// Instrument records request counts and latencies per route pattern. It must wrap
// the mux directly so the matched pattern is visible after dispatch.
func (m *Middleware) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.metrics.HTTPInFlight.Inc()
		defer m.metrics.HTTPInFlight.Dec()

		start := time.Now()
		sw := newResponseWriter(w)
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(sw.statusCode)
		m.metrics.HTTPDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.metrics.HTTPRequests.WithLabelValues(r.Method, route, status).Inc()
	})
}
