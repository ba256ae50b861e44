package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/boddenberg/etudes-bfa-go/internal/infra/observability"

	"github.com/go-chi/chi/v5"
)

// RequestMetrics records the latency of every request under its route
// pattern. Event streams are skipped since they stay open for minutes.
func RequestMetrics(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)

			pattern := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				pattern = rctx.RoutePattern()
			}
			if strings.HasSuffix(pattern, "/stream") {
				return
			}
			metrics.RecordRequestDuration("http "+r.Method+" "+pattern, time.Since(start))
		})
	}
}
