package metrics

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"referral_service/internal/observability/metrics"

	"github.com/go-chi/chi"
)

const unmatchedRoute = "unmatched"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// * New считает запросы и их длительность по шаблону маршрута chi, а не по сырому пути
func New(log *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start).Seconds()
			route := routePattern(r)
			status := strconv.Itoa(sr.status)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDurationSeconds.WithLabelValues(r.Method, route).Observe(duration)

			log.Debug("request metrics updated",
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int("status", sr.status),
				slog.Float64("duration_seconds", duration),
			)
		})
	}
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return unmatchedRoute
	}

	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}

	return unmatchedRoute
}
