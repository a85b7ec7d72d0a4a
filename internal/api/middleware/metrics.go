// metrics.go: Prometheus HTTP метрики Purge Module:
// pm_http_requests_total, pm_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pm_http_requests_total",
			Help: "Общее количество HTTP-запросов к Purge Module",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pm_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Purge Module в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware собирает количество и длительность запросов по endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := normalizePath(r.URL.Path)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// normalizePath заменяет идентификаторы в пути шаблонами,
// чтобы не раздувать кардинальность метрик.
// /api/v1/sessions/1b4e.../scan → /api/v1/sessions/{id}/scan
func normalizePath(path string) string {
	prefixes := []struct {
		prefix string
		result string
	}{
		{"/api/v1/sessions/", "/api/v1/sessions/{id}"},
		{"/api/v1/reports/", "/api/v1/reports/{id}"},
		{"/api/v1/settings/", "/api/v1/settings/{key}"},
	}

	for _, p := range prefixes {
		rest, ok := strings.CutPrefix(path, p.prefix)
		if !ok || rest == "" {
			continue
		}
		_, action, hasAction := strings.Cut(rest, "/")
		if !hasAction {
			return p.result
		}
		switch action {
		case "scan", "demo", "toggle", "select-all", "clear-selection", "remediate", "resume", "reset":
			return p.result + "/" + action
		default:
			return p.result + "/{action}"
		}
	}
	return path
}
