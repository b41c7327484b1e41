// metrics.go — Prometheus HTTP метрики реестра.
// Регистрирует метрики: sr_http_requests_total, sr_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sr_http_requests_total",
			Help: "Общее количество HTTP-запросов к реестру",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sr_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к реестру в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (заменяем имена коллекций и секреты на плейсхолдеры
			// для предотвращения кардинальности)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath заменяет динамические сегменты пути на плейсхолдеры
// для предотвращения взрывного роста кардинальности метрик.
// /api/v1/containers/mycol/app/latest → /api/v1/containers/{collection}/{name}/{tag}
func normalizePath(path string) string {
	// Статические пути — возвращаем как есть
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/v1/push/check":
		return path
	}

	const collectionsPrefix = "/api/v1/collections/"
	if strings.HasPrefix(path, collectionsPrefix) && len(path) > len(collectionsPrefix) {
		return collectionsPrefix + "{name}"
	}

	const containersPrefix = "/api/v1/containers/"
	if strings.HasPrefix(path, containersPrefix) && len(path) > len(containersPrefix) {
		segments := strings.Split(path[len(containersPrefix):], "/")

		// Анонимные ссылки: /{id}/download/{secret} и /{id}/share/{secret}
		if len(segments) == 3 {
			switch segments[1] {
			case "download":
				return containersPrefix + "{id}/download/{secret}"
			case "share":
				return containersPrefix + "{id}/share/{secret}"
			}
		}

		// Адресация по пути: /{collection}/{name}/{tag} плюс необязательное действие
		if len(segments) == 3 || len(segments) == 4 {
			result := containersPrefix + "{collection}/{name}/{tag}"
			if len(segments) == 4 {
				switch segments[3] {
				case "image", "freeze", "unfreeze", "tag", "share":
					return result + "/" + segments[3]
				}
			}
			return result
		}
	}

	return path
}
