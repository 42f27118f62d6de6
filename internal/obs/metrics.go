package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_login_attempts_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	tokensIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_tokens_issued_total",
		Help: "Bearer tokens issued (login and refresh).",
	})

	tokensRevoked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_tokens_revoked_total",
		Help: "Bearer tokens revoked (logout, rotation, password change).",
	})
)

// Init registers metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
		loginAttempts,
		tokensIssued,
		tokensRevoked,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLogin counts a login attempt. Outcome is "ok" or "failed".
func ObserveLogin(outcome string) {
	loginAttempts.WithLabelValues(outcome).Inc()
}

// ObserveTokensIssued counts freshly issued bearer tokens.
func ObserveTokensIssued(n int) {
	tokensIssued.Add(float64(n))
}

// ObserveTokensRevoked counts revoked bearer tokens.
func ObserveTokensRevoked(n int) {
	tokensRevoked.Add(float64(n))
}

// CanonicalPath collapses resource identifiers so metric label
// cardinality stays bounded: /api/v1/users/<ulid> becomes
// /api/v1/users/:id and /api/v1/users/<ulid>/roles becomes
// /api/v1/users/:id/roles. Query strings are dropped.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	const usersPrefix = "/api/v1/users/"
	if rest, ok := strings.CutPrefix(path, usersPrefix); ok && rest != "" {
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) == 1 {
			return usersPrefix + ":id"
		}
		return usersPrefix + ":id/" + parts[1]
	}
	return path
}

// Instrument measures request rate, latency and in-flight count.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
