// Package telemetry provides application-level observability for Airlock.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<AIRLOCK_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint returns data in the Prometheus text
// exposition format and is intended to be scraped every 15–60 seconds. It is
// NOT served by the Gin router, so it never passes through the auth
// middleware chain and cannot be reached through the gateway.
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/keys/:id)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Authentication metrics.
//
// TokensIssuedTotal has labels {token_type, auth_type}: token_type is
// "access" or "refresh", auth_type is "oauth" or "api_key". A sudden drop in
// the oauth series with a steady api_key series usually means the upstream
// identity provider is down, not Airlock itself.
//
// TokenVerificationFailuresTotal has a {reason} label with a closed set of
// values: "expired", "malformed", "bad_signature", "wrong_issuer",
// "wrong_type". Spikes in "bad_signature" across services indicate a secret
// rotation that did not reach every deployment.
var (
	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Total number of completed OAuth login flows, by outcome.",
		},
		[]string{"outcome"},
	)

	TokensIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Total number of JWTs issued, by token type and authentication type.",
		},
		[]string{"token_type", "auth_type"},
	)

	TokenVerificationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_verification_failures_total",
			Help: "Total number of rejected JWTs, by rejection reason.",
		},
		[]string{"reason"},
	)
)

// API key metrics.
//
// APIKeyVerificationsTotal has an {outcome} label: "ok", "invalid",
// "revoked", "expired". The "invalid" series covers both unknown prefixes and
// failed bcrypt comparisons; the two are deliberately not distinguished so
// the metric cannot be used as a prefix-existence oracle.
var (
	APIKeyVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apikey_verifications_total",
			Help: "Total number of API key verification attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	APIKeysCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apikeys_created_total",
			Help: "Total number of API keys created, including rotation replacements.",
		},
	)

	APIKeysRevokedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apikeys_revoked_total",
			Help: "Total number of API keys revoked, including rotations.",
		},
	)
)

// Gateway metrics.
//
// RateLimitRejectionsTotal has a {class} label ("auth" or "api") matching the
// two rate limit budgets. ProxiedRequestsTotal is labelled by the route
// prefix that matched, not the full path.
var (
	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_rejections_total",
			Help: "Total number of requests rejected with 429, by rate limit class.",
		},
		[]string{"class"},
	)

	ProxiedRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_proxied_requests_total",
			Help: "Total number of requests proxied to a backend, by route prefix and status.",
		},
		[]string{"route", "status"},
	)

	ProxyErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_proxy_errors_total",
			Help: "Total number of failed proxy attempts, by route prefix.",
		},
		[]string{"route"},
	)
)

// DBOpenConnections tracks the number of open connections currently held by
// the sql.DB pool. It is sampled every 30 seconds by StartDBStatsCollector
// rather than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates DBOpenConnections.
// The goroutine exits when the database becomes unreachable, which happens
// automatically when the application shuts down and defers db.Close().
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
