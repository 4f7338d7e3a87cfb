// Package api wires the Airlock backend HTTP surface: the authentication
// endpoints, the admin API key endpoints, and the operational endpoints
// (health, version, metrics).
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/airlock-platform/airlock/internal/api/authapi"
	"github.com/airlock-platform/airlock/internal/api/keysapi"
	"github.com/airlock-platform/airlock/internal/config"
	"github.com/airlock-platform/airlock/internal/db/repositories"
	"github.com/airlock-platform/airlock/internal/jobs"
	"github.com/airlock-platform/airlock/internal/keys"
	"github.com/airlock-platform/airlock/internal/middleware"
	"github.com/airlock-platform/airlock/internal/oauth"
	"github.com/airlock-platform/airlock/internal/token"
)

// Version is the backend version string reported by /version. Overridden at
// build time with -ldflags.
var Version = "0.1.0"

// BackgroundServices owns goroutines started by the router that outlive
// individual requests. Shutdown stops them after the HTTP server drains.
type BackgroundServices struct {
	limiters []middleware.Limiter
	sweeper  *jobs.ExpiredKeySweeper
}

// Shutdown stops background goroutines. Safe to call once after the HTTP
// server has stopped accepting requests.
func (s *BackgroundServices) Shutdown() {
	for _, l := range s.limiters {
		l.Stop()
	}
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
}

// NewRouter builds the backend gin engine. db may be nil only in deployments
// without API key support; the key endpoints are then not mounted.
func NewRouter(cfg *config.Config, db *sqlx.DB, codec *token.Codec, provider oauth.Provider) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	bg := &BackgroundServices{}

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": "airlock", "version": Version})
	})
	if cfg.Telemetry.Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	var keysSvc *keys.Service
	var auditRepo *repositories.AuditRepository
	if db != nil {
		keyRepo := repositories.NewAPIKeyRepository(db)
		keysSvc = keys.NewService(keyRepo, cfg.APIKeys.Prefix)
		auditRepo = repositories.NewAuditRepository(db)

		bg.sweeper = jobs.NewExpiredKeySweeper(keyRepo,
			time.Duration(cfg.APIKeys.SweepIntervalHours)*time.Hour,
			time.Duration(cfg.APIKeys.ExpiredRetentionDays)*24*time.Hour,
		)
		go bg.sweeper.Start(context.Background())
	}

	authHandlers := authapi.NewHandlers(cfg, codec, provider, keysSvc)
	authGroup := router.Group("/api/v1/auth")
	if cfg.Security.RateLimiting.Enabled {
		limiter := newLimiter(cfg, middleware.APIRateLimitConfig(
			cfg.Security.RateLimiting.AuthRequestsPerMinute,
			cfg.Security.RateLimiting.AuthBurst,
		), "auth")
		bg.limiters = append(bg.limiters, limiter)
		authGroup.Use(middleware.RateLimitMiddleware(limiter, "auth"))
	}
	authHandlers.Register(authGroup)

	if keysSvc != nil {
		keyHandlers := keysapi.NewHandlers(keysSvc)
		keysGroup := router.Group("/api/v1/keys")
		keysGroup.Use(middleware.AuthMiddleware(codec))
		keysGroup.Use(middleware.RequireRole("admin"))
		if cfg.Audit.Enabled && auditRepo != nil {
			keysGroup.Use(middleware.AuditMiddleware(auditRepo, &cfg.Audit))
		}
		keyHandlers.Register(keysGroup)
	}

	return router, bg
}

// newLimiter picks the limiter implementation: Redis-backed when an address
// is configured so every backend replica enforces one shared budget,
// otherwise a per-process token bucket.
func newLimiter(cfg *config.Config, rlCfg middleware.RateLimitConfig, prefix string) middleware.Limiter {
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return middleware.NewRedisLimiter(client, rlCfg, prefix)
	}
	return middleware.NewRateLimiter(rlCfg)
}
