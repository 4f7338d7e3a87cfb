// Package gateway implements the boundary filter that fronts the Airlock
// services. Every request passes the same pipeline in a fixed order:
// allow-list check, bearer extraction, token verification, admin path
// gating, identity header injection, rate limiting, and finally prefix
// routing to a backend via httputil.ReverseProxy.
//
// The gateway is the only component trusted to set the X-User-ID family of
// headers; it strips any inbound copies before injecting its own, so the
// backends can treat those headers as authenticated fact.
package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/airlock-platform/airlock/internal/config"
	"github.com/airlock-platform/airlock/internal/httperr"
	"github.com/airlock-platform/airlock/internal/middleware"
	"github.com/airlock-platform/airlock/internal/telemetry"
	"github.com/airlock-platform/airlock/internal/token"
)

// Identity headers injected by the gateway and stripped from inbound
// requests. Backends read these instead of re-verifying the token.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUsername = "X-Username"
	HeaderRoles    = "X-Roles"
	HeaderScope    = "X-Scope"
	HeaderAPIKeyID = "X-API-Key-ID"
	HeaderAuthType = "X-Auth-Type"
)

var identityHeaders = []string{
	HeaderUserID, HeaderUsername, HeaderRoles, HeaderScope, HeaderAPIKeyID, HeaderAuthType,
}

// Paths reachable without a bearer token when the config does not override
// the list. Entries ending in "/*" match by prefix.
var defaultOpenPaths = []string{
	"/health",
	"/api/v1/auth/login",
	"/api/v1/auth/callback",
	"/api/v1/auth/token",
	"/.well-known/*",
}

// Default budgets, applied when the rate limiting config leaves them zero.
const (
	defaultAuthRequestsPerMinute = 10
	defaultAuthBurst             = 5
	defaultAPIRequestsPerMinute  = 200
	defaultAPIBurst              = 50
)

type route struct {
	prefix string
	proxy  *httputil.ReverseProxy
}

// Gateway holds the compiled routing table, the verification codec and the
// two rate limit budgets.
type Gateway struct {
	cfg           *config.Config
	codec         *token.Codec
	routes        []route
	openPaths     []string
	adminPrefixes []string
	authLimiter   middleware.Limiter
	apiLimiter    middleware.Limiter
}

// New compiles the gateway from config. Route targets must be absolute URLs;
// a malformed target is a startup error rather than a per-request 502.
func New(cfg *config.Config, codec *token.Codec) (*Gateway, error) {
	g := &Gateway{
		cfg:           cfg,
		codec:         codec,
		openPaths:     cfg.Gateway.OpenPaths,
		adminPrefixes: cfg.Gateway.AdminPrefixes,
	}
	if len(g.openPaths) == 0 {
		g.openPaths = defaultOpenPaths
	}

	for prefix, target := range cfg.Gateway.Routes {
		u, err := url.Parse(target)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("gateway route %q: invalid target %q", prefix, target)
		}
		g.routes = append(g.routes, route{prefix: prefix, proxy: newProxy(prefix, u)})
	}
	// Longest prefix wins, so /api/v1/auth/keys-style overlaps resolve
	// deterministically.
	sort.Slice(g.routes, func(i, j int) bool {
		return len(g.routes[i].prefix) > len(g.routes[j].prefix)
	})

	if cfg.Security.RateLimiting.Enabled {
		rl := cfg.Security.RateLimiting
		g.authLimiter = g.newLimiter(middleware.APIRateLimitConfig(
			orDefault(rl.AuthRequestsPerMinute, defaultAuthRequestsPerMinute),
			orDefault(rl.AuthBurst, defaultAuthBurst),
		), "gw:auth")
		g.apiLimiter = g.newLimiter(middleware.APIRateLimitConfig(
			orDefault(rl.RequestsPerMinute, defaultAPIRequestsPerMinute),
			orDefault(rl.Burst, defaultAPIBurst),
		), "gw:api")
	}
	return g, nil
}

// newLimiter mirrors the backend's choice: a shared Redis budget when an
// address is configured, otherwise a per-process token bucket.
func (g *Gateway) newLimiter(rlCfg middleware.RateLimitConfig, prefix string) middleware.Limiter {
	if g.cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     g.cfg.Redis.Addr,
			Password: g.cfg.Redis.Password,
			DB:       g.cfg.Redis.DB,
		})
		return middleware.NewRedisLimiter(client, rlCfg, prefix)
	}
	return middleware.NewRateLimiter(rlCfg)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Shutdown stops the limiter cleanup goroutines.
func (g *Gateway) Shutdown() {
	if g.authLimiter != nil {
		g.authLimiter.Stop()
	}
	if g.apiLimiter != nil {
		g.apiLimiter.Stop()
	}
}

// Router builds the gin engine. The filter runs as middleware so the health
// endpoint and the proxy fallback share one chain.
func (g *Gateway) Router() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestIDMiddleware())
	engine.Use(middleware.MetricsMiddleware())
	engine.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	engine.Use(g.filter)

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.NoRoute(g.proxyRequest)
	return engine
}

// filter runs the authentication and rate limiting stages. Routing happens
// afterwards in proxyRequest.
func (g *Gateway) filter(c *gin.Context) {
	stripIdentityHeaders(c.Request)

	path := c.Request.URL.Path
	if !g.isOpen(path) {
		claims, ok := g.authenticate(c)
		if !ok {
			return
		}
		if g.requiresAdmin(path) && !hasRole(claims.Roles, "admin") {
			httperr.Abort(c, httperr.CodeForbidden, "Admin role required")
			return
		}
		injectIdentity(c, claims)
	}

	if !g.rateLimit(c, path) {
		return
	}
	c.Next()
}

// authenticate extracts and verifies the bearer token, returning the claims
// or aborting with 401. The failure messages match the backend's own auth
// middleware so clients see one vocabulary.
func (g *Gateway) authenticate(c *gin.Context) (*token.Claims, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		httperr.Abort(c, httperr.CodeUnauthorized, "Authorization header required")
		return nil, false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		httperr.Abort(c, httperr.CodeUnauthorized, "Authorization header required")
		return nil, false
	}

	claims, err := g.codec.Verify(parts[1], token.TypeAccess)
	if err != nil {
		httperr.Abort(c, httperr.CodeUnauthorized, middleware.VerifyFailureMessage(err))
		return nil, false
	}
	return claims, true
}

// injectIdentity sets the trusted identity headers on the outbound request
// and mirrors the caller into the gin context so the rate limiter keys on
// user identity rather than source IP.
func injectIdentity(c *gin.Context, claims *token.Claims) {
	h := c.Request.Header
	h.Set(HeaderUserID, claims.Subject)
	h.Set(HeaderUsername, claims.Username)
	h.Set(HeaderRoles, strings.Join(claims.Roles, ","))
	h.Set(HeaderScope, claims.Scope)
	if claims.IsAPIKey() {
		h.Set(HeaderAPIKeyID, claims.APIKeyID)
		h.Set(HeaderAuthType, claims.AuthType)
	}

	c.Set(middleware.ContextUserID, claims.Subject)
	c.Set(middleware.ContextUsername, claims.Username)
	c.Set(middleware.ContextRoles, claims.Roles)
	c.Set(middleware.ContextAPIKeyID, claims.APIKeyID)
}

// rateLimit applies the auth budget to auth endpoints and the api budget to
// everything else. A rejected request gets 429 regardless of whether its
// token was valid.
func (g *Gateway) rateLimit(c *gin.Context, path string) bool {
	var (
		limiter middleware.Limiter
		class   string
	)
	if strings.HasPrefix(path, "/api/v1/auth") {
		limiter, class = g.authLimiter, "auth"
	} else {
		limiter, class = g.apiLimiter, "api"
	}
	if limiter == nil {
		return true
	}

	decision := limiter.Allow(c.Request.Context(), rateLimitKey(c))
	c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	if !decision.Allowed {
		retryAfter := int(decision.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		telemetry.RateLimitRejectionsTotal.WithLabelValues(class).Inc()
		httperr.Abort(c, httperr.CodeTooManyRequests, "Rate limit exceeded")
		return false
	}
	return true
}

func rateLimitKey(c *gin.Context) string {
	if id := c.GetString(middleware.ContextUserID); id != "" {
		return "user:" + id
	}
	if id := c.GetString(middleware.ContextAPIKeyID); id != "" {
		return "apikey:" + id
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}

// proxyRequest forwards to the longest matching route prefix.
func (g *Gateway) proxyRequest(c *gin.Context) {
	path := c.Request.URL.Path
	for _, r := range g.routes {
		if strings.HasPrefix(path, r.prefix) {
			r.proxy.ServeHTTP(c.Writer, c.Request)
			return
		}
	}
	httperr.Respond(c, httperr.CodeNotFound, "No route for path")
}

// newProxy builds the reverse proxy for one route. The request path is
// preserved; the target URL supplies scheme, host and any base path.
func newProxy(prefix string, target *url.URL) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = target.Host
		},
		ModifyResponse: func(resp *http.Response) error {
			telemetry.ProxiedRequestsTotal.WithLabelValues(prefix, strconv.Itoa(resp.StatusCode)).Inc()
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			telemetry.ProxyErrorsTotal.WithLabelValues(prefix).Inc()
			slog.Error("proxy request failed",
				"route", prefix,
				"path", r.URL.Path,
				"error", err,
			)
			httperr.Write(w, httperr.CodeUpstreamUnavailable, "Backend service unavailable")
		},
	}
}

func (g *Gateway) isOpen(path string) bool {
	for _, p := range g.openPaths {
		if prefix, ok := strings.CutSuffix(p, "/*"); ok {
			if strings.HasPrefix(path, prefix+"/") || path == prefix {
				return true
			}
			continue
		}
		if path == p {
			return true
		}
	}
	return false
}

func (g *Gateway) requiresAdmin(path string) bool {
	for _, p := range g.adminPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}

func stripIdentityHeaders(r *http.Request) {
	for _, h := range identityHeaders {
		r.Header.Del(h)
	}
}
