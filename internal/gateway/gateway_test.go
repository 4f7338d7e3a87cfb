package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/airlock-platform/airlock/internal/config"
	"github.com/airlock-platform/airlock/internal/token"
)

// echoBackend returns the identity headers it received, so tests can assert
// what the gateway injected (and what it stripped).
func echoBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen := map[string]string{}
		for _, h := range identityHeaders {
			seen[h] = r.Header.Get(h)
		}
		seen["path"] = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(seen)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newCodec(t *testing.T) *token.Codec {
	t.Helper()
	c, err := token.NewCodec(token.Config{
		Secret:     "gateway-test-secret-0123456789abcdef",
		Issuer:     "airlock",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 168 * time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func newGateway(t *testing.T, backend string, mutate func(*config.Config)) (*gin.Engine, *token.Codec) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.Gateway.Routes = map[string]string{
		"/api/v1/auth": backend,
		"/api/v1/keys": backend,
	}
	cfg.Gateway.AdminPrefixes = []string{"/api/v1/keys"}
	if mutate != nil {
		mutate(cfg)
	}

	codec := newCodec(t)
	gw, err := New(cfg, codec)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(gw.Shutdown)
	return gw.Router(), codec
}

func doGateway(r *gin.Engine, method, target, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	// httptest.ResponseRecorder does not implement http.CloseNotifier; give
	// the request a cancellable context so ReverseProxy watches ctx.Done()
	// instead of falling back to CloseNotify.
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	req = req.WithContext(ctx)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func backendEcho(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var seen map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &seen); err != nil {
		t.Fatalf("backend echo: %v (body %s)", err, w.Body.String())
	}
	return seen
}

func gatewayError(t *testing.T, w *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("error envelope: %v (body %s)", err, w.Body.String())
	}
	return body.Error.Code, body.Error.Message
}

func accessToken(t *testing.T, codec *token.Codec, roles ...string) string {
	t.Helper()
	pair, err := codec.IssueUserPair(token.UserInfo{
		Subject:  "user-42",
		Username: "alice",
		Roles:    roles,
		Scope:    "openid profile",
	})
	if err != nil {
		t.Fatal(err)
	}
	return pair.AccessToken
}

func TestHealthIsOpen(t *testing.T) {
	r, _ := newGateway(t, echoBackend(t).URL, nil)

	if w := doGateway(r, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("/health status = %d", w.Code)
	}
}

func TestOpenPathsProxyWithoutToken(t *testing.T) {
	r, _ := newGateway(t, echoBackend(t).URL, nil)

	for _, path := range []string{
		"/api/v1/auth/login",
		"/api/v1/auth/callback",
		"/api/v1/auth/token",
	} {
		w := doGateway(r, http.MethodGet, path, "")
		if w.Code != http.StatusOK {
			t.Errorf("%s status = %d, want proxied 200", path, w.Code)
		}
	}
}

func TestWellKnownWildcardIsOpen(t *testing.T) {
	r, _ := newGateway(t, echoBackend(t).URL, func(cfg *config.Config) {
		cfg.Gateway.Routes["/.well-known"] = cfg.Gateway.Routes["/api/v1/auth"]
	})

	w := doGateway(r, http.MethodGet, "/.well-known/openid-configuration", "")
	if w.Code != http.StatusOK {
		t.Errorf("wildcard open path status = %d", w.Code)
	}
}

// The allow-list a real deployment runs with comes from the config defaults,
// not the in-code fallback, so OpenID discovery must be open there too.
func TestWellKnownOpenUnderLoadedDefaults(t *testing.T) {
	t.Setenv("DEV_MODE", "true")
	t.Setenv("AIRLOCK_JWT_SECRET", "")
	gin.SetMode(gin.TestMode)

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	backend := echoBackend(t)
	cfg.Gateway.Routes = map[string]string{"/.well-known": backend.URL}
	cfg.Security.RateLimiting.Enabled = false

	gw, err := New(cfg, newCodec(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(gw.Shutdown)

	w := doGateway(gw.Router(), http.MethodGet, "/.well-known/openid-configuration", "")
	if w.Code != http.StatusOK {
		t.Errorf("discovery path under default config status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestMissingTokenRejected(t *testing.T) {
	r, _ := newGateway(t, echoBackend(t).URL, nil)

	w := doGateway(r, http.MethodGet, "/api/v1/auth/me", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if code, msg := gatewayError(t, w); code != "UNAUTHORIZED" || msg != "Authorization header required" {
		t.Errorf("envelope = %s %q", code, msg)
	}
}

func TestGarbageTokenRejected(t *testing.T) {
	r, _ := newGateway(t, echoBackend(t).URL, nil)

	w := doGateway(r, http.MethodGet, "/api/v1/auth/me", "not-a-jwt")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if code, _ := gatewayError(t, w); code != "UNAUTHORIZED" {
		t.Errorf("code = %s", code)
	}
}

func TestRefreshTokenRejectedAsAccess(t *testing.T) {
	r, codec := newGateway(t, echoBackend(t).URL, nil)

	pair, err := codec.IssueUserPair(token.UserInfo{Subject: "u", Username: "alice"})
	if err != nil {
		t.Fatal(err)
	}

	w := doGateway(r, http.MethodGet, "/api/v1/auth/me", pair.RefreshToken)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if _, msg := gatewayError(t, w); msg != "Invalid token type. Access token required." {
		t.Errorf("message = %q", msg)
	}
}

func TestAdminPrefixRequiresAdminRole(t *testing.T) {
	r, codec := newGateway(t, echoBackend(t).URL, nil)

	w := doGateway(r, http.MethodGet, "/api/v1/keys", accessToken(t, codec, "submitter"))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if code, msg := gatewayError(t, w); code != "FORBIDDEN" || msg != "Admin role required" {
		t.Errorf("envelope = %s %q", code, msg)
	}

	w = doGateway(r, http.MethodGet, "/api/v1/keys", accessToken(t, codec, "admin"))
	if w.Code != http.StatusOK {
		t.Errorf("admin status = %d, want proxied 200", w.Code)
	}
}

func TestIdentityHeadersInjected(t *testing.T) {
	r, codec := newGateway(t, echoBackend(t).URL, nil)

	w := doGateway(r, http.MethodGet, "/api/v1/auth/me", accessToken(t, codec, "submitter", "reviewer"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	seen := backendEcho(t, w)
	if seen[HeaderUserID] != "user-42" {
		t.Errorf("X-User-ID = %q", seen[HeaderUserID])
	}
	if seen[HeaderUsername] != "alice" {
		t.Errorf("X-Username = %q", seen[HeaderUsername])
	}
	if seen[HeaderRoles] != "submitter,reviewer" {
		t.Errorf("X-Roles = %q", seen[HeaderRoles])
	}
	if seen[HeaderScope] != "openid profile" {
		t.Errorf("X-Scope = %q", seen[HeaderScope])
	}
	if seen[HeaderAPIKeyID] != "" || seen[HeaderAuthType] != "" {
		t.Error("API key headers set for an OAuth token")
	}
}

func TestAPIKeyTokenHeaders(t *testing.T) {
	r, codec := newGateway(t, echoBackend(t).URL, nil)

	pair, err := codec.IssueAPIKeyPair(token.KeyInfo{
		Subject:  "api-key-7",
		Username: "ci-deploy",
		KeyID:    "7",
		Scopes:   []string{"read"},
	})
	if err != nil {
		t.Fatal(err)
	}

	w := doGateway(r, http.MethodGet, "/api/v1/auth/me", pair.AccessToken)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	seen := backendEcho(t, w)
	if seen[HeaderAPIKeyID] != "7" {
		t.Errorf("X-API-Key-ID = %q", seen[HeaderAPIKeyID])
	}
	if seen[HeaderAuthType] != "api_key" {
		t.Errorf("X-Auth-Type = %q", seen[HeaderAuthType])
	}
}

func TestSpoofedIdentityHeadersStripped(t *testing.T) {
	r, _ := newGateway(t, echoBackend(t).URL, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/login", nil)
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	req = req.WithContext(ctx)
	req.Header.Set(HeaderUserID, "forged-admin")
	req.Header.Set(HeaderRoles, "admin")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	seen := backendEcho(t, w)
	if seen[HeaderUserID] != "" || seen[HeaderRoles] != "" {
		t.Errorf("spoofed headers reached backend: %v", seen)
	}
}

func TestUnmatchedRouteIs404(t *testing.T) {
	r, codec := newGateway(t, echoBackend(t).URL, nil)

	w := doGateway(r, http.MethodGet, "/api/v2/unknown", accessToken(t, codec, "submitter"))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if code, _ := gatewayError(t, w); code != "NOT_FOUND" {
		t.Errorf("code = %s", code)
	}
}

func TestBackendDownIs503(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	r, _ := newGateway(t, dead.URL, nil)

	w := doGateway(r, http.MethodGet, "/api/v1/auth/login", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if code, _ := gatewayError(t, w); code != "UPSTREAM_UNAVAILABLE" {
		t.Errorf("code = %s", code)
	}
}

func TestInvalidRouteTargetRejectedAtStartup(t *testing.T) {
	cfg := &config.Config{}
	cfg.Gateway.Routes = map[string]string{"/api/v1/auth": "not a url"}

	if _, err := New(cfg, newCodec(t)); err == nil {
		t.Fatal("expected error for malformed route target")
	}
}

func TestRateLimitRejectsOverBudget(t *testing.T) {
	r, _ := newGateway(t, echoBackend(t).URL, func(cfg *config.Config) {
		cfg.Security.RateLimiting.Enabled = true
		cfg.Security.RateLimiting.AuthRequestsPerMinute = 1
		cfg.Security.RateLimiting.AuthBurst = 2
	})

	var last *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		last = doGateway(r, http.MethodGet, "/api/v1/auth/login", "")
		if last.Code == http.StatusTooManyRequests {
			break
		}
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("never hit the rate limit, last status = %d", last.Code)
	}
	if code, _ := gatewayError(t, last); code != "TOO_MANY_REQUESTS" {
		t.Errorf("code = %s", code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestRateLimitAppliesEvenWithValidToken(t *testing.T) {
	r, codec := newGateway(t, echoBackend(t).URL, func(cfg *config.Config) {
		cfg.Security.RateLimiting.Enabled = true
		cfg.Security.RateLimiting.RequestsPerMinute = 1
		cfg.Security.RateLimiting.Burst = 1
	})
	bearer := accessToken(t, codec, "admin")

	first := doGateway(r, http.MethodGet, "/api/v1/keys", bearer)
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d", first.Code)
	}
	second := doGateway(r, http.MethodGet, "/api/v1/keys", bearer)
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", second.Code)
	}
}
