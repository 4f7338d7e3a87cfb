// Package authapi implements the authentication endpoints of the Airlock
// backend: OAuth2 login and callback, the token endpoint serving both API
// key exchange and refresh-token rotation, logout, and the identity echo.
package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/airlock-platform/airlock/internal/authcode"
	"github.com/airlock-platform/airlock/internal/config"
	"github.com/airlock-platform/airlock/internal/httperr"
	"github.com/airlock-platform/airlock/internal/keys"
	"github.com/airlock-platform/airlock/internal/middleware"
	"github.com/airlock-platform/airlock/internal/oauth"
	"github.com/airlock-platform/airlock/internal/telemetry"
	"github.com/airlock-platform/airlock/internal/token"
)

// defaultExchangeTimeout bounds the provider round trips when the config
// leaves oauth.exchange_timeout unset.
const defaultExchangeTimeout = 30 * time.Second

// Handlers serves the /api/v1/auth endpoints.
type Handlers struct {
	cfg      *config.Config
	codec    *token.Codec
	provider oauth.Provider
	keys     *keys.Service
	states   *authcode.Store
	replays  *replayGuard
}

// NewHandlers wires the authentication endpoints. keysSvc may be nil when
// the deployment runs without API keys; the token endpoint then rejects any
// API key exchange.
func NewHandlers(cfg *config.Config, codec *token.Codec, provider oauth.Provider, keysSvc *keys.Service) *Handlers {
	return &Handlers{
		cfg:      cfg,
		codec:    codec,
		provider: provider,
		keys:     keysSvc,
		states:   authcode.NewStore(),
		replays:  newReplayGuard(defaultReplayCapacity),
	}
}

// Register mounts the auth endpoints on g, which is expected to be the
// /api/v1/auth group. The /me endpoint authenticates itself; everything
// else is reachable without a token.
func (h *Handlers) Register(g *gin.RouterGroup) {
	g.GET("/login", h.Login)
	g.GET("/callback", h.Callback)
	g.POST("/token", h.Token)
	g.POST("/logout", h.Logout)
	g.GET("/me", middleware.AuthMiddleware(h.codec), h.Me)
}

// Login starts the OAuth2 authorization code flow. The response carries the
// provider authorization URL and the CSRF state; clients may bring their own
// state, otherwise one is generated. An optional username query is forwarded
// to the provider as a login hint, which the bundled mock IdP uses to select
// a fixture user.
//
// GET /api/v1/auth/login?username=&state=&redirect_uri=
func (h *Handlers) Login(c *gin.Context) {
	entry := authcode.Entry{
		RedirectURI: c.Query("redirect_uri"),
		Username:    c.Query("username"),
	}

	state := c.Query("state")
	if state == "" {
		generated, err := h.states.NewState(entry)
		if err != nil {
			slog.Error("failed to generate login state", "error", err)
			httperr.Internal(c)
			return
		}
		state = generated
	} else {
		h.states.Put(state, entry)
	}

	authURL := h.provider.AuthURL(state)
	if entry.Username != "" {
		authURL = appendQuery(authURL, "login_hint", entry.Username)
	}

	c.JSON(http.StatusOK, gin.H{
		"authorization_url": authURL,
		"state":             state,
	})
}

// appendQuery adds one query parameter to a URL that already carries others.
func appendQuery(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

// Callback completes the authorization code flow: it validates the single-use
// state, exchanges the code at the provider, and mints an Airlock token pair.
// With a frontend URL configured the pair travels in a redirect; otherwise it
// is returned as JSON.
//
// GET /api/v1/auth/callback?code=&state=
func (h *Handlers) Callback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		httperr.Respond(c, httperr.CodeInvalidRequest, "code and state query parameters are required")
		return
	}

	entry, ok := h.states.Take(state)
	if !ok {
		telemetry.LoginsTotal.WithLabelValues("bad_state").Inc()
		httperr.Respond(c, httperr.CodeUnauthorized, "Invalid or expired state")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.exchangeTimeout())
	defer cancel()

	profile, err := h.provider.Exchange(ctx, code)
	if err != nil {
		h.respondExchangeError(c, err)
		return
	}

	pair, err := h.codec.IssueUserPair(token.UserInfo{
		Subject:  profile.Subject,
		Username: profile.Username,
		Roles:    profile.Roles,
		Scope:    strings.Join(h.cfg.OAuth.Scopes, " "),
	})
	if err != nil {
		slog.Error("failed to issue token pair", "user", profile.Username, "error", err)
		httperr.Internal(c)
		return
	}

	telemetry.LoginsTotal.WithLabelValues("ok").Inc()
	telemetry.TokensIssuedTotal.WithLabelValues(token.TypeAccess, token.AuthTypeOAuth).Inc()
	telemetry.TokensIssuedTotal.WithLabelValues(token.TypeRefresh, token.AuthTypeOAuth).Inc()
	slog.Info("user logged in", "user", profile.Username, "roles", profile.Roles)

	if target := h.frontendTarget(entry); target != "" {
		c.Redirect(http.StatusFound, appendPairQuery(target, pair, state))
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h *Handlers) exchangeTimeout() time.Duration {
	if h.cfg.OAuth.ExchangeTimeout > 0 {
		return h.cfg.OAuth.ExchangeTimeout
	}
	return defaultExchangeTimeout
}

// frontendTarget picks the post-login destination: the per-login redirect
// request wins, then the configured frontend URL. Empty means respond with
// JSON instead of redirecting.
func (h *Handlers) frontendTarget(entry authcode.Entry) string {
	if entry.RedirectURI != "" {
		return entry.RedirectURI
	}
	if h.cfg.Server.FrontendURL != "" {
		return strings.TrimSuffix(h.cfg.Server.FrontendURL, "/") + "/auth/callback"
	}
	return ""
}

// appendPairQuery carries the token pair to the frontend in the redirect
// query. The state rides along so a frontend running its own CSRF check can
// correlate the callback with the login it initiated.
func appendPairQuery(target string, pair token.Pair, state string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set("access_token", pair.AccessToken)
	q.Set("refresh_token", pair.RefreshToken)
	q.Set("token_type", pair.TokenType)
	q.Set("expires_in", strconv.Itoa(pair.ExpiresIn))
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String()
}

func (h *Handlers) respondExchangeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, oauth.ErrBadGrant):
		telemetry.LoginsTotal.WithLabelValues("bad_grant").Inc()
		httperr.Respond(c, httperr.CodeInvalidGrant, "Authorization code was rejected by the identity provider")
	case errors.Is(err, oauth.ErrNoSubject):
		telemetry.LoginsTotal.WithLabelValues("no_subject").Inc()
		httperr.Respond(c, httperr.CodeUnauthorized, "Identity provider returned no subject")
	default:
		telemetry.LoginsTotal.WithLabelValues("upstream_error").Inc()
		slog.Error("identity provider exchange failed", "error", err)
		httperr.Respond(c, httperr.CodeUpstreamUnavailable, "Identity provider is unavailable")
	}
}

// Token is the token endpoint. Dispatch is discriminated by credential kind:
// a present X-API-Key header selects the API key exchange; a grant_type of
// "api_key" without the header is a client error that names the header; and
// everything else must be a refresh_token grant.
//
// POST /api/v1/auth/token
func (h *Handlers) Token(c *gin.Context) {
	if apiKey := c.GetHeader("X-API-Key"); apiKey != "" {
		h.tokenFromAPIKey(c, apiKey)
		return
	}
	if c.PostForm("grant_type") == "api_key" {
		httperr.Respond(c, httperr.CodeAPIKeyRequired, "API key is required. Provide it in X-API-Key header.")
		return
	}
	h.tokenFromRefresh(c)
}

func (h *Handlers) tokenFromAPIKey(c *gin.Context, apiKey string) {
	if h.keys == nil {
		httperr.Respond(c, httperr.CodeInvalidAPIKey, "Invalid API key")
		return
	}

	key, err := h.keys.Verify(c.Request.Context(), apiKey)
	if err != nil {
		if errors.Is(err, keys.ErrInvalidKey) {
			httperr.Respond(c, httperr.CodeInvalidAPIKey, "Invalid API key")
			return
		}
		slog.Error("api key verification failed", "error", err)
		httperr.Internal(c)
		return
	}

	keyID := strconv.FormatInt(key.ID, 10)
	pair, err := h.codec.IssueAPIKeyPair(token.KeyInfo{
		Subject:     "api-key-" + keyID,
		Username:    key.Name,
		KeyID:       keyID,
		Scopes:      key.Scopes,
		Permissions: key.Permissions,
	})
	if err != nil {
		slog.Error("failed to issue api key token pair", "key_id", key.ID, "error", err)
		httperr.Internal(c)
		return
	}

	telemetry.TokensIssuedTotal.WithLabelValues(token.TypeAccess, token.AuthTypeAPIKey).Inc()
	telemetry.TokensIssuedTotal.WithLabelValues(token.TypeRefresh, token.AuthTypeAPIKey).Inc()
	c.JSON(http.StatusOK, pair)
}

func (h *Handlers) tokenFromRefresh(c *gin.Context) {
	grantType := c.PostForm("grant_type")
	if grantType != "refresh_token" {
		httperr.Respond(c, httperr.CodeInvalidRequest, "Only 'refresh_token' grant type is supported")
		return
	}
	refreshToken := c.PostForm("refresh_token")
	if refreshToken == "" {
		httperr.Respond(c, httperr.CodeInvalidRequest, "refresh_token is required")
		return
	}

	claims, err := h.codec.Verify(refreshToken, token.TypeRefresh)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			httperr.Respond(c, httperr.CodeInvalidGrant, "Refresh token has expired")
			return
		}
		httperr.Respond(c, httperr.CodeInvalidGrant, "Invalid refresh token")
		return
	}

	// Rotation: the presented jti is burned before the new pair is minted,
	// so a replayed refresh token inside its lifetime fails.
	if claims.ID != "" && !h.replays.Use(claims.ID, claims.ExpiresAt.Time) {
		slog.Warn("refresh token replay detected", "sub", claims.Subject, "jti", claims.ID)
		httperr.Respond(c, httperr.CodeInvalidGrant, "Refresh token has already been used")
		return
	}

	var pair token.Pair
	if claims.IsAPIKey() {
		pair, err = h.codec.IssueAPIKeyPair(token.KeyInfo{
			Subject:     claims.Subject,
			Username:    claims.Username,
			KeyID:       claims.APIKeyID,
			Scopes:      claims.Scopes,
			Permissions: claims.Permissions,
		})
	} else {
		pair, err = h.codec.IssueUserPair(token.UserInfo{
			Subject:  claims.Subject,
			Username: claims.Username,
			Roles:    claims.Roles,
			Scope:    claims.Scope,
		})
	}
	if err != nil {
		slog.Error("failed to rotate token pair", "sub", claims.Subject, "error", err)
		httperr.Internal(c)
		return
	}

	telemetry.TokensIssuedTotal.WithLabelValues(token.TypeAccess, claims.AuthType).Inc()
	telemetry.TokensIssuedTotal.WithLabelValues(token.TypeRefresh, claims.AuthType).Inc()
	c.JSON(http.StatusOK, pair)
}

// Logout acknowledges a logout. Tokens are stateless, so the real logout is
// the client discarding them; the endpoint exists so clients have a uniform
// flow across deployments.
//
// POST /api/v1/auth/logout
func (h *Handlers) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Successfully logged out"})
}

// Me echoes the verified identity of the caller, claims only, no database
// lookup.
//
// GET /api/v1/auth/me
func (h *Handlers) Me(c *gin.Context) {
	resp := gin.H{
		"user_id":   middleware.UserIDFromContext(c),
		"username":  middleware.UsernameFromContext(c),
		"auth_type": c.GetString(middleware.ContextAuthType),
	}
	if roles := middleware.RolesFromContext(c); len(roles) > 0 {
		resp["roles"] = roles
	}
	if scope := c.GetString(middleware.ContextScope); scope != "" {
		resp["scope"] = scope
	}
	if keyID := c.GetString(middleware.ContextAPIKeyID); keyID != "" {
		resp["api_key_id"] = keyID
		if v, ok := c.Get(middleware.ContextScopes); ok {
			if scopes, ok := v.([]string); ok && len(scopes) > 0 {
				resp["scopes"] = scopes
			}
		}
	}
	c.JSON(http.StatusOK, resp)
}
