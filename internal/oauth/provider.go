// Package oauth talks to the upstream identity provider: building authorize
// URLs, exchanging authorization codes, and fetching the user profile. Two
// provider modes are supported — OIDC discovery (issuer URL) and explicitly
// configured endpoints — behind one Provider interface so the auth handlers
// never know which is in play.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/airlock-platform/airlock/internal/auth"
	"github.com/airlock-platform/airlock/internal/config"
)

// ErrUpstream wraps any network or provider-side failure. Handlers map it to
// UPSTREAM_UNAVAILABLE so a dead IdP reads as an outage, not a bad grant.
var ErrUpstream = errors.New("identity provider unavailable")

// ErrBadGrant is returned when the provider rejects the authorization code
// itself.
var ErrBadGrant = errors.New("authorization code rejected")

// ErrNoSubject is returned when the provider authenticated the user but its
// profile carries no subject identifier. Without a stable subject there is
// nothing to mint a token for.
var ErrNoSubject = errors.New("identity provider returned no subject")

// UserProfile is what Airlock knows about a user after login. Roles are
// already normalized: deduplicated, never empty.
type UserProfile struct {
	Subject  string
	Username string
	Email    string
	Name     string
	Roles    []string
}

// Provider abstracts the upstream IdP.
type Provider interface {
	// AuthURL returns the provider authorization URL carrying state.
	AuthURL(state string) string
	// Exchange trades an authorization code for a user profile. Both the
	// code exchange and any profile fetch run inside ctx.
	Exchange(ctx context.Context, code string) (*UserProfile, error)
}

// New builds a Provider from configuration. An issuer URL selects OIDC
// discovery; otherwise the explicit endpoint triple is used.
func New(ctx context.Context, cfg *config.OAuthConfig) (Provider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("oauth client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("oauth client secret is required")
	}

	if cfg.IssuerURL != "" {
		return newOIDCProvider(ctx, cfg)
	}
	if cfg.AuthorizationURL == "" {
		return nil, fmt.Errorf("oauth requires either issuer_url or explicit endpoints")
	}
	return newEndpointProvider(cfg), nil
}

// oidcProvider verifies identity via the provider's ID token and JWKS.
type oidcProvider struct {
	verifier *oidc.IDTokenVerifier
	config   *oauth2.Config
	timeout  time.Duration
}

func newOIDCProvider(ctx context.Context, cfg *config.OAuthConfig) (*oidcProvider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %s: %w", cfg.IssuerURL, err)
	}

	return &oidcProvider{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       cfg.Scopes,
		},
		timeout: cfg.ExchangeTimeout,
	}, nil
}

func (p *oidcProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

func (p *oidcProvider) Exchange(ctx context.Context, code string) (*UserProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, classifyExchangeError(err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("%w: token response missing id_token", ErrUpstream)
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verifying id token: %w", err)
	}

	var claims struct {
		Sub               string   `json:"sub"`
		Email             string   `json:"email"`
		Name              string   `json:"name"`
		PreferredUsername string   `json:"preferred_username"`
		Roles             []string `json:"roles"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parsing id token claims: %w", err)
	}
	if claims.Sub == "" {
		return nil, fmt.Errorf("%w: id token missing 'sub' claim", ErrNoSubject)
	}

	return buildProfile(claims.Sub, claims.PreferredUsername, claims.Email, claims.Name, claims.Roles), nil
}

// endpointProvider works against explicitly configured endpoints and fetches
// the profile from the userinfo endpoint with the provider access token.
// Used for providers without discovery documents, including the bundled mock
// IdP.
type endpointProvider struct {
	config      *oauth2.Config
	userinfoURL string
	timeout     time.Duration
	client      *http.Client
}

func newEndpointProvider(cfg *config.OAuthConfig) *endpointProvider {
	return &endpointProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthorizationURL,
				TokenURL: cfg.TokenURL,
			},
			Scopes: cfg.Scopes,
		},
		userinfoURL: cfg.UserinfoURL,
		timeout:     cfg.ExchangeTimeout,
		client:      &http.Client{Timeout: cfg.ExchangeTimeout},
	}
}

func (p *endpointProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

func (p *endpointProvider) Exchange(ctx context.Context, code string) (*UserProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, classifyExchangeError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userinfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: userinfo request: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: userinfo returned %d: %s", ErrUpstream, resp.StatusCode, body)
	}

	var info struct {
		Sub               string   `json:"sub"`
		Email             string   `json:"email"`
		Name              string   `json:"name"`
		PreferredUsername string   `json:"preferred_username"`
		Roles             []string `json:"roles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: decoding userinfo: %v", ErrUpstream, err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("%w: userinfo missing 'sub'", ErrNoSubject)
	}

	return buildProfile(info.Sub, info.PreferredUsername, info.Email, info.Name, info.Roles), nil
}

// classifyExchangeError separates "the provider said no" from "the provider
// did not answer". oauth2.RetrieveError means we reached the token endpoint
// and it rejected the grant; anything else is transport.
func classifyExchangeError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return fmt.Errorf("%w: %v", ErrBadGrant, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

func buildProfile(sub, preferredUsername, email, name string, roles []string) *UserProfile {
	username := preferredUsername
	if username == "" {
		username = email
	}
	if username == "" {
		username = sub
	}
	if name == "" {
		name = username
	}
	return &UserProfile{
		Subject:  sub,
		Username: username,
		Email:    email,
		Name:     name,
		Roles:    auth.NormalizeRoles(roles),
	}
}
