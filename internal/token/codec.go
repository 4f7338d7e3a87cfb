// Package token implements the signed-token contract shared by every Airlock
// service. The server issues tokens here; the gateway and any resource
// service verify them with the same codec, so issue and verify semantics live
// in one place.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types carried in the custom "type" claim. A refresh token is never
// accepted where an access token is required, and vice versa.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Authentication types carried in the "auth_type" claim.
const (
	AuthTypeOAuth  = "oauth"
	AuthTypeAPIKey = "api_key"
)

// Verification errors. Callers compare with errors.Is; every verification
// failure maps to exactly one of these.
var (
	ErrExpired          = errors.New("token has expired")
	ErrMalformed        = errors.New("token is malformed")
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrWrongIssuer      = errors.New("token issuer is not trusted")
	ErrWrongType        = errors.New("unexpected token type")
)

// Claims is the full claim set of an Airlock JWT. User tokens carry Username,
// Roles, and Scope; API-key-derived tokens carry APIKeyID and Scopes instead,
// with AuthType distinguishing the two. RegisteredClaims contributes iss,
// sub, iat, exp, and jti.
type Claims struct {
	TokenType   string   `json:"type"`
	Username    string   `json:"username,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Scope       string   `json:"scope,omitempty"`
	APIKeyID    string   `json:"api_key_id,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	AuthType    string   `json:"auth_type,omitempty"`
	jwt.RegisteredClaims
}

// IsAPIKey reports whether the token was minted from an API key rather than
// an OAuth login.
func (c *Claims) IsAPIKey() bool {
	return c.AuthType == AuthTypeAPIKey
}

// Pair is an issued access/refresh token pair in the OAuth2 token response
// shape.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// Config parameterizes a Codec. All fields must match across every process
// that issues or verifies tokens.
type Config struct {
	Secret     string
	Algorithm  string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Codec issues and verifies Airlock JWTs with a shared HMAC secret.
type Codec struct {
	secret     []byte
	method     jwt.SigningMethod
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration

	// now is swapped in tests to control claim timestamps.
	now func() time.Time
}

// NewCodec validates cfg and returns a ready codec. Only HMAC algorithms are
// supported; asymmetric signing would need per-service key distribution that
// the deployment model does not have.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token: signing secret is required")
	}
	var method jwt.SigningMethod
	switch cfg.Algorithm {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("token: unsupported algorithm %q", cfg.Algorithm)
	}
	if cfg.Issuer == "" {
		return nil, errors.New("token: issuer is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token: TTLs must be positive")
	}
	return &Codec{
		secret:     []byte(cfg.Secret),
		method:     method,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}, nil
}

// UserInfo is the identity baked into a user token pair.
type UserInfo struct {
	Subject  string
	Username string
	Roles    []string
	Scope    string
}

// IssueUserPair issues an access/refresh pair for an OAuth-authenticated
// user. The refresh token carries a jti so a rotation scheme can detect
// replay of an already-used refresh token.
func (c *Codec) IssueUserPair(u UserInfo) (Pair, error) {
	now := c.now()

	access := Claims{
		TokenType: TypeAccess,
		Username:  u.Username,
		Roles:     u.Roles,
		Scope:     u.Scope,
		AuthType:  AuthTypeOAuth,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   u.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.accessTTL)),
		},
	}
	accessToken, err := c.sign(access)
	if err != nil {
		return Pair{}, fmt.Errorf("signing access token: %w", err)
	}

	refresh := Claims{
		TokenType: TypeRefresh,
		Username:  u.Username,
		Roles:     u.Roles,
		Scope:     u.Scope,
		AuthType:  AuthTypeOAuth,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   u.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.refreshTTL)),
			ID:        uuid.New().String(),
		},
	}
	refreshToken, err := c.sign(refresh)
	if err != nil {
		return Pair{}, fmt.Errorf("signing refresh token: %w", err)
	}

	return Pair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(c.accessTTL.Seconds()),
	}, nil
}

// KeyInfo is the identity baked into an API-key-derived token pair.
type KeyInfo struct {
	Subject     string
	Username    string
	KeyID       string
	Scopes      []string
	Permissions []string
}

// IssueAPIKeyPair issues an access/refresh pair for a verified API key. The
// claims mirror IssueUserPair except that roles are absent and the API key
// identity travels in api_key_id, scopes, and permissions.
func (c *Codec) IssueAPIKeyPair(k KeyInfo) (Pair, error) {
	now := c.now()

	access := Claims{
		TokenType:   TypeAccess,
		Username:    k.Username,
		APIKeyID:    k.KeyID,
		Scopes:      k.Scopes,
		Permissions: k.Permissions,
		AuthType:    AuthTypeAPIKey,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   k.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.accessTTL)),
		},
	}
	accessToken, err := c.sign(access)
	if err != nil {
		return Pair{}, fmt.Errorf("signing access token: %w", err)
	}

	refresh := access
	refresh.TokenType = TypeRefresh
	refresh.ExpiresAt = jwt.NewNumericDate(now.Add(c.refreshTTL))
	refresh.ID = uuid.New().String()
	refreshToken, err := c.sign(refresh)
	if err != nil {
		return Pair{}, fmt.Errorf("signing refresh token: %w", err)
	}

	return Pair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(c.accessTTL.Seconds()),
	}, nil
}

func (c *Codec) sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
}

// Verify parses and validates a token of the expected type ("access" or
// "refresh") and returns its claims. The signing method is pinned to the
// configured HMAC variant so an attacker cannot downgrade to alg=none or
// confuse HMAC with an asymmetric scheme.
func (c *Codec) Verify(tokenString, expectedType string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != c.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrMalformed
		}
	}
	if !tok.Valid {
		return nil, ErrMalformed
	}
	if claims.Issuer != c.issuer {
		return nil, ErrWrongIssuer
	}
	if claims.TokenType != expectedType {
		return nil, ErrWrongType
	}
	return claims, nil
}
