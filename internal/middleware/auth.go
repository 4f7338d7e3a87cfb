// auth.go provides bearer-token authentication. The access token is the only
// credential accepted here; API keys are exchanged for access tokens at the
// auth endpoints, never presented directly to protected routes.
package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/airlock-platform/airlock/internal/httperr"
	"github.com/airlock-platform/airlock/internal/telemetry"
	"github.com/airlock-platform/airlock/internal/token"
)

// Context keys populated by AuthMiddleware.
const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
	ContextRoles    = "roles"
	ContextScope    = "scope"
	ContextScopes   = "scopes"
	ContextAuthType = "auth_type"
	ContextAPIKeyID = "api_key_id"
)

// bearerToken extracts the token from an Authorization header. The second
// return is false when the header is missing or not a Bearer scheme.
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// AuthMiddleware verifies the access token on every request and stores the
// caller identity in the context. Failures abort with 401 and the uniform
// envelope; messages distinguish expiry and wrong type (useful to clients
// deciding whether to refresh) but never echo signature details.
func AuthMiddleware(codec *token.Codec) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			httperr.Abort(c, httperr.CodeUnauthorized, "Authorization header required")
			return
		}

		claims, err := codec.Verify(raw, token.TypeAccess)
		if err != nil {
			httperr.Abort(c, httperr.CodeUnauthorized, VerifyFailureMessage(err))
			return
		}

		setIdentity(c, claims)
		c.Next()
	}
}

// VerifyFailureMessage maps codec errors to client-facing text and records
// the rejection reason metric.
func VerifyFailureMessage(err error) string {
	switch {
	case errors.Is(err, token.ErrExpired):
		telemetry.TokenVerificationFailuresTotal.WithLabelValues("expired").Inc()
		return "Token has expired"
	case errors.Is(err, token.ErrWrongType):
		telemetry.TokenVerificationFailuresTotal.WithLabelValues("wrong_type").Inc()
		return "Invalid token type. Access token required."
	case errors.Is(err, token.ErrWrongIssuer):
		telemetry.TokenVerificationFailuresTotal.WithLabelValues("wrong_issuer").Inc()
		return "Invalid token"
	case errors.Is(err, token.ErrInvalidSignature):
		telemetry.TokenVerificationFailuresTotal.WithLabelValues("bad_signature").Inc()
		return "Invalid token"
	default:
		telemetry.TokenVerificationFailuresTotal.WithLabelValues("malformed").Inc()
		return "Invalid token"
	}
}

func setIdentity(c *gin.Context, claims *token.Claims) {
	c.Set(ContextUserID, claims.Subject)
	c.Set(ContextUsername, claims.Username)
	c.Set(ContextRoles, claims.Roles)
	c.Set(ContextScope, claims.Scope)
	c.Set(ContextScopes, claims.Scopes)
	c.Set(ContextAuthType, claims.AuthType)
	c.Set(ContextAPIKeyID, claims.APIKeyID)
}

// RolesFromContext returns the authenticated caller's roles. Empty when the
// request never passed AuthMiddleware.
func RolesFromContext(c *gin.Context) []string {
	v, ok := c.Get(ContextRoles)
	if !ok {
		return nil
	}
	roles, _ := v.([]string)
	return roles
}

// UserIDFromContext returns the authenticated caller's subject, or "".
func UserIDFromContext(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// UsernameFromContext returns the authenticated caller's username, or "".
func UsernameFromContext(c *gin.Context) string {
	return c.GetString(ContextUsername)
}
