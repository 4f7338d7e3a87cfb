// rbac.go enforces role requirements on routes that have already passed
// AuthMiddleware. Role checks run strictly after authentication: a request
// with no valid token gets 401 from the auth layer, never a 403 from here.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/airlock-platform/airlock/internal/auth"
	"github.com/airlock-platform/airlock/internal/httperr"
)

// capitalize uppercases the first byte for role-requirement messages
// ("admin" → "Admin role required"). Role names are ASCII identifiers.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// RequireRole rejects callers lacking the given role with 403.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.HasRole(RolesFromContext(c), role) {
			httperr.Abort(c, httperr.CodeForbidden, capitalize(role)+" role required")
			return
		}
		c.Next()
	}
}

// RequireAnyRole rejects callers holding none of the given roles.
func RequireAnyRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.HasAnyRole(RolesFromContext(c), roles...) {
			httperr.Abort(c, httperr.CodeForbidden, "Required any of roles: "+strings.Join(roles, ", "))
			return
		}
		c.Next()
	}
}

// RequireAllRoles rejects callers missing any of the given roles.
func RequireAllRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.HasAllRoles(RolesFromContext(c), roles...) {
			httperr.Abort(c, httperr.CodeForbidden, "Required all roles: "+strings.Join(roles, ", "))
			return
		}
		c.Next()
	}
}
