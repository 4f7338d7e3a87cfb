// audit.go records authenticated write operations to the audit log. Entries
// are written after the response so auditing latency never sits on the
// request path, and a failed insert is logged but does not fail the request.
package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/airlock-platform/airlock/internal/config"
	"github.com/airlock-platform/airlock/internal/db/models"
	"github.com/airlock-platform/airlock/internal/db/repositories"
	"github.com/airlock-platform/airlock/internal/safego"
)

// AuditMiddleware records successful authenticated requests. By default only
// write methods are logged; cfg.LogReadOperations adds GETs. Failed requests
// (4xx/5xx) are skipped — rejections are visible in metrics and the access
// log, and recording every bad token would let an attacker fill the table.
func AuditMiddleware(auditRepo *repositories.AuditRepository, cfg *config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Request.Method == "OPTIONS" {
			return
		}
		if c.Request.Method == "GET" && (cfg == nil || !cfg.LogReadOperations) {
			return
		}
		if c.Writer.Status() >= 400 {
			return
		}

		userID := UserIDFromContext(c)
		if userID == "" {
			// Unauthenticated open paths (login, health) are not audited.
			return
		}
		username := UsernameFromContext(c)
		ip := c.ClientIP()

		entry := &models.AuditLog{
			UserID:    &userID,
			Username:  &username,
			Action:    c.Request.Method + " " + c.FullPath(),
			IPAddress: &ip,
			Metadata: map[string]interface{}{
				"status":     c.Writer.Status(),
				"request_id": c.GetString(RequestIDKey),
			},
		}
		if keyID := c.GetString(ContextAPIKeyID); keyID != "" {
			rt := "api_key"
			entry.ResourceType = &rt
			entry.ResourceID = &keyID
		}

		safego.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := auditRepo.Insert(ctx, entry); err != nil {
				slog.Warn("failed to write audit log entry", "action", entry.Action, "error", err)
			}
		})
	}
}
