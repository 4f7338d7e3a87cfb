// Package keysapi implements the admin API key management endpoints:
// create, list, get, revoke, and rotate. Every route requires an
// authenticated caller holding the admin role; the router wires that gate.
package keysapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/airlock-platform/airlock/internal/db/models"
	"github.com/airlock-platform/airlock/internal/httperr"
	"github.com/airlock-platform/airlock/internal/keys"
	"github.com/airlock-platform/airlock/internal/middleware"
)

// Handlers serves the /api/v1/keys endpoints.
type Handlers struct {
	keys *keys.Service
}

// NewHandlers wires the key management endpoints onto the key service.
func NewHandlers(keysSvc *keys.Service) *Handlers {
	return &Handlers{keys: keysSvc}
}

// Register mounts the key management routes on g, expected to be the
// /api/v1/keys group with authentication and the admin gate already applied.
func (h *Handlers) Register(g *gin.RouterGroup) {
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Revoke)
	g.POST("/:id/rotate", h.Rotate)
}

// CreateRequest is the body for POST /api/v1/keys.
type CreateRequest struct {
	Name          string   `json:"name" binding:"required"`
	UserID        string   `json:"user_id"`
	Username      string   `json:"username"`
	Scopes        []string `json:"scopes"`
	Permissions   []string `json:"permissions"`
	ExpiresInDays int      `json:"expires_in_days"`
}

// createdResponse carries the one-time plaintext alongside the stored
// record. The plaintext never appears in any other response.
func createdResponse(created *keys.Created) gin.H {
	resp := keyResponse(created.Key)
	resp["key"] = created.PlainKey
	return resp
}

func keyResponse(key *models.APIKey) gin.H {
	return gin.H{
		"id":           key.ID,
		"user_id":      key.UserID,
		"username":     key.Username,
		"name":         key.Name,
		"key_prefix":   key.KeyPrefix,
		"scopes":       key.Scopes,
		"permissions":  key.Permissions,
		"expires_at":   key.ExpiresAt,
		"last_used_at": key.LastUsedAt,
		"created_at":   key.CreatedAt,
	}
}

// createBindMessage separates a missing required field from a body that
// failed to parse at all, so a caller sending malformed JSON is not told
// a field they may well have supplied is absent.
func createBindMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return "name is required"
	}
	return "invalid request body"
}

// Create mints a new API key. The response is the only place the plaintext
// ever appears.
//
// POST /api/v1/keys
func (h *Handlers) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.Respond(c, httperr.CodeValidationError, createBindMessage(err))
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = middleware.UserIDFromContext(c)
	}
	username := req.Username
	if username == "" {
		username = middleware.UsernameFromContext(c)
	}

	var expiresAt *time.Time
	if req.ExpiresInDays > 0 {
		t := time.Now().Add(time.Duration(req.ExpiresInDays) * 24 * time.Hour)
		expiresAt = &t
	}

	created, err := h.keys.Create(c.Request.Context(), keys.CreateParams{
		UserID:      userID,
		Username:    username,
		Name:        req.Name,
		Scopes:      req.Scopes,
		Permissions: req.Permissions,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		slog.Error("failed to create api key", "name", req.Name, "error", err)
		httperr.Internal(c)
		return
	}

	c.JSON(http.StatusCreated, createdResponse(created))
}

// List returns stored keys, newest first. An optional user_id query narrows
// the listing to one owner.
//
// GET /api/v1/keys?user_id=
func (h *Handlers) List(c *gin.Context) {
	var (
		stored []*models.APIKey
		err    error
	)
	if userID := c.Query("user_id"); userID != "" {
		stored, err = h.keys.ListByUser(c.Request.Context(), userID)
	} else {
		stored, err = h.keys.ListAll(c.Request.Context())
	}
	if err != nil {
		slog.Error("failed to list api keys", "error", err)
		httperr.Internal(c)
		return
	}

	resp := make([]gin.H, 0, len(stored))
	for _, key := range stored {
		resp = append(resp, keyResponse(key))
	}
	c.JSON(http.StatusOK, gin.H{"keys": resp})
}

// keyID parses the :id path parameter. A non-integer ID is a validation
// error, not a not-found, so clients can tell a malformed request from a
// revoked key.
func keyID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httperr.Respond(c, httperr.CodeValidationError, "key ID must be an integer")
		return 0, false
	}
	return id, true
}

// Get returns one key by ID.
//
// GET /api/v1/keys/:id
func (h *Handlers) Get(c *gin.Context) {
	id, ok := keyID(c)
	if !ok {
		return
	}

	key, err := h.keys.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, keys.ErrKeyNotFound) {
			httperr.Respond(c, httperr.CodeNotFound, "API key not found")
			return
		}
		slog.Error("failed to load api key", "key_id", id, "error", err)
		httperr.Internal(c)
		return
	}
	c.JSON(http.StatusOK, keyResponse(key))
}

// Revoke deletes a key. The deletion is immediate and permanent: the next
// verification attempt with the old plaintext fails.
//
// DELETE /api/v1/keys/:id
func (h *Handlers) Revoke(c *gin.Context) {
	id, ok := keyID(c)
	if !ok {
		return
	}

	if err := h.keys.Revoke(c.Request.Context(), id); err != nil {
		if errors.Is(err, keys.ErrKeyNotFound) {
			httperr.Respond(c, httperr.CodeNotFound, "API key not found")
			return
		}
		slog.Error("failed to revoke api key", "key_id", id, "error", err)
		httperr.Internal(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "API key revoked"})
}

// RotateRequest optionally overrides scopes or permissions on the
// replacement key; nil fields carry the old values forward.
type RotateRequest struct {
	Scopes      []string `json:"scopes"`
	Permissions []string `json:"permissions"`
}

// Rotate atomically replaces a key's secret. The old plaintext stops
// verifying the moment the rotation commits, and the new plaintext is
// returned exactly once.
//
// POST /api/v1/keys/:id/rotate
func (h *Handlers) Rotate(c *gin.Context) {
	id, ok := keyID(c)
	if !ok {
		return
	}

	var req RotateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.Respond(c, httperr.CodeValidationError, "invalid rotate request body")
			return
		}
	}

	created, err := h.keys.Rotate(c.Request.Context(), id, req.Scopes, req.Permissions)
	if err != nil {
		if errors.Is(err, keys.ErrKeyNotFound) {
			httperr.Respond(c, httperr.CodeNotFound, "API key not found")
			return
		}
		slog.Error("failed to rotate api key", "key_id", id, "error", err)
		httperr.Internal(c)
		return
	}
	c.JSON(http.StatusOK, createdResponse(created))
}
