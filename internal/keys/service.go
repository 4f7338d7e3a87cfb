// Package keys implements the API key lifecycle: create, list, verify,
// revoke, rotate. It owns the rule that verification failures are
// indistinguishable from the outside — unknown, revoked, and expired keys all
// surface as ErrInvalidKey.
package keys

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/airlock-platform/airlock/internal/auth"
	"github.com/airlock-platform/airlock/internal/db/models"
	"github.com/airlock-platform/airlock/internal/safego"
	"github.com/airlock-platform/airlock/internal/telemetry"
)

var (
	// ErrKeyNotFound is returned by ID-addressed operations when no such key
	// exists. Revoked keys are deleted, so a revoked ID is simply absent.
	ErrKeyNotFound = errors.New("api key not found")

	// ErrInvalidKey is the single verification failure. It deliberately does
	// not say whether the key is unknown, revoked, or expired, so a caller
	// probing with stolen prefixes learns nothing.
	ErrInvalidKey = errors.New("invalid api key")
)

// Repository is the storage surface the service needs. Implemented by
// repositories.APIKeyRepository.
type Repository interface {
	Create(ctx context.Context, key *models.APIKey) error
	GetByID(ctx context.Context, keyID int64) (*models.APIKey, error)
	GetByPrefix(ctx context.Context, keyPrefix string) ([]*models.APIKey, error)
	ListByUser(ctx context.Context, userID string) ([]*models.APIKey, error)
	ListAll(ctx context.Context) ([]*models.APIKey, error)
	Delete(ctx context.Context, keyID int64) (int64, error)
	Rotate(ctx context.Context, oldID int64, newKey *models.APIKey) error
	UpdateLastUsed(ctx context.Context, keyID int64) error
}

// Service implements API key lifecycle operations on top of a Repository.
type Service struct {
	repo   Repository
	prefix string
	now    func() time.Time
}

// NewService creates a key service. prefix is the plaintext key marker,
// normally "ak_".
func NewService(repo Repository, prefix string) *Service {
	return &Service{repo: repo, prefix: prefix, now: time.Now}
}

// CreateParams are the caller-supplied attributes of a new key.
type CreateParams struct {
	UserID      string
	Username    string
	Name        string
	Scopes      []string
	Permissions []string
	ExpiresAt   *time.Time
}

// Created pairs the stored record with the one-time plaintext key.
type Created struct {
	Key      *models.APIKey
	PlainKey string
}

// Create mints and stores a new API key. The plaintext is returned exactly
// once and never persisted.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Created, error) {
	gk, err := auth.GenerateKey(s.prefix)
	if err != nil {
		return nil, err
	}

	key := &models.APIKey{
		UserID:      p.UserID,
		Username:    p.Username,
		Name:        p.Name,
		KeyHash:     gk.Hash,
		KeyPrefix:   gk.Prefix,
		Scopes:      emptyIfNil(p.Scopes),
		Permissions: emptyIfNil(p.Permissions),
		ExpiresAt:   p.ExpiresAt,
	}
	if err := s.repo.Create(ctx, key); err != nil {
		return nil, err
	}

	telemetry.APIKeysCreatedTotal.Inc()
	slog.Info("api key created", "key_id", key.ID, "user_id", key.UserID, "prefix", auth.MaskKey(key.KeyPrefix))
	return &Created{Key: key, PlainKey: gk.PlainKey}, nil
}

// Get returns a key by ID; missing keys yield ErrKeyNotFound.
func (s *Service) Get(ctx context.Context, keyID int64) (*models.APIKey, error) {
	key, err := s.repo.GetByID(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

// ListByUser returns a user's live keys, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*models.APIKey, error) {
	return s.repo.ListByUser(ctx, userID)
}

// ListAll returns every key in the system.
func (s *Service) ListAll(ctx context.Context) ([]*models.APIKey, error) {
	return s.repo.ListAll(ctx)
}

// Verify authenticates a presented plaintext key. On success it returns the
// matching record and fires a non-blocking last-used update. Every failure
// mode returns ErrInvalidKey.
func (s *Service) Verify(ctx context.Context, plainKey string) (*models.APIKey, error) {
	if !auth.PlausibleKey(s.prefix, plainKey) {
		telemetry.APIKeyVerificationsTotal.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidKey
	}

	candidates, err := s.repo.GetByPrefix(ctx, auth.KeyLookupPrefix(plainKey))
	if err != nil {
		return nil, err
	}

	now := s.now()
	for _, key := range candidates {
		if !auth.CompareKey(key.KeyHash, plainKey) {
			continue
		}
		if !key.Active(now) {
			telemetry.APIKeyVerificationsTotal.WithLabelValues("expired").Inc()
			return nil, ErrInvalidKey
		}

		s.touchLastUsed(key.ID)
		telemetry.APIKeyVerificationsTotal.WithLabelValues("ok").Inc()
		return key, nil
	}

	telemetry.APIKeyVerificationsTotal.WithLabelValues("invalid").Inc()
	return nil, ErrInvalidKey
}

// touchLastUsed updates last_used_at in the background so key verification
// latency never includes the bookkeeping write. Failures are logged and
// dropped; last-used is advisory data.
func (s *Service) touchLastUsed(keyID int64) {
	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.UpdateLastUsed(ctx, keyID); err != nil {
			slog.Warn("failed to update api key last_used_at", "key_id", keyID, "error", err)
		}
	})
}

// Revoke deletes a key. Once the delete commits the key cannot verify;
// revoking a missing key returns ErrKeyNotFound.
func (s *Service) Revoke(ctx context.Context, keyID int64) error {
	affected, err := s.repo.Delete(ctx, keyID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrKeyNotFound
	}
	telemetry.APIKeysRevokedTotal.Inc()
	slog.Info("api key revoked", "key_id", keyID)
	return nil
}

// Rotate atomically replaces a key with a fresh secret. Scopes and
// permissions carry forward unless the caller overrides them; owner, name,
// and remaining expiry always carry forward. The replacement plaintext is
// returned once.
func (s *Service) Rotate(ctx context.Context, keyID int64, newScopes, newPermissions []string) (*Created, error) {
	old, err := s.repo.GetByID(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, ErrKeyNotFound
	}

	gk, err := auth.GenerateKey(s.prefix)
	if err != nil {
		return nil, err
	}
	scopes := newScopes
	if scopes == nil {
		scopes = old.Scopes
	}
	permissions := newPermissions
	if permissions == nil {
		permissions = old.Permissions
	}
	replacement := &models.APIKey{
		UserID:      old.UserID,
		Username:    old.Username,
		Name:        old.Name,
		KeyHash:     gk.Hash,
		KeyPrefix:   gk.Prefix,
		Scopes:      emptyIfNil(scopes),
		Permissions: emptyIfNil(permissions),
		ExpiresAt:   old.ExpiresAt,
	}

	if err := s.repo.Rotate(ctx, keyID, replacement); err != nil {
		return nil, err
	}

	telemetry.APIKeysCreatedTotal.Inc()
	telemetry.APIKeysRevokedTotal.Inc()
	slog.Info("api key rotated", "old_key_id", keyID, "new_key_id", replacement.ID)
	return &Created{Key: replacement, PlainKey: gk.PlainKey}, nil
}

func emptyIfNil(vals []string) []string {
	if vals == nil {
		return []string{}
	}
	return vals
}
