// api_key_repository.go implements APIKeyRepository, providing database
// queries for API key lookup by prefix, creation, hard-delete revocation,
// transactional rotation, and last-used timestamp updates.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/airlock-platform/airlock/internal/db/models"
)

const apiKeyColumns = `id, user_id, username, name, key_hash, key_prefix, scopes, permissions, expires_at, last_used_at, created_at`

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db *sqlx.DB
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *sqlx.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// Create inserts a new API key and fills in its generated ID and CreatedAt.
func (r *APIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	return createAPIKey(ctx, r.db, key)
}

// createAPIKey runs the insert against either the pool or a transaction.
func createAPIKey(ctx context.Context, q sqlx.ExtContext, key *models.APIKey) error {
	scopesJSON, err := json.Marshal(key.Scopes)
	if err != nil {
		return err
	}
	permissionsJSON, err := json.Marshal(key.Permissions)
	if err != nil {
		return err
	}

	key.CreatedAt = time.Now()

	query := `
		INSERT INTO api_keys (user_id, username, name, key_hash, key_prefix, scopes, permissions, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	row := q.QueryRowxContext(ctx, query,
		key.UserID,
		key.Username,
		key.Name,
		key.KeyHash,
		key.KeyPrefix,
		scopesJSON,
		permissionsJSON,
		key.ExpiresAt,
		key.CreatedAt,
	)
	return row.Scan(&key.ID)
}

func scanAPIKey(scan func(dest ...interface{}) error) (*models.APIKey, error) {
	key := &models.APIKey{}
	var scopesJSON, permissionsJSON []byte

	err := scan(
		&key.ID,
		&key.UserID,
		&key.Username,
		&key.Name,
		&key.KeyHash,
		&key.KeyPrefix,
		&scopesJSON,
		&permissionsJSON,
		&key.ExpiresAt,
		&key.LastUsedAt,
		&key.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(scopesJSON, &key.Scopes); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(permissionsJSON, &key.Permissions); err != nil {
		return nil, err
	}
	return key, nil
}

// GetByID retrieves an API key by ID. Returns (nil, nil) when no row exists.
func (r *APIKeyRepository) GetByID(ctx context.Context, keyID int64) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, keyID)
	key, err := scanAPIKey(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return key, nil
}

// GetByPrefix retrieves stored keys matching a plaintext prefix. Multiple
// rows are possible since the prefix is only a few characters of key
// material; the caller bcrypt-compares each candidate. Revoked keys never
// appear here because revocation deletes the row.
func (r *APIKeyRepository) GetByPrefix(ctx context.Context, keyPrefix string) ([]*models.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE key_prefix = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, keyPrefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows.Scan)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// ListByUser retrieves all live keys belonging to a user, newest first.
func (r *APIKeyRepository) ListByUser(ctx context.Context, userID string) ([]*models.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows.Scan)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// ListAll retrieves every key in the system, newest first.
func (r *APIKeyRepository) ListAll(ctx context.Context) ([]*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows.Scan)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Delete removes a key outright. A verify racing a delete sees the row
// either before or after this statement commits, never a half-revoked state.
// Returns the number of rows affected; 0 means the key did not exist.
func (r *APIKeyRepository) Delete(ctx context.Context, keyID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, keyID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Rotate deletes the old key and inserts its replacement in one transaction,
// so no interleaving can observe both keys live at once or an overlap window
// where the old key still verifies after the new one exists. The
// replacement's generated ID is written back into newKey.
func (r *APIKeyRepository) Rotate(ctx context.Context, oldID int64, newKey *models.APIKey) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, oldID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("api key %d: %w", oldID, sql.ErrNoRows)
	}

	if err := createAPIKey(ctx, tx, newKey); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateLastUsed updates the last_used_at timestamp for an API key.
func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, keyID int64) error {
	query := `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, keyID, time.Now())
	return err
}

// DeleteExpired removes keys whose expiry passed more than the retention
// window ago. Recently expired keys are kept so list views can show why a
// key stopped working.
func (r *APIKeyRepository) DeleteExpired(ctx context.Context, retention time.Duration) (int64, error) {
	query := `DELETE FROM api_keys WHERE expires_at IS NOT NULL AND expires_at < $1`
	res, err := r.db.ExecContext(ctx, query, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
