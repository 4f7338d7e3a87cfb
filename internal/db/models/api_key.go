// Package models defines the database model types for Airlock. Each type
// corresponds to a table and uses struct tags for both JSON serialization and
// sqlx row scanning. Models are pure data types; query logic belongs in the
// repositories layer.
package models

import "time"

// APIKey represents a stored API key credential. The plaintext key is never
// stored: KeyHash holds its bcrypt hash and KeyPrefix the first few plaintext
// characters for indexed lookup and display. Revocation is a hard delete, so
// a row's presence is itself the authorization state; there is no revoked
// flag to race against.
type APIKey struct {
	ID          int64      `db:"id" json:"id"`
	UserID      string     `db:"user_id" json:"user_id"`
	Username    string     `db:"username" json:"username"`
	Name        string     `db:"name" json:"name"`
	KeyHash     string     `db:"key_hash" json:"-"`
	KeyPrefix   string     `db:"key_prefix" json:"key_prefix"`
	Scopes      []string   `db:"-" json:"scopes"`
	Permissions []string   `db:"-" json:"permissions"`
	ExpiresAt   *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// Active reports whether the key is usable at time now. A stored key is
// active unless it carries an expiry that has passed.
func (k *APIKey) Active(now time.Time) bool {
	if k.ExpiresAt != nil && !k.ExpiresAt.After(now) {
		return false
	}
	return true
}
