// audit_repository.go implements AuditRepository for recording and querying
// security-relevant events.
package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/airlock-platform/airlock/internal/db/models"
)

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Insert records an audit event. Nil metadata is stored as an empty object.
func (r *AuditRepository) Insert(ctx context.Context, entry *models.AuditLog) error {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	entry.CreatedAt = time.Now()

	query := `
		INSERT INTO audit_logs (user_id, username, action, resource_type, resource_id, metadata, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	row := r.db.QueryRowContext(ctx, query,
		entry.UserID,
		entry.Username,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		metadataJSON,
		entry.IPAddress,
		entry.CreatedAt,
	)
	return row.Scan(&entry.ID)
}

// ListRecent returns the most recent audit entries, newest first.
func (r *AuditRepository) ListRecent(ctx context.Context, limit int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, user_id, username, action, resource_type, resource_id, metadata, ip_address, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*models.AuditLog, 0)
	for rows.Next() {
		entry := &models.AuditLog{}
		var metadataJSON []byte

		err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.Username,
			&entry.Action,
			&entry.ResourceType,
			&entry.ResourceID,
			&metadataJSON,
			&entry.IPAddress,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
