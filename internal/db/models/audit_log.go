package models

import "time"

// AuditLog records a security-relevant event: who did what to which resource,
// from where. Metadata holds arbitrary extra context as JSONB.
type AuditLog struct {
	ID           int64                  `db:"id" json:"id"`
	UserID       *string                `db:"user_id" json:"user_id,omitempty"`
	Username     *string                `db:"username" json:"username,omitempty"`
	Action       string                 `db:"action" json:"action"`
	ResourceType *string                `db:"resource_type" json:"resource_type,omitempty"`
	ResourceID   *string                `db:"resource_id" json:"resource_id,omitempty"`
	Metadata     map[string]interface{} `db:"-" json:"metadata,omitempty"`
	IPAddress    *string                `db:"ip_address" json:"ip_address,omitempty"`
	CreatedAt    time.Time              `db:"created_at" json:"created_at"`
}
