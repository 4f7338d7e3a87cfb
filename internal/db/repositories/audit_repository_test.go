package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/airlock-platform/airlock/internal/db/models"
)

func TestAuditRepository_Insert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)

	userID := "user-1"
	username := "alice"
	resourceType := "api_key"
	resourceID := "7"
	ip := "10.0.0.1"

	mock.ExpectQuery(`INSERT INTO audit_logs`).
		WithArgs(&userID, &username, "api_key.revoke", &resourceType, &resourceID,
			[]byte(`{"reason":"rotation"}`), &ip, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	entry := &models.AuditLog{
		UserID:       &userID,
		Username:     &username,
		Action:       "api_key.revoke",
		ResourceType: &resourceType,
		ResourceID:   &resourceID,
		Metadata:     map[string]interface{}{"reason": "rotation"},
		IPAddress:    &ip,
	}
	if err := repo.Insert(context.Background(), entry); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if entry.ID != 42 {
		t.Errorf("ID = %d, want 42", entry.ID)
	}
}

func TestAuditRepository_InsertNilMetadata(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)

	mock.ExpectQuery(`INSERT INTO audit_logs`).
		WithArgs(nil, nil, "auth.login", nil, nil, []byte(`{}`), nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	entry := &models.AuditLog{Action: "auth.login"}
	if err := repo.Insert(context.Background(), entry); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
}

func TestAuditRepository_ListRecent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "username", "action", "resource_type", "resource_id",
		"metadata", "ip_address", "created_at",
	}).
		AddRow(int64(2), "user-1", "alice", "api_key.create", "api_key", "8",
			[]byte(`{"name":"ci key"}`), "10.0.0.1", now).
		AddRow(int64(1), nil, nil, "auth.login", nil, nil,
			[]byte(`{}`), nil, now.Add(-time.Minute))

	mock.ExpectQuery(`SELECT .+ FROM audit_logs\s+ORDER BY created_at DESC\s+LIMIT \$1`).
		WithArgs(50).
		WillReturnRows(rows)

	entries, err := repo.ListRecent(context.Background(), 50)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Metadata["name"] != "ci key" {
		t.Errorf("Metadata not unmarshaled: %v", entries[0].Metadata)
	}
	if entries[1].UserID != nil {
		t.Error("system entry should have nil UserID")
	}
}
