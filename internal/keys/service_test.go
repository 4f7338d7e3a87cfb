package keys

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airlock-platform/airlock/internal/db/models"
)

// fakeRepo is an in-memory Repository for service tests.
type fakeRepo struct {
	mu     sync.Mutex
	nextID int64
	keys   map[int64]*models.APIKey

	lastUsedUpdated chan int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		nextID:          1,
		keys:            map[int64]*models.APIKey{},
		lastUsedUpdated: make(chan int64, 10),
	}
}

func (f *fakeRepo) Create(ctx context.Context, key *models.APIKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key.ID = f.nextID
	f.nextID++
	key.CreatedAt = time.Now()
	cp := *key
	f.keys[key.ID] = &cp
	return nil
}

func (f *fakeRepo) GetByID(ctx context.Context, keyID int64) (*models.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.keys[keyID]
	if !ok {
		return nil, nil
	}
	cp := *key
	return &cp, nil
}

func (f *fakeRepo) GetByPrefix(ctx context.Context, keyPrefix string) ([]*models.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.APIKey
	for _, key := range f.keys {
		if key.KeyPrefix == keyPrefix {
			cp := *key
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListByUser(ctx context.Context, userID string) ([]*models.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.APIKey
	for _, key := range f.keys {
		if key.UserID == userID {
			cp := *key
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListAll(ctx context.Context) ([]*models.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.APIKey
	for _, key := range f.keys {
		cp := *key
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeRepo) Delete(ctx context.Context, keyID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[keyID]; !ok {
		return 0, nil
	}
	delete(f.keys, keyID)
	return 1, nil
}

func (f *fakeRepo) Rotate(ctx context.Context, oldID int64, newKey *models.APIKey) error {
	f.mu.Lock()
	if _, ok := f.keys[oldID]; !ok {
		f.mu.Unlock()
		return errors.New("old key missing")
	}
	delete(f.keys, oldID)
	f.mu.Unlock()
	return f.Create(ctx, newKey)
}

func (f *fakeRepo) UpdateLastUsed(ctx context.Context, keyID int64) error {
	f.mu.Lock()
	key, ok := f.keys[keyID]
	if ok {
		now := time.Now()
		key.LastUsedAt = &now
	}
	f.mu.Unlock()
	select {
	case f.lastUsedUpdated <- keyID:
	default:
	}
	return nil
}

func newTestService() (*Service, *fakeRepo) {
	repo := newFakeRepo()
	return NewService(repo, "ak_"), repo
}

func TestCreateReturnsPlaintextOnce(t *testing.T) {
	svc, repo := newTestService()

	created, err := svc.Create(context.Background(), CreateParams{
		UserID:   "user-1",
		Username: "alice",
		Name:     "ci key",
		Scopes:   []string{"packages:read"},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(created.PlainKey, "ak_"), "PlainKey = %q, want ak_ prefix", created.PlainKey)
	stored := repo.keys[created.Key.ID]
	assert.NotEqual(t, created.PlainKey, stored.KeyHash, "plaintext must not be stored")
	assert.Equal(t, created.PlainKey[:10], stored.KeyPrefix)
}

func TestVerifyRoundTrip(t *testing.T) {
	svc, repo := newTestService()

	created, err := svc.Create(context.Background(), CreateParams{UserID: "user-1", Name: "k"})
	if err != nil {
		t.Fatal(err)
	}

	key, err := svc.Verify(context.Background(), created.PlainKey)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if key.ID != created.Key.ID {
		t.Errorf("verified key ID = %d, want %d", key.ID, created.Key.ID)
	}

	// last-used update runs in the background
	select {
	case id := <-repo.lastUsedUpdated:
		if id != key.ID {
			t.Errorf("last-used updated for key %d, want %d", id, key.ID)
		}
	case <-time.After(2 * time.Second):
		t.Error("last-used update never happened")
	}
}

func TestVerifyFailuresAreUniform(t *testing.T) {
	svc, _ := newTestService()

	created, err := svc.Create(context.Background(), CreateParams{UserID: "user-1", Name: "k"})
	if err != nil {
		t.Fatal(err)
	}

	// Tampered key: valid shape, wrong secret half.
	tampered := created.PlainKey[:len(created.PlainKey)-1]
	if created.PlainKey[len(created.PlainKey)-1] == 'a' {
		tampered += "b"
	} else {
		tampered += "a"
	}

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-key",
		"wrong prefix": "zz" + created.PlainKey[2:],
		"truncated":    created.PlainKey[:20],
		"tampered":     tampered,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Verify(context.Background(), input); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Verify(%s) error = %v, want ErrInvalidKey", name, err)
			}
		})
	}
}

func TestVerifyRevokedKey(t *testing.T) {
	svc, repo := newTestService()

	created, err := svc.Create(context.Background(), CreateParams{UserID: "user-1", Name: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Revoke(context.Background(), created.Key.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Verify(context.Background(), created.PlainKey); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Verify(revoked) error = %v, want ErrInvalidKey", err)
	}
	// Revocation deletes the row outright; nothing is left behind to leak.
	if _, ok := repo.keys[created.Key.ID]; ok {
		t.Error("revoked key must be absent from the store")
	}
}

func TestVerifyExpiredKey(t *testing.T) {
	svc, _ := newTestService()

	expiry := time.Now().Add(time.Minute)
	created, err := svc.Create(context.Background(), CreateParams{
		UserID: "user-1", Name: "k", ExpiresAt: &expiry,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Move the service clock past the expiry.
	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if _, err := svc.Verify(context.Background(), created.PlainKey); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Verify(expired) error = %v, want ErrInvalidKey", err)
	}
}

func TestRevokeMissingKey(t *testing.T) {
	svc, _ := newTestService()

	if err := svc.Revoke(context.Background(), 404); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Revoke(missing) error = %v, want ErrKeyNotFound", err)
	}
}

func TestRevokeIsIdempotentlyNotFound(t *testing.T) {
	svc, _ := newTestService()

	created, err := svc.Create(context.Background(), CreateParams{UserID: "user-1", Name: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Revoke(context.Background(), created.Key.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.Revoke(context.Background(), created.Key.ID); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("second Revoke error = %v, want ErrKeyNotFound", err)
	}
}

func TestRotate(t *testing.T) {
	svc, _ := newTestService()

	expiry := time.Now().Add(time.Hour)
	created, err := svc.Create(context.Background(), CreateParams{
		UserID:      "user-1",
		Username:    "alice",
		Name:        "ci key",
		Scopes:      []string{"packages:write"},
		Permissions: []string{"publish"},
		ExpiresAt:   &expiry,
	})
	if err != nil {
		t.Fatal(err)
	}

	rotated, err := svc.Rotate(context.Background(), created.Key.ID, nil, nil)
	require.NoError(t, err)

	assert.NotEqual(t, created.Key.ID, rotated.Key.ID, "rotation must mint a new key ID")
	assert.NotEqual(t, created.PlainKey, rotated.PlainKey, "rotation must mint new key material")
	assert.Equal(t, "ci key", rotated.Key.Name)
	assert.Equal(t, "user-1", rotated.Key.UserID)
	assert.Equal(t, "alice", rotated.Key.Username)
	assert.Equal(t, []string{"packages:write"}, rotated.Key.Scopes)
	assert.Equal(t, []string{"publish"}, rotated.Key.Permissions)
	require.NotNil(t, rotated.Key.ExpiresAt)
	assert.WithinDuration(t, expiry, *rotated.Key.ExpiresAt, time.Second)

	// The old key no longer verifies; the new one does.
	_, err = svc.Verify(context.Background(), created.PlainKey)
	assert.ErrorIs(t, err, ErrInvalidKey, "old key must stop verifying after rotation")
	_, err = svc.Verify(context.Background(), rotated.PlainKey)
	assert.NoError(t, err, "new key must verify after rotation")
}

func TestRotateOverridesScopes(t *testing.T) {
	svc, _ := newTestService()

	created, err := svc.Create(context.Background(), CreateParams{
		UserID: "user-1",
		Name:   "ci key",
		Scopes: []string{"packages:read"},
	})
	if err != nil {
		t.Fatal(err)
	}

	rotated, err := svc.Rotate(context.Background(), created.Key.ID,
		[]string{"packages:read", "packages:write"}, []string{"publish"})
	require.NoError(t, err)
	assert.Equal(t, []string{"packages:read", "packages:write"}, rotated.Key.Scopes)
	assert.Equal(t, []string{"publish"}, rotated.Key.Permissions)
}

func TestRotateMissingOrRevoked(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.Rotate(context.Background(), 404, nil, nil); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Rotate(missing) error = %v, want ErrKeyNotFound", err)
	}

	created, err := svc.Create(context.Background(), CreateParams{UserID: "user-1", Name: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Revoke(context.Background(), created.Key.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Rotate(context.Background(), created.Key.ID, nil, nil); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Rotate(revoked) error = %v, want ErrKeyNotFound", err)
	}
}
