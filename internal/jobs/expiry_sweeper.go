// expiry_sweeper.go implements the ExpiredKeySweeper background job, which
// periodically deletes API key rows whose expiry passed more than the
// retention window ago. Expired keys already fail verification immediately;
// the sweeper only reclaims the rows once operators no longer need to see
// why a key stopped working. The job is safe to start in any deployment —
// a zero interval or retention falls back to the defaults.
package jobs

import (
	"context"
	"log/slog"
	"time"
)

// ExpiredKeyDeleter is the slice of the key repository the sweeper needs.
type ExpiredKeyDeleter interface {
	DeleteExpired(ctx context.Context, retention time.Duration) (int64, error)
}

const (
	defaultSweepInterval    = 24 * time.Hour
	defaultExpiredRetention = 30 * 24 * time.Hour
)

// ExpiredKeySweeper periodically reclaims long-expired API key rows.
type ExpiredKeySweeper struct {
	repo      ExpiredKeyDeleter
	interval  time.Duration
	retention time.Duration
	stopChan  chan struct{}
}

// NewExpiredKeySweeper creates a sweeper. Non-positive interval or retention
// values select the defaults (24h interval, 30 day retention).
func NewExpiredKeySweeper(repo ExpiredKeyDeleter, interval, retention time.Duration) *ExpiredKeySweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if retention <= 0 {
		retention = defaultExpiredRetention
	}
	return &ExpiredKeySweeper{
		repo:      repo,
		interval:  interval,
		retention: retention,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the sweep loop. It runs one sweep immediately, then repeats
// on the configured interval until ctx is cancelled or Stop is called.
// Start blocks; callers run it in a goroutine.
func (s *ExpiredKeySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("expired key sweeper started",
		"interval", s.interval,
		"retention", s.retention,
	)

	s.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopChan:
			slog.Info("expired key sweeper stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals the loop to exit. Safe to call once.
func (s *ExpiredKeySweeper) Stop() {
	close(s.stopChan)
}

func (s *ExpiredKeySweeper) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	deleted, err := s.repo.DeleteExpired(sweepCtx, s.retention)
	if err != nil {
		slog.Error("expired key sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("expired key sweep complete", "deleted", deleted)
	}
}
