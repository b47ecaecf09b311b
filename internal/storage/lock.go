package storage

import (
	"context"
	"fmt"

	"github.com/tokenswallet/wallet-backend/internal/logger"
)

// AdvisoryLocker serializes work across service instances with PostgreSQL
// session-level advisory locks.
type AdvisoryLocker struct {
	store *Store
}

// NewAdvisoryLocker creates a locker on the store's pool
func NewAdvisoryLocker(store *Store) *AdvisoryLocker {
	return &AdvisoryLocker{store: store}
}

// WithLock holds the advisory lock for key while fn runs. Waiting for the
// lock is aborted when ctx is done.
func (l *AdvisoryLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	conn, err := l.store.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("failed to lock %s: %w", key, err)
	}
	defer func() {
		// Unlock even if ctx was cancelled while fn ran.
		if _, err := conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key); err != nil {
			logger.Error(ctx, "failed to release advisory lock", "key", key, "error", err)
		}
	}()

	return fn(ctx)
}
