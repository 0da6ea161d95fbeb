package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lvdashuaibi/contestvote/internal/logger"
)

// ErrLockBusy is returned by WithLock when another holder owns the lock.
var ErrLockBusy = errors.New("lock is held by another operation")

// Lock is a named mutual exclusion lock with an expiry, shared by every
// instance that talks to the same backend.
type Lock interface {
	// AcquireLock tries once to take the lock for ttl. It reports false when
	// someone else holds it.
	AcquireLock(ctx context.Context, lockName string, ttl time.Duration) (bool, error)

	// RefreshLock extends a lock held by this instance.
	RefreshLock(ctx context.Context, lockName string, ttl time.Duration) (bool, error)

	// ReleaseLock gives up a lock held by this instance.
	ReleaseLock(ctx context.Context, lockName string) error

	// ReleaseAllLocks gives up every lock held by this instance.
	ReleaseAllLocks()

	Close() error
}

// WithLock runs fn while holding lockName. It does not wait for a busy lock.
// The lock is refreshed every ttl/3 until fn returns.
func WithLock(ctx context.Context, l Lock, lockName string, ttl time.Duration, fn func() error) error {
	acquired, err := l.AcquireLock(ctx, lockName, ttl)
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", lockName, err)
	}
	if !acquired {
		return ErrLockBusy
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		keepAlive(ctx, l, lockName, ttl, stop)
	}()

	defer func() {
		close(stop)
		<-stopped

		// release with a fresh context so a cancelled request still unlocks
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.ReleaseLock(releaseCtx, lockName); err != nil {
			logger.Logger.Warn().Err(err).Str("lock", lockName).Msg("failed to release lock")
		}
	}()

	return fn()
}

func keepAlive(ctx context.Context, l Lock, lockName string, ttl time.Duration, stop <-chan struct{}) {
	interval := ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		refreshCtx, cancel := context.WithTimeout(ctx, interval)
		ok, err := l.RefreshLock(refreshCtx, lockName, ttl)
		cancel()
		if err != nil {
			logger.Logger.Warn().Err(err).Str("lock", lockName).Msg("failed to refresh lock")
			continue
		}
		if !ok {
			logger.Logger.Warn().Str("lock", lockName).Msg("lock expired before the operation finished")
			return
		}
	}
}
