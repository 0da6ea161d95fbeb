package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LocalLock is an in-process Lock for single-instance deployments and tests.
type LocalLock struct {
	mu    sync.Mutex
	locks map[string]time.Time // lock name -> expiry
	now   func() time.Time
}

func NewLocalLock() *LocalLock {
	return &LocalLock{
		locks: make(map[string]time.Time),
		now:   time.Now,
	}
}

func (l *LocalLock) AcquireLock(_ context.Context, lockName string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expiry, ok := l.locks[lockName]; ok && l.now().Before(expiry) {
		return false, nil
	}

	l.locks[lockName] = l.now().Add(ttl)
	return true, nil
}

func (l *LocalLock) RefreshLock(_ context.Context, lockName string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	expiry, ok := l.locks[lockName]
	if !ok {
		return false, fmt.Errorf("lock %s is not held", lockName)
	}
	if !l.now().Before(expiry) {
		delete(l.locks, lockName)
		return false, nil
	}

	l.locks[lockName] = l.now().Add(ttl)
	return true, nil
}

func (l *LocalLock) ReleaseLock(_ context.Context, lockName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.locks[lockName]; !ok {
		return fmt.Errorf("lock %s is not held", lockName)
	}
	delete(l.locks, lockName)
	return nil
}

func (l *LocalLock) ReleaseAllLocks() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.locks = make(map[string]time.Time)
}

func (l *LocalLock) Close() error {
	l.ReleaseAllLocks()
	return nil
}
