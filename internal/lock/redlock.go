package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/lvdashuaibi/contestvote/config"
	"github.com/lvdashuaibi/contestvote/internal/logger"
)

const (
	refreshScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`

	unlockScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
)

// RedLock implements the Redlock algorithm over independent Redis nodes: a
// lock is held when a majority of nodes accepted it within its validity time.
type RedLock struct {
	clients []*redis.Client
	addrs   []string
	retries int

	mu    sync.Mutex
	locks map[string]string // lock name -> token
}

func NewRedLock(ctx context.Context, cfg config.RedisConfig, retries int) (*RedLock, error) {
	var clients []*redis.Client

	for _, addr := range cfg.LockAddresses {
		client := redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.Timeout,
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		})

		if err := client.Ping(ctx).Err(); err != nil {
			for _, c := range clients {
				c.Close()
			}
			client.Close()
			return nil, fmt.Errorf("redis lock node %s ping failed: %w", addr, err)
		}

		clients = append(clients, client)
	}

	return NewRedLockFromClients(clients, cfg.LockAddresses, retries), nil
}

// NewRedLockFromClients builds a RedLock over already connected nodes.
func NewRedLockFromClients(clients []*redis.Client, addrs []string, retries int) *RedLock {
	if retries < 1 {
		retries = 1
	}
	return &RedLock{
		clients: clients,
		addrs:   addrs,
		retries: retries,
		locks:   make(map[string]string),
	}
}

func (r *RedLock) quorum() int {
	return len(r.clients)/2 + 1
}

func (r *RedLock) nodeAddr(i int) string {
	if i < len(r.addrs) {
		return r.addrs[i]
	}
	return fmt.Sprintf("node-%d", i)
}

func (r *RedLock) AcquireLock(ctx context.Context, lockName string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()

	for attempt := 0; attempt < r.retries; attempt++ {
		success := 0
		start := time.Now()

		for i, client := range r.clients {
			ok, err := client.SetNX(ctx, lockName, token, ttl).Result()
			if err != nil {
				logger.Logger.Warn().Err(err).
					Str("node", r.nodeAddr(i)).
					Str("lock", lockName).
					Msg("redlock acquire failed on node")
				continue
			}
			if ok {
				success++
			}
		}

		validity := ttl - time.Since(start)
		if success >= r.quorum() && validity > 0 {
			r.mu.Lock()
			r.locks[lockName] = token
			r.mu.Unlock()
			return true, nil
		}

		r.unlockAll(ctx, lockName, token)

		if attempt+1 < r.retries {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
	}

	return false, nil
}

func (r *RedLock) RefreshLock(ctx context.Context, lockName string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	token, exists := r.locks[lockName]
	r.mu.Unlock()
	if !exists {
		return false, fmt.Errorf("lock %s is not held", lockName)
	}

	success := 0
	for i, client := range r.clients {
		result, err := client.Eval(ctx, refreshScript, []string{lockName}, token, ttl.Milliseconds()).Int64()
		if err != nil {
			logger.Logger.Warn().Err(err).
				Str("node", r.nodeAddr(i)).
				Str("lock", lockName).
				Msg("redlock refresh failed on node")
			continue
		}
		if result == 1 {
			success++
		}
	}

	if success >= r.quorum() {
		return true, nil
	}

	r.mu.Lock()
	delete(r.locks, lockName)
	r.mu.Unlock()
	return false, nil
}

func (r *RedLock) ReleaseLock(ctx context.Context, lockName string) error {
	r.mu.Lock()
	token, exists := r.locks[lockName]
	delete(r.locks, lockName)
	r.mu.Unlock()
	if !exists {
		return fmt.Errorf("lock %s is not held", lockName)
	}

	r.unlockAll(ctx, lockName, token)
	return nil
}

// unlockAll deletes the lock on every node where it still carries token.
func (r *RedLock) unlockAll(ctx context.Context, lockName string, token string) {
	for i, client := range r.clients {
		if err := client.Eval(ctx, unlockScript, []string{lockName}, token).Err(); err != nil {
			logger.Logger.Warn().Err(err).
				Str("node", r.nodeAddr(i)).
				Str("lock", lockName).
				Msg("redlock release failed on node")
		}
	}
}

func (r *RedLock) ReleaseAllLocks() {
	r.mu.Lock()
	held := r.locks
	r.locks = make(map[string]string)
	r.mu.Unlock()

	for name, token := range held {
		r.unlockAll(context.Background(), name, token)
	}
}

func (r *RedLock) Close() error {
	r.ReleaseAllLocks()

	for i, client := range r.clients {
		if err := client.Close(); err != nil {
			logger.Logger.Warn().Err(err).Str("node", r.nodeAddr(i)).Msg("failed to close redis lock client")
		}
	}
	return nil
}
