package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/lvdashuaibi/contestvote/config"
	"github.com/lvdashuaibi/contestvote/internal/model"
)

const (
	// Redis key prefixes
	ResultsKey = "vote:results"
	SessionKey = "admin:session:"

	// Extends a session only while it exists, so a logout racing a request
	// cannot resurrect it.
	TouchSessionScript = `
		if redis.call('EXISTS', KEYS[1]) == 0 then
			return 0
		end
		redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
		return 1
	`
)

type RedisRepository struct {
	client       *redis.Client
	scriptHashes map[string]string
}

func NewRedisRepository(ctx context.Context, cfg config.RedisConfig) (*RedisRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.DataAddress,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis data node ping failed: %w", err)
	}

	return NewRedisRepositoryFromClient(ctx, client)
}

// NewRedisRepositoryFromClient wraps an existing client and preloads the Lua
// scripts.
func NewRedisRepositoryFromClient(ctx context.Context, client *redis.Client) (*RedisRepository, error) {
	repo := &RedisRepository{
		client:       client,
		scriptHashes: make(map[string]string),
	}

	if err := repo.preloadScripts(ctx); err != nil {
		return nil, fmt.Errorf("failed to preload lua scripts: %w", err)
	}
	return repo, nil
}

func (r *RedisRepository) preloadScripts(ctx context.Context) error {
	sha1, err := r.client.ScriptLoad(ctx, TouchSessionScript).Result()
	if err != nil {
		return fmt.Errorf("failed to load session script: %w", err)
	}
	r.scriptHashes["touchSession"] = sha1
	return nil
}

// GetResults reads the cached results. A miss returns found=false.
func (r *RedisRepository) GetResults(ctx context.Context) (*model.Results, bool, error) {
	data, err := r.client.Get(ctx, ResultsKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read results cache: %w", err)
	}

	var results model.Results
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, false, fmt.Errorf("failed to decode results cache: %w", err)
	}
	return &results, true, nil
}

// SetResults caches results for ttl.
func (r *RedisRepository) SetResults(ctx context.Context, results *model.Results, ttl time.Duration) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	if err := r.client.Set(ctx, ResultsKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write results cache: %w", err)
	}
	return nil
}

// DeleteResults drops the cached results.
func (r *RedisRepository) DeleteResults(ctx context.Context) error {
	if err := r.client.Del(ctx, ResultsKey).Err(); err != nil {
		return fmt.Errorf("failed to delete results cache: %w", err)
	}
	return nil
}

// SaveSession stores the session until it expires.
func (r *RedisRepository) SaveSession(ctx context.Context, s *model.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}

	if err := r.client.Set(ctx, SessionKey+s.Token, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// GetSession loads a session by token. A missing or expired session returns
// found=false.
func (r *RedisRepository) GetSession(ctx context.Context, token string) (*model.Session, bool, error) {
	data, err := r.client.Get(ctx, SessionKey+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load session: %w", err)
	}

	var s model.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false, fmt.Errorf("failed to decode session: %w", err)
	}
	return &s, true, nil
}

// TouchSession moves the expiry of an existing session. It reports false when
// the session is already gone.
func (r *RedisRepository) TouchSession(ctx context.Context, s *model.Session) (bool, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return false, fmt.Errorf("failed to encode session: %w", err)
	}

	key := SessionKey + s.Token
	ttl := time.Until(s.ExpiresAt).Milliseconds()
	if ttl <= 0 {
		return false, nil
	}

	sha1, ok := r.scriptHashes["touchSession"]
	if !ok {
		return false, fmt.Errorf("session script not loaded")
	}

	result, err := r.client.EvalSha(ctx, sha1, []string{key}, data, ttl).Int()
	if err != nil && isNoScript(err) {
		sha1, err = r.client.ScriptLoad(ctx, TouchSessionScript).Result()
		if err != nil {
			return false, fmt.Errorf("failed to reload session script: %w", err)
		}
		result, err = r.client.EvalSha(ctx, sha1, []string{key}, data, ttl).Int()
	}
	if err != nil {
		return false, fmt.Errorf("failed to touch session: %w", err)
	}
	return result == 1, nil
}

// DeleteSession removes a session.
func (r *RedisRepository) DeleteSession(ctx context.Context, token string) error {
	if err := r.client.Del(ctx, SessionKey+token).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func isNoScript(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "NOSCRIPT")
}
