package session

import (
	"context"
	"sync"
	"time"

	"github.com/lvdashuaibi/contestvote/internal/model"
	"github.com/lvdashuaibi/contestvote/internal/repository"
)

// Store keeps session records keyed by token until they expire.
type Store interface {
	Save(ctx context.Context, s *model.Session) error
	Get(ctx context.Context, token string) (*model.Session, bool, error)
	// Touch rewrites an existing session. It reports false when the session
	// is gone.
	Touch(ctx context.Context, s *model.Session) (bool, error)
	Delete(ctx context.Context, token string) error
}

// MemoryStore is a Store for single-instance deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]model.Session),
		now:      time.Now,
	}
}

func (m *MemoryStore) Save(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[s.Token] = *s
	m.pruneLocked()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, token string) (*model.Session, bool, error) {
	m.mu.RLock()
	s, ok := m.sessions[token]
	m.mu.RUnlock()

	if !ok || s.Expired(m.now()) {
		return nil, false, nil
	}
	return &s, true, nil
}

func (m *MemoryStore) Touch(_ context.Context, s *model.Session) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.sessions[s.Token]
	if !ok || current.Expired(m.now()) {
		return false, nil
	}
	m.sessions[s.Token] = *s
	return true, nil
}

func (m *MemoryStore) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, token)
	return nil
}

// pruneLocked drops expired sessions. Callers hold mu.
func (m *MemoryStore) pruneLocked() {
	now := m.now()
	for token, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, token)
		}
	}
}

// RedisStore keeps sessions in Redis so every instance sees them.
type RedisStore struct {
	repo *repository.RedisRepository
}

func NewRedisStore(repo *repository.RedisRepository) *RedisStore {
	return &RedisStore{repo: repo}
}

func (r *RedisStore) Save(ctx context.Context, s *model.Session) error {
	return r.repo.SaveSession(ctx, s)
}

func (r *RedisStore) Get(ctx context.Context, token string) (*model.Session, bool, error) {
	s, found, err := r.repo.GetSession(ctx, token)
	if err != nil || !found {
		return nil, false, err
	}
	if s.Expired(time.Now()) {
		return nil, false, nil
	}
	return s, true, nil
}

func (r *RedisStore) Touch(ctx context.Context, s *model.Session) (bool, error) {
	return r.repo.TouchSession(ctx, s)
}

func (r *RedisStore) Delete(ctx context.Context, token string) error {
	return r.repo.DeleteSession(ctx, token)
}
