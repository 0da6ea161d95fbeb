// Package session authenticates the administrator and tracks admin sessions
// as token keyed records with an expiry.
package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/lvdashuaibi/contestvote/internal/model"
	"golang.org/x/crypto/bcrypt"
)

const tokenBytes = 32

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNoSession          = errors.New("no valid session")
	ErrStoreUnavailable   = errors.New("session store unavailable")
)

// HashPassword returns the bcrypt hash stored in admin.password_hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

type Manager struct {
	store        Store
	username     string
	passwordHash []byte
	ttl          time.Duration
	now          func() time.Time
}

func NewManager(store Store, username, passwordHash string, ttl time.Duration) *Manager {
	return &Manager{
		store:        store,
		username:     username,
		passwordHash: []byte(passwordHash),
		ttl:          ttl,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Login checks the credentials and opens a new session.
func (m *Manager) Login(ctx context.Context, username, password string) (*model.Session, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(m.username)) == 1
	// always run bcrypt so a wrong username costs the same as a wrong password
	passErr := bcrypt.CompareHashAndPassword(m.passwordHash, []byte(password))
	if !userOK || passErr != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	now := m.now()
	s := &model.Session{
		Token:     token,
		Username:  m.username,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("%w: failed to save session: %w", ErrStoreUnavailable, err)
	}
	return s, nil
}

// Lookup returns the live session for token. Once less than half of the ttl
// is left the expiry slides forward.
func (m *Manager) Lookup(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, ErrNoSession
	}

	s, found, err := m.store.Get(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load session: %w", ErrStoreUnavailable, err)
	}
	now := m.now()
	if !found || s.Expired(now) {
		return nil, ErrNoSession
	}

	if s.ExpiresAt.Sub(now) < m.ttl/2 {
		s.ExpiresAt = now.Add(m.ttl)
		alive, err := m.store.Touch(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to extend session: %w", ErrStoreUnavailable, err)
		}
		if !alive {
			return nil, ErrNoSession
		}
	}
	return s, nil
}

// Logout ends the session. Unknown tokens are ignored.
func (m *Manager) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return m.store.Delete(ctx, token)
}
