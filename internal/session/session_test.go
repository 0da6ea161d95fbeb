package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lvdashuaibi/contestvote/internal/model"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *MemoryStore, *time.Time) {
	t.Helper()

	hash, err := HashPassword("s3cret")
	require.NoError(t, err)

	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return current }

	m := NewManager(store, "admin", hash, time.Hour)
	m.now = func() time.Time { return current }
	return m, store, &current
}

func TestLogin(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Login(ctx, "admin", "s3cret")
	require.NoError(t, err)
	require.Len(t, s.Token, 2*tokenBytes)
	require.Equal(t, "admin", s.Username)

	got, err := m.Lookup(ctx, s.Token)
	require.NoError(t, err)
	require.Equal(t, s.Token, got.Token)

	_, err = m.Login(ctx, "admin", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = m.Login(ctx, "root", "s3cret")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogout(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Login(ctx, "admin", "s3cret")
	require.NoError(t, err)

	require.NoError(t, m.Logout(ctx, s.Token))
	_, err = m.Lookup(ctx, s.Token)
	require.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, m.Logout(ctx, "unknown"))
	require.NoError(t, m.Logout(ctx, ""))
}

func TestSessionExpiry(t *testing.T) {
	m, _, current := newTestManager(t)
	ctx := context.Background()

	s, err := m.Login(ctx, "admin", "s3cret")
	require.NoError(t, err)

	*current = current.Add(59 * time.Minute)
	_, err = m.Lookup(ctx, s.Token)
	require.NoError(t, err)

	// the lookup above slid the expiry forward
	*current = current.Add(59 * time.Minute)
	_, err = m.Lookup(ctx, s.Token)
	require.NoError(t, err)

	*current = current.Add(2 * time.Hour)
	_, err = m.Lookup(ctx, s.Token)
	require.ErrorIs(t, err, ErrNoSession)
}

func TestLookup_Unknown(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Lookup(context.Background(), "")
	require.ErrorIs(t, err, ErrNoSession)

	_, err = m.Lookup(context.Background(), "deadbeef")
	require.ErrorIs(t, err, ErrNoSession)
}

func TestTokensAreUnique(t *testing.T) {
	m, _, _ := newTestManager(t)

	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		s, err := m.Login(context.Background(), "admin", "s3cret")
		require.NoError(t, err)
		_, dup := seen[s.Token]
		require.False(t, dup)
		seen[s.Token] = struct{}{}
	}
}

func TestHashPassword(t *testing.T) {
	_, err := HashPassword("")
	require.Error(t, err)

	hash, err := HashPassword("pw")
	require.NoError(t, err)
	require.NotEqual(t, "pw", hash)
}

type brokenStore struct {
	*MemoryStore
	err error
}

func (s brokenStore) Get(context.Context, string) (*model.Session, bool, error) {
	return nil, false, s.err
}

func TestLookup_StoreFailure(t *testing.T) {
	m, store, _ := newTestManager(t)
	sess, err := m.Login(context.Background(), "admin", "s3cret")
	require.NoError(t, err)

	cause := errors.New("redis: connection pool timeout")
	m.store = brokenStore{MemoryStore: store, err: cause}

	_, err = m.Lookup(context.Background(), sess.Token)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.ErrorIs(t, err, cause)
	require.NotErrorIs(t, err, ErrNoSession)
}
