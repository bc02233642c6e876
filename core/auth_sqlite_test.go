package core

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type AuthFixture struct {
	*BaseFixture
	userStore *SQLiteUserStore
	authStore *SQLiteAuthStore
}

func NewAuthFixture(t *testing.T) *AuthFixture {
	base := NewBaseFixture(t)
	userStore := NewSQLiteUserStore(base.db)

	return &AuthFixture{
		BaseFixture: base,
		userStore:   userStore,
		authStore:   NewSQLiteAuthStore(base.db, userStore, secret),
	}
}

var secret = []byte("c2VjcmV0")

func TestNewSession(t *testing.T) {
	t.Run("user does not exist", func(t *testing.T) {
		f := NewAuthFixture(t)
		defer f.tearDown()

		session, err := f.authStore.NewSession(f.ctx, "random@example.com", "random")
		require.Nil(t, session)
		assert.ErrorIs(t, err, ErrBadCredentials)
	})

	t.Run("invalid password", func(t *testing.T) {
		f := NewAuthFixture(t)
		defer f.tearDown()
		seedUsers(f.ctx, t, f.userStore, alice)

		session, err := f.authStore.NewSession(f.ctx, alice.Email, alice.Password+"69")
		require.Nil(t, session)
		assert.ErrorIs(t, err, ErrBadCredentials)
	})

	t.Run("successfully create new session", func(t *testing.T) {
		f := NewAuthFixture(t)
		defer f.tearDown()
		ids := seedUsers(f.ctx, t, f.userStore, alice)

		session, err := f.authStore.NewSession(f.ctx, alice.Email, alice.Password)
		require.NoError(t, err)
		assert.Greater(t, session.ExpiresAt, time.Now())
		assert.Equal(t, ids[0], session.Identity)
		require.NotEmpty(t, session.Token)

		claims, err := VerifyToken(session.Token, secret)
		require.NoError(t, err)
		assert.Equal(t, ids[0], claims.Identity())
	})
}

func TestSession(t *testing.T) {
	identity := Identity{ID: "id", Email: "alice@example.com"}

	t.Run("valid token", func(t *testing.T) {
		f := NewAuthFixture(t)
		defer f.tearDown()
		token, exp, err := NewToken(identity, time.Hour, secret)
		require.NoError(t, err)
		require.True(t, time.Now().Before(exp))

		session, err := f.authStore.Session(f.ctx, token)
		require.NoError(t, err)
		assert.Equal(t, identity, session.Identity)
	})

	t.Run("expired token", func(t *testing.T) {
		f := NewAuthFixture(t)
		defer f.tearDown()
		token, exp, err := NewToken(identity, -time.Hour, secret)
		require.NoError(t, err)
		require.True(t, exp.Before(time.Now()))

		session, err := f.authStore.Session(f.ctx, token)
		require.Nil(t, session)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("malformed token", func(t *testing.T) {
		f := NewAuthFixture(t)
		defer f.tearDown()

		session, err := f.authStore.Session(f.ctx, "not.a.token")
		require.Nil(t, session)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
}

func TestDestroySession(t *testing.T) {
	f := NewAuthFixture(t)
	defer f.tearDown()
	seedUsers(f.ctx, t, f.userStore, alice)

	session, err := f.authStore.NewSession(f.ctx, alice.Email, alice.Password)
	require.NoError(t, err)
	other, err := f.authStore.NewSession(f.ctx, alice.Email, alice.Password)
	require.NoError(t, err)

	require.NoError(t, f.authStore.DestroySession(f.ctx, *session))

	revoked, err := f.authStore.Session(f.ctx, session.Token)
	require.Nil(t, revoked)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	// sessions are revoked individually
	_, err = f.authStore.Session(f.ctx, other.Token)
	assert.NoError(t, err)
}

func TestSessionManager(t *testing.T) {
	f := NewAuthFixture(t)
	defer f.tearDown()
	ids := seedUsers(f.ctx, t, f.userStore, alice)

	manager := NewSessionManager(f.authStore)

	var (
		mu      sync.Mutex
		changes []*Identity
	)
	cancel := manager.OnAuthStateChange(func(identity *Identity) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, identity)
	})

	assert.Nil(t, manager.CurrentUser())

	_, err := manager.SignIn(f.ctx, alice.Email, "wrong")
	require.ErrorIs(t, err, ErrBadCredentials)
	assert.True(t, IsAuthError(err))

	session, err := manager.SignIn(f.ctx, alice.Email, alice.Password)
	require.NoError(t, err)
	require.NotNil(t, manager.CurrentUser())
	assert.Equal(t, ids[0], *manager.CurrentUser())

	require.NoError(t, manager.SignOut(f.ctx))
	assert.Nil(t, manager.CurrentUser())

	_, err = manager.Resume(f.ctx, session.Token)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	cancel()
	_, err = manager.SignIn(f.ctx, alice.Email, alice.Password)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 2)
	assert.Equal(t, ids[0], *changes[0])
	assert.Nil(t, changes[1])
}
