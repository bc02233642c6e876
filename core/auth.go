package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type Session struct {
	Identity
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type AuthStore interface {
	// NewSession signs the user in. It returns ErrBadCredentials if the email and password do not match.
	NewSession(ctx context.Context, email, password string) (*Session, error)

	// DestroySession revokes the session token.
	DestroySession(ctx context.Context, session Session) error

	// Session resolves a token into a session. It returns ErrUnauthenticated if the token
	// is invalid, expired or revoked.
	Session(ctx context.Context, token string) (*Session, error)
}

// Authenticator exposes the currently signed in user to the client.
type Authenticator interface {
	// CurrentUser returns nil when no user is signed in.
	CurrentUser() *Identity

	// OnAuthStateChange registers fn to be called with the new user whenever the user
	// signs in or out. The returned function removes the registration.
	OnAuthStateChange(fn func(*Identity)) (cancel func())
}

// SessionManager keeps the session of a single local user and notifies listeners of changes.
type SessionManager struct {
	store AuthStore

	mu        sync.Mutex
	session   *Session
	listeners map[int]func(*Identity)
	nextID    int
}

func NewSessionManager(store AuthStore) *SessionManager {
	return &SessionManager{
		store:     store,
		listeners: make(map[int]func(*Identity)),
	}
}

func (m *SessionManager) SignIn(ctx context.Context, email, password string) (*Session, error) {
	session, err := m.store.NewSession(ctx, email, password)
	if err != nil {
		return nil, err
	}
	m.set(session)
	return session, nil
}

// Resume restores a session from a previously issued token.
func (m *SessionManager) Resume(ctx context.Context, token string) (*Session, error) {
	session, err := m.store.Session(ctx, token)
	if err != nil {
		return nil, err
	}
	m.set(session)
	return session, nil
}

func (m *SessionManager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()
	if session == nil {
		return nil
	}
	if err := m.store.DestroySession(ctx, *session); err != nil {
		return fmt.Errorf("DestroySession: %w", err)
	}
	m.set(nil)
	return nil
}

func (m *SessionManager) CurrentUser() *Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	identity := m.session.Identity
	return &identity
}

func (m *SessionManager) OnAuthStateChange(fn func(*Identity)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *SessionManager) set(session *Session) {
	m.mu.Lock()
	m.session = session
	listeners := make([]func(*Identity), 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	var identity *Identity
	if session != nil {
		id := session.Identity
		identity = &id
	}
	for _, l := range listeners {
		l(identity)
	}
}

// StaticAuth is an Authenticator with a fixed user, used when the identity is
// established out of band, e.g. by an already authenticated connection.
type StaticAuth struct {
	Identity *Identity
}

func (a StaticAuth) CurrentUser() *Identity {
	return a.Identity
}

func (a StaticAuth) OnAuthStateChange(func(*Identity)) func() {
	return func() {}
}

// IsAuthError reports whether err means the caller has no valid session.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrBadCredentials)
}
