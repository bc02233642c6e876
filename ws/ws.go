// Package ws carries the change feed and presence channels over websocket connections.
// Handler exposes a server side ChangeFeed and Presence to authenticated clients and
// Remote implements both interfaces on the client side of such a connection.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/putto11262002/chatsync/core"
)

// MembershipChecker decides which rooms a connection may subscribe to.
type MembershipChecker interface {
	IsRoomMember(ctx context.Context, roomID, userID string) (bool, core.MemberRole, error)
}

// StatusTracker records whether a user has at least one open connection.
type StatusTracker interface {
	SetOnline(ctx context.Context, userID string, online bool) error
}

const statusTimeout = 5 * time.Second

type Handler struct {
	auth     core.AuthStore
	members  MembershipChecker
	feed     core.ChangeFeed
	presence core.Presence
	status   StatusTracker
	upgrader websocket.Upgrader
	logger   *slog.Logger

	closeTimeout time.Duration

	mu     sync.Mutex
	conns  map[*conn]struct{}
	online map[string]int
	closed bool
	wg     sync.WaitGroup

	// statusMu orders status writes of the same user.
	statusMu sync.Mutex
}

type HandlerOption func(*Handler)

func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

func WithUpgrader(upgrader *websocket.Upgrader) HandlerOption {
	return func(h *Handler) {
		h.upgrader = *upgrader
	}
}

// WithStatusTracker marks users online when their first connection opens
// and offline when their last one closes.
func WithStatusTracker(status StatusTracker) HandlerOption {
	return func(h *Handler) {
		h.status = status
	}
}

func WithCloseTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		h.closeTimeout = d
	}
}

func NewHandler(auth core.AuthStore, members MembershipChecker, feed core.ChangeFeed, presence core.Presence,
	opts ...HandlerOption) *Handler {
	h := &Handler{
		auth:     auth,
		members:  members,
		feed:     feed,
		presence: presence,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
			return true
		}},
		logger:       slog.New(slog.NewTextHandler(os.Stdout, nil)),
		closeTimeout: 10 * time.Second,
		conns:        make(map[*conn]struct{}),
		online:       make(map[string]int),
	}

	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP authenticates the request with the session cookie or a bearer token
// and upgrades it to a websocket connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, ok := core.TokenFromRequest(r)
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	session, err := h.auth.Session(r.Context(), token)
	if err != nil {
		if errors.Is(err, core.ErrUnauthenticated) {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		h.logger.Error("resolving session", slog.Any("error", err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "server closing", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		h.logger.Debug("upgrade failed", slog.Any("error", err))
		return
	}

	c := newConn(context.WithoutCancel(r.Context()), wsConn, h, session.Identity)
	added, first := h.add(c)
	if !added {
		wsConn.Close()
		return
	}
	c.logger.Info("new connection")
	if first {
		h.syncStatus(c.identity.ID)
	}

	go func() {
		defer h.wg.Done()
		defer func() {
			if h.remove(c) {
				h.syncStatus(c.identity.ID)
			}
		}()
		c.readLoop()
	}()
	go func() {
		defer h.wg.Done()
		c.writeLoop()
	}()
}

// add registers the connection and reports whether it is the first of its user.
func (h *Handler) add(c *conn) (added, first bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false, false
	}
	h.conns[c] = struct{}{}
	h.online[c.identity.ID]++
	// one for each loop
	h.wg.Add(2)
	return true, h.online[c.identity.ID] == 1
}

// remove unregisters the connection and reports whether it was the last of its user.
func (h *Handler) remove(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
	h.online[c.identity.ID]--
	if h.online[c.identity.ID] > 0 {
		return false
	}
	delete(h.online, c.identity.ID)
	return true
}

// syncStatus writes the online flag matching the user's current connection count.
// Writes are serialized so the last one matches the count.
func (h *Handler) syncStatus(userID string) {
	if h.status == nil {
		return
	}
	h.statusMu.Lock()
	defer h.statusMu.Unlock()

	h.mu.Lock()
	online := h.online[userID] > 0
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	if err := h.status.SetOnline(ctx, userID, online); err != nil {
		h.logger.Error("updating online status", slog.String("user", userID),
			slog.Bool("online", online), slog.Any("error", err))
	}
}

// ConnCount returns the number of open connections.
func (h *Handler) ConnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close closes every connection and waits for them to release their subscriptions
// or for the close timeout.
func (h *Handler) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for c := range h.conns {
		// the write loop closes the connection, which ends the read loop
		c.cancel()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(h.closeTimeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		h.logger.Info("websocket handler closed with timeout")
	case <-done:
		h.logger.Info("websocket handler closed gracefully")
	}
}
