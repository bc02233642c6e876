// Package client keeps an in-memory view of a user's rooms and of the active room's
// messages and typing users in sync with the store, its change feed and presence.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/putto11262002/chatsync/core"
)

var (
	// ErrNoActiveRoom is returned by operations that need a selected room.
	ErrNoActiveRoom = errors.New("no active room")
	ErrClosed       = errors.New("client closed")
)

const (
	DefaultPageSize   = 50
	DefaultTypingIdle = 2 * time.Second
)

type LoadState int

const (
	Idle LoadState = iota
	Loading
	Loaded
	LoadFailed
)

func (s LoadState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case LoadFailed:
		return "load_failed"
	default:
		return "idle"
	}
}

// ProfileStore is the part of the user store the client reads profiles from.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*core.Profile, error)
	SearchProfiles(ctx context.Context, q string, limit int) ([]core.Profile, error)
}

// State is a snapshot of the client state. It shares nothing with the client.
type State struct {
	User        *core.Identity
	Profile     *core.Profile
	Rooms       []core.Room
	Directory   LoadState
	CurrentRoom *core.Room
	Messages    []core.Message
	Window      LoadState
	HasMore     bool
	TypingUsers []core.TypingUser
}

type Client struct {
	store    core.ChatStore
	profiles ProfileStore
	feed     core.ChangeFeed
	presence core.Presence
	auth     core.Authenticator

	logger      *slog.Logger
	pageSize    int
	typingIdle  time.Duration
	insertDedup bool
	onChange    func()
	// key identifies this client on presence channels.
	key string

	// selectMu serializes room selection so that a session is always closed
	// before the next one is opened.
	selectMu sync.Mutex

	mu          sync.Mutex
	user        *core.Identity
	profile     *core.Profile
	rooms       []core.Room
	directory   LoadState
	current     *core.Room
	gen         uint64
	// load changes whenever the window is reset, so pages requested before are dropped.
	load        uint64
	window      Window
	windowState LoadState
	offset      int
	hasMore     bool
	loadingMore bool
	typing      []core.TypingUser
	session     *roomSession
	closed      bool

	ctx        context.Context
	cancel     context.CancelFunc
	cancelAuth func()
	wg         sync.WaitGroup
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithTypingIdle sets how long after the last keystroke the user stops being shown as typing.
func WithTypingIdle(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.typingIdle = d
		}
	}
}

// WithInsertDedup controls whether a repeated insert of a message already in the window
// replaces it in place (the default) or appends a duplicate.
func WithInsertDedup(dedup bool) Option {
	return func(c *Client) {
		c.insertDedup = dedup
	}
}

// WithOnChange registers a hook called after every state change.
// It is called without any client lock held and may call State.
func WithOnChange(fn func()) Option {
	return func(c *Client) {
		c.onChange = fn
	}
}

func New(store core.ChatStore, profiles ProfileStore, feed core.ChangeFeed, presence core.Presence,
	auth core.Authenticator, opts ...Option) *Client {
	c := &Client{
		store:       store,
		profiles:    profiles,
		feed:        feed,
		presence:    presence,
		auth:        auth,
		logger:      slog.New(slog.NewTextHandler(os.Stderr, nil)),
		pageSize:    DefaultPageSize,
		typingIdle:  DefaultTypingIdle,
		insertDedup: true,
		key:         uuid.New().String(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start follows the authenticator: signing in loads the user's profile and room directory,
// signing out clears all state. ctx bounds the background loads.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.cancelAuth = c.auth.OnAuthStateChange(func(identity *core.Identity) {
		c.setUser(c.ctx, identity)
	})
	c.setUser(c.ctx, c.auth.CurrentUser())
	return nil
}

// Close tears down the active room session and waits for background work to finish.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if c.cancelAuth != nil {
		c.cancelAuth()
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.Deselect()
	c.wg.Wait()
}

func (c *Client) setUser(ctx context.Context, identity *core.Identity) {
	c.mu.Lock()
	prev := c.user
	if (prev == nil && identity == nil) || (prev != nil && identity != nil && prev.ID == identity.ID) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// a different user never inherits the previous user's view
	c.Deselect()

	c.mu.Lock()
	if identity != nil {
		id := *identity
		c.user = &id
	} else {
		c.user = nil
	}
	c.profile = nil
	c.rooms = nil
	c.directory = Idle
	closed := c.closed
	c.mu.Unlock()
	c.notify()

	if identity == nil || closed {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.loadProfile(ctx, *identity)
		if err := c.RefreshRooms(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("initial room load failed", slog.Any("error", err))
		}
	}()
}

func (c *Client) loadProfile(ctx context.Context, identity core.Identity) {
	profile, err := c.profiles.GetProfile(ctx, identity.ID)
	if err != nil {
		c.logger.Warn("loading profile", slog.String("user", identity.ID), slog.Any("error", err))
		return
	}
	c.mu.Lock()
	if c.user != nil && c.user.ID == identity.ID {
		c.profile = profile
	}
	c.mu.Unlock()
	c.notify()
}

// State returns a copy of the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{
		Rooms:       slices.Clone(c.rooms),
		Directory:   c.directory,
		Messages:    c.window.Messages(),
		Window:      c.windowState,
		HasMore:     c.hasMore,
		TypingUsers: slices.Clone(c.typing),
	}
	if s.Rooms == nil {
		s.Rooms = []core.Room{}
	}
	if s.TypingUsers == nil {
		s.TypingUsers = []core.TypingUser{}
	}
	if c.user != nil {
		u := *c.user
		s.User = &u
	}
	if c.profile != nil {
		p := *c.profile
		s.Profile = &p
	}
	if c.current != nil {
		r := *c.current
		s.CurrentRoom = &r
	}
	return s
}

func (c *Client) notify() {
	if c.onChange != nil {
		c.onChange()
	}
}

func (c *Client) signedIn() (core.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return core.Identity{}, core.ErrUnauthenticated
	}
	return *c.user, nil
}

func (c *Client) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Client) activeSession() (*roomSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, ErrNoActiveRoom
	}
	return c.session, nil
}

func (c *Client) username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.profile != nil && c.profile.Username != "" {
		return c.profile.Username
	}
	return "Unknown"
}

// roomSession holds the subscriptions of the active room and the goroutines consuming them.
type roomSession struct {
	roomID   string
	userID   string
	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc
	messages core.Subscription
	presence core.PresenceChannel
	typing   *typingDebouncer
	wg       sync.WaitGroup
}

// close unsubscribes and waits for the pumps to return.
// It must not be called with the client lock held.
func (s *roomSession) close() {
	s.cancel()
	s.typing.close()
	s.messages.Unsubscribe()
	s.presence.Leave()
	s.wg.Wait()
}

func (c *Client) openSession(ctx context.Context, roomID string, user core.Identity, gen uint64) (*roomSession, error) {
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &roomSession{
		roomID: roomID,
		userID: user.ID,
		gen:    gen,
		ctx:    sctx,
		cancel: cancel,
	}

	messages, err := c.feed.SubscribeRoomMessages(ctx, roomID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("SubscribeRoomMessages: %w", err)
	}
	presence, err := c.presence.JoinPresence(ctx, roomID, c.key)
	if err != nil {
		messages.Unsubscribe()
		cancel()
		return nil, fmt.Errorf("JoinPresence: %w", err)
	}
	s.messages = messages
	s.presence = presence

	username := c.username()
	s.typing = newTypingDebouncer(sctx, c.typingIdle, c.logger.With(slog.String("room", roomID)),
		func(ctx context.Context, typing bool) error {
			return presence.Track(ctx, core.PresenceState{UserID: user.ID, Username: username, IsTyping: typing})
		})

	s.wg.Add(2)
	go c.pumpMessages(s)
	go c.pumpPresence(s)
	return s, nil
}

// SelectRoom makes room the active room. The window, cursor and typing roster are reset
// before anything is requested for the new room, the previous room's subscriptions are
// closed before the new room's are opened, and results still in flight for the previous
// room are discarded when they arrive.
func (c *Client) SelectRoom(ctx context.Context, room core.Room) error {
	user, err := c.signedIn()
	if err != nil {
		return err
	}

	c.selectMu.Lock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.selectMu.Unlock()
		return ErrClosed
	}
	prev := c.session
	c.session = nil
	c.gen++
	c.load++
	gen, load := c.gen, c.load
	c.current = &room
	c.window.Replace(nil)
	c.windowState = Loading
	c.offset = 0
	c.hasMore = true
	c.loadingMore = false
	c.typing = nil
	c.mu.Unlock()
	c.notify()

	if prev != nil {
		prev.close()
	}

	s, err := c.openSession(ctx, room.ID, user, gen)
	if err != nil {
		c.selectMu.Unlock()
		c.mu.Lock()
		if c.gen == gen {
			c.windowState = LoadFailed
		}
		c.mu.Unlock()
		c.notify()
		return err
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.selectMu.Unlock()
		s.close()
		return nil
	}
	c.session = s
	c.mu.Unlock()
	c.selectMu.Unlock()

	c.logger.Debug("selected room", slog.String("room", room.ID), slog.Uint64("generation", gen))
	return c.loadPage(ctx, gen, load, room.ID, 0)
}

// Deselect clears the active room and closes its subscriptions.
func (c *Client) Deselect() {
	c.selectMu.Lock()
	defer c.selectMu.Unlock()

	c.mu.Lock()
	prev := c.session
	changed := c.current != nil
	c.session = nil
	c.gen++
	c.load++
	c.current = nil
	c.window.Replace(nil)
	c.windowState = Idle
	c.offset = 0
	c.hasMore = false
	c.loadingMore = false
	c.typing = nil
	c.mu.Unlock()

	if prev != nil {
		prev.close()
	}
	if changed {
		c.notify()
	}
}

// LoadMore prepends the next older page of the active room. It is a no-op when no room
// is active, when there is nothing more to load or while another page is loading.
func (c *Client) LoadMore(ctx context.Context) error {
	c.mu.Lock()
	if c.current == nil || !c.hasMore || c.loadingMore || c.windowState != Loaded {
		c.mu.Unlock()
		return nil
	}
	c.loadingMore = true
	gen, load, roomID, offset := c.gen, c.load, c.current.ID, c.offset
	c.mu.Unlock()

	return c.loadPage(ctx, gen, load, roomID, offset)
}

// Reload resets the window of the active room to its most recent page, e.g. after a
// failed load. Older pages still loading are discarded.
func (c *Client) Reload(ctx context.Context) error {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return ErrNoActiveRoom
	}
	c.load++
	gen, load, roomID := c.gen, c.load, c.current.ID
	c.window.Replace(nil)
	c.windowState = Loading
	c.offset = 0
	c.hasMore = true
	c.loadingMore = false
	c.mu.Unlock()
	c.notify()

	return c.loadPage(ctx, gen, load, roomID, 0)
}

// loadPage fetches the page at offset, newest first, and merges it into the window in
// chronological order if neither the room selection nor the window it was issued under
// has changed since.
func (c *Client) loadPage(ctx context.Context, gen, load uint64, roomID string, offset int) error {
	page, total, err := c.store.GetRoomMessages(ctx, roomID, offset, c.pageSize)

	c.mu.Lock()
	if c.gen != gen || c.load != load {
		c.mu.Unlock()
		c.logger.Debug("discarding stale page", slog.String("room", roomID), slog.Int("offset", offset))
		return nil
	}
	if offset > 0 {
		c.loadingMore = false
	}
	if err != nil {
		if offset == 0 {
			c.windowState = LoadFailed
		}
		c.mu.Unlock()
		c.notify()
		return fmt.Errorf("GetRoomMessages: %w", err)
	}

	page = slices.Clone(page)
	slices.Reverse(page)
	if offset == 0 {
		// messages inserted live while the first page was loading are kept after it
		live := c.window.Messages()
		c.window.Replace(page)
		for _, m := range live {
			if c.window.Contains(m.ID) {
				continue
			}
			if len(page) > 0 && m.CreatedAt.Before(page[len(page)-1].CreatedAt) {
				continue
			}
			c.window.Append(m)
		}
	} else {
		c.window.Prepend(page)
	}
	c.hasMore = total > offset+c.pageSize
	c.offset = offset + len(page)
	c.windowState = Loaded
	c.mu.Unlock()

	c.notify()
	return nil
}
