package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/putto11262002/chatsync/core"
	"github.com/stretchr/testify/require"
)

var baseTimeout = 2 * time.Second

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type clientFixture struct {
	ctx       context.Context
	t         *testing.T
	db        *core.SQLiteDB
	userStore *core.SQLiteUserStore
	chatStore *core.SQLiteChatStore
	broker    *core.Broker
	tearDown  func()
}

func newClientFixture(t *testing.T) *clientFixture {
	ctx, cancel := context.WithCancel(context.Background())

	db, err := core.NewSQLiteDB(filepath.Join(t.TempDir(), "client.db"), "", &core.SQLiteDBOption{
		Mode:        "rwc",
		JournalMode: "WAL",
		BusyTimeout: 5000,
		TxLock:      "immediate",
		ForeignKeys: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())

	broker := core.NewBroker(core.WithBrokerLogger(discardLogger))
	f := &clientFixture{
		ctx:       ctx,
		t:         t,
		db:        db,
		userStore: core.NewSQLiteUserStore(db.DB),
		chatStore: core.NewSQLiteChatStore(db.DB, core.WithPublisher(broker)),
		broker:    broker,
	}
	f.tearDown = func() {
		cancel()
		db.Close()
	}
	return f
}

func (f *clientFixture) seedUser(username string) core.Identity {
	f.t.Helper()
	identity, err := f.userStore.CreateUser(f.ctx, core.User{
		Email:    username + "@example.com",
		Password: "password",
		Username: username,
	})
	require.NoError(f.t, err)
	return *identity
}

func (f *clientFixture) seedRoom(creator core.Identity, members ...core.Identity) core.Room {
	f.t.Helper()
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	name := "Room"
	room, err := f.chatStore.CreateRoom(f.ctx, core.RoomCreateInput{
		Name:      &name,
		IsGroup:   true,
		CreatedBy: creator.ID,
		MemberIDs: ids,
	})
	require.NoError(f.t, err)
	return *room
}

func (f *clientFixture) seedMessages(roomID string, sender core.Identity, n int) []core.MessageRecord {
	f.t.Helper()
	records := make([]core.MessageRecord, 0, n)
	for i := 0; i < n; i++ {
		record, err := f.chatStore.CreateMessage(f.ctx, core.MessageCreateInput{
			RoomID:   roomID,
			SenderID: sender.ID,
			Content:  fmt.Sprintf("message %d", i),
		})
		require.NoError(f.t, err)
		records = append(records, *record)
	}
	return records
}

// newClient starts a client signed in as identity and waits for its directory to load.
func (f *clientFixture) newClient(identity core.Identity, store core.ChatStore, opts ...Option) *Client {
	f.t.Helper()
	if store == nil {
		store = f.chatStore
	}
	opts = append([]Option{WithLogger(discardLogger)}, opts...)
	c := New(store, f.userStore, f.broker, f.broker, core.StaticAuth{Identity: &identity}, opts...)
	require.NoError(f.t, c.Start(f.ctx))
	require.Eventually(f.t, func() bool {
		s := c.State()
		return s.Directory == Loaded && s.Profile != nil
	}, baseTimeout, baseTimeout/40, "directory did not load")
	return c
}

func messageIDs(messages []core.Message) []string {
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	return ids
}

func recordIDs(records []core.MessageRecord) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}

// gatedStore blocks the next page load of a gated room until the gate is opened.
type gatedStore struct {
	core.ChatStore
	mu      sync.Mutex
	gates   map[string]chan struct{}
	entered chan string
}

func newGatedStore(store core.ChatStore) *gatedStore {
	return &gatedStore{
		ChatStore: store,
		gates:     make(map[string]chan struct{}),
		entered:   make(chan string, 16),
	}
}

func (s *gatedStore) gate(roomID string) func() {
	ch := make(chan struct{})
	s.mu.Lock()
	s.gates[roomID] = ch
	s.mu.Unlock()
	return func() { close(ch) }
}

func (s *gatedStore) GetRoomMessages(ctx context.Context, roomID string, offset, limit int) ([]core.Message, int, error) {
	s.mu.Lock()
	gate := s.gates[roomID]
	delete(s.gates, roomID)
	s.mu.Unlock()
	if gate != nil {
		s.entered <- roomID
		<-gate
	}
	return s.ChatStore.GetRoomMessages(ctx, roomID, offset, limit)
}

// failingStore fails every read with a transient error while down is set.
type failingStore struct {
	core.ChatStore
	mu   sync.Mutex
	down bool
}

func (s *failingStore) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *failingStore) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return core.NewError(core.ErrTransientIO, "failingStore", io.ErrUnexpectedEOF)
	}
	return nil
}

func (s *failingStore) GetMemberRoomIDs(ctx context.Context, userID string) ([]string, error) {
	if err := s.err(); err != nil {
		return nil, err
	}
	return s.ChatStore.GetMemberRoomIDs(ctx, userID)
}

func (s *failingStore) GetRoomMessages(ctx context.Context, roomID string, offset, limit int) ([]core.Message, int, error) {
	if err := s.err(); err != nil {
		return nil, 0, err
	}
	return s.ChatStore.GetRoomMessages(ctx, roomID, offset, limit)
}
