package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/putto11262002/chatsync/core"
	"github.com/stretchr/testify/require"
)

var baseTimeout = 2 * time.Second

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type wsFixture struct {
	ctx       context.Context
	t         *testing.T
	userStore *core.SQLiteUserStore
	authStore *core.SQLiteAuthStore
	chatStore *core.SQLiteChatStore
	broker    *core.Broker
	handler   *Handler
	server    *httptest.Server
	url       string
	tearDown  func()
}

func newWSFixture(t *testing.T) *wsFixture {
	ctx, cancel := context.WithCancel(context.Background())

	db, err := core.NewSQLiteDB(filepath.Join(t.TempDir(), "ws.db"), "", &core.SQLiteDBOption{
		Mode:        "rwc",
		JournalMode: "WAL",
		BusyTimeout: 5000,
		TxLock:      "immediate",
		ForeignKeys: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())

	broker := core.NewBroker(core.WithBrokerLogger(discardLogger))
	userStore := core.NewSQLiteUserStore(db.DB)
	authStore := core.NewSQLiteAuthStore(db.DB, userStore, []byte("c2VjcmV0"))
	chatStore := core.NewSQLiteChatStore(db.DB, core.WithPublisher(broker))
	handler := NewHandler(authStore, chatStore, broker, broker, WithLogger(discardLogger),
		WithStatusTracker(userStore))
	server := httptest.NewServer(handler)

	f := &wsFixture{
		ctx:       ctx,
		t:         t,
		userStore: userStore,
		authStore: authStore,
		chatStore: chatStore,
		broker:    broker,
		handler:   handler,
		server:    server,
		url:       strings.Replace(server.URL, "http://", "ws://", 1),
	}
	f.tearDown = func() {
		handler.Close()
		server.Close()
		cancel()
		db.Close()
	}
	return f
}

// seedUser creates a user and signs it in.
func (f *wsFixture) seedUser(username string) *core.Session {
	f.t.Helper()
	_, err := f.userStore.CreateUser(f.ctx, core.User{
		Email:    username + "@example.com",
		Password: "password",
		Username: username,
	})
	require.NoError(f.t, err)
	session, err := f.authStore.NewSession(f.ctx, username+"@example.com", "password")
	require.NoError(f.t, err)
	return session
}

func (f *wsFixture) seedRoom(creator *core.Session, members ...*core.Session) core.Room {
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

func (f *wsFixture) dial(session *core.Session) *Remote {
	f.t.Helper()
	remote, err := Dial(f.ctx, f.url, session.Token, WithRemoteLogger(discardLogger))
	require.NoError(f.t, err)
	return remote
}

func (f *wsFixture) sendMessage(roomID string, sender *core.Session, content string) *core.MessageRecord {
	f.t.Helper()
	record, err := f.chatStore.CreateMessage(f.ctx, core.MessageCreateInput{
		RoomID:   roomID,
		SenderID: sender.ID,
		Content:  content,
	})
	require.NoError(f.t, err)
	return record
}

func receiveEvent(t *testing.T, sub core.Subscription) core.ChangeEvent {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return e
	case <-time.After(baseTimeout):
		require.FailNow(t, "no change event received")
	}
	return core.ChangeEvent{}
}

// waitSnapshot returns the first snapshot satisfying cond.
func waitSnapshot(t *testing.T, ch core.PresenceChannel, cond func(core.PresenceSnapshot) bool) core.PresenceSnapshot {
	t.Helper()
	timeout := time.After(baseTimeout)
	for {
		select {
		case s, ok := <-ch.Snapshots():
			require.True(t, ok, "presence channel closed")
			if cond(s) {
				return s
			}
		case <-timeout:
			require.FailNow(t, "no matching presence snapshot")
			return nil
		}
	}
}
