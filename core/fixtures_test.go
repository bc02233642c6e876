package core

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

var baseTimeout = time.Second

type BaseFixture struct {
	ctx      context.Context
	db       *sql.DB
	t        *testing.T
	tearDown func()
}

func NewBaseFixture(t *testing.T) *BaseFixture {
	ctx, cancel := context.WithCancel(context.Background())

	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"), "", &SQLiteDBOption{
		Mode:        "rwc",
		JournalMode: "WAL",
		BusyTimeout: 5000,
		TxLock:      "immediate",
		ForeignKeys: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	return &BaseFixture{
		ctx: ctx,
		db:  db.DB,
		t:   t,
		tearDown: func() {
			cancel()
			db.Close()
		},
	}
}

type UserFixture struct {
	*BaseFixture
	userStore *SQLiteUserStore
}

func NewUserFixture(t *testing.T) *UserFixture {
	base := NewBaseFixture(t)
	return &UserFixture{
		BaseFixture: base,
		userStore:   NewSQLiteUserStore(base.db),
	}
}

type ChatFixture struct {
	*BaseFixture
	userStore *SQLiteUserStore
	chatStore *SQLiteChatStore
	broker    *Broker
}

func NewChatFixture(t *testing.T) *ChatFixture {
	base := NewBaseFixture(t)
	broker := NewBroker()
	return &ChatFixture{
		BaseFixture: base,
		userStore:   NewSQLiteUserStore(base.db),
		chatStore:   NewSQLiteChatStore(base.db, WithPublisher(broker)),
		broker:      broker,
	}
}
