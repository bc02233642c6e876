package core

import (
	"database/sql"
	"embed"
	"io/fs"
	"os"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

type SQLiteDBOption struct {
	// mode can be ro | rw | rwc | memory
	Mode string
	// cache can be shared | private
	Cache string
	// JournalMode be DELETE | TRUNCATE | PERSIST | MEMORY | WAL | OFF
	JournalMode string
	// BusyTimeout is the number of milliseconds a connection waits for a lock.
	BusyTimeout int
	// TxLock can be deferred | immediate | exclusive
	TxLock      string
	ForeignKeys bool
}

func (config *SQLiteDBOption) DSN(sb *strings.Builder) {
	if config == nil {
		return
	}

	sep := byte('?')
	param := func(key, value string) {
		sb.WriteByte(sep)
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(value)
		sep = '&'
	}

	if config.Mode != "" {
		param("mode", config.Mode)
	}
	if config.Cache != "" {
		param("cache", config.Cache)
	}
	if config.JournalMode != "" {
		param("_journal_mode", config.JournalMode)
	}
	if config.BusyTimeout > 0 {
		param("_busy_timeout", strconv.Itoa(config.BusyTimeout))
	}
	if config.TxLock != "" {
		param("_txlock", config.TxLock)
	}
	if config.ForeignKeys {
		param("_foreign_keys", "on")
	}
}

type SQLiteDB struct {
	*sql.DB
	config *SQLiteDBOption
	file   string
	// migrationDir overrides the embedded migrations when set.
	migrationDir string
}

func NewSQLiteDB(file, migrationDir string, config *SQLiteDBOption) (*SQLiteDB, error) {
	db := &SQLiteDB{config: config, migrationDir: migrationDir, file: file}

	var dsn strings.Builder
	dsn.WriteString("file:")
	dsn.WriteString(db.file)
	config.DSN(&dsn)

	d, err := sql.Open("sqlite3", dsn.String())
	if err != nil {
		return nil, err
	}

	db.DB = d
	return db, nil
}

func (db *SQLiteDB) Migrate() error {
	var (
		migrationFS fs.FS = embeddedMigrations
		dir               = "migrations"
	)
	if db.migrationDir != "" {
		migrationFS = os.DirFS(db.migrationDir)
		dir = "."
	}
	goose.SetBaseFS(migrationFS)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}

	if err := goose.Up(db.DB, dir); err != nil {
		return err
	}
	return nil
}
