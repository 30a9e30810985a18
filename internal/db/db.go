package db

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/PowerSchill/automation-concierge/internal/clock"
	"github.com/PowerSchill/automation-concierge/internal/logging"
)

const DefaultRetentionDays = 30

// Fixed-width UTC layout so that text comparison in SQL orders by time.
const timeLayout = "2006-01-02T15:04:05.000000Z"

type Database struct {
	conn      *sql.DB
	path      string
	clock     clock.Clock
	retention time.Duration
	logger    *slog.Logger

	// beforeCommit runs after a transaction's statements and before
	// COMMIT. Tests use it to inject failures.
	beforeCommit func(op string) error
}

type Option func(*Database)

func WithClock(clk clock.Clock) Option {
	return func(db *Database) { db.clock = clk }
}

func WithRetentionDays(days int) Option {
	return func(db *Database) {
		if days > 0 {
			db.retention = time.Duration(days) * 24 * time.Hour
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(db *Database) { db.logger = l }
}

func Open(path string, opts ...Option) (*Database, error) {
	db := &Database{
		path:      path,
		clock:     clock.System{},
		retention: DefaultRetentionDays * 24 * time.Hour,
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(db)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	_, statErr := os.Stat(path)
	isNew := errors.Is(statErr, fs.ErrNotExist)

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// one writer; a second pooled connection would only contend for the lock
	conn.SetMaxOpenConns(1)
	db.conn = conn

	if err := db.verifyWALMode(); err != nil {
		conn.Close()
		return nil, err
	}

	if isNew {
		if err := os.Chmod(path, 0600); err != nil {
			db.logger.Warn("could not restrict state file permissions", "path", path, "error", err)
		}
	}

	if err := db.migrate(migrations); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

func (db *Database) Close() error {
	return db.conn.Close()
}

func (db *Database) Path() string {
	return db.path
}

func (db *Database) verifyWALMode() error {
	var mode string
	if err := db.conn.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("checking journal mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		return fmt.Errorf("expected WAL journal mode, got %q", mode)
	}
	return nil
}

// withTx runs fn in a transaction. Any error rolls the whole operation back.
func (db *Database) withTx(op string, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("%s: beginning transaction: %w", op, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if db.beforeCommit != nil {
		if err := db.beforeCommit(op); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: committing: %w", op, err)
	}
	return nil
}

func (db *Database) now() time.Time {
	return db.clock.Now().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t.UTC()
}

func nullTimeString(t sql.NullTime) sql.NullString {
	if !t.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t.Time), Valid: true}
}

func parseNullTime(s sql.NullString) sql.NullTime {
	if !s.Valid || s.String == "" {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: parseTime(s.String), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

type scanFunc func(dest ...any) error
