// Package sqlite stores orders, users and counters in a single SQLite file. It backs local
// development and integration tests; production runs on Firestore.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id                TEXT    PRIMARY KEY,
    number            TEXT    NOT NULL UNIQUE,
    user_id           TEXT    NOT NULL DEFAULT '',
    status            TEXT    NOT NULL,
    payment_status    TEXT    NOT NULL,
    payment_method    TEXT    NOT NULL,
    payment_intent_id TEXT    UNIQUE,
    currency          TEXT    NOT NULL,
    total_minor       INTEGER NOT NULL,
    details           TEXT    NOT NULL,
    version           INTEGER NOT NULL DEFAULT 1,
    created_at        TEXT    NOT NULL,
    updated_at        TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_awaiting ON orders(payment_status, created_at);

CREATE TABLE IF NOT EXISTS order_history (
    order_id       TEXT    NOT NULL REFERENCES orders(id),
    seq            INTEGER NOT NULL,
    status         TEXT    NOT NULL,
    payment_status TEXT    NOT NULL,
    note           TEXT    NOT NULL DEFAULT '',
    event_id       TEXT    NOT NULL DEFAULT '',
    at             TEXT    NOT NULL,
    PRIMARY KEY (order_id, seq)
);

CREATE TABLE IF NOT EXISTS applied_events (
    order_id   TEXT NOT NULL REFERENCES orders(id),
    event_type TEXT NOT NULL,
    event_id   TEXT NOT NULL,
    applied_at TEXT NOT NULL,
    PRIMARY KEY (order_id, event_type, event_id)
);

CREATE TABLE IF NOT EXISTS order_notifications (
    order_id   TEXT NOT NULL REFERENCES orders(id),
    kind       TEXT NOT NULL,
    state      TEXT NOT NULL,
    message_id TEXT NOT NULL DEFAULT '',
    error      TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL,
    PRIMARY KEY (order_id, kind)
);

CREATE TABLE IF NOT EXISTS users (
    id              TEXT    PRIMARY KEY,
    email           TEXT    NOT NULL UNIQUE,
    display_name    TEXT    NOT NULL DEFAULT '',
    guest           INTEGER NOT NULL DEFAULT 0,
    credential_hash BLOB,
    created_at      TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS counters (
    scope      TEXT    NOT NULL,
    name       TEXT    NOT NULL,
    value      INTEGER NOT NULL,
    updated_at TEXT    NOT NULL,
    PRIMARY KEY (scope, name)
);
`

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is the SQLite implementation of repositories.Store.
type Store struct {
	db       *sql.DB
	orders   *OrderRepository
	users    *UserRepository
	counters *CounterRepository
}

var _ repositories.Store = (*Store)(nil)

// Open opens (or creates) the database at path in WAL mode and applies the schema.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// One connection serialises writers; transactions hold it for their whole duration.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Store{
		db:       db,
		orders:   &OrderRepository{db: db},
		users:    &UserRepository{db: db},
		counters: &CounterRepository{db: db},
	}, nil
}

func (s *Store) Orders() repositories.OrderRepository           { return s.orders }
func (s *Store) Users() repositories.UserRepository             { return s.users }
func (s *Store) Counters() repositories.CounterRepository       { return s.counters }
func (s *Store) Notifications() repositories.NotificationOutbox { return s.orders }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return wrapError("ping", err)
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}

// wrapError maps driver failures onto repository error codes. Busy and locked databases are
// reported unavailable so the retry executor tries again.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr *repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repositories.NewError(repositories.CodeNotFound, op, nil)
	}
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return repositories.NewError(repositories.CodeUnavailable, op, err)
		}
	}
	return fmt.Errorf("sqlite: %s: %w", op, err)
}

// uniqueViolation reports whether err is a UNIQUE or PRIMARY KEY violation on the named column
// ("table.column"). An empty column matches any constraint.
func uniqueViolation(err error, column string) bool {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	switch sqlErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
	default:
		return false
	}
	return column == "" || strings.Contains(sqlErr.Error(), column)
}
