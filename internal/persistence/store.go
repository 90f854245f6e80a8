// Package persistence stores the agent registry and the run journal in SQLite.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a key, run, or task does not exist.
var ErrNotFound = errors.New("not found")

// connPragmas are applied by the driver to every new connection.
var connPragmas = []string{
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

// filePragmas only make sense for a database backed by a file.
var filePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

// SQLiteStore holds the key-value collection and the run journal.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath, creating parent
// directories as needed.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}
	return open(ctx, dsn(dbPath, nil, append(connPragmas, filePragmas...)))
}

// NewMemoryStore opens a private in-memory database. Each call gets its own
// named database, shared by that store's connections.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	extra := url.Values{"mode": {"memory"}, "cache": {"shared"}}
	return open(ctx, dsn(uuid.NewString(), extra, connPragmas))
}

// dsn builds a modernc connection string. Pragmas use the driver's
// _pragma=name(value) form.
func dsn(name string, params url.Values, pragmas []string) string {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return "file:" + name + "?" + q.Encode()
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Writes are serialized by SQLite anyway; one connection keeps the
	// in-memory variant alive and avoids SQLITE_BUSY between our own calls.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// withTx runs fn inside a serializable transaction, committing when fn
// returns nil and rolling back otherwise.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
