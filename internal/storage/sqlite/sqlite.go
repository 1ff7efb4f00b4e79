// Package sqlite implements content item storage on SQLite.
//
// The same database holds the corpus index (see internal/corpus) so that a
// resolution and its index mutation commit in a single transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var (
	// ErrNotFound is returned when an item does not exist
	ErrNotFound = errors.New("item not found")

	// ErrAlreadyResolved is returned when a resolution targets an item that
	// has already left UNRESOLVED
	ErrAlreadyResolved = errors.New("item already resolved")

	// ErrNotCanonical is returned when a duplicate or update points at an
	// item that is not a NEW canonical record
	ErrNotCanonical = errors.New("target is not a canonical item")
)

// timeLayout is fixed-width so stored timestamps sort lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStorage stores content items, their sources, update history and audit events
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// New opens (creating if needed) the database at path and applies migrations
func New(ctx context.Context, path string) (*SQLiteStorage, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// IMMEDIATE transactions take the write lock up front, so two writers
	// never deadlock upgrading from a read lock.
	dsn := "file:" + path +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(10000)" +
		"&_pragma=journal_mode(wal)" +
		"&_txlock=immediate"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := schemaMigrations().Apply(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, path: path}, nil
}

// DB exposes the underlying handle for components that share the database
// (the corpus index).
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Path returns the database file path
func (s *SQLiteStorage) Path() string {
	return s.path
}

// Close closes the database
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		// Rows written by hand (fixtures, manual repair) may use plain RFC3339
		if t2, err2 := time.Parse(time.RFC3339Nano, raw); err2 == nil {
			return t2.UTC(), nil
		}
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", raw, err)
	}
	return t, nil
}

// FormatTime and ParseTime expose the storage timestamp layout for
// components that query the database directly.
func FormatTime(t time.Time) string {
	return formatTime(t)
}

func ParseTime(raw string) (time.Time, error) {
	return parseTime(raw)
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
