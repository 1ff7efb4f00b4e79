package storage

import (
	"context"
	"database/sql"

	"github.com/storydesk/storydesk/internal/storage/sqlite"
	"github.com/storydesk/storydesk/internal/types"
)

// Storage defines the interface for content item storage backends
type Storage interface {
	// Items
	CreateItem(ctx context.Context, item *types.ContentItem) error
	GetItem(ctx context.Context, id string) (*types.ContentItem, error)
	GetItemBySlug(ctx context.Context, slug string) (*types.ContentItem, error)
	ListItems(ctx context.Context, filter types.ItemFilter) ([]*types.ContentItem, error)
	GetUnresolved(ctx context.Context, batch types.BatchFilter) ([]*types.ContentItem, error)
	GetUpdates(ctx context.Context, itemID string) ([]types.UpdateEntry, error)

	// Resolution - single transaction per item, hook runs inside it
	ApplyResolution(ctx context.Context, change *types.ResolutionChange, hook sqlite.TxHook) (*types.ContentItem, error)
	GetEvents(ctx context.Context, itemID string) ([]*types.ResolutionEvent, error)

	// Statistics & integrity
	GetStatistics(ctx context.Context) (*types.Statistics, error)
	CheckIntegrity(ctx context.Context) ([]string, error)

	// Shared handle for the corpus index
	DB() *sql.DB

	// Lifecycle
	Close() error
}

var (
	ErrNotFound        = sqlite.ErrNotFound
	ErrAlreadyResolved = sqlite.ErrAlreadyResolved
	ErrNotCanonical    = sqlite.ErrNotCanonical
)

// DefaultPath is used when neither a flag nor STORYDESK_DB_PATH names a database
const DefaultPath = ".storydesk/storydesk.db"

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path
	// Default: ".storydesk/storydesk.db"
	Path string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path: DefaultPath,
	}
}

// NewStorage opens the SQLite storage backend and applies pending migrations
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}

	return sqlite.New(ctx, cfg.Path)
}
