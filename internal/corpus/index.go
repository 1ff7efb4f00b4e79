// Package corpus maintains the full-text index of canonical (NEW) items.
//
// The index is an FTS5 table in the item database. Searches share a read
// lock; every mutation, including the resolution transaction that inserts a
// new canonical, runs under the write lock so searches never observe a
// partially applied batch.
package corpus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/storydesk/storydesk/internal/storage/sqlite"
	"github.com/storydesk/storydesk/internal/types"
)

// ErrIndexUnavailable is returned when the index table is missing or corrupt.
// Recovery is Rebuild, never an incremental patch.
var ErrIndexUnavailable = errors.New("corpus index unavailable")

// Weights are the per-field bm25 weights
type Weights struct {
	Headline float64 `yaml:"headline"`
	Summary  float64 `yaml:"summary"`
	Body     float64 `yaml:"body"`
}

// DefaultWeights favours headline matches over summary over body
func DefaultWeights() Weights {
	return Weights{Headline: 10, Summary: 5, Body: 1}
}

// Validate requires non-negative weights with at least one positive
func (w Weights) Validate() error {
	if w.Headline < 0 || w.Summary < 0 || w.Body < 0 {
		return fmt.Errorf("weights must be non-negative (got %v/%v/%v)", w.Headline, w.Summary, w.Body)
	}
	if w.Headline+w.Summary+w.Body == 0 {
		return fmt.Errorf("at least one weight must be positive")
	}
	return nil
}

// Query is a ranked search over the index
type Query struct {
	Match     string    // FTS5 match expression
	Weights   Weights   // bm25 field weights
	Since     time.Time // only items ingested at or after this instant
	Until     time.Time // only items ingested before this instant; zero is open
	ExcludeID string    // never return this item
	Limit     int
}

// Candidate is one ranked search hit. Lower scores are more similar.
type Candidate struct {
	ItemID     string
	Score      float64
	IngestedAt time.Time
}

// Index is the corpus of canonical items
type Index struct {
	db *sql.DB
	mu sync.RWMutex
}

// New wraps the index table in db
func New(db *sql.DB) *Index {
	return &Index{db: db}
}

// Search returns up to q.Limit candidates, best first
func (x *Index) Search(ctx context.Context, q Query) ([]Candidate, error) {
	if strings.TrimSpace(q.Match) == "" {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	args := []any{q.Weights.Headline, q.Weights.Summary, q.Weights.Body,
		q.Match, q.ExcludeID, sqlite.FormatTime(q.Since)}
	upper := ""
	if !q.Until.IsZero() {
		upper = "AND items.ingested_at < ?"
		args = append(args, sqlite.FormatTime(q.Until))
	}
	args = append(args, limit)

	rows, err := x.db.QueryContext(ctx, `
		SELECT corpus_fts.item_id, bm25(corpus_fts, ?, ?, ?) AS score, items.ingested_at
		FROM corpus_fts
		JOIN items ON items.id = corpus_fts.item_id
		WHERE corpus_fts MATCH ?
		  AND corpus_fts.item_id != ?
		  AND items.ingested_at >= ?
		  `+upper+`
		ORDER BY score ASC, items.ingested_at ASC, items.rowid ASC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("search failed: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var candidates []Candidate
	for rows.Next() {
		var c Candidate
		var ingested string
		if err := rows.Scan(&c.ItemID, &c.Score, &ingested); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		if c.IngestedAt, err = sqlite.ParseTime(ingested); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("search failed: %w", err))
	}
	return candidates, nil
}

// Exclusive runs fn holding the write lock. The resolution writer uses it to
// cover its whole transaction.
func (x *Index) Exclusive(fn func() error) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return fn()
}

// InsertTx adds a canonical item inside an open transaction.
// The caller must hold the write lock (see Exclusive).
func (x *Index) InsertTx(ctx context.Context, tx *sql.Tx, item *types.ContentItem) error {
	if !item.IsCanonical() {
		return fmt.Errorf("refusing to index %s item %s", item.Resolution, item.ID)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO corpus_fts (headline, summary, body, item_id) VALUES (?, ?, ?, ?)
	`, item.Headline, item.Summary, item.Body, item.ID)
	if err != nil {
		return classify(fmt.Errorf("failed to index item %s: %w", item.ID, err))
	}
	return nil
}

// Has reports whether the item has an index entry
func (x *Index) Has(ctx context.Context, itemID string) (bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var n int
	err := x.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM corpus_fts WHERE item_id = ?", itemID).Scan(&n)
	if err != nil {
		return false, classify(err)
	}
	return n > 0, nil
}

// Count returns the number of index entries
func (x *Index) Count(ctx context.Context) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var n int
	if err := x.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM corpus_fts").Scan(&n); err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// Check verifies the index table exists and passes the FTS5 integrity check
func (x *Index) Check(ctx context.Context) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var n int
	err := x.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'corpus_fts'").Scan(&n)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: table corpus_fts is missing", ErrIndexUnavailable)
	}
	if _, err := x.db.ExecContext(ctx, "INSERT INTO corpus_fts (corpus_fts) VALUES ('integrity-check')"); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	return nil
}

// Rebuild drops the index and repopulates it from every NEW item in one
// transaction. Returns the number of entries written.
func (x *Index) Rebuild(ctx context.Context) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, sqlite.CorpusDropSQL); err != nil {
		return 0, fmt.Errorf("failed to drop index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqlite.CorpusTableSQL); err != nil {
		return 0, fmt.Errorf("failed to create index: %w", err)
	}
	result, err := tx.ExecContext(ctx, `
		INSERT INTO corpus_fts (headline, summary, body, item_id)
		SELECT headline, summary, body, id FROM items
		WHERE resolution = 'NEW'
		ORDER BY ingested_at ASC, rowid ASC
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to populate index: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit rebuild: %w", err)
	}
	return int(n), nil
}

// Verify cross-checks the index against item resolutions and returns one
// line per violation.
func (x *Index) Verify(ctx context.Context) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	checks := []struct {
		name  string
		query string
	}{
		{
			name: "index entry for non-NEW item",
			query: `SELECT corpus_fts.item_id FROM corpus_fts
				LEFT JOIN items ON items.id = corpus_fts.item_id
				WHERE items.id IS NULL OR items.resolution != 'NEW'`,
		},
		{
			name: "NEW item missing from index",
			query: `SELECT id FROM items
				WHERE resolution = 'NEW'
				  AND id NOT IN (SELECT item_id FROM corpus_fts)`,
		},
		{
			name: "item indexed more than once",
			query: `SELECT item_id FROM corpus_fts
				GROUP BY item_id HAVING COUNT(*) > 1`,
		},
	}

	var problems []string
	for _, check := range checks {
		rows, err := x.db.QueryContext(ctx, check.query)
		if err != nil {
			return nil, classify(fmt.Errorf("index check %q failed: %w", check.name, err))
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return nil, err
			}
			problems = append(problems, fmt.Sprintf("%s: %s", check.name, id))
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return problems, nil
}

// classify maps errors that mean the index itself is broken to ErrIndexUnavailable
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"no such table", "malformed", "corrupt", "no such column: corpus_fts"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
		}
	}
	return err
}
