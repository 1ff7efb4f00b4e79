package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/storydesk/storydesk/internal/types"
)

// TxHook runs inside the resolution transaction after the item rows are
// written. Returning an error rolls the whole resolution back.
type TxHook func(ctx context.Context, tx *sql.Tx, item *types.ContentItem) error

// ApplyResolution commits one terminal transition atomically:
// the item's resolution fields, source merge, update append, canonical
// updated_at, audit event and (via hook) the corpus index entry.
//
// Returns ErrAlreadyResolved if the item has left UNRESOLVED, and
// ErrNotCanonical if a duplicate or update targets a non-NEW item.
func (s *SQLiteStorage) ApplyResolution(ctx context.Context, change *types.ResolutionChange, hook TxHook) (*types.ContentItem, error) {
	if err := change.Validate(); err != nil {
		return nil, fmt.Errorf("invalid resolution change: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	item, err := scanItem(tx.QueryRowContext(ctx,
		"SELECT "+strings.Join(itemColumns, ", ")+" FROM items WHERE id = ?", change.ItemID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, change.ItemID)
	}
	if err != nil {
		return nil, err
	}
	if item.Resolution != types.ResolutionUnresolved {
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, item.ID, item.Resolution)
	}

	canonicalID := change.CanonicalID
	if change.Resolution == types.ResolutionNew {
		canonicalID = item.ID
	} else if err := requireCanonical(ctx, tx, canonicalID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		UPDATE items
		SET resolution = ?, similarity_score = ?, canonical_id = ?, skip_reasoning = ?, resolved_at = ?
		WHERE id = ? AND resolution = 'UNRESOLVED'
	`, string(change.Resolution), nullFloat(change.Score), canonicalID, change.Reasoning,
		formatTime(now), item.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update item resolution: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyResolved, item.ID)
	}

	if change.MergeSources && change.Resolution.FoldsIntoCanonical() {
		if err := mergeSourcesInto(ctx, tx, item.ID, canonicalID); err != nil {
			return nil, err
		}
	}

	if change.Update != nil {
		if err := appendUpdate(ctx, tx, canonicalID, change.Update, now); err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO resolution_events (item_id, from_resolution, to_resolution, canonical_id, score, reasoning, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, item.ID, string(types.ResolutionUnresolved), string(change.Resolution), canonicalID,
		nullFloat(change.Score), change.Reasoning, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to record resolution event: %w", err)
	}

	item.Resolution = change.Resolution
	item.SimilarityScore = change.Score
	item.CanonicalID = &canonicalID
	item.SkipReasoning = change.Reasoning

	if hook != nil {
		if err := hook(ctx, tx, item); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit resolution: %w", err)
	}
	return item, nil
}

func requireCanonical(ctx context.Context, tx *sql.Tx, id string) error {
	var resolution string
	err := tx.QueryRowContext(ctx, "SELECT resolution FROM items WHERE id = ?", id).Scan(&resolution)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s does not exist", ErrNotCanonical, id)
	}
	if err != nil {
		return fmt.Errorf("failed to read canonical item: %w", err)
	}
	if types.Resolution(resolution) != types.ResolutionNew {
		return fmt.Errorf("%w: %s is %s", ErrNotCanonical, id, resolution)
	}
	return nil
}

// mergeSourcesInto appends the item's sources to the canonical, keeping the
// canonical's existing order and skipping (url, publisher) pairs it already has.
func mergeSourcesInto(ctx context.Context, tx *sql.Tx, itemID, canonicalID string) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT url, title, publisher, published
		FROM item_sources
		WHERE item_id = ?
		ORDER BY position ASC
	`, itemID)
	if err != nil {
		return fmt.Errorf("failed to query sources: %w", err)
	}
	var incoming []types.Source
	for rows.Next() {
		var src types.Source
		if err := rows.Scan(&src.URL, &src.Title, &src.Publisher, &src.Date); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan source: %w", err)
		}
		incoming = append(incoming, src)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("error iterating source rows: %w", err)
	}
	_ = rows.Close()

	if _, err := insertSources(ctx, tx, canonicalID, incoming); err != nil {
		return fmt.Errorf("failed to merge sources into %s: %w", canonicalID, err)
	}
	return nil
}

// appendUpdate adds an entry to the canonical's history and moves the
// canonical's updated_at to the entry's timestamp.
func appendUpdate(ctx context.Context, tx *sql.Tx, canonicalID string, entry *types.UpdateEntry, now time.Time) error {
	var seq int
	err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq) + 1, 0) FROM item_updates WHERE item_id = ?", canonicalID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("failed to read update sequence: %w", err)
	}
	entry.Seq = seq

	sources := entry.Sources
	if sources == nil {
		sources = []types.UpdateSource{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("failed to encode update sources: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO item_updates (item_id, seq, timestamp, summary, content, severity_change, sources, origin_item_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, canonicalID, seq, formatTime(entry.Timestamp), entry.Summary, entry.Content,
		string(entry.SeverityChange), string(sourcesJSON), entry.OriginItemID, formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to append update: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE items SET updated_at = ? WHERE id = ?",
		formatTime(entry.Timestamp), canonicalID); err != nil {
		return fmt.Errorf("failed to advance canonical updated_at: %w", err)
	}
	return nil
}

// GetEvents returns the audit trail for an item, oldest first
func (s *SQLiteStorage) GetEvents(ctx context.Context, itemID string) ([]*types.ResolutionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, from_resolution, to_resolution, canonical_id, score, reasoning, created_at
		FROM resolution_events
		WHERE item_id = ?
		ORDER BY id ASC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.ResolutionEvent
	for rows.Next() {
		ev := &types.ResolutionEvent{}
		var from, to, createdAt string
		var score sql.NullFloat64
		if err := rows.Scan(&ev.ID, &ev.ItemID, &from, &to, &ev.CanonicalID, &score, &ev.Reasoning, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.From = types.Resolution(from)
		ev.To = types.Resolution(to)
		if score.Valid {
			v := score.Float64
			ev.Score = &v
		}
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
