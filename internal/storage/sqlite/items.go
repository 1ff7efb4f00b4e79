package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/storydesk/storydesk/internal/types"
)

var itemColumns = []string{
	"id", "slug", "headline", "summary", "body",
	"ingested_at", "created_at", "updated_at",
	"resolution", "similarity_score", "canonical_id", "skip_reasoning",
}

const maxSlugLength = 80

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateItem stores a new UNRESOLVED item with its sources.
// The ID and slug are generated when empty; a taken slug gets a numeric suffix.
func (s *SQLiteStorage) CreateItem(ctx context.Context, item *types.ContentItem) error {
	if item.Resolution == "" {
		item.Resolution = types.ResolutionUnresolved
	}
	if item.Resolution != types.ResolutionUnresolved {
		return fmt.Errorf("items must be created %s (got %s)", types.ResolutionUnresolved, item.Resolution)
	}
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid item: %w", err)
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.IngestedAt = item.IngestedAt.UTC()
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.CreatedAt

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	base := item.Slug
	if base == "" {
		base = Slugify(item.Headline)
	}
	slug, err := uniqueSlug(ctx, tx, base)
	if err != nil {
		return err
	}
	item.Slug = slug

	_, err = tx.ExecContext(ctx, `
		INSERT INTO items (
			id, slug, headline, summary, body,
			ingested_at, created_at, updated_at, resolution
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.Slug, item.Headline, item.Summary, item.Body,
		formatTime(item.IngestedAt), formatTime(item.CreatedAt), formatTime(item.UpdatedAt),
		string(item.Resolution))
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}

	if _, err := insertSources(ctx, tx, item.ID, item.Sources); err != nil {
		return err
	}

	return tx.Commit()
}

// GetItem returns an item with its sources and update history
func (s *SQLiteStorage) GetItem(ctx context.Context, id string) (*types.ContentItem, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+strings.Join(itemColumns, ", ")+" FROM items WHERE id = ?", id)
	return s.loadItem(ctx, row, id)
}

// GetItemBySlug returns the item with the given slug
func (s *SQLiteStorage) GetItemBySlug(ctx context.Context, slug string) (*types.ContentItem, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+strings.Join(itemColumns, ", ")+" FROM items WHERE slug = ?", slug)
	return s.loadItem(ctx, row, slug)
}

func (s *SQLiteStorage) loadItem(ctx context.Context, row *sql.Row, key string) (*types.ContentItem, error) {
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}

	if item.Sources, err = s.getSources(ctx, item.ID); err != nil {
		return nil, err
	}
	if item.Updates, err = s.GetUpdates(ctx, item.ID); err != nil {
		return nil, err
	}
	return item, nil
}

// ListItems returns items in ingestion order, narrowed by the filter.
// Update history is not loaded; use GetUpdates.
func (s *SQLiteStorage) ListItems(ctx context.Context, filter types.ItemFilter) ([]*types.ContentItem, error) {
	q := sq.Select(itemColumns...).From("items").OrderBy("ingested_at ASC", "rowid ASC")
	if filter.Resolution != nil {
		q = q.Where(sq.Eq{"resolution": string(*filter.Resolution)})
	}
	if filter.CanonicalID != nil {
		q = q.Where(sq.Eq{"canonical_id": *filter.CanonicalID})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	return s.queryItems(ctx, q)
}

// GetUnresolved returns the UNRESOLVED items in the batch, oldest first.
func (s *SQLiteStorage) GetUnresolved(ctx context.Context, batch types.BatchFilter) ([]*types.ContentItem, error) {
	q := sq.Select(itemColumns...).
		From("items").
		Where(sq.Eq{"resolution": string(types.ResolutionUnresolved)}).
		OrderBy("ingested_at ASC", "rowid ASC")
	if !batch.From.IsZero() {
		q = q.Where(sq.GtOrEq{"ingested_at": formatTime(batch.From)})
	}
	if !batch.To.IsZero() {
		q = q.Where(sq.Lt{"ingested_at": formatTime(batch.To)})
	}
	if batch.Limit > 0 {
		q = q.Limit(uint64(batch.Limit))
	}
	return s.queryItems(ctx, q)
}

func (s *SQLiteStorage) queryItems(ctx context.Context, q sq.SelectBuilder) ([]*types.ContentItem, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build item query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}

	var items []*types.ContentItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("error iterating item rows: %w", err)
	}
	_ = rows.Close()

	// Sources are loaded after the cursor is closed so a single-connection
	// pool cannot deadlock.
	for _, item := range items {
		if item.Sources, err = s.getSources(ctx, item.ID); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func scanItem(row rowScanner) (*types.ContentItem, error) {
	item := &types.ContentItem{}
	var ingestedAt, createdAt, updatedAt, resolution string
	var score sql.NullFloat64
	var canonicalID sql.NullString

	err := row.Scan(
		&item.ID,
		&item.Slug,
		&item.Headline,
		&item.Summary,
		&item.Body,
		&ingestedAt,
		&createdAt,
		&updatedAt,
		&resolution,
		&score,
		&canonicalID,
		&item.SkipReasoning,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan item: %w", err)
	}

	if item.IngestedAt, err = parseTime(ingestedAt); err != nil {
		return nil, err
	}
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	item.Resolution = types.Resolution(resolution)
	if score.Valid {
		v := score.Float64
		item.SimilarityScore = &v
	}
	if canonicalID.Valid {
		v := canonicalID.String
		item.CanonicalID = &v
	}
	return item, nil
}

func (s *SQLiteStorage) getSources(ctx context.Context, itemID string) ([]types.Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, title, publisher, published
		FROM item_sources
		WHERE item_id = ?
		ORDER BY position ASC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sources []types.Source
	for rows.Next() {
		var src types.Source
		if err := rows.Scan(&src.URL, &src.Title, &src.Publisher, &src.Date); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// insertSources appends sources after the item's current last position,
// skipping any (url, publisher) already present. Returns the number added.
func insertSources(ctx context.Context, tx *sql.Tx, itemID string, sources []types.Source) (int, error) {
	if len(sources) == 0 {
		return 0, nil
	}

	var next int
	err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(position) + 1, 0) FROM item_sources WHERE item_id = ?", itemID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to read source position: %w", err)
	}

	added := 0
	for _, src := range sources {
		key := src.Key()
		result, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO item_sources (item_id, position, url, title, publisher, published)
			VALUES (?, ?, ?, ?, ?, ?)
		`, itemID, next, key.URL, src.Title, key.Publisher, src.Date)
		if err != nil {
			return added, fmt.Errorf("failed to insert source: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return added, fmt.Errorf("failed to check rows affected: %w", err)
		}
		if n > 0 {
			next++
			added++
		}
	}
	return added, nil
}

// GetUpdates returns the update history of an item in append order
func (s *SQLiteStorage) GetUpdates(ctx context.Context, itemID string) ([]types.UpdateEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, timestamp, summary, content, severity_change, sources, origin_item_id
		FROM item_updates
		WHERE item_id = ?
		ORDER BY seq ASC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query updates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var updates []types.UpdateEntry
	for rows.Next() {
		var entry types.UpdateEntry
		var ts, severity, sourcesJSON string
		if err := rows.Scan(&entry.Seq, &ts, &entry.Summary, &entry.Content, &severity, &sourcesJSON, &entry.OriginItemID); err != nil {
			return nil, fmt.Errorf("failed to scan update: %w", err)
		}
		if entry.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		entry.SeverityChange = types.SeverityChange(severity)
		if err := json.Unmarshal([]byte(sourcesJSON), &entry.Sources); err != nil {
			return nil, fmt.Errorf("failed to decode update sources: %w", err)
		}
		updates = append(updates, entry)
	}
	return updates, rows.Err()
}

// Slugify turns a headline into a URL-safe slug.
func Slugify(headline string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(headline) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= maxSlugLength {
			break
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "item"
	}
	return slug
}

func uniqueSlug(ctx context.Context, tx *sql.Tx, base string) (string, error) {
	candidate := base
	for i := 2; ; i++ {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM items WHERE slug = ?", candidate).Scan(&exists)
		if err != nil {
			return "", fmt.Errorf("failed to check slug: %w", err)
		}
		if exists == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}
