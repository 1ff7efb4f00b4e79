package sqlite

import (
	"context"
	"fmt"

	"github.com/storydesk/storydesk/internal/types"
)

// GetStatistics returns item counts by resolution, corpus size and update totals
func (s *SQLiteStorage) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	stats := &types.Statistics{ByResolution: make(map[types.Resolution]int)}

	rows, err := s.db.QueryContext(ctx, "SELECT resolution, COUNT(*) FROM items GROUP BY resolution")
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	for rows.Next() {
		var resolution string
		var count int
		if err := rows.Scan(&resolution, &count); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		stats.ByResolution[types.Resolution(resolution)] = count
		stats.TotalItems += count
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM corpus_fts").Scan(&stats.IndexEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to count index entries: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT item_id) FROM item_updates
	`).Scan(&stats.UpdateEntries, &stats.CanonicalWithUpdates)
	if err != nil {
		return nil, fmt.Errorf("failed to count updates: %w", err)
	}

	return stats, nil
}

// CheckIntegrity verifies the relational invariants of resolved items and
// returns one line per violation. An empty result means the store is consistent.
func (s *SQLiteStorage) CheckIntegrity(ctx context.Context) ([]string, error) {
	checks := []struct {
		name  string
		query string
	}{
		{
			name: "NEW item whose canonical is not itself",
			query: `SELECT id FROM items
				WHERE resolution = 'NEW' AND (canonical_id IS NULL OR canonical_id != id)`,
		},
		{
			name: "folded item without a NEW canonical",
			query: `SELECT i.id FROM items i
				LEFT JOIN items c ON c.id = i.canonical_id
				WHERE i.resolution IN ('DUPLICATE_AUTO', 'DUPLICATE_SEMANTIC', 'MERGED_UPDATE')
				  AND (c.id IS NULL OR c.resolution != 'NEW')`,
		},
		{
			name: "UNRESOLVED item with resolution fields set",
			query: `SELECT id FROM items
				WHERE resolution = 'UNRESOLVED'
				  AND (canonical_id IS NOT NULL OR similarity_score IS NOT NULL OR resolved_at IS NOT NULL)`,
		},
		{
			name: "update history attached to a non-canonical item",
			query: `SELECT DISTINCT u.item_id FROM item_updates u
				JOIN items i ON i.id = u.item_id
				WHERE i.resolution != 'NEW'`,
		},
		{
			name: "canonical updated_at differs from its latest update",
			query: `SELECT i.id FROM items i
				JOIN item_updates u ON u.item_id = i.id
				WHERE u.seq = (SELECT MAX(seq) FROM item_updates WHERE item_id = i.id)
				  AND u.timestamp != i.updated_at`,
		},
		{
			name: "canonical without updates whose updated_at differs from created_at",
			query: `SELECT id FROM items
				WHERE resolution = 'NEW' AND updated_at != created_at
				  AND NOT EXISTS (SELECT 1 FROM item_updates WHERE item_id = items.id)`,
		},
		{
			name: "resolved item without an audit event",
			query: `SELECT id FROM items
				WHERE resolution != 'UNRESOLVED'
				  AND NOT EXISTS (SELECT 1 FROM resolution_events WHERE item_id = items.id)`,
		},
	}

	var problems []string
	for _, check := range checks {
		ids, err := s.queryIDs(ctx, check.query)
		if err != nil {
			return nil, fmt.Errorf("integrity check %q failed: %w", check.name, err)
		}
		for _, id := range ids {
			problems = append(problems, fmt.Sprintf("%s: %s", check.name, id))
		}
	}
	return problems, nil
}

func (s *SQLiteStorage) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
