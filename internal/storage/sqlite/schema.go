package sqlite

import (
	"github.com/storydesk/storydesk/internal/storage/migrations"
)

// CorpusTableSQL creates the full-text corpus index. It lives in the item
// database so index writes share the resolution transaction.
const CorpusTableSQL = `
CREATE VIRTUAL TABLE IF NOT EXISTS corpus_fts USING fts5(
    headline,
    summary,
    body,
    item_id UNINDEXED,
    tokenize = 'unicode61'
);
`

// CorpusDropSQL removes the corpus index.
const CorpusDropSQL = `DROP TABLE IF EXISTS corpus_fts;`

const itemsSchema = `
CREATE TABLE IF NOT EXISTS items (
    id TEXT PRIMARY KEY,
    slug TEXT NOT NULL UNIQUE,
    headline TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    ingested_at TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    resolution TEXT NOT NULL DEFAULT 'UNRESOLVED' CHECK(resolution IN ('UNRESOLVED', 'NEW', 'DUPLICATE_AUTO', 'DUPLICATE_SEMANTIC', 'MERGED_UPDATE')),
    similarity_score REAL,
    canonical_id TEXT REFERENCES items(id),
    skip_reasoning TEXT NOT NULL DEFAULT '',
    resolved_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_items_resolution_ingested ON items(resolution, ingested_at);
CREATE INDEX IF NOT EXISTS idx_items_ingested ON items(ingested_at);
CREATE INDEX IF NOT EXISTS idx_items_canonical ON items(canonical_id);

CREATE TABLE IF NOT EXISTS item_sources (
    item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    url TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    publisher TEXT NOT NULL DEFAULT '',
    published TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (item_id, url, publisher)
);

CREATE INDEX IF NOT EXISTS idx_item_sources_position ON item_sources(item_id, position);

CREATE TABLE IF NOT EXISTS item_updates (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    timestamp TEXT NOT NULL,
    summary TEXT NOT NULL,
    content TEXT NOT NULL,
    severity_change TEXT NOT NULL CHECK(severity_change IN ('increased', 'decreased', 'unchanged')),
    sources TEXT NOT NULL DEFAULT '[]',
    origin_item_id TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    UNIQUE (item_id, seq)
);

CREATE TABLE IF NOT EXISTS resolution_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
    from_resolution TEXT NOT NULL,
    to_resolution TEXT NOT NULL,
    canonical_id TEXT NOT NULL DEFAULT '',
    score REAL,
    reasoning TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_resolution_events_item ON resolution_events(item_id);
`

// A resolution is written once; update history is append-only.
const guardTriggers = `
CREATE TRIGGER IF NOT EXISTS items_resolution_write_once
BEFORE UPDATE OF resolution ON items
WHEN OLD.resolution != 'UNRESOLVED'
BEGIN
    SELECT RAISE(ABORT, 'resolution is write-once');
END;

CREATE TRIGGER IF NOT EXISTS item_updates_no_update
BEFORE UPDATE ON item_updates
BEGIN
    SELECT RAISE(ABORT, 'update history is append-only');
END;

CREATE TRIGGER IF NOT EXISTS item_updates_no_delete
BEFORE DELETE ON item_updates
BEGIN
    SELECT RAISE(ABORT, 'update history is append-only');
END;
`

func schemaMigrations() *migrations.Manager {
	return migrations.NewManager(
		migrations.Migration{
			Version:     1,
			Description: "content items, sources, update history and audit events",
			Up:          itemsSchema,
			Down: `
				DROP TABLE IF EXISTS resolution_events;
				DROP TABLE IF EXISTS item_updates;
				DROP TABLE IF EXISTS item_sources;
				DROP TABLE IF EXISTS items;
			`,
		},
		migrations.Migration{
			Version:     2,
			Description: "corpus full-text index",
			Up:          CorpusTableSQL,
			Down:        CorpusDropSQL,
		},
		migrations.Migration{
			Version:     3,
			Description: "write-once resolution and append-only update guards",
			Up:          guardTriggers,
			Down: `
				DROP TRIGGER IF EXISTS items_resolution_write_once;
				DROP TRIGGER IF EXISTS item_updates_no_update;
				DROP TRIGGER IF EXISTS item_updates_no_delete;
			`,
		},
	)
}
