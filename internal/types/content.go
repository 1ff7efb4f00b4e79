package types

import (
	"fmt"
	"strings"
	"time"
)

// ContentItem is a single news-style item flowing through resolution.
// Items arrive UNRESOLVED from the upstream producer and are resolved exactly once.
type ContentItem struct {
	ID              string        `json:"id"`
	Slug            string        `json:"slug"`
	Headline        string        `json:"headline"`
	Summary         string        `json:"summary"`
	Body            string        `json:"body"`
	IngestedAt      time.Time     `json:"ingested_at"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	Sources         []Source      `json:"sources"`
	Resolution      Resolution    `json:"resolution"`
	SimilarityScore *float64      `json:"similarity_score,omitempty"`
	CanonicalID     *string       `json:"canonical_id,omitempty"`
	SkipReasoning   string        `json:"skip_reasoning,omitempty"`
	Updates         []UpdateEntry `json:"updates,omitempty"`
}

// Validate checks the fields the producer is responsible for.
func (c *ContentItem) Validate() error {
	if strings.TrimSpace(c.Headline) == "" {
		return fmt.Errorf("headline is required")
	}
	if len(c.Headline) > 500 {
		return fmt.Errorf("headline must be 500 characters or less (got %d)", len(c.Headline))
	}
	if c.IngestedAt.IsZero() {
		return fmt.Errorf("ingested_at is required")
	}
	if !c.Resolution.IsValid() {
		return fmt.Errorf("invalid resolution: %s", c.Resolution)
	}
	for i, src := range c.Sources {
		if err := src.Validate(); err != nil {
			return fmt.Errorf("source %d: %w", i, err)
		}
	}
	return nil
}

// IsCanonical reports whether the item is the record of truth for its story.
func (c *ContentItem) IsCanonical() bool {
	return c.Resolution == ResolutionNew
}

// FullText renders the three scoring fields for prompts and display.
func (c *ContentItem) FullText() string {
	var b strings.Builder
	b.WriteString("Headline: ")
	b.WriteString(c.Headline)
	if c.Summary != "" {
		b.WriteString("\nSummary: ")
		b.WriteString(c.Summary)
	}
	if c.Body != "" {
		b.WriteString("\nBody: ")
		b.WriteString(c.Body)
	}
	return b.String()
}

// DerivedUpdatedAt returns the timestamp of the newest update, or CreatedAt
// when the item has no updates.
func (c *ContentItem) DerivedUpdatedAt() time.Time {
	if n := len(c.Updates); n > 0 {
		return c.Updates[n-1].Timestamp
	}
	return c.CreatedAt
}

// Resolution is the terminal (or pending) state of a ContentItem
type Resolution string

const (
	ResolutionUnresolved        Resolution = "UNRESOLVED"
	ResolutionNew               Resolution = "NEW"
	ResolutionDuplicateAuto     Resolution = "DUPLICATE_AUTO"
	ResolutionDuplicateSemantic Resolution = "DUPLICATE_SEMANTIC"
	ResolutionMergedUpdate      Resolution = "MERGED_UPDATE"
)

// IsValid checks if the resolution value is known
func (r Resolution) IsValid() bool {
	switch r {
	case ResolutionUnresolved, ResolutionNew, ResolutionDuplicateAuto,
		ResolutionDuplicateSemantic, ResolutionMergedUpdate:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (r Resolution) IsTerminal() bool {
	return r.IsValid() && r != ResolutionUnresolved
}

// FoldsIntoCanonical reports whether an item with this resolution points at another item.
func (r Resolution) FoldsIntoCanonical() bool {
	return r == ResolutionDuplicateAuto || r == ResolutionDuplicateSemantic || r == ResolutionMergedUpdate
}

// Source is one piece of provenance for an item
type Source struct {
	URL       string `json:"url" yaml:"url"`
	Title     string `json:"title" yaml:"title"`
	Publisher string `json:"publisher" yaml:"publisher"`
	Date      string `json:"date,omitempty" yaml:"date,omitempty"`
}

// Validate checks a source has a URL to dedup on.
func (s Source) Validate() error {
	if strings.TrimSpace(s.URL) == "" {
		return fmt.Errorf("url is required")
	}
	return nil
}

// Key is the dedup key for sources: (url, publisher).
func (s Source) Key() SourceKey {
	return SourceKey{URL: strings.TrimSpace(s.URL), Publisher: strings.TrimSpace(s.Publisher)}
}

// SourceKey identifies a source for deduplication
type SourceKey struct {
	URL       string
	Publisher string
}

// MergeSources appends every source in incoming whose (url, publisher) is not
// already present in existing. Order is preserved: existing first, then new
// entries in the order they appear in incoming. Duplicates within incoming
// collapse to their first occurrence.
func MergeSources(existing, incoming []Source) []Source {
	seen := make(map[SourceKey]bool, len(existing)+len(incoming))
	merged := make([]Source, 0, len(existing)+len(incoming))
	for _, src := range existing {
		if seen[src.Key()] {
			continue
		}
		seen[src.Key()] = true
		merged = append(merged, src)
	}
	for _, src := range incoming {
		if seen[src.Key()] {
			continue
		}
		seen[src.Key()] = true
		merged = append(merged, src)
	}
	return merged
}

// SeverityChange describes how an update moves the story's severity
type SeverityChange string

const (
	SeverityIncreased SeverityChange = "increased"
	SeverityDecreased SeverityChange = "decreased"
	SeverityUnchanged SeverityChange = "unchanged"
)

// IsValid checks if the severity change value is known
func (s SeverityChange) IsValid() bool {
	switch s {
	case SeverityIncreased, SeverityDecreased, SeverityUnchanged:
		return true
	}
	return false
}

// UpdateSource is the provenance attached to a single update entry
type UpdateSource struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// UpdateEntry is an append-only record of new information folded into a canonical item.
type UpdateEntry struct {
	Seq            int            `json:"seq"`
	Timestamp      time.Time      `json:"timestamp"`
	Summary        string         `json:"summary"`
	Content        string         `json:"content"`
	SeverityChange SeverityChange `json:"severity_change"`
	Sources        []UpdateSource `json:"sources"`
	OriginItemID   string         `json:"origin_item_id,omitempty"`
}

// ItemFilter narrows read-only queries over content items.
type ItemFilter struct {
	Resolution  *Resolution
	CanonicalID *string
	Limit       int
}

// BatchFilter selects a batch of unresolved items by ingestion time.
// Zero bounds are open. To is exclusive.
type BatchFilter struct {
	Name  string
	From  time.Time
	To    time.Time
	Limit int
}

// String renders a batch label for logs.
func (b BatchFilter) String() string {
	if b.Name != "" {
		return b.Name
	}
	if b.From.IsZero() && b.To.IsZero() {
		return "all"
	}
	return fmt.Sprintf("%s..%s", formatBound(b.From), formatBound(b.To))
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return "*"
	}
	return t.UTC().Format(time.RFC3339)
}

// ResolutionEvent is the audit record written for each terminal transition.
type ResolutionEvent struct {
	ID          int64      `json:"id"`
	ItemID      string     `json:"item_id"`
	From        Resolution `json:"from"`
	To          Resolution `json:"to"`
	CanonicalID string     `json:"canonical_id,omitempty"`
	Score       *float64   `json:"score,omitempty"`
	Reasoning   string     `json:"reasoning,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ResolutionChange is a single terminal transition to be committed by storage.
// For NEW the canonical is the item itself and CanonicalID may be empty.
type ResolutionChange struct {
	ItemID       string
	Resolution   Resolution
	CanonicalID  string
	Score        *float64
	Reasoning    string
	MergeSources bool
	Update       *UpdateEntry
}

// Validate checks the change is internally consistent.
func (c *ResolutionChange) Validate() error {
	if c.ItemID == "" {
		return fmt.Errorf("item id is required")
	}
	if !c.Resolution.IsTerminal() {
		return fmt.Errorf("resolution %q is not terminal", c.Resolution)
	}
	if c.Resolution.FoldsIntoCanonical() {
		if c.CanonicalID == "" {
			return fmt.Errorf("%s requires a canonical id", c.Resolution)
		}
		if c.CanonicalID == c.ItemID {
			return fmt.Errorf("item %s cannot fold into itself", c.ItemID)
		}
	}
	if (c.Resolution == ResolutionMergedUpdate) != (c.Update != nil) {
		return fmt.Errorf("update entry is required for %s and only for it", ResolutionMergedUpdate)
	}
	return nil
}

// Statistics summarizes the state of the store.
type Statistics struct {
	TotalItems           int                `json:"total_items"`
	ByResolution         map[Resolution]int `json:"by_resolution"`
	IndexEntries         int                `json:"index_entries"`
	UpdateEntries        int                `json:"update_entries"`
	CanonicalWithUpdates int                `json:"canonical_with_updates"`
}
