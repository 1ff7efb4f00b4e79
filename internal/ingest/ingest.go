// Package ingest turns producer drafts into UNRESOLVED content items.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"

	"github.com/storydesk/storydesk/internal/storage"
	"github.com/storydesk/storydesk/internal/types"
)

// Draft is an item as the upstream producer writes it
type Draft struct {
	ID         string         `json:"id,omitempty" yaml:"id,omitempty"`
	Slug       string         `json:"slug,omitempty" yaml:"slug,omitempty"`
	Headline   string         `json:"headline" yaml:"headline"`
	Summary    string         `json:"summary" yaml:"summary"`
	Body       string         `json:"body" yaml:"body"`
	IngestedAt time.Time      `json:"ingested_at" yaml:"ingested_at"`
	Sources    []types.Source `json:"sources" yaml:"sources"`
}

// Item converts the draft, stripping markup from the text fields.
// A draft without ingested_at is stamped with now.
func (d Draft) Item(now time.Time) (*types.ContentItem, error) {
	item := &types.ContentItem{
		ID:         strings.TrimSpace(d.ID),
		Slug:       strings.TrimSpace(d.Slug),
		Headline:   StripHTML(d.Headline),
		Summary:    StripHTML(d.Summary),
		Body:       StripHTML(d.Body),
		IngestedAt: d.IngestedAt,
		Sources:    d.Sources,
		Resolution: types.ResolutionUnresolved,
	}
	if item.IngestedAt.IsZero() {
		item.IngestedAt = now
	}
	item.IngestedAt = item.IngestedAt.UTC()
	for i := range item.Sources {
		item.Sources[i].Title = StripHTML(item.Sources[i].Title)
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}
	return item, nil
}

// LoadFile reads drafts from a .jsonl, .json or .yaml file.
// JSON files hold an array or a single object; YAML files hold a list or
// a stream of documents.
func LoadFile(path string) ([]Draft, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open drafts: %w", err)
	}
	defer func() { _ = f.Close() }()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return decodeJSONLines(f)
	case ".json":
		return decodeJSON(f)
	case ".yaml", ".yml":
		return decodeYAML(f)
	default:
		return nil, fmt.Errorf("unsupported draft file %s (want .jsonl, .json or .yaml)", path)
	}
}

func decodeJSONLines(r io.Reader) ([]Draft, error) {
	var drafts []Draft
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var d Draft
		if err := json.Unmarshal(text, &d); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		drafts = append(drafts, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read drafts: %w", err)
	}
	return drafts, nil
}

func decodeJSON(r io.Reader) ([]Draft, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read drafts: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var drafts []Draft
		if err := json.Unmarshal(data, &drafts); err != nil {
			return nil, fmt.Errorf("failed to decode drafts: %w", err)
		}
		return drafts, nil
	}
	var d Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode draft: %w", err)
	}
	return []Draft{d}, nil
}

func decodeYAML(r io.Reader) ([]Draft, error) {
	var drafts []Draft
	dec := yaml.NewDecoder(r)
	for doc := 1; ; doc++ {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			return drafts, nil
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", doc, err)
		}
		if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
			var list []Draft
			if err := node.Decode(&list); err != nil {
				return nil, fmt.Errorf("document %d: %w", doc, err)
			}
			drafts = append(drafts, list...)
			continue
		}
		var d Draft
		if err := node.Decode(&d); err != nil {
			return nil, fmt.Errorf("document %d: %w", doc, err)
		}
		drafts = append(drafts, d)
	}
}

// StripHTML returns the visible text of s with whitespace collapsed.
// Plain text passes through without parsing.
func StripHTML(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.ContainsAny(trimmed, "<&") {
		return collapseSpace(trimmed)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(trimmed))
	if err != nil {
		return collapseSpace(trimmed)
	}
	doc.Find("head, script, style, noscript, iframe").Remove()
	doc.Find("br").ReplaceWithHtml(" ")
	doc.Find("p, div, li, h1, h2, h3, h4, h5, h6").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml(" ")
	})
	return collapseSpace(doc.Text())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Rejected is a draft that failed validation or storage
type Rejected struct {
	Index    int
	Headline string
	Err      error
}

// Result summarizes one ingest call
type Result struct {
	Created  []*types.ContentItem
	Rejected []Rejected
}

// Ingester stores drafts as UNRESOLVED items
type Ingester struct {
	store  storage.Storage
	logger *slog.Logger
	now    func() time.Time
}

// New creates an ingester
func New(store storage.Storage, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Ingest stores every valid draft. Invalid drafts are reported in the result
// and do not stop the rest; a storage failure other than a rejected item
// aborts the call.
func (in *Ingester) Ingest(ctx context.Context, drafts []Draft) (*Result, error) {
	result := &Result{}
	for i, d := range drafts {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		item, err := d.Item(in.now())
		if err != nil {
			result.Rejected = append(result.Rejected, Rejected{Index: i, Headline: d.Headline, Err: err})
			in.logger.Warn("draft rejected", "index", i, "error", err)
			continue
		}
		if err := in.store.CreateItem(ctx, item); err != nil {
			return result, fmt.Errorf("failed to store draft %d: %w", i, err)
		}
		in.logger.Debug("item ingested", "item", item.ID, "slug", item.Slug, "ingested_at", item.IngestedAt)
		result.Created = append(result.Created, item)
	}
	return result, nil
}
