package types

import (
	"strings"
	"testing"
	"time"
)

func TestContentItemValidate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		item    ContentItem
		wantErr bool
	}{
		{
			name: "valid",
			item: ContentItem{Headline: "Storm hits coast", IngestedAt: now, Resolution: ResolutionUnresolved,
				Sources: []Source{{URL: "https://a.example/1"}}},
		},
		{
			name:    "blank headline",
			item:    ContentItem{Headline: "   ", IngestedAt: now, Resolution: ResolutionUnresolved},
			wantErr: true,
		},
		{
			name:    "missing ingested_at",
			item:    ContentItem{Headline: "Storm", Resolution: ResolutionUnresolved},
			wantErr: true,
		},
		{
			name:    "unknown resolution",
			item:    ContentItem{Headline: "Storm", IngestedAt: now, Resolution: "MAYBE"},
			wantErr: true,
		},
		{
			name: "source without url",
			item: ContentItem{Headline: "Storm", IngestedAt: now, Resolution: ResolutionUnresolved,
				Sources: []Source{{Publisher: "Wire"}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolutionPredicates(t *testing.T) {
	if ResolutionUnresolved.IsTerminal() {
		t.Error("UNRESOLVED must not be terminal")
	}
	if !ResolutionNew.IsTerminal() || ResolutionNew.FoldsIntoCanonical() {
		t.Error("NEW is terminal and is its own canonical")
	}
	for _, r := range []Resolution{ResolutionDuplicateAuto, ResolutionDuplicateSemantic, ResolutionMergedUpdate} {
		if !r.IsTerminal() || !r.FoldsIntoCanonical() {
			t.Errorf("%s should be terminal and fold into a canonical", r)
		}
	}
	if Resolution("bogus").IsTerminal() {
		t.Error("unknown resolution must not be terminal")
	}
}

func TestContentItemIsCanonicalAndFullText(t *testing.T) {
	item := &ContentItem{Headline: "Dam breach floods valley", Body: "Residents were evacuated."}
	if item.IsCanonical() {
		t.Error("UNRESOLVED item must not be canonical")
	}
	item.Resolution = ResolutionNew
	if !item.IsCanonical() {
		t.Error("NEW item should be canonical")
	}

	want := "Headline: Dam breach floods valley\nBody: Residents were evacuated."
	if got := item.FullText(); got != want {
		t.Errorf("FullText() = %q, want %q", got, want)
	}
	item.Summary = "Valley flooded"
	if got := item.FullText(); !strings.Contains(got, "\nSummary: Valley flooded\nBody:") {
		t.Errorf("FullText() missing summary: %q", got)
	}
}

func TestMergeSources(t *testing.T) {
	existing := []Source{
		{URL: "https://a.example/1", Publisher: "Wire"},
		{URL: "https://b.example/1", Publisher: "Herald"},
	}
	incoming := []Source{
		{URL: "https://b.example/1", Publisher: "Herald", Title: "dup"},
		{URL: "https://b.example/1", Publisher: "Daily"},
		{URL: " https://c.example/1 ", Publisher: "Wire"},
		{URL: "https://c.example/1", Publisher: "Wire"},
	}

	merged := MergeSources(existing, incoming)
	want := []string{"https://a.example/1", "https://b.example/1", "https://b.example/1", " https://c.example/1 "}
	if len(merged) != len(want) {
		t.Fatalf("expected %d sources, got %d: %+v", len(want), len(merged), merged)
	}
	for i, url := range want {
		if merged[i].URL != url {
			t.Errorf("source %d: expected %q, got %q", i, url, merged[i].URL)
		}
	}
	if merged[1].Title != "" {
		t.Errorf("existing source must win over incoming duplicate, got title %q", merged[1].Title)
	}
	if merged[2].Publisher != "Daily" {
		t.Errorf("same url from another publisher is a distinct source, got %q", merged[2].Publisher)
	}
}

func TestDerivedUpdatedAt(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	item := ContentItem{CreatedAt: created}
	if !item.DerivedUpdatedAt().Equal(created) {
		t.Errorf("no updates: expected created_at, got %v", item.DerivedUpdatedAt())
	}

	last := created.Add(48 * time.Hour)
	item.Updates = []UpdateEntry{{Timestamp: created.Add(time.Hour)}, {Timestamp: last}}
	if !item.DerivedUpdatedAt().Equal(last) {
		t.Errorf("expected last update timestamp, got %v", item.DerivedUpdatedAt())
	}
}

func TestResolutionChangeValidate(t *testing.T) {
	entry := &UpdateEntry{Summary: "s"}
	tests := []struct {
		name    string
		change  ResolutionChange
		wantErr string
	}{
		{"new", ResolutionChange{ItemID: "a", Resolution: ResolutionNew}, ""},
		{"auto duplicate", ResolutionChange{ItemID: "a", Resolution: ResolutionDuplicateAuto, CanonicalID: "b"}, ""},
		{"update", ResolutionChange{ItemID: "a", Resolution: ResolutionMergedUpdate, CanonicalID: "b", Update: entry}, ""},
		{"missing item", ResolutionChange{Resolution: ResolutionNew}, "item id"},
		{"unresolved", ResolutionChange{ItemID: "a", Resolution: ResolutionUnresolved}, "not terminal"},
		{"duplicate without canonical", ResolutionChange{ItemID: "a", Resolution: ResolutionDuplicateSemantic}, "canonical id"},
		{"self canonical", ResolutionChange{ItemID: "a", Resolution: ResolutionDuplicateAuto, CanonicalID: "a"}, "into itself"},
		{"update without entry", ResolutionChange{ItemID: "a", Resolution: ResolutionMergedUpdate, CanonicalID: "b"}, "update entry"},
		{"entry on duplicate", ResolutionChange{ItemID: "a", Resolution: ResolutionDuplicateAuto, CanonicalID: "b", Update: entry}, "update entry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.change.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func validPayload() *UpdatePayload {
	return &UpdatePayload{
		Timestamp:      "2025-03-03T09:00:00Z",
		Summary:        strings.Repeat("s", UpdateSummaryMin),
		Content:        strings.Repeat("c", UpdateContentMin),
		Sources:        []UpdateSource{{URL: "https://a.example/u", Title: "u"}},
		SeverityChange: SeverityIncreased,
	}
}

func TestUpdatePayloadValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*UpdatePayload)
		wantErr bool
	}{
		{"valid at minimums", func(p *UpdatePayload) {}, false},
		{"valid at maximums", func(p *UpdatePayload) {
			p.Summary = strings.Repeat("s", UpdateSummaryMax)
			p.Content = strings.Repeat("c", UpdateContentMax)
		}, false},
		{"multibyte counts runes", func(p *UpdatePayload) { p.Summary = strings.Repeat("é", UpdateSummaryMax) }, false},
		{"empty timestamp allowed", func(p *UpdatePayload) { p.Timestamp = "" }, false},
		{"empty severity allowed", func(p *UpdatePayload) { p.SeverityChange = "" }, false},
		{"no sources", func(p *UpdatePayload) { p.Sources = nil }, true},
		{"source without url", func(p *UpdatePayload) { p.Sources[0].URL = " " }, true},
		{"summary too short", func(p *UpdatePayload) { p.Summary = strings.Repeat("s", UpdateSummaryMin-1) }, true},
		{"summary too long", func(p *UpdatePayload) { p.Summary = strings.Repeat("s", UpdateSummaryMax+1) }, true},
		{"content too short", func(p *UpdatePayload) { p.Content = strings.Repeat("c", UpdateContentMin-1) }, true},
		{"content too long", func(p *UpdatePayload) { p.Content = strings.Repeat("c", UpdateContentMax+1) }, true},
		{"bad severity", func(p *UpdatePayload) { p.SeverityChange = "worse" }, true},
		{"bad timestamp", func(p *UpdatePayload) { p.Timestamp = "yesterday" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPayload()
			tt.mutate(p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	var missing *UpdatePayload
	if err := missing.Validate(); err == nil {
		t.Error("nil payload must be rejected")
	}
}

func TestUpdatePayloadToEntry(t *testing.T) {
	fallback := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	p := validPayload()
	entry := p.ToEntry(fallback, "origin")
	if !entry.Timestamp.Equal(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("expected payload timestamp, got %v", entry.Timestamp)
	}
	if entry.OriginItemID != "origin" || entry.SeverityChange != SeverityIncreased {
		t.Errorf("unexpected entry: %+v", entry)
	}

	p.Timestamp = ""
	p.SeverityChange = ""
	entry = p.ToEntry(fallback, "origin")
	if !entry.Timestamp.Equal(fallback) {
		t.Errorf("expected fallback timestamp, got %v", entry.Timestamp)
	}
	if entry.SeverityChange != SeverityUnchanged {
		t.Errorf("expected unchanged severity, got %q", entry.SeverityChange)
	}

	p.Sources[0].Title = "mutated"
	if entry.Sources[0].Title == "mutated" {
		t.Error("entry must not share the payload's source slice")
	}
}

func TestResolverResponseValidate(t *testing.T) {
	resp := &ResolverResponse{Decision: " update "}
	if err := resp.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Decision != DecisionUpdate {
		t.Errorf("decision not normalized: %q", resp.Decision)
	}

	if err := (&ResolverResponse{Decision: "MERGE"}).Validate(); err == nil {
		t.Error("unknown decision must be rejected")
	}
	var missing *ResolverResponse
	if err := missing.Validate(); err == nil {
		t.Error("nil response must be rejected")
	}
}
