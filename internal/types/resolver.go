package types

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// ResolverDecision is the verdict returned by the semantic resolver
type ResolverDecision string

const (
	DecisionNew       ResolverDecision = "NEW"
	DecisionDuplicate ResolverDecision = "DUPLICATE"
	DecisionUpdate    ResolverDecision = "UPDATE"
)

// IsValid checks if the decision is one of the three allowed values
func (d ResolverDecision) IsValid() bool {
	switch d {
	case DecisionNew, DecisionDuplicate, DecisionUpdate:
		return true
	}
	return false
}

// Update payload length bounds, in characters.
const (
	UpdateSummaryMin = 50
	UpdateSummaryMax = 150
	UpdateContentMin = 200
	UpdateContentMax = 800
)

// ResolverResponse is the schema the semantic resolver is asked to return.
type ResolverResponse struct {
	Decision  ResolverDecision `json:"decision"`
	Reasoning string           `json:"reasoning"`
	Update    *UpdatePayload   `json:"update,omitempty"`
}

// Validate checks the response shape. It does not validate the update
// payload; see UpdatePayload.Validate.
func (r *ResolverResponse) Validate() error {
	if r == nil {
		return fmt.Errorf("response is nil")
	}
	normalized := ResolverDecision(strings.ToUpper(strings.TrimSpace(string(r.Decision))))
	if !normalized.IsValid() {
		return fmt.Errorf("invalid decision %q (must be NEW, DUPLICATE or UPDATE)", r.Decision)
	}
	r.Decision = normalized
	return nil
}

// UpdatePayload is the structured new information carried by an UPDATE decision.
type UpdatePayload struct {
	Timestamp      string         `json:"timestamp"`
	Summary        string         `json:"summary"`
	Content        string         `json:"content"`
	Sources        []UpdateSource `json:"sources"`
	SeverityChange SeverityChange `json:"severity_change"`
}

// Validate checks the payload against the update entry contract.
func (p *UpdatePayload) Validate() error {
	if p == nil {
		return fmt.Errorf("update payload is missing")
	}
	if len(p.Sources) == 0 {
		return fmt.Errorf("update payload has no sources")
	}
	for i, src := range p.Sources {
		if strings.TrimSpace(src.URL) == "" {
			return fmt.Errorf("update source %d has no url", i)
		}
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(p.Summary)); n < UpdateSummaryMin || n > UpdateSummaryMax {
		return fmt.Errorf("update summary must be %d-%d characters (got %d)", UpdateSummaryMin, UpdateSummaryMax, n)
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(p.Content)); n < UpdateContentMin || n > UpdateContentMax {
		return fmt.Errorf("update content must be %d-%d characters (got %d)", UpdateContentMin, UpdateContentMax, n)
	}
	if p.SeverityChange != "" && !p.SeverityChange.IsValid() {
		return fmt.Errorf("invalid severity_change %q", p.SeverityChange)
	}
	if strings.TrimSpace(p.Timestamp) != "" {
		if _, err := time.Parse(time.RFC3339, strings.TrimSpace(p.Timestamp)); err != nil {
			return fmt.Errorf("invalid update timestamp %q: %w", p.Timestamp, err)
		}
	}
	return nil
}

// ToEntry converts a validated payload into an UpdateEntry. An empty
// timestamp falls back to the given default; an empty severity is unchanged.
func (p *UpdatePayload) ToEntry(fallback time.Time, originItemID string) UpdateEntry {
	ts := fallback
	if raw := strings.TrimSpace(p.Timestamp); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			ts = parsed
		}
	}
	severity := p.SeverityChange
	if severity == "" {
		severity = SeverityUnchanged
	}
	sources := make([]UpdateSource, len(p.Sources))
	copy(sources, p.Sources)
	return UpdateEntry{
		Timestamp:      ts.UTC(),
		Summary:        strings.TrimSpace(p.Summary),
		Content:        strings.TrimSpace(p.Content),
		SeverityChange: severity,
		Sources:        sources,
		OriginItemID:   originItemID,
	}
}
