package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/storydesk/storydesk/internal/corpus"
	"github.com/storydesk/storydesk/internal/types"
)

// Searcher is the read side of the corpus index
type Searcher interface {
	Search(ctx context.Context, q corpus.Query) ([]corpus.Candidate, error)
}

// Scorer finds the indexed items most similar to a new item
type Scorer struct {
	index         Searcher
	weights       corpus.Weights
	lookback      time.Duration
	maxCandidates int
}

// NewScorer creates a scorer over the given index
func NewScorer(index Searcher, weights corpus.Weights, lookback time.Duration, maxCandidates int) *Scorer {
	return &Scorer{
		index:         index,
		weights:       weights,
		lookback:      lookback,
		maxCandidates: maxCandidates,
	}
}

// Score returns up to maxCandidates candidates ingested within the lookback
// window before item, best first. Candidates ingested after item are never
// eligible; a non-zero until can only tighten that bound. No tokens means no
// candidates.
func (s *Scorer) Score(ctx context.Context, item *types.ContentItem, until time.Time) ([]corpus.Candidate, error) {
	match := BuildQuery(Tokenize(item.Headline, item.Summary, item.Body))
	if match == "" {
		return nil, nil
	}

	// corpus upper bounds are exclusive; items sharing the instant stay eligible
	upper := item.IngestedAt.Add(time.Nanosecond)
	if !until.IsZero() && until.Before(upper) {
		upper = until
	}

	candidates, err := s.index.Search(ctx, corpus.Query{
		Match:     match,
		Weights:   s.weights,
		Since:     item.IngestedAt.Add(-s.lookback),
		Until:     upper,
		ExcludeID: item.ID,
		Limit:     s.maxCandidates,
	})
	if err != nil {
		return nil, fmt.Errorf("scoring %s: %w", item.ID, err)
	}
	return candidates, nil
}
