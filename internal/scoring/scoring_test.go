package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storydesk/storydesk/internal/corpus"
	"github.com/storydesk/storydesk/internal/types"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		texts []string
		want  []string
	}{
		{
			name:  "lowercases and dedups in first-occurrence order",
			texts: []string{"Storm hits Coast", "the STORM and the coast"},
			want:  []string{"storm", "hits", "coast", "the", "and"},
		},
		{
			name:  "drops short tokens and punctuation",
			texts: []string{"A UN envoy: 5 km, 12-day trip!"},
			want:  []string{"envoy", "day", "trip"},
		},
		{
			name:  "keeps digits",
			texts: []string{"M7.1 quake; 2025 aftershocks"},
			want:  []string{"quake", "2025", "aftershocks"},
		},
		{
			name:  "non-ascii letters count as runes",
			texts: []string{"Zürich café öl"},
			want:  []string{"zürich", "café"},
		},
		{
			name:  "empty",
			texts: []string{"", "  ", "a b"},
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.texts...))
		})
	}
}

func TestBuildQuery(t *testing.T) {
	assert.Equal(t, "", BuildQuery(nil))
	assert.Equal(t, `"storm"`, BuildQuery([]string{"storm"}))
	assert.Equal(t, `"storm" OR "and" OR "not"`, BuildQuery([]string{"storm", "and", "not"}),
		"FTS5 operators are quoted as plain strings")
}

type recordingSearcher struct {
	queries []corpus.Query
	result  []corpus.Candidate
}

func (r *recordingSearcher) Search(_ context.Context, q corpus.Query) ([]corpus.Candidate, error) {
	r.queries = append(r.queries, q)
	return r.result, nil
}

func TestScorer_Score(t *testing.T) {
	searcher := &recordingSearcher{result: []corpus.Candidate{{ItemID: "c1", Score: -120}}}
	weights := corpus.DefaultWeights()
	scorer := NewScorer(searcher, weights, 30*24*time.Hour, 10)

	ingested := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	item := &types.ContentItem{
		ID:         "item-1",
		Headline:   "Dam breach floods valley",
		Summary:    "Residents evacuated",
		IngestedAt: ingested,
	}

	until := ingested.Add(24 * time.Hour)
	got, err := scorer.Score(context.Background(), item, until)
	require.NoError(t, err)
	assert.Equal(t, searcher.result, got)

	require.Len(t, searcher.queries, 1)
	q := searcher.queries[0]
	assert.Equal(t, `"dam" OR "breach" OR "floods" OR "valley" OR "residents" OR "evacuated"`, q.Match)
	assert.Equal(t, weights, q.Weights)
	assert.Equal(t, ingested.Add(-30*24*time.Hour), q.Since)
	assert.Equal(t, ingested.Add(time.Nanosecond), q.Until, "later batch bound never admits later items")
	assert.Equal(t, "item-1", q.ExcludeID)
	assert.Equal(t, 10, q.Limit)
}

func TestScorer_UpperBound(t *testing.T) {
	ingested := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	item := &types.ContentItem{ID: "item-1", Headline: "Dam breach floods valley", IngestedAt: ingested}

	tests := []struct {
		name  string
		until time.Time
		want  time.Time
	}{
		{"unbounded caps at the item itself", time.Time{}, ingested.Add(time.Nanosecond)},
		{"later bound caps at the item itself", ingested.Add(time.Hour), ingested.Add(time.Nanosecond)},
		{"earlier bound is kept", ingested.Add(-time.Hour), ingested.Add(-time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := &recordingSearcher{}
			scorer := NewScorer(searcher, corpus.DefaultWeights(), 24*time.Hour, 5)
			_, err := scorer.Score(context.Background(), item, tt.until)
			require.NoError(t, err)
			require.Len(t, searcher.queries, 1)
			assert.Equal(t, tt.want, searcher.queries[0].Until)
		})
	}
}

func TestScorer_NoTokensSkipsSearch(t *testing.T) {
	searcher := &recordingSearcher{}
	scorer := NewScorer(searcher, corpus.DefaultWeights(), time.Hour, 10)

	got, err := scorer.Score(context.Background(), &types.ContentItem{ID: "x", Headline: "a b c"}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, searcher.queries)
}
