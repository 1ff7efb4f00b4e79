package corpus

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storydesk/storydesk/internal/storage/sqlite"
	"github.com/storydesk/storydesk/internal/types"
)

var baseTime = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

// Distinct vocabulary per filler keeps FTS5 idf positive for the terms under test.
var fillers = []string{
	"orchestra premieres symphony cello violin conductor applause",
	"farmers harvest wheat barley tractor drought irrigation",
	"startup raises venture funding series investors valuation",
	"museum unveils dinosaur fossil skeleton paleontology exhibit",
	"marathon runners sprint finish medal stadium athletics",
	"volcano ash plume eruption lava magma seismologists",
	"chess grandmaster tournament checkmate opening endgame",
	"bakery sourdough croissant pastry flour yeast oven",
}

type fixture struct {
	store *sqlite.SQLiteStorage
	index *Index
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "corpus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return &fixture{store: store, index: New(store.DB())}
}

func (f *fixture) addCanonical(t *testing.T, headline, summary, body string, at time.Time) *types.ContentItem {
	t.Helper()
	ctx := context.Background()
	item := &types.ContentItem{Headline: headline, Summary: summary, Body: body, IngestedAt: at}
	require.NoError(t, f.store.CreateItem(ctx, item))
	err := f.index.Exclusive(func() error {
		_, err := f.store.ApplyResolution(ctx, &types.ResolutionChange{
			ItemID:     item.ID,
			Resolution: types.ResolutionNew,
		}, func(ctx context.Context, tx *sql.Tx, resolved *types.ContentItem) error {
			return f.index.InsertTx(ctx, tx, resolved)
		})
		return err
	})
	require.NoError(t, err)
	return item
}

func (f *fixture) addFillers(t *testing.T) {
	t.Helper()
	for i, text := range fillers {
		f.addCanonical(t, text, text, text, baseTime.Add(time.Duration(i)*time.Minute))
	}
}

func TestSearch_RanksClosestFirst(t *testing.T) {
	f := newFixture(t)
	f.addFillers(t)

	bridge := f.addCanonical(t,
		"Suspension bridge collapses into river",
		"Bridge collapse injures commuters",
		"The suspension bridge collapsed during rush hour, injuring commuters.",
		baseTime.Add(time.Hour))
	ferry := f.addCanonical(t,
		"Ferry service resumes across river",
		"Commuters return to ferry",
		"Ferry operators restored service for commuters after repairs.",
		baseTime.Add(2*time.Hour))

	candidates, err := f.index.Search(context.Background(), Query{
		Match:   `"suspension" OR "bridge" OR "collapses" OR "river" OR "commuters"`,
		Weights: DefaultWeights(),
		Since:   baseTime,
		Limit:   10,
	})
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, bridge.ID, candidates[0].ItemID)
	assert.Equal(t, ferry.ID, candidates[1].ItemID)
	assert.Less(t, candidates[0].Score, candidates[1].Score)
	assert.Less(t, candidates[1].Score, 0.0)
	assert.Equal(t, bridge.IngestedAt, candidates[0].IngestedAt)
}

func TestSearch_ExcludesSelfAndRespectsWindow(t *testing.T) {
	f := newFixture(t)
	f.addFillers(t)

	old := f.addCanonical(t, "Glacier retreat measured", "Glacier retreat", "glacier", baseTime.Add(-60*24*time.Hour))
	recent := f.addCanonical(t, "Glacier retreat accelerates", "Glacier retreat", "glacier", baseTime)

	q := Query{
		Match:     `"glacier" OR "retreat"`,
		Weights:   DefaultWeights(),
		Since:     baseTime.Add(-30 * 24 * time.Hour),
		ExcludeID: recent.ID,
	}
	candidates, err := f.index.Search(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, candidates, "old item is outside the window and recent item is excluded")

	q.Since = baseTime.Add(-90 * 24 * time.Hour)
	candidates, err = f.index.Search(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, old.ID, candidates[0].ItemID)
}

func TestSearch_UpperBound(t *testing.T) {
	f := newFixture(t)
	f.addFillers(t)

	early := f.addCanonical(t, "Canal lock repaired", "canal lock", "canal", baseTime)
	f.addCanonical(t, "Canal lock reopens", "canal lock", "canal", baseTime.Add(48*time.Hour))

	candidates, err := f.index.Search(context.Background(), Query{
		Match:   `"canal" OR "lock"`,
		Weights: DefaultWeights(),
		Since:   baseTime.Add(-time.Hour),
		Until:   baseTime.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, early.ID, candidates[0].ItemID)
}

func TestSearch_NoMatches(t *testing.T) {
	f := newFixture(t)
	f.addFillers(t)

	candidates, err := f.index.Search(context.Background(), Query{
		Match:   `"zeppelin" OR "hovercraft"`,
		Weights: DefaultWeights(),
	})
	require.NoError(t, err)
	assert.Empty(t, candidates)

	candidates, err = f.index.Search(context.Background(), Query{Match: "  "})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestSearch_LimitApplies(t *testing.T) {
	f := newFixture(t)
	f.addFillers(t)
	for i := 0; i < 5; i++ {
		f.addCanonical(t, fmt.Sprintf("Tram strike day %d", i), "tram strike", "tram", baseTime.Add(time.Duration(i)*time.Hour))
	}

	candidates, err := f.index.Search(context.Background(), Query{
		Match:   `"tram" OR "strike"`,
		Weights: DefaultWeights(),
		Limit:   3,
	})
	require.NoError(t, err)
	assert.Len(t, candidates, 3)
}

func TestInsertTx_RejectsNonCanonical(t *testing.T) {
	f := newFixture(t)
	tx, err := f.store.DB().BeginTx(context.Background(), nil)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	err = f.index.InsertTx(context.Background(), tx, &types.ContentItem{
		ID:         "x",
		Resolution: types.ResolutionDuplicateAuto,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to index")
}

func TestCheckAndRebuild(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addFillers(t)
	item := f.addCanonical(t, "Lighthouse keeper retires", "", "", baseTime)

	require.NoError(t, f.index.Check(ctx))
	problems, err := f.index.Verify(ctx)
	require.NoError(t, err)
	assert.Empty(t, problems)

	_, err = f.store.DB().ExecContext(ctx, sqlite.CorpusDropSQL)
	require.NoError(t, err)

	err = f.index.Check(ctx)
	require.ErrorIs(t, err, ErrIndexUnavailable)
	_, err = f.index.Search(ctx, Query{Match: `"lighthouse"`, Weights: DefaultWeights()})
	require.ErrorIs(t, err, ErrIndexUnavailable)

	n, err := f.index.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(fillers)+1, n)

	require.NoError(t, f.index.Check(ctx))
	has, err := f.index.Has(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, has)

	count, err := f.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(fillers)+1, count)
}

func TestVerify_DetectsStrayEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	pending := &types.ContentItem{Headline: "pending", IngestedAt: baseTime}
	require.NoError(t, f.store.CreateItem(ctx, pending))
	_, err := f.store.DB().ExecContext(ctx,
		"INSERT INTO corpus_fts (headline, summary, body, item_id) VALUES ('pending', '', '', ?)", pending.ID)
	require.NoError(t, err)

	problems, err := f.index.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], "index entry for non-NEW item")
}

func TestWeightsValidate(t *testing.T) {
	assert.NoError(t, DefaultWeights().Validate())
	assert.Error(t, Weights{Headline: -1, Summary: 1, Body: 1}.Validate())
	assert.Error(t, Weights{}.Validate())
}
