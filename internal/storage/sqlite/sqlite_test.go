package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storydesk/storydesk/internal/types"
)

var baseTime = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createItem(t *testing.T, store *SQLiteStorage, headline string, offset time.Duration, sources ...types.Source) *types.ContentItem {
	t.Helper()
	item := &types.ContentItem{
		Headline:   headline,
		Summary:    "summary of " + headline,
		Body:       "body of " + headline,
		IngestedAt: baseTime.Add(offset),
		Sources:    sources,
	}
	require.NoError(t, store.CreateItem(context.Background(), item))
	return item
}

func resolveNew(t *testing.T, store *SQLiteStorage, id string) {
	t.Helper()
	_, err := store.ApplyResolution(context.Background(), &types.ResolutionChange{
		ItemID:     id,
		Resolution: types.ResolutionNew,
	}, nil)
	require.NoError(t, err)
}

func TestCreateItem(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	item := createItem(t, store, "Port Strike Enters Second Week!", 0,
		types.Source{URL: "https://a.example/1", Publisher: "A"})

	assert.NotEmpty(t, item.ID)
	assert.Equal(t, "port-strike-enters-second-week", item.Slug)
	assert.Equal(t, types.ResolutionUnresolved, item.Resolution)

	got, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Headline, got.Headline)
	assert.Equal(t, baseTime, got.IngestedAt)
	assert.Equal(t, got.CreatedAt, got.UpdatedAt)
	assert.Nil(t, got.CanonicalID)
	assert.Nil(t, got.SimilarityScore)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "A", got.Sources[0].Publisher)

	bySlug, err := store.GetItemBySlug(ctx, item.Slug)
	require.NoError(t, err)
	assert.Equal(t, item.ID, bySlug.ID)
}

func TestCreateItem_SlugCollision(t *testing.T) {
	store := newTestStore(t)

	first := createItem(t, store, "Flood warning", 0)
	second := createItem(t, store, "Flood warning", time.Minute)
	third := createItem(t, store, "Flood Warning", 2*time.Minute)

	assert.Equal(t, "flood-warning", first.Slug)
	assert.Equal(t, "flood-warning-2", second.Slug)
	assert.Equal(t, "flood-warning-3", third.Slug)
}

func TestCreateItem_RejectsResolved(t *testing.T) {
	store := newTestStore(t)
	err := store.CreateItem(context.Background(), &types.ContentItem{
		Headline:   "x",
		IngestedAt: baseTime,
		Resolution: types.ResolutionNew,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be created UNRESOLVED")
}

func TestGetItem_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetItem(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetUnresolved_OrderAndBounds(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	late := createItem(t, store, "late", 2*time.Hour)
	early := createItem(t, store, "early", 0)
	tieA := createItem(t, store, "tie a", time.Hour)
	tieB := createItem(t, store, "tie b", time.Hour)

	items, err := store.GetUnresolved(ctx, types.BatchFilter{})
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Equal(t, []string{early.ID, tieA.ID, tieB.ID, late.ID}, ids(items))

	items, err = store.GetUnresolved(ctx, types.BatchFilter{From: baseTime.Add(time.Hour), To: baseTime.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, []string{tieA.ID, tieB.ID}, ids(items))

	resolveNew(t, store, early.ID)
	items, err = store.GetUnresolved(ctx, types.BatchFilter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{tieA.ID}, ids(items))
}

func TestApplyResolution_New(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	item := createItem(t, store, "canonical story", 0)

	hookCalled := false
	resolved, err := store.ApplyResolution(ctx, &types.ResolutionChange{
		ItemID:     item.ID,
		Resolution: types.ResolutionNew,
	}, func(ctx context.Context, tx *sql.Tx, it *types.ContentItem) error {
		hookCalled = true
		assert.Equal(t, types.ResolutionNew, it.Resolution)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, hookCalled)
	require.NotNil(t, resolved.CanonicalID)
	assert.Equal(t, item.ID, *resolved.CanonicalID)

	got, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionNew, got.Resolution)
	assert.Equal(t, item.ID, *got.CanonicalID)

	events, err := store.GetEvents(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.ResolutionUnresolved, events[0].From)
	assert.Equal(t, types.ResolutionNew, events[0].To)
}

func TestApplyResolution_WriteOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	item := createItem(t, store, "story", 0)
	resolveNew(t, store, item.ID)

	_, err := store.ApplyResolution(ctx, &types.ResolutionChange{
		ItemID:     item.ID,
		Resolution: types.ResolutionNew,
	}, nil)
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	// The trigger guards against writers that bypass ApplyResolution
	_, err = store.DB().ExecContext(ctx, "UPDATE items SET resolution = 'DUPLICATE_AUTO' WHERE id = ?", item.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write-once")
}

func TestApplyResolution_NotCanonical(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	pending := createItem(t, store, "pending", 0)
	item := createItem(t, store, "dup", time.Minute)

	for _, target := range []string{pending.ID, "does-not-exist"} {
		_, err := store.ApplyResolution(ctx, &types.ResolutionChange{
			ItemID:      item.ID,
			Resolution:  types.ResolutionDuplicateAuto,
			CanonicalID: target,
		}, nil)
		assert.ErrorIs(t, err, ErrNotCanonical, "target %s", target)
	}

	got, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionUnresolved, got.Resolution)
}

func TestApplyResolution_DuplicateMergesSources(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	canonical := createItem(t, store, "bridge closed", 0,
		types.Source{URL: "https://a.example/1", Publisher: "A"},
		types.Source{URL: "https://b.example/1", Publisher: "B"})
	resolveNew(t, store, canonical.ID)

	dup := createItem(t, store, "bridge closed again", time.Hour,
		types.Source{URL: "https://b.example/1", Publisher: "B"},
		types.Source{URL: "https://c.example/1", Publisher: "C"},
		types.Source{URL: "https://a.example/1", Publisher: "A2"})

	score := -250.0
	_, err := store.ApplyResolution(ctx, &types.ResolutionChange{
		ItemID:       dup.ID,
		Resolution:   types.ResolutionDuplicateAuto,
		CanonicalID:  canonical.ID,
		Score:        &score,
		MergeSources: true,
	}, nil)
	require.NoError(t, err)

	got, err := store.GetItem(ctx, canonical.ID)
	require.NoError(t, err)
	var keys []string
	for _, src := range got.Sources {
		keys = append(keys, src.URL+"|"+src.Publisher)
	}
	assert.Equal(t, []string{
		"https://a.example/1|A",
		"https://b.example/1|B",
		"https://c.example/1|C",
		"https://a.example/1|A2",
	}, keys)
	assert.Equal(t, got.CreatedAt, got.UpdatedAt, "duplicates do not touch updated_at")

	folded, err := store.GetItem(ctx, dup.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionDuplicateAuto, folded.Resolution)
	assert.Equal(t, canonical.ID, *folded.CanonicalID)
	assert.InDelta(t, -250.0, *folded.SimilarityScore, 1e-9)
}

func TestApplyResolution_SemanticWithoutMerge(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	canonical := createItem(t, store, "quake", 0, types.Source{URL: "https://a.example/q", Publisher: "A"})
	resolveNew(t, store, canonical.ID)
	dup := createItem(t, store, "quake report", time.Hour, types.Source{URL: "https://z.example/q", Publisher: "Z"})

	_, err := store.ApplyResolution(ctx, &types.ResolutionChange{
		ItemID:      dup.ID,
		Resolution:  types.ResolutionDuplicateSemantic,
		CanonicalID: canonical.ID,
		Reasoning:   "same event, no new facts",
	}, nil)
	require.NoError(t, err)

	got, err := store.GetItem(ctx, canonical.ID)
	require.NoError(t, err)
	assert.Len(t, got.Sources, 1)

	folded, err := store.GetItem(ctx, dup.ID)
	require.NoError(t, err)
	assert.Equal(t, "same event, no new facts", folded.SkipReasoning)
}

func TestApplyResolution_MergedUpdateAppends(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	canonical := createItem(t, store, "wildfire", 0)
	resolveNew(t, store, canonical.ID)

	for i, ts := range []time.Time{baseTime.Add(2 * time.Hour), baseTime.Add(time.Hour)} {
		follow := createItem(t, store, "wildfire follow-up", time.Duration(i+1)*time.Hour)
		_, err := store.ApplyResolution(ctx, &types.ResolutionChange{
			ItemID:      follow.ID,
			Resolution:  types.ResolutionMergedUpdate,
			CanonicalID: canonical.ID,
			Update: &types.UpdateEntry{
				Timestamp:      ts,
				Summary:        "containment changed",
				Content:        "details",
				SeverityChange: types.SeverityDecreased,
				Sources:        []types.UpdateSource{{URL: "https://u.example/" + follow.ID}},
				OriginItemID:   follow.ID,
			},
		}, nil)
		require.NoError(t, err)
	}

	got, err := store.GetItem(ctx, canonical.ID)
	require.NoError(t, err)
	require.Len(t, got.Updates, 2)
	assert.Equal(t, 0, got.Updates[0].Seq)
	assert.Equal(t, 1, got.Updates[1].Seq)
	assert.Equal(t, baseTime.Add(time.Hour), got.UpdatedAt, "updated_at follows the latest appended entry")
	assert.Equal(t, got.DerivedUpdatedAt(), got.UpdatedAt)

	_, err = store.DB().ExecContext(ctx, "DELETE FROM item_updates WHERE item_id = ?", canonical.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	problems, err := store.CheckIntegrity(ctx)
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestApplyResolution_HookErrorRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	item := createItem(t, store, "story", 0)

	boom := errors.New("index unavailable")
	_, err := store.ApplyResolution(ctx, &types.ResolutionChange{
		ItemID:     item.ID,
		Resolution: types.ResolutionNew,
	}, func(context.Context, *sql.Tx, *types.ContentItem) error { return boom })
	require.ErrorIs(t, err, boom)

	got, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ResolutionUnresolved, got.Resolution)

	events, err := store.GetEvents(ctx, item.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestApplyResolution_InvalidChange(t *testing.T) {
	store := newTestStore(t)
	item := createItem(t, store, "story", 0)

	tests := []struct {
		name   string
		change types.ResolutionChange
	}{
		{"not terminal", types.ResolutionChange{ItemID: item.ID, Resolution: types.ResolutionUnresolved}},
		{"missing canonical", types.ResolutionChange{ItemID: item.ID, Resolution: types.ResolutionDuplicateAuto}},
		{"self canonical", types.ResolutionChange{ItemID: item.ID, Resolution: types.ResolutionDuplicateAuto, CanonicalID: item.ID}},
		{"update without entry", types.ResolutionChange{ItemID: item.ID, Resolution: types.ResolutionMergedUpdate, CanonicalID: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.ApplyResolution(context.Background(), &tt.change, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid resolution change")
		})
	}
}

func TestListItems_Filters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	canonical := createItem(t, store, "storm", 0)
	resolveNew(t, store, canonical.ID)
	dup := createItem(t, store, "storm again", time.Hour)
	_, err := store.ApplyResolution(ctx, &types.ResolutionChange{
		ItemID: dup.ID, Resolution: types.ResolutionDuplicateAuto, CanonicalID: canonical.ID,
	}, nil)
	require.NoError(t, err)
	other := createItem(t, store, "unrelated", 2*time.Hour)

	all, err := store.ListItems(ctx, types.ItemFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{canonical.ID, dup.ID, other.ID}, ids(all))

	newRes := types.ResolutionNew
	onlyNew, err := store.ListItems(ctx, types.ItemFilter{Resolution: &newRes})
	require.NoError(t, err)
	assert.Equal(t, []string{canonical.ID}, ids(onlyNew))

	family, err := store.ListItems(ctx, types.ItemFilter{CanonicalID: &canonical.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{canonical.ID, dup.ID}, ids(family))

	limited, err := store.ListItems(ctx, types.ItemFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	stats, err := store.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalItems)
	assert.Equal(t, 1, stats.ByResolution[types.ResolutionNew])
	assert.Equal(t, 1, stats.ByResolution[types.ResolutionDuplicateAuto])
	assert.Equal(t, 1, stats.ByResolution[types.ResolutionUnresolved])
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hello, World", "hello-world"},
		{"  --Leading and trailing--  ", "leading-and-trailing"},
		{"Café prices rise 5%", "café-prices-rise-5"},
		{"!!!", "item"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), tt.in)
	}
}

func TestTimeFormatSortsLexically(t *testing.T) {
	a := formatTime(time.Date(2025, 1, 1, 9, 0, 0, 5, time.UTC))
	b := formatTime(time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC))
	assert.Less(t, a, b)

	parsed, err := parseTime(a)
	require.NoError(t, err)
	assert.Equal(t, 5, parsed.Nanosecond())
}

func ids(items []*types.ContentItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}
