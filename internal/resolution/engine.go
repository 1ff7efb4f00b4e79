package resolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/storydesk/storydesk/internal/corpus"
	"github.com/storydesk/storydesk/internal/notify"
	"github.com/storydesk/storydesk/internal/scoring"
	"github.com/storydesk/storydesk/internal/storage"
	"github.com/storydesk/storydesk/internal/types"
)

// Scorer ranks indexed candidates for an item
type Scorer interface {
	Score(ctx context.Context, item *types.ContentItem, until time.Time) ([]corpus.Candidate, error)
}

// Outcome records how a single item was resolved
type Outcome struct {
	ItemID         string
	Resolution     types.Resolution
	Classification Classification
	CanonicalID    string
	Score          *float64
	Reasoning      string
	ResolverCalls  int
	ResolverFailed bool
	Degraded       bool
}

// RunStats summarizes one batch
type RunStats struct {
	Batch            string
	Items            int
	ByResolution     map[types.Resolution]int
	ResolverCalls    int
	ResolverFailures int
	DegradedUpdates  int
	Skipped          int // already resolved by another writer
	Duration         time.Duration
}

func newRunStats(batch string) *RunStats {
	return &RunStats{Batch: batch, ByResolution: make(map[types.Resolution]int)}
}

func (s *RunStats) add(o *Outcome) {
	s.Items++
	s.ByResolution[o.Resolution]++
	s.ResolverCalls += o.ResolverCalls
	if o.ResolverFailed {
		s.ResolverFailures++
	}
	if o.Degraded {
		s.DegradedUpdates++
	}
}

// NonNew counts items folded into an existing canonical
func (s *RunStats) NonNew() int {
	return s.ByResolution[types.ResolutionDuplicateAuto] +
		s.ByResolution[types.ResolutionDuplicateSemantic] +
		s.ByResolution[types.ResolutionMergedUpdate]
}

// String renders the run report line
func (s *RunStats) String() string {
	return fmt.Sprintf("batch %s: %d items (new=%d duplicate_auto=%d duplicate_semantic=%d merged_update=%d) "+
		"resolver_calls=%d resolver_failures=%d degraded=%d skipped=%d in %v",
		s.Batch, s.Items,
		s.ByResolution[types.ResolutionNew],
		s.ByResolution[types.ResolutionDuplicateAuto],
		s.ByResolution[types.ResolutionDuplicateSemantic],
		s.ByResolution[types.ResolutionMergedUpdate],
		s.ResolverCalls, s.ResolverFailures, s.DegradedUpdates, s.Skipped,
		s.Duration.Round(time.Millisecond))
}

// Engine resolves UNRESOLVED items in ingestion order
type Engine struct {
	store      storage.Storage
	index      *corpus.Index
	scorer     Scorer
	thresholds Thresholds
	adapter    *Adapter
	writer     *Writer
	notifier   notify.Notifier
	config     Config
	logger     *slog.Logger
}

// Options carries the engine's optional collaborators
type Options struct {
	Resolver SemanticResolver
	Notifier notify.Notifier
	Logger   *slog.Logger
}

// NewEngine wires scorer, classifier, adapter and writer over a store and its index
func NewEngine(store storage.Storage, index *corpus.Index, cfg Config, opts Options) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("index cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:      store,
		index:      index,
		scorer:     scoring.NewScorer(index, cfg.Weights, cfg.LookbackWindow, cfg.MaxCandidates),
		thresholds: cfg.Thresholds(),
		adapter:    NewAdapter(opts.Resolver, cfg.ResolverTimeout, logger),
		writer:     NewWriter(store, index),
		notifier:   opts.Notifier,
		config:     cfg,
		logger:     logger,
	}, nil
}

// Run resolves every UNRESOLVED item in the batch, oldest first.
//
// An unavailable index or a failed write stops the batch and is returned
// with the stats so far; items already written stay resolved, the rest
// stay UNRESOLVED for the next run. Resolver failures never stop a batch.
func (e *Engine) Run(ctx context.Context, batch types.BatchFilter) (*RunStats, error) {
	start := time.Now()
	stats := newRunStats(batch.String())
	defer func() { stats.Duration = time.Since(start) }()

	if err := e.index.Check(ctx); err != nil {
		return stats, fmt.Errorf("batch %s: %w (run reindex to rebuild)", stats.Batch, err)
	}

	if batch.Limit == 0 {
		batch.Limit = e.config.BatchLimit
	}
	items, err := e.store.GetUnresolved(ctx, batch)
	if err != nil {
		return stats, fmt.Errorf("batch %s: failed to select items: %w", stats.Batch, err)
	}
	e.logger.Info("resolving batch", "batch", stats.Batch, "items", len(items))

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		outcome, err := e.resolve(ctx, item, batch.To)
		if errors.Is(err, storage.ErrAlreadyResolved) {
			stats.Skipped++
			e.logger.Info("item resolved elsewhere, skipping", "item", item.ID)
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("batch %s: %w", stats.Batch, err)
		}
		stats.add(outcome)
	}

	stats.Duration = time.Since(start)
	if stats.ResolverFailures > 0 {
		e.logger.Warn("batch finished with resolver failures", "batch", stats.Batch,
			"failures", stats.ResolverFailures, "calls", stats.ResolverCalls)
	}
	e.logger.Info("batch resolved", "batch", stats.Batch,
		"items", stats.Items, "new", stats.ByResolution[types.ResolutionNew], "non_new", stats.NonNew(),
		"duration", stats.Duration)

	if stats.NonNew() > 0 && e.notifier != nil {
		ev := notify.Event{
			Batch:    stats.Batch,
			NonNew:   stats.NonNew(),
			New:      stats.ByResolution[types.ResolutionNew],
			Resolved: stats.Items,
			At:       time.Now().UTC(),
		}
		if err := e.notifier.PublishableSetShrunk(ctx, ev); err != nil {
			e.logger.Warn("failed to signal publishable set change", "batch", stats.Batch, "error", err)
		}
	}

	return stats, nil
}

// ResolveItem resolves a single UNRESOLVED item outside any batch
func (e *Engine) ResolveItem(ctx context.Context, id string) (*Outcome, error) {
	item, err := e.store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Resolution != types.ResolutionUnresolved {
		return nil, fmt.Errorf("%w: %s is %s", storage.ErrAlreadyResolved, id, item.Resolution)
	}
	if err := e.index.Check(ctx); err != nil {
		return nil, err
	}
	return e.resolve(ctx, item, time.Time{})
}

func (e *Engine) resolve(ctx context.Context, item *types.ContentItem, until time.Time) (*Outcome, error) {
	candidates, err := e.scorer.Score(ctx, item, until)
	if err != nil {
		return nil, err
	}

	class, top := e.thresholds.Classify(candidates)
	outcome := &Outcome{ItemID: item.ID, Classification: class}
	change := &types.ResolutionChange{ItemID: item.ID}
	if top != nil {
		score := top.Score
		change.Score = &score
		outcome.Score = &score
	}

	switch class {
	case AutoNew:
		change.Resolution = types.ResolutionNew

	case AutoDuplicate:
		change.Resolution = types.ResolutionDuplicateAuto
		change.CanonicalID = top.ItemID
		change.MergeSources = true
		change.Reasoning = fmt.Sprintf("score %.2f at or below duplicate threshold %.2f", top.Score, e.thresholds.Duplicate)

	case Ambiguous:
		matched, err := e.store.GetItem(ctx, top.ItemID)
		if err != nil {
			return nil, fmt.Errorf("failed to load candidate %s: %w", top.ItemID, err)
		}

		// No lock is held here; the resolver may take seconds.
		verdict := e.adapter.Resolve(ctx, item, matched)
		if err := ctx.Err(); err != nil {
			// Cancelled mid-call: leave the item UNRESOLVED rather than fail-safe it
			return nil, err
		}

		outcome.ResolverCalls = verdict.Calls
		outcome.ResolverFailed = verdict.Failed
		outcome.Degraded = verdict.Degraded
		change.Resolution = verdict.Resolution
		change.Reasoning = verdict.Reasoning
		if verdict.Resolution != types.ResolutionNew {
			change.CanonicalID = matched.ID
		}
		switch verdict.Resolution {
		case types.ResolutionDuplicateSemantic:
			change.MergeSources = e.config.MergeSemanticDuplicateSources
		case types.ResolutionMergedUpdate:
			change.Update = verdict.Update
		}
	}

	resolved, err := e.writer.Apply(ctx, change)
	if err != nil {
		return nil, err
	}

	outcome.Resolution = resolved.Resolution
	outcome.Reasoning = resolved.SkipReasoning
	if resolved.CanonicalID != nil {
		outcome.CanonicalID = *resolved.CanonicalID
	}

	e.logger.Debug("item resolved",
		"item", item.ID,
		"classification", class,
		"resolution", outcome.Resolution,
		"canonical", outcome.CanonicalID,
		"candidates", len(candidates))
	return outcome, nil
}

// RunBatches runs several batches. Batches are grouped into segments whose
// lookback-extended ranges overlap; segments run concurrently, batches within
// a segment run in order. Any unbounded batch forces fully sequential runs.
// Stats are returned in input order.
func (e *Engine) RunBatches(ctx context.Context, batches []types.BatchFilter) ([]*RunStats, error) {
	results := make([]*RunStats, len(batches))
	segments := PlanSegments(batches, e.config.LookbackWindow)

	if len(segments) <= 1 {
		for _, seg := range segments {
			if err := e.runSegment(ctx, batches, seg, results); err != nil {
				return results, err
			}
		}
		return results, nil
	}

	e.logger.Info("running disjoint batch segments concurrently", "segments", len(segments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.MaxParallelBatches)
	for _, seg := range segments {
		seg := seg
		g.Go(func() error {
			return e.runSegment(gctx, batches, seg, results)
		})
	}
	return results, g.Wait()
}

func (e *Engine) runSegment(ctx context.Context, batches []types.BatchFilter, seg []int, results []*RunStats) error {
	for _, i := range seg {
		stats, err := e.Run(ctx, batches[i])
		results[i] = stats
		if err != nil {
			return err
		}
	}
	return nil
}

// PlanSegments groups batch indexes into segments that can run concurrently.
// Two batches A before B are independent when B.From - lookback >= A.To:
// nothing A resolves can fall inside B's candidate window, and A's window
// is capped at A.To. Every batch must be bounded on both sides.
func PlanSegments(batches []types.BatchFilter, lookback time.Duration) [][]int {
	if len(batches) == 0 {
		return nil
	}

	order := make([]int, len(batches))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return batches[order[a]].From.Before(batches[order[b]].From)
	})

	for _, b := range batches {
		if b.From.IsZero() || b.To.IsZero() || !b.From.Before(b.To) {
			return [][]int{order}
		}
	}

	var segments [][]int
	current := []int{order[0]}
	reach := batches[order[0]].To
	for _, idx := range order[1:] {
		b := batches[idx]
		if b.From.Add(-lookback).Before(reach) {
			current = append(current, idx)
		} else {
			segments = append(segments, current)
			current = []int{idx}
		}
		if b.To.After(reach) {
			reach = b.To
		}
	}
	return append(segments, current)
}
