package resolution

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/storydesk/storydesk/internal/types"
)

// SemanticResolver judges an ambiguous pair: is candidate new, a duplicate of
// matched, or an update to it?
type SemanticResolver interface {
	Resolve(ctx context.Context, candidate, matched *types.ContentItem) (*types.ResolverResponse, error)
}

// FeedbackResolver can be told why its previous answer was rejected.
// The adapter uses it for the single retry of an invalid update payload.
type FeedbackResolver interface {
	SemanticResolver
	ResolveWithFeedback(ctx context.Context, candidate, matched *types.ContentItem, feedback string) (*types.ResolverResponse, error)
}

// Verdict is the adapter's decision, already mapped onto a terminal resolution
type Verdict struct {
	Resolution types.Resolution
	Reasoning  string
	Update     *types.UpdateEntry

	Calls    int  // resolver calls made, including the retry
	Failed   bool // a resolver call failed or returned garbage
	Degraded bool // an UPDATE was downgraded to a semantic duplicate
}

// Adapter wraps a SemanticResolver with timeouts, validation and the
// fail-safe policy: any failure resolves NEW, never drops the item.
type Adapter struct {
	resolver SemanticResolver
	timeout  time.Duration
	logger   *slog.Logger
}

// NewAdapter creates an adapter. A nil resolver makes every verdict a fail-safe NEW.
func NewAdapter(resolver SemanticResolver, timeout time.Duration, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{resolver: resolver, timeout: timeout, logger: logger}
}

// Resolve asks the resolver about candidate vs matched and maps the answer
func (a *Adapter) Resolve(ctx context.Context, candidate, matched *types.ContentItem) Verdict {
	if a.resolver == nil {
		return failSafe(0, fmt.Errorf("no semantic resolver configured"))
	}

	resp, err := a.call(ctx, func(ctx context.Context) (*types.ResolverResponse, error) {
		return a.resolver.Resolve(ctx, candidate, matched)
	})
	if err != nil {
		a.logger.Warn("semantic resolver failed, defaulting to NEW",
			"item", candidate.ID, "matched", matched.ID, "error", err)
		return failSafe(1, err)
	}

	verdict, rejection := a.interpret(resp, candidate)
	verdict.Calls = 1
	if rejection == nil {
		return verdict
	}

	// Invalid UPDATE payload: one retry, then degrade to a semantic duplicate
	a.logger.Warn("update payload rejected, retrying once",
		"item", candidate.ID, "matched", matched.ID, "reason", rejection)

	retry, err := a.call(ctx, func(ctx context.Context) (*types.ResolverResponse, error) {
		if fr, ok := a.resolver.(FeedbackResolver); ok {
			return fr.ResolveWithFeedback(ctx, candidate, matched,
				fmt.Sprintf("Your previous UPDATE was rejected: %v. Return a complete, valid update or choose another decision.", rejection))
		}
		return a.resolver.Resolve(ctx, candidate, matched)
	})
	if err != nil {
		a.logger.Warn("retry failed, recording semantic duplicate",
			"item", candidate.ID, "matched", matched.ID, "error", err)
		return Verdict{
			Resolution: types.ResolutionDuplicateSemantic,
			Reasoning:  fmt.Sprintf("update rejected (%v); retry failed: %v", rejection, err),
			Calls:      2,
			Failed:     true,
			Degraded:   true,
		}
	}

	second, secondRejection := a.interpret(retry, candidate)
	second.Calls = 2
	switch {
	case second.Failed:
		return Verdict{
			Resolution: types.ResolutionDuplicateSemantic,
			Reasoning:  fmt.Sprintf("update rejected (%v); retry answer unusable: %s", rejection, second.Reasoning),
			Calls:      2,
			Failed:     true,
			Degraded:   true,
		}
	case secondRejection != nil:
		return Verdict{
			Resolution: types.ResolutionDuplicateSemantic,
			Reasoning:  fmt.Sprintf("update rejected after retry: %v", secondRejection),
			Calls:      2,
			Degraded:   true,
		}
	}
	return second
}

// interpret maps a response onto a verdict. A non-nil rejection means the
// decision was UPDATE with an unusable payload.
func (a *Adapter) interpret(resp *types.ResolverResponse, candidate *types.ContentItem) (Verdict, error) {
	if err := resp.Validate(); err != nil {
		return failSafe(0, fmt.Errorf("invalid resolver response: %w", err)), nil
	}

	reasoning := strings.TrimSpace(resp.Reasoning)
	switch resp.Decision {
	case types.DecisionNew:
		return Verdict{Resolution: types.ResolutionNew}, nil

	case types.DecisionDuplicate:
		if reasoning == "" {
			reasoning = "semantic resolver judged this a duplicate"
		}
		return Verdict{Resolution: types.ResolutionDuplicateSemantic, Reasoning: reasoning}, nil

	default: // types.DecisionUpdate
		if err := resp.Update.Validate(); err != nil {
			return Verdict{}, err
		}
		entry := resp.Update.ToEntry(candidate.IngestedAt, candidate.ID)
		if reasoning == "" {
			reasoning = "semantic resolver judged this an update"
		}
		return Verdict{Resolution: types.ResolutionMergedUpdate, Reasoning: reasoning, Update: &entry}, nil
	}
}

func (a *Adapter) call(ctx context.Context, fn func(context.Context) (*types.ResolverResponse, error)) (*types.ResolverResponse, error) {
	callCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	type result struct {
		resp *types.ResolverResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := fn(callCtx)
		done <- result{resp, err}
	}()

	// A resolver that ignores its context still cannot stall the batch
	select {
	case r := <-done:
		if r.err == nil && r.resp == nil {
			return nil, fmt.Errorf("resolver returned no response")
		}
		return r.resp, r.err
	case <-callCtx.Done():
		return nil, fmt.Errorf("resolver call: %w", callCtx.Err())
	}
}

func failSafe(calls int, err error) Verdict {
	return Verdict{
		Resolution: types.ResolutionNew,
		Reasoning:  fmt.Sprintf("semantic resolver failed, defaulted to NEW: %v", err),
		Calls:      calls,
		Failed:     true,
	}
}
