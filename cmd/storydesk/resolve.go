package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/storydesk/storydesk/internal/ai"
	"github.com/storydesk/storydesk/internal/calibration"
	"github.com/storydesk/storydesk/internal/config"
	"github.com/storydesk/storydesk/internal/corpus"
	"github.com/storydesk/storydesk/internal/notify"
	"github.com/storydesk/storydesk/internal/resolution"
	"github.com/storydesk/storydesk/internal/types"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [item-id]",
	Short: "Resolve UNRESOLVED items against the corpus",
	Long: `Resolve every UNRESOLVED item in ingestion order.

Each item is scored against canonical items ingested within the lookback
window and classified:
  - score at or above threshold_new: NEW, indexed as a canonical story
  - score at or below threshold_duplicate: DUPLICATE_AUTO, sources merged
  - in between: the semantic resolver decides NEW, DUPLICATE or UPDATE

With an item id only that item is resolved. --batch-days splits the
--from/--to range into batches; batches whose lookback windows cannot
overlap run concurrently.

Holds the database's exclusive lock for the duration of the run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fromFlag, _ := cmd.Flags().GetString("from")
		toFlag, _ := cmd.Flags().GetString("to")
		limit, _ := cmd.Flags().GetInt("limit")
		batchDays, _ := cmd.Flags().GetInt("batch-days")
		noResolver, _ := cmd.Flags().GetBool("no-resolver")

		from, err := parseTimeFlag(fromFlag)
		if err != nil {
			return fmt.Errorf("invalid --from: %w", err)
		}
		to, err := parseTimeFlag(toFlag)
		if err != nil {
			return fmt.Errorf("invalid --to: %w", err)
		}
		if limit == 0 {
			limit = cfg.Resolution.BatchLimit
		}
		batches, err := planBatches(from, to, batchDays, limit)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		if cfg.Calibration.Enforce {
			report, err := calibration.Check(ctx, cfg.Calibration.Fixture, cfg.Resolution)
			if err != nil {
				if report != nil {
					fmt.Fprint(os.Stderr, report.String())
				}
				return fmt.Errorf("refusing to resolve: %w", err)
			}
		}

		lockPath, err := acquireLock("resolve")
		if err != nil {
			return err
		}
		defer releaseLock(lockPath)

		resolver, err := buildResolver(cfg.Resolver, noResolver)
		if err != nil {
			return err
		}
		notifier, closeNotifier := buildNotifier(ctx, cfg.Notify)
		defer closeNotifier()

		opts := resolution.Options{Notifier: notifier, Logger: logger}
		if resolver != nil {
			opts.Resolver = resolver
		}
		engine, err := resolution.NewEngine(store, corpus.New(store.DB()), cfg.Resolution, opts)
		if err != nil {
			return err
		}

		if len(args) == 1 {
			return resolveOne(ctx, engine, args[0])
		}

		results, runErr := engine.RunBatches(ctx, batches)
		printRunStats(results)
		if runErr != nil {
			return fmt.Errorf("resolution stopped: %w", runErr)
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().String("from", "", "Only items ingested at or after this time (RFC3339 or YYYY-MM-DD)")
	resolveCmd.Flags().String("to", "", "Only items ingested before this time (RFC3339 or YYYY-MM-DD)")
	resolveCmd.Flags().Int("limit", 0, "Maximum items per batch (default: resolution.batch_limit)")
	resolveCmd.Flags().Int("batch-days", 0, "Split --from/--to into batches of this many days")
	resolveCmd.Flags().Bool("no-resolver", false, "Run without the semantic resolver; ambiguous items resolve NEW")
	rootCmd.AddCommand(resolveCmd)
}

func resolveOne(ctx context.Context, engine *resolution.Engine, id string) error {
	outcome, err := engine.ResolveItem(ctx, id)
	if err != nil {
		return err
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s %s -> %s (%s)\n", green("✓"), outcome.ItemID, outcome.Resolution, outcome.Classification)
	if outcome.CanonicalID != "" && outcome.CanonicalID != outcome.ItemID {
		fmt.Printf("  canonical: %s\n", outcome.CanonicalID)
	}
	if outcome.Score != nil {
		fmt.Printf("  score: %.2f\n", *outcome.Score)
	}
	if outcome.Reasoning != "" {
		fmt.Printf("  reasoning: %s\n", outcome.Reasoning)
	}
	return nil
}

func printRunStats(results []*resolution.RunStats) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	for _, stats := range results {
		if stats == nil {
			continue
		}
		icon := green("✓")
		if stats.ResolverFailures > 0 || stats.DegradedUpdates > 0 {
			icon = yellow("⚠")
		}
		fmt.Printf("%s %s\n", icon, stats.String())
		if stats.ResolverFailures > 0 {
			fmt.Printf("  %s %d resolver failure(s) defaulted to NEW\n", yellow("warning:"), stats.ResolverFailures)
		}
		if stats.Items == 0 {
			fmt.Printf("  %s\n", gray("nothing to resolve"))
		}
	}
}

// buildResolver returns nil when the resolver is disabled.
func buildResolver(rc config.ResolverConfig, disabled bool) (*ai.Resolver, error) {
	if disabled {
		logger.Warn("semantic resolver disabled; ambiguous items will resolve NEW")
		return nil, nil
	}
	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set (use --no-resolver to resolve ambiguous items as NEW)")
	}

	retry := ai.DefaultRetryConfig()
	retry.MaxRetries = rc.MaxRetries
	retry.CircuitBreakerEnabled = rc.CircuitBreaker
	retry.MaxConcurrentCalls = rc.MaxConcurrentCalls
	retry.RequestsPerSecond = rc.RequestsPerSecond
	// One attempt never outlives the engine's own bound on the call
	if retry.Timeout > cfg.Resolution.ResolverTimeout {
		retry.Timeout = cfg.Resolution.ResolverTimeout
	}

	return ai.NewResolver(&ai.Config{
		Model:     rc.Model,
		BaseURL:   rc.BaseURL,
		MaxTokens: rc.MaxTokens,
		Retry:     retry,
		Logger:    logger,
	})
}

// buildNotifier always logs; Redis is added when configured.
func buildNotifier(ctx context.Context, nc config.NotifyConfig) (notify.Notifier, func()) {
	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	if nc.RedisAddr == "" {
		return notifiers, func() {}
	}

	rdb, err := notify.DialRedis(ctx, nc.RedisAddr, nc.RedisPassword, nc.RedisDB)
	if err != nil {
		logger.Warn("redis unavailable, publishing will be retried per batch", "addr", nc.RedisAddr, "error", err)
	}
	redisNotifier := notify.NewRedisNotifier(rdb, nc.Channel)
	notifiers = append(notifiers, redisNotifier)
	return notifiers, func() {
		if err := redisNotifier.Close(); err != nil {
			logger.Warn("failed to close redis client", "error", err)
		}
	}
}

// parseTimeFlag accepts RFC3339 or a bare date (midnight UTC). Empty is the zero time.
func parseTimeFlag(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC3339 or YYYY-MM-DD, got %q", value)
	}
	return t, nil
}

// planBatches splits [from, to) into batches of days days. With days 0 the
// whole range is one batch.
func planBatches(from, to time.Time, days, limit int) ([]types.BatchFilter, error) {
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return nil, fmt.Errorf("--from must be before --to")
	}
	if days < 0 {
		return nil, fmt.Errorf("--batch-days cannot be negative")
	}
	if days == 0 {
		return []types.BatchFilter{{From: from, To: to, Limit: limit}}, nil
	}
	if from.IsZero() || to.IsZero() {
		return nil, fmt.Errorf("--batch-days requires both --from and --to")
	}

	step := time.Duration(days) * 24 * time.Hour
	var batches []types.BatchFilter
	for start := from; start.Before(to); start = start.Add(step) {
		end := start.Add(step)
		if end.After(to) {
			end = to
		}
		batches = append(batches, types.BatchFilter{From: start, To: end, Limit: limit})
	}
	return batches, nil
}
