package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/storydesk/storydesk/internal/storage"
	"github.com/storydesk/storydesk/internal/types"
)

const displayTime = "2006-01-02 15:04:05"

var showCmd = &cobra.Command{
	Use:   "show <id|slug>",
	Short: "Show an item with its sources, updates and audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		ctx := cmd.Context()

		item, err := lookupItem(ctx, args[0])
		if err != nil {
			return err
		}
		events, err := store.GetEvents(ctx, item.ID)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				*types.ContentItem
				Events []*types.ResolutionEvent `json:"events"`
			}{item, events})
		}

		printItem(item, events)
		return nil
	},
}

func init() {
	showCmd.Flags().Bool("json", false, "Print as JSON")
	rootCmd.AddCommand(showCmd)
}

func lookupItem(ctx context.Context, key string) (*types.ContentItem, error) {
	item, err := store.GetItem(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return store.GetItemBySlug(ctx, key)
	}
	return item, err
}

func printItem(item *types.ContentItem, events []*types.ResolutionEvent) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n", cyan(item.Headline))
	fmt.Printf("  ID:         %s\n", item.ID)
	fmt.Printf("  Slug:       %s\n", item.Slug)
	fmt.Printf("  Resolution: %s\n", resolutionColor(item.Resolution)(string(item.Resolution)))
	if item.CanonicalID != nil && *item.CanonicalID != item.ID {
		fmt.Printf("  Canonical:  %s\n", *item.CanonicalID)
	}
	if item.SimilarityScore != nil {
		fmt.Printf("  Score:      %.2f\n", *item.SimilarityScore)
	}
	if item.SkipReasoning != "" {
		fmt.Printf("  Reasoning:  %s\n", item.SkipReasoning)
	}
	fmt.Printf("  Ingested:   %s\n", item.IngestedAt.Format(displayTime))
	fmt.Printf("  Updated:    %s\n", item.UpdatedAt.Format(displayTime))

	if item.Summary != "" {
		fmt.Printf("\n  %s\n", item.Summary)
	}

	if len(item.Sources) > 0 {
		fmt.Printf("\n%s\n", yellow("Sources:"))
		for _, src := range item.Sources {
			fmt.Printf("  - %s %s\n", src.Publisher, gray(src.URL))
		}
	}

	if len(item.Updates) > 0 {
		fmt.Printf("\n%s\n", yellow("Updates:"))
		for _, u := range item.Updates {
			fmt.Printf("  [%d] %s severity %s\n", u.Seq, u.Timestamp.Format(displayTime), u.SeverityChange)
			fmt.Printf("      %s\n", u.Summary)
		}
	}

	if len(events) > 0 {
		fmt.Printf("\n%s\n", yellow("History:"))
		for _, ev := range events {
			fmt.Printf("  %s %s -> %s %s\n", ev.CreatedAt.Format(displayTime), ev.From, ev.To, gray(ev.Reasoning))
		}
	}
	fmt.Println()
}

func resolutionColor(r types.Resolution) func(a ...interface{}) string {
	switch r {
	case types.ResolutionNew:
		return color.New(color.FgGreen).SprintFunc()
	case types.ResolutionUnresolved:
		return color.New(color.FgHiBlack).SprintFunc()
	case types.ResolutionMergedUpdate:
		return color.New(color.FgCyan).SprintFunc()
	default:
		return color.New(color.FgYellow).SprintFunc()
	}
}
