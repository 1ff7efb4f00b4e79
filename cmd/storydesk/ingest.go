package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/storydesk/storydesk/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Store producer drafts as UNRESOLVED items",
	Long: `Load drafts from .jsonl, .json or .yaml files and store them as
UNRESOLVED items. HTML in text fields is reduced to plain text. Drafts
without ingested_at are stamped with the current time.

Creates .storydesk/storydesk.db when no database exists yet.`,
	Args:        cobra.MinimumNArgs(1),
	Annotations: map[string]string{createStore: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()

		in := ingest.New(store, logger)
		created, rejected := 0, 0
		for _, path := range args {
			drafts, err := ingest.LoadFile(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			result, err := in.Ingest(ctx, drafts)
			created += len(result.Created)
			rejected += len(result.Rejected)
			for _, r := range result.Rejected {
				fmt.Printf("  %s %s #%d %q: %v\n", yellow("skipped"), path, r.Index+1, r.Headline, r.Err)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}

		fmt.Printf("%s Ingested %d item(s) into %s\n", green("✓"), created, dbPath)
		if rejected > 0 {
			return fmt.Errorf("%d draft(s) rejected", rejected)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
