package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/storydesk/storydesk/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show item counts, index size and update totals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := store.GetStatistics(cmd.Context())
		if err != nil {
			return err
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== storydesk status ==="))
		fmt.Printf("  Database: %s\n", dbPath)
		fmt.Printf("  Profile:  %s (new >= %.0f, duplicate <= %.0f, lookback %dd)\n\n",
			cfg.Resolution.ProfileVersion, cfg.Resolution.ThresholdNew,
			cfg.Resolution.ThresholdDuplicate, cfg.Resolution.LookbackDays)

		fmt.Printf("%s\n", yellow("Items:"))
		for _, res := range []types.Resolution{
			types.ResolutionUnresolved,
			types.ResolutionNew,
			types.ResolutionDuplicateAuto,
			types.ResolutionDuplicateSemantic,
			types.ResolutionMergedUpdate,
		} {
			count := stats.ByResolution[res]
			line := fmt.Sprintf("  %-20s %d", res, count)
			if count == 0 {
				line = gray(line)
			}
			fmt.Println(line)
		}
		fmt.Printf("  %-20s %d\n\n", "total", stats.TotalItems)

		fmt.Printf("%s\n", yellow("Corpus:"))
		fmt.Printf("  Index entries:        %d\n", stats.IndexEntries)
		fmt.Printf("  Update entries:       %d\n", stats.UpdateEntries)
		fmt.Printf("  Stories with updates: %d\n\n", stats.CanonicalWithUpdates)

		if stats.IndexEntries != stats.ByResolution[types.ResolutionNew] {
			fmt.Printf("%s index has %d entries for %d NEW items; run 'storydesk doctor'\n",
				yellow("⚠"), stats.IndexEntries, stats.ByResolution[types.ResolutionNew])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
