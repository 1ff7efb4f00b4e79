package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/storydesk/storydesk/internal/corpus"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check corpus index and store invariants",
	Long: `Run integrity checks against the database.

This command checks for:
- A queryable corpus index
- Index entries for items that are not NEW
- NEW items missing from the index
- Canonical updated_at not matching its newest update
- Duplicates and updates pointing at non-canonical items

Exit codes:
  0 - All checks passed
  1 - One or more invariants are violated
  2 - The index is unavailable (run 'storydesk reindex')`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		verbose, _ := cmd.Flags().GetBool("verbose")

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		fmt.Printf("Running storydesk checks on %s...\n\n", dbPath)
		index := corpus.New(store.DB())

		fmt.Printf("%s Corpus index\n", cyan("→"))
		if err := index.Check(ctx); err != nil {
			fmt.Printf("  %s %v\n", red("✗"), err)
			return fmt.Errorf("%w (run 'storydesk reindex' to rebuild the index)", err)
		}
		fmt.Printf("  %s Index is queryable\n", green("✓"))

		var problems []string
		report := func(name string, found []string) {
			fmt.Printf("%s %s\n", cyan("→"), name)
			if len(found) == 0 {
				fmt.Printf("  %s OK\n", green("✓"))
				return
			}
			fmt.Printf("  %s %d problem(s)\n", red("✗"), len(found))
			if verbose {
				for _, p := range found {
					fmt.Printf("    %s\n", p)
				}
			}
			problems = append(problems, found...)
		}

		indexProblems, err := index.Verify(ctx)
		if err != nil {
			return err
		}
		report("Index matches NEW items", indexProblems)

		storeProblems, err := store.CheckIntegrity(ctx)
		if err != nil {
			return err
		}
		report("Resolution invariants", storeProblems)

		fmt.Println()
		if len(problems) > 0 {
			if !verbose {
				fmt.Println("Re-run with --verbose for details.")
			}
			return fmt.Errorf("%d integrity problem(s) found", len(problems))
		}
		fmt.Printf("%s All checks passed\n", green("✓"))
		return nil
	},
}

func init() {
	doctorCmd.Flags().BoolP("verbose", "v", false, "List every problem")
	rootCmd.AddCommand(doctorCmd)
}
