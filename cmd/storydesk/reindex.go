package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/storydesk/storydesk/internal/corpus"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Drop and rebuild the corpus index from NEW items",
	Long: `Rebuild the full-text corpus index from every NEW item in one
transaction. Run this when resolve reports the index unavailable or doctor
finds index drift. Holds the database's exclusive lock.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		lockPath, err := acquireLock("reindex")
		if err != nil {
			return err
		}
		defer releaseLock(lockPath)

		n, err := corpus.New(store.DB()).Rebuild(ctx)
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Indexed %d canonical item(s)\n", green("✓"), n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}
