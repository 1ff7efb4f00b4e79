package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/storydesk/storydesk/internal/config"
	"github.com/storydesk/storydesk/internal/corpus"
	"github.com/storydesk/storydesk/internal/logging"
	"github.com/storydesk/storydesk/internal/storage"
)

// Version is stamped into lock files and the audit log
const Version = "0.3.0"

var (
	dbPath     string
	configPath string
	cfg        *config.Config
	store      storage.Storage
	logger     *slog.Logger
)

// Commands annotated with noStore run without opening the database
const noStore = "storydesk/no-store"

var rootCmd = &cobra.Command{
	Use:   "storydesk",
	Short: "Resolve a stream of news items into canonical stories",
	Long: `storydesk ingests news-style items and resolves each one exactly once as
a new canonical story, a duplicate of an existing story, or an update appended
to an existing story's history.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		logger, err = logging.New(os.Stderr, cfg.Logging)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		if cmd.Annotations[noStore] == "true" {
			return nil
		}
		return openStore(cmd.Context(), cmd.Annotations[createStore] == "true")
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			if err := store.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to close database: %v\n", err)
			}
		}
	},
}

// Commands annotated with createStore create the default database when none is found
const createStore = "storydesk/create-store"

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: auto-discover .storydesk/*.db)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: "+config.DefaultPath+" if present)")
}

// openStore resolves the database path (flag, config, STORYDESK_DB_PATH,
// discovery) and opens it.
func openStore(ctx context.Context, create bool) error {
	path := dbPath
	if path == "" {
		path = cfg.DBPath
	}
	if path == "" {
		discovered, err := storage.DiscoverDatabase()
		switch {
		case err == nil:
			path = discovered
		case create:
			path = storage.DefaultPath
		default:
			return err
		}
	}

	s, err := storage.NewStorage(ctx, &storage.Config{Path: path})
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", path, err)
	}
	dbPath = path
	store = s
	logger.Debug("database opened", "path", path)
	return nil
}

// signalContext is cancelled on Ctrl+C or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		red := color.New(color.FgRed).SprintFunc()
		fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps command errors to process exit codes:
// 2 for an unavailable corpus index, 3 for a held writer lock, 1 otherwise.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, corpus.ErrIndexUnavailable):
		return 2
	case errors.Is(err, storage.ErrLocked):
		return 3
	default:
		return 1
	}
}

// acquireLock takes the database's exclusive writer lock
func acquireLock(holder string) (string, error) {
	lockPath, err := storage.AcquireExclusiveLock(dbPath, holder, Version)
	if err != nil {
		return "", err
	}
	logger.Debug("acquired exclusive lock", "path", lockPath, "holder", holder)
	return lockPath, nil
}

func releaseLock(lockPath string) {
	if err := storage.ReleaseExclusiveLock(lockPath); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to release exclusive lock: %v\n", err)
	}
}
