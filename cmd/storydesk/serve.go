package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/storydesk/storydesk/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve items and statistics over a read-only HTTP API",
	Long: `Serve the store over HTTP:

  GET /v1/items?resolution=NEW&canonical_id=...&limit=50
  GET /v1/items/:id          (id or slug)
  GET /v1/items/:id/updates
  GET /v1/stats

There are no write routes. Listens on api.addr unless --addr is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.API.Addr
		}

		ctx, cancel := signalContext()
		defer cancel()

		srv := &http.Server{
			Addr:              addr,
			Handler:           api.NewRouter(api.NewHandler(store, logger)),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("api listening", "addr", addr, "db", dbPath)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info("shutting down api")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default: api.addr)")
	rootCmd.AddCommand(serveCmd)
}
