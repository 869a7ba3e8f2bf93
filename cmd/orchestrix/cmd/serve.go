package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orchestrix-dev/orchestrix/internal/api"
	"github.com/orchestrix-dev/orchestrix/internal/skills"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the approvals and events API, recovering interrupted runs first",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Reconcile runs interrupted by a previous process before accepting work.
	eng.Orchestrator.RecoverActiveRuns(ctx)

	// Hot-reload the skills catalog while serving.
	go func() {
		_ = skills.Watch(ctx, eng.Catalog, logger)
	}()

	server := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           api.NewServer(eng.Orchestrator, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s (workspace: %s)\n", cfg.HTTP.Listen, cfg.WorkspaceRoot)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
