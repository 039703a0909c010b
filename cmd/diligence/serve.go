package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/diligentiq/engine/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Start the engine's HTTP API: start-processing, progress polling,
the validation gate, and the event continuation webhook.

The server shuts down gracefully on SIGINT/SIGTERM, waiting for active
run workers to reach their next checkpoint boundary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		orch, err := newOrchestrator(ctx)
		if err != nil {
			return err
		}

		srv := server.New(orch, store, cfg.Server)
		err = srv.Run(ctx)

		// Let in-flight workers persist their checkpoints before exit.
		orch.Wait()
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
