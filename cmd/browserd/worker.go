package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seantiz/browserd/internal/session"
	"github.com/seantiz/browserd/internal/wire"
	"github.com/seantiz/browserd/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one task read from stdin (used by isolated mode)",
	Hidden: true,
	Long: `Run one task in a private browser.

The request arrives as a length-prefixed JSON frame on stdin. Progress lines
and the final result are written to stdout as frames of the same format.
The browser is closed before the result is written.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return worker.Run(ctx, os.Stdin, os.Stdout, cfg.LogLevel, func(s wire.Settings, logger *slog.Logger) (session.Runner, error) {
			return sharedRunner(s, logger)
		})
	},
}
