package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"Go2NetMonitor/internal/app"

	"github.com/spf13/cobra"
)

func runCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sample interfaces, capture DNS and serve the API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.New(opts.cfg).Run(ctx)
		},
	}
}
