package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run an idle session driven by the control API",
		Long:  "Start the control server and wait. Sessions are opened, played and stopped through /api/v1/session. Samples are drained and discarded.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			cfg.Server.Enabled = true

			a, err := newApp(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := a.start(ctx); err != nil {
				cancel()
				a.close()
				return err
			}
			d := newDrainer(a.engine, cfg.Source.Latency, nil, a.log)
			a.goRun(func() { d.run(ctx) })

			<-ctx.Done()
			a.log.Info("Received shutdown signal")
			a.close()
			return nil
		},
	}
}
