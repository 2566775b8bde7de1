package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/rtspsource/internal/config"
	"github.com/zsiec/rtspsource/internal/logger"
	"github.com/zsiec/rtspsource/internal/session"
)

type playOptions struct {
	seek      time.Duration
	reconnect time.Duration
	transport string
	dump      string
	duration  time.Duration
	serve     bool
}

func newPlayCommand(global *globalOptions) *cobra.Command {
	opts := &playOptions{}

	cmd := &cobra.Command{
		Use:   "play [rtsp-url]",
		Short: "Open and play an RTSP session",
		Long:  "Open the URL (or source.url), play it and consume every stream until interrupted or the server ends the session.",
		Example: `  rtspsource play rtsp://cam.local/live
  rtspsource play rtsp://cam.local/live --reconnect 5s --dump out.h264
  rtspsource play rtsp://vod.local/movie --seek 1m30s --for 30s --serve`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			if err := opts.apply(cmd, cfg, args); err != nil {
				return err
			}
			return runPlay(cfg, opts)
		},
	}

	flags := cmd.Flags()
	flags.DurationVar(&opts.seek, "seek", 0, "Initial play position")
	flags.DurationVar(&opts.reconnect, "reconnect", 0, "Reconnect interval after a failure, 0 disables")
	flags.StringVar(&opts.transport, "transport", "", "RTP transport: udp or tcp")
	flags.StringVar(&opts.dump, "dump", "", "Write the video elementary stream (Annex-B) to this file")
	flags.DurationVar(&opts.duration, "for", 0, "Stop after this long, 0 plays until the session ends")
	flags.BoolVar(&opts.serve, "serve", false, "Also run the control server")

	_ = cmd.RegisterFlagCompletionFunc("transport", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"udp", "tcp"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

// apply overlays the flags the user set on cfg.
func (o *playOptions) apply(cmd *cobra.Command, cfg *config.Config, args []string) error {
	if len(args) == 1 {
		cfg.Source.URL = args[0]
	}
	if cfg.Source.URL == "" {
		return errors.New("no URL: pass one or set source.url")
	}
	flags := cmd.Flags()
	if flags.Changed("seek") {
		cfg.Source.InitialSeek = o.seek
	}
	if flags.Changed("reconnect") {
		cfg.Source.AutoReconnect = o.reconnect
	}
	if flags.Changed("transport") {
		cfg.Source.Transport = o.transport
	}
	if o.serve {
		cfg.Server.Enabled = true
	}
	return cfg.Validate()
}

func runPlay(cfg *config.Config, opts *playOptions) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if opts.duration > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, opts.duration)
		defer cancelTimeout()
	}

	if err := a.start(ctx); err != nil {
		cancel()
		a.close()
		return err
	}

	var dump io.Writer
	if opts.dump != "" {
		f, err := os.Create(opts.dump)
		if err != nil {
			cancel()
			a.close()
			return fmt.Errorf("failed to create dump file: %w", err)
		}
		defer f.Close()
		dump = f
	}

	d := newDrainer(a.engine, cfg.Source.Latency, dump, a.log)
	a.goRun(func() { d.run(ctx) })

	// Every time the session becomes ready, including after a reconnection
	// that began before the first play, start it.
	a.engine.OnStateChange(func(from, to session.State) {
		if to != session.StateReadyToPlay {
			return
		}
		c := a.engine.Submit(session.KindPlay, "")
		go func() {
			if err := c.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.WithError(err).Warn("Play failed")
			}
		}()
	})

	log := logger.WithSession(a.log, a.engine.ID(), cfg.Source.URL)
	err = a.engine.Open(ctx, cfg.Source.URL)
	switch {
	case err == nil:
		log.Info("Session ready")
	case errors.Is(err, session.ErrReconnectScheduled):
		log.WithError(err).Warn("Open failed, reconnecting")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	default:
		cancel()
		a.close()
		return fmt.Errorf("open %s: %w", cfg.Source.URL, err)
	}

	select {
	case <-ctx.Done():
		log.Info("Stopping")
	case <-d.Ended():
		log.Info("Session ended")
	}
	cancel()
	a.close()
	log.WithFields(d.summary()).Info("Playback summary")
	return nil
}
