package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zsiec/rtspsource/internal/config"
)

type globalOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "rtspsource",
		Short:         "RTSP session source",
		Long:          "rtspsource opens RTSP sessions, keeps them alive and reconnects them, and hands their audio and video to a host pipeline.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	flags.StringVar(&opts.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	root.AddCommand(newPlayCommand(opts))
	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newMonitorCommand())
	root.AddCommand(newVersionCommand())
	return root
}

// load reads the configuration and applies the global overrides.
func (o *globalOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, nil
}
