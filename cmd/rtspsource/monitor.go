package main

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/zsiec/rtspsource/internal/monitor"
)

func newMonitorCommand() *cobra.Command {
	var (
		addr     string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Live view of a running session",
		Long:  "Poll the control API of a running rtspsource and drive it from the keyboard.",
		Example: `  rtspsource monitor
  rtspsource monitor --addr http://10.0.0.5:8081 --interval 500ms`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := monitor.NewClient(addr, 30*time.Second)
			_, err := tea.NewProgram(monitor.NewModel(client, interval)).Run()
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", "http://127.0.0.1:8081", "Control API base URL")
	flags.DurationVar(&interval, "interval", time.Second, "Refresh interval")
	return cmd
}
