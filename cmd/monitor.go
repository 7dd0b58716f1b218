package cmd

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/marlow/boardsync/internal/config"
	"github.com/marlow/boardsync/internal/netmon"
	"github.com/marlow/boardsync/internal/output"
	"github.com/marlow/boardsync/internal/retry"
	"github.com/marlow/boardsync/internal/tui/monitor"
)

var monitorCmd = &cobra.Command{
	Use:     "monitor",
	Aliases: []string{"mon"},
	Short:   "Live connection and queue monitor",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			output.Error("load config: %v", err)
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer st.Close()

		mon := netmon.New(newClient(cfg), retry.SystemClock(), nil)
		mon.ProbeInterval = cfg.ProbeInterval()
		mon.Start()
		defer mon.Destroy()

		model := monitor.New(mon, st, 1*time.Second)
		p := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			output.Error("monitor: %v", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
