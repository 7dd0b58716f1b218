package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/marlow/boardsync/internal/config"
	"github.com/marlow/boardsync/internal/netmon"
	"github.com/marlow/boardsync/internal/output"
)

var pingCmd = &cobra.Command{
	Use:     "ping",
	Short:   "Probe the server and report latency and quality",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")

		cfg, err := config.Load()
		if err != nil {
			output.Error("load config: %v", err)
			return err
		}
		client := newClient(cfg)

		failures := 0
		for i := 0; i < count; i++ {
			latency, err := client.Ping()
			if err != nil {
				failures++
				output.Error("probe %d: %v", i+1, err)
				continue
			}
			q := netmon.Classify(latency)
			output.Info("probe %d: %s (%s)", i+1,
				latency.Round(time.Millisecond), output.Quality(string(q)))
		}

		if failures == count {
			output.Error("server unreachable at %s", cfg.ServerURL)
		} else if failures > 0 {
			output.Warning("%d/%d probes failed", failures, count)
		}
		return nil
	},
}

func init() {
	pingCmd.Flags().IntP("count", "c", 1, "number of probes")
	rootCmd.AddCommand(pingCmd)
}
