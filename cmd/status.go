package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/marlow/boardsync/internal/config"
	"github.com/marlow/boardsync/internal/netmon"
	"github.com/marlow/boardsync/internal/output"
	"github.com/marlow/boardsync/internal/store"
)

type statusJSON struct {
	Online  bool                        `json:"online"`
	Latency string                      `json:"latency,omitempty"`
	Quality string                      `json:"quality"`
	Queues  map[string]store.QueueStats `json:"queues"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"st"},
	Short:   "Show connection health and queue pressure",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

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

		client := newClient(cfg)
		latency, pingErr := client.Ping()
		online := pingErr == nil

		quality := netmon.QualityUnknown
		if online {
			quality = netmon.Classify(latency)
		}

		games, err := st.GamesWithQueuedMoves()
		if err != nil {
			output.Error("list games: %v", err)
			return err
		}
		queues := make(map[string]store.QueueStats, len(games))
		for _, g := range games {
			stats, err := st.QueueStats(g)
			if err != nil {
				output.Error("queue stats for %s: %v", g, err)
				return err
			}
			queues[g] = stats
		}

		if asJSON {
			out := statusJSON{Online: online, Quality: string(quality), Queues: queues}
			if online {
				out.Latency = latency.Round(time.Millisecond).String()
			}
			return output.JSON(out)
		}

		output.Title("Connection")
		if online {
			output.Success("  online  %s  (%s)", latency.Round(time.Millisecond), output.Quality(string(quality)))
		} else {
			output.Error("offline: %v", pingErr)
		}

		output.Title("Queues")
		if len(games) == 0 {
			output.Subtle("  all queues quiescent")
			return nil
		}
		for _, g := range games {
			s := queues[g]
			output.Info("  %s: %d queued (%d pending, %d retrying), ~%d bytes",
				g, s.TotalMoves, s.PendingMoves, s.FailedMoves, s.EstimatedSizeBytes)
			if !s.OldestQueuedMove.IsZero() {
				output.Subtle("    oldest queued %s", s.OldestQueuedMove.Format(time.RFC3339))
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "output as JSON")
	rootCmd.AddCommand(statusCmd)
}
