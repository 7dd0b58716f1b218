package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marlow/boardsync/internal/config"
	"github.com/marlow/boardsync/internal/events"
	"github.com/marlow/boardsync/internal/netmon"
	"github.com/marlow/boardsync/internal/output"
	"github.com/marlow/boardsync/internal/queue"
	"github.com/marlow/boardsync/internal/retry"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Drain queued moves to the server",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		gameID, _ := cmd.Flags().GetString("game")

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
		clock := retry.SystemClock()

		mon := netmon.New(client, clock, nil)
		defer mon.Destroy()
		if probe := mon.Probe(); !probe.Success {
			output.Error("server unreachable, moves remain queued")
			return fmt.Errorf("server unreachable")
		}

		mgr := queue.New(st, client, mon, clock)
		defer mgr.Destroy()
		if cfg.Sync.BatchSize > 0 {
			mgr.BatchSize = cfg.Sync.BatchSize
		}
		if cfg.Sync.MaxOrderingConflicts > 0 {
			mgr.MaxOrderingConflicts = cfg.Sync.MaxOrderingConflicts
		}

		unsub := mgr.Events().Subscribe(func(ev events.Event) {
			switch ev.Type {
			case events.MoveSent:
				p := ev.Payload.(events.MovePayload)
				output.Success("  sent move seq=%d (%s)", p.SequenceNumber, ev.GameID)
			case events.MoveFailed:
				p := ev.Payload.(events.MoveFailedPayload)
				output.Warning("  dropped move seq=%d: %s", p.SequenceNumber, p.Reason)
			case events.SyncFailed:
				p := ev.Payload.(events.SyncPayload)
				output.Warning("  sync stalled: %s", p.Reason)
			}
		})
		defer unsub()

		games := []string{gameID}
		if gameID == "" {
			games, err = st.GamesWithQueuedMoves()
			if err != nil {
				output.Error("list games: %v", err)
				return err
			}
			if len(games) == 0 {
				output.Info("nothing to sync")
				return nil
			}
		}

		for _, g := range games {
			if err := mgr.SyncQueue(g); err != nil {
				output.Error("sync %s: %v", g, err)
				return err
			}
			stats, err := mgr.GetQueueStats(g)
			if err == nil && stats.TotalMoves > 0 {
				output.Warning("%s: %d moves still queued", g, stats.TotalMoves)
			} else {
				output.Success("%s: queue drained", g)
			}
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().String("game", "", "sync a single game's queue")
	rootCmd.AddCommand(syncCmd)
}
