package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marlow/boardsync/internal/config"
	"github.com/marlow/boardsync/internal/output"
)

var clearCmd = &cobra.Command{
	Use:     "clear",
	Short:   "Drop all queued moves for a game",
	Long:    "Drops every queued move for a game and resets its sequence counter.\nUse when a game is abandoned or restarted, never during normal play.",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		gameID, _ := cmd.Flags().GetString("game")
		force, _ := cmd.Flags().GetBool("force")

		if gameID == "" {
			output.Error("--game is required")
			return fmt.Errorf("missing --game")
		}

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

		stats, err := st.QueueStats(gameID)
		if err != nil {
			output.Error("queue stats: %v", err)
			return err
		}
		if stats.TotalMoves == 0 {
			output.Info("queue for %s is already empty", gameID)
			return nil
		}

		if !force {
			output.Warning("this drops %d queued moves for %s permanently", stats.TotalMoves, gameID)
			output.Info("re-run with --force to confirm")
			return nil
		}

		if err := st.ClearQueue(gameID); err != nil {
			output.Error("clear queue: %v", err)
			return err
		}
		output.Success("dropped %d queued moves for %s", stats.TotalMoves, gameID)
		return nil
	},
}

func init() {
	clearCmd.Flags().String("game", "", "game whose queue to clear")
	clearCmd.Flags().Bool("force", false, "skip confirmation")
	rootCmd.AddCommand(clearCmd)
}
