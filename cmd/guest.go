package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marlow/boardsync/internal/config"
	"github.com/marlow/boardsync/internal/output"
)

var guestCmd = &cobra.Command{
	Use:     "guest",
	Short:   "Manage guest identities",
	GroupID: "system",
}

var guestCreateCmd = &cobra.Command{
	Use:   "create <game-id> <display-name>",
	Short: "Create a guest identity for a game",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer st.Close()

		gs, err := st.CreateGuestSession(args[0], args[1])
		if err != nil {
			output.Error("create guest: %v", err)
			return err
		}
		output.Success("created guest %s (%s) for game %s", gs.GuestID, gs.DisplayName, gs.GameID)
		return nil
	},
}

var guestShowCmd = &cobra.Command{
	Use:   "show <guest-id>",
	Short: "Show a guest identity and its game history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer st.Close()

		gs, err := st.GetGuestSession(args[0])
		if err != nil {
			output.Error("get guest: %v", err)
			return err
		}
		if gs == nil {
			output.Error("guest %s not found", args[0])
			return fmt.Errorf("not found")
		}

		output.Title(gs.GuestID)
		output.Info("  name:    %s", gs.DisplayName)
		output.Info("  game:    %s", gs.GameID)
		output.Info("  created: %s", gs.CreatedAt.Format(time.RFC3339))
		if len(gs.GameHistory) > 0 {
			output.Info("  history:")
			for _, g := range gs.GameHistory {
				output.Subtle("    %s", g)
			}
		}
		return nil
	},
}

var guestListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List guest identities",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer st.Close()

		sessions, err := st.ListGuestSessions()
		if err != nil {
			output.Error("list guests: %v", err)
			return err
		}
		if len(sessions) == 0 {
			output.Subtle("no guest identities")
			return nil
		}
		for _, gs := range sessions {
			output.Info("%s  %-16s game=%s  games played: %d",
				gs.GuestID, gs.DisplayName, gs.GameID, len(gs.GameHistory))
		}
		return nil
	},
}

func init() {
	guestCmd.AddCommand(guestCreateCmd, guestShowCmd, guestListCmd)
	rootCmd.AddCommand(guestCmd)
}
