package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marlow/boardsync/internal/config"
	"github.com/marlow/boardsync/internal/output"
	"github.com/marlow/boardsync/internal/resolve"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Show or change client configuration",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			output.Error("load config: %v", err)
			return err
		}
		return output.JSON(cfg)
	},
}

var configSetURLCmd = &cobra.Command{
	Use:   "set-url <server-url>",
	Short: "Set the sync server URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		cfg.ServerURL = args[0]
		if err := cfg.Save(); err != nil {
			output.Error("save config: %v", err)
			return err
		}
		output.Success("server url set to %s", cfg.ServerURL)
		return nil
	},
}

var configSetStrategyCmd = &cobra.Command{
	Use:   "set-strategy <server_authority|client_prediction|merge>",
	Short: "Set the conflict resolution strategy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resolve.IsValidStrategy(args[0]) {
			output.Error("unknown strategy %q", args[0])
			return fmt.Errorf("invalid strategy")
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		cfg.Sync.Strategy = args[0]
		if err := cfg.Save(); err != nil {
			output.Error("save config: %v", err)
			return err
		}
		output.Success("conflict strategy set to %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSetURLCmd, configSetStrategyCmd)
	rootCmd.AddCommand(configCmd)
}
