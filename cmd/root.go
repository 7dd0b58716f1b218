package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marlow/boardsync/internal/config"
	"github.com/marlow/boardsync/internal/store"
	"github.com/marlow/boardsync/internal/syncclient"
)

var (
	version string
	dataDir string
)

// SetVersion sets the version string
func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "boardsync",
	Short: "Offline-first sync client for turn-based board games",
	Long: `boardsync - the client-side synchronization engine for turn-based board games.

Buffers locally made moves while offline, delivers them to the server in
order once the connection stabilizes, and reconciles divergence between
the local prediction and the server's authoritative state.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// nameWithAliases returns "name, alias1, alias2" if aliases exist, else just "name"
func nameWithAliases(cmd *cobra.Command) string {
	if len(cmd.Aliases) > 0 {
		return cmd.Name() + ", " + strings.Join(cmd.Aliases, ", ")
	}
	return cmd.Name()
}

func init() {
	cobra.OnInitialize(initDataDir)

	cobra.AddTemplateFunc("nameWithAliases", nameWithAliases)

	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the local store directory")
	rootCmd.SetVersionTemplate("boardsync {{.Version}}\n")
	rootCmd.Version = version

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)
}

func initDataDir() {
	if dataDir != "" {
		return
	}
	if env := os.Getenv("BOARDSYNC_DATA_DIR"); env != "" {
		dataDir = env
		return
	}
	home, err := os.UserHomeDir()
	if err != nil {
		dataDir = "."
		return
	}
	dataDir = filepath.Join(home, ".local", "share", "boardsync")
}

// openStore opens the durable store with caps from config applied.
func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if cfg.Sync.MoveQueueCap > 0 {
		st.MoveQueueCap = cfg.Sync.MoveQueueCap
	}
	if cfg.Sync.StateCacheCap > 0 {
		st.StateCap = cfg.Sync.StateCacheCap
	}
	return st, nil
}

func newClient(cfg *config.Config) *syncclient.Client {
	return syncclient.New(cfg.ServerURL)
}
