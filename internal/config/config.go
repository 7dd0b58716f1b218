// Package config loads and saves the client configuration stored at
// ~/.config/boardsync/config.json.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SyncConfig holds tunables for the sync engine. Zero values mean "use
// the default"; durations are strings so the file stays hand-editable.
type SyncConfig struct {
	ProbeInterval        string `json:"probe_interval,omitempty"`         // default "5s"
	DrainInterval        string `json:"drain_interval,omitempty"`         // default "10s"
	BatchSize            int    `json:"batch_size,omitempty"`             // default 5
	MoveQueueCap         int    `json:"move_queue_cap,omitempty"`         // default 100
	StateCacheCap        int    `json:"state_cache_cap,omitempty"`        // default 10
	Strategy             string `json:"strategy,omitempty"`               // default "server_authority"
	MaxOrderingConflicts int    `json:"max_ordering_conflicts,omitempty"` // default 5
}

// Config is the full client configuration.
type Config struct {
	ServerURL string     `json:"server_url"`
	Sync      SyncConfig `json:"sync"`
}

const defaultServerURL = "http://localhost:8080"

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{ServerURL: defaultServerURL}
}

// ConfigDir returns ~/.config/boardsync, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "boardsync")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config file, returning defaults when it does not exist.
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads a config file from an explicit path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = defaultServerURL
	}
	return cfg, nil
}

// Save writes the config atomically (temp file + rename).
func (c *Config) Save() error {
	path, err := configPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the config to an explicit path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// ProbeInterval parses the probe interval, falling back to the default on
// empty or malformed values.
func (c *Config) ProbeInterval() time.Duration {
	return parseDuration(c.Sync.ProbeInterval, 5*time.Second)
}

// DrainInterval parses the drain interval.
func (c *Config) DrainInterval() time.Duration {
	return parseDuration(c.Sync.DrainInterval, 10*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
