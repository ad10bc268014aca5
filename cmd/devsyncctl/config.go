package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the devsyncctl configuration file.
type Config struct {
	ServerURL       string `toml:"server_url"`
	RealtimeURL     string `toml:"realtime_url,omitempty"` // defaults to <server_url>/api/realtime/ws
	Token           string `toml:"token,omitempty"`        // signed-in identity; blank joins as a guest
	ContentDebounce string `toml:"content_debounce"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		ServerURL:       "http://localhost:8080",
		ContentDebounce: "1s",
	}
}

// Debounce parses ContentDebounce. Blank means the library default.
func (c *Config) Debounce() (time.Duration, error) {
	if c.ContentDebounce == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.ContentDebounce)
	if err != nil {
		return 0, fmt.Errorf("content_debounce: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("content_debounce must not be negative, got %s", d)
	}
	return d, nil
}

// defaultConfigPath returns the config file path, checking DEVSYNC_CONFIG
// first, then $XDG_CONFIG_HOME/devsync/config.toml, then
// ~/.config/devsync/config.toml.
func defaultConfigPath() (string, error) {
	if path := os.Getenv("DEVSYNC_CONFIG"); path != "" {
		return path, nil
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "devsync", "config.toml"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "devsync", "config.toml"), nil
}

// readConfig decodes a Config from r on top of the defaults.
func readConfig(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// loadConfig reads the config file at path. A missing file yields the
// defaults.
func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := readConfig(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// initConfig writes cfg to path, refusing to overwrite an existing file.
func initConfig(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}
