// Command devsyncctl inspects and edits devsync rooms from the terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dalemusser/devsync/internal/syncclient"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath  string
	serverURL   string
	realtimeURL string
	token       string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:          "devsyncctl",
	Short:        "Inspect and edit devsync rooms",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/devsync/config.toml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server base URL, overrides server_url")
	rootCmd.PersistentFlags().StringVar(&realtimeURL, "realtime", "", "hub websocket URL, overrides realtime_url")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "auth token, overrides token")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log client activity to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// settings resolves the effective configuration: file values overlaid by
// flags.
func settings() (*Config, error) {
	path := configPath
	if path == "" {
		p, err := defaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if realtimeURL != "" {
		cfg.RealtimeURL = realtimeURL
	}
	if token != "" {
		cfg.Token = token
	}
	return cfg, nil
}

func newClient(cfg *Config) (*syncclient.Client, error) {
	var opts []syncclient.ClientOption
	if cfg.Token != "" {
		opts = append(opts, syncclient.WithToken(cfg.Token))
	}
	if cfg.RealtimeURL != "" {
		opts = append(opts, syncclient.WithSocketURL(cfg.RealtimeURL))
	}
	return syncclient.NewClient(cfg.ServerURL, opts...)
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// signalContext is cancelled on interrupt or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withSession joins roomID, runs fn, and closes the session, which waits
// for fn's edits to be saved.
func withSession(roomID string, fn func(s *syncclient.Session) error) error {
	cfg, err := settings()
	if err != nil {
		return err
	}
	debounce, err := cfg.Debounce()
	if err != nil {
		return err
	}
	c, err := newClient(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	connectCtx, connectCancel := context.WithTimeout(ctx, 15*time.Second)
	s, err := syncclient.Connect(connectCtx, c, roomID, syncclient.Options{
		ContentDebounce: debounce,
		Logger:          newLogger(),
	})
	connectCancel()
	if err != nil {
		return fmt.Errorf("joining room %s: %w", roomID, err)
	}

	runErr := fn(s)

	closeCtx, closeCancel := context.WithTimeout(ctx, 30*time.Second)
	defer closeCancel()
	if err := s.Close(closeCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("saving changes: %w", err)
	}
	return runErr
}
