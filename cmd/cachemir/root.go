package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cachemir/muxcache/pkg/client"
	"github.com/cachemir/muxcache/pkg/config"
	"github.com/cachemir/muxcache/pkg/logging"
)

var (
	configFile string
	address    string
	timeout    time.Duration
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "cachemir",
	Short: "Command line client for a muxcache server",
	Long: `cachemir talks to a muxcache server over a single multiplexed connection.

Settings come from --config, CACHEMIR_* environment variables (a .env file in
the working directory is loaded first) and the flags below.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "YAML config file")
	flags.StringVarP(&address, "address", "a", "", "server address (host:port)")
	flags.DurationVarP(&timeout, "timeout", "t", 0, "per-request timeout")
	flags.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig merges the config file, environment and flags.
func loadConfig() (*config.ClientConfig, error) {
	cfg, err := config.LoadClientConfig(configFile)
	if err != nil {
		return nil, err
	}

	if address != "" {
		cfg.Address = address
	}
	if timeout > 0 {
		cfg.RequestTimeout = timeout
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.ClientConfig) (*zap.Logger, error) {
	return logging.New(cfg.Log)
}

// getClient dials the configured server. The caller closes the client.
func getClient(ctx context.Context) (*client.Client, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	c, err := client.DialConfig(ctx, cfg, client.WithLogger(logger))
	if err != nil {
		_ = logger.Sync()
		return nil, nil, fmt.Errorf("connect to %s: %w", cfg.Address, err)
	}

	release := func() {
		if err := c.Close(); err != nil {
			logger.Warn("failed to close client", zap.Error(err))
		}
		_ = logger.Sync()
	}
	return c, release, nil
}
