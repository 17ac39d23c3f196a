package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cachemir/muxcache/internal/server"
	"github.com/cachemir/muxcache/pkg/config"
	"github.com/cachemir/muxcache/pkg/logging"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "muxcache-server",
	Short: "muxcache reference cache server",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return run()
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "YAML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServerConfig(configFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	opts := []server.Option{server.WithLogger(logger)}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, server.WithRegisterer(reg))
		metricsSrv = serveMetrics(cfg.MetricsAddr, reg, logger)
	}

	srv, err := server.New(cfg, opts...)
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}

	logger.Info("starting muxcache server",
		zap.String("addr", cfg.Address()),
		zap.Int("shards", cfg.Shards),
		zap.Int("hard_max_cache_size_mb", cfg.HardMaxCacheSize),
		zap.Duration("clean_interval", cfg.CleanInterval),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
		}
	}

	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logger.Warn("error stopping metrics endpoint", zap.Error(err))
		}
	}

	return srv.Stop()
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint failed", zap.Error(err))
		}
	}()

	logger.Info("serving metrics", zap.String("addr", addr))
	return srv
}
