package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Sentinel-Gate/tapgate/internal/adapter/inbound/engine"
	"github.com/Sentinel-Gate/tapgate/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/tapgate/internal/adapter/inbound/stdio"
	"github.com/Sentinel-Gate/tapgate/internal/config"
	"github.com/Sentinel-Gate/tapgate/internal/service"
	"github.com/Sentinel-Gate/tapgate/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the decision engine",
	Long: `Start the tapgate decision engine.

Instrumented processes connect to engine.addr and send every intercepted
buffer as a length-prefixed CBOR message. The configured interceptor chain
decides the replacement and the engine answers with it.

With --stdio the engine protocol is spoken on stdin/stdout instead, for a
single agent that spawns tapgate as a subprocess.

The interceptor chain is rebuilt whenever the config file changes.

Examples:
  # Start with config file settings
  tapgate serve

  # Listen on another address
  tapgate serve --addr 0.0.0.0:27042

  # Serve one agent over stdio
  tapgate serve --stdio`,
	RunE: runServe,
}

var (
	serveAddr  string
	serveStdio bool
	serveDebug bool
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "engine listen address (overrides engine.addr)")
	serveCmd.Flags().BoolVar(&serveStdio, "stdio", false, "serve the engine protocol on stdin/stdout")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration without validation so CLI flags can override first
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if serveAddr != "" {
		cfg.Engine.Addr = serveAddr
	}
	if serveDebug {
		cfg.Log.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(os.Stderr, cfg.LogLevel())
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Setup(telemetry.Options{ServiceVersion: Version, Writer: os.Stderr})
		if err != nil {
			return fmt.Errorf("failed to set up telemetry: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn("telemetry shutdown failed", "error", err)
			}
		}()
	}

	if err := serve(ctx, cfg, serveStdio, logger); err != nil {
		return err
	}
	logger.Info("tapgate stopped")
	return nil
}

// serve wires the engine: chain, router, listeners and config reload.
func serve(ctx context.Context, cfg *config.Config, useStdio bool, logger *slog.Logger) error {
	builder, err := newChainBuilder(logger)
	if err != nil {
		return err
	}
	chain, err := builder.build(cfg)
	if err != nil {
		return err
	}

	reg := http.NewRegistry()
	metrics := http.NewMetrics(reg)
	stats := service.NewStatsService()
	router := service.NewRouter(chain,
		service.WithStats(stats),
		service.WithObserver(metrics),
		service.WithRouterLogger(logger),
	)
	defer func() {
		if err := router.Close(); err != nil {
			logger.Warn("failed to close interceptors", "error", err)
		}
	}()
	logger.Info("interceptor chain ready", "interceptors", router.Interceptors())

	if config.ConfigFileUsed() != "" {
		watchConfig(builder, router, logger)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	// errCh collects components that stop on cancel. A stdio read only ends
	// with stdin, so stdioDone is never waited for after shutdown starts.
	errCh := make(chan error, 2)
	running := 0
	var stdioDone chan error

	var status http.EngineStatus
	if useStdio {
		transport := stdio.NewStdioTransport(router, logger)
		stdioDone = make(chan error, 1)
		go func() {
			stdioDone <- transport.Start(ctx)
		}()
	} else {
		srv := engine.NewServer(router,
			engine.WithAddr(cfg.Engine.Addr),
			engine.WithLogger(logger),
			engine.WithConnectionGauge(metrics.EngineConnections),
		)
		if err := srv.Listen(); err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.Engine.Addr, err)
		}
		status = srv
		running++
		go func() {
			errCh <- srv.Start(ctx)
		}()
		logger.Info("engine listening", "addr", srv.Addr())
	}

	if cfg.Engine.MetricsAddr != "" {
		ops := http.NewServer(reg, metrics,
			http.WithAddr(cfg.Engine.MetricsAddr),
			http.WithLogger(logger),
			http.WithHealthChecker(http.NewHealthChecker(status, router, Version)),
			http.WithStats(stats),
		)
		running++
		go func() {
			errCh <- ops.Start(ctx)
		}()
	}

	// The first component to stop (error, stdin EOF or signal) stops the rest.
	var errs []error
	select {
	case <-ctx.Done():
	case err := <-stdioDone:
		if err != nil {
			errs = append(errs, err)
		}
	case err := <-errCh:
		running--
		if err != nil {
			errs = append(errs, err)
		}
	}
	cancel()
	for ; running > 0; running-- {
		if err := <-errCh; err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// watchConfig rebuilds the interceptor chain when the config file changes.
// A config that fails to load or build keeps the running chain.
func watchConfig(builder *chainBuilder, router *service.Router, logger *slog.Logger) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		reloadChain(builder, router, logger, e.Name)
	})
	viper.WatchConfig()
}

func reloadChain(builder *chainBuilder, router *service.Router, logger *slog.Logger, file string) {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("config reload failed, keeping current chain", "file", file, "error", err)
		return
	}
	chain, err := builder.build(cfg)
	if err != nil {
		logger.Error("config reload failed, keeping current chain", "file", file, "error", err)
		return
	}
	if err := router.SetInterceptors(chain); err != nil {
		logger.Warn("failed to close previous interceptors", "error", err)
	}
	logger.Info("interceptor chain reloaded", "file", file, "interceptors", router.Interceptors())
}
