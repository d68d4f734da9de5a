// Package cmd provides the CLI commands for tapgate.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/tapgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tapgate",
	Short: "tapgate - traffic interception engine",
	Long: `tapgate intercepts the plaintext traffic of instrumented processes and
lets a chain of interceptors log, rewrite or forward every buffer before the
hooked call continues.

Quick start:
  1. Create a config file: tapgate.yaml
  2. Run: tapgate serve

Configuration:
  Config is loaded from tapgate.yaml in the current directory,
  $HOME/.tapgate/, or /etc/tapgate/.

  Environment variables can override config values with the TAPGATE_ prefix.
  Example: TAPGATE_ENGINE_ADDR=127.0.0.1:9000

Commands:
  serve       Start the decision engine
  relay       Intercept a TCP connection through the interceptor chain
  config      Print the effective configuration
  adapters    List the built-in API adapters
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./tapgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

// newLogger writes text logs to w. Stdout stays free for the stdio engine
// stream, so callers pass stderr.
func newLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	}))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
