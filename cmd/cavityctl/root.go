package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nanobeamlab/cavity-designer/go-controller/internal/config"
)

var (
	configPath string
	logLevel   string
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "cavityctl",
	Short: "Session controller for LLM-driven nanobeam cavity optimization",
	Long: `cavityctl drives iterative photonic crystal nanobeam cavity design:
it enforces the parameter sweep protocol, deduplicates trials, dispatches
layout and FDTD jobs to the simulation sidecar, and keeps a durable,
resumable trial history per unit-cell configuration.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var level slog.Level
		switch logLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
		logger = slog.New(handler)
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "cavityctl.yaml", "Path to the session configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

// loadConfig reads the configuration file.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}
