package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/storyloom/storyloom/pkg/config"
	"github.com/storyloom/storyloom/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "storyloom",
	Short: "Storyloom - interactive story narration engine",
	Long: `Storyloom runs an interactive story session: it streams narration from an
LLM provider, keeps session history on disk, and tracks story state (summary,
characters, inventory) across turns.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.storyloom/config.json)")
}

// Execute runs the root command.
func Execute() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadRuntimeConfig reads the config file and wires up file logging.
func loadRuntimeConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.FileEnabled {
		if err := logger.EnableFileLoggingWithRotation(
			cfg.LogFilePath(),
			cfg.Logging.RotationEnabled,
			cfg.Logging.MaxSizeMB,
			cfg.Logging.MaxAgeDays,
		); err != nil {
			logger.WarnCF("cli", "file logging unavailable", map[string]any{
				"path":  cfg.LogFilePath(),
				"error": err.Error(),
			})
		}
	}

	return cfg, nil
}
