// Command fufnotes serves the notes API and runs its maintenance tasks.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dukerupert/fufnotes/internal/config"
	"github.com/dukerupert/fufnotes/internal/logging"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:          "fufnotes",
	Short:        "Personal Markdown notes server",
	RunE:         runServe,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file (default $FUFNOTES_CONFIG)")
	rootCmd.AddCommand(serveCmd, migrateCmd, pruneCmd, backupCmd)
}

// loadConfig reads and validates the configuration and installs the logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logging.Setup(cfg.Log.Level, cfg.Log.Format), nil
}
