package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/salesqc/internal/config"
	"github.com/JonMunkholm/salesqc/internal/logging"
)

// cfg is loaded once by the root command before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "salesqc",
	Short: "Sales record quality-control pipeline",
	Long: `salesqc ingests sales CSV exports, validates every record through
schema, business-rule, data-quality and duplicate controls, routes failures
to exception records and publishes clean records with analytics summaries.

Available commands:
  run       - Process one CSV file
  serve     - Start the HTTP API
  migrate   - Manage the database schema
  generate  - Write a synthetic sales CSV

Examples:
  salesqc generate --rows 1000 --out sales.csv
  salesqc run --file sales.csv --dry-run
  salesqc migrate up
  salesqc serve`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Overload lets a local .env win over the shell environment.
		if err := godotenv.Overload(); err != nil {
			slog.Debug("no .env file found, using environment variables")
		}

		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		cfg = loaded
		logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
		slog.Debug("configuration loaded", "config", cfg.String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(generateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
