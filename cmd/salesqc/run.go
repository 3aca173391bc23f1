package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/salesqc/internal/core"
	"github.com/JonMunkholm/salesqc/internal/logging"
	"github.com/JonMunkholm/salesqc/internal/store/memory"
)

var (
	runFile          string
	runDryRun        bool
	runExceptionsDir string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process one sales CSV file",
	Long: `Run the pipeline over a CSV file and print a data quality report.

Results are written to PostgreSQL unless --dry-run is given, in which case
they are kept in memory and discarded. With --exceptions-dir the run's
exception records are also exported to a CSV file for review.

Examples:
  salesqc run --file sales.csv
  salesqc run --file sales.csv --dry-run --exceptions-dir ./exceptions`,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "CSV file to process (required)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Keep results in memory instead of PostgreSQL")
	runCmd.Flags().StringVar(&runExceptionsDir, "exceptions-dir", "", "Directory to export exception records to")
	_ = runCmd.MarkFlagRequired("file")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store core.Persistence
	if runDryRun {
		store = memory.New()
	} else {
		pg, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer pg.Close()
		store = pg
	}

	pipeline, err := newPipeline(cfg, store, prometheus.NewRegistry())
	if err != nil {
		return err
	}

	f, err := os.Open(runFile)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	batch, err := core.ReadCSV(f, filepath.Base(runFile), pipeline.Schema())
	if err != nil {
		return err
	}

	res, runErr := pipeline.Run(ctx, batch)
	if res != nil {
		logging.WithRun(ctx, res.RunID, res.Source).Info("run finished",
			"status", res.Status,
			"clean", res.Clean,
			"exceptions", res.Exceptions,
		)
		printReport(cmd.OutOrStdout(), res)
	}
	if runErr != nil {
		msg := core.MapError(runErr)
		return fmt.Errorf("%s [%s]: %w", msg.Message, msg.Code, runErr)
	}

	if runExceptionsDir != "" && len(res.ExceptionRecords) > 0 {
		path, err := exportExceptions(runExceptionsDir, pipeline.Schema(), res)
		if err != nil {
			return err
		}
		logging.WithFields(ctx, "run_id", res.RunID, "dir", runExceptionsDir).
			Info("exceptions exported", "path", path, "rows", len(res.ExceptionRecords))
		fmt.Fprintf(cmd.OutOrStdout(), "\nExceptions exported to %s\n", path)
	}
	return nil
}

// printReport writes the data quality report for a run.
func printReport(w io.Writer, res *core.RunResult) {
	fmt.Fprintln(w, "DATA QUALITY REPORT")
	fmt.Fprintln(w, "===================")
	fmt.Fprintf(w, "Run:            %s\n", res.RunID)
	fmt.Fprintf(w, "Source:         %s\n", res.Source)
	fmt.Fprintf(w, "Status:         %s\n", res.Status)
	if res.FailedStage != "" {
		fmt.Fprintf(w, "Failed stage:   %s\n", res.FailedStage)
	}
	fmt.Fprintf(w, "Duration:       %s\n", res.EndedAt.Sub(res.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "Records:        %d\n", res.Ingested)
	fmt.Fprintf(w, "Clean:          %d\n", res.Clean)
	fmt.Fprintf(w, "Exceptions:     %d\n", res.Exceptions)
	fmt.Fprintf(w, "Data quality:   %.1f%%\n", res.QualityPercentage())

	if len(res.ByCategory) > 0 {
		fmt.Fprintln(w, "\nExceptions by category:")
		cats := make([]string, 0, len(res.ByCategory))
		for c := range res.ByCategory {
			cats = append(cats, string(c))
		}
		sort.Strings(cats)
		for _, c := range cats {
			fmt.Fprintf(w, "  %-28s %d\n", c, res.ByCategory[core.Category(c)])
		}
	}

	v := res.Validation
	fmt.Fprintf(w, "\nValidation checks: %d run, %d passed, %d failed (%.2f%%)\n",
		v.TotalChecks, v.PassedChecks, v.FailedChecks, v.FailurePercentage)

	if len(res.Summaries) > 0 {
		fmt.Fprintln(w, "\nRevenue summary:")
		for _, s := range res.Summaries {
			fmt.Fprintf(w, "  %-8s %-14s %12s  %d orders\n", s.Dimension, s.Key, s.TotalRevenue, s.TotalOrders)
		}
	}
}
