// Package main provides the entry point for the tilemerge mosaic job.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jobrunner/tilemerge/internal/adapters/ledger"
	"github.com/jobrunner/tilemerge/internal/app"
	"github.com/jobrunner/tilemerge/internal/config"
	"github.com/jobrunner/tilemerge/internal/domain"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var (
	cfgFile string
	jobFile string
	zones   []string
	years   []string
	indexes []string
	months  []string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "tilemerge",
	Short: "tilemerge - monthly index mosaics from zoned raster tiles",
	Long: `tilemerge downloads per-zone index rasters from an object store and merges
them into one mosaic per year, index and month.

Tiles are listed under <zone>/<year>/<Month>/composites/, downloaded in
parallel into <root>/<year>/<INDEX>/<MM>/ and merged into
<INDEX>_<year>_<MM>.tif. Where tiles overlap, the tile whose file name sorts
last wins.

Storage backends: MinIO, AWS S3, Azure Blob, HTTP, local directory.`,
	Example: `  tilemerge --zones 32Q,33Q --years 2021,2021 --indexes NDVI --months March,April
  tilemerge --job job.yaml --root /data/mosaics`,
	SilenceUsage: true,
	RunE:         runJob,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("tilemerge %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs from the run ledger",
	RunE:  listRuns,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")
	rootCmd.PersistentFlags().String("ledger", "", "run ledger database (SQLite)")

	// Job flags
	rootCmd.Flags().StringSliceVar(&zones, "zones", nil, "zone identifiers, e.g. 32Q,33Q")
	rootCmd.Flags().StringSliceVar(&years, "years", nil, "start and end year, e.g. 2020,2021")
	rootCmd.Flags().StringSliceVar(&indexes, "indexes", nil, "index names, e.g. NDVI,EVI")
	rootCmd.Flags().StringSliceVar(&months, "months", nil, "start and end month name, e.g. November,February")
	rootCmd.Flags().StringVar(&jobFile, "job", "", "YAML job file (replaces the job flags)")

	// Output and storage flags
	rootCmd.Flags().String("root", "", "download and mosaic root (default: fresh temporary directory)")
	rootCmd.Flags().String("storage-type", "minio", "storage type (minio, s3, azure, http, local)")
	rootCmd.Flags().String("storage-path", "./data", "local storage path")
	rootCmd.Flags().Int("workers", 8, "concurrent downloads")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("ledger.path", rootCmd.PersistentFlags().Lookup("ledger"))
	_ = viper.BindPFlag("output.root", rootCmd.Flags().Lookup("root"))
	_ = viper.BindPFlag("storage.type", rootCmd.Flags().Lookup("storage-type"))
	_ = viper.BindPFlag("storage.local_path", rootCmd.Flags().Lookup("storage-path"))
	_ = viper.BindPFlag("download.workers", rootCmd.Flags().Lookup("workers"))

	runsCmd.Flags().Int("limit", 20, "number of runs to list")
	runsCmd.Flags().String("failed", "", "list the failed downloads of a run ID")

	rootCmd.AddCommand(versionCmd, runsCmd)
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

func runJob(cmd *cobra.Command, _ []string) error {
	job, err := loadJob()
	if err != nil {
		return err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	logger.Info("starting tilemerge",
		"version", version,
		"storage_type", cfg.Storage.Type,
		"workers", cfg.Download.Workers,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// Initialize application
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if err := application.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	run, err := application.Run(ctx, job)
	if run != nil {
		printMosaics(cmd.OutOrStdout(), run)
	}
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

// loadJob builds the job from the job file or the job flags.
func loadJob() (domain.Job, error) {
	if jobFile != "" {
		return config.LoadJob(jobFile)
	}
	return domain.ParseJob(zones, years, indexes, months)
}

func printMosaics(w io.Writer, run *domain.Run) {
	for _, path := range run.MosaicPaths() {
		fmt.Fprintln(w, path)
	}
}

func listRuns(cmd *cobra.Command, _ []string) error {
	// Listing runs needs no storage backend.
	cfg, err := config.Read(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateLedger(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	l, err := ledger.Open(ctx, cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	out := cmd.OutOrStdout()
	if runID, _ := cmd.Flags().GetString("failed"); runID != "" {
		failed, err := l.FailedDownloads(ctx, runID)
		if err != nil {
			return err
		}
		return writeFailed(out, failed)
	}

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := l.Runs(ctx, limit)
	if err != nil {
		return err
	}
	return writeRuns(out, runs)
}

func writeRuns(w io.Writer, runs []ledger.RunRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tZONES\tYEARS\tINDEXES\tMONTHS\tDISCOVERED\tDOWNLOADED\tFAILED\tMOSAICS")
	for _, r := range runs {
		duration := "running"
		if !r.FinishedAt.IsZero() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%d-%d\t%v\t%s-%s\t%d\t%d\t%d\t%d\n",
			r.ID,
			r.StartedAt.Format(time.RFC3339),
			duration,
			r.Zones,
			r.StartYear, r.EndYear,
			r.Indexes,
			r.StartMonth, r.EndMonth,
			r.Discovered, r.Downloaded, r.Failed, r.Mosaics,
		)
	}
	return tw.Flush()
}

func writeFailed(w io.Writer, failed []ledger.FailedDownload) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tATTEMPTS\tERROR")
	for _, f := range failed {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", f.Key, f.Attempts, f.Error)
	}
	return tw.Flush()
}

func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(time.Now().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

// exitCode maps an error to the process exit status. Invalid input and
// configuration exit with 2, interrupted runs with 130.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, domain.ErrInvalidInput):
		return 2
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}
