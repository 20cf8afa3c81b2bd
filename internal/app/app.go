// Package app provides application initialization and wiring.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobrunner/tilemerge/internal/adapters/geotiff"
	"github.com/jobrunner/tilemerge/internal/adapters/ledger"
	"github.com/jobrunner/tilemerge/internal/adapters/metrics"
	"github.com/jobrunner/tilemerge/internal/adapters/storage"
	"github.com/jobrunner/tilemerge/internal/application"
	"github.com/jobrunner/tilemerge/internal/config"
	"github.com/jobrunner/tilemerge/internal/domain"
	"github.com/jobrunner/tilemerge/internal/ports/output"
)

// exportTimeout bounds the metrics export after a run.
const exportTimeout = 10 * time.Second

// App holds all application components.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Root      string
	Storage   output.ObjectStorage
	Codec     *geotiff.Codec
	Metrics   *metrics.Collector
	Ledger    *ledger.SQLiteLedger
	Discovery *application.DiscoveryService
	Download  *application.DownloadCoordinator
	Merger    *application.Merger
	Pipeline  *application.PipelineService
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	root, err := application.AbsRoot(cfg.Output.Root)
	if err != nil {
		return nil, fmt.Errorf("preparing download root: %w", err)
	}
	app.Root = root

	// Initialize metrics
	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled() {
		app.Metrics = metrics.NewCollector(cfg.Metrics.Namespace)
		metricsCollector = app.Metrics
	}

	// Initialize run ledger
	var runLedger output.RunLedger = &output.NoOpLedger{}
	if cfg.Ledger.Path != "" {
		l, err := ledger.Open(ctx, cfg.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("opening run ledger: %w", err)
		}
		app.Ledger = l
		runLedger = l
	}

	// Initialize storage adapter
	store, err := initStorage(ctx, cfg.Storage)
	if err != nil {
		_ = app.close()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	app.Storage = store

	// Initialize raster codec
	compression, err := geotiff.ParseCompression(cfg.Output.Compression)
	if err != nil {
		_ = app.close()
		return nil, err
	}
	app.Codec = geotiff.NewCodec(geotiff.Options{Compression: compression})

	method, err := domain.ParseMergeMethod(cfg.Output.MergeMethod)
	if err != nil {
		_ = app.close()
		return nil, err
	}

	app.Discovery = application.NewDiscoveryService(app.Storage, metricsCollector, logger, root)
	app.Download = application.NewDownloadCoordinator(
		app.Storage,
		metricsCollector,
		logger,
		application.DownloadConfig{
			Workers:         cfg.Download.Workers,
			RetryAttempts:   cfg.Download.RetryAttempts,
			RetryBackoff:    cfg.Download.RetryBackoff,
			RetryMaxBackoff: cfg.Download.RetryMaxBackoff,
		},
	)
	app.Merger = application.NewMerger(app.Codec, method, metricsCollector, logger)
	app.Pipeline = application.NewPipelineService(
		app.Discovery,
		app.Download,
		app.Merger,
		runLedger,
		logger,
		root,
	)

	return app, nil
}

// Run executes a job and exports the run metrics.
func (a *App) Run(ctx context.Context, job domain.Job) (*domain.Run, error) {
	run, err := a.Pipeline.Run(ctx, job)
	if run != nil {
		a.exportMetrics(run, err == nil && run.Failed == 0)
	}
	return run, err
}

// exportMetrics writes the textfile and pushes to the gateway, when configured.
func (a *App) exportMetrics(run *domain.Run, success bool) {
	if a.Metrics == nil {
		return
	}
	a.Metrics.RecordRun(run.Duration(), success, run.FinishedAt)

	if path := a.Config.Metrics.Textfile; path != "" {
		if err := a.Metrics.WriteTextfile(path); err != nil {
			a.Logger.Warn("failed to write metrics textfile", "path", path, "error", err)
		}
	}

	if url := a.Config.Metrics.PushURL; url != "" {
		ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
		defer cancel()
		if err := a.Metrics.Push(ctx, url, a.Config.Metrics.PushJob); err != nil {
			a.Logger.Warn("failed to push metrics", "url", url, "error", err)
		}
	}
}

// Shutdown releases all components.
func (a *App) Shutdown(_ context.Context) error {
	a.Logger.Debug("shutting down application")
	return a.close()
}

func (a *App) close() error {
	if a.Ledger == nil {
		return nil
	}
	if err := a.Ledger.Close(); err != nil {
		return fmt.Errorf("closing run ledger: %w", err)
	}
	a.Ledger = nil
	return nil
}

// initStorage initializes the appropriate storage adapter.
func initStorage(ctx context.Context, cfg config.StorageConfig) (output.ObjectStorage, error) {
	switch output.StorageType(cfg.Type) {
	case output.StorageTypeMinIO:
		return storage.NewMinIOStorage(storage.MinIOConfig{
			Endpoint:        cfg.MinIO.Endpoint,
			Bucket:          cfg.MinIO.Bucket,
			Prefix:          cfg.MinIO.Prefix,
			Region:          cfg.MinIO.Region,
			AccessKeyID:     cfg.MinIO.AccessKey,
			SecretAccessKey: cfg.MinIO.SecretKey,
			UseSSL:          cfg.MinIO.UseSSL,
		})

	case output.StorageTypeLocal:
		return storage.NewLocalStorage(cfg.LocalPath), nil

	case output.StorageTypeS3:
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})

	case output.StorageTypeAzure:
		return storage.NewAzureStorage(storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
		})

	case output.StorageTypeHTTP:
		return storage.NewHTTPStorage(storage.HTTPConfig{
			BaseURL:   cfg.HTTP.BaseURL,
			IndexFile: cfg.HTTP.IndexFile,
			Timeout:   cfg.HTTP.Timeout,
			Username:  cfg.HTTP.Username,
			Password:  cfg.HTTP.Password,
		}), nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
