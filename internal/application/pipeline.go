package application

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jobrunner/tilemerge/internal/domain"
	"github.com/jobrunner/tilemerge/internal/ports/input"
	"github.com/jobrunner/tilemerge/internal/ports/output"
)

var _ input.Pipeline = (*PipelineService)(nil)

// PipelineService sequences discovery, download and merge for a job.
type PipelineService struct {
	discovery  *DiscoveryService
	downloader *DownloadCoordinator
	merger     *Merger
	ledger     output.RunLedger
	logger     *slog.Logger
	root       string
}

// NewPipelineService creates a new pipeline service. root must be the same
// download root the discovery service was created with.
func NewPipelineService(
	discovery *DiscoveryService,
	downloader *DownloadCoordinator,
	merger *Merger,
	ledger output.RunLedger,
	logger *slog.Logger,
	root string,
) *PipelineService {
	return &PipelineService{
		discovery:  discovery,
		downloader: downloader,
		merger:     merger,
		ledger:     ledger,
		logger:     logger,
		root:       root,
	}
}

// Run executes a job: discovery over every zone, year and month, a single
// download batch for all discovered tasks, then one merge per
// (year, index, month) group whose directory exists.
//
// Group membership is whatever the group directory holds at merge time, so a
// group whose downloads all failed produces no mosaic and no error. Only an
// invalid job or a canceled context makes Run return an error; the returned
// run is non-nil in the latter case and lists the mosaics produced so far.
func (s *PipelineService) Run(ctx context.Context, job domain.Job) (*domain.Run, error) {
	job.Normalize()
	if err := job.Validate(); err != nil {
		return nil, err
	}

	run := &domain.Run{
		ID:        uuid.NewString(),
		Job:       job,
		StartedAt: time.Now(),
	}
	logger := s.logger.With("run_id", run.ID)

	logger.Info("starting run",
		"zones", job.Zones,
		"years", []int{job.StartYear, job.EndYear},
		"indexes", job.Indexes,
		"months", []string{job.StartMonth, job.EndMonth},
		"root", s.root,
	)
	if err := s.ledger.StartRun(ctx, run); err != nil {
		logger.Warn("failed to record run start", "error", err)
	}

	tasks, err := s.discovery.Discover(ctx, job)
	if err != nil {
		return nil, err
	}
	run.Discovered = len(tasks)

	results := s.downloader.DownloadAll(ctx, tasks)
	onDisk := DownloadedPaths(results)
	run.Downloaded = len(onDisk)
	for _, res := range results {
		if res.Outcome == domain.OutcomeFailed {
			run.Failed++
		}
	}
	logger.Debug("tiles on disk", "count", len(onDisk), "paths", onDisk)
	if err := s.ledger.RecordDownloads(ctx, run.ID, results); err != nil {
		logger.Warn("failed to record downloads", "error", err)
	}

	if err := s.mergeAll(ctx, logger, run); err != nil {
		s.finish(logger, run)
		return run, err
	}

	s.finish(logger, run)
	return run, nil
}

// mergeAll merges every group of the job's cross-product.
func (s *PipelineService) mergeAll(ctx context.Context, logger *slog.Logger, run *domain.Run) error {
	job := run.Job

	for _, year := range job.Years() {
		months, err := job.Months(year)
		if err != nil {
			return err
		}

		for _, index := range job.Indexes {
			for _, month := range months {
				if err := ctx.Err(); err != nil {
					return err
				}

				monthNumber, err := domain.MonthNumber(month)
				if err != nil {
					return err
				}
				group := domain.MosaicGroup{Year: year, Index: index, MonthNumber: monthNumber}

				if info, err := os.Stat(group.Dir(s.root)); err != nil || !info.IsDir() {
					logger.Debug("group directory absent", "group", group.String())
					continue
				}

				mosaic, err := s.merger.MergeGroup(ctx, s.root, group)
				if err != nil {
					logger.Error("failed to merge group", "group", group.String(), "error", err)
					continue
				}
				if mosaic == nil {
					continue
				}

				run.Mosaics = append(run.Mosaics, *mosaic)
				if err := s.ledger.RecordMosaic(ctx, run.ID, *mosaic); err != nil {
					logger.Warn("failed to record mosaic", "path", mosaic.Path, "error", err)
				}
			}
		}
	}

	return nil
}

// finish stamps the run and records its final counters.
func (s *PipelineService) finish(logger *slog.Logger, run *domain.Run) {
	run.FinishedAt = time.Now()

	// The ledger is written even when the run context was canceled.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.ledger.FinishRun(ctx, run); err != nil {
		logger.Warn("failed to record run completion", "error", err)
	}

	logger.Info("run completed",
		"discovered", run.Discovered,
		"downloaded", run.Downloaded,
		"failed", run.Failed,
		"mosaics", len(run.Mosaics),
		"duration", run.Duration(),
	)
}

// AbsRoot resolves the download root to an absolute path and creates it.
// An empty root creates a fresh temporary directory.
func AbsRoot(root string) (string, error) {
	if root == "" {
		return os.MkdirTemp("", "tilemerge-")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return "", err
	}
	return abs, nil
}
