// Package application contains the application services.
package application

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jobrunner/tilemerge/internal/domain"
	"github.com/jobrunner/tilemerge/internal/ports/output"
)

// DiscoveryService enumerates the remote tiles of a job.
type DiscoveryService struct {
	storage output.ObjectStorage
	metrics output.MetricsCollector
	logger  *slog.Logger
	root    string
}

// NewDiscoveryService creates a new discovery service that targets group
// directories under root.
func NewDiscoveryService(
	storage output.ObjectStorage,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	root string,
) *DiscoveryService {
	return &DiscoveryService{
		storage: storage,
		metrics: metrics,
		logger:  logger,
		root:    root,
	}
}

// Discover lists every zone/year/month composites prefix of the job and
// returns one download task per requested index tile. The group directory of
// every task is created.
//
// A prefix that cannot be listed is logged and skipped. Only an invalid
// month range aborts discovery.
func (s *DiscoveryService) Discover(ctx context.Context, job domain.Job) ([]domain.DownloadTask, error) {
	var tasks []domain.DownloadTask

	for _, zone := range job.Zones {
		for _, year := range job.Years() {
			months, err := job.Months(year)
			if err != nil {
				return nil, err
			}

			for _, month := range months {
				if err := ctx.Err(); err != nil {
					return tasks, err
				}

				found, err := s.discoverPrefix(ctx, job, zone, year, month)
				if err != nil {
					return nil, err
				}
				tasks = append(tasks, found...)
			}
		}
	}

	s.metrics.SetTasksDiscovered(len(tasks))
	s.logger.Info("discovery completed", "tasks", len(tasks), "zones", len(job.Zones))
	return tasks, nil
}

// discoverPrefix lists one composites prefix. Listing failures are absorbed.
func (s *DiscoveryService) discoverPrefix(ctx context.Context, job domain.Job, zone string, year int, month string) ([]domain.DownloadTask, error) {
	monthNumber, err := domain.MonthNumber(month)
	if err != nil {
		return nil, err
	}

	prefix := domain.CompositesPrefix(zone, year, month)

	start := time.Now()
	objects, err := s.storage.List(ctx, prefix, true)
	s.metrics.ObserveStorageDuration("list", time.Since(start))
	s.metrics.IncStorageOperations("list", err == nil)
	if err != nil {
		s.logger.Warn("skipping prefix", "error", &domain.DiscoveryError{Prefix: prefix, Err: err})
		return nil, nil
	}

	var tasks []domain.DownloadTask
	for _, obj := range objects {
		index, ok := domain.IndexName(obj.Key)
		if !ok || !job.WantsIndex(index) {
			continue
		}

		group := domain.MosaicGroup{Year: year, Index: index, MonthNumber: monthNumber}
		dir := group.Dir(s.root)
		if err := os.MkdirAll(dir, 0750); err != nil {
			s.logger.Warn("failed to create group directory", "dir", dir, "key", obj.Key, "error", err)
			continue
		}

		tasks = append(tasks, domain.DownloadTask{
			Object: obj,
			Group:  group,
			Dir:    dir,
		})
	}

	s.logger.Debug("prefix listed", "prefix", prefix, "objects", len(objects), "tasks", len(tasks))
	return tasks, nil
}
