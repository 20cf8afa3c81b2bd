package application

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jobrunner/tilemerge/internal/domain"
	"github.com/jobrunner/tilemerge/internal/ports/output"
)

// partSuffix marks files that are still being fetched.
const partSuffix = ".part"

// DownloadConfig holds configuration for the download coordinator.
type DownloadConfig struct {
	Workers         int           // Maximum concurrent fetches
	RetryAttempts   int           // Attempts per object, including the first
	RetryBackoff    time.Duration // Initial backoff between attempts
	RetryMaxBackoff time.Duration // Backoff cap
}

// DownloadCoordinator fetches download tasks in a bounded worker pool.
type DownloadCoordinator struct {
	storage output.ObjectStorage
	metrics output.MetricsCollector
	logger  *slog.Logger
	cfg     DownloadConfig
}

// NewDownloadCoordinator creates a new download coordinator.
func NewDownloadCoordinator(
	storage output.ObjectStorage,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	cfg DownloadConfig,
) *DownloadCoordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.RetryMaxBackoff < cfg.RetryBackoff {
		cfg.RetryMaxBackoff = cfg.RetryBackoff
	}

	return &DownloadCoordinator{
		storage: storage,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
	}
}

// DownloadAll fetches every task and returns one result per task in
// completion order. A task whose local file already exists is not fetched.
// Tasks targeting a local path already claimed by an earlier task are not
// fetched either and are reported as duplicates.
//
// Failures are logged and reported in the result; they never stop sibling
// tasks. A canceled context prevents tasks that have not started yet from
// fetching.
func (c *DownloadCoordinator) DownloadAll(ctx context.Context, tasks []domain.DownloadTask) []domain.DownloadResult {
	var (
		mu      sync.Mutex
		results = make([]domain.DownloadResult, 0, len(tasks))
	)

	claimed := make(map[string]string, len(tasks))
	pending := make([]domain.DownloadTask, 0, len(tasks))
	for _, task := range tasks {
		path := task.LocalPath()
		if key, ok := claimed[path]; ok {
			c.logger.Warn("duplicate download target, skipping",
				"key", task.Object.Key,
				"path", path,
				"claimed_by", key,
			)
			c.metrics.IncDownloads(string(domain.OutcomeDuplicate))
			results = append(results, domain.DownloadResult{
				Task:    task,
				Path:    path,
				Outcome: domain.OutcomeDuplicate,
			})
			continue
		}
		claimed[path] = task.Object.Key
		pending = append(pending, task)
	}

	c.logger.Info("starting downloads", "tasks", len(pending), "workers", c.cfg.Workers)

	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)

	for _, task := range pending {
		g.Go(func() error {
			res := c.download(ctx, task)
			c.metrics.IncDownloads(string(res.Outcome))

			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	fetched, skipped, failed := 0, 0, 0
	for _, res := range results {
		switch res.Outcome {
		case domain.OutcomeFetched:
			fetched++
		case domain.OutcomeSkipped:
			skipped++
		case domain.OutcomeFailed:
			failed++
		}
	}
	c.logger.Info("downloads completed",
		"fetched", fetched,
		"skipped", skipped,
		"failed", failed,
		"duplicates", len(tasks)-len(pending),
	)

	return results
}

// DownloadedPaths returns the local paths of the results that left a tile
// on disk, preserving result order.
func DownloadedPaths(results []domain.DownloadResult) []string {
	paths := make([]string, 0, len(results))
	for _, res := range results {
		if res.Outcome.Downloaded() {
			paths = append(paths, res.Path)
		}
	}
	return paths
}

// download runs a single task.
func (c *DownloadCoordinator) download(ctx context.Context, task domain.DownloadTask) domain.DownloadResult {
	start := time.Now()
	path := task.LocalPath()
	res := domain.DownloadResult{Task: task, Path: path}

	if _, err := os.Stat(path); err == nil {
		c.logger.Debug("tile already downloaded", "key", task.Object.Key, "path", path)
		res.Outcome = domain.OutcomeSkipped
		return res
	}

	tmp := path + partSuffix
	var err error
	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 1 {
			c.metrics.IncDownloadRetries()
			if berr := c.backoff(ctx, attempt-1); berr != nil {
				err = berr
				break
			}
		}
		if cerr := ctx.Err(); cerr != nil {
			err = cerr
			break
		}

		res.Attempts = attempt
		opStart := time.Now()
		err = c.storage.Download(ctx, task.Object.Key, tmp)
		c.metrics.ObserveStorageDuration("download", time.Since(opStart))
		c.metrics.IncStorageOperations("download", err == nil)
		if err == nil || !isRetryable(err) {
			break
		}
		c.logger.Debug("download attempt failed", "key", task.Object.Key, "attempt", attempt, "error", err)
	}

	if err == nil {
		err = os.Rename(tmp, path)
	}
	res.Duration = time.Since(start)

	if err != nil {
		_ = os.Remove(tmp)
		res.Outcome = domain.OutcomeFailed
		res.Err = &domain.DownloadError{
			Key:      task.Object.Key,
			Path:     path,
			Attempts: res.Attempts,
			Err:      err,
		}
		c.logger.Warn("download failed", "error", res.Err)
		return res
	}

	res.Outcome = domain.OutcomeFetched
	c.logger.Debug("tile downloaded", "key", task.Object.Key, "path", path, "duration", res.Duration)
	return res
}

// backoff waits for an exponentially increasing duration with jitter.
func (c *DownloadCoordinator) backoff(ctx context.Context, retry int) error {
	backoff := c.cfg.RetryBackoff * time.Duration(1<<uint(retry-1))
	if backoff > c.cfg.RetryMaxBackoff || backoff <= 0 {
		backoff = c.cfg.RetryMaxBackoff
	}

	// Add jitter: 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	timer := time.NewTimer(jitter)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isRetryable reports whether a fetch error may succeed on another attempt.
func isRetryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidInput):
		return false
	default:
		return true
	}
}
