package output

import (
	"context"

	"github.com/jobrunner/tilemerge/internal/domain"
)

// RunLedger defines the secondary port for recording run history.
type RunLedger interface {
	// StartRun records the start of a run.
	StartRun(ctx context.Context, run *domain.Run) error

	// RecordDownloads records the outcome of every download task of a run.
	RecordDownloads(ctx context.Context, runID string, results []domain.DownloadResult) error

	// RecordMosaic records a produced mosaic.
	RecordMosaic(ctx context.Context, runID string, mosaic domain.Mosaic) error

	// FinishRun records the final counters of a run.
	FinishRun(ctx context.Context, run *domain.Run) error
}

// NoOpLedger is a no-op implementation of RunLedger.
type NoOpLedger struct{}

// StartRun implements RunLedger.
func (n *NoOpLedger) StartRun(_ context.Context, _ *domain.Run) error { return nil }

// RecordDownloads implements RunLedger.
func (n *NoOpLedger) RecordDownloads(_ context.Context, _ string, _ []domain.DownloadResult) error {
	return nil
}

// RecordMosaic implements RunLedger.
func (n *NoOpLedger) RecordMosaic(_ context.Context, _ string, _ domain.Mosaic) error { return nil }

// FinishRun implements RunLedger.
func (n *NoOpLedger) FinishRun(_ context.Context, _ *domain.Run) error { return nil }
