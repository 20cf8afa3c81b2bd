package domain

import "time"

// DownloadOutcome describes how a download task ended.
type DownloadOutcome string

// Download outcomes.
const (
	OutcomeFetched   DownloadOutcome = "fetched"   // Fetched from the store
	OutcomeSkipped   DownloadOutcome = "skipped"   // Local file already present
	OutcomeDuplicate DownloadOutcome = "duplicate" // Same local path as an earlier task in the batch
	OutcomeFailed    DownloadOutcome = "failed"    // Fetch failed after all attempts
)

// Downloaded reports whether the outcome leaves the tile on disk.
func (o DownloadOutcome) Downloaded() bool {
	return o == OutcomeFetched || o == OutcomeSkipped
}

// DownloadResult records the outcome of one download task.
type DownloadResult struct {
	Task     DownloadTask
	Path     string
	Outcome  DownloadOutcome
	Attempts int
	Duration time.Duration
	Err      error
}

// Run summarises one execution of a job.
type Run struct {
	ID         string
	Job        Job
	StartedAt  time.Time
	FinishedAt time.Time
	Discovered int      // Download tasks discovered
	Downloaded int      // Tiles on disk after the download phase
	Failed     int      // Failed download tasks
	Mosaics    []Mosaic // Produced mosaics
}

// MosaicPaths returns the paths of the produced mosaics in production order.
func (r *Run) MosaicPaths() []string {
	paths := make([]string, len(r.Mosaics))
	for i, m := range r.Mosaics {
		paths[i] = m.Path
	}
	return paths
}

// Duration returns the wall-clock duration of a finished run.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
