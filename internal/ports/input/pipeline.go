// Package input defines the primary/driving ports of the application.
package input

import (
	"context"

	"github.com/jobrunner/tilemerge/internal/domain"
)

// Pipeline defines the primary port for running a mosaic job.
type Pipeline interface {
	// Run discovers, downloads and merges the tiles of a job and returns the
	// run summary, including the paths of the produced mosaics.
	Run(ctx context.Context, job domain.Job) (*domain.Run, error)
}
