package output

import "github.com/jobrunner/tilemerge/internal/domain"

// RasterSource is an opened raster file. Callers must Close it.
type RasterSource interface {
	// Path returns the file the source was opened from.
	Path() string

	// Profile returns the geospatial profile read from the file header.
	Profile() domain.Profile

	// Read decodes all bands.
	Read() (*domain.Raster, error)

	// Close releases the underlying file handle.
	Close() error
}

// RasterCodec defines the secondary port for raster file I/O.
type RasterCodec interface {
	// Open opens a raster file and reads its profile.
	Open(path string) (RasterSource, error)

	// Write writes a raster to path, replacing any existing file.
	Write(path string, r *domain.Raster) error
}
