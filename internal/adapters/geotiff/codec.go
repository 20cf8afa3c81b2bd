package geotiff

import (
	"github.com/jobrunner/tilemerge/internal/domain"
	"github.com/jobrunner/tilemerge/internal/ports/output"
)

// Codec implements output.RasterCodec for GeoTIFF files.
type Codec struct {
	opts Options
}

// NewCodec creates a GeoTIFF codec that writes with opts.
func NewCodec(opts Options) *Codec {
	return &Codec{opts: opts}
}

// Open implements output.RasterCodec.
func (c *Codec) Open(path string) (output.RasterSource, error) {
	src, err := Open(path)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// Write implements output.RasterCodec.
func (c *Codec) Write(path string, r *domain.Raster) error {
	return Write(path, r, c.opts)
}

var (
	_ output.RasterCodec  = (*Codec)(nil)
	_ output.RasterSource = (*Source)(nil)
)
