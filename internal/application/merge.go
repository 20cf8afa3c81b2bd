package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jobrunner/tilemerge/internal/domain"
	"github.com/jobrunner/tilemerge/internal/ports/output"
)

// Merger composites the tiles of a group directory into one mosaic.
type Merger struct {
	codec   output.RasterCodec
	method  domain.MergeMethod
	metrics output.MetricsCollector
	logger  *slog.Logger
}

// NewMerger creates a new merger.
func NewMerger(
	codec output.RasterCodec,
	method domain.MergeMethod,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) *Merger {
	return &Merger{
		codec:   codec,
		method:  method,
		metrics: metrics,
		logger:  logger,
	}
}

// ListTiles returns the raster tiles directly inside dir, sorted by file
// name. The file at exclude, typically the mosaic of a previous run, is
// never returned.
func ListTiles(dir, exclude string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	excludeName := ""
	if exclude != "" && filepath.Clean(filepath.Dir(exclude)) == filepath.Clean(dir) {
		excludeName = filepath.Base(exclude)
	}

	// os.ReadDir returns entries sorted by file name.
	tiles := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		// Hidden files are temporaries of interrupted writes.
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !strings.HasSuffix(name, domain.TileExtension) || name == excludeName {
			continue
		}
		tiles = append(tiles, filepath.Join(dir, name))
	}
	return tiles, nil
}

// MergeGroup merges the group directory under root into the group's mosaic
// path. It returns nil without error when the group has no tiles.
func (m *Merger) MergeGroup(ctx context.Context, root string, group domain.MosaicGroup) (*domain.Mosaic, error) {
	outPath := group.OutputPath(root)

	n, err := m.MergeDir(ctx, group.Dir(root), outPath)
	if err != nil || n == 0 {
		return nil, err
	}
	return &domain.Mosaic{Group: group, Path: outPath, Tiles: n}, nil
}

// MergeDir merges every tile in dir into outPath and returns the number of
// composited tiles. An empty dir yields zero without error.
func (m *Merger) MergeDir(ctx context.Context, dir, outPath string) (int, error) {
	tiles, err := ListTiles(dir, outPath)
	if err != nil {
		return 0, &domain.MergeError{Dir: dir, Err: err}
	}
	if len(tiles) == 0 {
		m.logger.Info("no tiles to merge", "dir", dir)
		m.metrics.IncMosaics("empty")
		return 0, nil
	}

	start := time.Now()
	if err := m.mergeTiles(ctx, tiles, outPath); err != nil {
		m.metrics.IncMosaics("failed")
		return 0, &domain.MergeError{Dir: dir, Err: err}
	}
	m.metrics.ObserveMergeDuration(time.Since(start))
	m.metrics.IncMosaics("written")

	m.logger.Info("mosaic written", "path", outPath, "tiles", len(tiles), "duration", time.Since(start))
	return len(tiles), nil
}

// mergeTiles opens every tile in order, composites them and writes the
// result. All opened tiles are closed before returning.
func (m *Merger) mergeTiles(ctx context.Context, tiles []string, outPath string) error {
	sources := make([]output.RasterSource, 0, len(tiles))
	defer func() {
		for _, src := range sources {
			if cerr := src.Close(); cerr != nil {
				m.logger.Warn("failed to close tile", "path", src.Path(), "error", cerr)
			}
		}
	}()

	for _, path := range tiles {
		if err := ctx.Err(); err != nil {
			return err
		}
		src, err := m.codec.Open(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		sources = append(sources, src)
	}

	rasters := make([]*domain.Raster, 0, len(sources))
	for _, src := range sources {
		r, err := src.Read()
		if err != nil {
			return fmt.Errorf("reading %s: %w", src.Path(), err)
		}
		rasters = append(rasters, r)
	}

	if codes := domain.DistinctEPSG(rasters); len(codes) > 1 {
		m.logger.Warn("tiles use different coordinate reference systems",
			"dir", filepath.Dir(outPath),
			"epsg", codes,
		)
	}

	merged, err := domain.Composite(rasters, m.method)
	if err != nil {
		return err
	}

	m.logger.Debug("tiles composited",
		"tiles", len(rasters),
		"width", merged.Width,
		"height", merged.Height,
		"bands", merged.Bands,
		"method", m.method.String(),
	)

	if err := m.codec.Write(outPath, merged); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}
	return nil
}
