package domain

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// TileExtension is the file extension of raster tiles and mosaics.
const TileExtension = ".tif"

// indexesSegment is the key path segment under which index rasters live.
const indexesSegment = "indexes"

// RemoteObject identifies a stored raster tile. Keys look like
// <zone>/<year>/<month>/composites/.../indexes/<index>.tif.
type RemoteObject struct {
	Key          string // Object key/path
	Size         int64  // Size in bytes
	LastModified int64  // Unix timestamp
	ETag         string // Content hash
}

// CompositesPrefix returns the listing prefix for one zone, year and month.
func CompositesPrefix(zone string, year int, month string) string {
	return fmt.Sprintf("%s/%d/%s/composites/", zone, year, month)
}

// IndexName returns the upper-cased index name of a tile key, and false if
// the key is not an index raster.
func IndexName(key string) (string, bool) {
	if !strings.HasSuffix(key, TileExtension) {
		return "", false
	}

	segments := strings.Split(key, "/")
	found := false
	for _, s := range segments[:len(segments)-1] {
		if s == indexesSegment {
			found = true
			break
		}
	}
	if !found {
		return "", false
	}

	stem, _, _ := strings.Cut(segments[len(segments)-1], ".")
	if stem == "" {
		return "", false
	}
	return strings.ToUpper(stem), true
}

// MosaicGroup identifies one merge unit. The zone set is implicit: every zone
// of the job contributes tiles to the same group directory.
type MosaicGroup struct {
	Year        int
	Index       string // Upper-cased index name
	MonthNumber string // Two-digit month number
}

// Dir returns the local directory holding the group's tiles.
func (g MosaicGroup) Dir(root string) string {
	return filepath.Join(root, fmt.Sprintf("%d", g.Year), g.Index, g.MonthNumber)
}

// OutputName returns the file name of the group's mosaic.
func (g MosaicGroup) OutputName() string {
	return fmt.Sprintf("%s_%d_%s%s", g.Index, g.Year, g.MonthNumber, TileExtension)
}

// OutputPath returns the path of the group's mosaic.
func (g MosaicGroup) OutputPath(root string) string {
	return filepath.Join(g.Dir(root), g.OutputName())
}

// String returns a compact representation for logging.
func (g MosaicGroup) String() string {
	return fmt.Sprintf("%d/%s/%s", g.Year, g.Index, g.MonthNumber)
}

// DownloadTask pairs a remote object with the local group directory it is
// downloaded into.
type DownloadTask struct {
	Object RemoteObject
	Group  MosaicGroup
	Dir    string
}

// LocalName returns the local file name: the key's top-level segment
// (the zone) prefixed to the base name, so that tiles from different zones
// with identical base names do not collide.
func (t DownloadTask) LocalName() string {
	first, _, _ := strings.Cut(t.Object.Key, "/")
	return first + "_" + path.Base(t.Object.Key)
}

// LocalPath returns the full local target path.
func (t DownloadTask) LocalPath() string {
	return filepath.Join(t.Dir, t.LocalName())
}

// Mosaic is the merged output raster of one group.
type Mosaic struct {
	Group MosaicGroup
	Path  string
	Tiles int // Number of composited tiles
}
