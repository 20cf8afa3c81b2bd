package domain

import (
	"fmt"
	"math"
	"slices"
)

// MergeMethod selects how overlapping pixels are resolved.
type MergeMethod int

// Merge methods.
const (
	// MergeLast keeps the value of the last raster that covers a pixel.
	MergeLast MergeMethod = iota
	// MergeFirst keeps the value of the first raster that covers a pixel.
	MergeFirst
)

// String returns the method name.
func (m MergeMethod) String() string {
	switch m {
	case MergeLast:
		return "last"
	case MergeFirst:
		return "first"
	default:
		return "unknown"
	}
}

// ParseMergeMethod parses a method name.
func ParseMergeMethod(s string) (MergeMethod, error) {
	switch s {
	case "", "last":
		return MergeLast, nil
	case "first":
		return MergeFirst, nil
	default:
		return MergeLast, fmt.Errorf("%w: unknown merge method %q", ErrInvalidInput, s)
	}
}

// MaxCompositeSamples bounds the size of a composite, counted in samples
// over all bands.
const MaxCompositeSamples = 1 << 28

// Composite merges rasters into a single raster covering the union of their
// extents. The output takes its profile (data type, band count, CRS, nodata
// and pixel size) from the first raster.
//
// Rasters are applied in slice order. Pixels with no source coverage hold
// the first raster's nodata value, or 0 when it has none. A source sample
// equal to that source's nodata value never overwrites the output.
func Composite(rasters []*Raster, method MergeMethod) (*Raster, error) {
	if len(rasters) == 0 {
		return nil, fmt.Errorf("%w: nothing to composite", ErrIncompatibleTiles)
	}

	first := rasters[0]
	if err := first.Validate(); err != nil {
		return nil, err
	}

	extent := first.Extent()
	for i, r := range rasters[1:] {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if r.Bands != first.Bands {
			return nil, fmt.Errorf("%w: raster %d has %d bands, first has %d",
				ErrIncompatibleTiles, i+1, r.Bands, first.Bands)
		}
		extent = extent.Union(r.Extent())
	}

	pw, ph := first.Transform.PixelWidth, first.Transform.PixelHeight
	w, h := math.Round(extent.Width()/pw), math.Round(extent.Height()/ph)
	if w*h*float64(first.Bands) > MaxCompositeSamples {
		return nil, fmt.Errorf("%w: union extent of %.0fx%.0f pixels exceeds %d samples",
			ErrIncompatibleTiles, w, h, MaxCompositeSamples)
	}
	profile := first.Profile
	profile.Width = int(w)
	profile.Height = int(h)
	profile.Transform = GeoTransform{
		OriginX:     extent.MinX,
		OriginY:     extent.MaxY,
		PixelWidth:  pw,
		PixelHeight: ph,
	}

	fill := 0.0
	if first.NoData != nil {
		fill = *first.NoData
	}
	out := NewRaster(profile, fill)

	var written []bool
	if method == MergeFirst {
		written = make([]bool, profile.Width*profile.Height*profile.Bands)
	}

	for _, src := range rasters {
		x0, y0, x1, y1 := out.window(src.Extent())
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				sx, sy, ok := src.PixelAt(out.PixelCenter(x, y))
				if !ok {
					continue
				}
				for b := 0; b < out.Bands; b++ {
					v := src.At(b, sx, sy)
					if src.IsNoData(v) {
						continue
					}
					if written != nil {
						i := (b*out.Height+y)*out.Width + x
						if written[i] {
							continue
						}
						written[i] = true
					}
					out.Set(b, x, y, v)
				}
			}
		}
	}

	return out, nil
}

// DistinctEPSG returns the EPSG codes of rasters in first-seen order.
// Rasters without a code are ignored.
func DistinctEPSG(rasters []*Raster) []int {
	var codes []int
	for _, r := range rasters {
		if r.CRS.EPSG == 0 || slices.Contains(codes, r.CRS.EPSG) {
			continue
		}
		codes = append(codes, r.CRS.EPSG)
	}
	return codes
}

// window returns the pixel bounds [x0, x1) x [y0, y1) of r that may
// intersect e.
func (r *Raster) window(e Extent) (x0, y0, x1, y1 int) {
	t := r.Transform
	x0 = clamp(int(math.Floor((e.MinX-t.OriginX)/t.PixelWidth)), 0, r.Width)
	x1 = clamp(int(math.Ceil((e.MaxX-t.OriginX)/t.PixelWidth)), 0, r.Width)
	y0 = clamp(int(math.Floor((t.OriginY-e.MaxY)/t.PixelHeight)), 0, r.Height)
	y1 = clamp(int(math.Ceil((t.OriginY-e.MinY)/t.PixelHeight)), 0, r.Height)
	return x0, y0, x1, y1
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
