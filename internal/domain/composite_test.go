package domain

import (
	"errors"
	"testing"
)

// uniformRaster returns a single-band float32 raster of w x h pixels of size
// 10, with its upper-left corner at (x, y) and every sample set to v.
func uniformRaster(x, y float64, w, h int, v float64) *Raster {
	return NewRaster(Profile{
		Width:    w,
		Height:   h,
		Bands:    1,
		DataType: DataTypeFloat32,
		Transform: GeoTransform{
			OriginX:     x,
			OriginY:     y,
			PixelWidth:  10,
			PixelHeight: 10,
		},
		CRS: CRS{EPSG: 32632},
	}, v)
}

func TestCompositeDisjoint(t *testing.T) {
	// Three 2x2 tiles side by side along x.
	tiles := []*Raster{
		uniformRaster(500000, 4000000, 2, 2, 1),
		uniformRaster(500020, 4000000, 2, 2, 2),
		uniformRaster(500040, 4000000, 2, 2, 3),
	}

	out, err := Composite(tiles, MergeLast)
	if err != nil {
		t.Fatalf("Composite() error = %v", err)
	}

	if out.Width != 6 || out.Height != 2 {
		t.Fatalf("size = %dx%d, want 6x2", out.Width, out.Height)
	}
	if out.Transform.OriginX != 500000 || out.Transform.OriginY != 4000000 {
		t.Errorf("origin = (%f, %f), want (500000, 4000000)", out.Transform.OriginX, out.Transform.OriginY)
	}
	if out.CRS.EPSG != 32632 {
		t.Errorf("EPSG = %d, want 32632", out.CRS.EPSG)
	}

	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			want := float64(x/2 + 1)
			if got := out.At(0, x, y); got != want {
				t.Errorf("pixel (%d, %d) = %f, want %f", x, y, got, want)
			}
		}
	}
}

func TestCompositeOverlapLastWins(t *testing.T) {
	// 4x4 tiles overlapping in a 2x2 square.
	a := uniformRaster(0, 40, 4, 4, 1)
	b := uniformRaster(20, 20, 4, 4, 2)

	tests := []struct {
		name    string
		order   []*Raster
		method  MergeMethod
		overlap float64
	}{
		{"a then b, last", []*Raster{a, b}, MergeLast, 2},
		{"b then a, last", []*Raster{b, a}, MergeLast, 1},
		{"a then b, first", []*Raster{a, b}, MergeFirst, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Composite(tt.order, tt.method)
			if err != nil {
				t.Fatalf("Composite() error = %v", err)
			}
			if out.Width != 6 || out.Height != 6 {
				t.Fatalf("size = %dx%d, want 6x6", out.Width, out.Height)
			}

			// Overlap is columns 2-3, rows 2-3.
			for y := 2; y < 4; y++ {
				for x := 2; x < 4; x++ {
					if got := out.At(0, x, y); got != tt.overlap {
						t.Errorf("overlap pixel (%d, %d) = %f, want %f", x, y, got, tt.overlap)
					}
				}
			}

			// Non-overlapping parts keep their own values.
			if got := out.At(0, 0, 0); got != 1 {
				t.Errorf("pixel (0, 0) = %f, want 1", got)
			}
			if got := out.At(0, 5, 5); got != 2 {
				t.Errorf("pixel (5, 5) = %f, want 2", got)
			}

			// Uncovered corners are filled with 0.
			if got := out.At(0, 5, 0); got != 0 {
				t.Errorf("pixel (5, 0) = %f, want 0", got)
			}
			if got := out.At(0, 0, 5); got != 0 {
				t.Errorf("pixel (0, 5) = %f, want 0", got)
			}
		})
	}
}

func TestCompositeNoDataDoesNotOverwrite(t *testing.T) {
	nodata := -9999.0

	a := uniformRaster(0, 20, 2, 2, 1)
	b := uniformRaster(0, 20, 2, 2, 2)
	b.NoData = &nodata
	b.Set(0, 1, 1, nodata)

	out, err := Composite([]*Raster{a, b}, MergeLast)
	if err != nil {
		t.Fatalf("Composite() error = %v", err)
	}

	if got := out.At(0, 0, 0); got != 2 {
		t.Errorf("pixel (0, 0) = %f, want 2", got)
	}
	if got := out.At(0, 1, 1); got != 1 {
		t.Errorf("pixel (1, 1) = %f, want 1 (nodata must not overwrite)", got)
	}
}

func TestCompositeFillsWithFirstNoData(t *testing.T) {
	nodata := -1.0

	a := uniformRaster(0, 10, 1, 1, 5)
	a.NoData = &nodata
	b := uniformRaster(20, 10, 1, 1, 6)

	out, err := Composite([]*Raster{a, b}, MergeLast)
	if err != nil {
		t.Fatalf("Composite() error = %v", err)
	}
	if out.Width != 3 {
		t.Fatalf("width = %d, want 3", out.Width)
	}
	if got := out.At(0, 1, 0); got != nodata {
		t.Errorf("gap pixel = %f, want %f", got, nodata)
	}
	if out.NoData == nil || *out.NoData != nodata {
		t.Errorf("output nodata = %v, want %f", out.NoData, nodata)
	}
}

func TestCompositeMultiBand(t *testing.T) {
	a := uniformRaster(0, 10, 1, 1, 0)
	a.Bands = 2
	a.Data = [][]float64{{1}, {10}}
	b := uniformRaster(10, 10, 1, 1, 0)
	b.Bands = 2
	b.Data = [][]float64{{2}, {20}}

	out, err := Composite([]*Raster{a, b}, MergeLast)
	if err != nil {
		t.Fatalf("Composite() error = %v", err)
	}
	if out.Bands != 2 {
		t.Fatalf("bands = %d, want 2", out.Bands)
	}
	want := [][]float64{{1, 2}, {10, 20}}
	for band := range want {
		for x, v := range want[band] {
			if got := out.At(band, x, 0); got != v {
				t.Errorf("band %d pixel %d = %f, want %f", band, x, got, v)
			}
		}
	}
}

func TestCompositeErrors(t *testing.T) {
	if _, err := Composite(nil, MergeLast); !errors.Is(err, ErrIncompatibleTiles) {
		t.Errorf("empty input: expected ErrIncompatibleTiles, got %v", err)
	}

	a := uniformRaster(0, 10, 1, 1, 1)
	b := uniformRaster(0, 10, 1, 1, 1)
	b.Bands = 3
	b.Data = [][]float64{{1}, {1}, {1}}
	if _, err := Composite([]*Raster{a, b}, MergeLast); !errors.Is(err, ErrIncompatibleTiles) {
		t.Errorf("band mismatch: expected ErrIncompatibleTiles, got %v", err)
	}

	bad := uniformRaster(0, 10, 1, 1, 1)
	bad.Transform.PixelWidth = 0
	if _, err := Composite([]*Raster{bad}, MergeLast); !errors.Is(err, ErrUnsupportedRaster) {
		t.Errorf("bad transform: expected ErrUnsupportedRaster, got %v", err)
	}
}

func TestCompositeTooLarge(t *testing.T) {
	// Tiles from distant zones or a bad transform span a huge union extent.
	a := uniformRaster(0, 10, 1, 1, 1)
	b := uniformRaster(1e7, 1e7, 1, 1, 2)

	_, err := Composite([]*Raster{a, b}, MergeLast)
	if !errors.Is(err, ErrIncompatibleTiles) {
		t.Errorf("expected ErrIncompatibleTiles, got %v", err)
	}
}

func TestDistinctEPSG(t *testing.T) {
	a := uniformRaster(0, 10, 1, 1, 1)
	b := uniformRaster(10, 10, 1, 1, 1)
	c := uniformRaster(20, 10, 1, 1, 1)
	c.CRS.EPSG = 32633
	unknown := uniformRaster(30, 10, 1, 1, 1)
	unknown.CRS.EPSG = 0

	got := DistinctEPSG([]*Raster{a, b, unknown, c})
	if len(got) != 2 || got[0] != 32632 || got[1] != 32633 {
		t.Errorf("DistinctEPSG() = %v, want [32632 32633]", got)
	}
	if got := DistinctEPSG([]*Raster{a, b}); len(got) != 1 {
		t.Errorf("DistinctEPSG() = %v, want one code", got)
	}
}

func TestParseMergeMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    MergeMethod
		wantErr bool
	}{
		{"", MergeLast, false},
		{"last", MergeLast, false},
		{"first", MergeFirst, false},
		{"mean", MergeLast, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMergeMethod(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMergeMethod(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseMergeMethod(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
