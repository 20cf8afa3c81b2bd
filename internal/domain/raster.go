package domain

import (
	"fmt"
	"math"
)

// DataType is the sample type of a raster band.
type DataType int

// Supported sample types.
const (
	DataTypeUnknown DataType = iota
	DataTypeUint8
	DataTypeInt8
	DataTypeUint16
	DataTypeInt16
	DataTypeUint32
	DataTypeInt32
	DataTypeFloat32
	DataTypeFloat64
)

// String returns the conventional name of the data type.
func (d DataType) String() string {
	switch d {
	case DataTypeUint8:
		return "uint8"
	case DataTypeInt8:
		return "int8"
	case DataTypeUint16:
		return "uint16"
	case DataTypeInt16:
		return "int16"
	case DataTypeUint32:
		return "uint32"
	case DataTypeInt32:
		return "int32"
	case DataTypeFloat32:
		return "float32"
	case DataTypeFloat64:
		return "float64"
	default:
		return "unknown"
	}
}

// Size returns the sample size in bytes.
func (d DataType) Size() int {
	switch d {
	case DataTypeUint8, DataTypeInt8:
		return 1
	case DataTypeUint16, DataTypeInt16:
		return 2
	case DataTypeUint32, DataTypeInt32, DataTypeFloat32:
		return 4
	case DataTypeFloat64:
		return 8
	default:
		return 0
	}
}

// GeoTransform maps pixel positions to a north-up projected grid.
// PixelHeight is positive; northing decreases as the row increases.
type GeoTransform struct {
	OriginX     float64 // Easting of the upper-left corner
	OriginY     float64 // Northing of the upper-left corner
	PixelWidth  float64
	PixelHeight float64
}

// CRS carries the coordinate reference system of a raster. The GeoKey
// directory is kept verbatim so that it can be written back unchanged.
type CRS struct {
	EPSG    int       // Projected or geographic EPSG code, 0 if unknown
	Keys    []uint16  // GeoKeyDirectoryTag
	Doubles []float64 // GeoDoubleParamsTag
	ASCII   string    // GeoAsciiParamsTag
}

// Profile is the geospatial profile of a raster.
type Profile struct {
	Width     int
	Height    int
	Bands     int
	DataType  DataType
	Transform GeoTransform
	CRS       CRS
	NoData    *float64
}

// Extent returns the area covered by a raster with this profile.
func (p Profile) Extent() Extent {
	return Extent{
		MinX: p.Transform.OriginX,
		MaxX: p.Transform.OriginX + float64(p.Width)*p.Transform.PixelWidth,
		MaxY: p.Transform.OriginY,
		MinY: p.Transform.OriginY - float64(p.Height)*p.Transform.PixelHeight,
	}
}

// Validate checks that the profile describes a usable raster.
func (p Profile) Validate() error {
	if p.Width <= 0 || p.Height <= 0 || p.Bands <= 0 {
		return fmt.Errorf("%w: invalid dimensions %dx%dx%d", ErrUnsupportedRaster, p.Width, p.Height, p.Bands)
	}
	if p.DataType.Size() == 0 {
		return fmt.Errorf("%w: unknown data type", ErrUnsupportedRaster)
	}
	if p.Transform.PixelWidth <= 0 || p.Transform.PixelHeight <= 0 {
		return fmt.Errorf("%w: invalid pixel size %gx%g", ErrUnsupportedRaster,
			p.Transform.PixelWidth, p.Transform.PixelHeight)
	}
	return nil
}

// IsNoData reports whether v is the profile's nodata value.
func (p Profile) IsNoData(v float64) bool {
	if p.NoData == nil {
		return false
	}
	if math.IsNaN(*p.NoData) {
		return math.IsNaN(v)
	}
	return v == *p.NoData
}

// Raster holds the pixels of all bands in memory, band-major and row-major
// within each band.
type Raster struct {
	Profile
	Data [][]float64
}

// NewRaster allocates a raster for the profile with every sample set to fill.
func NewRaster(p Profile, fill float64) *Raster {
	data := make([][]float64, p.Bands)
	for b := range data {
		band := make([]float64, p.Width*p.Height)
		if fill != 0 {
			for i := range band {
				band[i] = fill
			}
		}
		data[b] = band
	}
	return &Raster{Profile: p, Data: data}
}

// At returns the sample of band b at column x, row y.
func (r *Raster) At(b, x, y int) float64 {
	return r.Data[b][y*r.Width+x]
}

// Set sets the sample of band b at column x, row y.
func (r *Raster) Set(b, x, y int, v float64) {
	r.Data[b][y*r.Width+x] = v
}

// PixelCenter returns the projected coordinate of the centre of pixel (x, y).
func (r *Raster) PixelCenter(x, y int) Coordinate {
	return Coordinate{
		X:    r.Transform.OriginX + (float64(x)+0.5)*r.Transform.PixelWidth,
		Y:    r.Transform.OriginY - (float64(y)+0.5)*r.Transform.PixelHeight,
		SRID: r.CRS.EPSG,
	}
}

// PixelAt returns the pixel containing c, and false if c is outside the raster.
func (r *Raster) PixelAt(c Coordinate) (int, int, bool) {
	if !r.Extent().Contains(c) {
		return 0, 0, false
	}
	x := int(math.Floor((c.X - r.Transform.OriginX) / r.Transform.PixelWidth))
	y := int(math.Floor((r.Transform.OriginY - c.Y) / r.Transform.PixelHeight))
	if x < 0 || x >= r.Width || y < 0 || y >= r.Height {
		return 0, 0, false
	}
	return x, y, true
}
