package domain

import (
	"fmt"
	"math"
)

// Coordinate represents a projected coordinate.
type Coordinate struct {
	X    float64 // Easting
	Y    float64 // Northing
	SRID int     // Spatial Reference ID
}

// String returns a string representation of the coordinate.
func (c Coordinate) String() string {
	return fmt.Sprintf("POINT(%f %f) SRID=%d", c.X, c.Y, c.SRID)
}

// Extent represents a spatial bounding box.
type Extent struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// Contains checks if a coordinate is within the extent. The minimum edges
// are inclusive and the maximum edges exclusive, so adjacent extents never
// both contain a point on their shared edge.
func (e Extent) Contains(c Coordinate) bool {
	return c.X >= e.MinX && c.X < e.MaxX && c.Y > e.MinY && c.Y <= e.MaxY
}

// Width returns the width of the extent.
func (e Extent) Width() float64 {
	return math.Abs(e.MaxX - e.MinX)
}

// Height returns the height of the extent.
func (e Extent) Height() float64 {
	return math.Abs(e.MaxY - e.MinY)
}

// Union returns the smallest extent covering both e and o.
func (e Extent) Union(o Extent) Extent {
	return Extent{
		MinX: math.Min(e.MinX, o.MinX),
		MinY: math.Min(e.MinY, o.MinY),
		MaxX: math.Max(e.MaxX, o.MaxX),
		MaxY: math.Max(e.MaxY, o.MaxY),
	}
}
