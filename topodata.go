package topodata

import (
	"context"
	"math"
)

// A TileCoord is the coordinate of a block (a tile or a strip) within a
// raster file.
type TileCoord struct {
	C int // Column.
	R int // Row.
}

// Bounds is an axis-aligned bounding box. For a raster it is in the raster's
// native CRS and describes the outer edges of the outer pixels.
type Bounds struct {
	Left   float64
	Bottom float64
	Right  float64
	Top    float64
}

// Contains returns whether (x, y) is inside b, inclusive.
func (b Bounds) Contains(x, y float64) bool {
	return min(b.Left, b.Right) <= x && x <= max(b.Left, b.Right) &&
		min(b.Bottom, b.Top) <= y && y <= max(b.Bottom, b.Top)
}

// A GeoTransform is a GDAL-style affine transform from pixel space (column,
// row, with the origin at the upper left corner of the upper left pixel) to
// CRS space. Rotation terms are not supported.
type GeoTransform [6]float64

// NewGeoTransform returns a north-up GeoTransform with the given upper left
// corner and positive pixel resolution.
func NewGeoTransform(originX, originY, resX, resY float64) GeoTransform {
	return GeoTransform{originX, resX, 0, originY, 0, -resY}
}

// Resolution returns the absolute pixel resolution.
func (t GeoTransform) Resolution() (float64, float64) {
	return math.Abs(t[1]), math.Abs(t[5])
}

// Bounds returns the bounds of a width by height raster.
func (t GeoTransform) Bounds(width, height int) Bounds {
	x0, y0 := t[0], t[3]
	x1 := t[0] + float64(width)*t[1]
	y1 := t[3] + float64(height)*t[5]
	return Bounds{
		Left:   min(x0, x1),
		Bottom: min(y0, y1),
		Right:  max(x0, x1),
		Top:    max(y0, y1),
	}
}

// Index returns the continuous (row, col) pixel coordinate of (x, y). It is
// not rounded: the upper left corner of the raster is (0, 0) and the center of
// the upper left pixel is (0.5, 0.5).
func (t GeoTransform) Index(x, y float64) (float64, float64) {
	col := (x - t[0]) / t[1]
	row := (y - t[3]) / t[5]
	return row, col
}

// A Raster is an open raster file.
type Raster interface {
	// EPSG returns the EPSG code of the raster's CRS, or zero if unknown.
	EPSG() int
	GeoTransform() GeoTransform
	Size() (width, height int)
	// Sample samples a 1x1 window at (row, col), in pixel-center coordinates,
	// with kernel. Reads outside the raster are NODATA. ok is false if the
	// sample is masked.
	Sample(ctx context.Context, row, col float64, kernel Kernel) (value float64, ok bool, err error)
	Close() error
}

// A RasterSource opens rasters by path.
type RasterSource interface {
	Open(ctx context.Context, path string) (Raster, error)
}
