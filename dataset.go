package topodata

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"slices"
	"sync"
)

// A Route is the result of routing a point to a tile: either the path of the
// tile that covers it, or Unmatched.
type Route struct {
	path    string
	matched bool
}

// Unmatched is the Route of a point that is not covered by any tile.
var Unmatched Route

// Routed returns the Route to the tile at path.
func Routed(path string) Route {
	return Route{
		path:    path,
		matched: true,
	}
}

// Path returns r's path and whether r is matched.
func (r Route) Path() (string, bool) {
	return r.path, r.matched
}

// A Fill is a dataset's fill policy result for a point that is not covered by
// any tile: either a substitute elevation, or OutOfBounds.
type Fill struct {
	value    float64
	inBounds bool
}

// OutOfBounds is the Fill of a point that is outside the dataset.
var OutOfBounds Fill

// FillValue returns a Fill with the substitute elevation value.
func FillValue(value float64) Fill {
	return Fill{
		value:    value,
		inBounds: true,
	}
}

// Value returns f's value and whether f is in bounds.
func (f Fill) Value() (float64, bool) {
	return f.value, f.inBounds
}

// A Dataset routes points to tiles and supplies elevations for points not
// covered by any tile. Both methods return slices index-aligned with lats and
// lons.
type Dataset interface {
	LocationPaths(ctx context.Context, lats, lons []float64) ([]Route, error)
	MissingTileElevations(ctx context.Context, lats, lons []float64) ([]Fill, error)
}

// A SingleFileDataset is a Dataset consisting of a single raster file.
type SingleFileDataset struct {
	Path string
}

// LocationPaths routes every point to d.Path.
func (d *SingleFileDataset) LocationPaths(ctx context.Context, lats, lons []float64) ([]Route, error) {
	routes := make([]Route, len(lats))
	for i := range routes {
		routes[i] = Routed(d.Path)
	}
	return routes, nil
}

// MissingTileElevations returns OutOfBounds for every point.
func (d *SingleFileDataset) MissingTileElevations(ctx context.Context, lats, lons []float64) ([]Fill, error) {
	return make([]Fill, len(lats)), nil
}

// A TileNameFunc returns the name of the tile that covers a point, if any.
type TileNameFunc func(lat, lon float64) (string, bool)

// A TiledDataset is a Dataset consisting of tiles in a filesystem, some of
// which may be missing.
type TiledDataset struct {
	fsys         fs.FS
	tileNameFunc TileNameFunc
	coverage     Bounds
	fillValue    float64
	hasFillValue bool
	tileExists   sync.Map
}

// A TiledDatasetOption sets an option on a TiledDataset.
type TiledDatasetOption func(*TiledDataset)

// NewTiledDataset returns a new TiledDataset in fsys with the given options.
func NewTiledDataset(fsys fs.FS, options ...TiledDatasetOption) (*TiledDataset, error) {
	d := &TiledDataset{
		fsys: fsys,
		coverage: Bounds{
			Left:   -180,
			Bottom: -90,
			Right:  180,
			Top:    90,
		},
	}
	for _, option := range options {
		option(d)
	}
	if d.tileNameFunc == nil {
		return nil, errors.New("missing tile name func")
	}
	return d, nil
}

// WithCoverage sets the longitude/latitude bounds of the dataset. Points
// outside the coverage are never filled.
func WithCoverage(coverage Bounds) TiledDatasetOption {
	return func(d *TiledDataset) {
		d.coverage = coverage
	}
}

// WithFillValue sets the elevation returned for points inside the coverage
// whose tile is missing.
func WithFillValue(fillValue float64) TiledDatasetOption {
	return func(d *TiledDataset) {
		d.fillValue = fillValue
		d.hasFillValue = true
	}
}

func WithTileNameFunc(tileNameFunc TileNameFunc) TiledDatasetOption {
	return func(d *TiledDataset) {
		d.tileNameFunc = tileNameFunc
	}
}

// LocationPaths routes each point to its tile, or to Unmatched if the tile
// does not exist.
func (d *TiledDataset) LocationPaths(ctx context.Context, lats, lons []float64) ([]Route, error) {
	routes := make([]Route, len(lats))
	for i := range lats {
		name, ok := d.tileNameFunc(lats[i], lons[i])
		if !ok {
			continue
		}
		switch exists, err := d.tileExistsCached(name); {
		case err != nil:
			return nil, err
		case exists:
			routes[i] = Routed(name)
		}
	}
	return routes, nil
}

// MissingTileElevations returns the fill value for points inside d's coverage,
// if d has a fill value, and OutOfBounds otherwise.
func (d *TiledDataset) MissingTileElevations(ctx context.Context, lats, lons []float64) ([]Fill, error) {
	fills := make([]Fill, len(lats))
	if !d.hasFillValue {
		return fills, nil
	}
	for i := range lats {
		if d.coverage.Contains(lons[i], lats[i]) {
			fills[i] = FillValue(d.fillValue)
		}
	}
	return fills, nil
}

// tileExistsCached returns whether the tile name exists, remembering the
// answer.
func (d *TiledDataset) tileExistsCached(name string) (bool, error) {
	if exists, ok := d.tileExists.Load(name); ok {
		tileExistenceCacheHits.Inc()
		return exists.(bool), nil
	}
	tileExistenceCacheMisses.Inc()
	switch _, err := fs.Stat(d.fsys, name); {
	case errors.Is(err, fs.ErrNotExist):
		d.tileExists.Store(name, false)
		return false, nil
	case err != nil:
		return false, err
	default:
		d.tileExists.Store(name, true)
		return true, nil
	}
}

// SRTMTileName returns the name of the 1x1 degree SRTM tile containing (lat,
// lon), named after its lower left corner, e.g. N00E010.
func SRTMTileName(lat, lon float64) string {
	latFloor := int(math.Floor(lat))
	lonFloor := int(math.Floor(lon))
	northSouth := 'N'
	if latFloor < 0 {
		northSouth = 'S'
		latFloor = -latFloor
	}
	eastWest := 'E'
	if lonFloor < 0 {
		eastWest = 'W'
		lonFloor = -lonFloor
	}
	return fmt.Sprintf("%c%02d%c%03d", northSouth, latFloor, eastWest, lonFloor)
}

// NewSRTMDataset returns a new TiledDataset of SRTM GeoTIFF tiles in fsys.
func NewSRTMDataset(fsys fs.FS, options ...TiledDatasetOption) (*TiledDataset, error) {
	return NewTiledDataset(fsys, slices.Concat(
		[]TiledDatasetOption{
			WithCoverage(Bounds{
				Left:   -180,
				Bottom: -56,
				Right:  180,
				Top:    60,
			}),
			WithTileNameFunc(func(lat, lon float64) (string, bool) {
				if math.IsNaN(lat) || math.IsNaN(lon) {
					return "", false
				}
				return SRTMTileName(lat, lon) + ".tif", true
			}),
		},
		options,
	)...)
}
