package topodata

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/twpayne/go-proj/v10"
)

// WGS84LatLonEPSG is the EPSG code of WGS84 geographic coordinates. Rasters in
// this CRS need no reprojection.
const WGS84LatLonEPSG = 4326

// A Reprojector converts WGS84 latitudes and longitudes into other CRSs. It is
// safe for concurrent use.
type Reprojector struct {
	mutex     sync.Mutex
	cacheSize int
	pjCache   *lru.Cache[int, *proj.PJ]
}

// A ReprojectorOption sets an option on a Reprojector.
type ReprojectorOption func(*Reprojector)

// WithTransformerCacheSize sets the number of transformers that are kept.
func WithTransformerCacheSize(cacheSize int) ReprojectorOption {
	return func(r *Reprojector) {
		r.cacheSize = cacheSize
	}
}

// NewReprojector returns a new Reprojector with the given options.
func NewReprojector(options ...ReprojectorOption) (*Reprojector, error) {
	r := &Reprojector{
		cacheSize: 16,
	}
	for _, option := range options {
		option(r)
	}

	var err error
	r.pjCache, err = lru.New[int, *proj.PJ](r.cacheSize)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Reproject converts lats and lons into x and y coordinates in the CRS
// identified by epsg. For WGS84LatLonEPSG it returns lons and lats unchanged.
func (r *Reprojector) Reproject(lats, lons []float64, epsg int) ([]float64, []float64, error) {
	if epsg == WGS84LatLonEPSG {
		return lons, lats, nil
	}

	if epsg < 1024 || 32767 < epsg {
		return nil, nil, newInputError("Dataset has invalid projection.")
	}
	if len(lats) == 0 {
		return []float64{}, []float64{}, nil
	}

	pj, err := r.getPJCached(epsg)
	if err != nil {
		return nil, nil, err
	}

	coords := make([][]float64, len(lats))
	coordsFlat := make([]float64, 2*len(lats))
	for i := range lats {
		coords[i] = coordsFlat[2*i : 2*i+2]
		coords[i][0], coords[i][1] = lons[i], lats[i]
	}
	if err := pj.ForwardFloat64Slices(coords); err != nil {
		return nil, nil, fmt.Errorf("EPSG:%d: %w", epsg, err)
	}

	xs := make([]float64, len(coords))
	ys := make([]float64, len(coords))
	for i, coord := range coords {
		xs[i], ys[i] = coord[0], coord[1]
	}
	return xs, ys, nil
}

// getPJ returns a transformer from WGS84 geographic coordinates to epsg with
// lon,lat input and easting,northing output.
func (r *Reprojector) getPJ(epsg int) (*proj.PJ, error) {
	pj, err := proj.NewCRSToCRS("EPSG:4326", fmt.Sprintf("EPSG:%d", epsg), nil)
	if err != nil {
		return nil, fmt.Errorf("EPSG:%d: %w", epsg, err)
	}
	return pj.NormalizeForVisualization()
}

// getPJCached returns the transformer for epsg, using the cache if possible.
func (r *Reprojector) getPJCached(epsg int) (*proj.PJ, error) {
	if pj, ok := r.pjCache.Get(epsg); ok {
		transformerCacheHits.Inc()
		return pj, nil
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if pj, ok := r.pjCache.Get(epsg); ok {
		transformerCacheHits.Inc()
		return pj, nil
	}

	transformerCacheMisses.Inc()

	pj, err := r.getPJ(epsg)
	if err != nil {
		return nil, err
	}
	r.pjCache.Add(epsg, pj)
	return pj, nil
}
