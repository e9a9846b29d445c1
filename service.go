package topodata

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// A Service looks up elevations in datasets.
type Service struct {
	source         RasterSource
	reprojector    *Reprojector
	kernels        KernelTable
	lenientKernels bool
	concurrency    int
	logger         *zap.Logger
}

// A ServiceOption sets an option on a Service.
type ServiceOption func(*Service)

// NewService returns a new Service that reads rasters from source.
func NewService(source RasterSource, options ...ServiceOption) (*Service, error) {
	s := &Service{
		source:      source,
		kernels:     DefaultKernelTable(),
		concurrency: 1,
		logger:      zap.NewNop(),
	}
	for _, option := range options {
		option(s)
	}
	if s.reprojector == nil {
		var err error
		s.reprojector, err = NewReprojector()
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// WithConcurrency sets the maximum number of tiles sampled concurrently.
func WithConcurrency(concurrency int) ServiceOption {
	return func(s *Service) {
		s.concurrency = max(concurrency, 1)
	}
}

// WithKernelTable sets the interpolation methods that s accepts.
func WithKernelTable(kernels KernelTable) ServiceOption {
	return func(s *Service) {
		s.kernels = kernels
	}
}

// WithLenientKernels makes s sample unknown interpolation methods with the
// raster engine's default kernel instead of rejecting them.
func WithLenientKernels() ServiceOption {
	return func(s *Service) {
		s.lenientKernels = true
	}
}

func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithReprojector(reprojector *Reprojector) ServiceOption {
	return func(s *Service) {
		s.reprojector = reprojector
	}
}

// Elevations returns the elevations at lats and lons in dataset, interpolated
// with the method kernelName, or nearest if kernelName is empty. The result is
// index-aligned with lats and lons. Points with no data are NaN. Points outside
// dataset, and points outside the raster they are routed to, fail the whole
// call with an *InputError.
func (s *Service) Elevations(ctx context.Context, lats, lons []float64, dataset Dataset, kernelName string) ([]float64, error) {
	if len(lats) != len(lons) {
		return nil, newInputError("Got %d latitudes and %d longitudes.", len(lats), len(lons))
	}
	if kernelName == "" {
		kernelName = "nearest"
	}
	if _, err := s.kernels.Lookup(kernelName, s.lenientKernels); err != nil {
		return nil, err
	}
	if len(lats) == 0 {
		return []float64{}, nil
	}

	routes, err := dataset.LocationPaths(ctx, lats, lons)
	if err != nil {
		return nil, err
	}
	if len(routes) != len(lats) {
		return nil, fmt.Errorf("dataset returned %d routes for %d points", len(routes), len(lats))
	}

	// Group indexes by route, in order of first appearance.
	type groupStruct struct {
		route      Route
		indexes    []int
		lats       []float64
		lons       []float64
		elevations []float64
		err        error
	}
	var groups []*groupStruct
	groupsByRoute := make(map[Route]*groupStruct)
	for index, route := range routes {
		group, ok := groupsByRoute[route]
		if !ok {
			group = &groupStruct{
				route: route,
			}
			groupsByRoute[route] = group
			groups = append(groups, group)
		}
		group.indexes = append(group.indexes, index)
		group.lats = append(group.lats, lats[index])
		group.lons = append(group.lons, lons[index])
	}

	// Fill points that are not covered by any tile.
	if group, ok := groupsByRoute[Unmatched]; ok {
		group.elevations, err = s.fillMissing(ctx, dataset, group.lats, group.lons)
		if err != nil {
			return nil, err
		}
	}

	// Sample tiles. Each goroutine only writes to its own group, and errors
	// are reported in group order regardless of completion order. A failing
	// group cancels the groups after it, which can never be reported.
	groupCancels := make([]context.CancelFunc, len(groups))
	groupCtxs := make([]context.Context, len(groups))
	for i := range groups {
		groupCtxs[i], groupCancels[i] = context.WithCancel(ctx)
		defer groupCancels[i]()
	}
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, group := range groups {
		path, matched := group.route.Path()
		if !matched {
			continue
		}
		g.Go(func() error {
			group.elevations, group.err = s.SampleTile(groupCtxs[i], group.lats, group.lons, path, kernelName)
			if group.err != nil {
				for _, cancel := range groupCancels[i+1:] {
					cancel()
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, group := range groups {
		if group.err != nil {
			return nil, group.err
		}
	}

	// Put the results back again.
	elevations := make([]float64, len(lats))
	filled := make([]bool, len(lats))
	for _, group := range groups {
		if len(group.elevations) != len(group.indexes) {
			panic(fmt.Sprintf("%d elevations for %d points", len(group.elevations), len(group.indexes)))
		}
		for groupIndex, index := range group.indexes {
			if filled[index] {
				panic(fmt.Sprintf("elevation %d filled twice", index))
			}
			elevations[index] = group.elevations[groupIndex]
			filled[index] = true
		}
	}
	for index, ok := range filled {
		if !ok {
			panic(fmt.Sprintf("elevation %d not filled", index))
		}
	}

	return elevations, nil
}

// fillMissing returns dataset's fill values for points not covered by any
// tile. If any point is out of bounds then it returns an *InputError for the
// first such point.
func (s *Service) fillMissing(ctx context.Context, dataset Dataset, lats, lons []float64) ([]float64, error) {
	fills, err := dataset.MissingTileElevations(ctx, lats, lons)
	if err != nil {
		return nil, err
	}
	if len(fills) != len(lats) {
		return nil, fmt.Errorf("dataset returned %d fill values for %d points", len(fills), len(lats))
	}
	elevations := make([]float64, len(fills))
	for i, fill := range fills {
		value, inBounds := fill.Value()
		if !inBounds {
			return nil, newInputError("Point '%v,%v' is outside dataset bounds.", lats[i], lons[i])
		}
		elevations[i] = value
	}
	return elevations, nil
}

// SampleTile returns the elevations at lats and lons in the raster at path,
// interpolated with the method kernelName. Every point must lie within the
// raster's data extent. Masked samples are NaN.
func (s *Service) SampleTile(ctx context.Context, lats, lons []float64, path, kernelName string) (_ []float64, err error) {
	kernel, err := s.kernels.Lookup(kernelName, s.lenientKernels)
	if err != nil {
		return nil, err
	}

	raster, err := s.source.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := raster.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("%s: %w", path, closeErr)
		}
	}()

	epsg := raster.EPSG()
	xs, ys, err := s.reprojector.Reproject(lats, lons, epsg)
	if err != nil {
		return nil, err
	}

	geoTransform := raster.GeoTransform()
	width, height := raster.Size()
	resX, resY := geoTransform.Resolution()
	if err := ValidatePointsLieWithinRaster(xs, ys, lats, lons, geoTransform.Bounds(width, height), resX, resY); err != nil {
		return nil, err
	}

	s.logger.Debug("sampling tile",
		zap.String("path", path),
		zap.Int("points", len(lats)),
		zap.Int("epsg", epsg),
		zap.Stringer("kernel", kernel),
	)

	elevations := make([]float64, len(xs))
	for i := range xs {
		row, col := geoTransform.Index(xs[i], ys[i])

		// Index returns pixel-edge coordinates. Sample expects pixel-center
		// coordinates. The points are within bounds, so clipping only absorbs
		// rounding errors.
		row = snapToPixelCenter(min(max(row-0.5, 0), float64(height-1)))
		col = snapToPixelCenter(min(max(col-0.5, 0), float64(width-1)))

		value, ok, err := raster.Sample(ctx, row, col, kernel)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if !ok {
			noDataSamplesTotal.Inc()
			value = math.NaN()
		}
		elevations[i] = value
	}
	pointsSampledTotal.Add(float64(len(elevations)))

	return elevations, nil
}

// pixelCenterTolerance is the distance from an integer below which a pixel
// coordinate is treated as that integer.
const pixelCenterTolerance = 1e-9

// snapToPixelCenter rounds v to the nearest pixel center if it is within
// pixelCenterTolerance of it, so that points on pixel centers are not blended
// with their neighbors because of rounding errors in the inverse transform.
func snapToPixelCenter(v float64) float64 {
	if rounded := math.Round(v); math.Abs(v-rounded) < pixelCenterTolerance {
		return rounded
	}
	return v
}
