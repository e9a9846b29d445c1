package topodata

import (
	"math"
	"strconv"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestReprojectorReproject(t *testing.T) {
	reprojector, err := NewReprojector()
	assert.NoError(t, err)

	t.Run("wgs84", func(t *testing.T) {
		lats := []float64{10.5, -33.9}
		lons := []float64{120.8, 18.4}
		xs, ys, err := reprojector.Reproject(lats, lons, WGS84LatLonEPSG)
		assert.NoError(t, err)
		assert.Equal(t, lons, xs)
		assert.Equal(t, lats, ys)
	})

	t.Run("utm", func(t *testing.T) {
		xs, ys, err := reprojector.Reproject([]float64{10.5}, []float64{120.8}, 32651)
		assert.NoError(t, err)
		assert.True(t, math.Abs(xs[0]-259212) < 1)
		assert.True(t, math.Abs(ys[0]-1161538) < 1)
	})

	t.Run("empty", func(t *testing.T) {
		xs, ys, err := reprojector.Reproject(nil, nil, 32651)
		assert.NoError(t, err)
		assert.Equal(t, 0, len(xs))
		assert.Equal(t, 0, len(ys))
	})

	for _, epsg := range []int{0, 1023, 32768, -4326} {
		t.Run(strconv.Itoa(epsg), func(t *testing.T) {
			_, _, err := reprojector.Reproject([]float64{10.5}, []float64{120.8}, epsg)
			assert.True(t, IsInputError(err))
			assert.EqualError(t, err, "Dataset has invalid projection.")
		})
	}
}

func TestReprojectorCache(t *testing.T) {
	reprojector, err := NewReprojector(WithTransformerCacheSize(1))
	assert.NoError(t, err)

	misses := testutil.ToFloat64(transformerCacheMisses)
	hits := testutil.ToFloat64(transformerCacheHits)

	for _, epsg := range []int{32651, 32651, 32632, 32651} {
		_, _, err := reprojector.Reproject([]float64{10.5}, []float64{10.8}, epsg)
		assert.NoError(t, err)
	}

	assert.Equal(t, misses+3, testutil.ToFloat64(transformerCacheMisses))
	assert.Equal(t, hits+1, testutil.ToFloat64(transformerCacheHits))
}
