package topodata

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tilesOpenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topodata_tiles_opened_total",
		Help: "The total number of raster tiles opened",
	})
	pointsSampledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topodata_points_sampled_total",
		Help: "The total number of points sampled from raster tiles",
	})
	noDataSamplesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topodata_nodata_samples_total",
		Help: "The total number of samples masked as NODATA",
	})
	inputErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topodata_input_errors_total",
		Help: "The total number of requests rejected because of their input",
	})
	transformerCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topodata_transformer_cache_hits_total",
		Help: "The total number of hits on the coordinate transformer cache",
	})
	transformerCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topodata_transformer_cache_misses_total",
		Help: "The total number of misses on the coordinate transformer cache",
	})
	tileExistenceCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topodata_tile_existence_cache_hits_total",
		Help: "The total number of hits on the tile existence cache",
	})
	tileExistenceCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topodata_tile_existence_cache_misses_total",
		Help: "The total number of misses on the tile existence cache",
	})
)
