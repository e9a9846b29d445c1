package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/twpayne/go-topodata"
	"github.com/twpayne/go-topodata/internal/logging"
)

type config struct {
	DatasetPath   string `split_words:"true" default:"."`
	Dataset       string `default:"srtm"`
	Interpolation string `default:"bilinear"`
	FillValue     string `split_words:"true"`
	Concurrency   int    `default:"1"`
	LogLevel      string `split_words:"true" default:"warn"`
	LogFormat     string `split_words:"true" default:"console"`
}

func loadConfig(args []string) (*config, []string, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, err
	}

	var cfg config
	if err := envconfig.Process("TOPODATA", &cfg); err != nil {
		return nil, nil, err
	}

	flagSet := flag.NewFlagSet("topodata", flag.ContinueOnError)
	flagSet.StringVar(&cfg.DatasetPath, "dataset-path", cfg.DatasetPath, "dataset directory")
	flagSet.StringVar(&cfg.Dataset, "dataset", cfg.Dataset, "srtm, or the name of a single raster file")
	flagSet.StringVar(&cfg.Interpolation, "interpolation", cfg.Interpolation, "nearest, bilinear, or cubic")
	flagSet.StringVar(&cfg.FillValue, "fill-value", cfg.FillValue, "elevation of points in missing tiles")
	flagSet.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "maximum number of tiles read concurrently")
	flagSet.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	flagSet.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (json or console)")
	if err := flagSet.Parse(args); err != nil {
		return nil, nil, err
	}
	return &cfg, flagSet.Args(), nil
}

// parseLatLons parses arguments of the form lat,lon.
func parseLatLons(args []string) ([]float64, []float64, error) {
	lats := make([]float64, 0, len(args))
	lons := make([]float64, 0, len(args))
	for _, arg := range args {
		latStr, lonStr, ok := strings.Cut(arg, ",")
		if !ok {
			return nil, nil, fmt.Errorf("%s: expected lat,lon", arg)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", arg, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", arg, err)
		}
		lats = append(lats, lat)
		lons = append(lons, lon)
	}
	return lats, lons, nil
}

func newDataset(cfg *config, fsys fs.FS) (topodata.Dataset, error) {
	if cfg.Dataset != "srtm" {
		if cfg.FillValue != "" {
			return nil, errors.New("fill value is only supported for tiled datasets")
		}
		return &topodata.SingleFileDataset{
			Path: cfg.Dataset,
		}, nil
	}
	var options []topodata.TiledDatasetOption
	if cfg.FillValue != "" {
		fillValue, err := strconv.ParseFloat(cfg.FillValue, 64)
		if err != nil {
			return nil, fmt.Errorf("fill value: %w", err)
		}
		options = append(options, topodata.WithFillValue(fillValue))
	}
	return topodata.NewSRTMDataset(fsys, options...)
}

func run() error {
	cfg, args, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return errors.New("syntax: topodata [flags] lat,lon...")
	}
	lats, lons, err := parseLatLons(args)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(logging.Config{
		Format: cfg.LogFormat,
		Level:  cfg.LogLevel,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	fsys := os.DirFS(cfg.DatasetPath)
	dataset, err := newDataset(cfg, fsys)
	if err != nil {
		return err
	}

	service, err := topodata.NewService(
		topodata.NewGeoTIFFSource(fsys),
		topodata.WithConcurrency(cfg.Concurrency),
		topodata.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	logger.Info("looking up elevations",
		zap.String("datasetPath", cfg.DatasetPath),
		zap.String("dataset", cfg.Dataset),
		zap.Int("points", len(lats)),
	)
	elevations, err := service.Elevations(context.Background(), lats, lons, dataset, cfg.Interpolation)
	if err != nil {
		return err
	}
	for _, elevation := range elevations {
		fmt.Println(elevation)
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
