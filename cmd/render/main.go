// Command render draws one hazard chart per forecast timestep for every
// GRIB2 file in INPUT_DIR and writes them to OUTPUT_DIR. Settings come from
// the environment (and a .env file in the working directory); the chart
// itself can be customised with a YAML product file in PRODUCT_FILE.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/couchcryptid/storm-hazard-maps/internal/basemap"
	"github.com/couchcryptid/storm-hazard-maps/internal/config"
	"github.com/couchcryptid/storm-hazard-maps/internal/observability"
	"github.com/couchcryptid/storm-hazard-maps/internal/pipeline"
	"github.com/couchcryptid/storm-hazard-maps/internal/render"
	"github.com/ctessum/geom"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	code := 0
	if err := run(cfg, logger, metrics); err != nil {
		logger.Error("render batch failed", "error", err)
		code = 1
	}
	if cfg.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
			logger.Error("metrics export failed", "error", err)
		}
	}
	os.Exit(code)
}

func run(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) error {
	product, err := render.LoadProduct(cfg.ProductFile)
	if err != nil {
		return err
	}
	if cfg.Hazard != "" {
		product.Hazard = cfg.Hazard
	}

	e := product.Extent
	extent := &geom.Bounds{Min: geom.Point{X: e.West, Y: e.South}, Max: geom.Point{X: e.East, Y: e.North}}
	layers, err := basemap.Load(cfg.BasemapDir, product.Layers, extent, logger)
	if err != nil {
		return err
	}

	composer, err := render.NewComposer(product, layers, logger)
	if err != nil {
		return err
	}

	p := pipeline.New(pipeline.Options{
		InputDir:   cfg.InputDir,
		InputExt:   cfg.InputExt,
		OutputDir:  cfg.OutputDir,
		Variable:   cfg.Variable,
		Variables:  product.Variables,
		Hazard:     product.Hazard,
		Location:   cfg.Location,
		Workers:    cfg.RenderWorkers,
		GridSource: product.GridSource,
		Grid:       product.Grid,
	}, composer, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, err = p.Run(ctx)
	return err
}
