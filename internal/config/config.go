package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// MaxRenderWorkers caps RENDER_WORKERS.
const MaxRenderWorkers = 64

// Config holds all batch settings, populated from environment variables.
type Config struct {
	InputDir  string
	InputExt  string
	OutputDir string
	Variable  string
	Hazard    string
	Location  *time.Location

	// ProductFile is an optional YAML overlay on the default product.
	ProductFile string
	// BasemapDir holds the Natural Earth shapefiles of the product's layers.
	BasemapDir string

	RenderWorkers int
	// MetricsTextfile, when set, receives the run's metrics in Prometheus
	// text format for the node-exporter textfile collector.
	MetricsTextfile string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	tzName := sharedcfg.EnvOrDefault("TIMEZONE", "Europe/Berlin")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tzName, err)
	}

	workers, err := parseRenderWorkers()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		InputDir:        sharedcfg.EnvOrDefault("INPUT_DIR", "data/warnmoslong"),
		InputExt:        normalizeExt(sharedcfg.EnvOrDefault("INPUT_EXT", ".grb2")),
		OutputDir:       sharedcfg.EnvOrDefault("OUTPUT_DIR", "warnmoslong/gewitter"),
		Variable:        sharedcfg.EnvOrDefault("VARIABLE", "W_GEW_01"),
		Hazard:          os.Getenv("HAZARD"),
		Location:        loc,
		ProductFile:     os.Getenv("PRODUCT_FILE"),
		BasemapDir:      sharedcfg.EnvOrDefault("BASEMAP_DIR", "data/naturalearth"),
		RenderWorkers:   workers,
		MetricsTextfile: os.Getenv("METRICS_TEXTFILE"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
	}

	if cfg.InputDir == "" {
		return nil, errors.New("INPUT_DIR is required")
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("OUTPUT_DIR is required")
	}
	if cfg.Variable == "" {
		return nil, errors.New("VARIABLE is required")
	}
	if strings.ContainsAny(cfg.Hazard, `/\ `) {
		return nil, fmt.Errorf("invalid HAZARD %q", cfg.Hazard)
	}

	return cfg, nil
}

func parseRenderWorkers() (int, error) {
	s := sharedcfg.EnvOrDefault("RENDER_WORKERS", "1")
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > MaxRenderWorkers {
		return 0, fmt.Errorf("invalid RENDER_WORKERS %q: must be between 1 and %d", s, MaxRenderWorkers)
	}
	return n, nil
}

func normalizeExt(ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		return "." + ext
	}
	return ext
}
