package render

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/couchcryptid/storm-hazard-maps/internal/basemap"
	"github.com/couchcryptid/storm-hazard-maps/internal/forecast"
	"github.com/couchcryptid/storm-hazard-maps/internal/hazard"
	"github.com/couchcryptid/storm-hazard-maps/internal/projection"
	"gopkg.in/yaml.v3"
)

// ErrInvalidProduct reports an unusable product configuration.
var ErrInvalidProduct = errors.New("invalid product configuration")

// Grid sources.
const (
	// GridFixed renders every run on the product's configured grid.
	GridFixed = "fixed"
	// GridFromFile renders every run on the grid its file declares.
	GridFromFile = "file"
)

// Extent is the geographic window of the map, degrees.
type Extent struct {
	West  float64 `yaml:"west"`
	East  float64 `yaml:"east"`
	South float64 `yaml:"south"`
	North float64 `yaml:"north"`
}

// Layout is the page geometry in design pixels, before Scale is applied.
// Font sizes and line widths are in points at DPI.
type Layout struct {
	Width       int     `yaml:"width"`
	Height      int     `yaml:"height"`
	Scale       float64 `yaml:"scale"`
	DPI         float64 `yaml:"dpi"`
	BottomPanel int     `yaml:"bottom_panel"`
	// ShiftUp moves the map area up, as a fraction of the page height.
	ShiftUp      float64 `yaml:"shift_up"`
	LegendBottom int     `yaml:"legend_bottom"`
	LegendHeight int     `yaml:"legend_height"`
	// LegendMargin is the left and right legend inset, fraction of width.
	LegendMargin float64 `yaml:"legend_margin"`
}

// City is a labelled reference point.
type City struct {
	Name string  `yaml:"name"`
	Lon  float64 `yaml:"lon"`
	Lat  float64 `yaml:"lat"`
}

// Footer holds the text printed under the map. Source may contain {run},
// replaced by the run hour ("06z"). ValidFormat is a Go time layout.
type Footer struct {
	Title       string `yaml:"title"`
	Source      string `yaml:"source"`
	ValidLabel  string `yaml:"valid_label"`
	ValidFormat string `yaml:"valid_format"`
}

// Product is the complete, immutable description of one chart type. A
// Composer copies it on construction.
type Product struct {
	Hazard     string                    `yaml:"hazard"`
	Footer     Footer                    `yaml:"footer"`
	Extent     Extent                    `yaml:"extent"`
	Layout     Layout                    `yaml:"layout"`
	Scale      hazard.Scale              `yaml:"scale"`
	Cities     []City                    `yaml:"cities"`
	Layers     []basemap.Spec            `yaml:"layers"`
	GridSource string                    `yaml:"grid_source"`
	Grid       projection.GridDefinition `yaml:"grid"`
	Variables  forecast.Variables        `yaml:"variables"`
}

// DefaultProduct returns the WarnMOS thunderstorm-probability chart.
func DefaultProduct() Product {
	return Product{
		Hazard: "gewitter",
		Footer: Footer{
			Title:       "Gewitter Wahrscheinlichkeit (%)",
			Source:      "WarnMOS LONG ({run}), Deutscher Wetterdienst",
			ValidLabel:  "Prognose für:",
			ValidFormat: "02.01.2006 15:04 Uhr",
		},
		Extent: Extent{West: 5, East: 16, South: 47, North: 56},
		Layout: Layout{
			Width:        880,
			Height:       830,
			Scale:        0.9,
			DPI:          100,
			BottomPanel:  179,
			ShiftUp:      0.02,
			LegendBottom: 45,
			LegendHeight: 50,
			LegendMargin: 0.03,
		},
		Scale: hazard.ThunderstormScale(),
		Cities: []City{
			{Name: "Berlin", Lon: 13.40, Lat: 52.52},
			{Name: "Hamburg", Lon: 9.99, Lat: 53.55},
			{Name: "München", Lon: 11.57, Lat: 48.14},
			{Name: "Köln", Lon: 6.96, Lat: 50.94},
			{Name: "Frankfurt", Lon: 8.68, Lat: 50.11},
			{Name: "Dresden", Lon: 13.73, Lat: 51.05},
			{Name: "Stuttgart", Lon: 9.18, Lat: 48.78},
			{Name: "Düsseldorf", Lon: 6.78, Lat: 51.23},
			{Name: "Nürnberg", Lon: 11.08, Lat: 49.45},
			{Name: "Erfurt", Lon: 11.03, Lat: 50.98},
			{Name: "Leipzig", Lon: 12.37, Lat: 51.34},
			{Name: "Bremen", Lon: 8.80, Lat: 53.08},
			{Name: "Saarbrücken", Lon: 6.99, Lat: 49.24},
			{Name: "Hannover", Lon: 9.73, Lat: 52.37},
		},
		Layers:     basemap.DefaultSpecs(),
		GridSource: GridFixed,
		Grid:       projection.WarnMOSGrid(),
		Variables:  forecast.DefaultVariables(),
	}
}

// LoadProduct overlays the YAML document at path on DefaultProduct. Keys
// absent from the document keep their defaults; lists are replaced whole and
// variables are added to the built-in registry. An empty path returns the
// defaults.
func LoadProduct(path string) (Product, error) {
	p := DefaultProduct()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Product{}, fmt.Errorf("read product file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Product{}, fmt.Errorf("parse product file %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Product{}, fmt.Errorf("product file %s: %w", path, err)
	}
	return p, nil
}

// Validate checks the product for values the composer cannot draw.
func (p Product) Validate() error {
	if p.Hazard == "" || strings.ContainsAny(p.Hazard, `/\ `) {
		return fmt.Errorf("%w: hazard name %q", ErrInvalidProduct, p.Hazard)
	}
	e := p.Extent
	if !(e.West < e.East) || !(e.South < e.North) || e.South < -90 || e.North > 90 {
		return fmt.Errorf("%w: extent %+v", ErrInvalidProduct, e)
	}
	l := p.Layout
	if l.Width <= 0 || l.Height <= 0 || !(l.Scale > 0) || !(l.DPI > 0) {
		return fmt.Errorf("%w: page %dx%d scale %g dpi %g", ErrInvalidProduct, l.Width, l.Height, l.Scale, l.DPI)
	}
	if l.BottomPanel < 0 || l.BottomPanel >= l.Height {
		return fmt.Errorf("%w: bottom panel %d for height %d", ErrInvalidProduct, l.BottomPanel, l.Height)
	}
	if l.LegendBottom < 0 || l.LegendHeight <= 0 || l.LegendBottom+l.LegendHeight > l.BottomPanel {
		return fmt.Errorf("%w: legend %d+%d outside bottom panel %d", ErrInvalidProduct, l.LegendBottom, l.LegendHeight, l.BottomPanel)
	}
	if l.LegendMargin < 0 || l.LegendMargin >= 0.5 || math.IsNaN(l.ShiftUp) {
		return fmt.Errorf("%w: legend margin %g", ErrInvalidProduct, l.LegendMargin)
	}
	if err := p.Scale.Validate(); err != nil {
		return err
	}
	for _, s := range p.Layers {
		if _, err := hazard.ParseHex(s.Style.Color); err != nil {
			return fmt.Errorf("%w: layer %s: %v", ErrInvalidProduct, s.Name, err)
		}
	}
	switch p.GridSource {
	case GridFixed:
		if err := p.Grid.Validate(); err != nil {
			return err
		}
	case GridFromFile:
	default:
		return fmt.Errorf("%w: grid source %q", ErrInvalidProduct, p.GridSource)
	}
	if len(p.Variables) == 0 {
		return fmt.Errorf("%w: no variables", ErrInvalidProduct)
	}
	return nil
}

// sourceLine expands the {run} placeholder of the footer source.
func (f Footer) sourceLine(runHour string) string {
	return strings.ReplaceAll(f.Source, "{run}", runHour)
}
