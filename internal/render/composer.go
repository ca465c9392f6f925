// Package render composes finished hazard charts: classified field, static
// background layers, city markers, legend and footer.
package render

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/couchcryptid/storm-hazard-maps/internal/basemap"
	"github.com/couchcryptid/storm-hazard-maps/internal/forecast"
	"github.com/couchcryptid/storm-hazard-maps/internal/hazard"
	"github.com/couchcryptid/storm-hazard-maps/internal/projection"
	"github.com/ctessum/geom"
	"github.com/fogleman/gg"
)

// MapProduct is one rendered chart.
type MapProduct struct {
	Name       string
	ValidLocal time.Time
	Image      *image.RGBA
}

// OutputName returns "<hazard>_<YYYYMMDD>_<HHMM>.png" for a local valid time.
func OutputName(hazardName string, validLocal time.Time) string {
	return fmt.Sprintf("%s_%s.png", hazardName, validLocal.Format("20060102_1504"))
}

type strokeLayer struct {
	name  string
	color color.RGBA
	width float64
	dash  []float64
	lines []geom.LineString
}

// Composer renders charts for one Product. It holds no per-render state and
// is safe for concurrent use.
type Composer struct {
	product Product
	palette []color.RGBA
	layers  []strokeLayer
	geo     geometry
	proj    plateCarree
	logger  *slog.Logger
}

// NewComposer validates p and takes a private copy of it.
func NewComposer(p Product, layers []basemap.Layer, logger *slog.Logger) (*Composer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.Scale.Bounds = slices.Clone(p.Scale.Bounds)
	p.Scale.Colors = slices.Clone(p.Scale.Colors)
	p.Cities = slices.Clone(p.Cities)
	p.Layers = slices.Clone(p.Layers)
	p.Variables = maps.Clone(p.Variables)

	c := &Composer{
		product: p,
		palette: p.Scale.Palette(),
		geo:     resolve(p.Layout),
		logger:  logger,
	}
	c.proj = plateCarree{ext: p.Extent, b: c.geo.Map}

	for _, l := range layers {
		col, err := hazard.ParseHex(l.Style.Color)
		if err != nil {
			return nil, fmt.Errorf("%w: layer %s: %v", ErrInvalidProduct, l.Name, err)
		}
		c.layers = append(c.layers, strokeLayer{
			name:  l.Name,
			color: col,
			width: l.Style.Width,
			dash:  l.Style.Dash,
			lines: l.Lines,
		})
	}
	return c, nil
}

// Product returns the composer's configuration.
func (c *Composer) Product() Product { return c.product }

// Size returns the output image size in pixels.
func (c *Composer) Size() (w, h int) { return c.geo.Width, c.geo.Height }

// Render draws one chart for step on grid. runTime labels the footer's
// source line; validLocal is the step's valid time in display time zone.
func (c *Composer) Render(grid *projection.CoordinateGrid, step forecast.Timestep, runTime, validLocal time.Time) (MapProduct, error) {
	ny, nx := grid.Shape()
	if step.Field.Nx != nx || step.Field.Ny != ny || len(step.Field.Values) != nx*ny {
		return MapProduct{}, fmt.Errorf("render step %d: field %dx%d (%d values) does not match grid %dx%d",
			step.Index, step.Field.Nx, step.Field.Ny, len(step.Field.Values), nx, ny)
	}

	img := image.NewRGBA(image.Rect(0, 0, c.geo.Width, c.geo.Height))
	fillRect(img, img.Bounds(), color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})

	area := c.mapPixels()
	c.drawField(img, area, grid, step.Field)

	faces := newFaces(c.product.Layout.DPI)
	defer faces.Close()

	dc := gg.NewContextForRGBA(img)
	c.drawLayers(dc, area)
	c.drawCities(dc, area, faces)
	c.drawLegend(dc, faces)
	c.drawFooter(dc, faces, runTime, validLocal)

	return MapProduct{
		Name:       OutputName(c.product.Hazard, validLocal),
		ValidLocal: validLocal,
		Image:      img,
	}, nil
}

// Write encodes mp as PNG into dir and returns the file's path. The image
// is written to a temporary file first and renamed into place.
func (c *Composer) Write(dir string, mp MapProduct) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, mp.Name)
	tmp := filepath.Join(dir, "."+mp.Name+".tmp")
	if err := gg.SavePNG(tmp, mp.Image); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write %s: %w", mp.Name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write %s: %w", mp.Name, err)
	}
	c.logger.Debug("chart written", "path", path)
	return path, nil
}
