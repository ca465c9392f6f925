// Package basemap loads the static background layers of a map (state lines,
// country borders, coastline) from Natural Earth shapefiles.
package basemap

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
)

// ErrNoLayers reports that none of the requested background layers could be
// loaded.
var ErrNoLayers = errors.New("no basemap layers loaded")

// Style describes how a layer's lines are stroked.
type Style struct {
	Color string    `yaml:"color"`
	Width float64   `yaml:"width"`
	Dash  []float64 `yaml:"dash,omitempty"`
}

// Spec names a layer and the shapefile it is read from, relative to the
// basemap directory.
type Spec struct {
	Name  string `yaml:"name"`
	File  string `yaml:"file"`
	Style Style  `yaml:"style"`
}

// Layer is a decoded background layer in geographic coordinates.
type Layer struct {
	Name  string
	Style Style
	Lines []geom.LineString
}

// DefaultSpecs returns the three layers drawn on every chart, bottom first.
func DefaultSpecs() []Spec {
	return []Spec{
		{
			Name:  "states",
			File:  "ne_10m_admin_1_states_provinces_lakes.shp",
			Style: Style{Color: "#2C2C2C", Width: 1},
		},
		{
			Name:  "borders",
			File:  "ne_110m_admin_0_boundary_lines_land.shp",
			Style: Style{Color: "#000000", Width: 1, Dash: []float64{1, 1.65}},
		},
		{
			Name:  "coastline",
			File:  "ne_110m_coastline.shp",
			Style: Style{Color: "#000000", Width: 1},
		},
	}
}

// Load reads every layer in specs from dir, keeping the lines that overlap
// extent. A missing shapefile is skipped with a warning and a shapefile that
// fails to decode is an error. If specs is non-empty but no layer could be
// read, Load returns ErrNoLayers; an empty specs list loads nothing.
func Load(dir string, specs []Spec, extent *geom.Bounds, logger *slog.Logger) ([]Layer, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	if dir == "" {
		return nil, fmt.Errorf("%w: no basemap directory configured", ErrNoLayers)
	}

	layers := make([]Layer, 0, len(specs))
	for _, spec := range specs {
		path := filepath.Join(dir, spec.File)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			logger.Warn("basemap layer missing, skipping", "layer", spec.Name, "path", path)
			continue
		}
		lines, err := readLines(path, extent)
		if err != nil {
			return nil, fmt.Errorf("load basemap layer %s: %w", spec.Name, err)
		}
		logger.Debug("basemap layer loaded", "layer", spec.Name, "lines", len(lines))
		layers = append(layers, Layer{Name: spec.Name, Style: spec.Style, Lines: lines})
	}
	if len(layers) == 0 {
		return nil, fmt.Errorf("%w: none of %d shapefiles found in %s", ErrNoLayers, len(specs), dir)
	}
	return layers, nil
}

func readLines(path string, extent *geom.Bounds) ([]geom.LineString, error) {
	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []geom.LineString
	for {
		g, _, more := dec.DecodeRowFields()
		if !more {
			break
		}
		out = append(out, Clip(Lines(g), extent)...)
	}
	if err := dec.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// Lines flattens a geometry into polylines. Polygon rings become closed
// lines; points contribute nothing.
func Lines(g geom.Geom) []geom.LineString {
	switch t := g.(type) {
	case geom.LineString:
		return []geom.LineString{t}
	case geom.MultiLineString:
		return append([]geom.LineString(nil), t...)
	case geom.Polygon:
		return rings(t)
	case geom.MultiPolygon:
		var out []geom.LineString
		for _, p := range t {
			out = append(out, rings(p)...)
		}
		return out
	default:
		return nil
	}
}

func rings(p geom.Polygon) []geom.LineString {
	out := make([]geom.LineString, 0, len(p))
	for _, path := range p {
		if len(path) < 2 {
			continue
		}
		ring := make(geom.LineString, 0, len(path)+1)
		ring = append(ring, path...)
		if first, last := path[0], path[len(path)-1]; first != last {
			ring = append(ring, first)
		}
		out = append(out, ring)
	}
	return out
}

// Clip drops lines whose envelope does not overlap extent. Lines are kept
// whole; the renderer clips them to the map area when drawing. A nil extent
// keeps everything.
func Clip(lines []geom.LineString, extent *geom.Bounds) []geom.LineString {
	if extent == nil {
		return lines
	}
	out := lines[:0]
	for _, l := range lines {
		if len(l) < 2 {
			continue
		}
		if extent.Overlaps(l.Bounds()) {
			out = append(out, l)
		}
	}
	return out
}
