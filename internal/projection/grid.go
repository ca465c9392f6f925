package projection

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// GridDefinition describes a native forecast grid: its first point, cell
// spacing, dimensions and projection.
type GridDefinition struct {
	Nx       int     `yaml:"nx"`
	Ny       int     `yaml:"ny"`
	Dx       float64 `yaml:"dx"`
	Dy       float64 `yaml:"dy"`
	FirstLon float64 `yaml:"first_lon"`
	FirstLat float64 `yaml:"first_lat"`

	Projection StereoParams `yaml:"projection"`
}

// WarnMOSGrid returns the DWD WarnMOS 1 km grid over Germany.
func WarnMOSGrid() GridDefinition {
	return GridDefinition{
		Nx:       900,
		Ny:       900,
		Dx:       1000,
		Dy:       1000,
		FirstLon: 3.594,
		FirstLat: 46.957,
		Projection: StereoParams{
			PoleLat:         90,
			CentralMeridian: 10,
			TrueScaleLat:    60,
			Ellipsoid:       WGS84,
		},
	}
}

// Points returns nx*ny, the number of values a field on this grid carries.
func (d GridDefinition) Points() int { return d.Nx * d.Ny }

// Validate checks dimensions, spacing and projection parameters.
func (d GridDefinition) Validate() error {
	if d.Nx <= 0 || d.Ny <= 0 {
		return fmt.Errorf("%w: grid dimensions %dx%d", ErrConfiguration, d.Nx, d.Ny)
	}
	if !(d.Dx > 0) || !(d.Dy > 0) || math.IsInf(d.Dx, 0) || math.IsInf(d.Dy, 0) {
		return fmt.Errorf("%w: grid spacing %gx%g", ErrConfiguration, d.Dx, d.Dy)
	}
	return d.Projection.Validate()
}

// CoordinateGrid holds the longitude and latitude of every cell of a grid,
// row-major with shape (Ny, Nx). It is built once per forecast run and is
// read-only afterwards, so it can be shared by concurrent renders.
type CoordinateGrid struct {
	Def GridDefinition
	Nx  int
	Ny  int
	Lon []float64
	Lat []float64

	proj   *PolarStereographic
	x0, y0 float64
}

// BuildGrid builds the full projected mesh for def and inverse-transforms it
// to geographic coordinates in one batch.
func BuildGrid(def GridDefinition) (*CoordinateGrid, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	ps, err := NewPolarStereographic(def.Projection)
	if err != nil {
		return nil, err
	}
	x0, y0, err := ps.ComputeOrigin(def.FirstLon, def.FirstLat)
	if err != nil {
		return nil, err
	}

	n := def.Points()
	xs := make([]float64, n)
	ys := make([]float64, n)
	for j := range def.Ny {
		y := y0 + float64(j)*def.Dy
		row := j * def.Nx
		for i := range def.Nx {
			xs[row+i] = x0 + float64(i)*def.Dx
			ys[row+i] = y
		}
	}

	g := &CoordinateGrid{
		Def:  def,
		Nx:   def.Nx,
		Ny:   def.Ny,
		Lon:  make([]float64, n),
		Lat:  make([]float64, n),
		proj: ps,
		x0:   x0,
		y0:   y0,
	}
	if err := ps.InverseBatch(xs, ys, g.Lon, g.Lat, def.Nx); err != nil {
		return nil, fmt.Errorf("build grid: %w", err)
	}
	return g, nil
}

// Shape returns (ny, nx).
func (g *CoordinateGrid) Shape() (int, int) { return g.Ny, g.Nx }

// At returns the geographic coordinate of cell (i, j).
func (g *CoordinateGrid) At(i, j int) (lon, lat float64) {
	k := j*g.Nx + i
	return g.Lon[k], g.Lat[k]
}

// Origin returns the projected coordinate of cell (0, 0).
func (g *CoordinateGrid) Origin() (x0, y0 float64) { return g.x0, g.y0 }

// Projection returns the transform the grid was built with.
func (g *CoordinateGrid) Projection() *PolarStereographic { return g.proj }

// Bounds returns the geographic envelope of all cell centres.
func (g *CoordinateGrid) Bounds() (minLon, minLat, maxLon, maxLat float64) {
	return floats.Min(g.Lon), floats.Min(g.Lat), floats.Max(g.Lon), floats.Max(g.Lat)
}

// Locate returns the fractional cell index (fi, fj) of a geographic point.
// ok is false when the point lies outside the grid's cell centres.
func (g *CoordinateGrid) Locate(lon, lat float64) (fi, fj float64, ok bool) {
	x, y := g.proj.Forward(lon, lat)
	fi = (x - g.x0) / g.Def.Dx
	fj = (y - g.y0) / g.Def.Dy
	ok = fi >= 0 && fj >= 0 && fi <= float64(g.Nx-1) && fj <= float64(g.Ny-1)
	return fi, fj, ok
}
