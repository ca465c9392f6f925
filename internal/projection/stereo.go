package projection

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ErrConfiguration reports projection or grid parameters that cannot describe
// a valid polar stereographic grid.
var ErrConfiguration = errors.New("invalid projection configuration")

const (
	deg2rad = math.Pi / 180
	rad2deg = 180 / math.Pi

	// inverseTolerance bounds the latitude iteration in radians.
	inverseTolerance = 1e-12
	maxIterations    = 30

	// batchRows is the number of rows handed to one goroutine by InverseBatch.
	batchRows = 64
)

// Ellipsoid describes the figure of the earth. An InvFlattening of zero
// denotes a sphere of radius SemiMajor.
type Ellipsoid struct {
	SemiMajor     float64 `yaml:"semi_major"`
	InvFlattening float64 `yaml:"inv_flattening"`
}

// Common ellipsoids.
var (
	WGS84 = Ellipsoid{SemiMajor: 6378137, InvFlattening: 298.257223563}
	GRS80 = Ellipsoid{SemiMajor: 6378137, InvFlattening: 298.257222101}
)

// Sphere returns a spherical earth of the given radius in meters.
func Sphere(radius float64) Ellipsoid {
	return Ellipsoid{SemiMajor: radius}
}

func (e Ellipsoid) validate() error {
	if !(e.SemiMajor > 0) || math.IsInf(e.SemiMajor, 0) {
		return fmt.Errorf("%w: semi-major axis %g", ErrConfiguration, e.SemiMajor)
	}
	if e.InvFlattening < 0 || (e.InvFlattening > 0 && e.InvFlattening <= 1) || math.IsNaN(e.InvFlattening) {
		return fmt.Errorf("%w: inverse flattening %g", ErrConfiguration, e.InvFlattening)
	}
	return nil
}

func (e Ellipsoid) eccentricity() float64 {
	if e.InvFlattening == 0 {
		return 0
	}
	f := 1 / e.InvFlattening
	return math.Sqrt(f * (2 - f))
}

// StereoParams holds the polar stereographic projection parameters.
type StereoParams struct {
	// PoleLat is +90 for the north aspect and -90 for the south aspect.
	PoleLat float64 `yaml:"pole_lat"`
	// CentralMeridian is the longitude that points straight down (north
	// aspect) from the pole, lon_0 / LoV.
	CentralMeridian float64 `yaml:"central_meridian"`
	// TrueScaleLat is the latitude at which the scale factor is exactly one,
	// lat_ts / LaD. A value equal to PoleLat means true scale at the pole.
	TrueScaleLat float64   `yaml:"true_scale_lat"`
	Ellipsoid    Ellipsoid `yaml:"ellipsoid"`
}

// Validate checks that p describes a usable polar stereographic projection.
func (p StereoParams) Validate() error {
	if p.PoleLat != 90 && p.PoleLat != -90 {
		return fmt.Errorf("%w: pole latitude %g is not +90 or -90", ErrConfiguration, p.PoleLat)
	}
	if !finite(p.CentralMeridian) || math.Abs(p.CentralMeridian) > 360 {
		return fmt.Errorf("%w: central meridian %g", ErrConfiguration, p.CentralMeridian)
	}
	if !finite(p.TrueScaleLat) || math.Abs(p.TrueScaleLat) > 90 {
		return fmt.Errorf("%w: true-scale latitude %g", ErrConfiguration, p.TrueScaleLat)
	}
	if p.TrueScaleLat*p.PoleLat <= 0 {
		return fmt.Errorf("%w: true-scale latitude %g is not in the hemisphere of pole %g",
			ErrConfiguration, p.TrueScaleLat, p.PoleLat)
	}
	return p.Ellipsoid.validate()
}

// PolarStereographic is a ready-to-use forward and inverse transform. It is
// immutable and safe for concurrent use.
type PolarStereographic struct {
	params StereoParams
	sign   float64 // +1 north aspect, -1 south aspect
	lon0   float64 // radians
	a      float64
	e      float64
	// scale converts t(phi) into rho: rho = scale * t.
	scale float64
}

// NewPolarStereographic validates p and precomputes the projection constants.
func NewPolarStereographic(p StereoParams) (*PolarStereographic, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	ps := &PolarStereographic{
		params: p,
		sign:   1,
		lon0:   p.CentralMeridian * deg2rad,
		a:      p.Ellipsoid.SemiMajor,
		e:      p.Ellipsoid.eccentricity(),
	}
	if p.PoleLat < 0 {
		ps.sign = -1
	}

	phic := ps.sign * p.TrueScaleLat * deg2rad
	if math.Abs(phic-math.Pi/2) < 1e-10 {
		// Snyder 21-33: true scale at the pole, k0 = 1.
		e := ps.e
		ps.scale = 2 * ps.a / math.Sqrt(math.Pow(1+e, 1+e)*math.Pow(1-e, 1-e))
	} else {
		// Snyder 21-34 with mc/tc evaluated at the true-scale latitude.
		ps.scale = ps.a * ps.m(phic) / ps.t(phic)
	}
	if !finite(ps.scale) || ps.scale <= 0 {
		return nil, fmt.Errorf("%w: degenerate scale for true-scale latitude %g", ErrConfiguration, p.TrueScaleLat)
	}
	return ps, nil
}

// Params returns the parameters the projection was built from.
func (ps *PolarStereographic) Params() StereoParams { return ps.params }

// t is Snyder 15-9 for the north aspect.
func (ps *PolarStereographic) t(phi float64) float64 {
	es := ps.e * math.Sin(phi)
	return math.Tan(math.Pi/4-phi/2) / math.Pow((1-es)/(1+es), ps.e/2)
}

// m is Snyder 14-15.
func (ps *PolarStereographic) m(phi float64) float64 {
	s := math.Sin(phi)
	return math.Cos(phi) / math.Sqrt(1-ps.e*ps.e*s*s)
}

// Forward projects a geographic point in degrees to projected meters.
func (ps *PolarStereographic) Forward(lon, lat float64) (x, y float64) {
	phi := ps.sign * lat * deg2rad
	dlon := lon*deg2rad - ps.lon0
	rho := ps.scale * ps.t(phi)
	if ps.sign > 0 {
		return rho * math.Sin(dlon), -rho * math.Cos(dlon)
	}
	return rho * math.Sin(dlon), rho * math.Cos(dlon)
}

// Inverse converts projected meters back to longitude and latitude in
// degrees. Longitudes are normalised to [-180, 180).
func (ps *PolarStereographic) Inverse(x, y float64) (lon, lat float64) {
	rho := math.Hypot(x, y)
	if rho == 0 {
		return normalizeLon(ps.params.CentralMeridian), ps.sign * 90
	}

	t := rho / ps.scale
	phi := math.Pi/2 - 2*math.Atan(t)
	for range maxIterations {
		es := ps.e * math.Sin(phi)
		next := math.Pi/2 - 2*math.Atan(t*math.Pow((1-es)/(1+es), ps.e/2))
		done := math.Abs(next-phi) < inverseTolerance
		phi = next
		if done {
			break
		}
	}

	var lam float64
	if ps.sign > 0 {
		lam = ps.lon0 + math.Atan2(x, -y)
	} else {
		lam = ps.lon0 + math.Atan2(x, y)
	}
	return normalizeLon(lam * rad2deg), ps.sign * phi * rad2deg
}

// ComputeOrigin forward-projects the grid's first point. The result anchors
// every other cell, so it is computed exactly rather than approximated from
// neighbouring points.
func (ps *PolarStereographic) ComputeOrigin(lon, lat float64) (x0, y0 float64, err error) {
	if !finite(lon) || !finite(lat) || math.Abs(lat) > 90 {
		return 0, 0, fmt.Errorf("%w: first grid point (%g, %g)", ErrConfiguration, lon, lat)
	}
	if lat == -ps.sign*90 {
		return 0, 0, fmt.Errorf("%w: first grid point lies on the opposite pole", ErrConfiguration)
	}
	x0, y0 = ps.Forward(lon, lat)
	if !finite(x0) || !finite(y0) {
		return 0, 0, fmt.Errorf("%w: first grid point (%g, %g) does not project", ErrConfiguration, lon, lat)
	}
	return x0, y0, nil
}

// InverseBatch inverse-transforms a whole mesh of projected coordinates in
// one call, writing into lons and lats. All four slices must share a length
// that is a multiple of rowLen. Rows are distributed over GOMAXPROCS workers.
func (ps *PolarStereographic) InverseBatch(xs, ys, lons, lats []float64, rowLen int) error {
	n := len(xs)
	if len(ys) != n || len(lons) != n || len(lats) != n {
		return fmt.Errorf("inverse batch: mismatched slice lengths %d/%d/%d/%d", len(xs), len(ys), len(lons), len(lats))
	}
	if rowLen <= 0 || n%rowLen != 0 {
		return fmt.Errorf("inverse batch: length %d is not a multiple of row length %d", n, rowLen)
	}

	rows := n / rowLen
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for start := 0; start < rows; start += batchRows {
		end := min(start+batchRows, rows)
		g.Go(func() error {
			for k := start * rowLen; k < end*rowLen; k++ {
				lons[k], lats[k] = ps.Inverse(xs[k], ys[k])
			}
			return nil
		})
	}
	return g.Wait()
}

func normalizeLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
