package projection

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const degTolerance = 1e-6

func northStereo(t *testing.T) *PolarStereographic {
	t.Helper()
	ps, err := NewPolarStereographic(WarnMOSGrid().Projection)
	require.NoError(t, err)
	return ps
}

func TestForward_PoleIsOrigin(t *testing.T) {
	ps := northStereo(t)
	x, y := ps.Forward(42, 90)
	assert.InDelta(t, 0, x, 1e-6)
	assert.InDelta(t, 0, y, 1e-6)
}

func TestForward_CentralMeridianHasZeroX(t *testing.T) {
	ps := northStereo(t)
	x, y := ps.Forward(10, 50)
	assert.InDelta(t, 0, x, 1e-6)
	assert.Less(t, y, 0.0, "north aspect puts lower latitudes at negative y")
}

func TestInverse_AtOriginReturnsPole(t *testing.T) {
	ps := northStereo(t)
	lon, lat := ps.Inverse(0, 0)
	assert.InDelta(t, 10, lon, degTolerance)
	assert.InDelta(t, 90, lat, degTolerance)
}

func TestRoundTrip_Hemisphere(t *testing.T) {
	cases := []StereoParams{
		WarnMOSGrid().Projection,
		{PoleLat: 90, CentralMeridian: -105, TrueScaleLat: 90, Ellipsoid: WGS84},
		{PoleLat: 90, CentralMeridian: 0, TrueScaleLat: 60, Ellipsoid: Sphere(6371229)},
		{PoleLat: -90, CentralMeridian: 0, TrueScaleLat: -71, Ellipsoid: WGS84},
	}

	for _, p := range cases {
		ps, err := NewPolarStereographic(p)
		require.NoError(t, err)

		for lat := 1.0; lat < 90; lat += 7.3 {
			for lon := -179.5; lon < 180; lon += 11.1 {
				plat := lat * math.Copysign(1, p.PoleLat)
				x, y := ps.Forward(lon, plat)
				gotLon, gotLat := ps.Inverse(x, y)
				assert.InDelta(t, plat, gotLat, degTolerance, "lat for %+v at (%g, %g)", p, lon, plat)
				assert.InDelta(t, 0, lonDiff(lon, gotLon), degTolerance, "lon for %+v at (%g, %g)", p, lon, plat)
			}
		}
	}
}

func TestComputeOrigin_Exact(t *testing.T) {
	ps := northStereo(t)
	x0, y0, err := ps.ComputeOrigin(3.594, 46.957)
	require.NoError(t, err)

	lon, lat := ps.Inverse(x0, y0)
	assert.InDelta(t, 3.594, lon, degTolerance)
	assert.InDelta(t, 46.957, lat, degTolerance)
}

func TestComputeOrigin_OppositePole(t *testing.T) {
	ps := northStereo(t)
	_, _, err := ps.ComputeOrigin(0, -90)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestBuildGrid_WarnMOS(t *testing.T) {
	def := WarnMOSGrid()
	g, err := BuildGrid(def)
	require.NoError(t, err)

	ny, nx := g.Shape()
	assert.Equal(t, 900, ny)
	assert.Equal(t, 900, nx)
	assert.Len(t, g.Lon, def.Points())
	assert.Len(t, g.Lat, def.Points())

	lon, lat := g.At(0, 0)
	assert.InDelta(t, 3.594, lon, degTolerance)
	assert.InDelta(t, 46.957, lat, degTolerance)

	// The grid centre sits over central Germany.
	clon, clat := g.At(450, 450)
	assert.Greater(t, clon, 8.0)
	assert.Less(t, clon, 10.5)
	assert.Greater(t, clat, 50.0)
	assert.Less(t, clat, 52.5)

	minLon, minLat, maxLon, maxLat := g.Bounds()
	assert.Less(t, minLon, 5.0)
	assert.Greater(t, maxLon, 14.0)
	assert.Less(t, minLat, 47.5)
	assert.Greater(t, maxLat, 54.0)
}

func TestBuildGrid_CellsRoundTrip(t *testing.T) {
	def := WarnMOSGrid()
	g, err := BuildGrid(def)
	require.NoError(t, err)

	ps := g.Projection()
	x0, y0 := g.Origin()
	for j := 0; j < def.Ny; j += 37 {
		for i := 0; i < def.Nx; i += 41 {
			lon, lat := g.At(i, j)
			x, y := ps.Forward(lon, lat)
			assert.InDelta(t, x0+float64(i)*def.Dx, x, 1e-3)
			assert.InDelta(t, y0+float64(j)*def.Dy, y, 1e-3)

			backLon, backLat := ps.Inverse(x, y)
			assert.InDelta(t, lon, backLon, degTolerance)
			assert.InDelta(t, lat, backLat, degTolerance)
		}
	}
}

func TestLocate(t *testing.T) {
	def := GridDefinition{Nx: 20, Ny: 10, Dx: 2000, Dy: 2000, FirstLon: 8, FirstLat: 50, Projection: WarnMOSGrid().Projection}
	g, err := BuildGrid(def)
	require.NoError(t, err)

	lon, lat := g.At(7, 3)
	fi, fj, ok := g.Locate(lon, lat)
	require.True(t, ok)
	assert.InDelta(t, 7, fi, 1e-6)
	assert.InDelta(t, 3, fj, 1e-6)

	_, _, ok = g.Locate(-40, 10)
	assert.False(t, ok)
}

func TestValidate_Errors(t *testing.T) {
	good := WarnMOSGrid()

	cases := map[string]func(d *GridDefinition){
		"zero nx":             func(d *GridDefinition) { d.Nx = 0 },
		"negative dy":         func(d *GridDefinition) { d.Dy = -1 },
		"nan dx":              func(d *GridDefinition) { d.Dx = math.NaN() },
		"oblique pole":        func(d *GridDefinition) { d.Projection.PoleLat = 45 },
		"opposite lat_ts":     func(d *GridDefinition) { d.Projection.TrueScaleLat = -60 },
		"lat_ts out of range": func(d *GridDefinition) { d.Projection.TrueScaleLat = 95 },
		"zero semi-major":     func(d *GridDefinition) { d.Projection.Ellipsoid.SemiMajor = 0 },
		"flattening of one":   func(d *GridDefinition) { d.Projection.Ellipsoid.InvFlattening = 1 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			d := good
			mutate(&d)
			_, err := BuildGrid(d)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestInverseBatch_LengthMismatch(t *testing.T) {
	ps := northStereo(t)
	err := ps.InverseBatch(make([]float64, 4), make([]float64, 4), make([]float64, 3), make([]float64, 4), 2)
	require.Error(t, err)

	err = ps.InverseBatch(make([]float64, 5), make([]float64, 5), make([]float64, 5), make([]float64, 5), 2)
	require.Error(t, err)
}

func lonDiff(a, b float64) float64 {
	return math.Mod(a-b+540, 360) - 180
}
