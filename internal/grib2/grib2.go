// Package grib2 reads and writes the subset of WMO GRIB edition 2 used by
// DWD WarnMOS products:
//
//	Section 3  grid definition template 3.20 (polar stereographic)
//	Section 4  product definition templates sharing the 4.0 prefix
//	Section 5  data representation template 5.0 (simple packing)
//	Section 6  bit-map (present, absent or reused)
//
// Fields are returned with values normalised to south-to-north rows and
// west-to-east columns, whatever the scanning mode of the message.
package grib2

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/couchcryptid/storm-hazard-maps/internal/projection"
)

var (
	// ErrFormat reports a malformed or truncated message.
	ErrFormat = errors.New("grib2: malformed message")
	// ErrUnsupported reports a valid message using a template this package
	// does not decode.
	ErrUnsupported = errors.New("grib2: unsupported template")
)

// Scanning mode flags (code table 3.4).
const (
	ScanMinusI       = 0x80
	ScanPlusJ        = 0x40
	ScanConsecutiveJ = 0x20
)

// Parameter identifies a meteorological parameter by discipline and the
// category/number pair of code table 4.2.
type Parameter struct {
	Discipline uint8 `yaml:"discipline"`
	Category   uint8 `yaml:"category"`
	Number     uint8 `yaml:"number"`
}

func (p Parameter) String() string {
	return fmt.Sprintf("%d.%d.%d", p.Discipline, p.Category, p.Number)
}

// Grid is a decoded template 3.20 polar stereographic grid.
type Grid struct {
	ShapeOfEarth uint8
	Earth        projection.Ellipsoid
	Nx, Ny       int
	// La1/Lo1 is the first grid point in scanning order, degrees.
	La1, Lo1 float64
	// LaD is the latitude where Dx and Dy are specified, LoV the orientation.
	LaD, LoV  float64
	Dx, Dy    float64 // meters
	SouthPole bool
	ScanMode  uint8
}

// Definition converts the grid to a projection.GridDefinition whose first
// point is the south-west corner, matching the normalised value layout.
func (g Grid) Definition() (projection.GridDefinition, error) {
	pole := 90.0
	if g.SouthPole {
		pole = -90
	}
	def := projection.GridDefinition{
		Nx:       g.Nx,
		Ny:       g.Ny,
		Dx:       g.Dx,
		Dy:       g.Dy,
		FirstLon: normalizeLon(g.Lo1),
		FirstLat: g.La1,
		Projection: projection.StereoParams{
			PoleLat:         pole,
			CentralMeridian: normalizeLon(g.LoV),
			TrueScaleLat:    g.LaD,
			Ellipsoid:       g.Earth,
		},
	}
	if g.ScanMode&ScanMinusI == 0 && g.ScanMode&ScanPlusJ != 0 {
		return def, nil
	}

	ps, err := projection.NewPolarStereographic(def.Projection)
	if err != nil {
		return def, err
	}
	x, y, err := ps.ComputeOrigin(def.FirstLon, def.FirstLat)
	if err != nil {
		return def, err
	}
	if g.ScanMode&ScanMinusI != 0 {
		x -= float64(g.Nx-1) * g.Dx
	}
	if g.ScanMode&ScanPlusJ == 0 {
		y -= float64(g.Ny-1) * g.Dy
	}
	def.FirstLon, def.FirstLat = ps.Inverse(x, y)
	return def, nil
}

// Product is the part of section 4 needed to place a field in time.
type Product struct {
	Template uint16
	Category uint8
	Number   uint8
	// HasLead is false for templates without the forecast-time prefix.
	HasLead bool
	Lead    time.Duration
}

// Message is one decoded field.
type Message struct {
	Discipline uint8
	Centre     uint16
	// RefTime is the reference (run) time, UTC.
	RefTime time.Time
	Grid    Grid
	Product Product
	// Values holds Nx*Ny values, row 0 south, column 0 west. Points masked
	// out by the bit-map are NaN.
	Values []float64
}

// Parameter returns the parameter identity of the message.
func (m *Message) Parameter() Parameter {
	return Parameter{Discipline: m.Discipline, Category: m.Product.Category, Number: m.Product.Number}
}

func normalizeLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}
