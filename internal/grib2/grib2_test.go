package grib2

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/couchcryptid/storm-hazard-maps/internal/projection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var runTime = time.Date(2025, time.October, 8, 6, 0, 0, 0, time.UTC)

func testGrid(nx, ny int) Grid {
	return Grid{
		ShapeOfEarth: 5,
		Earth:        projection.WGS84,
		Nx:           nx,
		Ny:           ny,
		La1:          46.957,
		Lo1:          3.594,
		LaD:          60,
		LoV:          10,
		Dx:           1000,
		Dy:           1000,
		ScanMode:     ScanPlusJ,
	}
}

func testMessage(nx, ny int, lead time.Duration, fill func(k int) float64) *Message {
	vals := make([]float64, nx*ny)
	for k := range vals {
		vals[k] = fill(k)
	}
	return &Message{
		Discipline: 0,
		Centre:     78,
		RefTime:    runTime,
		Grid:       testGrid(nx, ny),
		Product:    Product{Template: 0, Category: 19, Number: 2, HasLead: true, Lead: lead},
		Values:     vals,
	}
}

func encode(t *testing.T, msgs ...*Message) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, m := range msgs {
		require.NoError(t, w.Write(m))
	}
	return buf.Bytes()
}

func TestRoundTrip_SingleField(t *testing.T) {
	in := testMessage(7, 5, 3*time.Hour, func(k int) float64 { return float64(k%101) * 0.99 })

	out, err := ReadAll(bytes.NewReader(encode(t, in)))
	require.NoError(t, err)
	require.Len(t, out, 1)

	got := out[0]
	assert.Equal(t, uint8(0), got.Discipline)
	assert.Equal(t, uint16(78), got.Centre)
	assert.Equal(t, runTime, got.RefTime)
	assert.Equal(t, Parameter{Discipline: 0, Category: 19, Number: 2}, got.Parameter())
	assert.True(t, got.Product.HasLead)
	assert.Equal(t, 3*time.Hour, got.Product.Lead)

	assert.Equal(t, 7, got.Grid.Nx)
	assert.Equal(t, 5, got.Grid.Ny)
	assert.InDelta(t, 46.957, got.Grid.La1, 1e-9)
	assert.InDelta(t, 3.594, got.Grid.Lo1, 1e-9)
	assert.InDelta(t, 60, got.Grid.LaD, 1e-9)
	assert.InDelta(t, 10, got.Grid.LoV, 1e-9)
	assert.InDelta(t, 1000, got.Grid.Dx, 1e-9)
	assert.Equal(t, projection.WGS84, got.Grid.Earth)

	require.Len(t, got.Values, len(in.Values))
	for k := range in.Values {
		assert.InDelta(t, in.Values[k], got.Values[k], 0.006, "value %d", k)
	}
}

func TestRoundTrip_ConstantFieldUsesZeroBits(t *testing.T) {
	in := testMessage(4, 4, 0, func(int) float64 { return 75 })
	data := encode(t, in)

	out, err := ReadAll(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, out, 1)
	for _, v := range out[0].Values {
		assert.Equal(t, 75.0, v)
	}
}

func TestRoundTrip_MissingValuesBecomeNaN(t *testing.T) {
	in := testMessage(5, 3, time.Hour, func(k int) float64 {
		if k%4 == 0 {
			return math.NaN()
		}
		return float64(k)
	})

	out, err := ReadAll(bytes.NewReader(encode(t, in)))
	require.NoError(t, err)
	for k, v := range out[0].Values {
		if k%4 == 0 {
			assert.True(t, math.IsNaN(v), "value %d should be missing", k)
			continue
		}
		assert.InDelta(t, float64(k), v, 0.006)
	}
}

func TestReadAll_MultipleMessagesAndPadding(t *testing.T) {
	a := testMessage(3, 2, time.Hour, func(int) float64 { return 1 })
	b := testMessage(3, 2, 90*time.Minute, func(int) float64 { return 2 })

	stream := append([]byte("\x00\x00junk"), encode(t, a)...)
	stream = append(stream, '\n')
	stream = append(stream, encode(t, b)...)

	out, err := ReadAll(bytes.NewReader(stream))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, time.Hour, out[0].Product.Lead)
	assert.Equal(t, 90*time.Minute, out[1].Product.Lead)
	assert.Equal(t, 2.0, out[1].Values[0])
}

func TestRead_TemplateWithoutLead(t *testing.T) {
	in := testMessage(2, 2, 0, func(int) float64 { return 5 })
	in.Product = Product{Template: 20, Category: 19, Number: 2}

	out, err := ReadAll(bytes.NewReader(encode(t, in)))
	require.NoError(t, err)
	assert.False(t, out[0].Product.HasLead)
	assert.Equal(t, uint8(19), out[0].Product.Category)
}

func TestRead_Truncated(t *testing.T) {
	data := encode(t, testMessage(4, 4, 0, func(int) float64 { return 1 }))

	_, err := ReadAll(bytes.NewReader(data[:len(data)-10]))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestRead_UnsupportedEdition(t *testing.T) {
	data := encode(t, testMessage(2, 2, 0, func(int) float64 { return 1 }))
	data[7] = 1

	_, err := ReadAll(bytes.NewReader(data))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestRead_UnsupportedGridTemplate(t *testing.T) {
	data := encode(t, testMessage(2, 2, 0, func(int) float64 { return 1 }))
	// Section 3 starts after section 0 (16) and section 1 (21); the low byte
	// of its template number sits at offset 13.
	data[16+21+13] = 30

	_, err := ReadAll(bytes.NewReader(data))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestReadAll_Empty(t *testing.T) {
	out, err := ReadAll(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestNormalizeScan(t *testing.T) {
	// 3x2 grid scanned north to south, east to west.
	raw := []float64{
		6, 5, 4, // northern row, east first
		3, 2, 1,
	}
	g := Grid{Nx: 3, Ny: 2, ScanMode: ScanMinusI}
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, normalizeScan(raw, g))

	g.ScanMode = ScanPlusJ
	assert.Equal(t, raw, normalizeScan(raw, g))
}

func TestGridDefinition_NorthToSouthScan(t *testing.T) {
	g := testGrid(10, 8)
	def, err := g.Definition()
	require.NoError(t, err)
	assert.InDelta(t, 3.594, def.FirstLon, 1e-9)
	assert.Equal(t, 90.0, def.Projection.PoleLat)

	// The same grid described from its north-west corner.
	ps, err := projection.NewPolarStereographic(def.Projection)
	require.NoError(t, err)
	x0, y0, err := ps.ComputeOrigin(def.FirstLon, def.FirstLat)
	require.NoError(t, err)
	nwLon, nwLat := ps.Inverse(x0, y0+7*1000)

	flipped := g
	flipped.ScanMode = 0
	flipped.Lo1, flipped.La1 = nwLon, nwLat
	fdef, err := flipped.Definition()
	require.NoError(t, err)
	assert.InDelta(t, def.FirstLon, fdef.FirstLon, 1e-6)
	assert.InDelta(t, def.FirstLat, fdef.FirstLat, 1e-6)
}

func TestEarthShape(t *testing.T) {
	e, err := earthShape(6, 0, 0, 0, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, projection.Sphere(6371229), e)

	e, err = earthShape(1, 1, 63712290, 0, 0, 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 6371229, e.SemiMajor, 1e-6)

	_, err = earthShape(9, 0, 0, 0, 0, 0, 0)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestSignMagnitude(t *testing.T) {
	b := make([]byte, 4)
	putSigned32(b, -46957000)
	assert.Equal(t, int32(-46957000), signed32(b))

	s := make([]byte, 2)
	putSigned16(s, -3)
	assert.Equal(t, int16(-3), signed16(s))
}
