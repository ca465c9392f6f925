package grib2

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/bits"
	"time"
)

// Writer encodes fields as single-field GRIB2 messages with template 3.20,
// a 4.0-layout product section and simple packing. It produces fixtures for
// tests and the genmock command; it is not a general-purpose encoder.
type Writer struct {
	w io.Writer
	// DecimalScale is the decimal scale factor D applied before packing.
	DecimalScale int
}

// NewWriter returns a Writer with two decimal digits of precision.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, DecimalScale: 2}
}

// Write encodes m. Values must be in normalised order (row 0 south); NaN
// values are written as bit-map holes. The grid's La1/Lo1 must be the
// south-west corner; the scanning mode is always written as +i +j.
func (w *Writer) Write(m *Message) error {
	g := m.Grid
	if g.Nx <= 0 || g.Ny <= 0 || len(m.Values) != g.Nx*g.Ny {
		return fmt.Errorf("grib2 write: %d values for %dx%d grid", len(m.Values), g.Nx, g.Ny)
	}

	var body bytes.Buffer
	writeSection(&body, 1, identification(m.Centre, m.RefTime))
	writeSection(&body, 3, gridSection(g))
	prod, err := productSection(m.Product)
	if err != nil {
		return err
	}
	writeSection(&body, 4, prod)
	rep, bitmap, data := pack(m.Values, w.DecimalScale)
	writeSection(&body, 5, rep)
	writeSection(&body, 6, bitmap)
	writeSection(&body, 7, data)
	body.WriteString(endMarker)

	var head [section0Len]byte
	copy(head[:], "GRIB")
	head[6] = m.Discipline
	head[7] = 2
	binary.BigEndian.PutUint64(head[8:], uint64(section0Len+body.Len()))

	if _, err := w.w.Write(head[:]); err != nil {
		return fmt.Errorf("grib2 write: %w", err)
	}
	if _, err := w.w.Write(body.Bytes()); err != nil {
		return fmt.Errorf("grib2 write: %w", err)
	}
	return nil
}

func writeSection(buf *bytes.Buffer, num byte, payload []byte) {
	var head [5]byte
	binary.BigEndian.PutUint32(head[:4], uint32(5+len(payload)))
	head[4] = num
	buf.Write(head[:])
	buf.Write(payload)
}

func identification(centre uint16, t time.Time) []byte {
	t = t.UTC()
	p := make([]byte, 16)
	binary.BigEndian.PutUint16(p[0:], centre)
	p[4] = 2 // master tables version
	p[6] = 1 // reference time is the start of forecast
	binary.BigEndian.PutUint16(p[7:], uint16(t.Year()))
	p[9] = byte(t.Month())
	p[10] = byte(t.Day())
	p[11] = byte(t.Hour())
	p[12] = byte(t.Minute())
	p[13] = byte(t.Second())
	p[15] = 1 // forecast products
	return p
}

func gridSection(g Grid) []byte {
	p := make([]byte, 60)
	binary.BigEndian.PutUint32(p[1:], uint32(g.Nx*g.Ny))
	binary.BigEndian.PutUint16(p[7:], 20)

	p[9] = g.ShapeOfEarth
	switch g.ShapeOfEarth {
	case 1:
		binary.BigEndian.PutUint32(p[11:], uint32(math.Round(g.Earth.SemiMajor)))
	case 7:
		a := g.Earth.SemiMajor
		b := a
		if g.Earth.InvFlattening > 0 {
			b = a * (1 - 1/g.Earth.InvFlattening)
		}
		binary.BigEndian.PutUint32(p[16:], uint32(math.Round(a)))
		binary.BigEndian.PutUint32(p[21:], uint32(math.Round(b)))
	}

	binary.BigEndian.PutUint32(p[25:], uint32(g.Nx))
	binary.BigEndian.PutUint32(p[29:], uint32(g.Ny))
	putSigned32(p[33:], int32(math.Round(g.La1*1e6)))
	binary.BigEndian.PutUint32(p[37:], uint32(math.Round(lon360(g.Lo1)*1e6)))
	p[41] = 0x08 // grid increments given
	putSigned32(p[42:], int32(math.Round(g.LaD*1e6)))
	binary.BigEndian.PutUint32(p[46:], uint32(math.Round(lon360(g.LoV)*1e6)))
	binary.BigEndian.PutUint32(p[50:], uint32(math.Round(g.Dx*1e3)))
	binary.BigEndian.PutUint32(p[54:], uint32(math.Round(g.Dy*1e3)))
	if g.SouthPole {
		p[58] = 0x80
	}
	p[59] = ScanPlusJ
	return p
}

func productSection(p Product) ([]byte, error) {
	tmpl := p.Template
	if p.HasLead && !leadTemplates[tmpl] {
		tmpl = 0
	}
	out := make([]byte, 29)
	binary.BigEndian.PutUint16(out[2:], tmpl)
	out[4] = p.Category
	out[5] = p.Number
	out[6] = 2 // forecast
	if !p.HasLead {
		return out, nil
	}

	unit, value := byte(1), p.Lead/time.Hour
	if p.Lead%time.Hour != 0 {
		unit, value = 0, p.Lead/time.Minute
		if p.Lead%time.Minute != 0 {
			return nil, fmt.Errorf("grib2 write: lead %s is not a whole number of minutes", p.Lead)
		}
	}
	out[12] = unit
	putSigned32(out[13:], int32(value))
	out[17] = 1 // ground or water surface
	return out, nil
}

// pack builds sections 5, 6 and 7 for simple packing with E = 0.
func pack(values []float64, decimal int) (rep, bitmap, data []byte) {
	scale := math.Pow10(decimal)
	present := make([]float64, 0, len(values))
	var mask []byte
	hasMissing := false
	for _, v := range values {
		if math.IsNaN(v) {
			hasMissing = true
			break
		}
	}
	if hasMissing {
		mask = make([]byte, (len(values)+7)/8)
	}
	for k, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if mask != nil {
			mask[k>>3] |= 1 << (7 - uint(k&7))
		}
		present = append(present, v*scale)
	}

	ref := 0.0
	if len(present) > 0 {
		ref = present[0]
		for _, v := range present {
			ref = math.Min(ref, v)
		}
	}
	ref = float64(float32(ref))

	var maxX uint64
	xs := make([]uint64, len(present))
	for k, v := range present {
		x := math.Round(v - ref)
		if x < 0 {
			x = 0
		}
		xs[k] = uint64(x)
		maxX = max(maxX, xs[k])
	}
	nbits := bits.Len64(maxX)

	rep = make([]byte, 16)
	binary.BigEndian.PutUint32(rep[0:], uint32(len(present)))
	binary.BigEndian.PutUint16(rep[4:], 0)
	binary.BigEndian.PutUint32(rep[6:], math.Float32bits(float32(ref)))
	putSigned16(rep[12:], int16(decimal))
	rep[14] = byte(nbits)

	if mask != nil {
		bitmap = append([]byte{0}, mask...)
	} else {
		bitmap = []byte{255}
	}

	data = make([]byte, (len(xs)*nbits+7)/8)
	pos := 0
	for _, x := range xs {
		for b := nbits - 1; b >= 0; b-- {
			if x>>uint(b)&1 == 1 {
				data[pos>>3] |= 1 << (7 - uint(pos&7))
			}
			pos++
		}
	}
	return rep, bitmap, data
}

func lon360(lon float64) float64 {
	lon = math.Mod(lon, 360)
	if lon < 0 {
		lon += 360
	}
	return lon
}

func putSigned16(b []byte, v int16) {
	u := uint16(v)
	if v < 0 {
		u = uint16(-v) | 0x8000
	}
	binary.BigEndian.PutUint16(b, u)
}

func putSigned32(b []byte, v int32) {
	u := uint32(v)
	if v < 0 {
		u = uint32(-v) | 0x80000000
	}
	binary.BigEndian.PutUint32(b, u)
}
