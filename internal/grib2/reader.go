package grib2

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/couchcryptid/storm-hazard-maps/internal/projection"
)

const (
	section0Len = 16
	endMarker   = "7777"
)

// leadTemplates are the product definition templates that start with the
// 4.0 layout, including the forecast time.
var leadTemplates = map[uint16]bool{
	0: true, 1: true, 2: true, 5: true, 6: true, 8: true,
	9: true, 10: true, 11: true, 12: true, 15: true,
}

// Reader decodes GRIB2 messages from a stream. A message carrying several
// fields yields them one by one.
type Reader struct {
	r        *bufio.Reader
	pending  []*Message
	messages int
}

// NewReader returns a Reader consuming r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next field. It returns io.EOF when the stream holds no
// further messages.
func (r *Reader) Next() (*Message, error) {
	for len(r.pending) == 0 {
		fields, err := r.readMessage()
		if err != nil {
			return nil, err
		}
		r.pending = fields
	}
	m := r.pending[0]
	r.pending = r.pending[1:]
	return m, nil
}

// ReadAll decodes every field in r.
func ReadAll(r io.Reader) ([]*Message, error) {
	rd := NewReader(r)
	var out []*Message
	for {
		m, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
}

func (r *Reader) readMessage() ([]*Message, error) {
	if err := r.seekMagic(); err != nil {
		return nil, err
	}
	r.messages++

	var head [section0Len - 4]byte
	if _, err := io.ReadFull(r.r, head[:]); err != nil {
		return nil, fmt.Errorf("%w: message %d: truncated indicator section", ErrFormat, r.messages)
	}
	discipline := head[2]
	if edition := head[3]; edition != 2 {
		return nil, fmt.Errorf("%w: message %d: edition %d", ErrUnsupported, r.messages, edition)
	}
	total := binary.BigEndian.Uint64(head[4:12])
	if total < section0Len+4 || total > math.MaxInt32 {
		return nil, fmt.Errorf("%w: message %d: length %d", ErrFormat, r.messages, total)
	}

	body := make([]byte, total-section0Len)
	if _, err := io.ReadFull(r.r, body); err != nil {
		return nil, fmt.Errorf("%w: message %d: truncated body", ErrFormat, r.messages)
	}
	fields, err := decodeBody(discipline, body)
	if err != nil {
		return nil, fmt.Errorf("message %d: %w", r.messages, err)
	}
	return fields, nil
}

// seekMagic skips bytes until "GRIB" has been consumed.
func (r *Reader) seekMagic() error {
	var window [4]byte
	n := 0
	for {
		b, err := r.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return err
		}
		copy(window[:], window[1:])
		window[3] = b
		n++
		if n >= 4 && string(window[:]) == "GRIB" {
			return nil
		}
	}
}

type simplePacking struct {
	count  int
	ref    float64
	binExp int
	decExp int
	bits   int
}

// decodeBody walks sections 1 to 8. Sections 2-7, 3-7 and 4-7 may repeat;
// each section 7 completes one field.
func decodeBody(discipline uint8, body []byte) ([]*Message, error) {
	var (
		fields  []*Message
		refTime time.Time
		centre  uint16
		haveS1  bool
		grid    *Grid
		points  int
		product *Product
		packing *simplePacking
		bitmap  []byte
		noMap   = true
	)

	off := 0
	for {
		if len(body)-off == len(endMarker) && string(body[off:]) == endMarker {
			return fields, nil
		}
		if len(body)-off < 5 {
			return nil, fmt.Errorf("%w: missing end section", ErrFormat)
		}
		length := int(binary.BigEndian.Uint32(body[off:]))
		if length < 5 || off+length > len(body) {
			return nil, fmt.Errorf("%w: section length %d at offset %d", ErrFormat, length, off+section0Len)
		}
		sec := body[off : off+length]
		off += length

		switch num := sec[4]; num {
		case 1:
			t, c, err := parseIdentification(sec)
			if err != nil {
				return nil, err
			}
			refTime, centre, haveS1 = t, c, true
		case 2:
			// local use, ignored
		case 3:
			g, n, err := parseGrid(sec)
			if err != nil {
				return nil, err
			}
			grid, points = &g, n
		case 4:
			p, err := parseProduct(sec)
			if err != nil {
				return nil, err
			}
			product = &p
		case 5:
			p, err := parsePacking(sec)
			if err != nil {
				return nil, err
			}
			packing = &p
		case 6:
			if len(sec) < 6 {
				return nil, fmt.Errorf("%w: short bit-map section", ErrFormat)
			}
			switch ind := sec[5]; ind {
			case 0:
				bitmap, noMap = sec[6:], false
			case 254:
				if bitmap == nil {
					return nil, fmt.Errorf("%w: bit-map reuse without a previous bit-map", ErrFormat)
				}
				noMap = false
			case 255:
				noMap = true
			default:
				return nil, fmt.Errorf("%w: predefined bit-map %d", ErrUnsupported, ind)
			}
		case 7:
			if !haveS1 || grid == nil || product == nil || packing == nil {
				return nil, fmt.Errorf("%w: data section before its definitions", ErrFormat)
			}
			var mask []byte
			if !noMap {
				mask = bitmap
			}
			raw, err := unpackSimple(*packing, sec[5:], points, mask)
			if err != nil {
				return nil, err
			}
			fields = append(fields, &Message{
				Discipline: discipline,
				Centre:     centre,
				RefTime:    refTime,
				Grid:       *grid,
				Product:    *product,
				Values:     normalizeScan(raw, *grid),
			})
		default:
			return nil, fmt.Errorf("%w: unknown section %d", ErrFormat, num)
		}
	}
}

func parseIdentification(sec []byte) (time.Time, uint16, error) {
	if len(sec) < 21 {
		return time.Time{}, 0, fmt.Errorf("%w: short identification section", ErrFormat)
	}
	centre := binary.BigEndian.Uint16(sec[5:7])
	year := int(binary.BigEndian.Uint16(sec[12:14]))
	t := time.Date(year, time.Month(sec[14]), int(sec[15]), int(sec[16]), int(sec[17]), int(sec[18]), 0, time.UTC)
	return t, centre, nil
}

func parseGrid(sec []byte) (Grid, int, error) {
	if len(sec) < 14 {
		return Grid{}, 0, fmt.Errorf("%w: short grid definition section", ErrFormat)
	}
	if sec[5] != 0 {
		return Grid{}, 0, fmt.Errorf("%w: grid definition source %d", ErrUnsupported, sec[5])
	}
	points := int(binary.BigEndian.Uint32(sec[6:10]))
	if tmpl := binary.BigEndian.Uint16(sec[12:14]); tmpl != 20 {
		return Grid{}, 0, fmt.Errorf("%w: grid template 3.%d", ErrUnsupported, tmpl)
	}
	if len(sec) < 65 {
		return Grid{}, 0, fmt.Errorf("%w: short grid template 3.20", ErrFormat)
	}

	earth, err := earthShape(sec[14], sec[15], binary.BigEndian.Uint32(sec[16:20]),
		sec[20], binary.BigEndian.Uint32(sec[21:25]),
		sec[25], binary.BigEndian.Uint32(sec[26:30]))
	if err != nil {
		return Grid{}, 0, err
	}

	g := Grid{
		ShapeOfEarth: sec[14],
		Earth:        earth,
		Nx:           int(binary.BigEndian.Uint32(sec[30:34])),
		Ny:           int(binary.BigEndian.Uint32(sec[34:38])),
		La1:          float64(signed32(sec[38:42])) * 1e-6,
		Lo1:          float64(binary.BigEndian.Uint32(sec[42:46])) * 1e-6,
		LaD:          float64(signed32(sec[47:51])) * 1e-6,
		LoV:          float64(binary.BigEndian.Uint32(sec[51:55])) * 1e-6,
		Dx:           float64(binary.BigEndian.Uint32(sec[55:59])) * 1e-3,
		Dy:           float64(binary.BigEndian.Uint32(sec[59:63])) * 1e-3,
		SouthPole:    sec[63]&0x80 != 0,
		ScanMode:     sec[64],
	}
	if g.ScanMode&(ScanConsecutiveJ|0x10) != 0 {
		return Grid{}, 0, fmt.Errorf("%w: scanning mode %#02x", ErrUnsupported, g.ScanMode)
	}
	if g.Nx <= 0 || g.Ny <= 0 || g.Nx*g.Ny != points {
		return Grid{}, 0, fmt.Errorf("%w: grid %dx%d does not match %d points", ErrFormat, g.Nx, g.Ny, points)
	}
	return g, points, nil
}

// earthShape maps code table 3.2 to an ellipsoid.
func earthShape(code, sfRadius uint8, svRadius uint32, sfMajor uint8, svMajor uint32, sfMinor uint8, svMinor uint32) (projection.Ellipsoid, error) {
	scaled := func(sf uint8, sv uint32) float64 { return float64(sv) / math.Pow10(int(sf)) }
	fromAxes := func(a, b float64) projection.Ellipsoid {
		if a == b {
			return projection.Sphere(a)
		}
		return projection.Ellipsoid{SemiMajor: a, InvFlattening: a / (a - b)}
	}

	switch code {
	case 0:
		return projection.Sphere(6367470), nil
	case 1:
		return projection.Sphere(scaled(sfRadius, svRadius)), nil
	case 2:
		return projection.Ellipsoid{SemiMajor: 6378160, InvFlattening: 297}, nil
	case 3:
		return fromAxes(scaled(sfMajor, svMajor)*1000, scaled(sfMinor, svMinor)*1000), nil
	case 4:
		return projection.GRS80, nil
	case 5:
		return projection.WGS84, nil
	case 6:
		return projection.Sphere(6371229), nil
	case 7:
		return fromAxes(scaled(sfMajor, svMajor), scaled(sfMinor, svMinor)), nil
	case 8:
		return projection.Sphere(6371200), nil
	default:
		return projection.Ellipsoid{}, fmt.Errorf("%w: shape of earth %d", ErrUnsupported, code)
	}
}

func parseProduct(sec []byte) (Product, error) {
	if len(sec) < 11 {
		return Product{}, fmt.Errorf("%w: short product definition section", ErrFormat)
	}
	p := Product{
		Template: binary.BigEndian.Uint16(sec[7:9]),
		Category: sec[9],
		Number:   sec[10],
	}
	if !leadTemplates[p.Template] {
		return p, nil
	}
	if len(sec) < 22 {
		return Product{}, fmt.Errorf("%w: short product template 4.%d", ErrFormat, p.Template)
	}
	unit, err := timeUnit(sec[17])
	if err != nil {
		return Product{}, err
	}
	p.HasLead = true
	p.Lead = time.Duration(signed32(sec[18:22])) * unit
	return p, nil
}

// timeUnit maps code table 4.4 to a duration.
func timeUnit(code uint8) (time.Duration, error) {
	switch code {
	case 0:
		return time.Minute, nil
	case 1:
		return time.Hour, nil
	case 2:
		return 24 * time.Hour, nil
	case 10:
		return 3 * time.Hour, nil
	case 11:
		return 6 * time.Hour, nil
	case 12:
		return 12 * time.Hour, nil
	case 13:
		return time.Second, nil
	default:
		return 0, fmt.Errorf("%w: time range unit %d", ErrUnsupported, code)
	}
}

func parsePacking(sec []byte) (simplePacking, error) {
	if len(sec) < 11 {
		return simplePacking{}, fmt.Errorf("%w: short data representation section", ErrFormat)
	}
	if tmpl := binary.BigEndian.Uint16(sec[9:11]); tmpl != 0 {
		return simplePacking{}, fmt.Errorf("%w: data representation template 5.%d", ErrUnsupported, tmpl)
	}
	if len(sec) < 21 {
		return simplePacking{}, fmt.Errorf("%w: short data representation template 5.0", ErrFormat)
	}
	return simplePacking{
		count:  int(binary.BigEndian.Uint32(sec[5:9])),
		ref:    float64(math.Float32frombits(binary.BigEndian.Uint32(sec[11:15]))),
		binExp: int(signed16(sec[15:17])),
		decExp: int(signed16(sec[17:19])),
		bits:   int(sec[19]),
	}, nil
}

// unpackSimple expands simple-packed data: Y = (R + X*2^E) / 10^D.
func unpackSimple(p simplePacking, data []byte, points int, bitmap []byte) ([]float64, error) {
	if p.bits > 32 {
		return nil, fmt.Errorf("%w: %d bits per value", ErrUnsupported, p.bits)
	}
	if bitmap != nil && len(bitmap)*8 < points {
		return nil, fmt.Errorf("%w: bit-map covers %d of %d points", ErrFormat, len(bitmap)*8, points)
	}
	present := points
	if bitmap != nil {
		present = 0
		for k := range points {
			if bit(bitmap, k) {
				present++
			}
		}
	}
	if present != p.count {
		return nil, fmt.Errorf("%w: %d packed values for %d present points", ErrFormat, p.count, present)
	}
	if len(data)*8 < p.count*p.bits {
		return nil, fmt.Errorf("%w: data section holds %d bits, need %d", ErrFormat, len(data)*8, p.count*p.bits)
	}

	binScale := math.Pow(2, float64(p.binExp))
	decScale := math.Pow10(p.decExp)
	br := bitReader{data: data}
	out := make([]float64, points)
	for k := range out {
		if bitmap != nil && !bit(bitmap, k) {
			out[k] = math.NaN()
			continue
		}
		x := br.read(p.bits)
		out[k] = (p.ref + float64(x)*binScale) / decScale
	}
	return out, nil
}

// normalizeScan reorders values from the message scanning mode into rows
// running south to north, columns west to east.
func normalizeScan(raw []float64, g Grid) []float64 {
	minusI := g.ScanMode&ScanMinusI != 0
	plusJ := g.ScanMode&ScanPlusJ != 0
	if !minusI && plusJ {
		return raw
	}
	out := make([]float64, len(raw))
	for r := range g.Ny {
		j := r
		if !plusJ {
			j = g.Ny - 1 - r
		}
		for c := range g.Nx {
			i := c
			if minusI {
				i = g.Nx - 1 - c
			}
			out[j*g.Nx+i] = raw[r*g.Nx+c]
		}
	}
	return out
}

type bitReader struct {
	data []byte
	pos  int
}

func (b *bitReader) read(n int) uint64 {
	var v uint64
	for range n {
		byteIdx := b.pos >> 3
		shift := 7 - uint(b.pos&7)
		v = v<<1 | uint64(b.data[byteIdx]>>shift&1)
		b.pos++
	}
	return v
}

func bit(bitmap []byte, k int) bool {
	return bitmap[k>>3]>>(7-uint(k&7))&1 == 1
}

// signed16 and signed32 decode GRIB2 sign-magnitude integers.
func signed16(b []byte) int16 {
	v := binary.BigEndian.Uint16(b)
	if v&0x8000 != 0 {
		return -int16(v & 0x7fff)
	}
	return int16(v)
}

func signed32(b []byte) int32 {
	v := binary.BigEndian.Uint32(b)
	if v&0x80000000 != 0 {
		return -int32(v & 0x7fffffff)
	}
	return int32(v)
}
