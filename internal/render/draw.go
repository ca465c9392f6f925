package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"
	"time"

	"github.com/couchcryptid/storm-hazard-maps/internal/forecast"
	"github.com/couchcryptid/storm-hazard-maps/internal/hazard"
	"github.com/couchcryptid/storm-hazard-maps/internal/projection"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
)

var (
	black = color.RGBA{A: 0xff}
	white = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

	boldFont    = mustParseFont(gobold.TTF)
	regularFont = mustParseFont(goregular.TTF)
)

// Point sizes and stroke widths of the chart furniture.
const (
	cityLabelSize   = 9
	cityMarkerSize  = 6
	cityMarkerEdge  = 1.5
	cityLabelHalo   = 1.5
	cityLabelOffset = 0.1 // degrees
	footerTextSize  = 12
	footerLeading   = 1.2
	tickLabelSize   = 7
	tickLength      = 3.5
	tickPad         = 3.5
	outlineWidth    = 0.8
)

func mustParseFont(ttf []byte) *truetype.Font {
	f, err := truetype.Parse(ttf)
	if err != nil {
		panic(err)
	}
	return f
}

// faces are the font faces of one render. truetype faces cache glyphs and
// must not be shared between goroutines.
type faces struct {
	city, footer, tick font.Face
}

func newFaces(dpi float64) *faces {
	face := func(f *truetype.Font, size float64) font.Face {
		return truetype.NewFace(f, &truetype.Options{Size: size, DPI: dpi, Hinting: font.HintingFull})
	}
	return &faces{
		city:   face(boldFont, cityLabelSize),
		footer: face(boldFont, footerTextSize),
		tick:   face(regularFont, tickLabelSize),
	}
}

func (f *faces) Close() {
	_ = f.city.Close()
	_ = f.footer.Close()
	_ = f.tick.Close()
}

func fillRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	draw.Draw(img, r, &image.Uniform{C: c}, image.Point{}, draw.Src)
}

// mapPixels returns the whole pixels covered by the map area.
func (c *Composer) mapPixels() image.Rectangle {
	m := c.geo.Map
	r := image.Rect(
		int(math.Round(m.X0)), int(math.Round(m.Y0)),
		int(math.Round(m.X1)), int(math.Round(m.Y1)),
	)
	return r.Intersect(image.Rect(0, 0, c.geo.Width, c.geo.Height))
}

// drawField paints the map area in two passes: the lowest band everywhere,
// then every pixel whose centre falls inside the grid and samples a finite
// value in the colour of its band.
func (c *Composer) drawField(img *image.RGBA, area image.Rectangle, grid *projection.CoordinateGrid, field forecast.Field) {
	fillRect(img, area, c.palette[0])

	scale := c.product.Scale
	for py := area.Min.Y; py < area.Max.Y; py++ {
		for px := area.Min.X; px < area.Max.X; px++ {
			lon, lat := c.proj.toLonLat(float64(px)+0.5, float64(py)+0.5)
			fi, fj, ok := grid.Locate(lon, lat)
			if !ok {
				continue
			}
			v := bilinear(field, fi, fj)
			if math.IsNaN(v) {
				continue
			}
			img.SetRGBA(px, py, c.palette[hazard.Classify(v, scale)])
		}
	}
}

// bilinear samples f at fractional cell index (fi, fj), which must lie
// inside the grid. Cells next to a missing value fall back to the nearest
// neighbour.
func bilinear(f forecast.Field, fi, fj float64) float64 {
	i0, j0 := int(math.Floor(fi)), int(math.Floor(fj))
	i1, j1 := min(i0+1, f.Nx-1), min(j0+1, f.Ny-1)
	tx, ty := fi-float64(i0), fj-float64(j0)

	v00, v10 := f.At(i0, j0), f.At(i1, j0)
	v01, v11 := f.At(i0, j1), f.At(i1, j1)
	if math.IsNaN(v00) || math.IsNaN(v10) || math.IsNaN(v01) || math.IsNaN(v11) {
		return f.At(int(math.Round(fi)), int(math.Round(fj)))
	}
	return (1-ty)*((1-tx)*v00+tx*v10) + ty*((1-tx)*v01+tx*v11)
}

func (c *Composer) clipToMap(dc *gg.Context, area image.Rectangle) {
	dc.DrawRectangle(float64(area.Min.X), float64(area.Min.Y), float64(area.Dx()), float64(area.Dy()))
	dc.Clip()
}

func (c *Composer) drawLayers(dc *gg.Context, area image.Rectangle) {
	if len(c.layers) == 0 {
		return
	}
	dc.Push()
	defer dc.Pop()
	c.clipToMap(dc, area)

	pt := c.geo.pt
	for _, l := range c.layers {
		width := l.width * pt
		dash := make([]float64, len(l.dash))
		for k, d := range l.dash {
			dash[k] = d * width
		}
		dc.SetColor(l.color)
		dc.SetLineWidth(width)
		dc.SetDash(dash...)
		for _, line := range l.lines {
			for k, p := range line {
				x, y := c.proj.toPixel(p.X, p.Y)
				if k == 0 {
					dc.MoveTo(x, y)
					continue
				}
				dc.LineTo(x, y)
			}
			dc.Stroke()
		}
	}
	dc.SetDash()
	dc.ResetClip()
}

func (c *Composer) drawCities(dc *gg.Context, area image.Rectangle, f *faces) {
	pt := c.geo.pt

	dc.Push()
	c.clipToMap(dc, area)
	for _, city := range c.product.Cities {
		x, y := c.proj.toPixel(city.Lon, city.Lat)
		dc.DrawCircle(x, y, cityMarkerSize/2*pt)
		dc.SetColor(black)
		dc.FillPreserve()
		dc.SetColor(white)
		dc.SetLineWidth(cityMarkerEdge * pt)
		dc.Stroke()
	}
	dc.ResetClip()
	dc.Pop()

	dc.SetFontFace(f.city)
	for _, city := range c.product.Cities {
		x, y := c.proj.toPixel(city.Lon+cityLabelOffset, city.Lat+cityLabelOffset)
		haloString(dc, city.Name, x, y, cityLabelHalo/2*pt)
	}
}

// haloString draws s with its baseline at (x, y) in black over a white
// outline of radius r.
func haloString(dc *gg.Context, s string, x, y, r float64) {
	dc.SetColor(white)
	for k := range 16 {
		a := float64(k) * math.Pi / 8
		dc.DrawString(s, x+r*math.Cos(a), y+r*math.Sin(a))
	}
	dc.SetColor(black)
	dc.DrawString(s, x, y)
}

func (c *Composer) drawLegend(dc *gg.Context, f *faces) {
	lb := c.geo.Legend
	pt := c.geo.pt
	bounds := c.product.Scale.Bounds
	cell := lb.W() / float64(len(c.palette))

	for k, col := range c.palette {
		dc.DrawRectangle(lb.X0+float64(k)*cell, lb.Y0, cell, lb.H())
		dc.SetColor(col)
		dc.Fill()
	}

	dc.SetColor(black)
	dc.SetLineWidth(outlineWidth * pt)
	dc.DrawRectangle(lb.X0, lb.Y0, lb.W(), lb.H())
	dc.Stroke()

	dc.SetFontFace(f.tick)
	for k, b := range bounds {
		x := lb.X0 + float64(k)*cell
		dc.DrawLine(x, lb.Y1, x, lb.Y1+tickLength*pt)
		dc.Stroke()
		dc.DrawStringAnchored(tickLabel(b), x, lb.Y1+(tickLength+tickPad)*pt, 0.5, 1)
	}
}

func tickLabel(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func (c *Composer) drawFooter(dc *gg.Context, f *faces, runTime, validLocal time.Time) {
	fb := c.geo.Footer
	ft := c.product.Footer
	leading := footerLeading * footerTextSize * c.geo.pt

	runHour := "run"
	if !runTime.IsZero() {
		runHour = runTime.UTC().Format("15") + "z"
	}

	dc.SetFontFace(f.footer)
	dc.SetColor(black)

	x, y := fb.at(0.01, 0.85)
	dc.DrawStringAnchored(ft.Title, x, y, 0, 1)
	dc.DrawStringAnchored(ft.sourceLine(runHour), x, y+leading, 0, 1)

	x, y = fb.at(0.734, 0.92)
	dc.DrawStringAnchored(ft.ValidLabel, x, y, 0, 1)

	x, y = fb.at(0.99, 0.68)
	dc.DrawStringAnchored(validLocal.Format(ft.ValidFormat), x, y, 1, 1)
}
