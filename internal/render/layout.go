package render

import "math"

// box is a rectangle in image pixels, y growing downwards.
type box struct {
	X0, Y0, X1, Y1 float64
}

func (b box) W() float64 { return b.X1 - b.X0 }
func (b box) H() float64 { return b.Y1 - b.Y0 }

// at returns the pixel position of figure-fraction coordinates (fx, fy)
// inside b, with fy measured upwards from the bottom edge.
func (b box) at(fx, fy float64) (x, y float64) {
	return b.X0 + fx*b.W(), b.Y1 - fy*b.H()
}

// geometry is a Layout resolved to output pixels.
type geometry struct {
	Width, Height int
	// pt converts points to pixels.
	pt     float64
	Map    box
	Legend box
	Footer box
}

// figureBox converts an axes rectangle in figure fractions (left, bottom,
// width, height; bottom-up) to pixels.
func figureBox(w, h, left, bottom, width, height float64) box {
	return box{
		X0: left * w,
		X1: (left + width) * w,
		Y0: h - (bottom+height)*h,
		Y1: h - bottom*h,
	}
}

// PageSize returns the output image size in pixels.
func (l Layout) PageSize() (w, h int) {
	return int(math.Round(float64(l.Width) * l.Scale)), int(math.Round(float64(l.Height) * l.Scale))
}

func resolve(l Layout) geometry {
	pw, ph := l.PageSize()
	w, h := float64(pw), float64(ph)
	fh := float64(l.Height)
	top := l.Height - l.BottomPanel

	return geometry{
		Width:  pw,
		Height: ph,
		pt:     l.DPI / 72,
		Map: figureBox(w, h,
			0, float64(l.BottomPanel)/fh+l.ShiftUp,
			1, float64(top)/fh),
		Legend: figureBox(w, h,
			l.LegendMargin, float64(l.LegendBottom)/fh,
			1-2*l.LegendMargin, float64(l.LegendHeight)/fh),
		Footer: figureBox(w, h,
			0, float64(l.LegendBottom+l.LegendHeight)/fh,
			1, float64(l.BottomPanel-l.LegendHeight-l.LegendBottom)/fh),
	}
}

// AspectRatio returns the map area's width over height on the design canvas.
func (l Layout) AspectRatio() float64 {
	return float64(l.Width) / float64(l.Height-l.BottomPanel)
}

// plateCarree maps longitude and latitude linearly onto the map box.
type plateCarree struct {
	ext Extent
	b   box
}

func (p plateCarree) toPixel(lon, lat float64) (x, y float64) {
	x = p.b.X0 + (lon-p.ext.West)/(p.ext.East-p.ext.West)*p.b.W()
	y = p.b.Y0 + (p.ext.North-lat)/(p.ext.North-p.ext.South)*p.b.H()
	return x, y
}

func (p plateCarree) toLonLat(x, y float64) (lon, lat float64) {
	lon = p.ext.West + (x-p.b.X0)/p.b.W()*(p.ext.East-p.ext.West)
	lat = p.ext.North - (y-p.b.Y0)/p.b.H()*(p.ext.North-p.ext.South)
	return lon, lat
}
