package layout

import (
	"math"
	"unicode/utf8"
)

// Point is a canvas coordinate or an offset between two coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p + q.
func (p Point) Add(q Point) Point {
	return Point{X: p.X + q.X, Y: p.Y + q.Y}
}

// Size is a width and height in canvas pixels.
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Rect is an axis-aligned box. Min is the top-left corner (y grows downward).
type Rect struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// BoxAt returns the box of the given size centred on c.
func BoxAt(c Point, s Size) Rect {
	return Rect{
		MinX: c.X - s.W/2,
		MinY: c.Y - s.H/2,
		MaxX: c.X + s.W/2,
		MaxY: c.Y + s.H/2,
	}
}

// Bounds returns the rectangle from the origin to (w, h).
func Bounds(w, h float64) Rect {
	return Rect{MaxX: w, MaxY: h}
}

func (r Rect) Width() float64  { return r.MaxX - r.MinX }
func (r Rect) Height() float64 { return r.MaxY - r.MinY }

// Center returns the centre point.
func (r Rect) Center() Point {
	return Point{X: (r.MinX + r.MaxX) / 2, Y: (r.MinY + r.MaxY) / 2}
}

// Inflate grows the box by m on every side.
func (r Rect) Inflate(m float64) Rect {
	return Rect{MinX: r.MinX - m, MinY: r.MinY - m, MaxX: r.MaxX + m, MaxY: r.MaxY + m}
}

// IntersectionArea is the area shared by r and o; touching edges share none.
func (r Rect) IntersectionArea(o Rect) float64 {
	w := math.Min(r.MaxX, o.MaxX) - math.Max(r.MinX, o.MinX)
	h := math.Min(r.MaxY, o.MaxY) - math.Max(r.MinY, o.MinY)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Overlaps reports strict interior intersection.
func (r Rect) Overlaps(o Rect) bool {
	return r.IntersectionArea(o) > 0
}

// Contains reports whether o lies fully inside r, edges included.
func (r Rect) Contains(o Rect) bool {
	return o.MinX >= r.MinX && o.MinY >= r.MinY && o.MaxX <= r.MaxX && o.MaxY <= r.MaxY
}

// ConnectorEnd returns the point on box closest to anchor, which is where a
// connector line from the particle meets its label. An anchor inside the box
// connects to the centre.
func ConnectorEnd(anchor Point, box Rect) Point {
	p := Point{
		X: math.Max(box.MinX, math.Min(anchor.X, box.MaxX)),
		Y: math.Max(box.MinY, math.Min(anchor.Y, box.MaxY)),
	}
	if p == anchor {
		return box.Center()
	}
	return p
}

// Metrics size a label box from its text.
type Metrics struct {
	CharWidth  float64
	LineHeight float64
	Padding    float64
	Scale      float64
}

// LabelSize returns the box size for a single-line label.
func (m Metrics) LabelSize(text string) Size {
	scale := m.Scale
	if scale <= 0 {
		scale = 1
	}
	n := float64(utf8.RuneCountInString(text))
	return Size{
		W: (n*m.CharWidth + 2*m.Padding) * scale,
		H: (m.LineHeight + 2*m.Padding) * scale,
	}
}
