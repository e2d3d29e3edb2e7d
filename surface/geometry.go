package surface

import (
	"math"

	"golang.org/x/image/math/f64"
)

// NewPolygon builds a closed polygon object from absolute surface points.
func NewPolygon(points []Point, fill, stroke string, strokeWidth float64) *Object {
	o := &Object{
		Kind:        KindPolygon,
		ScaleX:      1,
		ScaleY:      1,
		Opacity:     1,
		Fill:        fill,
		Stroke:      stroke,
		StrokeWidth: strokeWidth,
		Selectable:  true,
		Evented:     true,
	}
	o.setAbsolutePoints(points)
	return o
}

// NewPath builds an open polyline object from absolute surface points.
func NewPath(points []Point, stroke string, width float64) *Object {
	o := &Object{
		Kind:        KindPath,
		Role:        RoleStroke,
		ScaleX:      1,
		ScaleY:      1,
		Opacity:     1,
		Fill:        "transparent",
		Stroke:      stroke,
		StrokeWidth: width,
		Selectable:  true,
		Evented:     true,
	}
	o.setAbsolutePoints(points)
	return o
}

func (o *Object) setAbsolutePoints(points []Point) {
	if len(points) == 0 {
		return
	}
	minX, minY := points[0].X, points[0].Y
	maxX, maxY := minX, minY
	for _, p := range points[1:] {
		minX, maxX = min(minX, p.X), max(maxX, p.X)
		minY, maxY = min(minY, p.Y), max(maxY, p.Y)
	}
	o.Left, o.Top = minX, minY
	o.Width, o.Height = maxX-minX, maxY-minY
	o.Points = make([]Point, len(points))
	for i, p := range points {
		o.Points[i] = Point{X: p.X - minX, Y: p.Y - minY}
	}
}

// Center returns the centre of the object's box in surface coordinates.
func (o *Object) Center() Point {
	return Point{X: o.Left + o.Width*o.ScaleX/2, Y: o.Top + o.Height*o.ScaleY/2}
}

// SetCenter moves the object so its centre is at c.
func (o *Object) SetCenter(c Point) {
	o.Left = c.X - o.Width*o.ScaleX/2
	o.Top = c.Y - o.Height*o.ScaleY/2
}

// SetScale sets a uniform scale, keeping the centre fixed.
func (o *Object) SetScale(s float64) {
	c := o.Center()
	o.ScaleX, o.ScaleY = s, s
	o.SetCenter(c)
}

// SetAngle sets the rotation in degrees, normalised to [0, 360).
func (o *Object) SetAngle(deg float64) {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	o.Angle = deg
}

// Matrix maps local coordinates (0..Width, 0..Height) to surface coordinates.
func (o *Object) Matrix() f64.Aff3 {
	rad := o.Angle * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	a, b := cos*o.ScaleX, -sin*o.ScaleY
	d, e := sin*o.ScaleX, cos*o.ScaleY
	c := o.Center()
	hw, hh := o.Width/2, o.Height/2
	return f64.Aff3{
		a, b, c.X - a*hw - b*hh,
		d, e, c.Y - d*hw - e*hh,
	}
}

// AbsolutePoints returns Points mapped to surface coordinates.
func (o *Object) AbsolutePoints() []Point {
	m := o.Matrix()
	out := make([]Point, len(o.Points))
	for i, p := range o.Points {
		out[i] = apply(m, p)
	}
	return out
}

// Bounds returns the axis-aligned bounding box of the transformed object.
func (o *Object) Bounds() Rect {
	m := o.Matrix()
	corners := [4]Point{
		apply(m, Point{0, 0}),
		apply(m, Point{o.Width, 0}),
		apply(m, Point{o.Width, o.Height}),
		apply(m, Point{0, o.Height}),
	}
	minX, minY := corners[0].X, corners[0].Y
	maxX, maxY := minX, minY
	for _, c := range corners[1:] {
		minX, maxX = min(minX, c.X), max(maxX, c.X)
		minY, maxY = min(minY, c.Y), max(maxY, c.Y)
	}
	return Rect{Left: minX, Top: minY, Width: maxX - minX, Height: maxY - minY}
}

// Contains hit-tests p (surface coordinates) against the object's shape.
func (o *Object) Contains(p Point) bool {
	inv, ok := invert(o.Matrix())
	if !ok {
		return false
	}
	lp := apply(inv, p)
	switch o.Kind {
	case KindImage:
		return lp.X >= 0 && lp.Y >= 0 && lp.X <= o.Width && lp.Y <= o.Height
	case KindPolygon:
		if pointInPolygon(lp, o.Points) {
			return true
		}
		return nearPolyline(lp, o.Points, true, max(o.StrokeWidth/2, 1))
	case KindPath:
		return nearPolyline(lp, o.Points, false, max(o.StrokeWidth/2, 1))
	}
	return false
}

func apply(m f64.Aff3, p Point) Point {
	return Point{
		X: m[0]*p.X + m[1]*p.Y + m[2],
		Y: m[3]*p.X + m[4]*p.Y + m[5],
	}
}

// mul returns a∘b: b is applied first.
func mul(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3], a[0]*b[1] + a[1]*b[4], a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3], a[3]*b[1] + a[4]*b[4], a[3]*b[2] + a[4]*b[5] + a[5],
	}
}

func invert(m f64.Aff3) (f64.Aff3, bool) {
	det := m[0]*m[4] - m[1]*m[3]
	if math.Abs(det) < 1e-12 {
		return f64.Aff3{}, false
	}
	ia, ib := m[4]/det, -m[1]/det
	id, ie := -m[3]/det, m[0]/det
	return f64.Aff3{
		ia, ib, -(ia*m[2] + ib*m[5]),
		id, ie, -(id*m[2] + ie*m[5]),
	}, true
}

func pointInPolygon(p Point, poly []Point) bool {
	if len(poly) < 3 {
		return false
	}
	in := false
	for i, j := 0, len(poly)-1; i < len(poly); j, i = i, i+1 {
		a, b := poly[i], poly[j]
		if (a.Y > p.Y) != (b.Y > p.Y) &&
			p.X < (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y)+a.X {
			in = !in
		}
	}
	return in
}

func nearPolyline(p Point, pts []Point, closed bool, tol float64) bool {
	if len(pts) == 1 {
		return math.Hypot(p.X-pts[0].X, p.Y-pts[0].Y) <= tol
	}
	n := len(pts) - 1
	if closed {
		n = len(pts)
	}
	for i := 0; i < n; i++ {
		a, b := pts[i], pts[(i+1)%len(pts)]
		if segmentDistance(p, a, b) <= tol {
			return true
		}
	}
	return false
}

func segmentDistance(p, a, b Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / l2
	t = max(0, min(1, t))
	return math.Hypot(p.X-(a.X+t*dx), p.Y-(a.Y+t*dy))
}
