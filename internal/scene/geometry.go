package scene

import "math"

// Size is a width/height pair in group pixel units.
type Size struct {
	W float64
	H float64
}

// Empty reports whether either dimension is not positive.
func (s Size) Empty() bool { return s.W <= 0 || s.H <= 0 }

// AspectRatio returns W/H, or 0 for an empty size.
func (s Size) AspectRatio() float64 {
	if s.Empty() {
		return 0
	}
	return s.W / s.H
}

// Scaled returns s multiplied by f.
func (s Size) Scaled(f float64) Size { return Size{W: s.W * f, H: s.H * f} }

// FitInside returns the largest size with the aspect ratio of s that fits
// inside bounds.
func (s Size) FitInside(bounds Size) Size {
	if s.Empty() || bounds.Empty() {
		return bounds
	}
	f := math.Min(bounds.W/s.W, bounds.H/s.H)
	return s.Scaled(f)
}

// Point is a position in group pixel units.
type Point struct {
	X float64
	Y float64
}

// Rect is an axis-aligned rectangle; X,Y is the top-left corner.
type Rect struct {
	X float64
	Y float64
	W float64
	H float64
}

// UnitRect is the normalized rectangle covering a whole surface.
var UnitRect = Rect{W: 1, H: 1}

// NewRect builds a rectangle from a position and a size.
func NewRect(p Point, s Size) Rect { return Rect{X: p.X, Y: p.Y, W: s.W, H: s.H} }

// Size returns the size of r.
func (r Rect) Size() Size { return Size{W: r.W, H: r.H} }

// Position returns the top-left corner of r.
func (r Rect) Position() Point { return Point{X: r.X, Y: r.Y} }

// Center returns the center of r.
func (r Rect) Center() Point { return Point{X: r.X + r.W/2, Y: r.Y + r.H/2} }

// Empty reports whether r has no area.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// CenteredAt returns r moved so that its center is c.
func (r Rect) CenteredAt(c Point) Rect {
	r.X = c.X - r.W/2
	r.Y = c.Y - r.H/2
	return r
}

// Scaled multiplies position and size by f.
func (r Rect) Scaled(f float64) Rect {
	return Rect{X: r.X * f, Y: r.Y * f, W: r.W * f, H: r.H * f}
}

// Translated moves r by dx, dy.
func (r Rect) Translated(dx, dy float64) Rect {
	r.X += dx
	r.Y += dy
	return r
}

// Intersects reports whether r and o overlap with a non-empty area.
func (r Rect) Intersects(o Rect) bool {
	return r.X < o.X+o.W && o.X < r.X+r.W && r.Y < o.Y+o.H && o.Y < r.Y+r.H
}

// Contains reports whether o lies entirely inside r.
func (r Rect) Contains(o Rect) bool {
	const eps = 1e-9
	return o.X >= r.X-eps && o.Y >= r.Y-eps &&
		o.X+o.W <= r.X+r.W+eps && o.Y+o.H <= r.Y+r.H+eps
}
