/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package geom holds the 2-D point math shared by the shape catalog, the
// physics adapter, the stage and the renderer. Coordinates follow the screen
// convention: x grows to the right, y grows downward.
package geom

import "math"

type Point struct {
	X float64
	Y float64
}

func (p Point) Add(q Point) Point {
	return Point{X: p.X + q.X, Y: p.Y + q.Y}
}

func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

func (p Point) Scale(f float64) Point {
	return Point{X: p.X * f, Y: p.Y * f}
}

// Rotate rotates p around the origin by angle radians.
func (p Point) Rotate(angle float64) Point {
	sin, cos := math.Sincos(angle)
	return Point{
		X: p.X*cos - p.Y*sin,
		Y: p.X*sin + p.Y*cos,
	}
}

func (p Point) Len() float64 {
	return math.Hypot(p.X, p.Y)
}

// Cross returns the z component of the cross product of p and q.
func Cross(p, q Point) float64 {
	return p.X*q.Y - p.Y*q.X
}

type Rect struct {
	Min Point
	Max Point
}

func (r Rect) Width() float64  { return r.Max.X - r.Min.X }
func (r Rect) Height() float64 { return r.Max.Y - r.Min.Y }

func (r Rect) Center() Point {
	return Point{X: (r.Min.X + r.Max.X) * 0.5, Y: (r.Min.Y + r.Max.Y) * 0.5}
}

// Outline is a closed polygon; the last point connects back to the first.
type Outline []Point

// Top returns the smallest y of the outline after rotating it by rotation
// and translating it to position.
func (o Outline) Top(position Point, rotation float64) float64 {
	top := math.MaxFloat64
	for _, v := range o {
		if y := v.Rotate(rotation).Add(position).Y; y < top {
			top = y
		}
	}
	return top
}

// Radius returns the largest distance of any vertex from the local origin.
func (o Outline) Radius() float64 {
	var radius float64
	for _, v := range o {
		radius = math.Max(radius, v.Len())
	}
	return radius
}

func (o Outline) Bounds() Rect {
	r := Rect{
		Min: Point{X: math.MaxFloat64, Y: math.MaxFloat64},
		Max: Point{X: -math.MaxFloat64, Y: -math.MaxFloat64},
	}
	for _, v := range o {
		r.Min.X = math.Min(r.Min.X, v.X)
		r.Min.Y = math.Min(r.Min.Y, v.Y)
		r.Max.X = math.Max(r.Max.X, v.X)
		r.Max.Y = math.Max(r.Max.Y, v.Y)
	}
	return r
}

// SignedArea is positive for counterclockwise winding in a y-up frame.
func (o Outline) SignedArea() float64 {
	var sum float64
	for i := range o {
		sum += Cross(o[i], o[(i+1)%len(o)])
	}
	return sum * 0.5
}

func (o Outline) Area() float64 {
	return math.Abs(o.SignedArea())
}

// Centroid returns the area centroid, or the vertex average for a
// degenerate outline.
func (o Outline) Centroid() Point {
	a := o.SignedArea()
	if a == 0 {
		var c Point
		for _, v := range o {
			c = c.Add(v)
		}
		if len(o) > 0 {
			c = c.Scale(1 / float64(len(o)))
		}
		return c
	}

	var c Point
	for i := range o {
		p, q := o[i], o[(i+1)%len(o)]
		f := Cross(p, q)
		c.X += (p.X + q.X) * f
		c.Y += (p.Y + q.Y) * f
	}
	return c.Scale(1 / (6 * a))
}

// Convex reports whether every turn of the outline has the same direction.
// Collinear vertices are tolerated.
func (o Outline) Convex() bool {
	if len(o) < 3 {
		return false
	}
	sign := 0
	for i := range o {
		a, b, c := o[i], o[(i+1)%len(o)], o[(i+2)%len(o)]
		z := Cross(b.Sub(a), c.Sub(b))
		switch {
		case z > 1e-12:
			if sign < 0 {
				return false
			}
			sign = 1
		case z < -1e-12:
			if sign > 0 {
				return false
			}
			sign = -1
		}
	}
	return sign != 0
}

// Transform maps every vertex through rotation then translation.
func (o Outline) Transform(position Point, rotation float64) Outline {
	out := make(Outline, len(o))
	for i, v := range o {
		out[i] = v.Rotate(rotation).Add(position)
	}
	return out
}

// Scale multiplies every vertex by f.
func (o Outline) Scale(f float64) Outline {
	out := make(Outline, len(o))
	for i, v := range o {
		out[i] = v.Scale(f)
	}
	return out
}

func Radians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

func Degrees(radians float64) float64 {
	return radians * 180 / math.Pi
}
