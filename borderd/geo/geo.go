// Package geo contains the planar geometry used to place players inside
// territories. All polygons live on the horizontal (x, z) plane of the world.
package geo

import "math"

// Point is a horizontal world position.
type Point struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

// Vec3 is a full world position. Y is elevation.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Horizontal drops the elevation component.
func (v Vec3) Horizontal() Point {
	return Point{X: v.X, Z: v.Z}
}

// Polygon is a simple closed ring. The closing edge from the last vertex back
// to the first is implicit.
type Polygon []Point

// Contains reports whether p lies inside the polygon or on its boundary.
func (poly Polygon) Contains(p Point) bool {
	n := len(poly)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := poly[j], poly[i]
		if onSegment(a, b, p) {
			return true
		}
		// Half-open rule on z so a vertex shared by two edges is counted once.
		if (a.Z > p.Z) != (b.Z > p.Z) {
			x := a.X + (p.Z-a.Z)*(b.X-a.X)/(b.Z-a.Z)
			if p.X < x {
				inside = !inside
			}
		}
	}
	return inside
}

// Bounds returns the axis aligned bounding box of the polygon.
func (poly Polygon) Bounds() Rect {
	r := EmptyRect()
	for _, p := range poly {
		r = r.Extend(p)
	}
	return r
}

const epsilon = 1e-9

func onSegment(a, b, p Point) bool {
	cross := (b.X-a.X)*(p.Z-a.Z) - (b.Z-a.Z)*(p.X-a.X)
	if math.Abs(cross) > epsilon {
		return false
	}
	return p.X >= math.Min(a.X, b.X)-epsilon && p.X <= math.Max(a.X, b.X)+epsilon &&
		p.Z >= math.Min(a.Z, b.Z)-epsilon && p.Z <= math.Max(a.Z, b.Z)+epsilon
}

// Rect is an axis aligned rectangle. An empty Rect has Min > Max.
type Rect struct {
	Min, Max Point
}

// EmptyRect returns a rectangle that contains nothing and grows on Extend.
func EmptyRect() Rect {
	return Rect{
		Min: Point{X: math.Inf(1), Z: math.Inf(1)},
		Max: Point{X: math.Inf(-1), Z: math.Inf(-1)},
	}
}

// Empty reports whether no point has been added to r.
func (r Rect) Empty() bool {
	return r.Min.X > r.Max.X || r.Min.Z > r.Max.Z
}

// Extend grows r to include p.
func (r Rect) Extend(p Point) Rect {
	r.Min.X = math.Min(r.Min.X, p.X)
	r.Min.Z = math.Min(r.Min.Z, p.Z)
	r.Max.X = math.Max(r.Max.X, p.X)
	r.Max.Z = math.Max(r.Max.Z, p.Z)
	return r
}

// Union returns the smallest rectangle containing both r and o.
func (r Rect) Union(o Rect) Rect {
	if o.Empty() {
		return r
	}
	return r.Extend(o.Min).Extend(o.Max)
}

// Width is the extent along x.
func (r Rect) Width() float64 {
	if r.Empty() {
		return 0
	}
	return r.Max.X - r.Min.X
}

// Height is the extent along z.
func (r Rect) Height() float64 {
	if r.Empty() {
		return 0
	}
	return r.Max.Z - r.Min.Z
}

// Pad expands r by d on every side.
func (r Rect) Pad(d float64) Rect {
	if r.Empty() {
		return r
	}
	r.Min.X -= d
	r.Min.Z -= d
	r.Max.X += d
	r.Max.Z += d
	return r
}
