// Package spatial provides point indexes for proximity queries over a
// bounded square arena.
//
// Every index supports two query modes behind one interface: Query is
// read-only, Pop removes what it returns. Because a popped item is no
// longer indexed, no item can be returned by two Pop calls. The engine
// relies on this to stop two organisms from eating the same thing in
// one tick.
package spatial

import (
	"gonum.org/v1/gonum/spatial/r2"
)

// Item is anything with a position.
type Item interface {
	Position() r2.Vec
}

// Index is a point index over items of type T.
//
// Query and Pop never fail: a shape that is empty, degenerate or
// outside the indexed region simply matches nothing.
type Index[T Item] interface {
	// Insert adds one item. It returns false if the item lies outside
	// the indexed region.
	Insert(item T) bool
	// InsertMany adds items in order and returns how many were accepted.
	InsertMany(items []T) int
	// Query returns every item inside s without modifying the index.
	Query(s Shape) []T
	// Pop removes and returns every item inside s.
	Pop(s Shape) []T
	// PopWhere removes and returns every item inside s for which match
	// returns true. Items inside s that do not match stay indexed.
	PopWhere(s Shape, match func(T) bool) []T
	// Len returns the number of indexed items.
	Len() int
	// All returns every item in a deterministic traversal order.
	All() []T
	// Clear removes everything.
	Clear()
}

// Shape is a closed query region.
type Shape interface {
	// Contains reports whether p lies inside the shape (boundary included).
	Contains(p r2.Vec) bool
	// Intersects reports whether the shape overlaps box b.
	Intersects(b r2.Box) bool
	// Bounds returns the shape's axis-aligned bounding box.
	Bounds() r2.Box
}

// Circle is a closed disc.
type Circle struct {
	Center r2.Vec
	Radius float64
}

// Contains reports whether p is within Radius of Center.
func (c Circle) Contains(p r2.Vec) bool {
	if !(c.Radius >= 0) {
		return false
	}
	return r2.Norm2(r2.Sub(p, c.Center)) <= c.Radius*c.Radius
}

// Intersects reports whether the disc overlaps b.
func (c Circle) Intersects(b r2.Box) bool {
	if !(c.Radius >= 0) {
		return false
	}
	nearest := r2.Vec{
		X: clamp(c.Center.X, b.Min.X, b.Max.X),
		Y: clamp(c.Center.Y, b.Min.Y, b.Max.Y),
	}
	return r2.Norm2(r2.Sub(nearest, c.Center)) <= c.Radius*c.Radius
}

// Bounds returns the square enclosing the disc.
func (c Circle) Bounds() r2.Box {
	return r2.Box{
		Min: r2.Vec{X: c.Center.X - c.Radius, Y: c.Center.Y - c.Radius},
		Max: r2.Vec{X: c.Center.X + c.Radius, Y: c.Center.Y + c.Radius},
	}
}

// Rect is a closed axis-aligned rectangle.
type Rect struct {
	Min, Max r2.Vec
}

// Contains reports whether p lies in the rectangle.
func (r Rect) Contains(p r2.Vec) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X && p.Y >= r.Min.Y && p.Y <= r.Max.Y
}

// Intersects reports whether the rectangle overlaps b.
func (r Rect) Intersects(b r2.Box) bool {
	return r.Min.X <= b.Max.X && r.Max.X >= b.Min.X && r.Min.Y <= b.Max.Y && r.Max.Y >= b.Min.Y
}

// Bounds returns the rectangle as a box.
func (r Rect) Bounds() r2.Box {
	return r2.Box{Min: r.Min, Max: r.Max}
}

// containsPoint is the closed-box test used for insert bounds checks.
func containsPoint(b r2.Box, p r2.Vec) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X && p.Y >= b.Min.Y && p.Y <= b.Max.Y
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
