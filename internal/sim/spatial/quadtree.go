package spatial

import (
	"gonum.org/v1/gonum/spatial/r2"
)

// DefaultMaxDepth bounds subdivision. Below it, a node that overflows
// splits; at it, the node just grows. Many coincident points therefore
// degrade to a linear scan instead of recursing forever.
const DefaultMaxDepth = 16

// QuadTree is a region quadtree over points.
//
// A leaf holds up to capacity items; the insert that overflows it
// splits the leaf into four quadrants. Each point lives in exactly one
// leaf: the quadrant is chosen by comparing against the node center,
// so points on a shared edge are not duplicated.
//
// Traversal order is NW, NE, SW, SE (y grows downward), which makes
// Query, Pop and All deterministic for a given sequence of operations.
type QuadTree[T Item] struct {
	root     *quadNode[T]
	bounds   r2.Box
	capacity int
	maxDepth int
}

type quadNode[T Item] struct {
	bounds   r2.Box
	center   r2.Vec
	depth    int
	count    int // items in this subtree
	items    []T
	children *[4]quadNode[T] // nil for a leaf
}

// NewQuadTree creates an empty tree covering bounds.
// capacity below 1 is treated as 1.
func NewQuadTree[T Item](bounds r2.Box, capacity int) *QuadTree[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &QuadTree[T]{
		root:     newQuadNode[T](bounds, 0),
		bounds:   bounds,
		capacity: capacity,
		maxDepth: DefaultMaxDepth,
	}
}

func newQuadNode[T Item](bounds r2.Box, depth int) *quadNode[T] {
	n := &quadNode[T]{}
	n.reset(bounds, depth)
	return n
}

func (n *quadNode[T]) reset(bounds r2.Box, depth int) {
	n.bounds = bounds
	n.center = r2.Scale(0.5, r2.Add(bounds.Min, bounds.Max))
	n.depth = depth
}

// Insert adds an item. Items outside the tree bounds are rejected.
func (q *QuadTree[T]) Insert(item T) bool {
	p := item.Position()
	if !containsPoint(q.bounds, p) {
		return false
	}
	q.root.insert(item, p, q.capacity, q.maxDepth)
	return true
}

// InsertMany adds items in order.
func (q *QuadTree[T]) InsertMany(items []T) int {
	n := 0
	for _, it := range items {
		if q.Insert(it) {
			n++
		}
	}
	return n
}

// Query returns every item inside s.
func (q *QuadTree[T]) Query(s Shape) []T {
	return q.root.query(s, nil)
}

// Pop removes and returns every item inside s.
func (q *QuadTree[T]) Pop(s Shape) []T {
	return q.root.pop(s, nil, q.capacity, nil)
}

// PopWhere removes and returns the items inside s accepted by match.
func (q *QuadTree[T]) PopWhere(s Shape, match func(T) bool) []T {
	return q.root.pop(s, match, q.capacity, nil)
}

// Len returns the number of items in the tree.
func (q *QuadTree[T]) Len() int {
	return q.root.count
}

// All returns every item in traversal order.
func (q *QuadTree[T]) All() []T {
	return q.root.collect(make([]T, 0, q.root.count))
}

// Clear drops every item and subdivision.
func (q *QuadTree[T]) Clear() {
	q.root = newQuadNode[T](q.bounds, 0)
}

// Depth returns the depth of the deepest leaf, for diagnostics.
func (q *QuadTree[T]) Depth() int {
	return q.root.maxLeafDepth()
}

// quadrant returns 0..3 for NW, NE, SW, SE.
func (n *quadNode[T]) quadrant(p r2.Vec) int {
	i := 0
	if p.X >= n.center.X {
		i |= 1
	}
	if p.Y >= n.center.Y {
		i |= 2
	}
	return i
}

func (n *quadNode[T]) insert(item T, p r2.Vec, capacity, maxDepth int) {
	n.count++
	if n.children == nil {
		n.items = append(n.items, item)
		if len(n.items) > capacity && n.depth < maxDepth {
			n.split(capacity, maxDepth)
		}
		return
	}
	n.children[n.quadrant(p)].insert(item, p, capacity, maxDepth)
}

func (n *quadNode[T]) split(capacity, maxDepth int) {
	lo, hi, c := n.bounds.Min, n.bounds.Max, n.center
	n.children = &[4]quadNode[T]{}
	n.children[0].reset(r2.Box{Min: lo, Max: c}, n.depth+1)
	n.children[1].reset(r2.Box{Min: r2.Vec{X: c.X, Y: lo.Y}, Max: r2.Vec{X: hi.X, Y: c.Y}}, n.depth+1)
	n.children[2].reset(r2.Box{Min: r2.Vec{X: lo.X, Y: c.Y}, Max: r2.Vec{X: c.X, Y: hi.Y}}, n.depth+1)
	n.children[3].reset(r2.Box{Min: c, Max: hi}, n.depth+1)

	items := n.items
	n.items = nil
	for _, it := range items {
		p := it.Position()
		n.children[n.quadrant(p)].insert(it, p, capacity, maxDepth)
	}
}

func (n *quadNode[T]) query(s Shape, out []T) []T {
	if n.count == 0 || !s.Intersects(n.bounds) {
		return out
	}
	if n.children == nil {
		for _, it := range n.items {
			if s.Contains(it.Position()) {
				out = append(out, it)
			}
		}
		return out
	}
	for i := range n.children {
		out = n.children[i].query(s, out)
	}
	return out
}

func (n *quadNode[T]) pop(s Shape, match func(T) bool, capacity int, out []T) []T {
	if n.count == 0 || !s.Intersects(n.bounds) {
		return out
	}
	before := len(out)

	if n.children == nil {
		kept := n.items[:0]
		for _, it := range n.items {
			if s.Contains(it.Position()) && (match == nil || match(it)) {
				out = append(out, it)
			} else {
				kept = append(kept, it)
			}
		}
		var zero T
		for i := len(kept); i < len(n.items); i++ {
			n.items[i] = zero
		}
		n.items = kept
	} else {
		for i := range n.children {
			out = n.children[i].pop(s, match, capacity, out)
		}
	}

	n.count -= len(out) - before
	if n.children != nil && n.count <= capacity {
		n.items = n.collect(make([]T, 0, capacity))
		n.children = nil
	}
	return out
}

func (n *quadNode[T]) collect(out []T) []T {
	if n.children == nil {
		return append(out, n.items...)
	}
	for i := range n.children {
		out = n.children[i].collect(out)
	}
	return out
}

func (n *quadNode[T]) maxLeafDepth() int {
	if n.children == nil {
		return n.depth
	}
	d := n.depth
	for i := range n.children {
		if cd := n.children[i].maxLeafDepth(); cd > d {
			d = cd
		}
	}
	return d
}
