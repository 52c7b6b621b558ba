package spatial

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Grid is a uniform-cell alternative to QuadTree behind the same Index
// contract. It suits large, evenly spread populations where rebuilding
// the tree every tick costs more than bucketing.
//
// Optimal cell size is close to the most common query radius: a query
// then touches at most 3x3 cells.
//
// Memory layout: cells are stored in row-major order (cells[row*cols+col]).
type Grid[T Item] struct {
	bounds      r2.Box
	invCellSize float64 // 1/cellSize for faster division
	cols, rows  int
	cells       [][]T
	count       int
}

// NewGrid creates a grid covering bounds. cellSize must be positive.
func NewGrid[T Item](bounds r2.Box, cellSize float64) *Grid[T] {
	width := bounds.Max.X - bounds.Min.X
	height := bounds.Max.Y - bounds.Min.Y
	cols := int(math.Ceil(width / cellSize))
	rows := int(math.Ceil(height / cellSize))

	// Ensure at least 1x1 grid
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	return &Grid[T]{
		bounds:      bounds,
		invCellSize: 1.0 / cellSize,
		cols:        cols,
		rows:        rows,
		cells:       make([][]T, cols*rows),
	}
}

// cellCoords maps a position to a clamped (col, row).
func (g *Grid[T]) cellCoords(x, y float64) (int, int) {
	col := int((x - g.bounds.Min.X) * g.invCellSize)
	row := int((y - g.bounds.Min.Y) * g.invCellSize)

	if col < 0 {
		col = 0
	}
	if col >= g.cols {
		col = g.cols - 1
	}
	if row < 0 {
		row = 0
	}
	if row >= g.rows {
		row = g.rows - 1
	}
	return col, row
}

// cellRange returns the clamped cell span covered by s, or ok=false if
// s misses the grid entirely.
func (g *Grid[T]) cellRange(s Shape) (minCol, minRow, maxCol, maxRow int, ok bool) {
	if !s.Intersects(g.bounds) {
		return 0, 0, 0, 0, false
	}
	b := s.Bounds()
	minCol, minRow = g.cellCoords(b.Min.X, b.Min.Y)
	maxCol, maxRow = g.cellCoords(b.Max.X, b.Max.Y)
	return minCol, minRow, maxCol, maxRow, true
}

// Insert adds an item to the cell containing it.
func (g *Grid[T]) Insert(item T) bool {
	p := item.Position()
	if !containsPoint(g.bounds, p) {
		return false
	}
	col, row := g.cellCoords(p.X, p.Y)
	idx := row*g.cols + col
	g.cells[idx] = append(g.cells[idx], item)
	g.count++
	return true
}

// InsertMany adds items in order.
func (g *Grid[T]) InsertMany(items []T) int {
	n := 0
	for _, it := range items {
		if g.Insert(it) {
			n++
		}
	}
	return n
}

// Query returns every item inside s, scanning only the cells its
// bounding box covers.
func (g *Grid[T]) Query(s Shape) []T {
	minCol, minRow, maxCol, maxRow, ok := g.cellRange(s)
	if !ok || g.count == 0 {
		return nil
	}
	var out []T
	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			for _, it := range g.cells[row*g.cols+col] {
				if s.Contains(it.Position()) {
					out = append(out, it)
				}
			}
		}
	}
	return out
}

// Pop removes and returns every item inside s.
func (g *Grid[T]) Pop(s Shape) []T {
	return g.PopWhere(s, nil)
}

// PopWhere removes and returns the items inside s accepted by match.
func (g *Grid[T]) PopWhere(s Shape, match func(T) bool) []T {
	minCol, minRow, maxCol, maxRow, ok := g.cellRange(s)
	if !ok || g.count == 0 {
		return nil
	}
	var out []T
	var zero T
	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			idx := row*g.cols + col
			cell := g.cells[idx]
			kept := cell[:0]
			for _, it := range cell {
				if s.Contains(it.Position()) && (match == nil || match(it)) {
					out = append(out, it)
				} else {
					kept = append(kept, it)
				}
			}
			for i := len(kept); i < len(cell); i++ {
				cell[i] = zero
			}
			g.cells[idx] = kept
		}
	}
	g.count -= len(out)
	return out
}

// Len returns the number of indexed items.
func (g *Grid[T]) Len() int {
	return g.count
}

// All returns every item in row-major cell order.
func (g *Grid[T]) All() []T {
	out := make([]T, 0, g.count)
	for _, cell := range g.cells {
		out = append(out, cell...)
	}
	return out
}

// Clear resets all cells without deallocating underlying memory.
func (g *Grid[T]) Clear() {
	var zero T
	for i := range g.cells {
		for j := range g.cells[i] {
			g.cells[i][j] = zero
		}
		g.cells[i] = g.cells[i][:0] // Keep capacity, reset length
	}
	g.count = 0
}
