package sim

import (
	"gonum.org/v1/gonum/spatial/r2"

	"microbiome/internal/sim/spatial"
)

// Sighting is one entity seen by an organism this tick. Index is the
// organism-list slot for organisms and -1 for food.
type Sighting struct {
	Pos   r2.Vec
	Mass  float64
	Index int
}

// Frame is what an organism perceives in one tick. It is rebuilt every
// tick and never stored.
type Frame struct {
	Food      []Sighting
	Organisms []Sighting
}

// Empty reports whether nothing was perceived.
func (f Frame) Empty() bool {
	return len(f.Food) == 0 && len(f.Organisms) == 0
}

// Perception holds the two independent sensing radii.
type Perception struct {
	FoodRadius float64
	CellRadius float64
}

// Perceive queries both indexes around o. The organism at slot self is
// excluded from the organism list. Neither index is modified.
func Perceive(self int, o *Organism, food spatial.Index[*Food], cells spatial.Index[OrganismRef], p Perception) Frame {
	var frame Frame

	for _, f := range food.Query(spatial.Circle{Center: o.Pos, Radius: p.FoodRadius}) {
		frame.Food = append(frame.Food, Sighting{Pos: f.Pos, Mass: f.Mass, Index: -1})
	}
	for _, ref := range cells.Query(spatial.Circle{Center: o.Pos, Radius: p.CellRadius}) {
		if ref.Index == self {
			continue
		}
		frame.Organisms = append(frame.Organisms, Sighting{Pos: ref.Pos, Mass: ref.Mass, Index: ref.Index})
	}
	return frame
}
