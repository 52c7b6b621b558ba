package sim

import (
	"gonum.org/v1/gonum/spatial/r2"
)

// EntitySnapshot is the wire form of one organism or pellet. Radius is
// filled from Mass when the snapshot is built.
type EntitySnapshot struct {
	ID     uint64     `json:"id" msgpack:"id"`
	Pos    [2]float64 `json:"pos" msgpack:"pos"`
	Radius float64    `json:"radius" msgpack:"radius"`
	Mass   float64    `json:"mass" msgpack:"mass"`
	Color  string     `json:"color" msgpack:"color"`
}

// Snapshot is the immutable per-tick state handed to publishers. The
// "npcs" key is what the browser UI reads organisms from.
type Snapshot struct {
	Size      float64          `json:"size" msgpack:"size"`
	Tick      uint64           `json:"tick" msgpack:"tick"`
	Organisms []EntitySnapshot `json:"npcs" msgpack:"npcs"`
	Food      []EntitySnapshot `json:"food" msgpack:"food"`
}

func entitySnapshot(id uint64, pos r2.Vec, mass float64, color string) EntitySnapshot {
	return EntitySnapshot{
		ID:     id,
		Pos:    [2]float64{pos.X, pos.Y},
		Radius: Radius(mass),
		Mass:   mass,
		Color:  color,
	}
}

// TotalMass sums organism and food mass.
func (s Snapshot) TotalMass() float64 {
	var total float64
	for _, o := range s.Organisms {
		total += o.Mass
	}
	for _, f := range s.Food {
		total += f.Mass
	}
	return total
}
