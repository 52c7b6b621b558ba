package sim

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Policy holds the parameters shared by every behavior style.
type Policy struct {
	EatDiff   float64
	ArenaSize float64
	Physics   Physics

	// FoodShortcut stops the nearest-food scan at the first pellet closer
	// than this distance. 0 scans every pellet.
	FoodShortcut float64
}

// Decide returns the direction o moves in this tick. It is a pure
// function of the organism and its frame; o.Heading is read only as the
// fallback when nothing else applies.
func Decide(o *Organism, frame Frame, p Policy) r2.Vec {
	switch o.Style {
	case StyleBounce:
		return decideBounce(o, p)
	default:
		return decidePredator(o, frame, p)
	}
}

// decidePredator flees when threatened, else chases the heaviest prey,
// else heads for the nearest food, else keeps going.
func decidePredator(o *Organism, frame Frame, p Policy) r2.Vec {
	var threat r2.Vec
	predators := 0
	prey := -1

	for i, s := range frame.Organisms {
		switch {
		case CanEat(s.Mass, o.Mass, p.EatDiff):
			threat = r2.Add(threat, r2.Sub(s.Pos, o.Pos))
			predators++
		case CanEat(o.Mass, s.Mass, p.EatDiff):
			if prey < 0 || heavierPrey(s, frame.Organisms[prey]) {
				prey = i
			}
		}
	}

	if predators > 0 {
		return normalize(r2.Scale(-1, threat), o.Heading)
	}
	if prey >= 0 {
		return normalize(r2.Sub(frame.Organisms[prey].Pos, o.Pos), o.Heading)
	}
	if target, ok := nearestFood(o.Pos, frame.Food, p.FoodShortcut); ok {
		return normalize(r2.Sub(target, o.Pos), o.Heading)
	}
	return o.Heading
}

// heavierPrey orders prey by mass, breaking ties by the lower list slot.
func heavierPrey(a, b Sighting) bool {
	if a.Mass != b.Mass {
		return a.Mass > b.Mass
	}
	return a.Index < b.Index
}

// nearestFood returns the closest pellet. Ties keep the first in query
// order. With a positive shortcut the scan stops at the first pellet
// within that distance.
func nearestFood(from r2.Vec, food []Sighting, shortcut float64) (r2.Vec, bool) {
	if len(food) == 0 {
		return r2.Vec{}, false
	}
	best := 0
	bestDist := r2.Norm2(r2.Sub(food[0].Pos, from))
	shortcut2 := shortcut * shortcut
	for i := 1; i < len(food); i++ {
		if shortcut > 0 && bestDist <= shortcut2 {
			break
		}
		if d := r2.Norm2(r2.Sub(food[i].Pos, from)); d < bestDist {
			best, bestDist = i, d
		}
	}
	return food[best].Pos, true
}

// decideBounce keeps the current heading and flips each component whose
// next step would leave the arena. Perception is ignored.
func decideBounce(o *Organism, p Policy) r2.Vec {
	dir := o.Heading
	if r2.Norm2(dir) == 0 {
		return dir
	}
	r := o.Radius()
	next := r2.Add(o.Pos, r2.Scale(p.Physics.Speed(o.Mass), dir))
	if next.X < r || next.X > p.ArenaSize-r {
		dir.X = -dir.X
	}
	if next.Y < r || next.Y > p.ArenaSize-r {
		dir.Y = -dir.Y
	}
	return dir
}

// normalize returns v scaled to unit length, or fallback when v has no
// usable direction (zero, infinite or NaN length).
func normalize(v, fallback r2.Vec) r2.Vec {
	n := r2.Norm(v)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return fallback
	}
	return r2.Scale(1/n, v)
}

// Move advances o along dir at its mass-dependent speed and clamps it so
// the whole disc stays inside the arena.
func Move(o *Organism, dir r2.Vec, p Policy) {
	o.Heading = dir
	o.Pos = r2.Add(o.Pos, r2.Scale(p.Physics.Speed(o.Mass), dir))
	o.Pos = ClampToArena(o.Pos, o.Radius(), p.ArenaSize)
}

// ClampToArena clamps each axis of pos to [radius, size-radius]. A disc
// wider than the arena is pinned to the center.
func ClampToArena(pos r2.Vec, radius, size float64) r2.Vec {
	return r2.Vec{
		X: clampAxis(pos.X, radius, size),
		Y: clampAxis(pos.Y, radius, size),
	}
}

func clampAxis(v, radius, size float64) float64 {
	if 2*radius >= size {
		return size / 2
	}
	return math.Max(radius, math.Min(v, size-radius))
}
