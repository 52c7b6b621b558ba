// Package sim implements the microbiome simulation: organisms that
// wander a square arena, eat food pellets and each other, and grow.
//
// The engine is single-threaded. One call to Engine.Step is one tick;
// Runner paces ticks to the wall clock and hands each snapshot to a sink.
package sim

import (
	"math"
	"math/rand"

	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/spatial/r2"
)

// Style selects the behavior policy of an organism. It is fixed when the
// organism is created.
type Style uint8

const (
	StylePredator Style = iota // chase prey, flee predators, seek food
	StyleBounce                // straight lines, reflect off walls
)

// String returns the config name of the style.
func (s Style) String() string {
	switch s {
	case StylePredator:
		return "predator"
	case StyleBounce:
		return "bounce"
	default:
		return "unknown"
	}
}

// Food is a static pellet. It lives only in the food index.
type Food struct {
	ID    uint64
	Pos   r2.Vec
	Mass  float64
	Color string
}

// Position implements spatial.Item.
func (f *Food) Position() r2.Vec { return f.Pos }

// Organism is a mobile cell. Radius is derived from Mass and never stored.
type Organism struct {
	ID      uint64
	Pos     r2.Vec
	Mass    float64
	Color   string
	Heading r2.Vec // last chosen direction, unit length
	Style   Style
}

// Radius returns sqrt(Mass).
func (o *Organism) Radius() float64 { return Radius(o.Mass) }

// OrganismRef is the per-tick index entry for an organism: its position
// and mass at re-index time, plus its slot in the sorted organism list.
type OrganismRef struct {
	Pos   r2.Vec
	Mass  float64
	Index int
}

// Position implements spatial.Item.
func (r OrganismRef) Position() r2.Vec { return r.Pos }

// Radius returns the radius of an entity with the given mass.
func Radius(mass float64) float64 {
	return math.Sqrt(mass)
}

// Physics holds the constants of the speed formula.
type Physics struct {
	BaseSpeed float64
	MassScale float64
}

// Speed returns BaseSpeed / (sqrt(mass/MassScale) + 1). Heavier cells are
// slower, a zero-mass cell moves at BaseSpeed.
func (p Physics) Speed(mass float64) float64 {
	return p.BaseSpeed / (math.Sqrt(mass/p.MassScale) + 1)
}

// CanEat reports whether an entity of mass a may consume one of mass b.
// The gate is strict: a == b+diff does not qualify.
func CanEat(a, b, diff float64) bool {
	return a > b+diff
}

// DecayFunc maps an organism's mass to its mass after one tick of decay.
type DecayFunc func(mass float64) float64

// NoDecay leaves mass unchanged. No decay curve has been settled on yet,
// so this is the default.
func NoDecay(mass float64) float64 { return mass }

// randomColor returns a random "#rrggbb" color drawn from rng.
// Saturation and value stay in a range that reads well on a dark canvas.
func randomColor(rng *rand.Rand) string {
	h := rng.Float64() * 360
	s := 0.5 + rng.Float64()*0.5
	v := 0.7 + rng.Float64()*0.3
	return colorful.Hsv(h, s, v).Hex()
}

// randomHeading returns a uniformly distributed unit vector.
func randomHeading(rng *rand.Rand) r2.Vec {
	a := rng.Float64() * 2 * math.Pi
	return r2.Vec{X: math.Cos(a), Y: math.Sin(a)}
}

// randomMass samples [lo, hi]. Whole-number bounds give whole-number
// masses, matching the integer pellet sizes the UI was built around.
func randomMass(rng *rand.Rand, lo, hi float64) float64 {
	if lo == math.Trunc(lo) && hi == math.Trunc(hi) && hi-lo < math.MaxInt32 {
		return lo + float64(rng.Intn(int(hi-lo)+1))
	}
	return lo + rng.Float64()*(hi-lo)
}

// randomPosition returns a uniform point in [0, size]^2.
func randomPosition(rng *rand.Rand, size float64) r2.Vec {
	return r2.Vec{X: rng.Float64() * size, Y: rng.Float64() * size}
}
