// Package telemetry aggregates per-tick reports into fixed windows and
// writes them to CSV for offline analysis.
package telemetry

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"microbiome/internal/sim"
)

// WindowStats summarizes one window of ticks.
type WindowStats struct {
	WindowStartTick uint64 `csv:"-"`
	WindowEndTick   uint64 `csv:"window_end"`

	// Population at window end
	Organisms int `csv:"organisms"`
	Food      int `csv:"food"`

	// Events during window
	SpawnWaves     int `csv:"spawn_waves"`
	FoodEaten      int `csv:"food_eaten"`
	OrganismsEaten int `csv:"organisms_eaten"`

	// Organism mass distribution (sampled at window end)
	MassMean float64 `csv:"mass_mean"`
	MassStd  float64 `csv:"mass_std"`
	MassP50  float64 `csv:"mass_p50"`
	MassMax  float64 `csv:"mass_max"`

	// Mass pools; food spawn is the only source
	OrganismMass float64 `csv:"organism_mass"`
	FoodMass     float64 `csv:"food_mass"`
}

// MassStats returns mean, population std, median and max of masses.
// All zero for an empty slice.
func MassStats(masses []float64) (mean, std, p50, max float64) {
	if len(masses) == 0 {
		return 0, 0, 0, 0
	}
	mean, std = stat.PopMeanStdDev(masses, nil)

	sorted := make([]float64, len(masses))
	copy(sorted, masses)
	sort.Float64s(sorted)
	p50 = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	max = floats.Max(sorted)
	return mean, std, p50, max
}

// fillPopulation samples the population fields from a snapshot.
func (w *WindowStats) fillPopulation(snap sim.Snapshot) {
	w.Organisms = len(snap.Organisms)
	w.Food = len(snap.Food)

	masses := make([]float64, len(snap.Organisms))
	for i, o := range snap.Organisms {
		masses[i] = o.Mass
	}
	w.MassMean, w.MassStd, w.MassP50, w.MassMax = MassStats(masses)
	w.OrganismMass = floats.Sum(masses)

	w.FoodMass = 0
	for _, f := range snap.Food {
		w.FoodMass += f.Mass
	}
}
