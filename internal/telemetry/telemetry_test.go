package telemetry

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"microbiome/internal/sim"
)

func snapshotWithMasses(masses ...float64) sim.Snapshot {
	snap := sim.Snapshot{Size: 100}
	for i, m := range masses {
		snap.Organisms = append(snap.Organisms, sim.EntitySnapshot{ID: uint64(i + 1), Mass: m})
	}
	snap.Food = []sim.EntitySnapshot{{ID: 99, Mass: 2}, {ID: 100, Mass: 3}}
	return snap
}

func TestMassStats(t *testing.T) {
	tests := []struct {
		name                string
		masses              []float64
		mean, std, p50, max float64
	}{
		{"empty", nil, 0, 0, 0, 0},
		{"single", []float64{9}, 9, 0, 9, 9},
		{"spread", []float64{8, 12, 10, 10}, 10, math.Sqrt(2), 10, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mean, std, p50, max := MassStats(tt.masses)
			if math.Abs(mean-tt.mean) > 1e-9 || math.Abs(std-tt.std) > 1e-9 ||
				math.Abs(p50-tt.p50) > 1e-9 || math.Abs(max-tt.max) > 1e-9 {
				t.Errorf("got (%v, %v, %v, %v), want (%v, %v, %v, %v)",
					mean, std, p50, max, tt.mean, tt.std, tt.p50, tt.max)
			}
		})
	}
}

func TestCollectorWindows(t *testing.T) {
	c := NewCollector(3, nil)

	c.Observe(sim.TickReport{Tick: 0, Spawned: true, FoodEaten: 2}, sim.Snapshot{})
	c.Observe(sim.TickReport{Tick: 1, FoodEaten: 1, OrganismsEaten: 1}, sim.Snapshot{})
	if _, ok := c.Last(); ok {
		t.Fatal("window should not be complete after 2 ticks")
	}
	c.Observe(sim.TickReport{Tick: 2}, snapshotWithMasses(10, 12))

	w, ok := c.Last()
	if !ok {
		t.Fatal("expected a completed window")
	}
	if w.WindowStartTick != 0 || w.WindowEndTick != 2 {
		t.Errorf("window bounds: %d..%d", w.WindowStartTick, w.WindowEndTick)
	}
	if w.SpawnWaves != 1 || w.FoodEaten != 3 || w.OrganismsEaten != 1 {
		t.Errorf("event counts: %+v", w)
	}
	if w.Organisms != 2 || w.Food != 2 || w.OrganismMass != 22 || w.FoodMass != 5 || w.MassMax != 12 {
		t.Errorf("population: %+v", w)
	}

	// Counters reset for the next window.
	for tick := uint64(3); tick < 6; tick++ {
		c.Observe(sim.TickReport{Tick: tick}, snapshotWithMasses(10))
	}
	w, _ = c.Last()
	if w.WindowStartTick != 3 || w.FoodEaten != 0 || w.SpawnWaves != 0 {
		t.Errorf("second window: %+v", w)
	}
}

func TestOutputManagerCSV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatal(err)
	}

	c := NewCollector(1, om)
	c.Observe(sim.TickReport{Tick: 0, FoodEaten: 4}, snapshotWithMasses(9))
	c.Observe(sim.TickReport{Tick: 1}, snapshotWithMasses(9, 11))
	if err := om.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "stats.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines:\n%s", len(lines), data)
	}
	if !strings.HasPrefix(lines[0], "window_end,organisms,food,") {
		t.Errorf("header: %s", lines[0])
	}
	if !strings.HasPrefix(lines[1], "0,1,2,0,4,") {
		t.Errorf("first row: %s", lines[1])
	}
	if !strings.HasPrefix(lines[2], "1,2,2,") {
		t.Errorf("second row: %s", lines[2])
	}
}

func TestNilOutputManager(t *testing.T) {
	om, err := NewOutputManager("")
	if err != nil || om != nil {
		t.Fatalf("empty dir should disable output, got %v, %v", om, err)
	}
	if err := om.WriteStats(WindowStats{}); err != nil {
		t.Error(err)
	}
	if err := om.Close(); err != nil {
		t.Error(err)
	}
}
