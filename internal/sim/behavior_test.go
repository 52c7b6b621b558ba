package sim

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r2"
)

var testPolicy = Policy{
	EatDiff:   2,
	ArenaSize: 500,
	Physics:   Physics{BaseSpeed: 4, MassScale: 50},
}

func closeTo(a, b r2.Vec) bool {
	return math.Abs(a.X-b.X) < 1e-9 && math.Abs(a.Y-b.Y) < 1e-9
}

func TestRadiusAndSpeed(t *testing.T) {
	if Radius(100) != 10 {
		t.Errorf("Radius(100) = %v", Radius(100))
	}
	if Radius(7) != math.Sqrt(7) {
		t.Error("radius must be exactly sqrt(mass)")
	}
	p := testPolicy.Physics
	if got := p.Speed(50); got != 2 {
		t.Errorf("Speed(50) = %v, want 2", got)
	}
	if p.Speed(200) >= p.Speed(20) {
		t.Error("heavier organisms must be slower")
	}
}

func TestCanEat(t *testing.T) {
	tests := []struct {
		a, b, diff float64
		want       bool
	}{
		{12, 10, 2, false},
		{12.0001, 10, 2, true},
		{10, 10, 0, false},
		{11, 10, 0, true},
		{5, 10, 2, false},
	}
	for _, tt := range tests {
		if got := CanEat(tt.a, tt.b, tt.diff); got != tt.want {
			t.Errorf("CanEat(%v, %v, %v) = %v, want %v", tt.a, tt.b, tt.diff, got, tt.want)
		}
	}
}

// Scenario C: a small organism sees a big one and closer food; it flees.
func TestPredatorFleesBeforeFeeding(t *testing.T) {
	o := &Organism{Pos: r2.Vec{X: 100, Y: 100}, Mass: 10, Heading: r2.Vec{Y: 1}}
	frame := Frame{
		Food:      []Sighting{{Pos: r2.Vec{X: 105, Y: 100}, Mass: 2, Index: -1}},
		Organisms: []Sighting{{Pos: r2.Vec{X: 140, Y: 100}, Mass: 50, Index: 0}},
	}
	dir := Decide(o, frame, testPolicy)
	if !closeTo(dir, r2.Vec{X: -1}) {
		t.Errorf("expected to flee along -x, got %v", dir)
	}
}

func TestPredatorFleesFromCombinedThreat(t *testing.T) {
	o := &Organism{Pos: r2.Vec{X: 100, Y: 100}, Mass: 10, Heading: r2.Vec{X: 1}}
	frame := Frame{Organisms: []Sighting{
		{Pos: r2.Vec{X: 110, Y: 100}, Mass: 50, Index: 0},
		{Pos: r2.Vec{X: 100, Y: 110}, Mass: 50, Index: 1},
	}}
	dir := Decide(o, frame, testPolicy)
	want := r2.Vec{X: -1 / math.Sqrt2, Y: -1 / math.Sqrt2}
	if !closeTo(dir, want) {
		t.Errorf("got %v, want %v", dir, want)
	}
}

func TestSymmetricThreatKeepsHeading(t *testing.T) {
	heading := r2.Vec{Y: -1}
	o := &Organism{Pos: r2.Vec{X: 100, Y: 100}, Mass: 10, Heading: heading}
	frame := Frame{Organisms: []Sighting{
		{Pos: r2.Vec{X: 120, Y: 100}, Mass: 50, Index: 0},
		{Pos: r2.Vec{X: 80, Y: 100}, Mass: 50, Index: 1},
	}}
	if dir := Decide(o, frame, testPolicy); dir != heading {
		t.Errorf("symmetric threat should keep heading, got %v", dir)
	}
}

func TestPredatorChasesHeaviestPrey(t *testing.T) {
	o := &Organism{Pos: r2.Vec{X: 100, Y: 100}, Mass: 100}
	frame := Frame{
		Food: []Sighting{{Pos: r2.Vec{X: 101, Y: 100}, Mass: 3, Index: -1}},
		Organisms: []Sighting{
			{Pos: r2.Vec{X: 100, Y: 130}, Mass: 20, Index: 4},
			{Pos: r2.Vec{X: 70, Y: 100}, Mass: 40, Index: 2},
			{Pos: r2.Vec{X: 100, Y: 99}, Mass: 99, Index: 1}, // neutral band, ignored
		},
	}
	dir := Decide(o, frame, testPolicy)
	if !closeTo(dir, r2.Vec{X: -1}) {
		t.Errorf("should chase the mass-40 prey to the west, got %v", dir)
	}
}

func TestPreyTieBreaksOnLowestIndex(t *testing.T) {
	o := &Organism{Pos: r2.Vec{X: 100, Y: 100}, Mass: 100}
	frame := Frame{Organisms: []Sighting{
		{Pos: r2.Vec{X: 100, Y: 150}, Mass: 30, Index: 7},
		{Pos: r2.Vec{X: 150, Y: 100}, Mass: 30, Index: 3},
	}}
	dir := Decide(o, frame, testPolicy)
	if !closeTo(dir, r2.Vec{X: 1}) {
		t.Errorf("tie should go to index 3 (east), got %v", dir)
	}
}

func TestPredatorSeeksNearestFood(t *testing.T) {
	o := &Organism{Pos: r2.Vec{X: 100, Y: 100}, Mass: 10}
	frame := Frame{Food: []Sighting{
		{Pos: r2.Vec{X: 150, Y: 100}, Index: -1},
		{Pos: r2.Vec{X: 100, Y: 80}, Index: -1},
		{Pos: r2.Vec{X: 30, Y: 30}, Index: -1},
	}}
	dir := Decide(o, frame, testPolicy)
	if !closeTo(dir, r2.Vec{Y: -1}) {
		t.Errorf("should head north to the nearest pellet, got %v", dir)
	}
}

func TestFoodShortcut(t *testing.T) {
	o := &Organism{Pos: r2.Vec{X: 100, Y: 100}, Mass: 10}
	frame := Frame{Food: []Sighting{
		{Pos: r2.Vec{X: 104, Y: 100}, Index: -1},
		{Pos: r2.Vec{X: 100, Y: 101}, Index: -1},
	}}

	p := testPolicy
	if dir := Decide(o, frame, p); !closeTo(dir, r2.Vec{Y: 1}) {
		t.Errorf("without shortcut the true nearest wins, got %v", dir)
	}
	p.FoodShortcut = 5
	if dir := Decide(o, frame, p); !closeTo(dir, r2.Vec{X: 1}) {
		t.Errorf("shortcut should accept the first pellet within 5, got %v", dir)
	}
	p.FoodShortcut = 2
	if dir := Decide(o, frame, p); !closeTo(dir, r2.Vec{Y: 1}) {
		t.Errorf("shortcut that never triggers must not change the target, got %v", dir)
	}
}

func TestNoStimulusKeepsHeading(t *testing.T) {
	heading := r2.Vec{X: 0.6, Y: 0.8}
	o := &Organism{Pos: r2.Vec{X: 100, Y: 100}, Mass: 10, Heading: heading}
	if dir := Decide(o, Frame{}, testPolicy); dir != heading {
		t.Errorf("got %v, want %v", dir, heading)
	}
}

func TestCoincidentTargetKeepsHeading(t *testing.T) {
	heading := r2.Vec{X: 1}
	o := &Organism{Pos: r2.Vec{X: 100, Y: 100}, Mass: 10, Heading: heading}
	frame := Frame{Food: []Sighting{{Pos: r2.Vec{X: 100, Y: 100}, Index: -1}}}
	if dir := Decide(o, frame, testPolicy); dir != heading {
		t.Errorf("zero-length target vector should fall back to heading, got %v", dir)
	}
}

func TestNormalize(t *testing.T) {
	fallback := r2.Vec{X: 1}
	tests := []struct {
		name string
		in   r2.Vec
		want r2.Vec
	}{
		{"unit", r2.Vec{Y: 2}, r2.Vec{Y: 1}},
		{"zero", r2.Vec{}, fallback},
		{"nan", r2.Vec{X: math.NaN()}, fallback},
		{"inf", r2.Vec{X: math.Inf(1)}, fallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalize(tt.in, fallback); !closeTo(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBounceReflectsAtWalls(t *testing.T) {
	tests := []struct {
		name    string
		pos     r2.Vec
		heading r2.Vec
		want    r2.Vec
	}{
		{"open field", r2.Vec{X: 250, Y: 250}, r2.Vec{X: 1}, r2.Vec{X: 1}},
		{"east wall", r2.Vec{X: 496, Y: 250}, r2.Vec{X: 1}, r2.Vec{X: -1}},
		{"west wall", r2.Vec{X: 4, Y: 250}, r2.Vec{X: -1}, r2.Vec{X: 1}},
		{"corner", r2.Vec{X: 496, Y: 496}, r2.Vec{X: 0.6, Y: 0.8}, r2.Vec{X: -0.6, Y: -0.8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Organism{Pos: tt.pos, Mass: 9, Heading: tt.heading, Style: StyleBounce}
			// Perception is ignored by the bounce style.
			frame := Frame{Organisms: []Sighting{{Pos: r2.Vec{X: tt.pos.X + 1, Y: tt.pos.Y}, Mass: 100}}}
			if got := Decide(o, frame, testPolicy); !closeTo(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMoveClamps(t *testing.T) {
	tests := []struct {
		name string
		pos  r2.Vec
		dir  r2.Vec
		mass float64
		want r2.Vec
	}{
		{"free", r2.Vec{X: 100, Y: 100}, r2.Vec{X: 1}, 50, r2.Vec{X: 102, Y: 100}},
		{"east", r2.Vec{X: 499, Y: 100}, r2.Vec{X: 1}, 50, r2.Vec{X: 500 - math.Sqrt(50), Y: 100}},
		{"north-west", r2.Vec{X: 1, Y: 1}, r2.Vec{X: -1}, 4, r2.Vec{X: 2, Y: 2}},
		{"wider than arena", r2.Vec{X: 10, Y: 490}, r2.Vec{}, 300 * 300, r2.Vec{X: 250, Y: 250}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Organism{Pos: tt.pos, Mass: tt.mass}
			Move(o, tt.dir, testPolicy)
			if !closeTo(o.Pos, tt.want) {
				t.Errorf("got %v, want %v", o.Pos, tt.want)
			}
			if o.Heading != tt.dir {
				t.Errorf("heading not recorded: %v", o.Heading)
			}
		})
	}
}

func TestStyleString(t *testing.T) {
	if StylePredator.String() != "predator" || StyleBounce.String() != "bounce" || Style(9).String() != "unknown" {
		t.Error("unexpected style names")
	}
}
