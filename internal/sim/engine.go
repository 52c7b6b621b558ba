package sim

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"microbiome/internal/config"
	"microbiome/internal/sim/spatial"
)

// Engine owns the organism list and the food index. All mutation happens
// inside Step; the other methods are safe to call from any goroutine.
type Engine struct {
	mu sync.RWMutex

	cfg        config.SimConfig
	policy     Policy
	perception Perception
	regrow     bool
	decay      DecayFunc

	organisms []Organism
	food      spatial.Index[*Food]
	cells     spatial.Index[OrganismRef] // rebuilt every tick
	eaten     []bool                     // indexed like organisms, reset every tick

	tick   uint64
	nextID uint64

	// Deterministic RNG; the seed is logged so a run can be replayed.
	rng     *rand.Rand
	seed    int64
	seedSet bool

	events *EventLog
}

// Option configures an Engine.
type Option func(*Engine)

// WithSeed fixes the RNG seed, overriding the config.
func WithSeed(seed int64) Option {
	return func(e *Engine) {
		e.seed = seed
		e.seedSet = true
	}
}

// WithDecay installs a mass decay hook applied to every survivor at the
// end of each tick.
func WithDecay(fn DecayFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.decay = fn
		}
	}
}

// WithEventLog routes engine events to el.
func WithEventLog(el *EventLog) Option {
	return func(e *Engine) { e.events = el }
}

// WithRegrowEatRadius chooses whether the organism-eating radius is
// recomputed after food is eaten in the same step.
func WithRegrowEatRadius(on bool) Option {
	return func(e *Engine) { e.regrow = on }
}

// TickReport summarizes one Step.
type TickReport struct {
	Tick           uint64 // Tick number that ran, starting at 0
	Spawned        bool
	FoodEaten      int
	OrganismsEaten int
	Organisms      int // Survivors
	Food           int // Pellets left in the index
}

// NewEngine validates cfg and populates the arena with the initial food
// and organisms.
func NewEngine(cfg config.SimConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulation config: %w", err)
	}

	e := &Engine{
		cfg: cfg,
		policy: Policy{
			EatDiff:      cfg.EatDiff,
			ArenaSize:    cfg.ArenaSize,
			Physics:      Physics{BaseSpeed: cfg.BaseSpeed, MassScale: cfg.SpeedMassScale},
			FoodShortcut: cfg.FoodShortcutDist,
		},
		perception: Perception{
			FoodRadius: cfg.FoodPerceptionRadius,
			CellRadius: cfg.CellPerceptionRadius,
		},
		regrow:    cfg.RegrowEatRadius,
		decay:     NoDecay,
		organisms: make([]Organism, 0, cfg.InitialOrganisms),
		seed:      cfg.Seed,
		seedSet:   cfg.Seed != 0,
	}
	for _, opt := range opts {
		opt(e)
	}
	if !e.seedSet {
		e.seed = time.Now().UnixNano()
	}
	e.rng = rand.New(rand.NewSource(e.seed))

	bounds := r2.Box{Max: r2.Vec{X: cfg.ArenaSize, Y: cfg.ArenaSize}}
	e.food = newIndex[*Food](cfg, bounds)
	e.cells = newIndex[OrganismRef](cfg, bounds)

	for i := 0; i < cfg.InitialFood; i++ {
		e.spawnFood()
	}
	for i := 0; i < cfg.InitialOrganisms; i++ {
		e.addOrganism(e.randomOrganism())
	}

	log.Printf("🧫 Engine ready: arena %.0f, %d organisms, %d food, %s index, seed %d",
		cfg.ArenaSize, len(e.organisms), e.food.Len(), cfg.SpatialIndex, e.seed)
	return e, nil
}

func newIndex[T spatial.Item](cfg config.SimConfig, bounds r2.Box) spatial.Index[T] {
	if cfg.SpatialIndex == config.IndexGrid {
		return spatial.NewGrid[T](bounds, cfg.GridCellSize)
	}
	return spatial.NewQuadTree[T](bounds, cfg.IndexCapacity)
}

// Step runs one tick: spawn, order, re-index, resolve each organism,
// cull, advance.
func (e *Engine) Step() TickReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	rep := TickReport{Tick: e.tick}
	e.events.EmitSimple(EventTypeTick, e.tick, 0, TickPayload{
		Seed:      e.seed,
		Organisms: len(e.organisms),
		Food:      e.food.Len(),
	})

	if interval := e.cfg.SpawnInterval(); interval > 0 && e.tick%interval == 0 {
		e.spawnFood()
		rep.Spawned = true
	}

	// Heaviest first, so an organism always resolves before anything
	// that could eat it. ID breaks ties for a stable order across runs.
	sort.SliceStable(e.organisms, func(i, j int) bool {
		a, b := &e.organisms[i], &e.organisms[j]
		if a.Mass != b.Mass {
			return a.Mass > b.Mass
		}
		return a.ID < b.ID
	})

	e.cells.Clear()
	for i := range e.organisms {
		o := &e.organisms[i]
		e.cells.Insert(OrganismRef{Pos: o.Pos, Mass: o.Mass, Index: i})
	}
	if cap(e.eaten) < len(e.organisms) {
		e.eaten = make([]bool, len(e.organisms))
	} else {
		e.eaten = e.eaten[:len(e.organisms)]
		clear(e.eaten)
	}

	for i := range e.organisms {
		if e.eaten[i] {
			continue
		}
		o := &e.organisms[i]

		frame := Perceive(i, o, e.food, e.cells, e.perception)
		Move(o, Decide(o, frame, e.policy), e.policy)

		reach := o.Radius()
		rep.FoodEaten += e.eatFood(o, reach)
		if e.regrow {
			reach = o.Radius()
		}
		rep.OrganismsEaten += e.eatOrganisms(i, o, reach)
		// Eating grows the radius, so re-clamp against the wall.
		o.Pos = ClampToArena(o.Pos, o.Radius(), e.policy.ArenaSize)
	}

	e.cull()

	for i := range e.organisms {
		o := &e.organisms[i]
		if m := e.decay(o.Mass); m > 0 && !math.IsInf(m, 0) {
			o.Mass = m
			o.Pos = ClampToArena(o.Pos, o.Radius(), e.policy.ArenaSize)
		}
	}

	e.tick++
	rep.Organisms = len(e.organisms)
	rep.Food = e.food.Len()
	return rep
}

// eatFood pops every pellet within reach of o and returns how many were eaten.
func (e *Engine) eatFood(o *Organism, reach float64) int {
	pellets := e.food.Pop(spatial.Circle{Center: o.Pos, Radius: reach})
	if len(pellets) == 0 {
		return 0
	}
	ids := make([]uint64, len(pellets))
	var gained float64
	for i, f := range pellets {
		gained += f.Mass
		ids[i] = f.ID
	}
	o.Mass += gained
	e.events.EmitSimple(EventTypeFoodEaten, e.tick, o.ID, FoodEatenPayload{
		EaterID: o.ID,
		FoodIDs: ids,
		Gained:  gained,
		NewMass: o.Mass,
	})
	return len(pellets)
}

// eatOrganisms pops every organism within reach of the organism at slot
// self that it outweighs by more than EatDiff, using each candidate's
// current mass.
func (e *Engine) eatOrganisms(self int, o *Organism, reach float64) int {
	victims := e.cells.PopWhere(spatial.Circle{Center: o.Pos, Radius: reach}, func(ref OrganismRef) bool {
		return ref.Index != self && !e.eaten[ref.Index] &&
			CanEat(o.Mass, e.organisms[ref.Index].Mass, e.policy.EatDiff)
	})
	for _, ref := range victims {
		victim := &e.organisms[ref.Index]
		o.Mass += victim.Mass
		e.eaten[ref.Index] = true
		e.events.EmitSimple(EventTypeOrganismEaten, e.tick, o.ID, OrganismEatenPayload{
			EaterID:  o.ID,
			VictimID: victim.ID,
			Gained:   victim.Mass,
			NewMass:  o.Mass,
		})
	}
	return len(victims)
}

// cull drops eaten organisms, keeping survivor order.
func (e *Engine) cull() {
	survivors := e.organisms[:0]
	for i, o := range e.organisms {
		if !e.eaten[i] {
			survivors = append(survivors, o)
		}
	}
	clear(e.organisms[len(survivors):])
	e.organisms = survivors
}

func (e *Engine) spawnFood() {
	e.nextID++
	f := &Food{
		ID:    e.nextID,
		Pos:   randomPosition(e.rng, e.cfg.ArenaSize),
		Mass:  randomMass(e.rng, e.cfg.FoodMassMin, e.cfg.FoodMassMax),
		Color: randomColor(e.rng),
	}
	e.food.Insert(f)
	e.events.EmitSimple(EventTypeFoodSpawned, e.tick, 0, FoodSpawnedPayload{
		FoodID: f.ID,
		Pos:    [2]float64{f.Pos.X, f.Pos.Y},
		Mass:   f.Mass,
	})
}

func (e *Engine) randomOrganism() Organism {
	style := StylePredator
	switch e.cfg.Behavior {
	case config.BehaviorBounce:
		style = StyleBounce
	case config.BehaviorMixed:
		if e.rng.Float64() < e.cfg.BounceRatio {
			style = StyleBounce
		}
	}
	return Organism{
		Pos:     randomPosition(e.rng, e.cfg.ArenaSize),
		Mass:    randomMass(e.rng, e.cfg.OrganismMassMin, e.cfg.OrganismMassMax),
		Color:   randomColor(e.rng),
		Heading: randomHeading(e.rng),
		Style:   style,
	}
}

func (e *Engine) addOrganism(o Organism) uint64 {
	if o.ID == 0 {
		e.nextID++
		o.ID = e.nextID
	} else if o.ID > e.nextID {
		e.nextID = o.ID
	}
	if o.Color == "" {
		o.Color = randomColor(e.rng)
	}
	e.organisms = append(e.organisms, o)
	e.events.EmitSimple(EventTypeOrganismAdded, e.tick, 0, OrganismAddedPayload{
		OrganismID: o.ID,
		Pos:        [2]float64{o.Pos.X, o.Pos.Y},
		Mass:       o.Mass,
		Style:      o.Style.String(),
		Color:      o.Color,
	})
	return o.ID
}

// AddOrganism places o in the arena between ticks and returns its ID.
// A zero ID is assigned automatically. Masses that are not positive are
// rejected.
func (e *Engine) AddOrganism(o Organism) (uint64, error) {
	if !(o.Mass > 0) {
		return 0, fmt.Errorf("organism mass must be positive, got %v", o.Mass)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addOrganism(o), nil
}

// AddFood inserts a pellet between ticks. It fails if the pellet lies
// outside the arena or its mass is not positive.
func (e *Engine) AddFood(f Food) (uint64, error) {
	if !(f.Mass > 0) {
		return 0, fmt.Errorf("food mass must be positive, got %v", f.Mass)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if f.ID == 0 {
		e.nextID++
		f.ID = e.nextID
	} else if f.ID > e.nextID {
		e.nextID = f.ID
	}
	if f.Color == "" {
		f.Color = randomColor(e.rng)
	}
	if !e.food.Insert(&f) {
		return 0, fmt.Errorf("food at (%v, %v) is outside the arena", f.Pos.X, f.Pos.Y)
	}
	return f.ID, nil
}

// Snapshot returns an immutable copy of the current state. Radii are
// derived from mass here.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := Snapshot{
		Size:      e.cfg.ArenaSize,
		Tick:      e.tick,
		Organisms: make([]EntitySnapshot, len(e.organisms)),
	}
	for i := range e.organisms {
		o := &e.organisms[i]
		snap.Organisms[i] = entitySnapshot(o.ID, o.Pos, o.Mass, o.Color)
	}
	pellets := e.food.All()
	snap.Food = make([]EntitySnapshot, len(pellets))
	for i, f := range pellets {
		snap.Food[i] = entitySnapshot(f.ID, f.Pos, f.Mass, f.Color)
	}
	return snap
}

// Tick returns the number of completed ticks.
func (e *Engine) Tick() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tick
}

// Organisms returns a copy of the organism list in its current order.
func (e *Engine) Organisms() []Organism {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Organism, len(e.organisms))
	copy(out, e.organisms)
	return out
}

// FoodCount returns the number of pellets in the arena.
func (e *Engine) FoodCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.food.Len()
}

// Seed returns the RNG seed the engine started with.
func (e *Engine) Seed() int64 {
	return e.seed
}
