package telemetry

import (
	"log"
	"sync"

	"microbiome/internal/sim"
)

// Collector accumulates tick reports and flushes a WindowStats record
// every window ticks. Observe matches sim.TickObserver.
type Collector struct {
	mu     sync.Mutex
	window int
	out    *OutputManager

	current WindowStats
	ticks   int

	last    WindowStats
	hasLast bool
}

// NewCollector creates a collector. out may be nil, in which case windows
// are only kept in memory.
func NewCollector(windowTicks int, out *OutputManager) *Collector {
	if windowTicks < 1 {
		windowTicks = 1
	}
	return &Collector{window: windowTicks, out: out}
}

// Observe records one tick.
func (c *Collector) Observe(rep sim.TickReport, snap sim.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ticks == 0 {
		c.current = WindowStats{WindowStartTick: rep.Tick}
	}
	c.ticks++
	if rep.Spawned {
		c.current.SpawnWaves++
	}
	c.current.FoodEaten += rep.FoodEaten
	c.current.OrganismsEaten += rep.OrganismsEaten

	if c.ticks < c.window {
		return
	}

	c.current.WindowEndTick = rep.Tick
	c.current.fillPopulation(snap)
	c.last = c.current
	c.hasLast = true
	c.ticks = 0

	if err := c.out.WriteStats(c.last); err != nil {
		log.Printf("⚠️ Telemetry write failed: %v", err)
	}
}

// Last returns the most recent completed window.
func (c *Collector) Last() (WindowStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.hasLast
}
