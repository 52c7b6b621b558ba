package sim

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"microbiome/internal/metrics"
)

// SnapshotSink receives one snapshot per tick. PublishSnapshot must not
// block; an error is logged and the tick loop carries on.
type SnapshotSink interface {
	PublishSnapshot(Snapshot) error
}

// SinkFunc adapts a function to SnapshotSink.
type SinkFunc func(Snapshot) error

// PublishSnapshot calls f.
func (f SinkFunc) PublishSnapshot(s Snapshot) error { return f(s) }

// TickObserver is called after every tick with its report and snapshot.
type TickObserver func(TickReport, Snapshot)

// Runner drives an engine at a fixed wall-clock cadence.
type Runner struct {
	engine    *Engine
	sink      SnapshotSink
	interval  time.Duration
	observers []TickObserver

	overruns      atomic.Uint64
	publishErrors atomic.Uint64
	errLog        rate.Sometimes // a dead sink would otherwise log every tick
}

// NewRunner paces e at its configured tick rate. sink may be nil.
func NewRunner(e *Engine, sink SnapshotSink) *Runner {
	return &Runner{
		engine:   e,
		sink:     sink,
		interval: time.Second / time.Duration(e.cfg.TickRate),
		errLog:   rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
}

// OnTick registers an observer. Observers run on the tick goroutine and
// must be quick. Register them before Run.
func (r *Runner) OnTick(fn TickObserver) {
	r.observers = append(r.observers, fn)
}

// Interval returns the per-tick time budget.
func (r *Runner) Interval() time.Duration {
	return r.interval
}

// Run ticks until ctx is cancelled. Cancellation is only observed
// between ticks; a started tick always completes. A tick that overruns
// its budget is followed immediately by the next one, with no catch-up.
func (r *Runner) Run(ctx context.Context) error {
	log.Printf("🎮 Simulation running at %d TPS", r.engine.cfg.TickRate)
	defer log.Println("🛑 Simulation stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		start := time.Now()
		r.RunOnce()
		elapsed := time.Since(start)

		remaining := r.interval - elapsed
		if remaining <= 0 {
			r.overruns.Add(1)
			metrics.TickOverruns.Inc()
			continue
		}

		timer.Reset(remaining)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}

// RunOnce executes a single tick and publishes its snapshot.
func (r *Runner) RunOnce() TickReport {
	start := time.Now()
	rep := r.engine.Step()
	snap := r.engine.Snapshot()
	metrics.RecordTick(time.Since(start), rep.Organisms, rep.Food, rep.FoodEaten, rep.OrganismsEaten)

	if r.sink != nil {
		if err := r.sink.PublishSnapshot(snap); err != nil {
			r.publishErrors.Add(1)
			metrics.PublishErrors.Inc()
			r.errLog.Do(func() {
				log.Printf("⚠️ Snapshot publish failed at tick %d: %v (%d failures so far)",
					snap.Tick, err, r.publishErrors.Load())
			})
		}
	}
	for _, fn := range r.observers {
		fn(rep, snap)
	}
	return rep
}

// Overruns returns how many ticks exceeded their budget.
func (r *Runner) Overruns() uint64 {
	return r.overruns.Load()
}

// PublishErrors returns how many snapshots the sink rejected.
func (r *Runner) PublishErrors() uint64 {
	return r.publishErrors.Load()
}
