package sim

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"microbiome/internal/config"
)

func TestRunOncePublishesOneSnapshot(t *testing.T) {
	cfg := config.DefaultSim()
	e := newTestEngine(t, cfg, WithSeed(5))

	var got []Snapshot
	r := NewRunner(e, SinkFunc(func(s Snapshot) error {
		got = append(got, s)
		return nil
	}))
	var reports []TickReport
	r.OnTick(func(rep TickReport, _ Snapshot) { reports = append(reports, rep) })

	for i := 0; i < 3; i++ {
		r.RunOnce()
	}
	if len(got) != 3 || len(reports) != 3 {
		t.Fatalf("expected 3 snapshots and reports, got %d and %d", len(got), len(reports))
	}
	for i, s := range got {
		if s.Tick != uint64(i+1) {
			t.Errorf("snapshot %d has tick %d", i, s.Tick)
		}
	}
}

func TestSinkErrorDoesNotStopTicking(t *testing.T) {
	e := newTestEngine(t, emptyConfig())
	r := NewRunner(e, SinkFunc(func(Snapshot) error { return errors.New("transport down") }))

	for i := 0; i < 5; i++ {
		r.RunOnce()
	}
	if e.Tick() != 5 {
		t.Errorf("ticks: got %d", e.Tick())
	}
	if r.PublishErrors() != 5 {
		t.Errorf("publish errors: got %d", r.PublishErrors())
	}
}

func TestRunPacesAndStops(t *testing.T) {
	cfg := emptyConfig()
	cfg.TickRate = 100
	e := newTestEngine(t, cfg)

	var ticks atomic.Int64
	r := NewRunner(e, SinkFunc(func(Snapshot) error {
		ticks.Add(1)
		return nil
	}))
	if r.Interval() != 10*time.Millisecond {
		t.Fatalf("interval: got %v", r.Interval())
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Run(ctx)
	}()
	time.Sleep(200 * time.Millisecond)
	cancel()
	wg.Wait()

	n := ticks.Load()
	// 20 ticks expected; allow generous scheduler slack but no free-running loop.
	if n < 5 || n > 30 {
		t.Errorf("expected roughly 20 paced ticks, got %d", n)
	}
	if int64(e.Tick()) != n {
		t.Errorf("every tick publishes exactly once: %d ticks, %d snapshots", e.Tick(), n)
	}
}

func TestRunOverrunStartsNextTickImmediately(t *testing.T) {
	cfg := emptyConfig()
	cfg.TickRate = 1000
	e := newTestEngine(t, cfg)

	slow := SinkFunc(func(Snapshot) error {
		time.Sleep(3 * time.Millisecond)
		return nil
	})
	r := NewRunner(e, slow)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	if r.Overruns() == 0 {
		t.Error("a 3ms sink at 1000 TPS must overrun")
	}
	// No backlog: ticks are bounded by elapsed time / sink latency.
	if e.Tick() > 20 {
		t.Errorf("overrun ticks must not be replayed, got %d ticks", e.Tick())
	}
}
