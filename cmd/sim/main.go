package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"microbiome/internal/config"
	"microbiome/internal/ipc"
	"microbiome/internal/metrics"
	"microbiome/internal/sim"
	"microbiome/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (optional)")
	flag.Parse()

	if err := godotenv.Load(".env"); err != nil {
		log.Println("💡 No .env file found, using environment variables only")
	}

	log.Println("🧫 ================================")
	log.Println("🧫  MICROBIOME - SIMULATION")
	log.Println("🧫 ================================")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	simCfg := cfg.Sim
	log.Printf("🧫 Config: arena %.0f, %d TPS, %d organisms, %d food, %s behavior, %s index",
		simCfg.ArenaSize, simCfg.TickRate, simCfg.InitialOrganisms, simCfg.InitialFood,
		simCfg.Behavior, simCfg.SpatialIndex)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		opts     []sim.Option
		eventLog *sim.EventLog
	)
	if path := cfg.Telemetry.EventLogPath; path != "" {
		if eventLog, err = sim.OpenEventLog(path); err != nil {
			log.Printf("⚠️ Event log disabled: %v", err)
		} else {
			defer eventLog.Stop()
			opts = append(opts, sim.WithEventLog(eventLog))
			log.Printf("📝 Event log: %s", path)
		}
	}
	// log.Fatal skips deferred calls; flush pending events first.
	fatalf := func(format string, v ...any) {
		if eventLog != nil {
			eventLog.Stop()
		}
		log.Fatalf(format, v...)
	}

	engine, err := sim.NewEngine(simCfg, opts...)
	if err != nil {
		fatalf("❌ %v", err)
	}

	if err := metrics.StartDebugServer(ctx, cfg.Debug); err != nil {
		log.Printf("⚠️ Debug server disabled: %v", err)
	}

	publisher := ipc.NewPublisher(cfg.IPC)
	publisher.SetHello(simCfg.ArenaSize, simCfg.TickRate)
	if err := publisher.Start(); err != nil {
		fatalf("❌ Failed to start publisher: %v", err)
	}
	defer publisher.Stop()

	runner := sim.NewRunner(engine, publisher)

	out, err := telemetry.NewOutputManager(cfg.Telemetry.OutputDir)
	if err != nil {
		log.Printf("⚠️ Telemetry output disabled: %v", err)
	}
	defer out.Close()
	collector := telemetry.NewCollector(cfg.Telemetry.WindowTicks, out)
	runner.OnTick(collector.Observe)
	if dir := out.Dir(); dir != "" {
		log.Printf("📈 Telemetry: %s/stats.csv every %d ticks", dir, cfg.Telemetry.WindowTicks)
	}

	go logStats(ctx, engine, runner, publisher, collector)

	log.Printf("✅ Simulation running (seed %d). Press Ctrl+C to stop.", engine.Seed())
	if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
		fatalf("❌ Runner stopped: %v", err)
	}
	log.Println("🛑 Shutting down...")
}

func logStats(ctx context.Context, engine *sim.Engine, runner *sim.Runner, pub *ipc.Publisher, col *telemetry.Collector) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			clients, sent, dropped := pub.Stats()
			log.Printf("🧫 tick=%d organisms=%d food=%d overruns=%d publishErrors=%d",
				engine.Tick(), len(engine.Organisms()), engine.FoodCount(), runner.Overruns(), runner.PublishErrors())
			log.Printf("📡 subscribers=%d sent=%d dropped=%d", clients, sent, dropped)
			if w, ok := col.Last(); ok {
				log.Printf("📈 mass mean=%.1f std=%.1f max=%.0f", w.MassMean, w.MassStd, w.MassMax)
			}
		}
	}
}
