package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultsAreValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestSimValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SimConfig)
		want   string
	}{
		{"zero arena", func(c *SimConfig) { c.ArenaSize = 0 }, "arena_size"},
		{"negative arena", func(c *SimConfig) { c.ArenaSize = -10 }, "arena_size"},
		{"zero tick rate", func(c *SimConfig) { c.TickRate = 0 }, "tick_rate"},
		{"spawn faster than ticks", func(c *SimConfig) { c.FoodSpawnRate = 31 }, "food_spawn_rate"},
		{"inverted food mass", func(c *SimConfig) { c.FoodMassMin, c.FoodMassMax = 3, 1 }, "food mass range"},
		{"inverted organism mass", func(c *SimConfig) { c.OrganismMassMin, c.OrganismMassMax = 12, 8 }, "organism mass range"},
		{"zero organism mass", func(c *SimConfig) { c.OrganismMassMin = 0 }, "organism mass range"},
		{"negative eat diff", func(c *SimConfig) { c.EatDiff = -1 }, "eat_diff"},
		{"unknown behavior", func(c *SimConfig) { c.Behavior = "swarm" }, "behavior"},
		{"unknown index", func(c *SimConfig) { c.SpatialIndex = "rtree" }, "spatial_index"},
		{"zero capacity", func(c *SimConfig) { c.IndexCapacity = 0 }, "index_capacity"},
		{"bounce ratio above one", func(c *SimConfig) { c.BounceRatio = 1.5 }, "bounce_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSim()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestSimValidateReportsAllProblems(t *testing.T) {
	cfg := DefaultSim()
	cfg.ArenaSize = 0
	cfg.TickRate = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"arena_size", "tick_rate"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestSpawnInterval(t *testing.T) {
	cfg := DefaultSim()
	if got := cfg.SpawnInterval(); got != 10 {
		t.Errorf("30 TPS / 3 per second: expected 10, got %d", got)
	}
	cfg.FoodSpawnRate = 0
	if got := cfg.SpawnInterval(); got != 0 {
		t.Errorf("disabled spawning: expected 0, got %d", got)
	}
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "microbiome.yaml")
	yamlDoc := `
sim:
  arena_size: 800
  tick_rate: 60
  behavior: mixed
ipc:
  codec: msgpack
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MB_TICK_RATE", "20")
	t.Setenv("MB_SERVER_PORT", "4000")
	t.Setenv("MB_PUBSUB", "tcp://127.0.0.1:5556")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sim.ArenaSize != 800 {
		t.Errorf("arena size from yaml: got %v", cfg.Sim.ArenaSize)
	}
	if cfg.Sim.TickRate != 20 {
		t.Errorf("env should override yaml tick rate: got %d", cfg.Sim.TickRate)
	}
	if cfg.Sim.Behavior != BehaviorMixed {
		t.Errorf("behavior: got %q", cfg.Sim.Behavior)
	}
	if cfg.Sim.InitialFood != 20 {
		t.Errorf("unset fields keep defaults: got %d", cfg.Sim.InitialFood)
	}
	if cfg.IPC.Codec != CodecMsgpack {
		t.Errorf("codec: got %q", cfg.IPC.Codec)
	}
	if cfg.IPC.Endpoint != "tcp://127.0.0.1:5556" {
		t.Errorf("endpoint: got %q", cfg.IPC.Endpoint)
	}
	if cfg.Relay.Addr() != "0.0.0.0:4000" {
		t.Errorf("relay addr: got %q", cfg.Relay.Addr())
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("MB_TICK_RATE", "fast")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "MB_TICK_RATE") {
		t.Fatalf("expected MB_TICK_RATE parse error, got %v", err)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("MB_ARENA_SIZE", "-5")
	if _, err := Load(""); err == nil {
		t.Fatal("negative arena size must be fatal")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
