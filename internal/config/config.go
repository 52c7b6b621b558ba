// Package config provides centralized configuration management.
// Every process (sim, relay, viewer) reads its settings from here.
//
// Values are resolved in three layers: compiled defaults, an optional
// YAML file, then MB_* environment variables. Validate is called once
// before anything starts; an invalid value is fatal.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// SIMULATION CONFIGURATION
// =============================================================================

// Behavior styles accepted by SimConfig.Behavior.
const (
	BehaviorPredator = "predator"
	BehaviorBounce   = "bounce"
	BehaviorMixed    = "mixed"
)

// Spatial index implementations accepted by SimConfig.SpatialIndex.
const (
	IndexQuadTree = "quadtree"
	IndexGrid     = "grid"
)

// SimConfig holds everything the engine needs. It is passed to the
// engine constructor; nothing in the simulation reads globals.
type SimConfig struct {
	ArenaSize float64 `yaml:"arena_size"` // Arena is [0, size] x [0, size]
	TickRate  int     `yaml:"tick_rate"`  // Ticks per second
	Seed      int64   `yaml:"seed"`       // 0 = seed from the clock

	InitialOrganisms int `yaml:"initial_organisms"`
	InitialFood      int `yaml:"initial_food"`
	FoodSpawnRate    int `yaml:"food_spawn_rate"` // Pellets per second, 0 disables spawning

	FoodPerceptionRadius float64 `yaml:"food_perception_radius"`
	CellPerceptionRadius float64 `yaml:"cell_perception_radius"`
	EatDiff              float64 `yaml:"eat_diff"` // Minimum mass advantage to eat

	BaseSpeed      float64 `yaml:"base_speed"`       // speed = base / (sqrt(mass/scale) + 1)
	SpeedMassScale float64 `yaml:"speed_mass_scale"` // the 50 in the speed formula

	FoodMassMin     float64 `yaml:"food_mass_min"`
	FoodMassMax     float64 `yaml:"food_mass_max"`
	OrganismMassMin float64 `yaml:"organism_mass_min"`
	OrganismMassMax float64 `yaml:"organism_mass_max"`

	SpatialIndex     string  `yaml:"spatial_index"`     // "quadtree" or "grid"
	IndexCapacity    int     `yaml:"index_capacity"`    // Quadtree items per node before split
	GridCellSize     float64 `yaml:"grid_cell_size"`    // Only used by the grid index
	RegrowEatRadius  bool    `yaml:"regrow_eat_radius"` // Re-derive radius after eating food, before eating cells
	FoodShortcutDist float64 `yaml:"food_shortcut_distance"`

	Behavior    string  `yaml:"behavior"`     // "predator", "bounce" or "mixed"
	BounceRatio float64 `yaml:"bounce_ratio"` // Share of bounce organisms when mixed
}

// DefaultSim returns the default simulation configuration.
func DefaultSim() SimConfig {
	return SimConfig{
		ArenaSize:            500,
		TickRate:             30,
		InitialOrganisms:     10,
		InitialFood:          20,
		FoodSpawnRate:        3,
		FoodPerceptionRadius: 100,
		CellPerceptionRadius: 150,
		EatDiff:              2,
		BaseSpeed:            4,
		SpeedMassScale:       50,
		FoodMassMin:          1,
		FoodMassMax:          3,
		OrganismMassMin:      8,
		OrganismMassMax:      12,
		SpatialIndex:         IndexQuadTree,
		IndexCapacity:        10,
		GridCellSize:         50,
		RegrowEatRadius:      true,
		Behavior:             BehaviorPredator,
		BounceRatio:          0.25,
	}
}

// SpawnInterval returns the number of ticks between food spawns, or 0
// when spawning is disabled.
func (c SimConfig) SpawnInterval() uint64 {
	if c.FoodSpawnRate <= 0 {
		return 0
	}
	return uint64(c.TickRate / c.FoodSpawnRate)
}

// Validate reports every invalid field at once.
func (c SimConfig) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !(c.ArenaSize > 0) {
		bad("arena_size must be positive, got %v", c.ArenaSize)
	}
	if c.TickRate <= 0 {
		bad("tick_rate must be positive, got %d", c.TickRate)
	}
	if c.FoodSpawnRate < 0 || c.FoodSpawnRate > c.TickRate {
		bad("food_spawn_rate must be within [0, tick_rate], got %d", c.FoodSpawnRate)
	}
	if c.InitialOrganisms < 0 {
		bad("initial_organisms must not be negative, got %d", c.InitialOrganisms)
	}
	if c.InitialFood < 0 {
		bad("initial_food must not be negative, got %d", c.InitialFood)
	}
	if c.FoodPerceptionRadius < 0 || c.CellPerceptionRadius < 0 {
		bad("perception radii must not be negative, got %v and %v", c.FoodPerceptionRadius, c.CellPerceptionRadius)
	}
	if c.EatDiff < 0 {
		bad("eat_diff must not be negative, got %v", c.EatDiff)
	}
	if !(c.BaseSpeed > 0) {
		bad("base_speed must be positive, got %v", c.BaseSpeed)
	}
	if !(c.SpeedMassScale > 0) {
		bad("speed_mass_scale must be positive, got %v", c.SpeedMassScale)
	}
	if !(c.FoodMassMin > 0) || c.FoodMassMin > c.FoodMassMax {
		bad("food mass range must satisfy 0 < min <= max, got [%v, %v]", c.FoodMassMin, c.FoodMassMax)
	}
	if !(c.OrganismMassMin > 0) || c.OrganismMassMin > c.OrganismMassMax {
		bad("organism mass range must satisfy 0 < min <= max, got [%v, %v]", c.OrganismMassMin, c.OrganismMassMax)
	}
	switch c.SpatialIndex {
	case IndexQuadTree:
		if c.IndexCapacity < 1 {
			bad("index_capacity must be at least 1, got %d", c.IndexCapacity)
		}
	case IndexGrid:
		if !(c.GridCellSize > 0) {
			bad("grid_cell_size must be positive, got %v", c.GridCellSize)
		}
	default:
		bad("spatial_index must be %q or %q, got %q", IndexQuadTree, IndexGrid, c.SpatialIndex)
	}
	if c.FoodShortcutDist < 0 {
		bad("food_shortcut_distance must not be negative, got %v", c.FoodShortcutDist)
	}
	switch c.Behavior {
	case BehaviorPredator, BehaviorBounce, BehaviorMixed:
	default:
		bad("behavior must be one of predator, bounce, mixed, got %q", c.Behavior)
	}
	if c.BounceRatio < 0 || c.BounceRatio > 1 {
		bad("bounce_ratio must be within [0, 1], got %v", c.BounceRatio)
	}

	return errors.Join(errs...)
}

// =============================================================================
// IPC CONFIGURATION
// =============================================================================

// Payload codecs accepted by IPCConfig.Codec.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// IPCConfig holds the snapshot transport settings shared by publisher
// and subscribers.
type IPCConfig struct {
	Endpoint string `yaml:"endpoint"` // unix:///path or tcp://host:port, empty = platform default
	Topic    string `yaml:"topic"`
	Codec    string `yaml:"codec"`
}

// DefaultIPC returns the default transport configuration.
func DefaultIPC() IPCConfig {
	return IPCConfig{
		Topic: "mb_state",
		Codec: CodecJSON,
	}
}

// =============================================================================
// RELAY CONFIGURATION
// =============================================================================

// RelayConfig holds the websocket relay HTTP settings.
type RelayConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	StaticDir      string   `yaml:"static_dir"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxConnsTotal  int      `yaml:"max_conns_total"`
	MaxConnsPerIP  int      `yaml:"max_conns_per_ip"`
	RequestsPerSec float64  `yaml:"requests_per_sec"`
	RequestBurst   int      `yaml:"request_burst"`
}

// DefaultRelay returns the default relay configuration.
func DefaultRelay() RelayConfig {
	return RelayConfig{
		Host:           "0.0.0.0",
		Port:           3000,
		AllowedOrigins: []string{"*"},
		MaxConnsTotal:  500,
		MaxConnsPerIP:  10,
		RequestsPerSec: 10,
		RequestBurst:   20,
	}
}

// Addr returns host:port for net/http.
func (c RelayConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// =============================================================================
// OBSERVABILITY CONFIGURATION
// =============================================================================

// DebugConfig configures the pprof/metrics server.
type DebugConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"` // Localhost only unless MB_DEBUG_EXTERNAL=true
}

// DefaultDebug returns safe defaults.
func DefaultDebug() DebugConfig {
	return DebugConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

// TelemetryConfig configures the CSV statistics output and the event log.
type TelemetryConfig struct {
	OutputDir    string `yaml:"output_dir"`     // Empty disables CSV output
	WindowTicks  int    `yaml:"window_ticks"`   // Ticks aggregated per CSV row
	EventLogPath string `yaml:"event_log_path"` // Empty disables the event log
}

// DefaultTelemetry returns the default telemetry configuration.
func DefaultTelemetry() TelemetryConfig {
	return TelemetryConfig{
		WindowTicks: 30,
	}
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Sim       SimConfig       `yaml:"sim"`
	IPC       IPCConfig       `yaml:"ipc"`
	Relay     RelayConfig     `yaml:"relay"`
	Debug     DebugConfig     `yaml:"debug"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Default returns the complete configuration with compiled defaults.
func Default() AppConfig {
	return AppConfig{
		Sim:       DefaultSim(),
		IPC:       DefaultIPC(),
		Relay:     DefaultRelay(),
		Debug:     DefaultDebug(),
		Telemetry: DefaultTelemetry(),
	}
}

// Load resolves defaults, the optional YAML file at path, and env
// overrides, then validates the result.
func Load(path string) (AppConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every section.
func (c AppConfig) Validate() error {
	var errs []error
	if err := c.Sim.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.IPC.Codec {
	case CodecJSON, CodecMsgpack:
	default:
		errs = append(errs, fmt.Errorf("ipc codec must be %q or %q, got %q", CodecJSON, CodecMsgpack, c.IPC.Codec))
	}
	if c.IPC.Topic == "" {
		errs = append(errs, errors.New("ipc topic must not be empty"))
	}
	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		errs = append(errs, fmt.Errorf("relay port out of range: %d", c.Relay.Port))
	}
	if c.Telemetry.WindowTicks <= 0 {
		errs = append(errs, fmt.Errorf("telemetry window_ticks must be positive, got %d", c.Telemetry.WindowTicks))
	}
	return errors.Join(errs...)
}

// applyEnv overlays MB_* environment variables. The unprefixed names
// (MB_PUBSUB, MB_SERVER_HOST, ...) match the original deployment scripts.
// A variable that is set but does not parse is an error, not a default.
func (c *AppConfig) applyEnv() error {
	var env envReader
	s := &c.Sim
	s.ArenaSize = env.getFloat("MB_ARENA_SIZE", s.ArenaSize)
	s.TickRate = env.getInt("MB_TICK_RATE", s.TickRate)
	s.Seed = int64(env.getInt("MB_SEED", int(s.Seed)))
	s.InitialOrganisms = env.getInt("MB_INITIAL_ORGANISMS", s.InitialOrganisms)
	s.InitialFood = env.getInt("MB_INITIAL_FOOD", s.InitialFood)
	s.FoodSpawnRate = env.getInt("MB_FOOD_SPAWN_RATE", s.FoodSpawnRate)
	s.FoodPerceptionRadius = env.getFloat("MB_FOOD_PERCEPTION", s.FoodPerceptionRadius)
	s.CellPerceptionRadius = env.getFloat("MB_CELL_PERCEPTION", s.CellPerceptionRadius)
	s.EatDiff = env.getFloat("MB_EAT_DIFF", s.EatDiff)
	s.BaseSpeed = env.getFloat("MB_BASE_SPEED", s.BaseSpeed)
	s.SpatialIndex = env.getString("MB_SPATIAL_INDEX", s.SpatialIndex)
	s.Behavior = env.getString("MB_BEHAVIOR", s.Behavior)
	s.RegrowEatRadius = env.getBool("MB_REGROW_EAT_RADIUS", s.RegrowEatRadius)

	c.IPC.Endpoint = env.getString("MB_PUBSUB", c.IPC.Endpoint)
	c.IPC.Codec = env.getString("MB_CODEC", c.IPC.Codec)

	c.Relay.Host = env.getString("MB_SERVER_HOST", c.Relay.Host)
	c.Relay.Port = env.getInt("MB_SERVER_PORT", c.Relay.Port)
	c.Relay.StaticDir = env.getString("MB_UI_PATH", c.Relay.StaticDir)
	if origins := os.Getenv("MB_ALLOWED_ORIGINS"); origins != "" {
		c.Relay.AllowedOrigins = strings.Split(origins, ",")
	}

	c.Debug.Enabled = env.getBool("MB_DEBUG_SERVER", c.Debug.Enabled)
	c.Debug.ListenAddr = env.getString("MB_DEBUG_ADDR", c.Debug.ListenAddr)

	c.Telemetry.OutputDir = env.getString("MB_TELEMETRY_DIR", c.Telemetry.OutputDir)
	c.Telemetry.EventLogPath = env.getString("MB_EVENT_LOG", c.Telemetry.EventLogPath)

	return errors.Join(env.errs...)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// envReader collects parse failures so every bad variable is reported.
type envReader struct {
	errs []error
}

func (r *envReader) getString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func (r *envReader) getInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return defaultVal
	}
	return i
}

func (r *envReader) getFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return defaultVal
	}
	return f
}

func (r *envReader) getBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return defaultVal
	}
	return b
}
