package relay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"microbiome/internal/metrics"
	"microbiome/internal/render"
)

// RouterConfig contains the dependencies of the HTTP router.
//
// Example usage in tests:
//
//	hub := relay.NewHub(config.DefaultRelay())
//	router := relay.NewRouter(relay.RouterConfig{
//	    Hub:    hub,
//	    Bridge: relay.NewBridge(hub),
//	    RateLimitConfig: &relay.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
//	})
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Hub serves /ws (required)
	Hub *Hub

	// Bridge supplies the latest snapshot (required)
	Bridge *Bridge

	// RateLimiter is an optional pre-configured rate limiter. If nil, one
	// is created from RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is only used when RateLimiter is nil.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins defaults to allowing every origin.
	CORSOrigins []string

	// StaticDir is the browser UI directory served at /. Empty disables it.
	StaticDir string

	// DisableLogging disables the request logger middleware.
	DisableLogging bool
}

type routerHandlers struct {
	hub     *Hub
	bridge  *Bridge
	limiter *IPRateLimiter
}

// NewRouter builds the relay's HTTP routes. It starts no goroutines other
// than the rate limiter's cleanup loop, so it is safe to use with
// httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(requestMetrics)

	// Rate limiting before CORS to reject early.
	limiter := cfg.RateLimiter
	if limiter == nil {
		rlCfg := RateLimitConfig{RequestsPerSecond: 10, Burst: 20}
		if cfg.RateLimitConfig != nil {
			rlCfg = *cfg.RateLimitConfig
		}
		limiter = NewIPRateLimiter(rlCfg)
	}
	r.Use(limiter.Middleware)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	h := &routerHandlers{hub: cfg.Hub, bridge: cfg.Bridge, limiter: limiter}

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("pong"))
	})
	r.Get("/ws", cfg.Hub.HandleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/snapshot", h.handleSnapshot)
		r.Get("/stats", h.handleStats)
		r.Get("/frame.png", h.handleFrame)
	})

	if cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	return r
}

func (h *routerHandlers) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	data, ok := h.bridge.LatestJSON()
	if !ok {
		writeError(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (h *routerHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	sent, dropped := h.hub.Stats()
	received, failed := h.bridge.Stats()
	allowed, rejected := h.limiter.Stats()

	stats := map[string]any{
		"clients":           h.hub.ClientCount(),
		"messagesSent":      sent,
		"messagesDropped":   dropped,
		"snapshotsReceived": received,
		"snapshotsFailed":   failed,
		"requestsAllowed":   allowed,
		"requestsRejected":  rejected,
	}
	if snap, ok := h.bridge.Latest(); ok {
		stats["tick"] = snap.Tick
		stats["organisms"] = len(snap.Organisms)
		stats["food"] = len(snap.Food)
		stats["totalMass"] = snap.TotalMass()
	}
	if hello, ok := h.bridge.Hello(); ok {
		stats["arenaSize"] = hello.ArenaSize
		stats["tickRate"] = hello.TickRate
	}
	writeJSON(w, stats)
}

func (h *routerHandlers) handleFrame(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.bridge.Latest()
	if !ok {
		writeError(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}

	size := render.DefaultSize
	if s := r.URL.Query().Get("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > render.MaxSize {
			writeError(w, "size must be between 1 and "+strconv.Itoa(render.MaxSize), http.StatusBadRequest)
			return
		}
		size = n
	}

	var buf bytes.Buffer
	if err := render.WritePNG(&buf, snap, size); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

// requestMetrics records latency and status per route pattern.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordRequest(r.Method, route, status, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
