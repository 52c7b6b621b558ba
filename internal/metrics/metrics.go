// Package metrics holds the process-wide Prometheus collectors and the
// debug server that exposes them together with pprof.
//
// Labels are bounded: nothing is labelled per organism or per client.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Simulation
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "microbiome_tick_duration_seconds",
		Help:    "Time spent in one simulation tick",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.033, 0.1},
	})

	TickOverruns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "microbiome_tick_overruns_total",
		Help: "Ticks that took longer than the tick budget",
	})

	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "microbiome_ticks_total",
		Help: "Ticks executed",
	})

	OrganismCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "microbiome_organisms",
		Help: "Living organisms",
	})

	FoodCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "microbiome_food",
		Help: "Food pellets in the arena",
	})

	Eaten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "microbiome_eaten_total",
		Help: "Entities consumed",
	}, []string{"kind"}) // Bounded: "food", "organism"

	// Snapshot transport
	PublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "microbiome_publish_errors_total",
		Help: "Snapshots that failed to serialize or enqueue",
	})

	PublishDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "microbiome_publish_dropped_total",
		Help: "Frames dropped from the publisher queue",
	})

	SubscribersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "microbiome_ipc_subscribers",
		Help: "Connected IPC subscribers",
	})

	UnknownKinds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "microbiome_ipc_unknown_kind_total",
		Help: "Received envelopes whose kind had no handler",
	})

	// Relay
	ConnectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_connection_rejected_total",
		Help: "Connections rejected by rate limiter or connection caps",
	}, []string{"reason"}) // Bounded: "rate_limit", "ws_limit", "ip_limit", "upgrade"

	RequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is the route pattern, not the URL

	RequestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	WSConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	WSMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_websocket_messages_total",
		Help: "WebSocket messages sent",
	})

	WSMessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_websocket_messages_dropped_total",
		Help: "WebSocket messages dropped because a client queue was full",
	})

	RenderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_render_duration_seconds",
		Help:    "Time spent rendering a PNG frame",
		Buckets: []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1},
	})
)

// RecordTick records one tick's timing and resulting population.
func RecordTick(duration time.Duration, organisms, food, foodEaten, organismsEaten int) {
	TicksTotal.Inc()
	TickDuration.Observe(duration.Seconds())
	OrganismCount.Set(float64(organisms))
	FoodCount.Set(float64(food))
	Eaten.WithLabelValues("food").Add(float64(foodEaten))
	Eaten.WithLabelValues("organism").Add(float64(organismsEaten))
}

// RecordConnectionRejected increments the rejection counter.
// reason must be one of: "rate_limit", "ws_limit", "ip_limit", "upgrade".
func RecordConnectionRejected(reason string) {
	ConnectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics.
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	RequestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	RequestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}
