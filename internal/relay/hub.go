// Package relay forwards simulation snapshots from the IPC subscriber to
// browser clients over websockets and serves a small HTTP API around the
// latest snapshot.
package relay

import (
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"microbiome/internal/config"
	"microbiome/internal/metrics"
)

const (
	// SendQueueSize is the per-client backlog; a slow client loses the
	// newest message rather than stalling the others.
	SendQueueSize = 16

	writeWait      = 2 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxClientFrame = 4096
)

type client struct {
	conn *websocket.Conn
	ip   string
	send chan []byte
}

// Hub owns the websocket clients. Register, unregister and broadcast are
// serialized through Run; every client has its own write pump.
type Hub struct {
	clients map[*client]struct{}
	count   atomic.Int32

	register   chan *client
	unregister chan *client
	broadcast  chan []byte

	maxTotal int
	conns    *ConnLimiter
	upgrader websocket.Upgrader

	greeting atomic.Pointer[func() []byte]

	sent    atomic.Int64
	dropped atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewHub creates a hub using the connection caps and origin list in cfg.
func NewHub(cfg config.RelayConfig) *Hub {
	h := &Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 64),
		maxTotal:   cfg.MaxConnsTotal,
		conns:      NewConnLimiter(cfg.MaxConnsPerIP),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	origins := cfg.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if OriginAllowed(origins, origin) {
				return true
			}
			log.Printf("⚠️ WebSocket connection rejected from origin: %s", origin)
			metrics.RecordConnectionRejected("origin")
			return false
		},
	}
	return h
}

// SetGreeting sets a function whose result, when non-nil, is queued to
// every new client before any broadcast.
func (h *Hub) SetGreeting(fn func() []byte) {
	h.greeting.Store(&fn)
}

// Run processes registrations and broadcasts until Stop.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.stopCh:
			for c := range h.clients {
				h.remove(c)
			}
			return

		case c := <-h.register:
			if fn := h.greeting.Load(); fn != nil {
				if msg := (*fn)(); msg != nil {
					c.send <- msg
				}
			}
			h.clients[c] = struct{}{}
			n := h.count.Add(1)
			metrics.WSConnectionsActive.Set(float64(n))
			log.Printf("📱 Client connected from %s (%d total)", c.ip, n)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.remove(c)
				log.Printf("📱 Client disconnected (%d remaining)", h.count.Load())
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
					h.sent.Add(1)
					metrics.WSMessagesTotal.Inc()
				default:
					h.dropped.Add(1)
					metrics.WSMessagesDropped.Inc()
				}
			}
		}
	}
}

// remove must only be called from Run.
func (h *Hub) remove(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.conns.Release(c.ip)
	n := h.count.Add(-1)
	metrics.WSConnectionsActive.Set(float64(n))
}

// Stop disconnects every client and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
	})
	<-h.done
}

// Broadcast queues msg for every client. It never blocks; when the hub
// itself is backed up the message is dropped.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
		metrics.WSMessagesDropped.Inc()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Stats returns per-client messages queued and dropped.
func (h *Hub) Stats() (sent, dropped int64) {
	return h.sent.Load(), h.dropped.Load()
}

// HandleWebSocket upgrades the request and attaches the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := ClientIP(r)

	if h.maxTotal > 0 && h.ClientCount() >= h.maxTotal {
		log.Printf("⚠️ WebSocket connection rejected: total limit reached (%d)", h.maxTotal)
		metrics.RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	if !h.conns.Acquire(ip) {
		log.Printf("⚠️ WebSocket connection rejected from %s: per-IP limit reached", ip)
		metrics.RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		h.conns.Release(ip)
		return
	}

	c := &client{conn: conn, ip: ip, send: make(chan []byte, SendQueueSize)}
	select {
	case h.register <- c:
	case <-h.stopCh:
		h.conns.Release(ip)
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// readPump discards client messages and notices disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.stopCh:
		}
	}()

	c.conn.SetReadLimit(maxClientFrame)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump drains the send queue. It exits, closing the connection, once
// Run closes the queue or a write fails.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
