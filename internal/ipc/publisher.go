package ipc

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"microbiome/internal/config"
	"microbiome/internal/metrics"
	"microbiome/internal/sim"
)

// ErrNotRunning is returned by Publish before Start or after Stop.
var ErrNotRunning = errors.New("ipc publisher not running")

// Publisher fans frames out to every connected subscriber. Publishing
// never blocks the caller: frames go through a small queue that drops
// its oldest entry when full.
type Publisher struct {
	endpoint string
	topic    string
	codec    string
	listener net.Listener

	// Connected clients
	clients   map[net.Conn]struct{}
	clientsMu sync.RWMutex

	// Encoded frames waiting for broadcast (drop oldest if full)
	frames chan []byte

	// Hello sent to new clients
	hello   Hello
	helloMu sync.RWMutex

	seq atomic.Uint64

	// Stats
	clientCount   atomic.Int32
	framesSent    atomic.Int64
	droppedFrames atomic.Int64

	// Control
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPublisher creates a publisher for cfg. An empty endpoint selects
// the platform default.
func NewPublisher(cfg config.IPCConfig) *Publisher {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{
		endpoint: endpoint,
		topic:    topic,
		codec:    cfg.Codec,
		clients:  make(map[net.Conn]struct{}),
		frames:   make(chan []byte, QueueSize),
		stopCh:   make(chan struct{}),
		hello:    Hello{Topic: topic, Codec: cfg.Codec},
	}
}

// SetHello sets the arena description sent to new subscribers.
func (p *Publisher) SetHello(arenaSize float64, tickRate int) {
	p.helloMu.Lock()
	p.hello.ArenaSize = arenaSize
	p.hello.TickRate = tickRate
	p.helloMu.Unlock()
}

// Start binds the endpoint and starts the accept and broadcast loops.
func (p *Publisher) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return nil
	}

	listener, err := CreateListener(p.endpoint)
	if err != nil {
		p.running.Store(false)
		return err
	}
	p.listener = listener

	p.wg.Add(2)
	go p.acceptLoop()
	go p.broadcastLoop()

	log.Printf("📡 IPC publisher started on %s (topic %q, codec %s)", p.endpoint, p.topic, p.codec)
	return nil
}

// Stop closes the listener and every client.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}

	close(p.stopCh)
	p.listener.Close()

	p.clientsMu.Lock()
	for conn := range p.clients {
		conn.Close()
	}
	p.clients = make(map[net.Conn]struct{})
	p.clientsMu.Unlock()

	p.wg.Wait()

	CleanupSocket(p.endpoint)
	log.Println("📡 IPC publisher stopped")
}

// Addr returns the bound address, useful with tcp://127.0.0.1:0.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Publish queues payload under topic and kind. It never blocks.
func (p *Publisher) Publish(topic, kind string, payload []byte) error {
	if !p.running.Load() {
		return ErrNotRunning
	}
	env := Envelope{
		Topic:     topic,
		Kind:      kind,
		Codec:     p.codec,
		Seq:       p.seq.Add(1),
		Timestamp: time.Now().UnixNano(),
		Payload:   payload,
	}
	frame, err := EncodeFrame(MsgTypeEnvelope, env)
	if err != nil {
		return err
	}
	p.enqueue(frame)
	return nil
}

// PublishSnapshot serializes s with the configured codec and publishes
// it as a state message. It implements sim.SnapshotSink.
func (p *Publisher) PublishSnapshot(s sim.Snapshot) error {
	payload, err := EncodePayload(p.codec, s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return p.Publish(p.topic, KindState, payload)
}

func (p *Publisher) enqueue(frame []byte) {
	select {
	case p.frames <- frame:
		return
	default:
	}
	// Buffer full, drop oldest and add new
	select {
	case <-p.frames:
		p.droppedFrames.Add(1)
		metrics.PublishDropped.Inc()
	default:
	}
	select {
	case p.frames <- frame:
	default:
		p.droppedFrames.Add(1)
		metrics.PublishDropped.Inc()
	}
}

// Stats returns publisher statistics.
func (p *Publisher) Stats() (clients int, sent int64, dropped int64) {
	return int(p.clientCount.Load()), p.framesSent.Load(), p.droppedFrames.Load()
}

func (p *Publisher) acceptLoop() {
	defer p.wg.Done()

	for p.running.Load() {
		conn, err := p.listener.Accept()
		if err != nil {
			if !p.running.Load() {
				return // Expected during shutdown
			}
			log.Printf("⚠️ IPC accept error: %v", err)
			time.Sleep(ReconnectDelay)
			continue
		}
		p.addClient(conn)
	}
}

func (p *Publisher) addClient(conn net.Conn) {
	p.helloMu.RLock()
	hello := p.hello
	p.helloMu.RUnlock()

	// Hello is written under the lock so it is the first frame a
	// subscriber sees and no broadcast slips past it.
	p.clientsMu.Lock()
	if !p.running.Load() {
		p.clientsMu.Unlock()
		conn.Close()
		return
	}
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	if err := WriteMessage(conn, MsgTypeHello, hello); err != nil {
		p.clientsMu.Unlock()
		log.Printf("⚠️ Failed to send hello to subscriber: %v", err)
		conn.Close()
		return
	}
	p.clients[conn] = struct{}{}
	p.clientsMu.Unlock()

	n := p.clientCount.Add(1)
	metrics.SubscribersActive.Set(float64(n))
	log.Printf("✅ Subscriber connected: %s (total: %d)", conn.RemoteAddr(), n)

	p.wg.Add(1)
	go p.drainLoop(conn)
}

// drainLoop discards pongs and notices when the subscriber hangs up.
func (p *Publisher) drainLoop(conn net.Conn) {
	defer p.wg.Done()
	for {
		if _, _, err := ReadMessage(conn); err != nil {
			p.removeClient(conn)
			return
		}
	}
}

func (p *Publisher) removeClient(conn net.Conn) {
	p.clientsMu.Lock()
	if _, ok := p.clients[conn]; !ok {
		p.clientsMu.Unlock()
		return
	}
	delete(p.clients, conn)
	conn.Close()
	p.clientsMu.Unlock()

	n := p.clientCount.Add(-1)
	metrics.SubscribersActive.Set(float64(n))
	log.Printf("🔌 Subscriber disconnected (remaining: %d)", n)
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()

	ping := time.NewTicker(PingInterval)
	defer ping.Stop()

	pingFrame, _ := EncodeFrame(MsgTypePing, nil)
	for {
		select {
		case <-p.stopCh:
			return
		case frame := <-p.frames:
			if p.broadcast(frame) {
				p.framesSent.Add(1)
			}
		case <-ping.C:
			p.broadcast(pingFrame)
		}
	}
}

// broadcast writes frame to every client and drops the ones that fail.
// It reports whether at least one client received it.
func (p *Publisher) broadcast(frame []byte) bool {
	p.clientsMu.RLock()
	clients := make([]net.Conn, 0, len(p.clients))
	for conn := range p.clients {
		clients = append(clients, conn)
	}
	p.clientsMu.RUnlock()

	var failed []net.Conn
	for _, conn := range clients {
		conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
		if _, err := conn.Write(frame); err != nil {
			failed = append(failed, conn)
		}
	}
	for _, conn := range failed {
		p.removeClient(conn)
	}
	return len(failed) < len(clients)
}
