package ipc

import (
	"errors"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"microbiome/internal/metrics"
)

// Handler receives an envelope whose kind it was registered for.
type Handler func(Envelope)

// Subscriber connects to a publisher, keeps the connection alive across
// restarts, and dispatches envelopes by kind. Envelopes whose topic does
// not start with the subscribed prefix are skipped; kinds without a
// handler are counted and ignored.
type Subscriber struct {
	endpoint string
	topic    string
	conn     net.Conn
	connMu   sync.Mutex

	handlers map[string]Handler

	latestHello atomic.Pointer[Hello]
	helloCh     chan Hello

	// Stats
	received   atomic.Int64
	unknown    atomic.Int64
	reconnects atomic.Int64
	errors     atomic.Int64

	// Control
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// Callbacks
	onHello      func(Hello)
	onConnect    func()
	onDisconnect func()
}

// NewSubscriber creates a subscriber for topic (a prefix match, as with
// zmq). An empty endpoint selects the platform default.
func NewSubscriber(endpoint, topic string) *Subscriber {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Subscriber{
		endpoint: endpoint,
		topic:    topic,
		handlers: make(map[string]Handler),
		helloCh:  make(chan Hello, 1),
		stopCh:   make(chan struct{}),
	}
}

// Handle registers fn for envelopes of the given kind. Register before Start.
func (s *Subscriber) Handle(kind string, fn Handler) {
	s.handlers[kind] = fn
}

// OnHello sets a callback for the publisher's hello.
func (s *Subscriber) OnHello(fn func(Hello)) {
	s.onHello = fn
}

// OnConnect sets a callback for when connection is established
func (s *Subscriber) OnConnect(fn func()) {
	s.onConnect = fn
}

// OnDisconnect sets a callback for when connection is lost
func (s *Subscriber) OnDisconnect(fn func()) {
	s.onDisconnect = fn
}

// Start begins connecting in the background.
func (s *Subscriber) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	if _, _, err := ParseEndpoint(s.endpoint); err != nil {
		s.running.Store(false)
		return err
	}

	s.wg.Add(1)
	go s.connectionLoop()

	log.Printf("📡 IPC subscriber started, connecting to %s (topic %q)", s.endpoint, s.topic)
	return nil
}

// Stop closes the connection and waits for the loops to exit.
func (s *Subscriber) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	close(s.stopCh)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	log.Println("📡 IPC subscriber stopped")
}

// Hello returns the most recent hello, if one arrived.
func (s *Subscriber) Hello() (Hello, bool) {
	if h := s.latestHello.Load(); h != nil {
		return *h, true
	}
	return Hello{}, false
}

// WaitForHello blocks until a hello arrives, the timeout passes or the
// subscriber stops.
func (s *Subscriber) WaitForHello(timeout time.Duration) (Hello, bool) {
	if h, ok := s.Hello(); ok {
		return h, true
	}
	select {
	case h := <-s.helloCh:
		return h, true
	case <-time.After(timeout):
		return Hello{}, false
	case <-s.stopCh:
		return Hello{}, false
	}
}

// Stats returns subscriber statistics.
func (s *Subscriber) Stats() (received, unknown, reconnects, errs int64) {
	return s.received.Load(), s.unknown.Load(), s.reconnects.Load(), s.errors.Load()
}

// IsConnected returns whether the subscriber is connected
func (s *Subscriber) IsConnected() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn != nil
}

func (s *Subscriber) connectionLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := Dial(s.endpoint, time.Second)
		if err != nil {
			select {
			case <-s.stopCh:
				return
			case <-time.After(ReconnectDelay):
				continue
			}
		}

		s.connMu.Lock()
		if !s.running.Load() {
			s.connMu.Unlock()
			conn.Close()
			return
		}
		s.conn = conn
		s.connMu.Unlock()

		log.Printf("✅ Connected to publisher at %s", s.endpoint)
		if s.onConnect != nil {
			s.onConnect()
		}

		s.readLoop(conn)

		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		conn.Close()

		if s.onDisconnect != nil {
			s.onDisconnect()
		}
		s.reconnects.Add(1)

		select {
		case <-s.stopCh:
			return
		case <-time.After(ReconnectDelay):
		}
	}
}

// readLoop reads frames until the connection fails. The publisher pings
// regularly, so a read that stays idle past IdleTimeout means it is gone.
func (s *Subscriber) readLoop(conn net.Conn) {
	for s.running.Load() {
		conn.SetReadDeadline(time.Now().Add(IdleTimeout))

		msgType, data, err := ReadMessage(conn)
		if err != nil {
			if !s.running.Load() {
				return
			}
			var netErr net.Error
			switch {
			case errors.Is(err, io.EOF):
				log.Println("🔌 Publisher closed connection")
			case errors.As(err, &netErr) && netErr.Timeout():
				log.Println("🔌 Publisher silent, reconnecting")
			default:
				log.Printf("⚠️ IPC read error: %v", err)
				s.errors.Add(1)
			}
			return
		}

		switch msgType {
		case MsgTypeEnvelope:
			s.handleEnvelope(data)
		case MsgTypeHello:
			s.handleHello(data)
		case MsgTypePing:
			conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			WriteMessage(conn, MsgTypePong, nil)
		}
	}
}

func (s *Subscriber) handleEnvelope(data []byte) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		log.Printf("⚠️ Failed to decode envelope: %v", err)
		s.errors.Add(1)
		return
	}
	if !strings.HasPrefix(env.Topic, s.topic) {
		return
	}
	s.received.Add(1)

	fn, ok := s.handlers[env.Kind]
	if !ok {
		s.unknown.Add(1)
		metrics.UnknownKinds.Inc()
		return
	}
	fn(env)
}

func (s *Subscriber) handleHello(data []byte) {
	h, err := DecodeHello(data)
	if err != nil {
		log.Printf("⚠️ Failed to decode hello: %v", err)
		s.errors.Add(1)
		return
	}
	s.latestHello.Store(&h)
	log.Printf("📺 Publisher hello: arena %.0f @ %d TPS, codec %s", h.ArenaSize, h.TickRate, h.Codec)

	select {
	case s.helloCh <- h:
	default:
	}
	if s.onHello != nil {
		s.onHello(h)
	}
}
