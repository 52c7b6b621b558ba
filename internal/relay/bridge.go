package relay

import (
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"microbiome/internal/ipc"
	"microbiome/internal/sim"
)

// EventState is the websocket event name for snapshots.
const EventState = "state"

// Message is the websocket wire format the browser UI expects.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Bridge turns state envelopes from the subscriber into websocket
// messages and remembers the latest snapshot for the HTTP API.
type Bridge struct {
	hub *Hub

	latest    atomic.Pointer[sim.Snapshot]
	latestMsg atomic.Pointer[[]byte]
	latestRaw atomic.Pointer[json.RawMessage]
	hello     atomic.Pointer[ipc.Hello]

	received atomic.Int64
	failed   atomic.Int64
	errLog   rate.Sometimes
}

// NewBridge creates a bridge feeding hub. New hub clients are greeted
// with the latest snapshot.
func NewBridge(hub *Hub) *Bridge {
	b := &Bridge{
		hub:    hub,
		errLog: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
	if hub != nil {
		hub.SetGreeting(b.latestMessage)
	}
	return b
}

// Attach registers the bridge's handlers on sub. Call before sub.Start.
func (b *Bridge) Attach(sub *ipc.Subscriber) {
	sub.Handle(ipc.KindState, b.HandleState)
	sub.OnHello(b.HandleHello)
}

// HandleState is the ipc.Handler for state envelopes.
func (b *Bridge) HandleState(env ipc.Envelope) {
	snap, err := ipc.DecodeSnapshot(env)
	if err != nil {
		b.fail(err)
		return
	}
	data, err := ipc.PayloadJSON(env)
	if err != nil {
		b.fail(err)
		return
	}
	msg, err := json.Marshal(Message{Event: EventState, Data: data})
	if err != nil {
		b.fail(err)
		return
	}

	b.latest.Store(&snap)
	b.latestRaw.Store(&data)
	b.latestMsg.Store(&msg)
	b.received.Add(1)

	if b.hub != nil {
		b.hub.Broadcast(msg)
	}
}

// HandleHello records the publisher's arena description.
func (b *Bridge) HandleHello(h ipc.Hello) {
	b.hello.Store(&h)
}

func (b *Bridge) fail(err error) {
	b.failed.Add(1)
	b.errLog.Do(func() {
		log.Printf("⚠️ Dropping undecodable snapshot: %v", err)
	})
}

// Latest returns the most recent snapshot.
func (b *Bridge) Latest() (sim.Snapshot, bool) {
	if s := b.latest.Load(); s != nil {
		return *s, true
	}
	return sim.Snapshot{}, false
}

// LatestJSON returns the most recent snapshot payload as JSON.
func (b *Bridge) LatestJSON() (json.RawMessage, bool) {
	if raw := b.latestRaw.Load(); raw != nil {
		return *raw, true
	}
	return nil, false
}

// Hello returns the publisher hello, if one arrived.
func (b *Bridge) Hello() (ipc.Hello, bool) {
	if h := b.hello.Load(); h != nil {
		return *h, true
	}
	return ipc.Hello{}, false
}

// Stats returns snapshots forwarded and snapshots dropped as undecodable.
func (b *Bridge) Stats() (received, failed int64) {
	return b.received.Load(), b.failed.Load()
}

func (b *Bridge) latestMessage() []byte {
	if m := b.latestMsg.Load(); m != nil {
		return *m
	}
	return nil
}
