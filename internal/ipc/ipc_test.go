package ipc

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"microbiome/internal/config"
	"microbiome/internal/sim"
)

func testSnapshot(tick uint64) sim.Snapshot {
	return sim.Snapshot{
		Size: 500,
		Tick: tick,
		Organisms: []sim.EntitySnapshot{
			{ID: 1, Pos: [2]float64{10, 20}, Radius: 3, Mass: 9, Color: "#aabbcc"},
		},
		Food: []sim.EntitySnapshot{
			{ID: 2, Pos: [2]float64{5, 5}, Radius: 1, Mass: 1, Color: "#112233"},
		},
	}
}

func TestFrameRoundTrip(t *testing.T) {
	env := Envelope{Topic: DefaultTopic, Kind: KindState, Codec: CodecJSON, Seq: 7, Payload: []byte(`{"a":1}`)}
	var buf bytes.Buffer
	if err := WriteMessage(&buf, MsgTypeEnvelope, env); err != nil {
		t.Fatal(err)
	}

	raw := buf.Bytes()
	if v := binary.LittleEndian.Uint16(raw[0:2]); v != ProtocolVersion {
		t.Errorf("header version %d", v)
	}
	if raw[2] != MsgTypeEnvelope {
		t.Errorf("header type %d", raw[2])
	}
	if n := binary.LittleEndian.Uint32(raw[4:8]); int(n) != len(raw)-HeaderSize {
		t.Errorf("header length %d, body %d", n, len(raw)-HeaderSize)
	}

	msgType, body, err := ReadMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if msgType != MsgTypeEnvelope {
		t.Fatalf("type %d", msgType)
	}
	got, err := DecodeEnvelope(body)
	if err != nil {
		t.Fatal(err)
	}
	if got.Topic != env.Topic || got.Kind != env.Kind || got.Seq != 7 || string(got.Payload) != `{"a":1}` {
		t.Errorf("envelope mismatch: %+v", got)
	}
}

func TestReadMessageRejects(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
	}{
		{"bad version", []byte{9, 0, 1, 0, 0, 0, 0, 0}},
		{"too large", func() []byte {
			h := make([]byte, HeaderSize)
			binary.LittleEndian.PutUint16(h, ProtocolVersion)
			binary.LittleEndian.PutUint32(h[4:], MaxMessageSize+1)
			return h
		}()},
		{"truncated", []byte{2, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ReadMessage(bytes.NewReader(tt.header)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPayloadCodecs(t *testing.T) {
	for _, codec := range []string{CodecJSON, CodecMsgpack} {
		t.Run(codec, func(t *testing.T) {
			snap := testSnapshot(3)
			payload, err := EncodePayload(codec, snap)
			if err != nil {
				t.Fatal(err)
			}
			env := Envelope{Codec: codec, Payload: payload}
			got, err := DecodeSnapshot(env)
			if err != nil {
				t.Fatal(err)
			}
			if got.Tick != 3 || len(got.Organisms) != 1 || got.Organisms[0].Color != "#aabbcc" {
				t.Errorf("decoded %+v", got)
			}

			js, err := PayloadJSON(env)
			if err != nil {
				t.Fatal(err)
			}
			var generic map[string]any
			if err := json.Unmarshal(js, &generic); err != nil {
				t.Fatal(err)
			}
			if _, ok := generic["npcs"]; !ok {
				t.Errorf("JSON payload should carry npcs: %s", js)
			}
		})
	}
	if _, err := EncodePayload("xml", nil); err == nil {
		t.Error("unknown codec should fail")
	}
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		network string
		address string
		wantErr bool
	}{
		{"unix:///tmp/a.sock", "unix", "/tmp/a.sock", false},
		{"ipc:///tmp/b.sock", "unix", "/tmp/b.sock", false},
		{"tcp://127.0.0.1:5556", "tcp", "127.0.0.1:5556", false},
		{"tcp://nohost", "", "", true},
		{"udp://1.2.3.4:5", "", "", true},
		{"/tmp/plain", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			network, address, err := ParseEndpoint(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if network != tt.network || address != tt.address {
				t.Errorf("got (%q, %q)", network, address)
			}
		})
	}
	if _, _, err := ParseEndpoint(""); err != nil {
		t.Errorf("empty endpoint should use the default: %v", err)
	}
}

func TestPublishNotRunning(t *testing.T) {
	p := NewPublisher(config.DefaultIPC())
	if err := p.PublishSnapshot(testSnapshot(1)); err != ErrNotRunning {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestQueueDropsOldest(t *testing.T) {
	p := NewPublisher(config.DefaultIPC())
	for i := 0; i < QueueSize+3; i++ {
		p.enqueue([]byte{byte(i)})
	}
	_, _, dropped := p.Stats()
	if dropped != 3 {
		t.Errorf("dropped: got %d, want 3", dropped)
	}
	first := <-p.frames
	if first[0] != 3 {
		t.Errorf("oldest surviving frame should be 3, got %d", first[0])
	}
}

func endpoints(t *testing.T) []string {
	eps := []string{"tcp://127.0.0.1:0"}
	if runtime.GOOS != "windows" {
		eps = append(eps, "unix://"+filepath.Join(t.TempDir(), "mb.sock"))
	}
	return eps
}

func TestPublishSubscribe(t *testing.T) {
	for _, ep := range endpoints(t) {
		t.Run(ep, func(t *testing.T) {
			cfg := config.DefaultIPC()
			cfg.Endpoint = ep
			cfg.Codec = CodecMsgpack
			pub := NewPublisher(cfg)
			pub.SetHello(500, 30)
			if err := pub.Start(); err != nil {
				t.Fatal(err)
			}
			defer pub.Stop()

			subEndpoint := ep
			if addr := pub.Addr(); addr.Network() == "tcp" {
				subEndpoint = "tcp://" + addr.String()
			}

			var mu sync.Mutex
			var got []sim.Snapshot
			sub := NewSubscriber(subEndpoint, "mb_")
			sub.Handle(KindState, func(env Envelope) {
				snap, err := DecodeSnapshot(env)
				if err != nil {
					t.Errorf("decode: %v", err)
					return
				}
				mu.Lock()
				got = append(got, snap)
				mu.Unlock()
			})
			if err := sub.Start(); err != nil {
				t.Fatal(err)
			}
			defer sub.Stop()

			hello, ok := sub.WaitForHello(2 * time.Second)
			if !ok {
				t.Fatal("no hello received")
			}
			if hello.ArenaSize != 500 || hello.TickRate != 30 || hello.Codec != CodecMsgpack {
				t.Errorf("hello: %+v", hello)
			}

			// Unknown kinds and foreign topics are ignored.
			pub.Publish(DefaultTopic, "metrics", []byte("x"))
			pub.Publish("other_topic", KindState, []byte("x"))
			for i := 1; i <= 3; i++ {
				if err := pub.PublishSnapshot(testSnapshot(uint64(i))); err != nil {
					t.Fatal(err)
				}
				time.Sleep(5 * time.Millisecond)
			}

			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				mu.Lock()
				n := len(got)
				mu.Unlock()
				if n >= 3 {
					break
				}
				time.Sleep(10 * time.Millisecond)
			}

			mu.Lock()
			defer mu.Unlock()
			if len(got) != 3 {
				t.Fatalf("received %d snapshots, want 3", len(got))
			}
			for i, s := range got {
				if s.Tick != uint64(i+1) {
					t.Errorf("snapshot %d has tick %d", i, s.Tick)
				}
			}
			received, unknown, _, _ := sub.Stats()
			if unknown != 1 {
				t.Errorf("unknown kinds: got %d, want 1", unknown)
			}
			if received != 4 {
				t.Errorf("received on topic: got %d, want 4", received)
			}
		})
	}
}

func TestSubscriberReconnects(t *testing.T) {
	cfg := config.DefaultIPC()
	cfg.Endpoint = "tcp://127.0.0.1:0"
	pub := NewPublisher(cfg)
	if err := pub.Start(); err != nil {
		t.Fatal(err)
	}
	addr := pub.Addr().String()

	connects := make(chan struct{}, 4)
	sub := NewSubscriber("tcp://"+addr, DefaultTopic)
	sub.OnConnect(func() { connects <- struct{}{} })
	sub.Start()
	defer sub.Stop()

	select {
	case <-connects:
	case <-time.After(2 * time.Second):
		t.Fatal("first connect timed out")
	}

	pub.Stop()
	cfg.Endpoint = "tcp://" + addr
	pub2 := NewPublisher(cfg)
	if err := pub2.Start(); err != nil {
		t.Skipf("could not rebind %s: %v", addr, err)
	}
	defer pub2.Stop()

	select {
	case <-connects:
	case <-time.After(3 * time.Second):
		t.Fatal("subscriber did not reconnect")
	}
	if _, _, reconnects, _ := sub.Stats(); reconnects == 0 {
		t.Error("reconnect not counted")
	}
}
