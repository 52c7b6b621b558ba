// Package ipc carries per-tick snapshots from the simulation process to
// its subscribers (relay, terminal viewer) over a Unix or TCP socket.
//
// Every frame is an 8-byte header followed by a msgpack body. Snapshot
// frames wrap their payload in an Envelope tagged with a topic and a
// kind, so subscribers can filter by topic and ignore kinds they do not
// understand.
package ipc

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	// Topic and kind names used by the simulation.
	DefaultTopic = "mb_state"
	KindState    = "state"

	// Message types
	MsgTypeEnvelope byte = 0x01
	MsgTypePing     byte = 0x02
	MsgTypePong     byte = 0x03
	MsgTypeHello    byte = 0x04

	// Protocol version for compatibility checking
	ProtocolVersion uint16 = 2

	// Connection settings
	MaxMessageSize = 4 * 1024 * 1024 // 4MB max frame body
	WriteTimeout   = 50 * time.Millisecond
	PingInterval   = 2 * time.Second
	IdleTimeout    = 3 * PingInterval // no frame for this long = publisher gone
	ReconnectDelay = 500 * time.Millisecond
	QueueSize      = 8 // frames buffered by the publisher before dropping the oldest
)

// Payload codecs.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// Envelope is the routed unit: a payload tagged with topic and kind.
type Envelope struct {
	Topic     string `msgpack:"topic"`
	Kind      string `msgpack:"kind"`
	Codec     string `msgpack:"codec"`
	Seq       uint64 `msgpack:"seq"`
	Timestamp int64  `msgpack:"ts"` // Unix nano at publish
	Payload   []byte `msgpack:"payload"`
}

// Hello is sent once to every new subscriber.
type Hello struct {
	ArenaSize float64 `msgpack:"arena_size"`
	TickRate  int     `msgpack:"tick_rate"`
	Topic     string  `msgpack:"topic"`
	Codec     string  `msgpack:"codec"`
}

// Header is the frame header.
type Header struct {
	Version  uint16
	Type     byte
	Reserved byte
	Length   uint32
}

const HeaderSize = 8 // 2 + 1 + 1 + 4

var framePool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// EncodeFrame builds a complete frame (header and msgpack body) for v.
// A nil v produces a header-only frame.
func EncodeFrame(msgType byte, v any) ([]byte, error) {
	buf := framePool.Get().(*bytes.Buffer)
	defer framePool.Put(buf)
	buf.Reset()

	buf.Write(make([]byte, HeaderSize))
	if v != nil {
		enc := msgpack.GetEncoder()
		enc.Reset(buf)
		err := enc.Encode(v)
		msgpack.PutEncoder(enc)
		if err != nil {
			return nil, fmt.Errorf("msgpack encode: %w", err)
		}
	}

	bodyLen := buf.Len() - HeaderSize
	if bodyLen > MaxMessageSize {
		return nil, fmt.Errorf("message too large: %d > %d", bodyLen, MaxMessageSize)
	}

	frame := make([]byte, buf.Len())
	copy(frame, buf.Bytes())
	binary.LittleEndian.PutUint16(frame[0:2], ProtocolVersion)
	frame[2] = msgType
	frame[3] = 0
	binary.LittleEndian.PutUint32(frame[4:8], uint32(bodyLen))
	return frame, nil
}

// WriteMessage encodes v and writes it as one frame.
func WriteMessage(w io.Writer, msgType byte, v any) error {
	frame, err := EncodeFrame(msgType, v)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadMessage reads one frame and returns its type and raw body.
func ReadMessage(r io.Reader) (byte, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return 0, nil, fmt.Errorf("read header: %w", err)
	}

	header := Header{
		Version: binary.LittleEndian.Uint16(headerBuf[0:2]),
		Type:    headerBuf[2],
		Length:  binary.LittleEndian.Uint32(headerBuf[4:8]),
	}

	if header.Version != ProtocolVersion {
		return 0, nil, fmt.Errorf("version mismatch: got %d, want %d", header.Version, ProtocolVersion)
	}
	if header.Length > MaxMessageSize {
		return 0, nil, fmt.Errorf("message too large: %d > %d", header.Length, MaxMessageSize)
	}

	var body []byte
	if header.Length > 0 {
		body = make([]byte, header.Length)
		if _, err := io.ReadFull(r, body); err != nil {
			return 0, nil, fmt.Errorf("read body: %w", err)
		}
	}
	return header.Type, body, nil
}

// DecodeEnvelope decodes an envelope frame body.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("msgpack decode envelope: %w", err)
	}
	return env, nil
}

// DecodeHello decodes a hello frame body.
func DecodeHello(data []byte) (Hello, error) {
	var h Hello
	if err := msgpack.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("msgpack decode hello: %w", err)
	}
	return h, nil
}

// EncodePayload serializes v with the named codec.
func EncodePayload(codec string, v any) ([]byte, error) {
	switch codec {
	case CodecJSON, "":
		return json.Marshal(v)
	case CodecMsgpack:
		return msgpack.Marshal(v)
	default:
		return nil, fmt.Errorf("unknown codec %q", codec)
	}
}

// DecodePayload deserializes data produced by EncodePayload.
func DecodePayload(codec string, data []byte, v any) error {
	switch codec {
	case CodecJSON, "":
		return json.Unmarshal(data, v)
	case CodecMsgpack:
		return msgpack.Unmarshal(data, v)
	default:
		return fmt.Errorf("unknown codec %q", codec)
	}
}
