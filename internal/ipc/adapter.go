package ipc

import (
	"encoding/json"
	"fmt"

	"microbiome/internal/sim"
)

// DecodeSnapshot decodes a state envelope back into a snapshot.
func DecodeSnapshot(env Envelope) (sim.Snapshot, error) {
	var snap sim.Snapshot
	if err := DecodePayload(env.Codec, env.Payload, &snap); err != nil {
		return snap, fmt.Errorf("decode %s snapshot: %w", env.Codec, err)
	}
	return snap, nil
}

// PayloadJSON returns the envelope payload as JSON, transcoding msgpack
// payloads through the snapshot type. JSON payloads are passed through
// untouched so fields the relay does not know about survive.
func PayloadJSON(env Envelope) (json.RawMessage, error) {
	switch env.Codec {
	case CodecJSON, "":
		if !json.Valid(env.Payload) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return env.Payload, nil
	default:
		snap, err := DecodeSnapshot(env)
		if err != nil {
			return nil, err
		}
		return json.Marshal(snap)
	}
}
