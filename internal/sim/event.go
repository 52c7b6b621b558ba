package sim

import (
	"encoding/json"
	"time"
)

// EventType classifies event log entries.
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypeTick              // Tick boundary with RNG seed and population
	EventTypeFoodSpawned
	EventTypeFoodEaten
	EventTypeOrganismEaten
	EventTypeOrganismAdded
)

// EventVersion is bumped when a payload changes shape.
const EventVersion uint8 = 1

// Event is one line of the event log.
type Event struct {
	Version   uint8           `json:"version"`
	Type      EventType       `json:"type"`
	Timestamp int64           `json:"timestamp"` // Unix nano
	Sequence  uint64          `json:"sequence"`  // Assigned by the log
	Tick      uint64          `json:"tick"`
	Source    uint64          `json:"source,omitempty"` // Acting organism ID, 0 for the engine itself
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventTypeTick:
		return "tick"
	case EventTypeFoodSpawned:
		return "food_spawned"
	case EventTypeFoodEaten:
		return "food_eaten"
	case EventTypeOrganismEaten:
		return "organism_eaten"
	case EventTypeOrganismAdded:
		return "organism_added"
	default:
		return "unknown"
	}
}

// MarshalText lets the type appear by name in JSON.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// TickPayload records what is needed to replay a tick.
type TickPayload struct {
	Seed      int64 `json:"seed"`
	Organisms int   `json:"organisms"`
	Food      int   `json:"food"`
}

// FoodSpawnedPayload describes a new pellet.
type FoodSpawnedPayload struct {
	FoodID uint64     `json:"foodId"`
	Pos    [2]float64 `json:"pos"`
	Mass   float64    `json:"mass"`
}

// FoodEatenPayload describes the pellets one organism ate in one step.
type FoodEatenPayload struct {
	EaterID uint64   `json:"eaterId"`
	FoodIDs []uint64 `json:"foodIds"`
	Gained  float64  `json:"gained"`
	NewMass float64  `json:"newMass"`
}

// OrganismEatenPayload describes one organism consuming another.
type OrganismEatenPayload struct {
	EaterID  uint64  `json:"eaterId"`
	VictimID uint64  `json:"victimId"`
	Gained   float64 `json:"gained"`
	NewMass  float64 `json:"newMass"`
}

// OrganismAddedPayload describes an organism entering the arena.
type OrganismAddedPayload struct {
	OrganismID uint64     `json:"organismId"`
	Pos        [2]float64 `json:"pos"`
	Mass       float64    `json:"mass"`
	Style      string     `json:"style"`
	Color      string     `json:"color"`
}

// EncodePayload marshals a payload, returning nil if it cannot be encoded.
func EncodePayload(payload any) json.RawMessage {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent creates an event stamped with the current time.
func NewEvent(eventType EventType, tick, source uint64, payload any) Event {
	return Event{
		Version:   EventVersion,
		Type:      eventType,
		Timestamp: time.Now().UnixNano(),
		Tick:      tick,
		Source:    source,
		Payload:   EncodePayload(payload),
	}
}
