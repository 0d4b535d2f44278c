package sensory

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Event is a single occurrence reported by the remote service.
type Event struct {
	EventID  string          `json:"event_id"`
	TS       string          `json:"ts"`
	Source   string          `json:"source"`
	Modality string          `json:"modality"`
	Payload  json.RawMessage `json:"payload"`
	Meta     EventMeta       `json:"meta"`
}

// EventMeta carries event tags.
type EventMeta struct {
	Tags []string `json:"tags"`
}

// Envelope wraps an event for transport. Inbound reply frames carry
// this shape.
type Envelope struct {
	Type  string `json:"type"`
	Event Event  `json:"event"`
}

// NewEvent builds an event with a fresh ID and the current UTC
// timestamp. The payload must be JSON-marshalable.
func NewEvent(source, modality string, payload any, tags []string) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("sensory: encode event payload: %w", err)
	}
	if tags == nil {
		tags = []string{}
	}
	return Event{
		EventID:  NewEventID(),
		TS:       time.Now().UTC().Format(time.RFC3339),
		Source:   source,
		Modality: modality,
		Payload:  raw,
		Meta:     EventMeta{Tags: tags},
	}, nil
}

// NewEventID returns a random 128-bit hex identifier.
func NewEventID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms; a
		// constant fallback keeps event construction total.
		return "00000000000000000000000000000000"
	}
	return hex.EncodeToString(b[:])
}

// WrapEvent envelopes an event for an outbound reply frame.
func WrapEvent(ev Event) Envelope {
	return Envelope{Type: TypeEvent, Event: ev}
}

// EncodeEnvelope marshals an envelope for a text frame.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("sensory: encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses an inbound reply frame.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("sensory: decode envelope: %w", err)
	}
	return &env, nil
}
