// Package sensory defines the application-level message convention
// spoken over the relay connection: a plaintext credential first,
// then JSON observation messages outbound and JSON event envelopes
// inbound.
package sensory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Message kinds accepted by the remote service.
const (
	TypeSensory = "sensory"
	TypeMessage = "message"
	TypeEvent   = "event"
)

// ErrInvalidType reports a message whose type is neither sensory nor
// message. Malformed JSON surfaces as a plain decode error instead.
var ErrInvalidType = errors.New("sensory: invalid message type")

// Credential identifies the client. Its wire form, the first text
// frame sent after a successful handshake, is "<user>:<token>".
type Credential struct {
	User  string
	Token string
}

// String returns the wire form of the credential.
func (c Credential) String() string {
	return c.User + ":" + c.Token
}

// ParseCredential splits a credential frame on the first colon. It
// reports false when the frame has no colon or an empty user; the
// token may itself contain colons.
func ParseCredential(s string) (Credential, bool) {
	user, token, ok := strings.Cut(s, ":")
	if !ok || user == "" {
		return Credential{}, false
	}
	return Credential{User: user, Token: token}, true
}

// Message is an outbound observation.
type Message struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewMessage builds a sensory observation message.
func NewMessage(text string) Message {
	return Message{Type: TypeSensory, Text: text}
}

// Encode marshals the message for a text frame.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("sensory: encode message: %w", err)
	}
	return data, nil
}

// DecodeMessage parses an inbound observation message and validates
// its kind. An absent or blank type defaults to "message".
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("sensory: decode message: %w", err)
	}
	m.Type = strings.TrimSpace(m.Type)
	if m.Type == "" {
		m.Type = TypeMessage
	}
	if m.Type != TypeSensory && m.Type != TypeMessage {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidType, m.Type)
	}
	return m, nil
}
