package wsclient

// Opcode identifies the purpose of a frame. It occupies the low four
// bits of the first header byte on the wire.
type Opcode uint8

const (
	OpContinuation Opcode = 0x0 // Fragment continuation (never emitted)
	OpText         Opcode = 0x1 // UTF-8 text payload
	OpBinary       Opcode = 0x2 // Binary payload
	OpClose        Opcode = 0x8 // Connection close
	OpPing         Opcode = 0x9 // Keepalive probe
	OpPong         Opcode = 0xA // Keepalive reply
)

// String returns the string representation of the opcode.
func (op Opcode) String() string {
	switch op {
	case OpContinuation:
		return "Continuation"
	case OpText:
		return "Text"
	case OpBinary:
		return "Binary"
	case OpClose:
		return "Close"
	case OpPing:
		return "Ping"
	case OpPong:
		return "Pong"
	default:
		return "Unknown"
	}
}

// IsControl returns true for close, ping, and pong opcodes. Control
// opcodes have the high bit of the four-bit opcode space set.
func (op Opcode) IsControl() bool {
	return op&0x8 != 0
}

// IsData returns true for text and binary opcodes.
func (op Opcode) IsData() bool {
	return op == OpText || op == OpBinary
}
