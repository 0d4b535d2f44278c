package wsclient

import (
	"errors"
	"time"
)

// PollFloor is the minimum per-read timeout Listen uses. Clamping the
// remaining budget to this floor avoids zero or negative read
// timeouts near the deadline; the loop therefore never overruns its
// budget by more than one floor interval.
const PollFloor = 100 * time.Millisecond

// Listen polls for frames until the time budget expires or a close
// frame arrives. Text payloads are delivered to onText in arrival
// order, one frame fully consumed before the next decode begins. A
// ping is answered with exactly one pong carrying the identical
// payload. Read timeouts inside the loop are not errors; the loop
// simply polls again.
//
// Listen returns nil on deadline expiry or close receipt, and the
// read error otherwise. On close receipt it exits without echoing a
// close frame; Close sends this side's close frame at teardown.
func (c *Conn) Listen(budget time.Duration, onText func(payload []byte)) error {
	deadline := time.Now().Add(budget)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if remaining < PollFloor {
			remaining = PollFloor
		}

		f, err := c.ReadFrame(remaining)
		if errors.Is(err, ErrNoFrame) {
			continue
		}
		if err != nil {
			return err
		}

		switch f.Opcode {
		case OpText:
			if onText != nil {
				onText(f.Payload)
			}
		case OpPing:
			if err := c.Send(OpPong, f.Payload); err != nil {
				return err
			}
			c.logger.Debug("ping answered", "payload_len", len(f.Payload))
		case OpClose:
			c.state = StateClosing
			c.logger.Debug("close frame received")
			return nil
		default:
			c.logger.Debug("frame ignored", "opcode", f.Opcode)
		}
	}
}
