// Package wsclient implements a minimal WebSocket client: the HTTP
// upgrade handshake, masked frame encoding, generic frame decoding,
// a deadline-bounded receive loop, and graceful close.
//
// The package covers exactly the protocol subset a short-lived relay
// client needs. It deliberately omits fragmentation and continuation
// frames, compression extensions, subprotocol negotiation,
// reconnection, and multiplexing.
//
// # Concurrency Model
//
// A Conn is single-owner and strictly synchronous: blocking I/O with
// per-read timeouts, no background goroutines, no internal locking.
// One frame is fully consumed before the next decode begins.
//
// # Handshake
//
// Dial sends an HTTP/1.1 GET with Upgrade, Connection,
// Sec-WebSocket-Key (16 random bytes, base64), Sec-WebSocket-Version
// and Origin headers, then reads until the header terminator. The
// connection is accepted only when the response status is 101 and
// Sec-WebSocket-Accept equals base64(SHA-1(key + magic GUID)); any
// other outcome is a *HandshakeError. Bytes received past the header
// terminator already belong to the framed channel and seed the
// connection's read buffer.
//
// # Wire Format
//
//	┌───────────────┬───────────────┬───────────────────────────────┐
//	│ FIN·RSV·OP    │ MASK·LEN7     │ Extended length               │
//	│ (1 byte)      │ (1 byte)      │ (0, 2, or 8 bytes big-endian) │
//	├───────────────┴───────────────┴───────────────────────────────┤
//	│ Masking key (4 bytes, present when MASK=1)                    │
//	├───────────────────────────────────────────────────────────────┤
//	│ Payload (LEN bytes, XOR-masked with cycling key when MASK=1)  │
//	└───────────────────────────────────────────────────────────────┘
//
// Every frame this client sends is masked with a fresh 4-byte key;
// decoding honors whichever mask flag the sender set. LEN7 values
// 0..125 carry the length directly, 126 selects a 16-bit extended
// length, 127 a 64-bit one.
//
// # Receiving
//
// ReadFrame consumes buffered bytes first and refills from the
// socket on shortage. A timeout that elapses before a complete frame
// arrives yields ErrNoFrame, never a partial frame: bytes already
// received stay buffered and the next call resumes where the last
// one stopped. Listen wraps ReadFrame in a wall-clock budget,
// answering pings with matching pongs, delivering text payloads to
// the caller, and terminating on close receipt or deadline expiry.
//
// # Lifecycle
//
//	Connecting ──handshake ok──▶ Open ──close sent/received──▶ Closing ──socket released──▶ Closed
//
// Close is the single release path: it best-effort writes an empty
// close frame, then unconditionally releases the socket. Callers
// defer it immediately after Dial so every exit route, including
// decode failures mid-loop, tears the connection down.
//
// # Usage
//
//	conn, err := wsclient.Dial(ctx, "ws://localhost:2953/")
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	if err := conn.SendText("camera-user:secret"); err != nil {
//		return err
//	}
//	err = conn.Listen(10*time.Second, func(payload []byte) {
//		fmt.Printf("received: %s\n", payload)
//	})
//
// Randomness for the handshake key and mask keys is injected with
// WithRandom, so tests can fix the byte stream and assert exact wire
// output.
package wsclient
