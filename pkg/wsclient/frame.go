package wsclient

import (
	"encoding/binary"
	"errors"
	"io"
)

// Wire format constants.
const (
	finBit  = 0x80 // first header byte: final fragment
	maskBit = 0x80 // second header byte: payload is masked

	len16Marker = 126 // 7-bit length value signalling a 16-bit extended length
	len64Marker = 127 // 7-bit length value signalling a 64-bit extended length

	// MaxFramePayload bounds the payload length accepted during decode.
	// The wire format allows 64-bit lengths; anything beyond this is
	// rejected rather than risking an oversized or negative allocation.
	MaxFramePayload = 1<<31 - 1
)

// Frame errors.
var (
	ErrFrameTooLarge = errors.New("wsclient: frame payload exceeds decode limit")
)

// Frame is a single decoded protocol frame. Fragmentation is not
// supported: every frame is final, and the FIN bit is ignored on
// decode. Mask handling is a wire-level detail and is not surfaced.
//
// Wire format:
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
// LEN7 values 0..125 carry the payload length directly; 126 and 127
// select the 16-bit and 64-bit extended length fields.
type Frame struct {
	Opcode  Opcode
	Payload []byte
}

// EncodeFrame encodes a single final frame with the given opcode and
// payload. Frames sent by a client must be masked, so a fresh 4-byte
// mask key is drawn from rand and the payload is XOR-masked with it.
// The payload slice is not modified.
func EncodeFrame(rand io.Reader, op Opcode, payload []byte) ([]byte, error) {
	n := len(payload)

	var header []byte
	switch {
	case n < len16Marker:
		header = []byte{finBit | byte(op&0x0F), maskBit | byte(n)}
	case n <= 0xFFFF:
		header = make([]byte, 4)
		header[0] = finBit | byte(op&0x0F)
		header[1] = maskBit | len16Marker
		binary.BigEndian.PutUint16(header[2:], uint16(n))
	default:
		header = make([]byte, 10)
		header[0] = finBit | byte(op&0x0F)
		header[1] = maskBit | len64Marker
		binary.BigEndian.PutUint64(header[2:], uint64(n))
	}

	var key [4]byte
	if _, err := io.ReadFull(rand, key[:]); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(header)+4+n)
	buf = append(buf, header...)
	buf = append(buf, key[:]...)
	buf = append(buf, payload...)
	maskBytes(key, buf[len(header)+4:])
	return buf, nil
}

// DecodeFrame decodes one complete frame from the front of data,
// returning the frame and the number of bytes consumed. Masked
// payloads are unmasked; the decode is generic and honors whichever
// mask flag the sender set. Returns io.ErrUnexpectedEOF if data does
// not hold a complete frame.
func DecodeFrame(data []byte) (*Frame, int, error) {
	if len(data) < 2 {
		return nil, 0, io.ErrUnexpectedEOF
	}

	op := Opcode(data[0] & 0x0F)
	masked := data[1]&maskBit != 0
	length := uint64(data[1] & 0x7F)
	pos := 2

	switch length {
	case len16Marker:
		if len(data) < pos+2 {
			return nil, 0, io.ErrUnexpectedEOF
		}
		length = uint64(binary.BigEndian.Uint16(data[pos:]))
		pos += 2
	case len64Marker:
		if len(data) < pos+8 {
			return nil, 0, io.ErrUnexpectedEOF
		}
		length = binary.BigEndian.Uint64(data[pos:])
		pos += 8
	}
	if length > MaxFramePayload {
		return nil, 0, ErrFrameTooLarge
	}

	var key [4]byte
	if masked {
		if len(data) < pos+4 {
			return nil, 0, io.ErrUnexpectedEOF
		}
		copy(key[:], data[pos:pos+4])
		pos += 4
	}

	n := int(length)
	if len(data) < pos+n {
		return nil, 0, io.ErrUnexpectedEOF
	}
	payload := make([]byte, n)
	copy(payload, data[pos:pos+n])
	if masked {
		maskBytes(key, payload)
	}

	return &Frame{Opcode: op, Payload: payload}, pos + n, nil
}

// frameSize inspects a partial buffer and reports the total encoded
// size of the frame at its front. When the buffer is too short to
// determine the size yet, it returns the minimum number of bytes
// needed to make further progress and false.
func frameSize(data []byte) (int, bool, error) {
	if len(data) < 2 {
		return 2, false, nil
	}

	masked := data[1]&maskBit != 0
	length := uint64(data[1] & 0x7F)
	pos := 2

	switch length {
	case len16Marker:
		if len(data) < pos+2 {
			return pos + 2, false, nil
		}
		length = uint64(binary.BigEndian.Uint16(data[pos:]))
		pos += 2
	case len64Marker:
		if len(data) < pos+8 {
			return pos + 8, false, nil
		}
		length = binary.BigEndian.Uint64(data[pos:])
		pos += 8
	}
	if length > MaxFramePayload {
		return 0, false, ErrFrameTooLarge
	}
	if masked {
		pos += 4
	}
	return pos + int(length), true, nil
}

// maskBytes XOR-masks b in place with the key cycling over its four
// bytes. Masking is involutive: applying the same key twice restores
// the original bytes.
func maskBytes(key [4]byte, b []byte) {
	for i := range b {
		b[i] ^= key[i%4]
	}
}
