package wire

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultMaxPayload bounds frame payloads when no explicit limit is given.
const DefaultMaxPayload = 1 << 20 // 1 MiB

// ReadFrame reads and decodes a single frame from r.
//
// The header layout follows RFC 6455 section 5.2: byte 0 carries the FIN
// bit and opcode, byte 1 the MASK bit and a 7-bit length. Length values of
// 126 and 127 extend to big-endian 16- and 64-bit lengths respectively.
// Masked payloads are unmasked in place before the frame is returned.
//
// maxPayload bounds the declared payload length; a frame announcing more
// returns ErrTooLarge without reading the payload. A non-positive
// maxPayload falls back to DefaultMaxPayload.
func ReadFrame(r io.Reader, maxPayload int64) (Frame, error) {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}

	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}

	if hdr[0]&0x70 != 0 {
		return Frame{}, ErrReservedBits
	}

	fin := hdr[0]&0x80 != 0
	op := Opcode(hdr[0] & 0x0f)
	masked := hdr[1]&0x80 != 0
	length := uint64(hdr[1] & 0x7f)

	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return Frame{}, err
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return Frame{}, err
		}
		length = binary.BigEndian.Uint64(ext[:])
	}

	if length > uint64(maxPayload) {
		return Frame{}, fmt.Errorf("%w: %d bytes declared, limit %d", ErrTooLarge, length, maxPayload)
	}

	var mask [4]byte
	if masked {
		if _, err := io.ReadFull(r, mask[:]); err != nil {
			return Frame{}, err
		}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, err
	}

	if masked {
		for i := range payload {
			payload[i] ^= mask[i%4]
		}
	}

	return Frame{FIN: fin, Opcode: op, Payload: payload}, nil
}

// EncodeFrame encodes f into its wire representation. When masked is true
// a random 4-byte XOR mask is generated and applied, as a client would
// send; server frames go out unmasked.
func EncodeFrame(f Frame, masked bool) []byte {
	b0 := byte(f.Opcode) & 0x0f
	if f.FIN {
		b0 |= 0x80
	}

	n := len(f.Payload)
	buf := make([]byte, 0, 14+n)
	buf = append(buf, b0)

	var maskBit byte
	if masked {
		maskBit = 0x80
	}

	switch {
	case n < 126:
		buf = append(buf, maskBit|byte(n))
	case n <= 0xffff:
		buf = append(buf, maskBit|126, byte(n>>8), byte(n))
	default:
		var ext [8]byte
		binary.BigEndian.PutUint64(ext[:], uint64(n))
		buf = append(buf, maskBit|127)
		buf = append(buf, ext[:]...)
	}

	if !masked {
		return append(buf, f.Payload...)
	}

	var mask [4]byte
	_, _ = rand.Read(mask[:])
	buf = append(buf, mask[:]...)
	for i := 0; i < n; i++ {
		buf = append(buf, f.Payload[i]^mask[i%4])
	}
	return buf
}

// WriteFrame encodes f and writes it to w in a single call.
func WriteFrame(w io.Writer, f Frame, masked bool) error {
	_, err := w.Write(EncodeFrame(f, masked))
	return err
}

// EncodeClose builds a close frame payload: a big-endian 2-byte status
// code followed by an optional UTF-8 reason.
func EncodeClose(code uint16, reason string) []byte {
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload, code)
	copy(payload[2:], reason)
	return payload
}

// ParseClose extracts the status code and reason from a close payload.
// An empty payload means the peer sent no status (code 1005).
func ParseClose(payload []byte) (code uint16, reason string) {
	if len(payload) < 2 {
		return CloseNoStatus, ""
	}
	return binary.BigEndian.Uint16(payload[:2]), string(payload[2:])
}
