// Package wire implements the byte-level socket protocol: the opening
// handshake accept computation and the binary frame codec.
//
// The codec is deliberately pure. Frames move through io.Reader/io.Writer
// with no connection state attached, so every opcode and length class can
// be tested in isolation.
package wire

import "errors"

// Opcode is the 4-bit tag identifying the purpose of a frame.
type Opcode byte

// Frame opcodes.
const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xa
)

// IsControl reports whether the opcode marks a control frame.
func (op Opcode) IsControl() bool {
	return op&0x8 != 0
}

// String returns a human-readable opcode name.
func (op Opcode) String() string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return "unknown"
	}
}

// Close status codes used by the engine.
const (
	CloseNormal          uint16 = 1000
	CloseGoingAway       uint16 = 1001
	CloseProtocolError   uint16 = 1002
	CloseUnsupportedData uint16 = 1003
	CloseNoStatus        uint16 = 1005
	CloseMessageTooBig   uint16 = 1009
)

// Codec errors.
var (
	// ErrTooLarge is returned when a frame declares a payload larger than
	// the configured maximum. The payload is not read.
	ErrTooLarge = errors.New("wire: frame exceeds maximum payload size")

	// ErrReservedBits is returned when any of the RSV1-3 bits are set.
	// No extensions are negotiated, so reserved bits are a protocol error.
	ErrReservedBits = errors.New("wire: reserved bits set")

	// ErrFragmentNotSupported marks fragmented messages (FIN=0 or a
	// continuation opcode). Fragments are parsed structurally but never
	// reassembled; connections sending them are closed with status 1003.
	ErrFragmentNotSupported = errors.New("wire: fragmented messages are not supported")
)

// Frame is a single decoded protocol frame.
type Frame struct {
	FIN     bool
	Opcode  Opcode
	Payload []byte
}

// Fragmented reports whether the frame is part of a fragmented message.
func (f Frame) Fragmented() bool {
	return !f.FIN || f.Opcode == OpContinuation
}
