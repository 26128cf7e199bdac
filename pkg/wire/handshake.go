package wire

import (
	"crypto/sha1" //nolint:gosec // mandated by RFC 6455, not used for security
	"encoding/base64"
)

// handshakeGUID is the fixed GUID from RFC 6455 section 1.3.
const handshakeGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AcceptKey computes the Sec-WebSocket-Accept value for a client's
// Sec-WebSocket-Key: base64(SHA-1(key + GUID)).
func AcceptKey(secWebSocketKey string) string {
	sum := sha1.Sum([]byte(secWebSocketKey + handshakeGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}
