// Package protocol implements the primitive wire encodings shared by every
// higher-level codec in the broker: fixed-width integers, zig-zag varints,
// length-prefixed octets and Kafka's "compact" string/array framing.
package protocol

import "errors"

// ErrInsufficientBytes is returned when a decoder runs past the end of its
// backing buffer.
var ErrInsufficientBytes = errors.New("protocol: insufficient bytes")

// ErrInvalidVarint is returned by varint decoding when the encoding is
// overlong, or exceeds the 10-byte bound for a 64-bit zig-zag value.
var ErrInvalidVarint = errors.New("protocol: invalid varint")

// ErrInvalidLength is returned when a length prefix is negative in a context
// that forbids it (i.e. not the nullable -1 sentinel).
var ErrInvalidLength = errors.New("protocol: invalid length")
