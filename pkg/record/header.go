// Package record implements the batch/record wire codec: the inflated
// (structured) and deflated (opaque,
// possibly compressed) representations of a Kafka record batch, CRC-32C
// validation, and the compression variants records may be stored under.
package record

import "github.com/streamkeep/broker/pkg/protocol"

// Header is a single record header: an ordered key/value pair of nullable
// octets, encoded as a varint-length sequence inside each Record.
type Header struct {
	Key   []byte
	Value []byte
}

func (h Header) sizeInBytes() int {
	return sizeofNullableBytes(h.Key) + sizeofNullableBytes(h.Value)
}

func (h Header) encode(e *protocol.Encoder) {
	putVarintBytes(e, h.Key)
	putVarintBytes(e, h.Value)
}

func decodeHeader(d *protocol.Decoder) (Header, error) {
	key, err := getVarintBytes(d)
	if err != nil {
		return Header{}, err
	}
	value, err := getVarintBytes(d)
	if err != nil {
		return Header{}, err
	}
	return Header{Key: key, Value: value}, nil
}

// putVarintBytes writes octets using a varint length prefix (-1 for nil),
// the framing records use for key/value/header octets rather than the i32
// framing of the outer protocol: nullable key/value octets use a -1
// varint length rather than a fixed-width marker.
func putVarintBytes(e *protocol.Encoder, b []byte) {
	if b == nil {
		e.PutVarint(-1)
		return
	}
	e.PutVarint(int32(len(b)))
	e.PutRaw(b)
}

func getVarintBytes(d *protocol.Decoder) ([]byte, error) {
	n, err := d.GetVarint()
	if err != nil {
		return nil, err
	}
	if n == -1 {
		return nil, nil
	}
	if n < 0 {
		return nil, protocol.ErrInvalidLength
	}
	return d.GetRaw(int(n))
}

func sizeofVarint(v int32) int {
	u := uint64(uint32((v << 1) ^ (v >> 31)))
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

func sizeofNullableBytes(b []byte) int {
	if b == nil {
		return sizeofVarint(-1)
	}
	return sizeofVarint(int32(len(b))) + len(b)
}
