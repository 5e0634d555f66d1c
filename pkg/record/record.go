package record

import "github.com/streamkeep/broker/pkg/protocol"

// Record is a single structured record within an inflated Batch.
//
// offset_delta must be non-negative, unique within the owning batch, and
// records within a batch are ordered by ascending offset_delta — callers
// that build a Batch out of order get a codec error rather than silently
// reordered output (see Builder.Build).
type Record struct {
	OffsetDelta    int32
	TimestampDelta int64
	Key            []byte
	Value          []byte
	Headers        []Header
}

// recordAttributes is the reserved per-record attributes byte carried by the
// wire format. The broker never sets it; it is preserved here only so the
// byte layout matches the record batch format records are framed in.
const recordAttributes int8 = 0

func (r Record) sizeInBytes() int {
	sz := 1 // reserved attributes byte
	sz += sizeofVarlong(r.TimestampDelta)
	sz += sizeofVarint(r.OffsetDelta)
	sz += sizeofNullableBytes(r.Key)
	sz += sizeofNullableBytes(r.Value)
	sz += sizeofVarint(int32(len(r.Headers)))
	for _, h := range r.Headers {
		sz += h.sizeInBytes()
	}
	return sz
}

func (r Record) encode(e *protocol.Encoder) {
	body := protocol.NewEncoder(r.sizeInBytes())
	body.PutInt8(recordAttributes)
	body.PutVarlong(r.TimestampDelta)
	body.PutVarint(r.OffsetDelta)
	putVarintBytes(body, r.Key)
	putVarintBytes(body, r.Value)
	body.PutVarint(int32(len(r.Headers)))
	for _, h := range r.Headers {
		h.encode(body)
	}

	e.PutVarint(int32(body.Len()))
	e.PutRaw(body.Bytes())
}

func decodeRecord(d *protocol.Decoder) (Record, error) {
	length, err := d.GetVarint()
	if err != nil {
		return Record{}, err
	}
	if length < 0 {
		return Record{}, protocol.ErrInvalidLength
	}

	raw, err := d.GetRaw(int(length))
	if err != nil {
		return Record{}, err
	}
	rd := protocol.NewDecoder(raw)

	var r Record
	if _, err = rd.GetInt8(); err != nil { // reserved attributes byte
		return Record{}, err
	}
	if r.TimestampDelta, err = rd.GetVarlong(); err != nil {
		return Record{}, err
	}
	if r.OffsetDelta, err = rd.GetVarint(); err != nil {
		return Record{}, err
	}
	if r.Key, err = getVarintBytes(rd); err != nil {
		return Record{}, err
	}
	if r.Value, err = getVarintBytes(rd); err != nil {
		return Record{}, err
	}
	headerCount, err := rd.GetVarint()
	if err != nil {
		return Record{}, err
	}
	if headerCount < 0 {
		return Record{}, protocol.ErrInvalidLength
	}
	if headerCount > 0 {
		r.Headers = make([]Header, 0, headerCount)
	}
	for i := int32(0); i < headerCount; i++ {
		h, err := decodeHeader(rd)
		if err != nil {
			return Record{}, err
		}
		r.Headers = append(r.Headers, h)
	}

	return r, nil
}

func sizeofVarlong(v int64) int {
	u := uint64((v << 1) ^ (v >> 63))
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}
