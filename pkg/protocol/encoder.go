package protocol

// Encoder accumulates a byte stream using fixed-width big-endian integers,
// zig-zag varints and Kafka's compact string/array/bytes framing. A
// zero-value Encoder is ready to use.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder with capacity pre-reserved for size bytes.
func NewEncoder(size int) *Encoder {
	return &Encoder{buf: make([]byte, 0, size)}
}

// Bytes returns the encoded byte stream built so far.
func (e *Encoder) Bytes() []byte { return e.buf }

// Len reports the number of bytes written so far.
func (e *Encoder) Len() int { return len(e.buf) }

// PutRaw appends b verbatim, bypassing any framing.
func (e *Encoder) PutRaw(b []byte) {
	e.buf = append(e.buf, b...)
}

func (e *Encoder) PutInt8(v int8) {
	e.buf = append(e.buf, byte(v))
}

func (e *Encoder) PutInt16(v int16) {
	e.buf = append(e.buf, byte(v>>8), byte(v))
}

func (e *Encoder) PutInt32(v int32) {
	e.buf = append(e.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (e *Encoder) PutUint32(v uint32) {
	e.buf = append(e.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (e *Encoder) PutInt64(v int64) {
	e.buf = append(e.buf,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// PutVarint writes a zig-zag encoded signed 32-bit integer.
func (e *Encoder) PutVarint(v int32) {
	e.putUvarint(uint64(uint32((v << 1) ^ (v >> 31))))
}

// PutVarlong writes a zig-zag encoded signed 64-bit integer.
func (e *Encoder) PutVarlong(v int64) {
	e.putUvarint(uint64((v << 1) ^ (v >> 63)))
}

// PutUvarint writes an unsigned varint with no zig-zag transform.
func (e *Encoder) PutUvarint(v uint64) {
	e.putUvarint(v)
}

func (e *Encoder) putUvarint(v uint64) {
	for v >= 0x80 {
		e.buf = append(e.buf, byte(v)|0x80)
		v >>= 7
	}
	e.buf = append(e.buf, byte(v))
}

// PutBytes writes a nullable, length-prefixed (i32) octet string. A nil slice
// is written as length -1.
func (e *Encoder) PutBytes(b []byte) {
	if b == nil {
		e.PutInt32(-1)
		return
	}
	e.PutInt32(int32(len(b)))
	e.PutRaw(b)
}

// PutCompactBytes writes Kafka's compact nullable octets: an unsigned varint
// length biased by +1, with 0 meaning null.
func (e *Encoder) PutCompactBytes(b []byte) {
	if b == nil {
		e.PutUvarint(0)
		return
	}
	e.PutUvarint(uint64(len(b)) + 1)
	e.PutRaw(b)
}

// PutCompactString writes a compact nullable string using the same framing
// as PutCompactBytes.
func (e *Encoder) PutCompactString(s *string) {
	if s == nil {
		e.PutUvarint(0)
		return
	}
	e.PutCompactBytes([]byte(*s))
}

// PutCompactArrayLen writes a compact array length prefix (+1 biased, 0
// meaning null/absent).
func (e *Encoder) PutCompactArrayLen(n int) {
	e.PutUvarint(uint64(n) + 1)
}
