package protocol

// Decoder reads primitive values off a fixed byte slice, advancing an
// internal cursor. Every Get method reports ErrInsufficientBytes rather than
// panicking when a read would run past the end of the buffer.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder wraps buf for sequential decoding. The decoder does not copy
// buf; callers must not mutate it while decoding is in progress, since
// decoded byte slices (keys, values, headers) alias directly into buf.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Pos returns the number of bytes consumed so far.
func (d *Decoder) Pos() int { return d.pos }

// Remaining returns the number of unconsumed bytes.
func (d *Decoder) Remaining() int { return len(d.buf) - d.pos }

func (d *Decoder) require(n int) error {
	if n < 0 || d.pos+n > len(d.buf) {
		return ErrInsufficientBytes
	}
	return nil
}

// GetRaw consumes and returns the next n bytes without copying.
func (d *Decoder) GetRaw(n int) ([]byte, error) {
	if err := d.require(n); err != nil {
		return nil, err
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *Decoder) GetInt8() (int8, error) {
	if err := d.require(1); err != nil {
		return 0, err
	}
	v := int8(d.buf[d.pos])
	d.pos++
	return v, nil
}

func (d *Decoder) GetInt16() (int16, error) {
	if err := d.require(2); err != nil {
		return 0, err
	}
	v := int16(d.buf[d.pos])<<8 | int16(d.buf[d.pos+1])
	d.pos += 2
	return v, nil
}

func (d *Decoder) GetInt32() (int32, error) {
	if err := d.require(4); err != nil {
		return 0, err
	}
	v := int32(d.buf[d.pos])<<24 | int32(d.buf[d.pos+1])<<16 | int32(d.buf[d.pos+2])<<8 | int32(d.buf[d.pos+3])
	d.pos += 4
	return v, nil
}

func (d *Decoder) GetUint32() (uint32, error) {
	v, err := d.GetInt32()
	return uint32(v), err
}

func (d *Decoder) GetInt64() (int64, error) {
	if err := d.require(8); err != nil {
		return 0, err
	}
	hi, _ := d.GetInt32()
	lo, _ := d.GetUint32()
	return int64(hi)<<32 | int64(lo), nil
}

// GetVarint reads a zig-zag encoded signed 32-bit integer.
func (d *Decoder) GetVarint() (int32, error) {
	u, err := d.getUvarint()
	if err != nil {
		return 0, err
	}
	return int32((u >> 1) ^ -(u & 1)), nil
}

// GetVarlong reads a zig-zag encoded signed 64-bit integer.
func (d *Decoder) GetVarlong() (int64, error) {
	u, err := d.getUvarint()
	if err != nil {
		return 0, err
	}
	return int64(u>>1) ^ -int64(u&1), nil
}

// GetUvarint reads an unsigned varint with no zig-zag transform.
func (d *Decoder) GetUvarint() (uint64, error) {
	return d.getUvarint()
}

func (d *Decoder) getUvarint() (uint64, error) {
	var result uint64
	for shift := uint(0); ; shift += 7 {
		if shift >= 70 {
			return 0, ErrInvalidVarint
		}
		if err := d.require(1); err != nil {
			return 0, err
		}
		b := d.buf[d.pos]
		d.pos++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
	}
	return result, nil
}

// GetBytes reads a nullable, length-prefixed (i32) octet string. A length of
// -1 yields a nil slice; any other negative length is ErrInvalidLength.
func (d *Decoder) GetBytes() ([]byte, error) {
	n, err := d.GetInt32()
	if err != nil {
		return nil, err
	}
	if n == -1 {
		return nil, nil
	}
	if n < 0 {
		return nil, ErrInvalidLength
	}
	return d.GetRaw(int(n))
}

// GetCompactBytes reads Kafka's compact nullable octets.
func (d *Decoder) GetCompactBytes() ([]byte, error) {
	n, err := d.getUvarint()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return d.GetRaw(int(n - 1))
}

// GetCompactString reads a compact nullable string.
func (d *Decoder) GetCompactString() (*string, error) {
	b, err := d.GetCompactBytes()
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, nil
	}
	s := string(b)
	return &s, nil
}

// GetCompactArrayLen reads a compact array length prefix, returning -1 for a
// null/absent array.
func (d *Decoder) GetCompactArrayLen() (int, error) {
	n, err := d.getUvarint()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return -1, nil
	}
	return int(n - 1), nil
}
