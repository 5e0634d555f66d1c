package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixedWidthRoundTrip(t *testing.T) {
	e := NewEncoder(0)
	e.PutInt8(-12)
	e.PutInt16(-3000)
	e.PutInt32(-123456789)
	e.PutInt64(-9223372036854775000)

	d := NewDecoder(e.Bytes())

	i8, err := d.GetInt8()
	require.NoError(t, err)
	require.EqualValues(t, -12, i8)

	i16, err := d.GetInt16()
	require.NoError(t, err)
	require.EqualValues(t, -3000, i16)

	i32, err := d.GetInt32()
	require.NoError(t, err)
	require.EqualValues(t, -123456789, i32)

	i64, err := d.GetInt64()
	require.NoError(t, err)
	require.EqualValues(t, -9223372036854775000, i64)

	require.Zero(t, d.Remaining())
}

func TestVarintRoundTrip(t *testing.T) {
	for _, v := range []int32{0, 1, -1, 63, 64, -64, -65, 2147483647, -2147483648} {
		e := NewEncoder(0)
		e.PutVarint(v)
		d := NewDecoder(e.Bytes())
		got, err := d.GetVarint()
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestVarlongRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 1707058170165, -1707058170165, 9223372036854775807, -9223372036854775808} {
		e := NewEncoder(0)
		e.PutVarlong(v)
		d := NewDecoder(e.Bytes())
		got, err := d.GetVarlong()
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestInvalidVarintTooLong(t *testing.T) {
	// 11 continuation bytes is past the 10-byte bound for a 64-bit varint.
	buf := make([]byte, 11)
	for i := range buf {
		buf[i] = 0x80
	}
	d := NewDecoder(buf)
	_, err := d.GetUvarint()
	require.ErrorIs(t, err, ErrInvalidVarint)
}

func TestNullableBytes(t *testing.T) {
	e := NewEncoder(0)
	e.PutBytes(nil)
	e.PutBytes([]byte{1, 2, 3})

	d := NewDecoder(e.Bytes())
	b, err := d.GetBytes()
	require.NoError(t, err)
	require.Nil(t, b)

	b, err = d.GetBytes()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, b)
}

func TestCompactStringRoundTrip(t *testing.T) {
	s := "topic-name"
	e := NewEncoder(0)
	e.PutCompactString(&s)
	e.PutCompactString(nil)

	d := NewDecoder(e.Bytes())
	got, err := d.GetCompactString()
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, s, *got)

	got, err = d.GetCompactString()
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestShortReadDetected(t *testing.T) {
	d := NewDecoder([]byte{0x01, 0x02})
	_, err := d.GetInt32()
	require.ErrorIs(t, err, ErrInsufficientBytes)
}

func TestNegativeLengthRejected(t *testing.T) {
	e := NewEncoder(0)
	e.PutInt32(-2)
	d := NewDecoder(e.Bytes())
	_, err := d.GetBytes()
	require.ErrorIs(t, err, ErrInvalidLength)
}
