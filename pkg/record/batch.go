package record

import (
	"hash/crc32"

	"github.com/pkg/errors"

	"github.com/streamkeep/broker/pkg/protocol"
)

// Magic is the only record batch format version this broker accepts.
const Magic int8 = 2

const (
	attrTimestampType int16 = 1 << 3
	attrTransactional int16 = 1 << 4
	attrControl       int16 = 1 << 5
)

// crcTable is the Castagnoli (CRC-32C) table the wire format commits to.
// The standard library already implements this polynomial natively, so
// there is no third-party CRC library to reach for here (see DESIGN.md).
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ErrCorruptBatch is returned when a decoded batch's CRC does not match the
// bytes it covers.
var ErrCorruptBatch = errors.New("record: corrupt batch (crc mismatch)")

// ErrUnsupportedMagic is returned for any magic byte other than Magic.
var ErrUnsupportedMagic = errors.New("record: unsupported magic byte")

// Batch is the inflated (structured) representation of a record batch:
// every other layer that needs to inspect, filter or compact records works
// against this type, converting to/from Deflated only at the log storage
// and network boundaries.
type Batch struct {
	BaseOffset           int64
	BatchLength          int32
	PartitionLeaderEpoch int32
	Magic                int8
	CRC                  uint32
	Attributes           int16
	LastOffsetDelta      int32
	BaseTimestamp        int64
	MaxTimestamp         int64
	ProducerID           int64
	ProducerEpoch        int16
	BaseSequence         int32
	Records              []Record
}

// Compression reports the compression variant encoded in Attributes.
func (b Batch) Compression() Compression { return compressionOf(b.Attributes) }

// IsTransactional reports whether the transactional attribute bit is set.
func (b Batch) IsTransactional() bool { return b.Attributes&attrTransactional != 0 }

// IsControl reports whether this batch carries a transaction marker record
// rather than user data.
func (b Batch) IsControl() bool { return b.Attributes&attrControl != 0 }

// LogAppendTime reports whether the timestamp-type bit designates broker
// log-append time rather than producer create-time.
func (b Batch) LogAppendTime() bool { return b.Attributes&attrTimestampType != 0 }

// MaxOffset returns the highest absolute offset this batch contains.
func (b Batch) MaxOffset() int64 { return b.BaseOffset + int64(b.LastOffsetDelta) }

// Keys returns the set of distinct non-null record keys present in the
// batch, as strings so they can be used as map keys (compaction's "head"
// set).
func (b Batch) Keys() map[string]struct{} {
	out := make(map[string]struct{})
	for _, r := range b.Records {
		if r.Key != nil {
			out[string(r.Key)] = struct{}{}
		}
	}
	return out
}

// Builder constructs a Batch with defaulted header fields: an explicit,
// fully-enumerated setter chain rather than dynamic named parameters.
type Builder struct {
	batch Batch
}

// NewBuilder returns a Builder defaulted the way a fresh, non-transactional,
// non-idempotent, uncompressed batch would be: magic 2, producer_id -1,
// partition_leader_epoch -1.
func NewBuilder() *Builder {
	return &Builder{batch: Batch{
		Magic:                Magic,
		PartitionLeaderEpoch: -1,
		ProducerID:           -1,
	}}
}

func (bld *Builder) BaseOffset(v int64) *Builder           { bld.batch.BaseOffset = v; return bld }
func (bld *Builder) PartitionLeaderEpoch(v int32) *Builder { bld.batch.PartitionLeaderEpoch = v; return bld }
func (bld *Builder) Attributes(v int16) *Builder           { bld.batch.Attributes = v; return bld }
func (bld *Builder) BaseTimestamp(v int64) *Builder        { bld.batch.BaseTimestamp = v; return bld }
func (bld *Builder) MaxTimestamp(v int64) *Builder         { bld.batch.MaxTimestamp = v; return bld }
func (bld *Builder) ProducerID(v int64) *Builder           { bld.batch.ProducerID = v; return bld }
func (bld *Builder) ProducerEpoch(v int16) *Builder        { bld.batch.ProducerEpoch = v; return bld }
func (bld *Builder) BaseSequence(v int32) *Builder         { bld.batch.BaseSequence = v; return bld }
func (bld *Builder) Records(v []Record) *Builder           { bld.batch.Records = v; return bld }

// Transactional sets the transactional attribute bit.
func (bld *Builder) Transactional() *Builder { bld.batch.Attributes |= attrTransactional; return bld }

// Control sets the control-batch attribute bit (used for transaction
// commit/abort markers).
func (bld *Builder) Control() *Builder { bld.batch.Attributes |= attrControl; return bld }

// Compression sets the compression variant encoded in Attributes' low
// three bits, leaving the other attribute bits untouched.
func (bld *Builder) Compression(c Compression) *Builder {
	bld.batch.Attributes = (bld.batch.Attributes &^ int16(compressionMask)) | int16(c)
	return bld
}

// Build finalizes the batch: validates record ordering/uniqueness and
// derives LastOffsetDelta and MaxTimestamp from the
// record set. BatchLength and CRC are computed lazily by Deflate, since
// they depend on the compressed wire size.
func (bld *Builder) Build() (Batch, error) {
	b := bld.batch

	seen := make(map[int32]struct{}, len(b.Records))
	last := int32(-1)
	maxTs := b.BaseTimestamp
	for _, r := range b.Records {
		if r.OffsetDelta < 0 {
			return Batch{}, errors.Errorf("record: negative offset_delta %d", r.OffsetDelta)
		}
		if r.OffsetDelta <= last && len(seen) > 0 {
			return Batch{}, errors.Errorf("record: offset_delta %d out of order (last %d)", r.OffsetDelta, last)
		}
		if _, dup := seen[r.OffsetDelta]; dup {
			return Batch{}, errors.Errorf("record: duplicate offset_delta %d", r.OffsetDelta)
		}
		seen[r.OffsetDelta] = struct{}{}
		last = r.OffsetDelta

		ts := b.BaseTimestamp + r.TimestampDelta
		if ts > maxTs {
			maxTs = ts
		}
	}

	if len(b.Records) > 0 {
		b.LastOffsetDelta = last
	}
	b.MaxTimestamp = maxTs

	if b.IsTransactional() && (b.ProducerID < 0 || b.ProducerEpoch < 0) {
		return Batch{}, errors.New("record: transactional batch requires a producer id and epoch")
	}

	return b, nil
}
