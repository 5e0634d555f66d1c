package record

import (
	"hash/crc32"

	"github.com/streamkeep/broker/pkg/protocol"
)

// Deflated is the wire representation of a batch: every field is
// identical to Batch except Records, which is carried as an opaque,
// possibly-compressed byte block. Log storage persists and transmits
// Deflated batches; only compaction and header-inspecting code needs to pay
// the cost of inflating one.
type Deflated struct {
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
	RecordCount          int32
	Records              []byte // opaque, possibly compressed
}

func (d Deflated) Compression() Compression { return compressionOf(d.Attributes) }

// IsTransactional mirrors Batch.IsTransactional without requiring an
// Inflate call — storage needs this on every produce/fetch path.
func (d Deflated) IsTransactional() bool { return d.Attributes&attrTransactional != 0 }

// IsControl mirrors Batch.IsControl.
func (d Deflated) IsControl() bool { return d.Attributes&attrControl != 0 }

// Inflate decompresses and decodes Records into structured Record values.
func (d Deflated) Inflate() (Batch, error) {
	raw, err := decompress(d.Compression(), d.Records)
	if err != nil {
		return Batch{}, err
	}

	rd := protocol.NewDecoder(raw)
	records := make([]Record, 0, d.RecordCount)
	for i := int32(0); i < d.RecordCount; i++ {
		r, err := decodeRecord(rd)
		if err != nil {
			return Batch{}, err
		}
		records = append(records, r)
	}

	return Batch{
		BaseOffset:           d.BaseOffset,
		BatchLength:          d.BatchLength,
		PartitionLeaderEpoch: d.PartitionLeaderEpoch,
		Magic:                d.Magic,
		CRC:                  d.CRC,
		Attributes:           d.Attributes,
		LastOffsetDelta:      d.LastOffsetDelta,
		BaseTimestamp:        d.BaseTimestamp,
		MaxTimestamp:         d.MaxTimestamp,
		ProducerID:           d.ProducerID,
		ProducerEpoch:        d.ProducerEpoch,
		BaseSequence:         d.BaseSequence,
		Records:              records,
	}, nil
}

// Deflate serializes and compresses b.Records, recomputing BatchLength and
// CRC: a caller-supplied CRC is never trusted, it is always recomputed here.
func (b Batch) Deflate() (Deflated, error) {
	raw := protocol.NewEncoder(0)
	for _, r := range b.Records {
		r.encode(raw)
	}

	compressed, err := compress(b.Compression(), raw.Bytes())
	if err != nil {
		return Deflated{}, err
	}

	d := Deflated{
		BaseOffset:           b.BaseOffset,
		PartitionLeaderEpoch: b.PartitionLeaderEpoch,
		Magic:                b.Magic,
		Attributes:           b.Attributes,
		LastOffsetDelta:      b.LastOffsetDelta,
		BaseTimestamp:        b.BaseTimestamp,
		MaxTimestamp:         b.MaxTimestamp,
		ProducerID:           b.ProducerID,
		ProducerEpoch:        b.ProducerEpoch,
		BaseSequence:         b.BaseSequence,
		RecordCount:          int32(len(b.Records)),
		Records:              compressed,
	}

	// BatchLength covers partition_leader_epoch..records inclusive: the
	// fixed header portion, plus the 4-byte record count, plus the
	// (possibly compressed) record bytes.
	d.BatchLength = int32(fixedHeaderAfterLengthSize) + 4 + int32(len(compressed))
	d.CRC = computeCRC(d)

	return d, nil
}

// fixedHeaderAfterLengthSize is the byte size of partition_leader_epoch
// through base_sequence inclusive (the portion of the header preceding the
// record count), matching the canonical record batch v2 layout.
const fixedHeaderAfterLengthSize = 4 + 1 + 4 + 2 + 4 + 8 + 8 + 8 + 2 + 4

// computeCRC computes the CRC-32C over attributes..records inclusive.
func computeCRC(d Deflated) uint32 {
	e := protocol.NewEncoder(0)
	e.PutInt16(d.Attributes)
	e.PutInt32(d.LastOffsetDelta)
	e.PutInt64(d.BaseTimestamp)
	e.PutInt64(d.MaxTimestamp)
	e.PutInt64(d.ProducerID)
	e.PutInt16(d.ProducerEpoch)
	e.PutInt32(d.BaseSequence)
	e.PutInt32(d.RecordCount)
	e.PutRaw(d.Records)
	return crc32.Checksum(e.Bytes(), crcTable)
}

// Encode serializes the full wire representation of a single batch,
// including the base_offset and batch_length envelope fields.
func (d Deflated) Encode(e *protocol.Encoder) {
	e.PutInt64(d.BaseOffset)
	e.PutInt32(d.BatchLength)
	e.PutInt32(d.PartitionLeaderEpoch)
	e.PutInt8(d.Magic)
	e.PutUint32(d.CRC)
	e.PutInt16(d.Attributes)
	e.PutInt32(d.LastOffsetDelta)
	e.PutInt64(d.BaseTimestamp)
	e.PutInt64(d.MaxTimestamp)
	e.PutInt64(d.ProducerID)
	e.PutInt16(d.ProducerEpoch)
	e.PutInt32(d.BaseSequence)
	e.PutInt32(d.RecordCount)
	e.PutRaw(d.Records)
}

// DecodeDeflated reads a single batch off the wire, validating magic and
// CRC: a mismatch fails with ErrCorruptBatch.
func DecodeDeflated(d *protocol.Decoder) (Deflated, error) {
	var out Deflated
	var err error

	if out.BaseOffset, err = d.GetInt64(); err != nil {
		return Deflated{}, err
	}
	if out.BatchLength, err = d.GetInt32(); err != nil {
		return Deflated{}, err
	}
	if out.PartitionLeaderEpoch, err = d.GetInt32(); err != nil {
		return Deflated{}, err
	}
	if out.Magic, err = d.GetInt8(); err != nil {
		return Deflated{}, err
	}
	if out.Magic != Magic {
		return Deflated{}, ErrUnsupportedMagic
	}
	if out.CRC, err = d.GetUint32(); err != nil {
		return Deflated{}, err
	}
	if out.Attributes, err = d.GetInt16(); err != nil {
		return Deflated{}, err
	}
	if out.LastOffsetDelta, err = d.GetInt32(); err != nil {
		return Deflated{}, err
	}
	if out.BaseTimestamp, err = d.GetInt64(); err != nil {
		return Deflated{}, err
	}
	if out.MaxTimestamp, err = d.GetInt64(); err != nil {
		return Deflated{}, err
	}
	if out.ProducerID, err = d.GetInt64(); err != nil {
		return Deflated{}, err
	}
	if out.ProducerEpoch, err = d.GetInt16(); err != nil {
		return Deflated{}, err
	}
	if out.BaseSequence, err = d.GetInt32(); err != nil {
		return Deflated{}, err
	}
	if out.RecordCount, err = d.GetInt32(); err != nil {
		return Deflated{}, err
	}
	if out.RecordCount < 0 {
		return Deflated{}, protocol.ErrInvalidLength
	}

	recordsLen := int(out.BatchLength) - fixedHeaderAfterLengthSize - 4
	if recordsLen < 0 {
		return Deflated{}, protocol.ErrInvalidLength
	}
	if out.Records, err = d.GetRaw(recordsLen); err != nil {
		return Deflated{}, err
	}

	if computeCRC(out) != out.CRC {
		return Deflated{}, ErrCorruptBatch
	}

	return out, nil
}
