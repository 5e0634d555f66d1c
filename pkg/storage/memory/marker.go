package memory

import (
	"github.com/streamkeep/broker/pkg/protocol"
	"github.com/streamkeep/broker/pkg/record"
)

// markerVersion is the control-record key's version field: a marker
// record's key encodes {version, type}.
const markerVersion int16 = 0

type markerType int16

const (
	markerCommit markerType = 0
	markerAbort  markerType = 1
)

// controlMarkerKey encodes the {version, type} pair used as the key of an
// EndTxn control record.
func controlMarkerKey(t markerType) []byte {
	e := protocol.NewEncoder(4)
	e.PutInt16(markerVersion)
	e.PutInt16(int16(t))
	return e.Bytes()
}

// buildControlBatch constructs the control batch EndTxn writes into every
// added partition at the current high watermark.
func buildControlBatch(producerID int64, producerEpoch int16, t markerType) (record.Deflated, error) {
	b, err := record.NewBuilder().
		Transactional().
		Control().
		ProducerID(producerID).
		ProducerEpoch(producerEpoch).
		Records([]record.Record{{OffsetDelta: 0, Key: controlMarkerKey(t)}}).
		Build()
	if err != nil {
		return record.Deflated{}, err
	}
	return b.Deflate()
}
