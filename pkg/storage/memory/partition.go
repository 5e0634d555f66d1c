package memory

import (
	"sort"
	"sync"

	"github.com/streamkeep/broker/pkg/brokererr"
	"github.com/streamkeep/broker/pkg/record"
	"github.com/streamkeep/broker/pkg/storage"
)

// producerState is the per-(partition, producer_id) sequence tracker.
// lastCommitted* remembers only the most recently accepted batch,
// which is enough to detect an exact replay (S4) but not an arbitrary
// older committed range — see DESIGN.md for why this bound was accepted.
type producerState struct {
	epoch    int16
	lastSequence int32

	lastCommittedBaseSequence int32
	lastCommittedCount        int32
	lastCommittedOffset       int64
}

// abortedRange records the offset span of a transaction that ended in
// PrepareAbort/CompleteAbort, so ReadCommitted fetches can exclude it and
// the aborted-transactions index can report it.
type abortedRange struct {
	producerID   int64
	firstOffset  int64
	markerOffset int64
}

// partition is the in-memory realization of the append-only log:
// ordered deflated batches, watermark tracking, idempotent-producer
// sequencing, and the bookkeeping transactions need to compute the
// last-stable-offset.
type partition struct {
	mu sync.Mutex

	logStartOffset int64
	nextOffset     int64 // also the high watermark: single-node HWM tracks next_offset immediately

	batches []record.Deflated

	producers map[int64]*producerState

	// ongoingTxnBegin maps a producer id to the first offset its current
	// transaction wrote in this partition, for as long as that
	// transaction remains unresolved.
	ongoingTxnBegin map[int64]int64
	aborted         []abortedRange
}

func newPartition() *partition {
	return &partition{
		producers:       make(map[int64]*producerState),
		ongoingTxnBegin: make(map[int64]int64),
	}
}

// lastStableOffsetLocked returns min(HWM, every currently ongoing txn's begin
// offset in this partition).
func (p *partition) lastStableOffsetLocked() int64 {
	lso := p.nextOffset
	for _, begin := range p.ongoingTxnBegin {
		if begin < lso {
			lso = begin
		}
	}
	return lso
}

// append assigns base_offset = next_offset, applies idempotent-producer
// sequencing, and records transaction bookkeeping for
// transactional/control batches. It does not itself check txn gating —
// the caller (engine) consults the transaction coordinator first.
func (p *partition) append(batch record.Deflated) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Control batches (transaction markers) carry a producer id but no
	// meaningful base_sequence — sequence tracking applies to data
	// batches only.
	trackSequence := batch.ProducerID >= 0 && !batch.IsControl()

	if trackSequence {
		if dup, err := p.checkSequenceLocked(batch); err != nil {
			return 0, err
		} else if dup != nil {
			return *dup, nil
		}
	}

	offset := p.nextOffset
	batch.BaseOffset = offset
	batch.PartitionLeaderEpoch = 0

	p.batches = append(p.batches, batch)
	p.nextOffset += int64(batch.RecordCount)

	if trackSequence {
		ps := p.producers[batch.ProducerID]
		ps.lastCommittedBaseSequence = batch.BaseSequence
		ps.lastCommittedCount = batch.RecordCount
		ps.lastCommittedOffset = offset
	}

	if batch.IsTransactional() && !batch.IsControl() {
		if _, ok := p.ongoingTxnBegin[batch.ProducerID]; !ok {
			p.ongoingTxnBegin[batch.ProducerID] = offset
		}
	}
	if batch.IsControl() {
		if begin, ok := p.ongoingTxnBegin[batch.ProducerID]; ok {
			if isAbortMarker(batch) {
				p.aborted = append(p.aborted, abortedRange{
					producerID:   batch.ProducerID,
					firstOffset:  begin,
					markerOffset: offset,
				})
			}
			delete(p.ongoingTxnBegin, batch.ProducerID)
		}
	}

	return offset, nil
}

// checkSequenceLocked enforces per-producer sequencing. It returns a
// non-nil duplicate offset when base_sequence replays the most recently
// committed batch exactly; otherwise nil and no error means "proceed with
// a normal append".
func (p *partition) checkSequenceLocked(batch record.Deflated) (*int64, error) {
	ps, ok := p.producers[batch.ProducerID]
	if !ok {
		ps = &producerState{epoch: batch.ProducerEpoch, lastSequence: -1}
		p.producers[batch.ProducerID] = ps
	}

	if batch.ProducerEpoch < ps.epoch {
		return nil, brokererr.New(brokererr.Protocol, brokererr.CodeInvalidProducerEpoch, "producer epoch is stale")
	}
	if batch.ProducerEpoch > ps.epoch {
		ps.epoch = batch.ProducerEpoch
		ps.lastSequence = -1
	}

	const sequenceSpace = int64(1) << 31
	expected := int32((int64(ps.lastSequence) + 1) % sequenceSpace)

	switch {
	case batch.BaseSequence == expected:
		ps.lastSequence = int32((int64(batch.BaseSequence) + int64(batch.RecordCount) - 1) % sequenceSpace)
		return nil, nil
	case batch.BaseSequence < expected:
		if ps.lastCommittedBaseSequence == batch.BaseSequence && ps.lastCommittedCount == batch.RecordCount {
			dup := ps.lastCommittedOffset
			return &dup, nil
		}
		return nil, brokererr.New(brokererr.Protocol, brokererr.CodeOutOfOrderSequence, "sequence predates the tracked committed range")
	default:
		return nil, brokererr.New(brokererr.Protocol, brokererr.CodeOutOfOrderSequence, "sequence is ahead of the expected value")
	}
}

// isAbortMarker decodes the control record's key to tell a commit
// marker from an abort marker, per the control key's {version, type}
// encoding.
func isAbortMarker(batch record.Deflated) bool {
	inflated, err := batch.Inflate()
	if err != nil || len(inflated.Records) == 0 {
		return false
	}
	key := inflated.Records[0].Key
	return len(key) >= 4 && key[3] == byte(markerAbort)
}

// fetch implements fetch: returns batches from the first whose
// range covers offset, capped by the isolation level's watermark, always
// returning at least one batch even if it exceeds maxBytes.
func (p *partition) fetch(offset int64, maxBytes int32, isolation storage.IsolationLevel) (storage.FetchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	hwm := p.nextOffset
	if offset < p.logStartOffset || offset > hwm {
		return storage.FetchResult{}, brokererr.New(brokererr.Protocol, brokererr.CodeOffsetOutOfRange, "fetch offset outside the log range")
	}

	lso := p.lastStableOffsetLocked()
	ceiling := hwm
	if isolation == storage.ReadCommitted {
		ceiling = lso
	}

	idx := sort.Search(len(p.batches), func(i int) bool {
		b := p.batches[i]
		return b.BaseOffset+int64(b.LastOffsetDelta) >= offset
	})

	var batches []record.Deflated
	bytesUsed := 0
	for i := idx; i < len(p.batches); i++ {
		b := p.batches[i]
		if b.BaseOffset >= ceiling {
			break
		}
		if isolation == storage.ReadCommitted && p.isAbortedLocked(b) {
			continue
		}
		batches = append(batches, b)
		bytesUsed += int(8 + 4 + b.BatchLength)
		if bytesUsed >= int(maxBytes) {
			break
		}
	}

	var abortedIdx []storage.AbortedTransaction
	if isolation == storage.ReadCommitted {
		for _, a := range p.aborted {
			if a.firstOffset < ceiling && a.markerOffset >= offset {
				abortedIdx = append(abortedIdx, storage.AbortedTransaction{ProducerID: a.producerID, FirstOffset: a.firstOffset})
			}
		}
	}

	return storage.FetchResult{
		Frame:               record.Frame{Batches: batches},
		LogStartOffset:      p.logStartOffset,
		HighWatermark:       hwm,
		LastStableOffset:    lso,
		AbortedTransactions: abortedIdx,
	}, nil
}

func (p *partition) isAbortedLocked(b record.Deflated) bool {
	for _, a := range p.aborted {
		if a.producerID == b.ProducerID && b.BaseOffset >= a.firstOffset && b.BaseOffset <= a.markerOffset {
			return true
		}
	}
	return false
}

// listOffset implements list_offsets for a single topition.
func (p *partition) listOffset(spec storage.OffsetSpec, timestamp int64, isolation storage.IsolationLevel) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch spec {
	case storage.OffsetEarliest:
		return p.logStartOffset
	case storage.OffsetLatest:
		if isolation == storage.ReadCommitted {
			return p.lastStableOffsetLocked()
		}
		return p.nextOffset
	case storage.OffsetByTimestamp:
		for _, b := range p.batches {
			if b.MaxTimestamp >= timestamp {
				return b.BaseOffset
			}
		}
		return -1
	default:
		return -1
	}
}

// deleteRecords implements delete_records: advances
// log_start_offset and reclaims batches that fall entirely below it.
func (p *partition) deleteRecords(beforeOffset int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if beforeOffset > p.nextOffset {
		beforeOffset = p.nextOffset
	}
	if beforeOffset > p.logStartOffset {
		p.logStartOffset = beforeOffset
	}

	kept := p.batches[:0]
	for _, b := range p.batches {
		if b.BaseOffset+int64(b.LastOffsetDelta) < p.logStartOffset {
			continue
		}
		kept = append(kept, b)
	}
	p.batches = kept

	return p.logStartOffset
}
