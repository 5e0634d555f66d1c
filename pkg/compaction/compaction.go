// Package compaction implements the log-compaction engine: per-key
// last-write-wins pruning of a single batch, given the set of keys that
// still appear later in the log (the "head" set) and must therefore be
// preserved here.
package compaction

import "github.com/streamkeep/broker/pkg/record"

// Result reports the outcome of compacting a single batch: the pruned
// batch and how many records were dropped, mirroring the original
// implementation's Compaction{batch, records} pairing.
type Result struct {
	Batch         record.Batch
	RecordsDropped int
}

// Compact prunes b against head, the set of keys known to appear in a
// later batch. For each record, in order:
//
//  1. a null key is always retained — compaction never drops null-keyed
//     records within a batch;
//  2. a key present in head is dropped, because a later batch carries a
//     newer value for it;
//  3. otherwise, only the last record seen for a given key (by
//     offset_delta) within this batch survives.
//
// base_offset, last_offset_delta and the watermark-relevant header fields
// are left untouched: compaction does not renumber offsets, so holes in the
// delta sequence are an expected, first-class outcome.
func Compact(b record.Batch, head map[string]struct{}) Result {
	lastDeltaForKey := make(map[string]int32, len(b.Records))
	dropped := 0

	for _, r := range b.Records {
		if r.Key == nil {
			continue
		}
		key := string(r.Key)
		if _, inHead := head[key]; inHead {
			dropped++
			continue
		}
		if _, existed := lastDeltaForKey[key]; existed {
			dropped++
		}
		lastDeltaForKey[key] = r.OffsetDelta
	}

	if dropped == 0 {
		return Result{Batch: b, RecordsDropped: 0}
	}

	retain := make(map[int32]struct{}, len(lastDeltaForKey))
	for _, delta := range lastDeltaForKey {
		retain[delta] = struct{}{}
	}

	kept := make([]record.Record, 0, len(b.Records)-dropped)
	for _, r := range b.Records {
		if r.Key == nil {
			kept = append(kept, r)
			continue
		}
		if _, ok := retain[r.OffsetDelta]; ok {
			kept = append(kept, r)
		}
	}
	b.Records = kept

	return Result{Batch: b, RecordsDropped: dropped}
}
