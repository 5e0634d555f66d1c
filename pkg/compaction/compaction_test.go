package compaction

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamkeep/broker/pkg/record"
)

// keyValuePairs mirrors S2/S3: 11 records with (key_index, value_index)
// pairs, offset_deltas 0..10.
func keyValuePairs(t *testing.T) record.Batch {
	t.Helper()
	pairs := [][2]int{
		{1, 1}, {2, 2}, {1, 3}, {1, 4}, {3, 5}, {2, 6}, {4, 7}, {5, 8}, {5, 9}, {2, 10}, {6, 11},
	}
	records := make([]record.Record, len(pairs))
	for i, p := range pairs {
		records[i] = record.Record{
			OffsetDelta: int32(i),
			Key:         []byte(fmt.Sprintf("k%d", p[0])),
			Value:       []byte(fmt.Sprintf("v%d", p[1])),
		}
	}
	b, err := record.NewBuilder().Records(records).Build()
	require.NoError(t, err)
	return b
}

func retainedDeltas(res Result) []int32 {
	out := make([]int32, 0, len(res.Batch.Records))
	for _, r := range res.Batch.Records {
		out = append(out, r.OffsetDelta)
	}
	return out
}

func TestCompactWithoutHead_S2(t *testing.T) {
	res := Compact(keyValuePairs(t), nil)
	require.Equal(t, []int32{3, 4, 6, 8, 9, 10}, retainedDeltas(res))
	require.Equal(t, 5, res.RecordsDropped)
}

func TestCompactWithHead_S3(t *testing.T) {
	head := map[string]struct{}{"k6": {}}
	res := Compact(keyValuePairs(t), head)
	require.Equal(t, []int32{3, 4, 6, 8, 9}, retainedDeltas(res))
	require.Equal(t, 6, res.RecordsDropped)
}

func TestCompactPreservesNullKeyedRecords(t *testing.T) {
	records := []record.Record{
		{OffsetDelta: 0, Key: nil, Value: []byte("orphan")},
		{OffsetDelta: 1, Key: []byte("k"), Value: []byte("v1")},
		{OffsetDelta: 2, Key: []byte("k"), Value: []byte("v2")},
	}
	b, err := record.NewBuilder().Records(records).Build()
	require.NoError(t, err)

	res := Compact(b, nil)
	require.Equal(t, []int32{0, 2}, retainedDeltas(res))
	require.Equal(t, 1, res.RecordsDropped)
}

func TestCompactPreservesOffsetFields(t *testing.T) {
	b := keyValuePairs(t)
	b.BaseOffset = 100
	b.LastOffsetDelta = 10

	res := Compact(b, nil)
	require.EqualValues(t, 100, res.Batch.BaseOffset)
	require.EqualValues(t, 10, res.Batch.LastOffsetDelta, "compaction must not renumber offsets")
}

func TestCompactNoDuplicateKeysIsNoOp(t *testing.T) {
	records := []record.Record{
		{OffsetDelta: 0, Key: []byte("a"), Value: []byte("1")},
		{OffsetDelta: 1, Key: []byte("b"), Value: []byte("2")},
	}
	b, err := record.NewBuilder().Records(records).Build()
	require.NoError(t, err)

	res := Compact(b, nil)
	require.Equal(t, 0, res.RecordsDropped)
	require.Len(t, res.Batch.Records, 2)
}
