//go:build integration

package pg

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamkeep/broker/pkg/record"
	"github.com/streamkeep/broker/pkg/storage"
	"github.com/streamkeep/broker/pkg/topition"
)

// These tests need a reachable Postgres (BROKER_TEST_POSTGRES_DSN), matching
// the corpus convention of gating real-backend tests behind a build tag
// rather than running them as part of the default unit-test suite.
func testEngine(t *testing.T) *Engine {
	t.Helper()
	dsn := os.Getenv("BROKER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BROKER_TEST_POSTGRES_DSN not set")
	}
	e, err := Open(context.Background(), dsn, "integration-test-cluster")
	require.NoError(t, err)
	return e
}

func buildDataBatch(t *testing.T, key, value []byte) record.Deflated {
	t.Helper()
	b, err := record.NewBuilder().Records([]record.Record{{OffsetDelta: 0, Key: key, Value: value}}).Build()
	require.NoError(t, err)
	d, err := b.Deflate()
	require.NoError(t, err)
	return d
}

func TestProduceFetchRoundTrip(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	id, err := e.CreateTopic(ctx, storage.CreatableTopic{Name: "pg-roundtrip", NumPartitions: 1, ReplicationFactor: 1}, false)
	require.NoError(t, err)
	defer e.DeleteTopic(ctx, id)

	part := topition.Topition{Topic: "pg-roundtrip", PartitionIndex: 0}
	batch := buildDataBatch(t, []byte("k"), []byte("v"))

	offset, err := e.Produce(ctx, "", part, batch)
	require.NoError(t, err)
	require.Equal(t, int64(0), offset)

	result, err := e.Fetch(ctx, part, 0, 1<<20, storage.ReadUncommitted)
	require.NoError(t, err)
	require.Len(t, result.Frame.Batches, 1)
	require.Equal(t, int64(1), result.HighWatermark)

	inflated, err := result.Frame.Batches[0].Inflate()
	require.NoError(t, err)
	require.Len(t, inflated.Records, 1)
	require.Equal(t, []byte("v"), inflated.Records[0].Value)
}

func TestCommitOffsetSurvivesRestart(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	part := topition.Topition{Topic: "pg-offsets", PartitionIndex: 0}
	require.NoError(t, e.CommitOffset(ctx, "group-a", part, 42))

	e.Close()
	e = testEngine(t)
	defer e.Close()

	offset, found, err := e.FetchOffset(ctx, "group-a", part)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(42), offset)
}

func TestReadCommittedFetchHidesOngoingAndAbortedTransactions(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	id, err := e.CreateTopic(ctx, storage.CreatableTopic{Name: "pg-txn", NumPartitions: 1, ReplicationFactor: 1}, false)
	require.NoError(t, err)
	defer e.DeleteTopic(ctx, id)
	part := topition.Topition{Topic: "pg-txn", PartitionIndex: 0}

	producerID, epoch, err := e.InitProducerId(ctx, "pg-txn-1", 60000)
	require.NoError(t, err)
	require.NoError(t, e.TxnAddPartitions(ctx, "pg-txn-1", producerID, epoch, []topition.Topition{part}))

	txnBatch := func(n int) record.Deflated {
		records := make([]record.Record, n)
		for i := 0; i < n; i++ {
			records[i] = record.Record{OffsetDelta: int32(i), Value: []byte("v")}
		}
		b, err := record.NewBuilder().
			Transactional().
			ProducerID(producerID).
			ProducerEpoch(epoch).
			BaseSequence(0).
			Records(records).
			Build()
		require.NoError(t, err)
		d, err := b.Deflate()
		require.NoError(t, err)
		return d
	}

	_, err = e.Produce(ctx, "pg-txn-1", part, txnBatch(4))
	require.NoError(t, err)

	ongoing, err := e.Fetch(ctx, part, 0, 1<<20, storage.ReadCommitted)
	require.NoError(t, err)
	require.Empty(t, ongoing.Frame.Batches, "ReadCommitted must not see a still-ongoing transaction's data")
	require.Equal(t, int64(0), ongoing.LastStableOffset)

	require.NoError(t, e.EndTxn(ctx, "pg-txn-1", producerID, epoch, false))

	committed, err := e.Fetch(ctx, part, 0, 1<<20, storage.ReadCommitted)
	require.NoError(t, err)
	require.Empty(t, committed.Frame.Batches, "ReadCommitted must not see an aborted transaction's data")
	require.Len(t, committed.AbortedTransactions, 1)
	require.Equal(t, producerID, committed.AbortedTransactions[0].ProducerID)

	uncommitted, err := e.Fetch(ctx, part, 0, 1<<20, storage.ReadUncommitted)
	require.NoError(t, err)
	require.Len(t, uncommitted.Frame.Batches, 2, "ReadUncommitted sees both the data batch and the abort marker")
}

func TestDeleteRecordsAdvancesLogStart(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	id, err := e.CreateTopic(ctx, storage.CreatableTopic{Name: "pg-trim", NumPartitions: 1, ReplicationFactor: 1}, false)
	require.NoError(t, err)
	defer e.DeleteTopic(ctx, id)

	part := topition.Topition{Topic: "pg-trim", PartitionIndex: 0}
	for i := 0; i < 3; i++ {
		_, err := e.Produce(ctx, "", part, buildDataBatch(t, nil, []byte("x")))
		require.NoError(t, err)
	}

	newStart, err := e.DeleteRecords(ctx, part, 2)
	require.NoError(t, err)
	require.Equal(t, int64(2), newStart)

	_, err = e.Fetch(ctx, part, 0, 1<<20, storage.ReadUncommitted)
	require.Error(t, err)
}
