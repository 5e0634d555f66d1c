package txn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamkeep/broker/pkg/brokererr"
	"github.com/streamkeep/broker/pkg/topition"
)

func TestInitProducerIdAllocatesThenBumpsEpoch(t *testing.T) {
	c := NewCoordinator()
	now := time.Unix(0, 0)

	id, epoch, abortParts, abortEpoch, err := c.InitProducerId("t1", time.Minute, now)
	require.NoError(t, err)
	require.EqualValues(t, 0, epoch)
	require.Empty(t, abortParts)
	require.EqualValues(t, -1, abortEpoch)

	_, epoch2, abortParts2, abortEpoch2, err := c.InitProducerId("t1", time.Minute, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, epoch2)
	require.Empty(t, abortParts2, "no ongoing transaction to discard on a clean re-init")
	require.EqualValues(t, -1, abortEpoch2)
	require.Equal(t, StateEmpty, c.State("t1"))
	_ = id
}

func TestInitProducerIdDiscardsOngoingTransactionOnReinit(t *testing.T) {
	c := NewCoordinator()
	now := time.Unix(0, 0)
	id, epoch, _, _, _ := c.InitProducerId("t1", time.Minute, now)
	p1 := topition.Topition{Topic: "orders", PartitionIndex: 0}
	p2 := topition.Topition{Topic: "orders", PartitionIndex: 1}
	require.NoError(t, c.AddPartitionsToTxn("t1", id, epoch, now, []topition.Topition{p1, p2}))
	require.Equal(t, StateOngoing, c.State("t1"))

	newID, newEpoch, abortParts, abortEpoch, err := c.InitProducerId("t1", time.Minute, now)
	require.NoError(t, err)
	require.Equal(t, id, newID, "re-init keeps the same producer id, only the epoch is fenced")
	require.EqualValues(t, epoch+1, newEpoch)
	require.Equal(t, epoch, abortEpoch, "the discarded transaction's marker must carry the fenced-out epoch")
	require.ElementsMatch(t, []topition.Topition{p1, p2}, abortParts)
	require.Equal(t, StateEmpty, c.State("t1"))

	// The new epoch starts from a clean added-partitions set: the discarded
	// transaction's partitions are not carried over.
	require.True(t, brokererr.Is(c.Allows("t1", p1, newID, newEpoch), brokererr.CodeInvalidTxnState))
}

func TestAddPartitionsTransitionsToOngoing(t *testing.T) {
	c := NewCoordinator()
	now := time.Unix(0, 0)
	id, epoch, _, _, _ := c.InitProducerId("t1", time.Minute, now)

	err := c.AddPartitionsToTxn("t1", id, epoch, now, []topition.Topition{{Topic: "orders", PartitionIndex: 0}})
	require.NoError(t, err)
	require.Equal(t, StateOngoing, c.State("t1"))
}

func TestAllowsRejectsUnaddedPartition(t *testing.T) {
	c := NewCoordinator()
	now := time.Unix(0, 0)
	id, epoch, _, _, _ := c.InitProducerId("t1", time.Minute, now)
	require.NoError(t, c.AddPartitionsToTxn("t1", id, epoch, now, []topition.Topition{{Topic: "orders", PartitionIndex: 0}}))

	err := c.Allows("t1", topition.Topition{Topic: "orders", PartitionIndex: 1}, id, epoch)
	require.True(t, brokererr.Is(err, brokererr.CodeInvalidTxnState))

	require.NoError(t, c.Allows("t1", topition.Topition{Topic: "orders", PartitionIndex: 0}, id, epoch))
}

func TestStaleEpochIsFenced(t *testing.T) {
	c := NewCoordinator()
	now := time.Unix(0, 0)
	id, epoch, _, _, _ := c.InitProducerId("t1", time.Minute, now)
	_, _, _, _, _ = c.InitProducerId("t1", time.Minute, now) // bumps epoch

	err := c.AddPartitionsToTxn("t1", id, epoch, now, []topition.Topition{{Topic: "orders", PartitionIndex: 0}})
	require.True(t, brokererr.Is(err, brokererr.CodeProducerFenced))
}

func TestEndTxnCommitLifecycle(t *testing.T) {
	c := NewCoordinator()
	now := time.Unix(0, 0)
	id, epoch, _, _, _ := c.InitProducerId("t1", time.Minute, now)
	p1 := topition.Topition{Topic: "orders", PartitionIndex: 0}
	p2 := topition.Topition{Topic: "orders", PartitionIndex: 1}
	require.NoError(t, c.AddPartitionsToTxn("t1", id, epoch, now, []topition.Topition{p1, p2}))
	require.NoError(t, c.AddOffsetsToTxn("t1", id, epoch, now, "group-a"))

	parts, groups, marker, err := c.BeginEndTxn("t1", id, epoch, now, true)
	require.NoError(t, err)
	require.ElementsMatch(t, []topition.Topition{p1, p2}, parts)
	require.Equal(t, []string{"group-a"}, groups)
	require.Equal(t, MarkerCommit, marker)
	require.Equal(t, StatePrepareCommit, c.State("t1"))

	require.NoError(t, c.CompleteEndTxn("t1", now))
	require.Equal(t, StateEmpty, c.State("t1"))

	// next transaction starts from a clean added-partitions set
	parts2, groups2, _, err := c.BeginEndTxn("t1", id, epoch, now, true)
	require.Error(t, err, "no ongoing transaction after completion")
	require.Nil(t, parts2)
	require.Nil(t, groups2)
}

func TestEndTxnAbort(t *testing.T) {
	c := NewCoordinator()
	now := time.Unix(0, 0)
	id, epoch, _, _, _ := c.InitProducerId("t1", time.Minute, now)
	p1 := topition.Topition{Topic: "orders", PartitionIndex: 0}
	require.NoError(t, c.AddPartitionsToTxn("t1", id, epoch, now, []topition.Topition{p1}))

	_, _, marker, err := c.BeginEndTxn("t1", id, epoch, now, false)
	require.NoError(t, err)
	require.Equal(t, MarkerAbort, marker)
	require.Equal(t, StatePrepareAbort, c.State("t1"))
}

func TestExpireTimeoutsMovesOngoingToPrepareAbort(t *testing.T) {
	c := NewCoordinator()
	start := time.Unix(0, 0)
	id, epoch, _, _, _ := c.InitProducerId("t1", time.Second, start)
	require.NoError(t, c.AddPartitionsToTxn("t1", id, epoch, start, []topition.Topition{{Topic: "orders", PartitionIndex: 0}}))

	expired := c.ExpireTimeouts(start.Add(2 * time.Second))
	require.Contains(t, expired, "t1")
	require.Equal(t, StatePrepareAbort, c.State("t1"))
}

func TestAllocateProducerIdForIdempotentOnlyProducer(t *testing.T) {
	c := NewCoordinator()
	id1, epoch1 := c.AllocateProducerID()
	id2, epoch2 := c.AllocateProducerID()
	require.EqualValues(t, 0, epoch1)
	require.EqualValues(t, 0, epoch2)
	require.NotEqual(t, id1, id2)
}
