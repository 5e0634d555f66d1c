// Package txn implements the transaction coordinator: producer-id
// allocation, the per-transactional-id state machine, and the bookkeeping
// AddPartitionsToTxn/AddOffsetsToTxn/EndTxn need. It does not itself write
// control batches or apply offset commits — BeginEndTxn returns what the
// caller (the storage engine) must write, and CompleteEndTxn is called once
// that write has succeeded, matching the two-phase description.
package txn

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/streamkeep/broker/pkg/brokererr"
	"github.com/streamkeep/broker/pkg/topition"
)

// State is a transactional_id's position in the state machine.
type State int8

const (
	StateEmpty State = iota
	StateOngoing
	StatePrepareCommit
	StatePrepareAbort
	StateCompleteCommit
	StateCompleteAbort
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "Empty"
	case StateOngoing:
		return "Ongoing"
	case StatePrepareCommit:
		return "PrepareCommit"
	case StatePrepareAbort:
		return "PrepareAbort"
	case StateCompleteCommit:
		return "CompleteCommit"
	case StateCompleteAbort:
		return "CompleteAbort"
	default:
		return "Unknown"
	}
}

// Marker identifies the control-record type EndTxn asks the caller to
// write into every added partition.
type Marker int8

const (
	MarkerCommit Marker = iota
	MarkerAbort
)

// entry is the per-transactional_id record. Its own mutex serializes state
// transitions for that id only, so unrelated transactional ids never
// contend with one another.
type entry struct {
	mu sync.Mutex

	producerID    int64
	producerEpoch int16
	state         State

	addedPartitions map[topition.Topition]struct{}
	addedOffsetGroups map[string]struct{}

	timeout    time.Duration
	lastUpdate time.Time
}

// Coordinator is the transaction coordinator. The zero value is not usable;
// construct with NewCoordinator.
type Coordinator struct {
	mu      sync.RWMutex
	entries map[string]*entry

	nextProducerID *atomic.Int64
}

// NewCoordinator returns a coordinator with its producer-id allocator
// seeded above any reserved ids.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		entries:        make(map[string]*entry),
		nextProducerID: atomic.NewInt64(0),
	}
}

func (c *Coordinator) getOrCreate(transactionalID string) *entry {
	c.mu.RLock()
	e, ok := c.entries[transactionalID]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[transactionalID]; ok {
		return e
	}
	e = &entry{
		producerID:        -1,
		producerEpoch:     -1,
		state:             StateEmpty,
		addedPartitions:   make(map[topition.Topition]struct{}),
		addedOffsetGroups: make(map[string]struct{}),
	}
	c.entries[transactionalID] = e
	return e
}

// AllocateProducerID hands out a fresh idempotent-only producer id (no
// transactional_id given), always at epoch 0.
func (c *Coordinator) AllocateProducerID() (producerID int64, producerEpoch int16) {
	return c.nextProducerID.Inc() - 1, 0
}

// InitProducerId allocates or bumps a producer epoch for a named
// transactional_id: a fresh id is allocated the first time it is seen;
// thereafter the epoch is bumped, fencing any older producer instance. Any
// transaction left Ongoing (or mid-EndTxn) by a prior incarnation is
// discarded: when abortEpoch is non-negative, the caller must write an
// abort control marker, carrying producerID at abortEpoch, into every
// returned abortPartitions before treating the new epoch as live — the
// same write EndTxn(commit=false) would have driven for that transaction.
func (c *Coordinator) InitProducerId(transactionalID string, timeout time.Duration, now time.Time) (producerID int64, producerEpoch int16, abortPartitions []topition.Topition, abortEpoch int16, err error) {
	e := c.getOrCreate(transactionalID)
	e.mu.Lock()
	defer e.mu.Unlock()

	abortEpoch = -1
	if e.state != StateEmpty {
		abortEpoch = e.producerEpoch
		for p := range e.addedPartitions {
			abortPartitions = append(abortPartitions, p)
		}
	}

	if e.producerID < 0 {
		e.producerID = c.nextProducerID.Inc() - 1
		e.producerEpoch = 0
	} else {
		e.producerEpoch++
	}

	e.state = StateEmpty
	e.addedPartitions = make(map[topition.Topition]struct{})
	e.addedOffsetGroups = make(map[string]struct{})
	e.timeout = timeout
	e.lastUpdate = now

	return e.producerID, e.producerEpoch, abortPartitions, abortEpoch, nil
}

func (c *Coordinator) checkIdentity(e *entry, producerID int64, producerEpoch int16) error {
	if producerEpoch < e.producerEpoch {
		return brokererr.New(brokererr.Protocol, brokererr.CodeProducerFenced, "producer epoch is stale")
	}
	if producerID != e.producerID {
		return brokererr.New(brokererr.Protocol, brokererr.CodeInvalidTxnState, "unknown producer id for transactional id")
	}
	return nil
}

// AddPartitionsToTxn adds partitions to the set this transaction will
// write to, transitioning Empty→Ongoing. Rejected when the state is not
// Empty or Ongoing, or the caller's identity is stale.
func (c *Coordinator) AddPartitionsToTxn(transactionalID string, producerID int64, producerEpoch int16, now time.Time, partitions []topition.Topition) error {
	e := c.getOrCreate(transactionalID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := c.checkIdentity(e, producerID, producerEpoch); err != nil {
		return err
	}
	if e.state != StateEmpty && e.state != StateOngoing {
		return brokererr.New(brokererr.Protocol, brokererr.CodeInvalidTxnState, "transaction is not in a state that accepts new partitions")
	}

	e.state = StateOngoing
	for _, p := range partitions {
		e.addedPartitions[p] = struct{}{}
	}
	e.lastUpdate = now
	return nil
}

// AddOffsetsToTxn records that this transaction's commit will apply
// offsets for group. The offsets themselves arrive later via whatever
// mechanism stages a TxnOffsetCommit (out of scope here); BeginEndTxn
// returns the recorded group names so the caller can apply them.
func (c *Coordinator) AddOffsetsToTxn(transactionalID string, producerID int64, producerEpoch int16, now time.Time, group string) error {
	e := c.getOrCreate(transactionalID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := c.checkIdentity(e, producerID, producerEpoch); err != nil {
		return err
	}
	if e.state != StateEmpty && e.state != StateOngoing {
		return brokererr.New(brokererr.Protocol, brokererr.CodeInvalidTxnState, "transaction is not in a state that accepts offset commits")
	}

	e.state = StateOngoing
	e.addedOffsetGroups[group] = struct{}{}
	e.lastUpdate = now
	return nil
}

// Allows is the gate the storage engine calls from produce: a
// transactional append is only legal while the transaction is Ongoing and
// the target partition was previously added via AddPartitionsToTxn. A
// partition never added fails InvalidTxnState.
func (c *Coordinator) Allows(transactionalID string, part topition.Topition, producerID int64, producerEpoch int16) error {
	e := c.getOrCreate(transactionalID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := c.checkIdentity(e, producerID, producerEpoch); err != nil {
		return err
	}
	if e.state != StateOngoing {
		return brokererr.New(brokererr.Protocol, brokererr.CodeInvalidTxnState, "transaction is not ongoing")
	}
	if _, ok := e.addedPartitions[part]; !ok {
		return brokererr.New(brokererr.Protocol, brokererr.CodeInvalidTxnState, "partition was never added to this transaction")
	}
	return nil
}

// BeginEndTxn starts phase 1 of EndTxn: it validates identity and
// current state, moves to PrepareCommit/PrepareAbort, and returns the
// partitions that must receive a control marker plus, for a commit, the
// consumer groups whose staged offsets should be applied. The caller
// writes the control batches and, on success, calls CompleteEndTxn; on
// failure it may call BeginEndTxn again (step 1 is retried).
func (c *Coordinator) BeginEndTxn(transactionalID string, producerID int64, producerEpoch int16, now time.Time, commit bool) (partitions []topition.Topition, offsetGroups []string, marker Marker, err error) {
	e := c.getOrCreate(transactionalID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := c.checkIdentity(e, producerID, producerEpoch); err != nil {
		return nil, nil, 0, err
	}
	if e.state != StateOngoing && e.state != StatePrepareCommit && e.state != StatePrepareAbort {
		return nil, nil, 0, brokererr.New(brokererr.Protocol, brokererr.CodeInvalidTxnState, "no ongoing transaction to end")
	}

	if commit {
		e.state = StatePrepareCommit
		marker = MarkerCommit
	} else {
		e.state = StatePrepareAbort
		marker = MarkerAbort
	}
	e.lastUpdate = now

	for p := range e.addedPartitions {
		partitions = append(partitions, p)
	}
	if commit {
		for g := range e.addedOffsetGroups {
			offsetGroups = append(offsetGroups, g)
		}
	}
	return partitions, offsetGroups, marker, nil
}

// CompleteEndTxn finishes phase 2: moves Prepare*→Complete*→Empty and
// clears the added sets, ready for the next transaction under this id.
func (c *Coordinator) CompleteEndTxn(transactionalID string, now time.Time) error {
	e := c.getOrCreate(transactionalID)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StatePrepareCommit:
		e.state = StateCompleteCommit
	case StatePrepareAbort:
		e.state = StateCompleteAbort
	default:
		return brokererr.New(brokererr.Fatal, brokererr.CodeInvalidTxnState, "CompleteEndTxn called outside a prepare state")
	}

	e.state = StateEmpty
	e.addedPartitions = make(map[topition.Topition]struct{})
	e.addedOffsetGroups = make(map[string]struct{})
	e.lastUpdate = now
	return nil
}

// State reports the current state of a transactional id, for tests and
// diagnostics.
func (c *Coordinator) State(transactionalID string) State {
	e := c.getOrCreate(transactionalID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ExpireTimeouts scans every transactional id and moves any Ongoing
// transaction whose lastUpdate is older than its timeout into
// PrepareAbort, returning the affected ids so the caller can drive the
// abort's control-batch write ("Timeout in Ongoing moves the transaction
// to PrepareAbort").
func (c *Coordinator) ExpireTimeouts(now time.Time) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var expired []string
	for id, e := range c.entries {
		e.mu.Lock()
		if e.state == StateOngoing && e.timeout > 0 && now.Sub(e.lastUpdate) > e.timeout {
			e.state = StatePrepareAbort
			expired = append(expired, id)
		}
		e.mu.Unlock()
	}
	return expired
}
