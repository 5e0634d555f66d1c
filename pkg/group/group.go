// Package group implements the consumer-group coordinator:
// Join/Sync membership, generation fencing, heartbeat eviction, offset
// commit/fetch, and FindCoordinator resolution.
package group

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/streamkeep/broker/pkg/brokererr"
)

// State is a consumer group's position in the Join/Sync protocol.
//
// PreparingRebalance exists in the state model for completeness with a
// group's full lifecycle, but this coordinator's JoinGroup is synchronous
// and admits a member the instant it arrives rather than holding a join
// window open for stragglers, so a group never parks there: startRebalance
// goes straight from the prior state to CompletingRebalance. A join window
// (and the wait that would make PreparingRebalance observable) is a
// separate feature this coordinator does not implement.
type State int8

const (
	StateEmpty State = iota
	StatePreparingRebalance
	StateCompletingRebalance
	StateStable
	StateDead
)

// Protocol is one assignor a member supports, carried in JoinGroup.
type Protocol struct {
	Name     string
	Metadata []byte
}

// Member is a single group member as tracked by the coordinator.
type Member struct {
	MemberID       string
	ClientID       string
	Protocols      []Protocol
	SessionTimeout time.Duration
	lastHeartbeat  time.Time
}

// JoinResult is returned from JoinGroup.
type JoinResult struct {
	MemberID string
	Generation int32
	Protocol   string
	LeaderID   string
	IsLeader   bool
	// Members is populated only for the elected leader, who needs every
	// member's metadata to compute assignments.
	Members []Member
}

type group struct {
	mu sync.Mutex

	id             string
	protocolType   string
	generation     int32
	state          State
	leader         string
	chosenProtocol string
	members        map[string]*Member
	assignments    map[string][]byte
	readyCh        chan struct{}

	nextMemberSeq *atomic.Int32
}

func newGroup(id, protocolType string) *group {
	return &group{
		id:            id,
		protocolType:  protocolType,
		state:         StateEmpty,
		members:       make(map[string]*Member),
		readyCh:       make(chan struct{}),
		nextMemberSeq: atomic.NewInt32(0),
	}
}

// startRebalance bumps the generation, releases anyone still waiting on the
// prior sync barrier and arranges for a fresh one, and clears the last
// round's assignments. Must be called with g.mu held.
func (g *group) startRebalance() {
	g.generation++
	g.state = StateCompletingRebalance
	g.assignments = nil
	select {
	case <-g.readyCh:
	default:
		close(g.readyCh)
	}
	g.readyCh = make(chan struct{})
}

// Coordinator manages every consumer group and committed offset in the
// cluster. A zero Coordinator is not usable; construct with
// NewCoordinator.
type Coordinator struct {
	mu     sync.RWMutex
	groups map[string]*group

	offsetsMu sync.RWMutex
	offsets   map[offsetKey]committedOffset
}

type offsetKey struct {
	Group     string
	Topic     string
	Partition int32
}

type committedOffset struct {
	Offset     int64
	Metadata   string
	MemberID   string
	Generation int32
}

// NewCoordinator returns an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		groups:  make(map[string]*group),
		offsets: make(map[offsetKey]committedOffset),
	}
}

func (c *Coordinator) getOrCreate(groupID, protocolType string) *group {
	c.mu.RLock()
	g, ok := c.groups[groupID]
	c.mu.RUnlock()
	if ok {
		return g
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.groups[groupID]; ok {
		return g
	}
	g = newGroup(groupID, protocolType)
	c.groups[groupID] = g
	return g
}

// JoinGroup implements JoinGroup: the first member to arrive in a
// fresh rebalance becomes the leader; members joining an in-flight
// rebalance are folded into it without bumping the generation again.
func (c *Coordinator) JoinGroup(groupID, memberID, clientID, protocolType string, protocols []Protocol, sessionTimeout time.Duration, now time.Time) (JoinResult, error) {
	g := c.getOrCreate(groupID, protocolType)
	g.mu.Lock()
	defer g.mu.Unlock()

	if memberID == "" {
		memberID = g.id + "-" + clientID + "-" + strconv.Itoa(int(g.nextMemberSeq.Inc()))
	}

	if g.state == StateEmpty || g.state == StateStable || g.state == StateDead {
		g.startRebalance()
		g.leader = memberID
		if len(protocols) > 0 {
			g.chosenProtocol = protocols[0].Name
		}
	} else if g.chosenProtocol == "" && len(protocols) > 0 {
		g.chosenProtocol = protocols[0].Name
	}

	g.members[memberID] = &Member{
		MemberID:       memberID,
		ClientID:       clientID,
		Protocols:      protocols,
		SessionTimeout: sessionTimeout,
		lastHeartbeat:  now,
	}

	result := JoinResult{
		MemberID:   memberID,
		Generation: g.generation,
		Protocol:   g.chosenProtocol,
		LeaderID:   g.leader,
		IsLeader:   memberID == g.leader,
	}
	if result.IsLeader {
		result.Members = snapshotMembers(g.members)
	}
	return result, nil
}

func snapshotMembers(members map[string]*Member) []Member {
	out := make([]Member, 0, len(members))
	for _, m := range members {
		out = append(out, *m)
	}
	return out
}

// SyncGroup collects each member's assignment. The leader supplies the
// per-member assignment map computed from the Members the leader received
// in JoinResult; every other member blocks until the leader does so, the
// generation changes, or ctx is cancelled.
func (c *Coordinator) SyncGroup(ctx context.Context, groupID, memberID string, generation int32, assignments map[string][]byte) ([]byte, error) {
	c.mu.RLock()
	g, ok := c.groups[groupID]
	c.mu.RUnlock()
	if !ok {
		return nil, brokererr.New(brokererr.Protocol, brokererr.CodeUnknownMemberID, "unknown group")
	}

	g.mu.Lock()
	if generation != g.generation {
		g.mu.Unlock()
		return nil, brokererr.New(brokererr.Protocol, brokererr.CodeIllegalGeneration, "sync from a stale generation")
	}

	if memberID == g.leader {
		g.assignments = assignments
		g.state = StateStable
		close(g.readyCh)
		result := assignments[memberID]
		g.mu.Unlock()
		return result, nil
	}

	ch := g.readyCh
	wantGen := g.generation
	g.mu.Unlock()

	select {
	case <-ch:
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.generation != wantGen {
			return nil, brokererr.New(brokererr.Protocol, brokererr.CodeIllegalGeneration, "rebalanced while waiting for sync")
		}
		return g.assignments[memberID], nil
	case <-ctx.Done():
		return nil, brokererr.Wrap(brokererr.Timeout, brokererr.CodeRequestTimedOut, ctx.Err(), "sync group")
	}
}

// Heartbeat implements generation fencing: a heartbeat from a
// stale generation fails IllegalGeneration.
func (c *Coordinator) Heartbeat(groupID, memberID string, generation int32, now time.Time) error {
	c.mu.RLock()
	g, ok := c.groups[groupID]
	c.mu.RUnlock()
	if !ok {
		return brokererr.New(brokererr.Protocol, brokererr.CodeUnknownMemberID, "unknown group")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if generation != g.generation {
		return brokererr.New(brokererr.Protocol, brokererr.CodeIllegalGeneration, "heartbeat from a stale generation")
	}
	m, ok := g.members[memberID]
	if !ok {
		return brokererr.New(brokererr.Protocol, brokererr.CodeUnknownMemberID, "unknown member")
	}
	m.lastHeartbeat = now
	return nil
}

// LeaveGroup removes a member and, if the group still has members,
// triggers a fresh rebalance.
func (c *Coordinator) LeaveGroup(groupID, memberID string) error {
	c.mu.RLock()
	g, ok := c.groups[groupID]
	c.mu.RUnlock()
	if !ok {
		return brokererr.New(brokererr.Protocol, brokererr.CodeUnknownMemberID, "unknown group")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.members, memberID)
	c.rebalanceAfterDeparture(g, memberID)
	return nil
}

// rebalanceAfterDeparture must be called with g.mu held, after the
// departing member has already been removed from g.members.
func (c *Coordinator) rebalanceAfterDeparture(g *group, departed string) {
	if len(g.members) == 0 {
		g.state = StateEmpty
		g.leader = ""
		return
	}
	if g.leader == departed {
		for id := range g.members {
			g.leader = id
			break
		}
	}
	g.startRebalance()
}

// EvictExpired scans every group for members whose session has expired
// and removes them, triggering a rebalance per affected group. It returns
// the evicted (group, member) pairs.
func (c *Coordinator) EvictExpired(now time.Time) []struct{ Group, Member string } {
	c.mu.RLock()
	groups := make([]*group, 0, len(c.groups))
	for _, g := range c.groups {
		groups = append(groups, g)
	}
	c.mu.RUnlock()

	var evicted []struct{ Group, Member string }
	for _, g := range groups {
		g.mu.Lock()
		for id, m := range g.members {
			if m.SessionTimeout > 0 && now.Sub(m.lastHeartbeat) > m.SessionTimeout {
				delete(g.members, id)
				c.rebalanceAfterDeparture(g, id)
				evicted = append(evicted, struct{ Group, Member string }{g.id, id})
			}
		}
		g.mu.Unlock()
	}
	return evicted
}

// OffsetCommit implements OffsetCommit: offsets are rejected from a
// stale generation.
func (c *Coordinator) OffsetCommit(groupID, memberID string, generation int32, topic string, partition int32, offset int64, metadata string) error {
	c.mu.RLock()
	g, ok := c.groups[groupID]
	c.mu.RUnlock()
	if ok {
		g.mu.Lock()
		mismatch := generation != g.generation
		g.mu.Unlock()
		if mismatch {
			return brokererr.New(brokererr.Protocol, brokererr.CodeIllegalGeneration, "offset commit from a stale generation")
		}
	}

	c.offsetsMu.Lock()
	defer c.offsetsMu.Unlock()
	c.offsets[offsetKey{groupID, topic, partition}] = committedOffset{
		Offset:     offset,
		Metadata:   metadata,
		MemberID:   memberID,
		Generation: generation,
	}
	return nil
}

// OffsetFetch returns a group's previously committed offset for a
// partition.
func (c *Coordinator) OffsetFetch(groupID, topic string, partition int32) (offset int64, metadata string, ok bool) {
	c.offsetsMu.RLock()
	defer c.offsetsMu.RUnlock()
	co, ok := c.offsets[offsetKey{groupID, topic, partition}]
	if !ok {
		return 0, "", false
	}
	return co.Offset, co.Metadata, true
}

// KeyType distinguishes FindCoordinator's lookup kinds.
type KeyType int8

const (
	KeyTypeGroup KeyType = iota
	KeyTypeTransaction
)

// Coordinates is the resolved coordinator node for a FindCoordinator
// lookup. Single-node deployments always resolve to the broker itself.
type Coordinates struct {
	NodeID int32
	Host   string
	Port   int32
}

// FindCoordinator resolves (key, keyType) to a coordinator node. This is a
// single-node broker, so every key resolves to the same node.
func (c *Coordinator) FindCoordinator(key string, keyType KeyType, self Coordinates) (Coordinates, error) {
	return self, nil
}
