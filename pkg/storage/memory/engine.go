// Package memory is the in-memory realization of pkg/storage's
// StorageEngine, grounded on the same map-of-entities-behind-locks
// structure the broader corpus uses for non-durable state, with
// promauto-instrumented operation counters in the style of
// friggdb.go's metricBlocklist* variables.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"

	"github.com/streamkeep/broker/pkg/brokererr"
	"github.com/streamkeep/broker/pkg/configstore"
	"github.com/streamkeep/broker/pkg/record"
	"github.com/streamkeep/broker/pkg/storage"
	"github.com/streamkeep/broker/pkg/topition"
	"github.com/streamkeep/broker/pkg/txn"
)

var (
	metricAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "broker",
		Subsystem: "storage_memory",
		Name:      "appends_total",
		Help:      "Total number of batches appended per topic.",
	}, []string{"topic"})
	metricFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "broker",
		Subsystem: "storage_memory",
		Name:      "fetches_total",
		Help:      "Total number of fetch calls per topic.",
	}, []string{"topic"})
)

type offsetKey struct {
	Group     string
	Topic     string
	Partition int32
}

// Engine is the in-memory StorageEngine realization. Construct with New.
type Engine struct {
	mu         sync.RWMutex
	clusterID  string
	brokers    map[int32]uuid.UUID
	topics     map[string]*topicEntry
	topicsByID map[uuid.UUID]*topicEntry

	configs *configstore.Store
	txn     *txn.Coordinator

	offsetsMu         sync.Mutex
	offsets           map[offsetKey]int64
	pendingTxnOffsets map[string]map[offsetKey]int64

	produceCount *atomic.Int64
}

// New returns an empty in-memory engine for the given cluster.
func New(clusterID string) *Engine {
	return &Engine{
		clusterID:         clusterID,
		brokers:           make(map[int32]uuid.UUID),
		topics:            make(map[string]*topicEntry),
		topicsByID:        make(map[uuid.UUID]*topicEntry),
		configs:           configstore.NewStore(),
		txn:               txn.NewCoordinator(),
		offsets:           make(map[offsetKey]int64),
		pendingTxnOffsets: make(map[string]map[offsetKey]int64),
		produceCount:      atomic.NewInt64(0),
	}
}

// RegisterBroker is idempotent on (broker_id, incarnation_id).
func (e *Engine) RegisterBroker(ctx context.Context, reg storage.BrokerRegistration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.brokers[reg.BrokerID] = reg.IncarnationID
	return nil
}

// CreateTopic validates and registers a new topic's partitions.
func (e *Engine) CreateTopic(ctx context.Context, topicConfig storage.CreatableTopic, validateOnly bool) (uuid.UUID, error) {
	if topicConfig.ReplicationFactor < 0 {
		return uuid.Nil, brokererr.New(brokererr.Protocol, brokererr.CodeInvalidReplicationFactor, "replication factor cannot be negative")
	}
	if topicConfig.NumPartitions < 1 {
		return uuid.Nil, brokererr.New(brokererr.Protocol, brokererr.CodeInvalidReplicationFactor, "topic must have at least one partition")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.topics[topicConfig.Name]; exists {
		return uuid.Nil, brokererr.New(brokererr.Protocol, brokererr.CodeTopicAlreadyExists, "topic already exists")
	}
	if validateOnly {
		return uuid.Nil, nil
	}

	id := uuid.New()
	partitions := make([]*partition, topicConfig.NumPartitions)
	for i := range partitions {
		partitions[i] = newPartition()
	}
	entry := &topicEntry{id: id, name: topicConfig.Name, partitions: partitions}
	e.topics[topicConfig.Name] = entry
	e.topicsByID[id] = entry

	e.configs.Seed(configstore.Resource{Type: configstore.ResourceTopic, Name: topicConfig.Name}, topicConfig.Configs)

	return id, nil
}

// DeleteTopic removes a topic and all of its partitions.
func (e *Engine) DeleteTopic(ctx context.Context, id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.topicsByID[id]
	if !ok {
		return brokererr.New(brokererr.Protocol, brokererr.CodeUnknownTopicOrPartition, "unknown topic id")
	}
	delete(e.topics, entry.name)
	delete(e.topicsByID, id)
	e.configs.Drop(configstore.Resource{Type: configstore.ResourceTopic, Name: entry.name})
	return nil
}

func (e *Engine) lookupPartition(t topition.Topition) (*partition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.topics[t.Topic]
	if !ok || t.PartitionIndex < 0 || int(t.PartitionIndex) >= len(entry.partitions) {
		return nil, brokererr.New(brokererr.Protocol, brokererr.CodeUnknownTopicOrPartition, "unknown topic or partition")
	}
	return entry.partitions[t.PartitionIndex], nil
}

// Produce implements produce: transactional gating
// happens here, against the transaction coordinator, before the partition
// ever sees the batch.
func (e *Engine) Produce(ctx context.Context, transactionalID string, t topition.Topition, batch record.Deflated) (int64, error) {
	part, err := e.lookupPartition(t)
	if err != nil {
		return 0, err
	}

	if batch.IsTransactional() && !batch.IsControl() {
		if transactionalID == "" {
			return 0, brokererr.New(brokererr.Protocol, brokererr.CodeInvalidTxnState, "transactional batch without a transactional id")
		}
		if err := e.txn.Allows(transactionalID, t, batch.ProducerID, batch.ProducerEpoch); err != nil {
			return 0, err
		}
	}

	offset, err := part.append(batch)
	if err != nil {
		return 0, err
	}
	metricAppendsTotal.WithLabelValues(t.Topic).Inc()
	e.produceCount.Inc()
	return offset, nil
}

// Fetch reads a contiguous range of batches from a partition's log.
func (e *Engine) Fetch(ctx context.Context, t topition.Topition, offset int64, maxBytes int32, isolation storage.IsolationLevel) (storage.FetchResult, error) {
	part, err := e.lookupPartition(t)
	if err != nil {
		return storage.FetchResult{}, err
	}
	metricFetchesTotal.WithLabelValues(t.Topic).Inc()
	return part.fetch(offset, maxBytes, isolation)
}

// ListOffsets resolves an offset spec (earliest/latest/timestamp) to a
// concrete offset.
func (e *Engine) ListOffsets(ctx context.Context, isolation storage.IsolationLevel, requests []storage.ListOffsetsRequest) ([]storage.ListOffsetsResponse, error) {
	out := make([]storage.ListOffsetsResponse, 0, len(requests))
	for _, req := range requests {
		part, err := e.lookupPartition(req.Topition)
		if err != nil {
			return nil, err
		}
		offset := part.listOffset(req.Spec, req.Timestamp, isolation)
		out = append(out, storage.ListOffsetsResponse{Topition: req.Topition, Offset: offset})
	}
	return out, nil
}

// DeleteRecords advances a partition's log-start offset.
func (e *Engine) DeleteRecords(ctx context.Context, t topition.Topition, beforeOffset int64) (int64, error) {
	part, err := e.lookupPartition(t)
	if err != nil {
		return 0, err
	}
	return part.deleteRecords(beforeOffset), nil
}

// InitProducerId allocates a producer id, or bumps the epoch of an
// existing transactional id. A transaction left Ongoing by the prior
// incarnation of that id is aborted first: an abort control marker is
// written into every partition it had added, so the partition's stable
// offset is no longer pinned below its high watermark.
func (e *Engine) InitProducerId(ctx context.Context, transactionalID string, timeoutMs int32) (int64, int16, error) {
	if transactionalID == "" {
		producerID, producerEpoch := e.txn.AllocateProducerID()
		return producerID, producerEpoch, nil
	}

	producerID, producerEpoch, abortPartitions, abortEpoch, err := e.txn.InitProducerId(transactionalID, time.Duration(timeoutMs)*time.Millisecond, now())
	if err != nil {
		return 0, 0, err
	}

	for _, t := range abortPartitions {
		part, err := e.lookupPartition(t)
		if err != nil {
			return 0, 0, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "resolving partition for discarded-transaction abort marker")
		}
		control, err := buildControlBatch(producerID, abortEpoch, markerAbort)
		if err != nil {
			return 0, 0, brokererr.Wrap(brokererr.Fatal, brokererr.CodeKafkaStorageError, err, "building discarded-transaction abort marker")
		}
		if _, err := part.append(control); err != nil {
			return 0, 0, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "writing discarded-transaction abort marker")
		}
	}
	if len(abortPartitions) > 0 {
		e.offsetsMu.Lock()
		delete(e.pendingTxnOffsets, transactionalID)
		e.offsetsMu.Unlock()
	}

	return producerID, producerEpoch, nil
}

// TxnAddPartitions records that a transaction will write to a partition.
func (e *Engine) TxnAddPartitions(ctx context.Context, transactionalID string, producerID int64, producerEpoch int16, partitions []topition.Topition) error {
	return e.txn.AddPartitionsToTxn(transactionalID, producerID, producerEpoch, now(), partitions)
}

// TxnAddOffsets records that a transaction will commit offsets to a group.
func (e *Engine) TxnAddOffsets(ctx context.Context, transactionalID string, producerID int64, producerEpoch int16, group string) error {
	return e.txn.AddOffsetsToTxn(transactionalID, producerID, producerEpoch, now(), group)
}

// TxnOffsetCommit stages an offset to be applied atomically with a
// transaction's commit.
func (e *Engine) TxnOffsetCommit(ctx context.Context, transactionalID string, group string, t topition.Topition, offset int64) error {
	e.offsetsMu.Lock()
	defer e.offsetsMu.Unlock()
	staged, ok := e.pendingTxnOffsets[transactionalID]
	if !ok {
		staged = make(map[offsetKey]int64)
		e.pendingTxnOffsets[transactionalID] = staged
	}
	staged[offsetKey{Group: group, Topic: t.Topic, Partition: t.PartitionIndex}] = offset
	return nil
}

// EndTxn implements EndTxn: writes a control batch into every
// added partition, and on commit applies any offsets staged via
// TxnOffsetCommit atomically with that write.
func (e *Engine) EndTxn(ctx context.Context, transactionalID string, producerID int64, producerEpoch int16, commit bool) error {
	partitions, groups, marker, err := e.txn.BeginEndTxn(transactionalID, producerID, producerEpoch, now(), commit)
	if err != nil {
		return err
	}

	mt := markerCommit
	if marker == txn.MarkerAbort {
		mt = markerAbort
	}

	for _, t := range partitions {
		part, err := e.lookupPartition(t)
		if err != nil {
			return brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "resolving partition for end-txn marker")
		}
		control, err := buildControlBatch(producerID, producerEpoch, mt)
		if err != nil {
			return brokererr.Wrap(brokererr.Fatal, brokererr.CodeKafkaStorageError, err, "building control batch")
		}
		if _, err := part.append(control); err != nil {
			return brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "writing end-txn control batch")
		}
	}

	if commit {
		e.offsetsMu.Lock()
		staged := e.pendingTxnOffsets[transactionalID]
		for _, g := range groups {
			for key, offset := range staged {
				if key.Group == g {
					e.offsets[key] = offset
				}
			}
		}
		delete(e.pendingTxnOffsets, transactionalID)
		e.offsetsMu.Unlock()
	} else {
		e.offsetsMu.Lock()
		delete(e.pendingTxnOffsets, transactionalID)
		e.offsetsMu.Unlock()
	}

	return e.txn.CompleteEndTxn(transactionalID, now())
}

// CommitOffset implements a non-transactional OffsetCommit against the
// engine's in-memory offset map; the consumer-group protocol layer
// (pkg/group) keeps its own fast-path copy for in-session reads.
func (e *Engine) CommitOffset(ctx context.Context, group string, t topition.Topition, offset int64) error {
	e.offsetsMu.Lock()
	defer e.offsetsMu.Unlock()
	e.offsets[offsetKey{Group: group, Topic: t.Topic, Partition: t.PartitionIndex}] = offset
	return nil
}

// FetchOffset implements OffsetFetch against the in-memory offset map.
func (e *Engine) FetchOffset(ctx context.Context, group string, t topition.Topition) (int64, bool, error) {
	e.offsetsMu.Lock()
	defer e.offsetsMu.Unlock()
	offset, ok := e.offsets[offsetKey{Group: group, Topic: t.Topic, Partition: t.PartitionIndex}]
	return offset, ok, nil
}

// IncrementalAlterConfigs applies an incremental alter request against the
// in-memory config store.
func (e *Engine) IncrementalAlterConfigs(ctx context.Context, resource storage.AlterConfigsResource) error {
	return e.configs.Alter(resource.Resource, resource.Alterations)
}

// DescribeConfigs reports the effective config entries for each requested
// resource.
func (e *Engine) DescribeConfigs(ctx context.Context, resources []configstore.Resource, includeSynonyms, includeDocumentation bool) ([]storage.DescribeConfigsResult, error) {
	out := make([]storage.DescribeConfigsResult, 0, len(resources))
	for _, r := range resources {
		out = append(out, storage.DescribeConfigsResult{Resource: r, Entries: e.configs.Describe(r, includeSynonyms)})
	}
	return out, nil
}

// now is the engine's single time source, isolated so tests can't
// accidentally depend on wall-clock behavior through a dozen call sites.
func now() time.Time { return time.Now() }
