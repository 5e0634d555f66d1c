// Package storage defines the storage-abstraction contract: a
// variant interface with exactly two concrete realizations,
// pkg/storage/memory and pkg/storage/pg. Neither open polymorphism nor
// dynamic inheritance is needed here, so StorageEngine is a closed
// contract both realizations satisfy. Each realization has its own test
// file; there is no shared contract test suite.
package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/streamkeep/broker/pkg/configstore"
	"github.com/streamkeep/broker/pkg/record"
	"github.com/streamkeep/broker/pkg/topition"
)

// IsolationLevel controls how far a Fetch may see into in-flight
// transactions.
type IsolationLevel int8

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
)

// BrokerRegistration is the idempotent registration's
// register_broker.
type BrokerRegistration struct {
	BrokerID            int32
	IncarnationID       uuid.UUID
	ClusterID           string
	AdvertisedListener  string
}

// CreatableTopic describes a topic at creation time.
type CreatableTopic struct {
	Name              string
	NumPartitions     int32
	ReplicationFactor int16
	Configs           map[string]string
}

// OffsetSpec selects which list_offsets mode to resolve.
type OffsetSpec int8

const (
	OffsetEarliest OffsetSpec = iota
	OffsetLatest
	OffsetByTimestamp
)

// ListOffsetsRequest is one (topition, spec) pair in a list_offsets call.
type ListOffsetsRequest struct {
	Topition  topition.Topition
	Spec      OffsetSpec
	Timestamp int64 // only meaningful when Spec == OffsetByTimestamp
}

// ListOffsetsResponse answers one ListOffsetsRequest.
type ListOffsetsResponse struct {
	Topition  topition.Topition
	Offset    int64
	Timestamp int64
}

// AbortedTransaction is one entry of the aborted-transaction index a
// ReadCommitted fetch must include.
type AbortedTransaction struct {
	ProducerID  int64
	FirstOffset int64
}

// FetchResult is the response to Fetch.
type FetchResult struct {
	Frame                record.Frame
	LogStartOffset       int64
	HighWatermark        int64
	LastStableOffset     int64
	AbortedTransactions  []AbortedTransaction
}

// AlterConfigsResource is one incremental_alter_resource call.
type AlterConfigsResource struct {
	Resource    configstore.Resource
	Alterations []configstore.Alteration
}

// DescribeConfigsResult answers one resource in a describe_configs call.
type DescribeConfigsResult struct {
	Resource configstore.Resource
	Entries  []configstore.Entry
}

// StorageEngine is the uniform contract over the in-memory and durable
// back-ends. Every operation is asynchronous — realized in Go as a
// context-carrying, possibly-blocking call rather than a future, matching
// the synchronous-call-over-cooperative-scheduler style used throughout
// the style this module is grounded on.
type StorageEngine interface {
	RegisterBroker(ctx context.Context, reg BrokerRegistration) error

	CreateTopic(ctx context.Context, topicConfig CreatableTopic, validateOnly bool) (uuid.UUID, error)
	DeleteTopic(ctx context.Context, id uuid.UUID) error

	Produce(ctx context.Context, transactionalID string, t topition.Topition, batch record.Deflated) (int64, error)
	Fetch(ctx context.Context, t topition.Topition, offset int64, maxBytes int32, isolation IsolationLevel) (FetchResult, error)
	ListOffsets(ctx context.Context, isolation IsolationLevel, requests []ListOffsetsRequest) ([]ListOffsetsResponse, error)
	DeleteRecords(ctx context.Context, t topition.Topition, beforeOffset int64) (int64, error)

	InitProducerId(ctx context.Context, transactionalID string, timeoutMs int32) (producerID int64, producerEpoch int16, err error)
	TxnAddPartitions(ctx context.Context, transactionalID string, producerID int64, producerEpoch int16, partitions []topition.Topition) error
	TxnAddOffsets(ctx context.Context, transactionalID string, producerID int64, producerEpoch int16, group string) error
	TxnOffsetCommit(ctx context.Context, transactionalID string, group string, t topition.Topition, offset int64) error
	EndTxn(ctx context.Context, transactionalID string, producerID int64, producerEpoch int16, commit bool) error

	CommitOffset(ctx context.Context, group string, t topition.Topition, offset int64) error
	FetchOffset(ctx context.Context, group string, t topition.Topition) (int64, bool, error)

	IncrementalAlterConfigs(ctx context.Context, resource AlterConfigsResource) error
	DescribeConfigs(ctx context.Context, resources []configstore.Resource, includeSynonyms, includeDocumentation bool) ([]DescribeConfigsResult, error)
}
