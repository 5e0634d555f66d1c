// Package pg is the durable realization of pkg/storage's StorageEngine,
// backed by PostgreSQL via github.com/jackc/pgx/v5. It persists
// batches and watermarks so that, after a restart, a committed batch is
// either fully visible (including its watermark update) or not visible at
// all — the crash-consistency guarantee expected of the durable
// back-end. Transaction-state and config bookkeeping reuse the same
// in-process pkg/txn and pkg/configstore logic the memory engine uses
// (see DESIGN.md): only the tables schema.go defines are themselves durable,
// and replaying txn_state/configs rows into those in-process structures on
// startup is left as the crash-recovery path a production deployment
// would add.
package pg

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/streamkeep/broker/pkg/brokererr"
	"github.com/streamkeep/broker/pkg/configstore"
	"github.com/streamkeep/broker/pkg/protocol"
	"github.com/streamkeep/broker/pkg/record"
	"github.com/streamkeep/broker/pkg/storage"
	"github.com/streamkeep/broker/pkg/topition"
	"github.com/streamkeep/broker/pkg/txn"
)

// topicUUIDConfigKey is the reserved configs-table key a topic's synthetic
// id is stashed under, so CreateTopic/DeleteTopic can speak uuid.UUID like
// the StorageEngine contract requires despite there being no dedicated
// topics table among them.
const topicUUIDConfigKey = "_topic_uuid"

// Engine is the pgx-backed StorageEngine. Construct with Open.
type Engine struct {
	pool      *pgxpool.Pool
	clusterID string

	configs *configstore.Store
	txn     *txn.Coordinator

	idsMu    sync.RWMutex
	idByName map[string]uuid.UUID
	nameByID map[uuid.UUID]string
}

// Open connects to postgres, ensures the schema exists, reconstructs the
// topic name/id table from the configs rows written by prior CreateTopic
// calls, and returns a ready Engine.
func Open(ctx context.Context, connString, clusterID string) (*Engine, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "opening postgres pool")
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "applying schema")
	}

	e := &Engine{
		pool:      pool,
		clusterID: clusterID,
		configs:   configstore.NewStore(),
		txn:       txn.NewCoordinator(),
		idByName:  make(map[string]uuid.UUID),
		nameByID:  make(map[uuid.UUID]string),
	}

	rows, err := pool.Query(ctx, `SELECT resource_name, value FROM configs WHERE resource_type=$1 AND key=$2`, int(configstore.ResourceTopic), topicUUIDConfigKey)
	if err != nil {
		pool.Close()
		return nil, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "loading topic ids")
	}
	defer rows.Close()
	for rows.Next() {
		var name, idStr string
		if err := rows.Scan(&name, &idStr); err != nil {
			pool.Close()
			return nil, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "scanning topic id row")
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		e.idByName[name] = id
		e.nameByID[id] = name
	}
	return e, nil
}

// Close releases the underlying connection pool.
func (e *Engine) Close() { e.pool.Close() }

// RegisterBroker is a no-op: broker identity is not part of the durable
// tables this schema defines, and single-node registration does not need
// to survive a restart for the scope of this module.
func (e *Engine) RegisterBroker(ctx context.Context, reg storage.BrokerRegistration) error {
	return nil
}

// CreateTopic seeds one watermark row per partition; topic existence is
// derived from the presence of watermark rows rather than a dedicated
// topics table.
// The synthetic id the StorageEngine contract requires is minted here and
// stashed in the configs table under topicUUIDConfigKey.
func (e *Engine) CreateTopic(ctx context.Context, topicConfig storage.CreatableTopic, validateOnly bool) (uuid.UUID, error) {
	if topicConfig.ReplicationFactor < 0 || topicConfig.NumPartitions < 1 {
		return uuid.UUID{}, brokererr.New(brokererr.Protocol, brokererr.CodeInvalidReplicationFactor, "invalid topic configuration")
	}

	e.idsMu.RLock()
	_, exists := e.idByName[topicConfig.Name]
	e.idsMu.RUnlock()
	if exists {
		return uuid.UUID{}, brokererr.New(brokererr.Protocol, brokererr.CodeTopicAlreadyExists, "topic already exists")
	}
	if validateOnly {
		return uuid.UUID{}, nil
	}

	id := uuid.New()
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return uuid.UUID{}, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "starting create-topic transaction")
	}
	defer tx.Rollback(ctx)

	for i := int32(0); i < topicConfig.NumPartitions; i++ {
		if _, err := tx.Exec(ctx,
			`INSERT INTO watermarks (cluster_id, topic, partition_index, log_start_offset, high_watermark, last_stable_offset)
			 VALUES ($1, $2, $3, 0, 0, 0)`,
			e.clusterID, topicConfig.Name, i,
		); err != nil {
			return uuid.UUID{}, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "seeding watermark row")
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO configs (resource_type, resource_name, key, value) VALUES ($1, $2, $3, $4)`,
		int(configstore.ResourceTopic), topicConfig.Name, topicUUIDConfigKey, id.String(),
	); err != nil {
		return uuid.UUID{}, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "persisting topic id")
	}
	if err := tx.Commit(ctx); err != nil {
		return uuid.UUID{}, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "committing create-topic transaction")
	}

	e.idsMu.Lock()
	e.idByName[topicConfig.Name] = id
	e.nameByID[id] = topicConfig.Name
	e.idsMu.Unlock()

	e.configs.Seed(configstore.Resource{Type: configstore.ResourceTopic, Name: topicConfig.Name}, topicConfig.Configs)
	return id, nil
}

// DeleteTopic removes every batch, watermark and config row for a topic.
func (e *Engine) DeleteTopic(ctx context.Context, id uuid.UUID) error {
	e.idsMu.RLock()
	topicName, ok := e.nameByID[id]
	e.idsMu.RUnlock()
	if !ok {
		return brokererr.New(brokererr.Protocol, brokererr.CodeUnknownTopicOrPartition, "unknown topic id")
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "starting delete-topic transaction")
	}
	defer tx.Rollback(ctx)

	for _, stmt := range []string{
		`DELETE FROM batches WHERE cluster_id=$1 AND topic=$2`,
		`DELETE FROM watermarks WHERE cluster_id=$1 AND topic=$2`,
		`DELETE FROM ongoing_txn_begins WHERE cluster_id=$1 AND topic=$2`,
		`DELETE FROM aborted_ranges WHERE cluster_id=$1 AND topic=$2`,
	} {
		if _, err := tx.Exec(ctx, stmt, e.clusterID, topicName); err != nil {
			return brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "deleting topic rows")
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM configs WHERE resource_type=$1 AND resource_name=$2`, int(configstore.ResourceTopic), topicName); err != nil {
		return brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "deleting topic configs")
	}
	if err := tx.Commit(ctx); err != nil {
		return brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "committing delete-topic transaction")
	}

	e.configs.Drop(configstore.Resource{Type: configstore.ResourceTopic, Name: topicName})
	e.idsMu.Lock()
	delete(e.idByName, topicName)
	delete(e.nameByID, id)
	e.idsMu.Unlock()
	return nil
}

// markerAbort is the control-record key's type field value a control
// batch carries when it marks a transaction's abort rather than its
// commit, matching pkg/storage/memory's {version, type} marker key
// encoding.
const markerAbort = 1

// isAbortMarker reports whether a control batch's marker key encodes an
// abort rather than a commit.
func isAbortMarker(batch record.Deflated) bool {
	inflated, err := batch.Inflate()
	if err != nil || len(inflated.Records) == 0 {
		return false
	}
	key := inflated.Records[0].Key
	return len(key) >= 4 && key[3] == markerAbort
}

// Produce assigns base_offset from the watermark row under SELECT ... FOR
// UPDATE, inserts the batch, and advances the watermark, all within one
// transaction — a committed batch and its watermark become visible
// atomically, satisfying the crash-consistency guarantee. A transactional
// data batch records its begin offset in ongoing_txn_begins so
// last_stable_offset stays capped at the earliest ongoing transaction in
// this partition; a control batch clears that bookkeeping and, for an
// abort, records the discarded range in aborted_ranges so ReadCommitted
// fetches can exclude it.
func (e *Engine) Produce(ctx context.Context, transactionalID string, t topition.Topition, batch record.Deflated) (int64, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return 0, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "starting produce transaction")
	}
	defer tx.Rollback(ctx)

	if batch.IsTransactional() && !batch.IsControl() {
		if transactionalID == "" {
			return 0, brokererr.New(brokererr.Protocol, brokererr.CodeInvalidTxnState, "transactional batch without a transactional id")
		}
		if err := e.txn.Allows(transactionalID, t, batch.ProducerID, batch.ProducerEpoch); err != nil {
			return 0, err
		}
	}

	var hwm int64
	err = tx.QueryRow(ctx,
		`SELECT high_watermark FROM watermarks WHERE cluster_id=$1 AND topic=$2 AND partition_index=$3 FOR UPDATE`,
		e.clusterID, t.Topic, t.PartitionIndex,
	).Scan(&hwm)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, brokererr.New(brokererr.Protocol, brokererr.CodeUnknownTopicOrPartition, "unknown topic or partition")
	}
	if err != nil {
		return 0, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "locking watermark row")
	}

	offset := hwm
	batch.BaseOffset = offset
	batch.PartitionLeaderEpoch = 0
	lastOffset := offset + int64(batch.RecordCount) - 1

	enc := protocol.NewEncoder(batch.EncodedSize())
	batch.Encode(enc)

	if _, err := tx.Exec(ctx,
		`INSERT INTO batches (cluster_id, topic, partition_index, base_offset, last_offset, producer_id, max_timestamp, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.clusterID, t.Topic, t.PartitionIndex, offset, lastOffset, batch.ProducerID, batch.MaxTimestamp, enc.Bytes(),
	); err != nil {
		return 0, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "inserting batch")
	}

	if batch.IsTransactional() && !batch.IsControl() {
		if _, err := tx.Exec(ctx,
			`INSERT INTO ongoing_txn_begins (cluster_id, topic, partition_index, producer_id, begin_offset)
			 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (cluster_id, topic, partition_index, producer_id) DO NOTHING`,
			e.clusterID, t.Topic, t.PartitionIndex, batch.ProducerID, offset,
		); err != nil {
			return 0, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "recording ongoing-transaction begin offset")
		}
	}

	if batch.IsControl() {
		var beginOffset int64
		err := tx.QueryRow(ctx,
			`DELETE FROM ongoing_txn_begins WHERE cluster_id=$1 AND topic=$2 AND partition_index=$3 AND producer_id=$4 RETURNING begin_offset`,
			e.clusterID, t.Topic, t.PartitionIndex, batch.ProducerID,
		).Scan(&beginOffset)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return 0, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "clearing ongoing-transaction begin offset")
		}
		if err == nil && isAbortMarker(batch) {
			if _, err := tx.Exec(ctx,
				`INSERT INTO aborted_ranges (cluster_id, topic, partition_index, producer_id, first_offset, marker_offset)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				e.clusterID, t.Topic, t.PartitionIndex, batch.ProducerID, beginOffset, offset,
			); err != nil {
				return 0, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "recording aborted range")
			}
		}
	}

	newHWM := offset + int64(batch.RecordCount)
	newLSO := newHWM
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MIN(begin_offset), $1) FROM ongoing_txn_begins WHERE cluster_id=$2 AND topic=$3 AND partition_index=$4`,
		newHWM, e.clusterID, t.Topic, t.PartitionIndex,
	).Scan(&newLSO); err != nil {
		return 0, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "computing last-stable-offset")
	}

	if _, err := tx.Exec(ctx,
		`UPDATE watermarks SET high_watermark=$1, last_stable_offset=$2 WHERE cluster_id=$3 AND topic=$4 AND partition_index=$5`,
		newHWM, newLSO, e.clusterID, t.Topic, t.PartitionIndex,
	); err != nil {
		return 0, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "advancing watermark")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "committing produce transaction")
	}
	return offset, nil
}

// Fetch reads batches in range from the durable log.
func (e *Engine) Fetch(ctx context.Context, t topition.Topition, offset int64, maxBytes int32, isolation storage.IsolationLevel) (storage.FetchResult, error) {
	var logStart, hwm, lso int64
	err := e.pool.QueryRow(ctx,
		`SELECT log_start_offset, high_watermark, last_stable_offset FROM watermarks WHERE cluster_id=$1 AND topic=$2 AND partition_index=$3`,
		e.clusterID, t.Topic, t.PartitionIndex,
	).Scan(&logStart, &hwm, &lso)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.FetchResult{}, brokererr.New(brokererr.Protocol, brokererr.CodeUnknownTopicOrPartition, "unknown topic or partition")
	}
	if err != nil {
		return storage.FetchResult{}, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "reading watermarks")
	}
	if offset < logStart || offset > hwm {
		return storage.FetchResult{}, brokererr.New(brokererr.Protocol, brokererr.CodeOffsetOutOfRange, "fetch offset outside the log range")
	}

	ceiling := hwm
	if isolation == storage.ReadCommitted {
		ceiling = lso
	}

	var aborted []storage.AbortedTransaction
	var abortedRanges []abortedRange
	if isolation == storage.ReadCommitted {
		arows, err := e.pool.Query(ctx,
			`SELECT producer_id, first_offset, marker_offset FROM aborted_ranges
			 WHERE cluster_id=$1 AND topic=$2 AND partition_index=$3 AND first_offset<$4 AND marker_offset>=$5`,
			e.clusterID, t.Topic, t.PartitionIndex, ceiling, offset,
		)
		if err != nil {
			return storage.FetchResult{}, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "querying aborted ranges")
		}
		for arows.Next() {
			var a abortedRange
			if err := arows.Scan(&a.producerID, &a.firstOffset, &a.markerOffset); err != nil {
				arows.Close()
				return storage.FetchResult{}, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "scanning aborted range row")
			}
			abortedRanges = append(abortedRanges, a)
			aborted = append(aborted, storage.AbortedTransaction{ProducerID: a.producerID, FirstOffset: a.firstOffset})
		}
		arows.Close()
	}

	rows, err := e.pool.Query(ctx,
		`SELECT payload FROM batches WHERE cluster_id=$1 AND topic=$2 AND partition_index=$3 AND last_offset>=$4 AND base_offset<$5 ORDER BY base_offset`,
		e.clusterID, t.Topic, t.PartitionIndex, offset, ceiling,
	)
	if err != nil {
		return storage.FetchResult{}, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "querying batches")
	}
	defer rows.Close()

	var batches []record.Deflated
	bytesUsed := 0
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return storage.FetchResult{}, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "scanning batch row")
		}
		dec := protocol.NewDecoder(payload)
		b, err := record.DecodeDeflated(dec)
		if err != nil {
			return storage.FetchResult{}, brokererr.Wrap(brokererr.Codec, brokererr.CodeKafkaStorageError, err, "decoding stored batch")
		}
		if isolation == storage.ReadCommitted && batchIsAborted(b, abortedRanges) {
			continue
		}
		batches = append(batches, b)
		bytesUsed += b.EncodedSize()
		if bytesUsed >= int(maxBytes) {
			break
		}
	}

	return storage.FetchResult{
		Frame:               record.Frame{Batches: batches},
		LogStartOffset:      logStart,
		HighWatermark:       hwm,
		LastStableOffset:    lso,
		AbortedTransactions: aborted,
	}, nil
}

// abortedRange is a decoded aborted_ranges row: the offset span of a
// transaction that ended in an abort marker, mirroring
// pkg/storage/memory's abortedRange.
type abortedRange struct {
	producerID   int64
	firstOffset  int64
	markerOffset int64
}

// batchIsAborted reports whether b falls within one of the aborted ranges
// belonging to its own producer — the same per-batch check
// pkg/storage/memory's isAbortedLocked performs.
func batchIsAborted(b record.Deflated, aborted []abortedRange) bool {
	for _, a := range aborted {
		if a.producerID == b.ProducerID && b.BaseOffset >= a.firstOffset && b.BaseOffset <= a.markerOffset {
			return true
		}
	}
	return false
}

// ListOffsets implements list_offsets against the durable
// watermark table; a timestamp search additionally scans stored batches.
func (e *Engine) ListOffsets(ctx context.Context, isolation storage.IsolationLevel, requests []storage.ListOffsetsRequest) ([]storage.ListOffsetsResponse, error) {
	out := make([]storage.ListOffsetsResponse, 0, len(requests))
	for _, req := range requests {
		var logStart, hwm, lso int64
		err := e.pool.QueryRow(ctx,
			`SELECT log_start_offset, high_watermark, last_stable_offset FROM watermarks WHERE cluster_id=$1 AND topic=$2 AND partition_index=$3`,
			e.clusterID, req.Topition.Topic, req.Topition.PartitionIndex,
		).Scan(&logStart, &hwm, &lso)
		if err != nil {
			return nil, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "reading watermarks for list_offsets")
		}

		var offset int64
		switch req.Spec {
		case storage.OffsetEarliest:
			offset = logStart
		case storage.OffsetLatest:
			offset = hwm
			if isolation == storage.ReadCommitted {
				offset = lso
			}
		case storage.OffsetByTimestamp:
			err := e.pool.QueryRow(ctx,
				`SELECT base_offset FROM batches WHERE cluster_id=$1 AND topic=$2 AND partition_index=$3 AND max_timestamp>=$4 ORDER BY base_offset LIMIT 1`,
				e.clusterID, req.Topition.Topic, req.Topition.PartitionIndex, req.Timestamp,
			).Scan(&offset)
			if errors.Is(err, pgx.ErrNoRows) {
				offset = -1
			} else if err != nil {
				return nil, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "timestamp search")
			}
		}
		out = append(out, storage.ListOffsetsResponse{Topition: req.Topition, Offset: offset})
	}
	return out, nil
}

// DeleteRecords advances log_start_offset and reclaims fully-covered rows.
func (e *Engine) DeleteRecords(ctx context.Context, t topition.Topition, beforeOffset int64) (int64, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return 0, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "starting delete-records transaction")
	}
	defer tx.Rollback(ctx)

	var hwm, logStart int64
	if err := tx.QueryRow(ctx,
		`SELECT high_watermark, log_start_offset FROM watermarks WHERE cluster_id=$1 AND topic=$2 AND partition_index=$3 FOR UPDATE`,
		e.clusterID, t.Topic, t.PartitionIndex,
	).Scan(&hwm, &logStart); err != nil {
		return 0, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "locking watermark row")
	}

	if beforeOffset > hwm {
		beforeOffset = hwm
	}
	if beforeOffset > logStart {
		if _, err := tx.Exec(ctx,
			`UPDATE watermarks SET log_start_offset=$1 WHERE cluster_id=$2 AND topic=$3 AND partition_index=$4`,
			beforeOffset, e.clusterID, t.Topic, t.PartitionIndex,
		); err != nil {
			return 0, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "advancing log start offset")
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM batches WHERE cluster_id=$1 AND topic=$2 AND partition_index=$3 AND last_offset<$4`,
			e.clusterID, t.Topic, t.PartitionIndex, beforeOffset,
		); err != nil {
			return 0, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "reclaiming batches")
		}
		logStart = beforeOffset
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "committing delete-records transaction")
	}
	return logStart, nil
}

// InitProducerId allocates a producer id, or bumps the epoch of an
// existing transactional id. A transaction left Ongoing by the prior
// incarnation of that id is aborted first: an abort control marker is
// written (via Produce, under the prior epoch) into every partition it
// had added, so last_stable_offset is no longer pinned below the high
// watermark for those partitions.
func (e *Engine) InitProducerId(ctx context.Context, transactionalID string, timeoutMs int32) (int64, int16, error) {
	if transactionalID == "" {
		producerID, producerEpoch := e.txn.AllocateProducerID()
		return producerID, producerEpoch, nil
	}

	producerID, producerEpoch, abortPartitions, abortEpoch, err := e.txn.InitProducerId(transactionalID, time.Duration(timeoutMs)*time.Millisecond, time.Now())
	if err != nil {
		return 0, 0, err
	}

	for _, t := range abortPartitions {
		b, err := record.NewBuilder().Transactional().Control().ProducerID(producerID).ProducerEpoch(abortEpoch).
			Records([]record.Record{{OffsetDelta: 0, Key: []byte{0, 0, 0, markerAbort}}}).Build()
		if err != nil {
			return 0, 0, brokererr.Wrap(brokererr.Fatal, brokererr.CodeKafkaStorageError, err, "building discarded-transaction abort marker")
		}
		deflated, err := b.Deflate()
		if err != nil {
			return 0, 0, brokererr.Wrap(brokererr.Fatal, brokererr.CodeKafkaStorageError, err, "deflating discarded-transaction abort marker")
		}
		if _, err := e.Produce(ctx, "", t, deflated); err != nil {
			return 0, 0, err
		}
	}

	return producerID, producerEpoch, nil
}

func (e *Engine) TxnAddPartitions(ctx context.Context, transactionalID string, producerID int64, producerEpoch int16, partitions []topition.Topition) error {
	return e.txn.AddPartitionsToTxn(transactionalID, producerID, producerEpoch, time.Now(), partitions)
}

func (e *Engine) TxnAddOffsets(ctx context.Context, transactionalID string, producerID int64, producerEpoch int16, group string) error {
	return e.txn.AddOffsetsToTxn(transactionalID, producerID, producerEpoch, time.Now(), group)
}

func (e *Engine) TxnOffsetCommit(ctx context.Context, transactionalID string, group string, t topition.Topition, offset int64) error {
	return e.CommitOffset(ctx, group, t, offset)
}

// EndTxn writes a control batch into every added partition via Produce,
// then applies any staged offsets for a commit.
func (e *Engine) EndTxn(ctx context.Context, transactionalID string, producerID int64, producerEpoch int16, commit bool) error {
	partitions, _, marker, err := e.txn.BeginEndTxn(transactionalID, producerID, producerEpoch, time.Now(), commit)
	if err != nil {
		return err
	}

	key := []byte{0, 0, 0, 0}
	if marker == txn.MarkerAbort {
		key[3] = 1
	}
	for _, t := range partitions {
		b, err := record.NewBuilder().Transactional().Control().ProducerID(producerID).ProducerEpoch(producerEpoch).
			Records([]record.Record{{OffsetDelta: 0, Key: key}}).Build()
		if err != nil {
			return brokererr.Wrap(brokererr.Fatal, brokererr.CodeKafkaStorageError, err, "building control batch")
		}
		deflated, err := b.Deflate()
		if err != nil {
			return brokererr.Wrap(brokererr.Fatal, brokererr.CodeKafkaStorageError, err, "deflating control batch")
		}
		if _, err := e.Produce(ctx, "", t, deflated); err != nil {
			return err
		}
	}

	return e.txn.CompleteEndTxn(transactionalID, time.Now())
}

func (e *Engine) CommitOffset(ctx context.Context, group string, t topition.Topition, offset int64) error {
	_, err := e.pool.Exec(ctx,
		`INSERT INTO consumer_offsets (group_id, topic, partition_index, committed_offset)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (group_id, topic, partition_index) DO UPDATE SET committed_offset=EXCLUDED.committed_offset`,
		group, t.Topic, t.PartitionIndex, offset,
	)
	if err != nil {
		return brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "committing offset")
	}
	return nil
}

func (e *Engine) FetchOffset(ctx context.Context, group string, t topition.Topition) (int64, bool, error) {
	var offset int64
	err := e.pool.QueryRow(ctx,
		`SELECT committed_offset FROM consumer_offsets WHERE group_id=$1 AND topic=$2 AND partition_index=$3`,
		group, t.Topic, t.PartitionIndex,
	).Scan(&offset)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "fetching offset")
	}
	return offset, true, nil
}

func (e *Engine) IncrementalAlterConfigs(ctx context.Context, resource storage.AlterConfigsResource) error {
	if err := e.configs.Alter(resource.Resource, resource.Alterations); err != nil {
		return err
	}
	for _, entry := range e.configs.Describe(resource.Resource, false) {
		if _, err := e.pool.Exec(ctx,
			`INSERT INTO configs (resource_type, resource_name, key, value) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (resource_type, resource_name, key) DO UPDATE SET value=EXCLUDED.value`,
			int(resource.Resource.Type), resource.Resource.Name, entry.Name, entry.Value,
		); err != nil {
			return brokererr.Wrap(brokererr.Storage, brokererr.CodeKafkaStorageError, err, "persisting config entry")
		}
	}
	return nil
}

func (e *Engine) DescribeConfigs(ctx context.Context, resources []configstore.Resource, includeSynonyms, includeDocumentation bool) ([]storage.DescribeConfigsResult, error) {
	out := make([]storage.DescribeConfigsResult, 0, len(resources))
	for _, r := range resources {
		out = append(out, storage.DescribeConfigsResult{Resource: r, Entries: e.configs.Describe(r, includeSynonyms)})
	}
	return out, nil
}

var _ storage.StorageEngine = (*Engine)(nil)
