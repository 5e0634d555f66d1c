package pg

// schema is the relational layout: one row per batch keyed by (cluster,
// topic, partition), one table for watermarks, one for txn state, one for
// consumer offsets, one for configs, plus two bookkeeping tables —
// ongoing_txn_begins and aborted_ranges — mirroring the in-memory engine's
// per-partition ongoingTxnBegin/aborted tracking so last_stable_offset and
// ReadCommitted fetches observe the same invariants against either
// back-end. Exact DDL is an implementation concern.
const schema = `
CREATE TABLE IF NOT EXISTS batches (
	cluster_id      TEXT NOT NULL,
	topic           TEXT NOT NULL,
	partition_index INTEGER NOT NULL,
	base_offset     BIGINT NOT NULL,
	last_offset     BIGINT NOT NULL,
	producer_id     BIGINT NOT NULL,
	max_timestamp   BIGINT NOT NULL,
	payload         BYTEA NOT NULL,
	PRIMARY KEY (cluster_id, topic, partition_index, base_offset)
);

CREATE TABLE IF NOT EXISTS watermarks (
	cluster_id         TEXT NOT NULL,
	topic              TEXT NOT NULL,
	partition_index    INTEGER NOT NULL,
	log_start_offset   BIGINT NOT NULL,
	high_watermark     BIGINT NOT NULL,
	last_stable_offset BIGINT NOT NULL,
	PRIMARY KEY (cluster_id, topic, partition_index)
);

CREATE TABLE IF NOT EXISTS txn_state (
	transactional_id TEXT PRIMARY KEY,
	producer_id      BIGINT NOT NULL,
	producer_epoch   SMALLINT NOT NULL,
	state            SMALLINT NOT NULL,
	last_update      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS consumer_offsets (
	group_id        TEXT NOT NULL,
	topic           TEXT NOT NULL,
	partition_index INTEGER NOT NULL,
	committed_offset BIGINT NOT NULL,
	metadata        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (group_id, topic, partition_index)
);

CREATE TABLE IF NOT EXISTS configs (
	resource_type INTEGER NOT NULL,
	resource_name TEXT NOT NULL,
	key           TEXT NOT NULL,
	value         TEXT NOT NULL,
	PRIMARY KEY (resource_type, resource_name, key)
);

CREATE TABLE IF NOT EXISTS ongoing_txn_begins (
	cluster_id      TEXT NOT NULL,
	topic           TEXT NOT NULL,
	partition_index INTEGER NOT NULL,
	producer_id     BIGINT NOT NULL,
	begin_offset    BIGINT NOT NULL,
	PRIMARY KEY (cluster_id, topic, partition_index, producer_id)
);

CREATE TABLE IF NOT EXISTS aborted_ranges (
	cluster_id      TEXT NOT NULL,
	topic           TEXT NOT NULL,
	partition_index INTEGER NOT NULL,
	producer_id     BIGINT NOT NULL,
	first_offset    BIGINT NOT NULL,
	marker_offset   BIGINT NOT NULL
);
`
