// Package brokererr defines the error-kind taxonomy the storage,
// transaction and consumer-group operations return: Codec, Protocol,
// Storage, Timeout, Fatal. The lower-level protocol and record codecs
// return their own sentinel and wrapped errors instead. A wire layer outside this module's scope is
// responsible for mapping a Kind/Code pair to a Kafka ErrorCode.
package brokererr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error for the purpose of retry policy and logging
// severity, independent of the specific wire-protocol code it maps to.
type Kind int8

const (
	// Codec covers malformed bytes, CRC mismatches, unknown magic bytes.
	// Never retried at the broker level.
	Codec Kind = iota
	// Protocol covers semantically invalid requests: wrong state, stale
	// epoch, illegal generation.
	Protocol
	// Storage covers backend I/O failure. Retried up to a budget by the
	// caller before being surfaced.
	Storage
	// Timeout covers an internal deadline exceeded.
	Timeout
	// Fatal covers invariant violations that should abort the connection.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Codec:
		return "codec"
	case Protocol:
		return "protocol"
	case Storage:
		return "storage"
	case Timeout:
		return "timeout"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int8(k))
	}
}

// Code is a stable, wire-adjacent identifier a future protocol layer can
// map onto a Kafka ErrorCode. Codes are strings rather than the wire's
// integer values because this module never encodes them onto the wire
// itself; the wire layer is treated as an external collaborator.
type Code string

const (
	CodeUnknownTopicOrPartition Code = "UNKNOWN_TOPIC_OR_PARTITION"
	CodeTopicAlreadyExists      Code = "TOPIC_ALREADY_EXISTS"
	CodeInvalidReplicationFactor Code = "INVALID_REPLICATION_FACTOR"
	CodeOffsetOutOfRange        Code = "OFFSET_OUT_OF_RANGE"
	CodeCorruptMessage          Code = "CORRUPT_MESSAGE"
	CodeInvalidProducerEpoch    Code = "INVALID_PRODUCER_EPOCH"
	CodeOutOfOrderSequence      Code = "OUT_OF_ORDER_SEQUENCE_NUMBER"
	CodeInvalidTxnState         Code = "INVALID_TXN_STATE"
	CodeProducerFenced          Code = "PRODUCER_FENCED"
	CodeIllegalGeneration       Code = "ILLEGAL_GENERATION"
	CodeUnknownMemberID         Code = "UNKNOWN_MEMBER_ID"
	CodeRebalanceInProgress     Code = "REBALANCE_IN_PROGRESS"
	CodeKafkaStorageError       Code = "KAFKA_STORAGE_ERROR"
	CodeRequestTimedOut         Code = "REQUEST_TIMED_OUT"
)

// Error is the concrete error type the storage, transaction and
// consumer-group operations return.
type Error struct {
	Kind Kind
	Code Code
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Code, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// New builds an Error with no wrapped cause.
func New(kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, err: errors.New(msg)}
}

// Wrap attaches kind/code to an underlying cause, preserving its stack
// via pkg/errors at the subsystem boundary that first observed it.
func Wrap(kind Kind, code Code, cause error, msg string) *Error {
	return &Error{Kind: kind, Code: code, err: errors.Wrap(cause, msg)}
}

// Is reports whether err is a brokererr.Error carrying the given code.
func Is(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
