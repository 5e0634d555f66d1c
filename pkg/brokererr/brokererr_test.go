package brokererr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCauseAndCode(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := Wrap(Storage, CodeKafkaStorageError, cause, "append to partition")

	require.True(t, Is(err, CodeKafkaStorageError))
	require.False(t, Is(err, CodeOffsetOutOfRange))
	require.ErrorContains(t, err, "connection reset")
}

func TestNewWithoutCause(t *testing.T) {
	err := New(Protocol, CodeInvalidTxnState, "producer not in ongoing transaction")
	require.Equal(t, Protocol, err.Kind)
	require.Equal(t, CodeInvalidTxnState, err.Code)
	require.True(t, Is(err, CodeInvalidTxnState))
}

func TestIsFalseForPlainError(t *testing.T) {
	require.False(t, Is(fmt.Errorf("plain"), CodeInvalidTxnState))
}
