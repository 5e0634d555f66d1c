// Package topition defines the (topic, partition_index) coordinate shared
// by the storage engine, the transaction coordinator, and the consumer
// group coordinator, so that none of those packages need to import one
// another just to name a partition.
package topition

import "fmt"

// Topition identifies a single partition of a single topic.
type Topition struct {
	Topic          string
	PartitionIndex int32
}

func (t Topition) String() string {
	return fmt.Sprintf("%s-%d", t.Topic, t.PartitionIndex)
}
