package memory

import "github.com/google/uuid"

// topicEntry is a topic's identity plus its partitions, keyed by name in
// Engine.topics and by id in Engine.topicsByID.
type topicEntry struct {
	id         uuid.UUID
	name       string
	partitions []*partition
}
