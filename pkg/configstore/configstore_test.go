package configstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeedAndDescribe(t *testing.T) {
	s := NewStore()
	topic := Resource{Type: ResourceTopic, Name: "orders"}
	s.Seed(topic, map[string]string{"retention.ms": "604800000", "cleanup.policy": "delete"})

	entries := s.Describe(topic, false)
	require.Len(t, entries, 2)
	require.Equal(t, "cleanup.policy", entries[0].Name)
	require.Equal(t, SourceDefaultConfig, entries[0].ConfigSource)
}

func TestAlterSetAndDelete(t *testing.T) {
	s := NewStore()
	topic := Resource{Type: ResourceTopic, Name: "orders"}
	s.Seed(topic, map[string]string{"retention.ms": "604800000"})

	err := s.Alter(topic, []Alteration{
		{Op: OpSet, Key: "retention.ms", Value: "3600000"},
		{Op: OpSet, Key: "compression.type", Value: "lz4"},
	})
	require.NoError(t, err)

	entries := s.Describe(topic, false)
	byName := map[string]string{}
	for _, e := range entries {
		byName[e.Name] = e.Value
	}
	require.Equal(t, "3600000", byName["retention.ms"])
	require.Equal(t, "lz4", byName["compression.type"])

	require.NoError(t, s.Alter(topic, []Alteration{{Op: OpDelete, Key: "compression.type"}}))
	_, stillPresent := byNameAfterDelete(s, topic)["compression.type"]
	require.False(t, stillPresent)
}

func byNameAfterDelete(s *Store, r Resource) map[string]string {
	out := map[string]string{}
	for _, e := range s.Describe(r, false) {
		out[e.Name] = e.Value
	}
	return out
}

func TestAlterAppendAndSubtractOnListValue(t *testing.T) {
	s := NewStore()
	broker := Resource{Type: ResourceBroker, Name: "0"}
	s.Seed(broker, map[string]string{"listener.security.protocol.map": "PLAINTEXT"})

	require.NoError(t, s.Alter(broker, []Alteration{{Op: OpAppend, Key: "listener.security.protocol.map", Value: "SSL"}}))
	entries := s.Describe(broker, false)
	require.Equal(t, "PLAINTEXT,SSL", entries[0].Value)

	require.NoError(t, s.Alter(broker, []Alteration{{Op: OpSubtract, Key: "listener.security.protocol.map", Value: "PLAINTEXT"}}))
	entries = s.Describe(broker, false)
	require.Equal(t, "SSL", entries[0].Value)
}

func TestAppendIsIdempotent(t *testing.T) {
	s := NewStore()
	topic := Resource{Type: ResourceTopic, Name: "orders"}
	s.Seed(topic, map[string]string{"k": "a"})

	require.NoError(t, s.Alter(topic, []Alteration{{Op: OpAppend, Key: "k", Value: "a"}}))
	entries := s.Describe(topic, false)
	require.Equal(t, "a", entries[0].Value)
}

func TestSensitiveKeyFlagged(t *testing.T) {
	s := NewStore()
	broker := Resource{Type: ResourceBroker, Name: "0"}
	s.Seed(broker, map[string]string{"password": "secret", "retention.ms": "1"})

	entries := s.Describe(broker, false)
	for _, e := range entries {
		if e.Name == "password" {
			require.True(t, e.IsSensitive)
		} else {
			require.False(t, e.IsSensitive)
		}
	}
}

func TestDropRemovesResource(t *testing.T) {
	s := NewStore()
	topic := Resource{Type: ResourceTopic, Name: "orders"}
	s.Seed(topic, map[string]string{"retention.ms": "1"})
	s.Drop(topic)
	require.Empty(t, s.Describe(topic, false))
}

func TestIncludeSynonyms(t *testing.T) {
	s := NewStore()
	topic := Resource{Type: ResourceTopic, Name: "orders"}
	s.Seed(topic, map[string]string{"retention.ms": "1"})

	entries := s.Describe(topic, true)
	require.Equal(t, []string{"retention.ms"}, entries[0].Synonyms)
}
