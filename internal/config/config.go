// Package config loads the broker's root configuration: a YAML document,
// `${NAME}`-expanded against the process environment before being parsed,
// matching the two-stage "expand then parse" loader cmd/tempo's own
// loadConfig uses (github.com/drone/envsubst there; this loader's
// substitution needs only plain `${NAME}` expansion, which os.Expand
// already does, so no extra dependency is pulled in for it — see
// DESIGN.md).
package config

import (
	"os"

	"gopkg.in/yaml.v2"

	"github.com/streamkeep/broker/internal/logging"
)

// ServerConfig controls the broker's network identity.
type ServerConfig struct {
	BrokerID           int32  `yaml:"broker_id"`
	ClusterID          string `yaml:"cluster_id"`
	ListenAddr         string `yaml:"listen_addr"`
	AdvertisedListener string `yaml:"advertised_listener"`
}

// StorageConfig selects and configures the storage back-end.
type StorageConfig struct {
	Backend  string   `yaml:"backend"` // "memory" or "postgres"
	Postgres PGConfig `yaml:"postgres"`
}

// PGConfig configures the durable pg.Engine.
type PGConfig struct {
	DSN string `yaml:"dsn"`
}

// TransactionConfig configures the transaction coordinator's defaults.
type TransactionConfig struct {
	DefaultTimeoutMs int32 `yaml:"default_timeout_ms"`
}

// GroupConfig configures the consumer-group coordinator's defaults.
type GroupConfig struct {
	MinSessionTimeoutMs int32 `yaml:"min_session_timeout_ms"`
	MaxSessionTimeoutMs int32 `yaml:"max_session_timeout_ms"`
}

// DefaultTopicConfig holds the per-topic config defaults read from the
// default_topic block, mirroring friggdb's per-component defaulted config
// blocks. The storage engines' CreateTopic does not apply them: a new
// topic's config entries are exactly the Configs its CreatableTopic carries.
type DefaultTopicConfig struct {
	RetentionMs     string `yaml:"retention.ms"`
	CleanupPolicy   string `yaml:"cleanup.policy"`
	MaxMessageBytes string `yaml:"max.message.bytes"`
}

// Config is the root configuration tree, one struct per component composed
// together, in the shape friggdb.Config/walConfig/compactorConfig use.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Storage      StorageConfig      `yaml:"storage"`
	Transaction  TransactionConfig  `yaml:"transaction"`
	Group        GroupConfig        `yaml:"group"`
	DefaultTopic DefaultTopicConfig `yaml:"default_topic"`
	LogLevel     string             `yaml:"log_level"`
}

// Default returns the configuration a broker would run with if no file is
// supplied: single-node, in-memory storage, on the conventional Kafka port.
func Default() Config {
	return Config{
		Server: ServerConfig{
			BrokerID:           0,
			ClusterID:          "streamkeep-cluster",
			ListenAddr:         ":9092",
			AdvertisedListener: "localhost:9092",
		},
		Storage: StorageConfig{Backend: "memory"},
		Transaction: TransactionConfig{
			DefaultTimeoutMs: 60_000,
		},
		Group: GroupConfig{
			MinSessionTimeoutMs: 6_000,
			MaxSessionTimeoutMs: 300_000,
		},
		DefaultTopic: DefaultTopicConfig{
			RetentionMs:     "604800000",
			CleanupPolicy:   "delete",
			MaxMessageBytes: "1048576",
		},
		LogLevel: "info",
	}
}

// Load reads path, expands `${NAME}` references against the process
// environment, and unmarshals strictly (unknown fields are an error, same
// as cmd/tempo's yaml.UnmarshalStrict) into a Config seeded with Default's
// values.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	expanded := os.Expand(string(raw), func(name string) string {
		return os.Getenv(name)
	})

	if err := yaml.UnmarshalStrict([]byte(expanded), &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LevelFilter returns the go-kit/log level matching cfg.LogLevel, defaulting
// to info for an unrecognized value.
func (c Config) LevelFilter() logging.Level {
	switch c.LogLevel {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// Map converts DefaultTopic into a key/value map in the shape
// configstore.Seed takes.
func (c DefaultTopicConfig) Map() map[string]string {
	return map[string]string{
		"retention.ms":     c.RetentionMs,
		"cleanup.policy":    c.CleanupPolicy,
		"max.message.bytes": c.MaxMessageBytes,
	}
}
