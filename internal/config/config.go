// Package config loads and validates the recall configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/harun/recall/internal/logger"
	"github.com/harun/recall/pkg/memory"
	"github.com/harun/recall/pkg/search"
)

// Layer backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendVector = "vector"
)

// Embedding providers.
const (
	EmbedderHash   = "hash"
	EmbedderOpenAI = "openai"
)

// Config represents the main recall configuration
type Config struct {
	// Data directory for SQLite databases and logs
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Logging
	Logging logger.Config `json:"logging" mapstructure:"logging"`

	// Audit log of memory mutations and config reloads; empty disables it
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`

	// Memory layers
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`

	// Hybrid search settings
	Search search.Config `json:"search" mapstructure:"search"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Metrics
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
}

// MemoryConfig describes the tier hierarchy and the layers outside it.
type MemoryConfig struct {
	Hierarchy []LayerConfig   `json:"hierarchy" mapstructure:"hierarchy"`
	Extra     []LayerConfig   `json:"extra" mapstructure:"extra"`
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`
}

// LayerConfig configures one memory layer.
type LayerConfig struct {
	Name    string `json:"name" mapstructure:"name"`
	Backend string `json:"backend" mapstructure:"backend"` // memory, redis, sqlite, vector

	// Path is the SQLite database file for sqlite and vector backends,
	// relative paths resolve against DataDir.
	Path string `json:"path,omitempty" mapstructure:"path"`

	// URL and Namespace configure the redis backend.
	URL       string `json:"url,omitempty" mapstructure:"url"`
	Namespace string `json:"namespace,omitempty" mapstructure:"namespace"`

	// PurgeSchedule is the cron spec for removing expired sqlite rows.
	PurgeSchedule string `json:"purge_schedule,omitempty" mapstructure:"purge_schedule"`
}

// EmbeddingConfig selects the embedder used by vector layers.
type EmbeddingConfig struct {
	Provider  string `json:"provider" mapstructure:"provider"` // hash, openai
	Model     string `json:"model,omitempty" mapstructure:"model"`
	APIKey    string `json:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL   string `json:"base_url,omitempty" mapstructure:"base_url"`
	Dimension int    `json:"dimension,omitempty" mapstructure:"dimension"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// MetricsConfig holds the Prometheus endpoint settings used by "recall watch".
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	logging := logger.DefaultConfig()
	logging.Console = false

	return &Config{
		Logging: logging,
		Memory: MemoryConfig{
			Hierarchy: []LayerConfig{
				{Name: memory.ShortTerm, Backend: BackendMemory},
				{Name: memory.MidTerm, Backend: BackendSQLite, Path: "memory.db"},
				{Name: memory.LongTerm, Backend: BackendSQLite, Path: "memory.db"},
			},
			Extra: []LayerConfig{
				{Name: memory.SemanticLayer, Backend: BackendVector, Path: "vectors.db"},
			},
			Embedding: EmbeddingConfig{
				Provider:  EmbedderHash,
				Dimension: 256,
			},
		},
		Search: search.DefaultConfig(),
		Tracing: TracingConfig{
			ServiceName: "recall",
			SampleRatio: 1.0,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
	}
}

// Validate checks the semantic rules the JSON schema cannot express.
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}

// Layers returns hierarchy and extra layers in declaration order.
func (c *Config) Layers() []LayerConfig {
	out := make([]LayerConfig, 0, len(c.Memory.Hierarchy)+len(c.Memory.Extra))
	out = append(out, c.Memory.Hierarchy...)
	return append(out, c.Memory.Extra...)
}

// ToJSON converts config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// FromJSON creates config from JSON
func FromJSON(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return cfg, nil
}
