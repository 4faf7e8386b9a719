package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main SEMFS configuration
type Config struct {
	// Managed root: the directory subtree SEMFS watches and reorganizes
	ManagedRoot string `json:"managed_root" mapstructure:"managed_root"`

	// Data directory (database, PID file, logs)
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Registry database path
	DatabasePath string `json:"database_path" mapstructure:"database_path"`

	// Supported file extensions (lowercase, with leading dot)
	Extensions []string `json:"extensions" mapstructure:"extensions"`

	// Semantic thresholds
	Semantic SemanticConfig `json:"semantic" mapstructure:"semantic"`

	// Event pipeline tuning
	Pipeline PipelineConfig `json:"pipeline" mapstructure:"pipeline"`

	// Embedding provider
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`

	// Metrics endpoint (0 disables)
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Optional cron spec for a periodic full rescan ("" disables)
	RescanSchedule string `json:"rescan_schedule" mapstructure:"rescan_schedule"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// SemanticConfig holds the similarity and clustering thresholds
type SemanticConfig struct {
	// Minimum cosine similarity for a graph edge
	EdgeThreshold float64 `json:"edge_threshold" mapstructure:"edge_threshold"`

	// Minimum similarity for the incremental cluster assignment
	AssignThreshold float64 `json:"assign_threshold" mapstructure:"assign_threshold"`

	// Agglomerative merge cutoff (distance = 1 - similarity)
	DistanceThreshold float64 `json:"distance_threshold" mapstructure:"distance_threshold"`
}

// PipelineConfig holds event pipeline tuning
type PipelineConfig struct {
	// Bounded event queue capacity; oldest events are evicted on overflow
	QueueCapacity int `json:"queue_capacity" mapstructure:"queue_capacity"`

	// File readiness polling
	ReadyRetries int `json:"ready_retries" mapstructure:"ready_retries"`
	ReadyDelayMs int `json:"ready_delay_ms" mapstructure:"ready_delay_ms"`

	// How long a system-initiated move suppresses events for its paths
	SuppressionTTLMs int `json:"suppression_ttl_ms" mapstructure:"suppression_ttl_ms"`

	// Consecutive move-producing rebuild cycles before the breaker trips
	BreakerLimit int `json:"breaker_limit" mapstructure:"breaker_limit"`
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	Provider string `json:"provider" mapstructure:"provider"` // openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Model    string `json:"model" mapstructure:"model"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Port int    `json:"port" mapstructure:"port"`
	Host string `json:"host" mapstructure:"host"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string `json:"level" mapstructure:"level"`
	File     string `json:"file" mapstructure:"file"`
	MaxSize  int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge   int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress bool   `json:"compress" mapstructure:"compress"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Extensions: []string{".txt", ".md", ".pdf"},
		Semantic: SemanticConfig{
			EdgeThreshold:     0.6,
			AssignThreshold:   0.75,
			DistanceThreshold: 0.5,
		},
		Pipeline: PipelineConfig{
			QueueCapacity:    256,
			ReadyRetries:     5,
			ReadyDelayMs:     500,
			SuppressionTTLMs: 5000,
			BreakerLimit:     5,
		},
		Embedding: EmbeddingConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		Metrics: MetricsConfig{
			Port: 0,
			Host: "127.0.0.1",
		},
		Logging: LoggingConfig{
			Level:    "info",
			MaxSize:  50,
			MaxAge:   7,
			Compress: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
