// Package config loads engine configuration from a YAML file with
// environment-variable overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/diligentiq/engine/internal/batching"
	"github.com/diligentiq/engine/internal/docstore"
)

// Config is the full engine configuration
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Storage   StorageConfig    `yaml:"storage"`
	AI        AIConfig         `yaml:"ai"`
	Docstore  *docstore.Config `yaml:"docstore,omitempty"`
	Batching  *batching.Config `yaml:"batching,omitempty"`
	Pipeline  PipelineConfig   `yaml:"pipeline"`
	Dedup     DedupConfig      `yaml:"dedup"`
	LogLevel  string           `yaml:"log_level"`
	LogFormat string           `yaml:"log_format"` // text or json
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Mode gates mutation: "full" accepts processing requests,
	// "read_only" serves queries but rejects starts with 403.
	Mode string `yaml:"mode"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds database settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// AIConfig holds model gateway and embedding settings
type AIConfig struct {
	MaxConcurrentCalls int           `yaml:"max_concurrent_calls"`
	MaxRetries         int           `yaml:"max_retries"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	EmbeddingURL       string        `yaml:"embedding_url"`
	EmbeddingModel     string        `yaml:"embedding_model"`
}

// PipelineConfig holds orchestrator settings
type PipelineConfig struct {
	Workers          int           `yaml:"workers"`
	PauseWait        time.Duration `yaml:"pause_wait"`
	ValidationWait   time.Duration `yaml:"validation_wait"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	MaxItemRetries   int           `yaml:"max_item_retries"`
	GraphCommitEvery int           `yaml:"graph_commit_every"`
	EnableGraph      bool          `yaml:"enable_graph"`
	EnableEnrichment bool          `yaml:"enable_enrichment"`
	ValidationGate   bool          `yaml:"validation_gate"`
}

// DedupConfig holds deduplication settings
type DedupConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Mode: "full",
		},
		Storage: StorageConfig{
			Path: ".diligence/engine.db",
		},
		AI: AIConfig{
			MaxConcurrentCalls: 8,
			MaxRetries:         3,
			RequestTimeout:     120 * time.Second,
			EmbeddingURL:       "http://localhost:11434",
			EmbeddingModel:     "nomic-embed-text",
		},
		Batching: batching.DefaultConfig(),
		Pipeline: PipelineConfig{
			Workers:          8,
			PauseWait:        time.Hour,
			ValidationWait:   2 * time.Hour,
			PollInterval:     15 * time.Second,
			MaxItemRetries:   3,
			GraphCommitEvery: 10,
			EnableGraph:      true,
			EnableEnrichment: true,
		},
		Dedup: DedupConfig{
			SimilarityThreshold: 0.82,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads the config file at path, merged over defaults, then applies
// environment overrides. An empty path loads defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides deployment-sensitive values from DILIGENCE_* vars
func applyEnv(cfg *Config) {
	if v := os.Getenv("DILIGENCE_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("DILIGENCE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DILIGENCE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DILIGENCE_EMBEDDING_URL"); v != "" {
		cfg.AI.EmbeddingURL = v
	}
	if v := os.Getenv("DILIGENCE_EMBEDDING_MODEL"); v != "" {
		cfg.AI.EmbeddingModel = v
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Mode != "" && c.Server.Mode != "full" && c.Server.Mode != "read_only" {
		return fmt.Errorf("invalid server mode: %q", c.Server.Mode)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}
	if c.AI.MaxConcurrentCalls <= 0 {
		return fmt.Errorf("max_concurrent_calls must be positive (got %d)", c.AI.MaxConcurrentCalls)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline workers must be positive (got %d)", c.Pipeline.Workers)
	}
	if c.Dedup.SimilarityThreshold <= 0 || c.Dedup.SimilarityThreshold >= 1 {
		return fmt.Errorf("similarity_threshold must be in (0, 1) (got %g)", c.Dedup.SimilarityThreshold)
	}
	if c.Batching != nil {
		if err := c.Batching.Validate(); err != nil {
			return err
		}
	}
	return nil
}
