package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RetrievalConfig is the top-level configuration for the retrieval service
// (cmd/retrievald), scoped to the retrieval core's own stores and usecase
// tuning.
type RetrievalConfig struct {
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Graph    GraphConfig    `yaml:"graph"`
	Embedding RetrievalEmbeddingConfig `yaml:"embedding"`
	LLM      RetrievalLLMConfig       `yaml:"llm"`
	Decay    DecayConfig    `yaml:"decay"`
}

// PostgresConfig holds the DSN for the relational and vector stores; each
// store opens its own pgxpool from it.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig holds connection settings for the embedding/relevance caches.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// GraphConfig holds the embedded bbolt graph store's file locations.
type GraphConfig struct {
	Path      string `yaml:"path"`
	QueuePath string `yaml:"queue_path"`
}

// RetrievalEmbeddingConfig selects and tunes the embedding provider and its
// two-level cache.
type RetrievalEmbeddingConfig struct {
	Provider    string        `yaml:"provider"` // "openai", "gemini", "ollama"
	APIKey      string        `yaml:"api_key,omitempty"`
	Model       string        `yaml:"model,omitempty"`
	Dimensions  int           `yaml:"dimensions"`
	LRUSize     int           `yaml:"lru_size"`
	SharedTTL   time.Duration `yaml:"shared_ttl"`
}

// RetrievalLLMConfig configures the optional LLM escalation path memory
// triage uses for ambiguous content.
type RetrievalLLMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key,omitempty"`
	Model    string `yaml:"model,omitempty"`
}

// DecayConfig tunes the decay-maintenance worker's schedule.
type DecayConfig struct {
	Period time.Duration `yaml:"period"` // default 1h
}

// DefaultsRetrieval returns a RetrievalConfig with safe, functional
// defaults pointed at local services the operator is expected to override.
func DefaultsRetrieval() *RetrievalConfig {
	return &RetrievalConfig{
		Logger: LoggerConfig{Level: "info", Format: "text", Output: "stdout"},
		Tracer: TracerConfig{Enabled: false, Exporter: "noop"},
		Postgres: PostgresConfig{
			DSN: "postgres://localhost:5432/retrievald?sslmode=disable",
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Graph: GraphConfig{
			Path:      "./data/graph.db",
			QueuePath: "./data/decay-queue.db",
		},
		Embedding: RetrievalEmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			LRUSize:    1000,
			SharedTTL:  24 * time.Hour,
		},
		Decay: DecayConfig{Period: time.Hour},
	}
}

// LoadRetrieval reads and parses a RetrievalConfig from path, applying env
// overrides afterward. A missing file is not an error: defaults plus env
// overrides are used instead.
func LoadRetrieval(path string) (*RetrievalConfig, error) {
	cfg := DefaultsRetrieval()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyRetrievalEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyRetrievalEnvOverrides(cfg)
	return cfg, nil
}

// ApplyRetrievalEnvOverrides overrides RetrievalConfig fields from
// RETRIEVALD_* environment variables.
func ApplyRetrievalEnvOverrides(cfg *RetrievalConfig) {
	if v := os.Getenv("RETRIEVALD_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("RETRIEVALD_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RETRIEVALD_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("RETRIEVALD_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("RETRIEVALD_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("RETRIEVALD_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("RETRIEVALD_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
}
