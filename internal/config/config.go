package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the resolution engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backends  BackendsConfig  `yaml:"backends"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Logging   LoggingConfig   `yaml:"logging"`
	Cache     CacheConfig     `yaml:"cache"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// BackendsConfig groups the AI capability endpoints.
type BackendsConfig struct {
	Text      TextBackendConfig      `yaml:"text"`
	Embedding EmbeddingBackendConfig `yaml:"embedding"`
}

// TextBackendConfig configures the text-understanding/generation backend.
type TextBackendConfig struct {
	BaseURL    string        `yaml:"baseURL"`
	APIKey     string        `yaml:"apiKey"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
}

// EmbeddingBackendConfig configures the embedding backend.
type EmbeddingBackendConfig struct {
	BaseURL    string        `yaml:"baseURL"`
	APIKey     string        `yaml:"apiKey"`
	Model      string        `yaml:"model"`
	Dimension  int           `yaml:"dimension"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
}

// RetrievalConfig controls similarity search behaviour.
type RetrievalConfig struct {
	TopK          int     `yaml:"topK"`
	MinSimilarity float64 `yaml:"minSimilarity"`
}

// PipelineConfig bounds pipeline runs and their stages.
type PipelineConfig struct {
	Version         string        `yaml:"version"`
	Workers         int           `yaml:"workers"`
	QueueDepth      int           `yaml:"queueDepth"`
	OverallDeadline time.Duration `yaml:"overallDeadline"`
	AnalysisBudget  time.Duration `yaml:"analysisBudget"`
	EmbeddingBudget time.Duration `yaml:"embeddingBudget"`
	SynthesisBudget time.Duration `yaml:"synthesisBudget"`
	ReportRetention int           `yaml:"reportRetention"`
}

// CorpusConfig controls corpus seeding and retention of indexed history.
type CorpusConfig struct {
	SeedPath      string        `yaml:"seedPath"`
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls Redis-backed caching of embedding lookups.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_RESOLVE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Backends: BackendsConfig{
			Text: TextBackendConfig{
				Model:      "claude-3-sonnet",
				Timeout:    2 * time.Second,
				MaxRetries: 2,
			},
			Embedding: EmbeddingBackendConfig{
				Model:      "titan-embed-text-v1",
				Dimension:  1536,
				Timeout:    500 * time.Millisecond,
				MaxRetries: 2,
			},
		},
		Retrieval: RetrievalConfig{
			TopK:          5,
			MinSimilarity: 0.75,
		},
		Pipeline: PipelineConfig{
			Version:         "phase1-pilot",
			Workers:         4,
			QueueDepth:      16,
			OverallDeadline: 3 * time.Second,
			AnalysisBudget:  1 * time.Second,
			EmbeddingBudget: 500 * time.Millisecond,
			SynthesisBudget: 2 * time.Second,
			ReportRetention: 1024,
		},
		Corpus: CorpusConfig{
			Retention:     90 * 24 * time.Hour,
			SweepInterval: time.Hour,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache:   CacheConfig{Enabled: false},
	}
}

func validate(cfg *Config) error {
	if cfg.Backends.Embedding.Dimension <= 0 {
		return fmt.Errorf("backends.embedding.dimension must be positive")
	}
	if cfg.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.topK must be positive")
	}
	if cfg.Retrieval.MinSimilarity < 0 || cfg.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("retrieval.minSimilarity must be within [0,1]")
	}
	if cfg.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive")
	}
	if cfg.Pipeline.QueueDepth < 0 {
		return fmt.Errorf("pipeline.queueDepth cannot be negative")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_RESOLVE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_RESOLVE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_RESOLVE_TEXT_BASE_URL"); v != "" {
		cfg.Backends.Text.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_RESOLVE_TEXT_API_KEY"); v != "" {
		cfg.Backends.Text.APIKey = v
	}
	if v := os.Getenv("MIRADOR_RESOLVE_TEXT_MODEL"); v != "" {
		cfg.Backends.Text.Model = v
	}
	if v := os.Getenv("MIRADOR_RESOLVE_EMBEDDING_BASE_URL"); v != "" {
		cfg.Backends.Embedding.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_RESOLVE_EMBEDDING_API_KEY"); v != "" {
		cfg.Backends.Embedding.APIKey = v
	}
	if v := os.Getenv("MIRADOR_RESOLVE_EMBEDDING_MODEL"); v != "" {
		cfg.Backends.Embedding.Model = v
	}
	if v := os.Getenv("MIRADOR_RESOLVE_EMBEDDING_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backends.Embedding.Dimension = n
		}
	}
	if v := os.Getenv("MIRADOR_RESOLVE_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retrieval.TopK = n
		}
	}
	if v := os.Getenv("MIRADOR_RESOLVE_MIN_SIMILARITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Retrieval.MinSimilarity = f
		}
	}
	if v := os.Getenv("MIRADOR_RESOLVE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.Workers = n
		}
	}
	if v := os.Getenv("MIRADOR_RESOLVE_QUEUE_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.QueueDepth = n
		}
	}
	if v := os.Getenv("MIRADOR_RESOLVE_OVERALL_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.OverallDeadline = d
		}
	}
	if v := os.Getenv("MIRADOR_RESOLVE_SEED_PATH"); v != "" {
		cfg.Corpus.SeedPath = v
	}
	if v := os.Getenv("MIRADOR_RESOLVE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_RESOLVE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_RESOLVE_CACHE_URL"); v != "" {
		cfg.Cache.URL = v
	}
	if v := os.Getenv("MIRADOR_RESOLVE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
}
