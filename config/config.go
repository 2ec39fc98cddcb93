// Package config loads the daemon configuration from a YAML file
// with environment-variable overrides.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/tesumi/memolette/fact"
	"github.com/tesumi/memolette/retrieval"
)

// Duration accepts YAML durations in time.ParseDuration form ("5s",
// "1h30m") as well as raw nanosecond integers.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %q", raw)
	}
	*d = Duration(nanos)
	return nil
}

// Std returns the wrapped standard duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all daemon configuration.
type Config struct {
	Server    ServerConfig          `yaml:"server"`
	Store     StoreConfig           `yaml:"store"`
	Embedder  EmbedderConfig        `yaml:"embedder"`
	Extractor ExtractorConfig       `yaml:"extractor"`
	Attrs     fact.AttributesConfig `yaml:"attributes"`
	Retrieval RetrievalConfig       `yaml:"retrieval"`
	Assembler AssemblerConfig       `yaml:"assembler"`
	LogLevel  string                `yaml:"log_level" validate:"oneof=debug info warn error"`
}

type ServerConfig struct {
	Address         string   `yaml:"address" validate:"required"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// RetrievalConfig mirrors retrieval.Config with YAML-friendly types.
type RetrievalConfig struct {
	RelevanceWeight float64  `yaml:"relevance_weight" validate:"gte=0,lte=1"`
	RecencyWeight   float64  `yaml:"recency_weight" validate:"gte=0,lte=1"`
	RecencyHalfLife Duration `yaml:"recency_half_life"`
	OverfetchFactor int      `yaml:"overfetch_factor" validate:"gte=0"`
}

// Engine converts to the retrieval package's config.
func (r RetrievalConfig) Engine() retrieval.Config {
	return retrieval.Config{
		RelevanceWeight: r.RelevanceWeight,
		RecencyWeight:   r.RecencyWeight,
		RecencyHalfLife: r.RecencyHalfLife.Std(),
		OverfetchFactor: r.OverfetchFactor,
	}
}

type StoreConfig struct {
	Backend string `yaml:"backend" validate:"oneof=memory sqlite"`
	Path    string `yaml:"path" validate:"required_if=Backend sqlite"`
}

type EmbedderConfig struct {
	Backend string `yaml:"backend" validate:"oneof=openai mock onnx"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// CacheEntries bounds the embedding cache. Zero disables it.
	CacheEntries int64 `yaml:"cache_entries"`

	// Breaker enables the circuit breaker around the backend.
	Breaker bool `yaml:"breaker"`

	// ONNX-only fields.
	ModelPath         string `yaml:"model_path"`
	TokenizerPath     string `yaml:"tokenizer_path"`
	SharedLibraryPath string `yaml:"shared_library_path"`
	Dimensions        int    `yaml:"dimensions"`
}

type ExtractorConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type AssemblerConfig struct {
	// DefaultBudget is used when a request carries no budget.
	DefaultBudget int `yaml:"default_budget" validate:"gt=0"`

	// TurnLimit caps how many recent turns a query considers.
	TurnLimit int `yaml:"turn_limit" validate:"gt=0"`
}

// Default returns a runnable development configuration: in-memory
// store, mock embedder, permissive attributes.
func Default() *Config {
	def := retrieval.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Store:    StoreConfig{Backend: "memory"},
		Embedder: EmbedderConfig{Backend: "mock", CacheEntries: 4096},
		Attrs: fact.AttributesConfig{
			Exclusive:       []string{"location", "employer", "age"},
			AllowUndeclared: true,
		},
		Retrieval: RetrievalConfig{
			RelevanceWeight: def.RelevanceWeight,
			RecencyWeight:   def.RecencyWeight,
			RecencyHalfLife: Duration(def.RecencyHalfLife),
			OverfetchFactor: def.OverfetchFactor,
		},
		Assembler: AssemblerConfig{
			DefaultBudget: 2000,
			TurnLimit:     20,
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path (if non-empty), applies
// environment overrides, then validates. Missing file fields keep
// their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if sum := cfg.Retrieval.RelevanceWeight + cfg.Retrieval.RecencyWeight; math.Abs(sum-1) > 1e-9 {
		return nil, fmt.Errorf("retrieval weights must sum to 1, got %v", sum)
	}
	return cfg, nil
}

// applyEnv lets deployment environments override the file without
// editing it. Secrets in particular arrive this way.
func (c *Config) applyEnv() {
	c.Server.Address = getEnv("MEMOLETTE_ADDR", c.Server.Address)
	c.Store.Backend = getEnv("MEMOLETTE_STORE", c.Store.Backend)
	c.Store.Path = getEnv("MEMOLETTE_STORE_PATH", c.Store.Path)
	c.Embedder.Backend = getEnv("MEMOLETTE_EMBEDDER", c.Embedder.Backend)
	c.Embedder.APIKey = getEnv("OPENAI_API_KEY", c.Embedder.APIKey)
	c.Embedder.Model = getEnv("MEMOLETTE_EMBED_MODEL", c.Embedder.Model)
	c.Extractor.APIKey = getEnv("ANTHROPIC_API_KEY", c.Extractor.APIKey)
	c.Extractor.Model = getEnv("MEMOLETTE_EXTRACT_MODEL", c.Extractor.Model)
	c.LogLevel = getEnv("MEMOLETTE_LOG_LEVEL", c.LogLevel)

	if v := os.Getenv("MEMOLETTE_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Assembler.DefaultBudget = n
		}
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
