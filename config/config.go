// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/poiesic/lattice/ai"
)

var (
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnsupportedFormat is returned for config files that are neither YAML nor TOML.
	ErrUnsupportedFormat = errors.New("unsupported config format")
)

// Backend names.
const (
	BackendBadger   = "badger"
	BackendSQLite   = "sqlite"
	BackendPgvector = "pgvector"
)

// Environment variables read by ApplyEnv.
const (
	EnvDBPath      = "LATTICE_DB_PATH"
	EnvLLMHost     = "LATTICE_LLM_HOST"
	EnvLLMToken    = "LATTICE_LLM_TOKEN"
	EnvDatabaseURL = "DATABASE_URL"
)

// Duration is a time.Duration written as a string such as "30s" in config files.
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText formats the duration as a string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the complete configuration of a knowledge base.
type Config struct {
	AI         AIConfig         `yaml:"ai" toml:"ai"`
	Chunking   ChunkingConfig   `yaml:"chunking" toml:"chunking"`
	Extraction ExtractionConfig `yaml:"extraction" toml:"extraction"`
	Relations  RelationsConfig  `yaml:"relations" toml:"relations"`
	Dedup      DedupConfig      `yaml:"dedup" toml:"dedup"`
	Search     SearchConfig     `yaml:"search" toml:"search"`
	Jobs       JobsConfig       `yaml:"jobs" toml:"jobs"`
	Storage    StorageConfig    `yaml:"storage" toml:"storage"`
}

// AIConfig lists the LLM providers and how calls to them are governed.
type AIConfig struct {
	Providers         []ProviderConfig `yaml:"providers" toml:"providers"`
	Timeout           Duration         `yaml:"timeout" toml:"timeout"`
	MaxAttempts       int              `yaml:"max_attempts" toml:"max_attempts"`
	RetryBaseDelay    Duration         `yaml:"retry_base_delay" toml:"retry_base_delay"`
	MaxConcurrent     int              `yaml:"max_concurrent" toml:"max_concurrent"`
	RequestsPerSecond float64          `yaml:"requests_per_second" toml:"requests_per_second"`
}

// ProviderConfig describes one provider. Lower Priority is tried first.
// Generation and Embedding restrict the provider to those capabilities;
// when both are false, every capability with a model configured is used.
type ProviderConfig struct {
	Name            string `yaml:"name" toml:"name"`
	Kind            string `yaml:"kind" toml:"kind"`
	Host            string `yaml:"host" toml:"host"`
	Token           string `yaml:"token" toml:"token"`
	GenerationModel string `yaml:"generation_model" toml:"generation_model"`
	EmbeddingModel  string `yaml:"embedding_model" toml:"embedding_model"`
	Priority        int    `yaml:"priority" toml:"priority"`
	Generation      bool   `yaml:"generation" toml:"generation"`
	Embedding       bool   `yaml:"embedding" toml:"embedding"`
}

// AI converts the provider settings to an ai.Config.
func (p ProviderConfig) AI() *ai.Config {
	var caps ai.Capability
	if p.Generation {
		caps |= ai.CapabilityGeneration
	}
	if p.Embedding {
		caps |= ai.CapabilityEmbedding
	}
	return &ai.Config{
		Name:            p.Name,
		Kind:            p.Kind,
		Host:            p.Host,
		Token:           p.Token,
		GenerationModel: p.GenerationModel,
		EmbeddingModel:  p.EmbeddingModel,
		Capabilities:    caps,
	}
}

// ChunkingConfig sets chunk size and overlap in characters.
type ChunkingConfig struct {
	Size    int `yaml:"size" toml:"size"`
	Overlap int `yaml:"overlap" toml:"overlap"`
}

// ExtractionConfig tunes concept extraction.
type ExtractionConfig struct {
	MaxConcepts int      `yaml:"max_concepts" toml:"max_concepts"`
	MinLength   int      `yaml:"min_length" toml:"min_length"`
	MaxLength   int      `yaml:"max_length" toml:"max_length"`
	Domain      string   `yaml:"domain" toml:"domain"`
	Strategies  []string `yaml:"strategies" toml:"strategies"`

	// Dictionaries maps a domain to term → category entries for the rules strategy.
	Dictionaries map[string]map[string]string `yaml:"dictionaries" toml:"dictionaries"`

	// StopWords maps a domain to words that are never concepts in it.
	StopWords map[string][]string `yaml:"stop_words" toml:"stop_words"`
}

// RelationsConfig tunes relationship strength.
type RelationsConfig struct {
	NormalizationConstant float64 `yaml:"normalization_constant" toml:"normalization_constant"`
	LLMWeight             float64 `yaml:"llm_weight" toml:"llm_weight"`
	UseLLM                bool    `yaml:"use_llm" toml:"use_llm"`
	MaxRelationships      int     `yaml:"max_relationships" toml:"max_relationships"`
}

// DedupConfig tunes duplicate detection.
type DedupConfig struct {
	TitleSimilarityThreshold float64 `yaml:"title_similarity_threshold" toml:"title_similarity_threshold"`
	PrefixLength             int     `yaml:"prefix_length" toml:"prefix_length"`
	FailOpen                 bool    `yaml:"fail_open" toml:"fail_open"`
}

// SearchConfig sets retrieval defaults.
type SearchConfig struct {
	MaxGraphHops  int     `yaml:"max_graph_hops" toml:"max_graph_hops"`
	VectorResults int     `yaml:"vector_results" toml:"vector_results"`
	MinSimilarity float64 `yaml:"min_similarity" toml:"min_similarity"`
}

// JobsConfig sets the job runner.
type JobsConfig struct {
	Workers                     int    `yaml:"workers" toml:"workers"`
	MaxConsecutiveStoreFailures int    `yaml:"max_consecutive_store_failures" toml:"max_consecutive_store_failures"`
	Backend                     string `yaml:"backend" toml:"backend"`
}

// StorageConfig locates the stores.
type StorageConfig struct {
	Path          string   `yaml:"path" toml:"path"`
	InMemory      bool     `yaml:"in_memory" toml:"in_memory"`
	Collection    string   `yaml:"collection" toml:"collection"`
	VectorBackend string   `yaml:"vector_backend" toml:"vector_backend"`
	PostgresURL   string   `yaml:"postgres_url" toml:"postgres_url"`
	SQLitePath    string   `yaml:"sqlite_path" toml:"sqlite_path"`
	StoreTimeout  Duration `yaml:"store_timeout" toml:"store_timeout"`
}

// DefaultProvider is the provider used when none is configured: a local
// OpenAI-compatible server.
func DefaultProvider() ProviderConfig {
	d := ai.DefaultConfig()
	return ProviderConfig{
		Name:            "local",
		Kind:            d.Kind,
		Host:            d.Host,
		Token:           d.Token,
		GenerationModel: d.GenerationModel,
		EmbeddingModel:  d.EmbeddingModel,
	}
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		AI: AIConfig{
			Providers:      []ProviderConfig{DefaultProvider()},
			Timeout:        Duration(60 * time.Second),
			MaxAttempts:    3,
			RetryBaseDelay: Duration(500 * time.Millisecond),
			MaxConcurrent:  4,
		},
		Chunking: ChunkingConfig{Size: 1000, Overlap: 200},
		Extraction: ExtractionConfig{
			MaxConcepts: 10,
			MinLength:   2,
			MaxLength:   60,
			Strategies:  []string{"llm", "nlp", "rules"},
		},
		Relations: RelationsConfig{
			NormalizationConstant: 3,
			LLMWeight:             0.5,
			MaxRelationships:      20,
		},
		Dedup:  DedupConfig{TitleSimilarityThreshold: 0.9, PrefixLength: 4},
		Search: SearchConfig{MaxGraphHops: 2, VectorResults: 10},
		Jobs: JobsConfig{
			Workers:                     4,
			MaxConsecutiveStoreFailures: 3,
			Backend:                     BackendBadger,
		},
		Storage: StorageConfig{
			Path:          "lattice.db",
			Collection:    "chunks",
			VectorBackend: BackendBadger,
			StoreTimeout:  Duration(30 * time.Second),
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates. An empty path yields the defaults with overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := cfg.Decode(filepath.Ext(path), data); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode merges a YAML or TOML document, selected by file extension, into c.
func (c *Config) Decode(ext string, data []byte) error {
	providers := c.AI.Providers
	c.AI.Providers = nil

	var err error
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		c.AI.Providers = providers
		return err
	}
	if len(c.AI.Providers) == 0 {
		c.AI.Providers = providers
	}
	return nil
}

// ApplyEnv applies environment overrides read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDBPath); ok && v != "" {
		c.Storage.Path = v
	}
	if v, ok := lookup(EnvDatabaseURL); ok && v != "" {
		c.Storage.PostgresURL = v
	}
	if v, ok := lookup(EnvLLMHost); ok && v != "" {
		for i := range c.AI.Providers {
			c.AI.Providers[i].Host = v
		}
	}
	if v, ok := lookup(EnvLLMToken); ok && v != "" {
		for i := range c.AI.Providers {
			c.AI.Providers[i].Token = v
		}
	}
}

// SQLiteJobsPath returns where the SQLite job store lives.
func (c *Config) SQLiteJobsPath() string {
	switch {
	case c.Storage.SQLitePath != "":
		return c.Storage.SQLitePath
	case c.Storage.InMemory:
		return ":memory:"
	default:
		return filepath.Join(c.Storage.Path, "jobs.sqlite")
	}
}

var knownStrategies = []string{"llm", "nlp", "rules"}

// Validate reports every problem found, joined, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	names := make(map[string]bool)
	for i, p := range c.AI.Providers {
		cfg := p.AI()
		if err := cfg.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("provider %d: %w", i, err))
			continue
		}
		check(!names[cfg.Name], "provider name %q is used twice", cfg.Name)
		names[cfg.Name] = true
	}
	check(c.AI.Timeout > 0, "ai timeout must be positive")
	check(c.AI.MaxAttempts > 0, "ai max_attempts must be positive")
	check(c.AI.RetryBaseDelay >= 0, "ai retry_base_delay must not be negative")
	check(c.AI.MaxConcurrent > 0, "ai max_concurrent must be positive")
	check(c.AI.RequestsPerSecond >= 0, "ai requests_per_second must not be negative")

	check(c.Chunking.Size > 0, "chunking size must be positive")
	check(c.Chunking.Overlap >= 0 && c.Chunking.Overlap < c.Chunking.Size,
		"chunking overlap must be in [0, size)")

	check(c.Extraction.MaxConcepts > 0, "extraction max_concepts must be positive")
	check(c.Extraction.MinLength > 0 && c.Extraction.MinLength <= c.Extraction.MaxLength,
		"extraction lengths must satisfy 0 < min_length <= max_length")
	check(len(c.Extraction.Strategies) > 0, "extraction needs at least one strategy")
	for _, s := range c.Extraction.Strategies {
		check(slices.Contains(knownStrategies, s), "unknown extraction strategy %q", s)
	}

	check(c.Relations.NormalizationConstant > 0, "relations normalization_constant must be positive")
	check(c.Relations.LLMWeight >= 0 && c.Relations.LLMWeight <= 1, "relations llm_weight must be in [0, 1]")
	check(c.Relations.MaxRelationships > 0, "relations max_relationships must be positive")

	check(c.Dedup.TitleSimilarityThreshold > 0 && c.Dedup.TitleSimilarityThreshold <= 1,
		"dedup title_similarity_threshold must be in (0, 1]")
	check(c.Dedup.PrefixLength > 0, "dedup prefix_length must be positive")

	check(c.Search.MaxGraphHops >= 0, "search max_graph_hops must not be negative")
	check(c.Search.VectorResults > 0, "search vector_results must be positive")
	check(c.Search.MinSimilarity >= -1 && c.Search.MinSimilarity <= 1, "search min_similarity must be in [-1, 1]")

	check(c.Jobs.Workers > 0, "jobs workers must be positive")
	check(c.Jobs.MaxConsecutiveStoreFailures > 0, "jobs max_consecutive_store_failures must be positive")
	check(c.Jobs.Backend == BackendBadger || c.Jobs.Backend == BackendSQLite,
		"unknown jobs backend %q", c.Jobs.Backend)

	check(c.Storage.InMemory || c.Storage.Path != "", "storage path is required unless in_memory is set")
	check(c.Storage.Collection != "", "storage collection is required")
	check(c.Storage.StoreTimeout >= 0, "storage store_timeout must not be negative")
	check(c.Storage.VectorBackend == BackendBadger || c.Storage.VectorBackend == BackendPgvector,
		"unknown vector backend %q", c.Storage.VectorBackend)
	check(c.Storage.VectorBackend != BackendPgvector || c.Storage.PostgresURL != "",
		"storage postgres_url is required for the pgvector backend")

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
