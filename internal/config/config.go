package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete MegaBrain search-orchestration
// configuration. It mirrors the configuration keys table in Section 6 of the
// specification.
type Config struct {
	Version int          `yaml:"version" json:"version"`
	Boost   BoostConfig  `yaml:"boost" json:"boost"`
	Merge   MergeConfig  `yaml:"merge" json:"merge"`
	Vector  VectorConfig `yaml:"vector" json:"vector"`
	Search  SearchConfig `yaml:"search" json:"search"`
	Batch   BatchConfig  `yaml:"batch" json:"batch"`
	Server  ServerConfig `yaml:"server" json:"server"`
}

// BoostConfig configures per-field keyword index boosts (spec keys
// boost.entity_name, boost.doc_summary, boost.content, boost.signature).
type BoostConfig struct {
	EntityName float64 `yaml:"entity_name" json:"entity_name"`
	DocSummary float64 `yaml:"doc_summary" json:"doc_summary"`
	Content    float64 `yaml:"content" json:"content"`
	Signature  float64 `yaml:"signature" json:"signature"`
}

// MergeConfig configures the ResultMerger's per-source weights (spec keys
// merge.weight.keyword/vector/graph).
type MergeConfig struct {
	WeightKeyword float64 `yaml:"weight_keyword" json:"weight_keyword"`
	WeightVector  float64 `yaml:"weight_vector" json:"weight_vector"`
	WeightGraph   float64 `yaml:"weight_graph" json:"weight_graph"`
}

// VectorConfig configures the VectorIndex (spec keys vector.threshold,
// vector.dim).
type VectorConfig struct {
	Threshold float64 `yaml:"threshold" json:"threshold"`
	Dim       int     `yaml:"dim" json:"dim"`
}

// SearchConfig configures SearchOrchestrator fan-out behavior (spec keys
// search.overscan_factor, search.default_depth, search.max_depth,
// search.deadline.*). The three deadline keys hold Go duration strings
// such as "2s" or "1500ms" despite their _ms suffix; a bare integer is not
// accepted by the YAML decoder.
type SearchConfig struct {
	OverscanFactor int           `yaml:"overscan_factor" json:"overscan_factor"`
	DefaultDepth   int           `yaml:"default_depth" json:"default_depth"`
	MaxDepth       int           `yaml:"max_depth" json:"max_depth"`
	KeywordDeadline time.Duration `yaml:"keyword_deadline_ms" json:"keyword_deadline_ms"`
	VectorDeadline  time.Duration `yaml:"vector_deadline_ms" json:"vector_deadline_ms"`
	GraphDeadline   time.Duration `yaml:"graph_deadline_ms" json:"graph_deadline_ms"`
}

// BatchConfig configures the ingestion coordinator's commit batching (spec
// key batch.size).
type BatchConfig struct {
	Size int `yaml:"size" json:"size"`
}

// ServerConfig configures ambient logging/transport concerns that sit around
// the core search orchestration subsystem.
type ServerConfig struct {
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// NewConfig creates a new Config with the spec's documented defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Boost: BoostConfig{
			EntityName: 4.0,
			DocSummary: 2.0,
			Content:    1.0,
			Signature:  1.5,
		},
		Merge: MergeConfig{
			WeightKeyword: 1.0,
			WeightVector:  0.8,
			WeightGraph:   0.5,
		},
		Vector: VectorConfig{
			Threshold: 0.2,
			Dim:       768,
		},
		Search: SearchConfig{
			OverscanFactor:  3,
			DefaultDepth:    2,
			MaxDepth:        5,
			KeywordDeadline: 2 * time.Second,
			VectorDeadline:  2 * time.Second,
			GraphDeadline:   3 * time.Second,
		},
		Batch: BatchConfig{
			Size: 1000,
		},
		Server: ServerConfig{
			LogLevel: "info",
		},
	}
}

// Load loads configuration from the specified directory, applying
// configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. Project config (.megabrain.yaml in project root)
//  3. Environment variables (MEGABRAIN_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .megabrain.yaml or
// .megabrain.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".megabrain.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".megabrain.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Boost.EntityName != 0 {
		c.Boost.EntityName = other.Boost.EntityName
	}
	if other.Boost.DocSummary != 0 {
		c.Boost.DocSummary = other.Boost.DocSummary
	}
	if other.Boost.Content != 0 {
		c.Boost.Content = other.Boost.Content
	}
	if other.Boost.Signature != 0 {
		c.Boost.Signature = other.Boost.Signature
	}

	if other.Merge.WeightKeyword != 0 {
		c.Merge.WeightKeyword = other.Merge.WeightKeyword
	}
	if other.Merge.WeightVector != 0 {
		c.Merge.WeightVector = other.Merge.WeightVector
	}
	if other.Merge.WeightGraph != 0 {
		c.Merge.WeightGraph = other.Merge.WeightGraph
	}

	if other.Vector.Threshold != 0 {
		c.Vector.Threshold = other.Vector.Threshold
	}
	if other.Vector.Dim != 0 {
		c.Vector.Dim = other.Vector.Dim
	}

	if other.Search.OverscanFactor != 0 {
		c.Search.OverscanFactor = other.Search.OverscanFactor
	}
	if other.Search.DefaultDepth != 0 {
		c.Search.DefaultDepth = other.Search.DefaultDepth
	}
	if other.Search.MaxDepth != 0 {
		c.Search.MaxDepth = other.Search.MaxDepth
	}
	if other.Search.KeywordDeadline != 0 {
		c.Search.KeywordDeadline = other.Search.KeywordDeadline
	}
	if other.Search.VectorDeadline != 0 {
		c.Search.VectorDeadline = other.Search.VectorDeadline
	}
	if other.Search.GraphDeadline != 0 {
		c.Search.GraphDeadline = other.Search.GraphDeadline
	}

	if other.Batch.Size != 0 {
		c.Batch.Size = other.Batch.Size
	}

	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies MEGABRAIN_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MEGABRAIN_MERGE_WEIGHT_KEYWORD"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 {
			c.Merge.WeightKeyword = w
		}
	}
	if v := os.Getenv("MEGABRAIN_MERGE_WEIGHT_VECTOR"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 {
			c.Merge.WeightVector = w
		}
	}
	if v := os.Getenv("MEGABRAIN_MERGE_WEIGHT_GRAPH"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 {
			c.Merge.WeightGraph = w
		}
	}
	if v := os.Getenv("MEGABRAIN_VECTOR_THRESHOLD"); v != "" {
		if t, err := parseFloat64(v); err == nil && t >= 0 && t <= 1 {
			c.Vector.Threshold = t
		}
	}
	if v := os.Getenv("MEGABRAIN_SEARCH_OVERSCAN_FACTOR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.OverscanFactor = n
		}
	}
	if v := os.Getenv("MEGABRAIN_SEARCH_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.MaxDepth = n
		}
	}
	if v := os.Getenv("MEGABRAIN_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Merge.WeightKeyword < 0 || c.Merge.WeightVector < 0 || c.Merge.WeightGraph < 0 {
		return fmt.Errorf("merge weights must be non-negative: keyword=%.2f vector=%.2f graph=%.2f",
			c.Merge.WeightKeyword, c.Merge.WeightVector, c.Merge.WeightGraph)
	}

	if c.Vector.Threshold < 0 || c.Vector.Threshold > 1 {
		return fmt.Errorf("vector.threshold must be between 0 and 1, got %f", c.Vector.Threshold)
	}
	if c.Vector.Dim < 0 {
		return fmt.Errorf("vector.dim must be non-negative, got %d", c.Vector.Dim)
	}

	if c.Search.OverscanFactor < 1 {
		return fmt.Errorf("search.overscan_factor must be >= 1, got %d", c.Search.OverscanFactor)
	}
	if c.Search.DefaultDepth < 1 {
		return fmt.Errorf("search.default_depth must be >= 1, got %d", c.Search.DefaultDepth)
	}
	if c.Search.MaxDepth < c.Search.DefaultDepth {
		return fmt.Errorf("search.max_depth (%d) must be >= search.default_depth (%d)",
			c.Search.MaxDepth, c.Search.DefaultDepth)
	}

	if c.Batch.Size < 1 {
		return fmt.Errorf("batch.size must be >= 1, got %d", c.Batch.Size)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	if !math.IsNaN(c.Vector.Threshold) && c.Vector.Threshold < 0 {
		return fmt.Errorf("vector.threshold must not be negative")
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
