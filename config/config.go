package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file LoadFromDir looks for.
const FileName = "grantwatch.yaml"

// configExcludes keep grantwatch's own files out of ingest; the yaml
// includes would match them otherwise.
var configExcludes = []string{"**/" + FileName, "**/grantwatch.yml", "**/.grantwatch/**"}

// Config holds all configuration for grantwatch.
type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Agent     AgentConfig     `yaml:"agent"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Cache     CacheConfig     `yaml:"cache"`
	Ingest    IngestConfig    `yaml:"ingest"`
	MCP       MCPConfig       `yaml:"mcp"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// EmbeddingConfig holds embedding provider configuration.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`    // "openai", "ollama", "compatible", "hash"
	Model     string `yaml:"model"`       // e.g., "text-embedding-3-small"
	APIKeyEnv string `yaml:"api_key_env"` // Environment variable for API key
	BaseURL   string `yaml:"base_url"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

// IndexConfig selects and locates the vector index backend.
type IndexConfig struct {
	Backend string `yaml:"backend"` // "memory", "bolt", "sqlite"
	Path    string `yaml:"path"`    // relative paths resolve against the root dir
	Metric  string `yaml:"metric"`  // "cosine", "dot", "l2"
}

// SearchConfig holds similarity search configuration.
type SearchConfig struct {
	DefaultTopK   int     `yaml:"default_top_k"`
	MaxTopK       int     `yaml:"max_top_k"`
	MinSimilarity float64 `yaml:"min_similarity"` // results below this normalized score are dropped
}

// AgentConfig holds planner and execution configuration.
type AgentConfig struct {
	Planner     string        `yaml:"planner"` // "keyword", "llm"
	Model       string        `yaml:"model"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	BaseURL     string        `yaml:"base_url"`
	MaxSteps    int           `yaml:"max_steps"`
	StepTimeout time.Duration `yaml:"step_timeout"`
	// MaxQueryTokens bounds questions sent to the llm planner.
	MaxQueryTokens int `yaml:"max_query_tokens"`
}

// UpstreamConfig bounds every call to the embedding provider and the index.
type UpstreamConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	RateLimit  float64       `yaml:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst  int           `yaml:"rate_burst"`
}

// CacheConfig holds search result cache configuration.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	MaxSize int           `yaml:"max_size"`
	TTL     time.Duration `yaml:"ttl"`
}

// IngestConfig holds record file discovery patterns.
type IngestConfig struct {
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
	Workers  int      `yaml:"workers"`
}

// ExcludePatterns returns the configured excludes plus grantwatch's own
// config files, which stay excluded when a config file replaces the list.
func (c IngestConfig) ExcludePatterns() []string {
	patterns := slices.Clone(c.Excludes)
	for _, p := range configExcludes {
		if !slices.Contains(patterns, p) {
			patterns = append(patterns, p)
		}
	}
	return patterns
}

// MCPConfig holds MCP server identity.
type MCPConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text", "json"
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:  "hash",
			Model:     "text-embedding-3-small",
			APIKeyEnv: "OPENAI_API_KEY",
			Dimension: 512,
			BatchSize: 100,
		},
		Index: IndexConfig{
			Backend: "bolt",
			Path:    filepath.Join(".grantwatch", "index.db"),
			Metric:  "cosine",
		},
		Search: SearchConfig{
			DefaultTopK:   5,
			MaxTopK:       50,
			MinSimilarity: 0,
		},
		Agent: AgentConfig{
			Planner:        "keyword",
			Model:          "gpt-4o-mini",
			APIKeyEnv:      "OPENAI_API_KEY",
			MaxSteps:       4,
			StepTimeout:    30 * time.Second,
			MaxQueryTokens: 512,
		},
		Upstream: UpstreamConfig{
			Timeout:    20 * time.Second,
			MaxRetries: 2,
			Backoff:    200 * time.Millisecond,
		},
		Cache: CacheConfig{
			Enabled: true,
			MaxSize: 100,
			TTL:     5 * time.Minute,
		},
		Ingest: IngestConfig{
			Includes: []string{"**/*.json", "**/*.jsonl", "**/*.yaml", "**/*.yml", "**/*.csv"},
			Excludes: []string{"**/.git/**", "**/.grantwatch/**", "**/node_modules/**", "**/" + FileName, "**/grantwatch.yml"},
			Workers:  4,
		},
		MCP: MCPConfig{
			Name:    "grantwatch",
			Version: "0.1.0",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for grantwatch.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".grantwatch", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Validate rejects settings that would make the manager or agent misbehave.
func (c *Config) Validate() error {
	if c.Search.MaxTopK <= 0 {
		return fmt.Errorf("search.max_top_k must be positive, got %d", c.Search.MaxTopK)
	}
	if c.Search.DefaultTopK <= 0 || c.Search.DefaultTopK > c.Search.MaxTopK {
		return fmt.Errorf("search.default_top_k must be in [1, %d], got %d", c.Search.MaxTopK, c.Search.DefaultTopK)
	}
	if c.Search.MinSimilarity < 0 || c.Search.MinSimilarity > 1 {
		return fmt.Errorf("search.min_similarity must be in [0, 1], got %g", c.Search.MinSimilarity)
	}
	if c.Upstream.MaxRetries < 0 {
		return fmt.Errorf("upstream.max_retries must not be negative")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be positive")
	}
	if c.Agent.MaxQueryTokens < 0 {
		return fmt.Errorf("agent.max_query_tokens must not be negative")
	}
	switch c.Index.Metric {
	case "cosine", "dot", "l2":
	default:
		return fmt.Errorf("unsupported index.metric: %s", c.Index.Metric)
	}
	return nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// IndexPath resolves the index location against dir.
func (c *Config) IndexPath(dir string) string {
	if filepath.IsAbs(c.Index.Path) {
		return c.Index.Path
	}
	return filepath.Join(dir, c.Index.Path)
}

// EnsureDataDir ensures the directory holding the index exists.
func (c *Config) EnsureDataDir(dir string) error {
	return os.MkdirAll(filepath.Dir(c.IndexPath(dir)), 0755)
}
