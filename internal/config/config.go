// Package config loads terrasite configuration from a YAML file with
// environment-variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all terrasite configuration.
type Config struct {
	LLM          LLMConfig          `yaml:"llm"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Store        StoreConfig        `yaml:"store"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Prompt       PromptConfig       `yaml:"prompt"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// PromptConfig locates optional instruction template overrides.
type PromptConfig struct {
	TemplatesPath string `yaml:"templates_path"`
}

// LLMConfig configures the chat completion client.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Timeout     string  `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // "ollama" or "genai"
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
}

// StoreConfig configures the knowledge store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
	// MaxExecutionEntries caps the rolling execution-history category.
	MaxExecutionEntries int `yaml:"max_execution_entries"`
}

// RetrievalConfig holds the ranking weights and quality-gate thresholds.
type RetrievalConfig struct {
	TopK                     int     `yaml:"top_k"`
	MinK                     int     `yaml:"min_k"`
	Oversample               int     `yaml:"oversample"`
	MaxDistance              float64 `yaml:"max_distance"`
	RelaxedDistanceIncrement float64 `yaml:"relaxed_distance_increment"`
	SemanticWeight           float64 `yaml:"semantic_weight"`
	KeywordWeight            float64 `yaml:"keyword_weight"`
	MetadataBoostUnit        float64 `yaml:"metadata_boost_unit"`
	MetadataBoostType        float64 `yaml:"metadata_boost_type"`
}

// OrchestratorConfig bounds the plan/execute retry loop.
type OrchestratorConfig struct {
	MaxRetries  int    `yaml:"max_retries"`
	StepTimeout string `yaml:"step_timeout"`
	ResultDir   string `yaml:"result_dir"`
	BaseLayer   string `yaml:"base_layer"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSONFormat bool   `yaml:"json_format"`
}

// DefaultConfig returns sensible defaults for a local deployment.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			BaseURL:     "http://localhost:11434/v1",
			Model:       "qwen3:32b",
			Temperature: 0.7,
			MaxTokens:   2000,
			Timeout:     "180s",
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
		},
		Store: StoreConfig{
			DatabasePath:        "terrasite.db",
			MaxExecutionEntries: 30,
		},
		Retrieval: RetrievalConfig{
			TopK:                     5,
			MinK:                     2,
			Oversample:               3,
			MaxDistance:              0.35,
			RelaxedDistanceIncrement: 0.5,
			SemanticWeight:           0.6,
			KeywordWeight:            0.4,
			MetadataBoostUnit:        0.15,
			MetadataBoostType:        0.05,
		},
		Orchestrator: OrchestratorConfig{
			MaxRetries:  3,
			StepTimeout: "120s",
			ResultDir:   "result",
			BaseLayer:   "data/base_layer.geojson",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path, layering it over defaults. A missing
// file is not an error; defaults plus env overrides apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets secrets come from the environment instead of the
// config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TERRASITE_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("TERRASITE_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("TERRASITE_GENAI_API_KEY"); v != "" {
		c.Embedding.GenAIAPIKey = v
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.MinK > c.Retrieval.TopK {
		return fmt.Errorf("retrieval.min_k (%d) cannot exceed top_k (%d)", c.Retrieval.MinK, c.Retrieval.TopK)
	}
	if c.Retrieval.Oversample < 1 {
		return fmt.Errorf("retrieval.oversample must be >= 1, got %d", c.Retrieval.Oversample)
	}
	if c.Retrieval.MaxDistance < 0 || c.Retrieval.MaxDistance > 2 {
		return fmt.Errorf("retrieval.max_distance must be in [0,2], got %g", c.Retrieval.MaxDistance)
	}
	if c.Orchestrator.MaxRetries < 0 {
		return fmt.Errorf("orchestrator.max_retries cannot be negative, got %d", c.Orchestrator.MaxRetries)
	}
	if _, err := c.LLMTimeout(); err != nil {
		return err
	}
	if _, err := c.StepTimeout(); err != nil {
		return err
	}
	return nil
}

// LLMTimeout parses the LLM call timeout.
func (c *Config) LLMTimeout() (time.Duration, error) {
	return parseTimeout("llm.timeout", c.LLM.Timeout, 180*time.Second)
}

// StepTimeout parses the per-step tool execution timeout.
func (c *Config) StepTimeout() (time.Duration, error) {
	return parseTimeout("orchestrator.step_timeout", c.Orchestrator.StepTimeout, 120*time.Second)
}

func parseTimeout(field, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, d)
	}
	return d, nil
}
