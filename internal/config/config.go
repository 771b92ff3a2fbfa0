// Package config loads dialectica configuration from YAML with environment
// overrides for secrets. Missing files fall back to defaults so a fresh
// checkout works without any setup beyond an API key.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all dialectica configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Storage   StorageConfig   `yaml:"storage"`
	Models    ModelsConfig    `yaml:"models"`
	Workers   WorkersConfig   `yaml:"workers"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StorageConfig locates the SQLite database and the artifact tree.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	ArtifactRoot string `yaml:"artifact_root"`

	// RecipePath optionally points at a YAML process template that replaces
	// the built-in pipeline.
	RecipePath string `yaml:"recipe_path,omitempty"`
}

// ModelsConfig configures the model adapter layer.
type ModelsConfig struct {
	// Provider selects the adapter backend. Currently gemini via the genai
	// SDK; the adapter interface keeps the rest of the system provider-blind.
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`

	// Default roster offered when starting a session without an explicit
	// model list.
	DefaultModels []string `yaml:"default_models"`

	CallTimeout      string `yaml:"call_timeout"`
	MaxOutputTokens  int    `yaml:"max_output_tokens"`
	MaxContinuations int    `yaml:"max_continuations"`
	MaxRetries       int    `yaml:"max_retries"`
}

// WorkersConfig configures the job pool.
type WorkersConfig struct {
	Count        int    `yaml:"count"`
	PollInterval string `yaml:"poll_interval"`
	BackoffBase  string `yaml:"backoff_base"`
}

// EmbeddingConfig configures the optional RAG indexing layer.
type EmbeddingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // ollama or gemini
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	ChunkSize int   `yaml:"chunk_size"`
	TopK      int   `yaml:"top_k"`
}

// LoggingConfig configures the category logger.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "dialectica",
		Version: "0.3.0",

		Storage: StorageConfig{
			DatabasePath: "data/dialectica.db",
			ArtifactRoot: "data/artifacts",
		},

		Models: ModelsConfig{
			Provider: "gemini",
			DefaultModels: []string{
				"gemini-2.5-pro",
				"gemini-2.5-flash",
			},
			CallTimeout:      "5m",
			MaxOutputTokens:  8192,
			MaxContinuations: 5,
			MaxRetries:       3,
		},

		Workers: WorkersConfig{
			Count:        4,
			PollInterval: "250ms",
			BackoffBase:  "500ms",
		},

		Embedding: EmbeddingConfig{
			Enabled:   false,
			Provider:  "ollama",
			BaseURL:   "http://localhost:11434",
			Model:     "nomic-embed-text",
			ChunkSize: 2000,
			TopK:      8,
		},

		Logging: LoggingConfig{
			Level: "info",
			File:  "dialectica.log",
		},
	}
}

// Load loads configuration from a YAML file. A missing file returns defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes configuration to a YAML file, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides. Secrets are
// expected to come from the environment, never the YAML file.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Models.APIKey = key
		if c.Models.Provider == "" {
			c.Models.Provider = "gemini"
		}
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" && c.Models.APIKey == "" {
		c.Models.APIKey = key
	}
	if path := os.Getenv("DIALECTICA_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
	if root := os.Getenv("DIALECTICA_ARTIFACTS"); root != "" {
		c.Storage.ArtifactRoot = root
	}
	if url := os.Getenv("OLLAMA_URL"); url != "" {
		c.Embedding.BaseURL = url
	}
	if level := os.Getenv("DIALECTICA_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// GetCallTimeout returns the model call timeout as a duration.
func (c *Config) GetCallTimeout() time.Duration {
	d, err := time.ParseDuration(c.Models.CallTimeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// GetPollInterval returns the worker poll interval as a duration.
func (c *Config) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.Workers.PollInterval)
	if err != nil {
		return 250 * time.Millisecond
	}
	return d
}

// GetBackoffBase returns the retry backoff base as a duration.
func (c *Config) GetBackoffBase() time.Duration {
	d, err := time.ParseDuration(c.Workers.BackoffBase)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// Validate checks the configuration for fatal problems.
func (c *Config) Validate() error {
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path is required")
	}
	if c.Storage.ArtifactRoot == "" {
		return fmt.Errorf("storage.artifact_root is required")
	}
	if c.Workers.Count < 1 {
		return fmt.Errorf("workers.count must be at least 1, got %d", c.Workers.Count)
	}
	if c.Models.MaxContinuations < 0 {
		return fmt.Errorf("models.max_continuations cannot be negative")
	}
	if c.Embedding.Enabled && c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required when embedding is enabled")
	}
	return nil
}

// DefaultPath returns the conventional config location, honoring
// DIALECTICA_CONFIG.
func DefaultPath() string {
	if p := os.Getenv("DIALECTICA_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "dialectica.yaml"
	}
	return filepath.Join(home, ".dialectica", "config.yaml")
}
