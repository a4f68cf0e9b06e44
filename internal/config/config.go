package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/noobynull/laminark/internal/logging"

	"gopkg.in/yaml.v3"
)

// Config holds all laminark configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Store        StoreConfig        `yaml:"store"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Curation     CurationConfig     `yaml:"curation"`
	Search       SearchConfig       `yaml:"search"`
	ToolRegistry ToolRegistryConfig `yaml:"tool_registry"`
	Agent        AgentConfig        `yaml:"agent"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// DefaultConfigDir resolves the directory laminark stores its database,
// config file, and debug log in. LAMINARK_HOME overrides the default of
// $HOME/.laminark, the same way CODENERD_DB overrode a single path in the
// teacher.
func DefaultConfigDir() string {
	if home := os.Getenv("LAMINARK_HOME"); home != "" {
		return home
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".laminark")
	}
	return ".laminark"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	dir := DefaultConfigDir()
	return &Config{
		Name:    "laminark",
		Version: "0.1.0",

		Store: StoreConfig{
			DatabasePath:  filepath.Join(dir, "data.db"),
			BusyTimeoutMs: 5000,
			RequireVector: false,
		},

		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "text-embedding-004",
			TaskType:       "SEMANTIC_SIMILARITY",
			Dimensions:     384,
		},

		Curation: CurationConfig{
			BatchSize:             20,
			IntervalSeconds:       300,
			FallbackTimeoutSeconds: 60,
		},

		Search: SearchConfig{
			RRFK:                60,
			CandidateMultiplier: 4,
			SnippetMaxLen:       160,
		},

		ToolRegistry: ToolRegistryConfig{
			FailureWindowSize: 5,
			DemotionThreshold: 3,
			StalenessDays:     30,
		},

		Agent: AgentConfig{
			Provider: "genai",
			Model:    "gemini-2.0-flash",
			Timeout:  "30s",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist, then layers environment-variable overrides on
// top of whatever was loaded.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	logging.BootDebug("Loading config from: %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Boot("Config file not found, using defaults: %s", path)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		logging.Get(logging.CategoryBoot).Error("Failed to read config file %s: %v", path, err)
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		logging.Get(logging.CategoryBoot).Error("Failed to parse config file %s: %v", path, err)
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	logging.Boot("Config loaded: store=%s embedding_provider=%s", cfg.Store.DatabasePath, cfg.Embedding.Provider)

	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
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

// applyEnvOverrides layers environment variables on top of file/default
// config; env always wins over file.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("LAMINARK_DB"); path != "" {
		c.Store.DatabasePath = path
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.Agent.APIKey = key
		c.Agent.Provider = "anthropic"
	}
	if key := os.Getenv("GENAI_API_KEY"); key != "" {
		c.Embedding.GenAIAPIKey = key
		if c.Embedding.Provider == "" || c.Embedding.Provider == "ollama" {
			c.Embedding.Provider = "genai"
		}
		if c.Agent.APIKey == "" {
			c.Agent.APIKey = key
			c.Agent.Provider = "genai"
		}
	}
	if endpoint := os.Getenv("OLLAMA_ENDPOINT"); endpoint != "" {
		c.Embedding.OllamaEndpoint = endpoint
	}
	if model := os.Getenv("OLLAMA_EMBEDDING_MODEL"); model != "" {
		c.Embedding.OllamaModel = model
	}
	if v := os.Getenv("LAMINARK_REQUIRE_VECTOR"); v == "1" {
		c.Store.RequireVector = true
	}
}

// BusyTimeout returns the SQLite busy_timeout pragma value as a duration.
func (c *StoreConfig) BusyTimeout() time.Duration {
	return time.Duration(c.BusyTimeoutMs) * time.Millisecond
}

// CurationInterval returns the curation loop's polling interval.
func (c *CurationConfig) CurationInterval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// FallbackTimeout returns how long an unclassified observation waits
// before being auto-promoted to "discovery".
func (c *CurationConfig) FallbackTimeout() time.Duration {
	return time.Duration(c.FallbackTimeoutSeconds) * time.Second
}

// AgentTimeout returns the text-agent call timeout as a duration.
func (c *AgentConfig) AgentTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Store.DatabasePath == "" {
		return fmt.Errorf("store.database_path must not be empty")
	}
	if c.Embedding.Provider != "ollama" && c.Embedding.Provider != "genai" {
		return fmt.Errorf("invalid embedding provider: %s (valid: ollama, genai)", c.Embedding.Provider)
	}
	if c.Agent.Provider != "genai" && c.Agent.Provider != "anthropic" {
		return fmt.Errorf("invalid agent provider: %s (valid: genai, anthropic)", c.Agent.Provider)
	}
	return nil
}
