package main

import (
	"fmt"
	"path/filepath"

	"github.com/noobynull/laminark/internal/agent"
	"github.com/noobynull/laminark/internal/config"
	"github.com/noobynull/laminark/internal/embedding"
	"github.com/noobynull/laminark/internal/project"
	"github.com/noobynull/laminark/internal/store"
)

var configPath string

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(config.DefaultConfigDir(), "config.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the shared database and resolves the calling
// project's scoping hash in one step, since nearly every subcommand
// needs both.
func openStore() (*store.Store, string, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", nil, fmt.Errorf("load config: %w", err)
	}

	s, err := store.Open(cfg.Store.DatabasePath, cfg.Store.RequireVector)
	if err != nil {
		return nil, "", nil, fmt.Errorf("open store: %w", err)
	}

	dir, err := resolveProjectDir()
	if err != nil {
		s.Close()
		return nil, "", nil, fmt.Errorf("resolve project dir: %w", err)
	}
	hash, err := project.Hash(dir)
	if err != nil {
		s.Close()
		return nil, "", nil, fmt.Errorf("hash project dir: %w", err)
	}

	return s, hash, cfg, nil
}

// newTextAgent builds the configured text-agent backend for the
// curation pipeline and entity extractor.
func newTextAgent(cfg *config.Config) (agent.TextAgent, error) {
	switch cfg.Agent.Provider {
	case "anthropic":
		return agent.NewAnthropicAgent(cfg.Agent.APIKey, "")
	case "genai", "":
		return agent.NewGenAIAgent(cfg.Agent.APIKey, cfg.Agent.Model)
	default:
		return nil, fmt.Errorf("unknown agent provider: %s", cfg.Agent.Provider)
	}
}

// embeddingConfigFrom translates the on-disk embedding configuration
// into the shape the embedding package's factory expects.
func embeddingConfigFrom(cfg *config.Config) embedding.Config {
	return embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
		TaskType:       cfg.Embedding.TaskType,
		Dimensions:     cfg.Embedding.Dimensions,
	}
}
