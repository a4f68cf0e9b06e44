package config

// AgentConfig configures the pluggable text-agent backend used by the
// curation pipeline for classification and entity extraction. The spec's
// "text agent" collaborator is backend-agnostic; laminark ships both a
// GenAI and an Anthropic implementation behind this one config surface.
type AgentConfig struct {
	// Provider selects the backend: "genai" or "anthropic".
	Provider string `yaml:"provider"`

	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`

	// Timeout bounds a single classification call.
	Timeout string `yaml:"timeout"`
}
