package config

// EmbeddingConfig configures the vector embedding backend.
// Supports Ollama (local) and GenAI (cloud) providers, matching the
// teacher's two-provider split.
type EmbeddingConfig struct {
	// Provider selects the embedding backend: "ollama" or "genai".
	Provider string `yaml:"provider"`

	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`

	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"`
	TaskType    string `yaml:"task_type"`

	// Dimensions is the embedding vector width laminark expects. The
	// default 384-dim model keeps the vec0 compat table small; GenAI's
	// gemini-embedding-001 is truncated to this width via
	// OutputDimensionality when selected.
	Dimensions int `yaml:"dimensions"`
}
