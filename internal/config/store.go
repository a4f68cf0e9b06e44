package config

// StoreConfig configures the SQLite-backed observation store.
type StoreConfig struct {
	// DatabasePath is the path to the project's data.db file.
	DatabasePath string `yaml:"database_path"`

	// BusyTimeoutMs is the SQLite busy_timeout pragma, covering lock
	// contention between the long-lived service and ephemeral hook
	// processes sharing the same WAL-mode database.
	BusyTimeoutMs int `yaml:"busy_timeout_ms"`

	// RequireVector, when true, fails store initialization instead of
	// silently degrading to lexical-only search when neither sqlite-vec
	// nor the pure-Go vec0 compat shim is available.
	RequireVector bool `yaml:"require_vector"`
}
