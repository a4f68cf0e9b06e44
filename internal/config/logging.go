package config

// LoggingConfig configures the structured zap adapter used by the
// curation pipeline and embedding worker. The category debug.log itself
// is gated purely by the LAMINARK_DEBUG environment variable, not by
// this struct; this config only affects the zap adapter's verbosity.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}
