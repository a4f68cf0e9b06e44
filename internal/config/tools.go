package config

// ToolRegistryConfig configures tool staleness and demotion tracking.
// store.RecordUsage does not read these fields; it uses its own fixed
// window of 5 events and threshold of 3 failures.
type ToolRegistryConfig struct {
	// FailureWindowSize is how many of the most recent usage events are
	// considered when deciding whether to demote a tool.
	FailureWindowSize int `yaml:"failure_window_size"`

	// DemotionThreshold is the number of failures within the window
	// that triggers demotion to "demoted".
	DemotionThreshold int `yaml:"demotion_threshold"`

	// StalenessDays is how long a tool can go unused before it is
	// considered stale by age rather than by failure count.
	StalenessDays int `yaml:"staleness_days"`
}
