package config

import "time"

// DefaultConfig returns the built-in defaults for every section. User YAML
// is merged on top; unset values keep these.
func DefaultConfig() *Config {
	return &Config{
		Server: &ServerConfig{},
		Storage: &StorageConfig{
			Root: "./data",
		},
		Pipeline: &PipelineConfig{
			EnhancedContext:            false,
			StageTimeout:               5 * time.Minute,
			CodeGenTimeout:             10 * time.Minute,
			PhaseTimeout:               10 * time.Minute,
			IterationDataLossThreshold: 0.8,
			DataLossWarnOnly:           false,
		},
		Stream: &StreamConfig{
			HeartbeatInterval: 15 * time.Second,
			IdleTimeout:       5 * time.Minute,
			TokenTTL:          10 * time.Minute,
		},
		Queue: DefaultQueueConfig(),
		Retention: &RetentionConfig{
			KeepLatest:     5,
			ArchiveAgeDays: 30,
			Interval:       6 * time.Hour,
		},
		AutoProject: &AutoProjectConfig{
			DedupWindow: time.Hour,
		},
		Providers: DefaultProvidersConfig(),
	}
}
