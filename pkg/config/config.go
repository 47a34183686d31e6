// Package config loads and validates the service configuration from a
// directory of YAML files (forge.yaml + providers.yaml) with {{.VAR}}
// environment expansion.
package config

import "time"

// Config is the fully resolved service configuration.
type Config struct {
	configDir string

	Server      *ServerConfig
	Storage     *StorageConfig
	Pipeline    *PipelineConfig
	Stream      *StreamConfig
	Queue       *QueueConfig
	Retention   *RetentionConfig
	AutoProject *AutoProjectConfig
	Providers   *ProvidersConfig
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// ServerConfig holds HTTP transport settings.
type ServerConfig struct {
	// AllowedWSOrigins lists extra origin patterns accepted for WebSocket
	// upgrades, in addition to the request host.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

// StorageConfig holds artifact store settings.
type StorageConfig struct {
	// Root is the base directory for the versioned artifact store.
	Root string `yaml:"root"`
}

// PipelineConfig controls stage execution and iteration safety.
type PipelineConfig struct {
	// EnhancedContext enables the optional context_analysis stage before
	// schema extraction.
	EnhancedContext bool `yaml:"enhanced_context"`

	// StageTimeout bounds schema extraction, review, and documentation.
	StageTimeout time.Duration `yaml:"stage_timeout"`

	// CodeGenTimeout bounds the code generation stage as a whole.
	CodeGenTimeout time.Duration `yaml:"code_gen_timeout"`

	// PhaseTimeout bounds a single phase of the phased generator.
	PhaseTimeout time.Duration `yaml:"phase_timeout"`

	// IterationDataLossThreshold is the merge safety ratio: an iteration
	// whose result drops below threshold * parent file count aborts unless
	// the intent is remove.
	IterationDataLossThreshold float64 `yaml:"iteration_data_loss_threshold"`

	// DataLossWarnOnly downgrades the data-loss guard from abort to a
	// warning event.
	DataLossWarnOnly bool `yaml:"data_loss_warn_only"`
}

// StreamConfig controls event stream lifecycle.
type StreamConfig struct {
	// HeartbeatInterval is how long a stream may be silent before a
	// keepalive frame is sent.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// IdleTimeout closes a stream that has seen no events at all.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// TokenTTL is the validity window of a stream token.
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// RetentionConfig controls artifact archival.
type RetentionConfig struct {
	// KeepLatest is how many recent versions per project stay out of the
	// archive regardless of age.
	KeepLatest int `yaml:"keep_latest"`

	// ArchiveAgeDays is the minimum age before a version outside the
	// latest N is moved to archive/.
	ArchiveAgeDays int `yaml:"archive_age_days"`

	// Interval is how often the cleanup loop runs.
	Interval time.Duration `yaml:"interval"`
}

// ArchiveAge returns the archive age threshold as a duration.
func (r *RetentionConfig) ArchiveAge() time.Duration {
	return time.Duration(r.ArchiveAgeDays) * 24 * time.Hour
}

// AutoProjectConfig controls auto-project creation for unattached
// generations.
type AutoProjectConfig struct {
	// DedupWindow is how far back to look for a reusable auto-created
	// project with the same suggested name.
	DedupWindow time.Duration `yaml:"dedup_window"`
}
