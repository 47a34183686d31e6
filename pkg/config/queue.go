package config

import "time"

// QueueConfig contains queue and worker pool configuration.
// These values control how generations are polled, claimed, and processed.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per replica/pod.
	// Each worker independently polls and processes generations.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentGenerations is the global limit of concurrent
	// generations being processed across ALL replicas/pods. Enforced by a
	// database COUNT(*) check.
	MaxConcurrentGenerations int `yaml:"max_concurrent_generations"`

	// PollInterval is the base interval for checking pending generations.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// GenerationTimeout is the maximum time a generation can be processed.
	GenerationTimeout time.Duration `yaml:"generation_timeout"`

	// GracefulShutdownTimeout is the max time to wait for active
	// generations to complete during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// HeartbeatInterval is how often a worker refreshes the claim
	// heartbeat on its current generation.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// OrphanDetectionInterval is how often to scan for orphaned
	// generations.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// OrphanThreshold is how long a generation can go without a heartbeat
	// before it is considered orphaned.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:              5,
		MaxConcurrentGenerations: 5,
		PollInterval:             1 * time.Second,
		PollIntervalJitter:       500 * time.Millisecond,
		GenerationTimeout:        15 * time.Minute,
		GracefulShutdownTimeout:  15 * time.Minute,
		HeartbeatInterval:        30 * time.Second,
		OrphanDetectionInterval:  5 * time.Minute,
		OrphanThreshold:          5 * time.Minute,
	}
}
