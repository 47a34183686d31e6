package config

import (
	"fmt"
	"slices"
)

// Validator checks a loaded Config for values that would break the service
// at runtime: empty storage roots, out-of-range thresholds, routing entries
// naming providers the registry cannot build.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs every validation pass and returns the first failure.
func (v *Validator) ValidateAll() error {
	if err := v.validateStorage(); err != nil {
		return err
	}
	if err := v.validatePipeline(); err != nil {
		return err
	}
	if err := v.validateStream(); err != nil {
		return err
	}
	if err := v.validateQueue(); err != nil {
		return err
	}
	if err := v.validateRetention(); err != nil {
		return err
	}
	if err := v.validateAutoProject(); err != nil {
		return err
	}
	return v.validateProviders()
}

func (v *Validator) validateStorage() error {
	if v.cfg.Storage.Root == "" {
		return NewValidationError("storage", "root", ErrMissingRequiredField)
	}
	return nil
}

func (v *Validator) validatePipeline() error {
	p := v.cfg.Pipeline
	if p.IterationDataLossThreshold <= 0 || p.IterationDataLossThreshold > 1 {
		return NewValidationError("pipeline", "iteration_data_loss_threshold",
			fmt.Errorf("%w: must be in (0, 1], got %v", ErrInvalidValue, p.IterationDataLossThreshold))
	}
	if p.StageTimeout <= 0 {
		return NewValidationError("pipeline", "stage_timeout", ErrInvalidValue)
	}
	if p.CodeGenTimeout <= 0 {
		return NewValidationError("pipeline", "code_gen_timeout", ErrInvalidValue)
	}
	if p.PhaseTimeout <= 0 {
		return NewValidationError("pipeline", "phase_timeout", ErrInvalidValue)
	}
	return nil
}

func (v *Validator) validateStream() error {
	s := v.cfg.Stream
	if s.HeartbeatInterval <= 0 {
		return NewValidationError("stream", "heartbeat_interval", ErrInvalidValue)
	}
	if s.IdleTimeout <= 0 {
		return NewValidationError("stream", "idle_timeout", ErrInvalidValue)
	}
	if s.IdleTimeout < s.HeartbeatInterval {
		return NewValidationError("stream", "idle_timeout",
			fmt.Errorf("%w: must be >= heartbeat_interval", ErrInvalidValue))
	}
	if s.TokenTTL <= 0 {
		return NewValidationError("stream", "token_ttl", ErrInvalidValue)
	}
	return nil
}

func (v *Validator) validateQueue() error {
	q := v.cfg.Queue
	if q.WorkerCount < 1 {
		return NewValidationError("queue", "worker_count",
			fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, q.WorkerCount))
	}
	if q.MaxConcurrentGenerations < 1 {
		return NewValidationError("queue", "max_concurrent_generations", ErrInvalidValue)
	}
	if q.PollInterval <= 0 {
		return NewValidationError("queue", "poll_interval", ErrInvalidValue)
	}
	if q.GenerationTimeout <= 0 {
		return NewValidationError("queue", "generation_timeout", ErrInvalidValue)
	}
	if q.HeartbeatInterval <= 0 || q.HeartbeatInterval >= q.OrphanThreshold {
		return NewValidationError("queue", "heartbeat_interval",
			fmt.Errorf("%w: must be positive and below orphan_threshold", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateRetention() error {
	r := v.cfg.Retention
	if r.KeepLatest < 1 {
		return NewValidationError("retention", "keep_latest",
			fmt.Errorf("%w: must keep at least the active version", ErrInvalidValue))
	}
	if r.ArchiveAgeDays < 0 {
		return NewValidationError("retention", "archive_age_days", ErrInvalidValue)
	}
	if r.Interval <= 0 {
		return NewValidationError("retention", "interval", ErrInvalidValue)
	}
	return nil
}

func (v *Validator) validateAutoProject() error {
	if v.cfg.AutoProject.DedupWindow <= 0 {
		return NewValidationError("auto_project", "dedup_window", ErrInvalidValue)
	}
	return nil
}

func (v *Validator) validateProviders() error {
	p := v.cfg.Providers
	if !slices.Contains(KnownProviders, p.DefaultProvider) {
		return NewValidationError("providers", "default_provider",
			fmt.Errorf("%w: %q", ErrUnknownProvider, p.DefaultProvider))
	}

	overrides := map[string]string{
		"schema_extraction": p.TaskProviders.SchemaExtraction,
		"code_generation":   p.TaskProviders.CodeGeneration,
		"code_review":       p.TaskProviders.CodeReview,
		"documentation":     p.TaskProviders.Documentation,
	}
	for field, name := range overrides {
		if name == "" {
			continue
		}
		if !slices.Contains(KnownProviders, name) {
			return NewValidationError("providers", field,
				fmt.Errorf("%w: %q", ErrUnknownProvider, name))
		}
	}

	for name, creds := range p.Providers {
		if !slices.Contains(KnownProviders, name) {
			return NewValidationError("providers", name,
				fmt.Errorf("%w: credentials for unknown provider", ErrUnknownProvider))
		}
		if creds.Temperature < 0 || creds.Temperature > 2 {
			return NewValidationError("providers", name+".temperature",
				fmt.Errorf("%w: must be in [0, 2]", ErrInvalidValue))
		}
		if creds.MaxOutputTokens < 0 {
			return NewValidationError("providers", name+".max_output_tokens", ErrInvalidValue)
		}
	}
	return nil
}
