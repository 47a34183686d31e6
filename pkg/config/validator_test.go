package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Storage.Root = "/tmp/forge-test"
	return cfg
}

func TestValidateAll_Valid(t *testing.T) {
	require.NoError(t, NewValidator(validConfig()).ValidateAll())
}

func TestValidateAll_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "empty storage root",
			mutate:  func(c *Config) { c.Storage.Root = "" },
			wantErr: ErrMissingRequiredField,
		},
		{
			name:    "threshold zero",
			mutate:  func(c *Config) { c.Pipeline.IterationDataLossThreshold = 0 },
			wantErr: ErrInvalidValue,
		},
		{
			name:    "threshold above one",
			mutate:  func(c *Config) { c.Pipeline.IterationDataLossThreshold = 1.2 },
			wantErr: ErrInvalidValue,
		},
		{
			name:    "negative stage timeout",
			mutate:  func(c *Config) { c.Pipeline.StageTimeout = -time.Second },
			wantErr: ErrInvalidValue,
		},
		{
			name:    "idle timeout below heartbeat",
			mutate:  func(c *Config) { c.Stream.IdleTimeout = time.Second },
			wantErr: ErrInvalidValue,
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Queue.WorkerCount = 0 },
			wantErr: ErrInvalidValue,
		},
		{
			name:    "heartbeat above orphan threshold",
			mutate:  func(c *Config) { c.Queue.HeartbeatInterval = 10 * time.Minute },
			wantErr: ErrInvalidValue,
		},
		{
			name:    "keep_latest zero",
			mutate:  func(c *Config) { c.Retention.KeepLatest = 0 },
			wantErr: ErrInvalidValue,
		},
		{
			name:    "unknown default provider",
			mutate:  func(c *Config) { c.Providers.DefaultProvider = "openai" },
			wantErr: ErrUnknownProvider,
		},
		{
			name:    "unknown task override",
			mutate:  func(c *Config) { c.Providers.TaskProviders.CodeGeneration = "mistral" },
			wantErr: ErrUnknownProvider,
		},
		{
			name: "credentials for unknown provider",
			mutate: func(c *Config) {
				c.Providers.Providers["mistral"] = ProviderCredentials{APIKey: "x"}
			},
			wantErr: ErrUnknownProvider,
		},
		{
			name: "temperature out of range",
			mutate: func(c *Config) {
				c.Providers.Providers["gemini"] = ProviderCredentials{Temperature: 3.0}
			},
			wantErr: ErrInvalidValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := NewValidator(cfg).ValidateAll()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var ve *ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
}
