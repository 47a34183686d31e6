package config

import (
	"time"

	"github.com/codeready-toolchain/forge/pkg/provider"
)

// KnownProviders lists the provider names the registry can construct.
var KnownProviders = []string{"gemini", "huggingface", "local"}

// ProvidersConfig is the parsed providers.yaml: the default provider, the
// optional per-task routing overrides, and per-provider credentials.
type ProvidersConfig struct {
	DefaultProvider string                         `yaml:"default_provider"`
	TaskProviders   TaskProvidersConfig            `yaml:"task_providers"`
	Providers       map[string]ProviderCredentials `yaml:"providers"`
}

// TaskProvidersConfig overrides the default provider per pipeline task.
// Empty fields fall back to DefaultProvider.
type TaskProvidersConfig struct {
	SchemaExtraction string `yaml:"schema_extraction"`
	CodeGeneration   string `yaml:"code_generation"`
	CodeReview       string `yaml:"code_review"`
	Documentation    string `yaml:"documentation"`
}

// ProviderCredentials configures one provider backend.
type ProviderCredentials struct {
	APIKey          string        `yaml:"api_key"`
	Endpoint        string        `yaml:"endpoint"`
	ModelID         string        `yaml:"model_id"`
	Temperature     float64       `yaml:"temperature"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	SafetyLevel     string        `yaml:"safety_level"`
	Timeout         time.Duration `yaml:"timeout"`
}

// DefaultProvidersConfig routes everything to the offline local provider,
// so the service starts without any credentials configured.
func DefaultProvidersConfig() *ProvidersConfig {
	return &ProvidersConfig{
		DefaultProvider: "local",
		Providers:       map[string]ProviderCredentials{},
	}
}

// taskOverrides returns the non-empty per-task routing entries.
func (p *ProvidersConfig) taskOverrides() map[provider.Task]string {
	overrides := map[provider.Task]string{}
	set := func(task provider.Task, name string) {
		if name != "" {
			overrides[task] = name
		}
	}
	set(provider.TaskSchemaExtraction, p.TaskProviders.SchemaExtraction)
	set(provider.TaskCodeGeneration, p.TaskProviders.CodeGeneration)
	set(provider.TaskCodeReview, p.TaskProviders.CodeReview)
	set(provider.TaskDocumentation, p.TaskProviders.Documentation)
	return overrides
}

// RegistryConfig converts the parsed YAML into the provider registry's
// wiring format.
func (p *ProvidersConfig) RegistryConfig() provider.RegistryConfig {
	settings := make(map[string]provider.Settings, len(p.Providers))
	for name, creds := range p.Providers {
		settings[name] = provider.Settings{
			APIKey:          creds.APIKey,
			Endpoint:        creds.Endpoint,
			Model:           creds.ModelID,
			Temperature:     creds.Temperature,
			MaxOutputTokens: creds.MaxOutputTokens,
			SafetyLevel:     creds.SafetyLevel,
			Timeout:         creds.Timeout,
		}
	}
	return provider.RegistryConfig{
		Default:       p.DefaultProvider,
		TaskProviders: p.taskOverrides(),
		Settings:      settings,
	}
}
