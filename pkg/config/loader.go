package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// forgeYAMLConfig represents the complete forge.yaml file structure.
type forgeYAMLConfig struct {
	Server      *ServerConfig      `yaml:"server"`
	Storage     *StorageConfig     `yaml:"storage"`
	Pipeline    *PipelineConfig    `yaml:"pipeline"`
	Stream      *StreamConfig      `yaml:"stream"`
	Queue       *QueueConfig       `yaml:"queue"`
	Retention   *RetentionConfig   `yaml:"retention"`
	AutoProject *AutoProjectConfig `yaml:"auto_project"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load forge.yaml and providers.yaml from configDir
//  2. Expand environment variables ({{.VAR}} syntax)
//  3. Merge user values over built-in defaults
//  4. Validate all configuration
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized successfully",
		"storage_root", cfg.Storage.Root,
		"default_provider", cfg.Providers.DefaultProvider,
		"workers", cfg.Queue.WorkerCount)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	var forgeCfg forgeYAMLConfig
	if err := loader.loadYAML("forge.yaml", &forgeCfg); err != nil {
		return nil, NewLoadError("forge.yaml", err)
	}

	// providers.yaml is optional: without it everything routes to the
	// offline local provider.
	providersCfg := DefaultProvidersConfig()
	if err := loader.loadYAML("providers.yaml", providersCfg); err != nil {
		if !errors.Is(err, ErrConfigNotFound) {
			return nil, NewLoadError("providers.yaml", err)
		}
		slog.Info("No providers.yaml found, using local provider")
	}
	if providersCfg.DefaultProvider == "" {
		providersCfg.DefaultProvider = "local"
	}
	if providersCfg.Providers == nil {
		providersCfg.Providers = map[string]ProviderCredentials{}
	}

	// Start with defaults, then merge user config on top so unset values
	// keep the built-in defaults.
	cfg := DefaultConfig()
	cfg.configDir = configDir
	cfg.Providers = providersCfg

	sections := []struct {
		name string
		dst  any
		src  any
	}{
		{"server", cfg.Server, forgeCfg.Server},
		{"storage", cfg.Storage, forgeCfg.Storage},
		{"pipeline", cfg.Pipeline, forgeCfg.Pipeline},
		{"stream", cfg.Stream, forgeCfg.Stream},
		{"queue", cfg.Queue, forgeCfg.Queue},
		{"retention", cfg.Retention, forgeCfg.Retention},
		{"auto_project", cfg.AutoProject, forgeCfg.AutoProject},
	}
	for _, s := range sections {
		if isNil(s.src) {
			continue
		}
		if err := mergo.Merge(s.dst, s.src, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge %s config: %w", s.name, err)
		}
	}

	// Booleans cannot be distinguished from "unset" by mergo; copy them
	// explicitly when the section was provided.
	if forgeCfg.Pipeline != nil {
		cfg.Pipeline.EnhancedContext = forgeCfg.Pipeline.EnhancedContext
		cfg.Pipeline.DataLossWarnOnly = forgeCfg.Pipeline.DataLossWarnOnly
	}

	return cfg, nil
}

func isNil(v any) bool {
	switch t := v.(type) {
	case *ServerConfig:
		return t == nil
	case *StorageConfig:
		return t == nil
	case *PipelineConfig:
		return t == nil
	case *StreamConfig:
		return t == nil
	case *QueueConfig:
		return t == nil
	case *RetentionConfig:
		return t == nil
	case *AutoProjectConfig:
		return t == nil
	default:
		return v == nil
	}
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}
