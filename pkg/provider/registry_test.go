package provider

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/forge/pkg/events"
	"github.com/codeready-toolchain/forge/pkg/models"
)

type stubPort struct {
	name string
}

func (s *stubPort) ExtractSchema(context.Context, string, map[string]any) (models.Schema, error) {
	return models.Schema{}, nil
}

func (s *stubPort) GenerateCode(context.Context, string, models.Schema, map[string]any, events.Sink) (models.FileMap, error) {
	return models.FileMap{}, nil
}

func (s *stubPort) ReviewCode(context.Context, models.FileMap) (models.ReviewReport, error) {
	return models.ReviewReport{}, nil
}

func (s *stubPort) GenerateDocumentation(context.Context, models.FileMap, models.Schema, map[string]any) (models.FileMap, error) {
	return models.FileMap{}, nil
}

func (s *stubPort) Info() Info {
	return Info{Name: s.name, Model: "stub"}
}

func TestRegistryDefaultsToLocal(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, slog.Default())

	p, err := r.Get(TaskCodeGeneration)

	require.NoError(t, err)
	assert.Equal(t, "local", p.Info().Name)
}

func TestRegistryCachesPerProviderName(t *testing.T) {
	builds := 0
	r := NewRegistry(RegistryConfig{Default: "fake"}, slog.Default())
	r.RegisterFactory("fake", func(Settings, *slog.Logger) (Port, error) {
		builds++
		return &stubPort{name: "fake"}, nil
	})

	first, err := r.Get(TaskSchemaExtraction)
	require.NoError(t, err)
	second, err := r.Get(TaskCodeGeneration)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, builds)
}

func TestRegistryTaskOverride(t *testing.T) {
	r := NewRegistry(RegistryConfig{
		Default:       "local",
		TaskProviders: map[Task]string{TaskCodeReview: "fake"},
	}, slog.Default())
	r.RegisterFactory("fake", func(Settings, *slog.Logger) (Port, error) {
		return &stubPort{name: "fake"}, nil
	})

	review, err := r.Get(TaskCodeReview)
	require.NoError(t, err)
	codegen, err := r.Get(TaskCodeGeneration)
	require.NoError(t, err)

	assert.Equal(t, "fake", review.Info().Name)
	assert.Equal(t, "local", codegen.Info().Name)
}

func TestRegistryUnknownProvider(t *testing.T) {
	r := NewRegistry(RegistryConfig{Default: "nope"}, slog.Default())

	_, err := r.Get(TaskCodeGeneration)

	require.Error(t, err)
	assert.Equal(t, KindUnavailable, KindOf(err))
}

func TestRegistryInitFailureIsUnavailableAndRetried(t *testing.T) {
	builds := 0
	r := NewRegistry(RegistryConfig{Default: "flaky"}, slog.Default())
	r.RegisterFactory("flaky", func(Settings, *slog.Logger) (Port, error) {
		builds++
		if builds == 1 {
			return nil, NewError(KindUnavailable, "flaky", "api key not configured", nil)
		}
		return &stubPort{name: "flaky"}, nil
	})

	_, err := r.Get(TaskCodeGeneration)
	require.Error(t, err)
	assert.Equal(t, KindUnavailable, KindOf(err))

	p, err := r.Get(TaskCodeGeneration)
	require.NoError(t, err)
	assert.Equal(t, "flaky", p.Info().Name)
	assert.Equal(t, 2, builds)
}

func TestRegistryGeminiRequiresAPIKey(t *testing.T) {
	r := NewRegistry(RegistryConfig{
		Default:  "gemini",
		Settings: map[string]Settings{"gemini": {}},
	}, slog.Default())

	_, err := r.Get(TaskCodeGeneration)

	require.Error(t, err)
	assert.Equal(t, KindUnavailable, KindOf(err))
}

func TestRegistryInfos(t *testing.T) {
	r := NewRegistry(RegistryConfig{
		Default:       "local",
		TaskProviders: map[Task]string{TaskDocumentation: "gemini"},
		Settings:      map[string]Settings{"gemini": {}},
	}, slog.Default())

	infos := r.Infos()

	// gemini has no key and is skipped; local remains.
	require.Len(t, infos, 1)
	assert.Equal(t, "local", infos[0].Name)
}
