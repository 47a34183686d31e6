package provider

import (
	"log/slog"
	"sync"
)

// Factory builds a provider instance from its settings.
type Factory func(Settings, *slog.Logger) (Port, error)

func builtinFactories() map[string]Factory {
	return map[string]Factory{
		"gemini": func(s Settings, l *slog.Logger) (Port, error) {
			return NewGemini(s, l)
		},
		"huggingface": func(s Settings, l *slog.Logger) (Port, error) {
			return NewHuggingFace(s, l)
		},
		"local": func(s Settings, l *slog.Logger) (Port, error) {
			return NewLocal(s, l)
		},
	}
}

// RegistryConfig routes pipeline tasks to named providers. TaskProviders
// entries override Default per task.
type RegistryConfig struct {
	Default       string
	TaskProviders map[Task]string
	Settings      map[string]Settings
}

// Registry constructs providers lazily and caches them per provider name,
// so two tasks routed to the same backend share one instance.
type Registry struct {
	mu        sync.Mutex
	cfg       RegistryConfig
	factories map[string]Factory
	cache     map[string]Port
	logger    *slog.Logger
}

// NewRegistry builds a registry with the built-in factories. An empty
// default routes to the offline local provider.
func NewRegistry(cfg RegistryConfig, logger *slog.Logger) *Registry {
	if cfg.Default == "" {
		cfg.Default = "local"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:       cfg,
		factories: builtinFactories(),
		cache:     make(map[string]Port),
		logger:    logger,
	}
}

// RegisterFactory overrides or adds a provider constructor. Tests inject
// fakes through here. Any cached instance under the name is discarded.
func (r *Registry) RegisterFactory(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
	delete(r.cache, name)
}

// ProviderFor reports which provider name serves the task.
func (r *Registry) ProviderFor(task Task) string {
	if name, ok := r.cfg.TaskProviders[task]; ok && name != "" {
		return name
	}
	return r.cfg.Default
}

// Get returns the provider routed for the task, constructing it on first
// use. Construction failures surface as KindUnavailable and are retried on
// the next Get.
func (r *Registry) Get(task Task) (Port, error) {
	name := r.ProviderFor(task)

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.cache[name]; ok {
		return p, nil
	}

	factory, ok := r.factories[name]
	if !ok {
		return nil, NewError(KindUnavailable, name, "unknown provider", nil)
	}

	p, err := factory(r.cfg.Settings[name], r.logger)
	if err != nil {
		if KindOf(err) == KindUnavailable {
			return nil, err
		}
		return nil, NewError(KindUnavailable, name, "initialization failed", err)
	}

	r.cache[name] = p
	r.logger.Info("Provider initialized", "provider", name, "model", p.Info().Model)
	return p, nil
}

// Infos returns Info for every distinct provider the routing table can
// reach and that initializes cleanly. Used by the health endpoint.
func (r *Registry) Infos() []Info {
	seen := make(map[string]bool)
	infos := make([]Info, 0, len(r.factories))
	for _, task := range Tasks() {
		name := r.ProviderFor(task)
		if seen[name] {
			continue
		}
		seen[name] = true

		p, err := r.Get(task)
		if err != nil {
			r.logger.Warn("Provider unavailable", "provider", name, "error", err)
			continue
		}
		infos = append(infos, p.Info())
	}
	return infos
}
