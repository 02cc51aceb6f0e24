package factory

import (
	"fmt"

	"github.com/upb/omnichat-gateway/services/providers"
	"github.com/upb/omnichat-gateway/services/providers/anthropic"
	"github.com/upb/omnichat-gateway/services/providers/gemini"
	"github.com/upb/omnichat-gateway/services/providers/openaicompat"
)

// Builder creates the adapter for one provider config
type Builder func(cfg providers.Config) (providers.Adapter, error)

// RegistryBuilder maps adapter kinds to builders and assembles a registry
type RegistryBuilder struct {
	builders map[string]Builder
}

// NewRegistryBuilder returns a builder that knows every shipped adapter kind
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{
		builders: map[string]Builder{
			providers.KindOpenAI: func(cfg providers.Config) (providers.Adapter, error) {
				return openaicompat.New(cfg), nil
			},
			providers.KindGemini: func(cfg providers.Config) (providers.Adapter, error) {
				return gemini.New(cfg), nil
			},
			providers.KindAnthropic: func(cfg providers.Config) (providers.Adapter, error) {
				return anthropic.New(cfg), nil
			},
		},
	}
}

// WithBuilder overrides or adds the builder for a kind
func (rb *RegistryBuilder) WithBuilder(kind string, builder Builder) *RegistryBuilder {
	rb.builders[kind] = builder
	return rb
}

// Build creates an adapter per config and registers them in order
func (rb *RegistryBuilder) Build(configs []providers.Config) (*providers.Registry, error) {
	registry := providers.NewRegistry()

	for _, cfg := range configs {
		builder, ok := rb.builders[cfg.Kind]
		if !ok {
			return nil, fmt.Errorf("provider %s: unknown kind %q", cfg.Name, cfg.Kind)
		}
		adapter, err := builder(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build provider %s: %w", cfg.Name, err)
		}
		if err := registry.Register(cfg, adapter); err != nil {
			return nil, fmt.Errorf("failed to register provider %s: %w", cfg.Name, err)
		}
	}

	return registry, nil
}
