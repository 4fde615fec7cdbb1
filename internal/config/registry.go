package config

import (
	"fmt"

	"llmgate/internal/pricing"
	"llmgate/internal/registry"
)

// BuildRegistry materializes the logical model registry from a validated
// config, constructing each binding's pricing strategy once at load time.
func BuildRegistry(cfg *Config) (*registry.Registry, error) {
	bindings, err := BuildBindings(cfg)
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	reg.Replace(bindings)

	return reg, nil
}

// BuildBindings builds the logical-to-binding map from a validated
// config. Reloads use it to swap a live registry in place.
func BuildBindings(cfg *Config) (map[string][]*registry.Binding, error) {
	bindings := make(map[string][]*registry.Binding, len(cfg.Models))

	for _, model := range cfg.Models {
		for _, bc := range model.Bindings {
			provider, ok := cfg.Provider(bc.Provider)
			if !ok {
				return nil, confErr("model %q: unknown provider %q", model.Name, bc.Provider)
			}

			binding := &registry.Binding{
				Provider: provider.Name,
				Model:    bc.Model,
				Protocol: provider.Protocol,
				APIBase:  provider.APIBase,
				APIKey:   provider.APIKey,
				Weight:   bc.Weight,
				Enabled:  bc.On(),
			}

			if bc.Pricing != nil {
				strategy, err := pricing.New(*bc.Pricing)
				if err != nil {
					return nil, fmt.Errorf("model %q binding %q: %w", model.Name, bc.Model, err)
				}

				binding.Pricing = strategy
			}

			bindings[model.Name] = append(bindings[model.Name], binding)
		}
	}

	return bindings, nil
}
