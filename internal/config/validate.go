package config

import (
	"fmt"
	"time"

	"llmgate/internal/balancer"
	"llmgate/internal/pricing"
	"llmgate/internal/transform/factory"
	"llmgate/internal/unified"
)

// Validate checks a config the way load does: every protocol known, every
// binding reference resolvable, every pricing block constructible, the
// router pointing at configured models. Validation failures surface as
// *unified.ConfigurationError so a reload can be rejected without
// touching the running config.
func Validate(cfg *Config) error {
	providers := make(map[string]bool, len(cfg.Providers))

	for i, provider := range cfg.Providers {
		if provider.Name == "" {
			return confErr("providers[%d]: name is required", i)
		}

		if providers[provider.Name] {
			return confErr("providers[%d]: duplicate name %q", i, provider.Name)
		}

		providers[provider.Name] = true

		if provider.APIBase == "" {
			return confErr("provider %q: api_base_url is required", provider.Name)
		}

		if !factory.Supported(provider.Protocol) {
			return confErr("provider %q: unknown protocol %q (supported: %v)",
				provider.Name, provider.Protocol, factory.Protocols())
		}
	}

	models := make(map[string]bool, len(cfg.Models))

	for i, model := range cfg.Models {
		if model.Name == "" {
			return confErr("models[%d]: name is required", i)
		}

		if models[model.Name] {
			return confErr("models[%d]: duplicate name %q", i, model.Name)
		}

		models[model.Name] = true

		if len(model.Bindings) == 0 {
			return confErr("model %q: at least one binding is required", model.Name)
		}

		for j, binding := range model.Bindings {
			if !providers[binding.Provider] {
				return confErr("model %q bindings[%d]: unknown provider %q",
					model.Name, j, binding.Provider)
			}

			if binding.Model == "" {
				return confErr("model %q bindings[%d]: model is required", model.Name, j)
			}

			if binding.Weight < 0 {
				return confErr("model %q bindings[%d]: weight must be non-negative", model.Name, j)
			}

			if binding.Pricing != nil {
				if _, err := pricing.New(*binding.Pricing); err != nil {
					return fmt.Errorf("model %q bindings[%d]: %w", model.Name, j, err)
				}
			}
		}
	}

	if _, err := balancer.New(cfg.Router.Strategy); err != nil {
		return err
	}

	if cfg.Router.Default != "" && !models[cfg.Router.Default] {
		return confErr("router.default: unknown model %q", cfg.Router.Default)
	}

	if cfg.Router.LongContext != "" && !models[cfg.Router.LongContext] {
		return confErr("router.long_context: unknown model %q", cfg.Router.LongContext)
	}

	if cfg.Router.LongContextThreshold < 0 {
		return confErr("router.long_context_threshold must be non-negative")
	}

	if cfg.Stream.SessionTTL != "" {
		if _, err := time.ParseDuration(cfg.Stream.SessionTTL); err != nil {
			return confErr("stream.session_ttl: %v", err)
		}
	}

	return nil
}

func confErr(format string, args ...any) error {
	return &unified.ConfigurationError{Detail: fmt.Sprintf(format, args...)}
}
