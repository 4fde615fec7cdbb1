package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgate/internal/pricing"
	"llmgate/internal/unified"
)

const sampleYAML = `
host: 127.0.0.1
port: 9100
api_key: gw-secret
providers:
  - name: openai-main
    protocol: openai
    api_base_url: https://api.openai.com/v1/chat/completions
    api_key: sk-test
  - name: anthropic-main
    protocol: anthropic
    api_base_url: https://api.anthropic.com/v1/messages
    api_key: ak-test
models:
  - name: default
    bindings:
      - provider: openai-main
        model: gpt-4o
        weight: 3
        pricing:
          mode: fixed
          rates: {input: 2.5, output: 10}
      - provider: anthropic-main
        model: claude-sonnet-4
        weight: 1
        pricing:
          mode: tiered
          tiers:
            - {start: 0, input: 0.01, output: 0.03}
            - {start: 1001, input: 0.008, output: 0.024}
router:
  strategy: hybrid
  default: default
stream:
  session_ttl: 2m
`

func TestParse_YAML(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML), "config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "gw-secret", cfg.APIKey)
	require.Len(t, cfg.Providers, 2)
	require.Len(t, cfg.Models, 1)
	require.Len(t, cfg.Models[0].Bindings, 2)
	assert.Equal(t, "hybrid", cfg.Router.Strategy)
	assert.Equal(t, 2*time.Minute, cfg.SessionTTL())

	binding := cfg.Models[0].Bindings[1]
	require.NotNil(t, binding.Pricing)
	assert.Equal(t, pricing.ModeTiered, binding.Pricing.Mode)
	require.Len(t, binding.Pricing.Tiers, 2)
	assert.Equal(t, int64(1001), binding.Pricing.Tiers[1].Start)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("providers: []\nmodels: []\nrouter: {}"), "config.yaml")
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultSessionTTL, cfg.SessionTTL())
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown protocol", func(c *Config) { c.Providers[0].Protocol = "grpc" }},
		{"duplicate provider", func(c *Config) { c.Providers[1].Name = c.Providers[0].Name }},
		{"missing api base", func(c *Config) { c.Providers[0].APIBase = "" }},
		{"unknown binding provider", func(c *Config) { c.Models[0].Bindings[0].Provider = "nope" }},
		{"negative weight", func(c *Config) { c.Models[0].Bindings[0].Weight = -1 }},
		{"bad tiers", func(c *Config) { c.Models[0].Bindings[1].Pricing.Tiers[0].Start = 5 }},
		{"unknown strategy", func(c *Config) { c.Router.Strategy = "sticky" }},
		{"unknown default model", func(c *Config) { c.Router.Default = "missing" }},
		{"bad session ttl", func(c *Config) { c.Stream.SessionTTL = "soon" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(sampleYAML), "config.yaml")
			require.NoError(t, err)

			tt.mutate(cfg)

			err = Validate(cfg)
			require.Error(t, err)

			var cerr *unified.ConfigurationError
			assert.ErrorAs(t, err, &cerr)
		})
	}
}

func TestManager_SaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(filepath.Join(tmpDir, "config.yaml"))

	cfg, err := Parse([]byte(sampleYAML), "config.yaml")
	require.NoError(t, err)

	require.NoError(t, manager.Save(cfg))
	assert.True(t, manager.Exists())

	loaded, err := manager.Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.Port, loaded.Port)
	assert.Equal(t, cfg.Models[0].Name, loaded.Models[0].Name)

	// The active snapshot serves without touching the file again.
	require.NoError(t, os.Remove(manager.GetPath()))
	assert.Equal(t, loaded, manager.Get())
}

func TestManager_JSONExtension(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(filepath.Join(tmpDir, "config.json"))

	cfg, err := Parse([]byte(sampleYAML), "config.yaml")
	require.NoError(t, err)

	require.NoError(t, manager.Save(cfg))

	data, err := os.ReadFile(manager.GetPath())
	require.NoError(t, err)
	assert.True(t, len(data) > 0 && data[0] == '{', "json extension should produce a JSON document")

	loaded, err := manager.Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.Models[0].Name, loaded.Models[0].Name)
}

func TestBuildRegistry(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML), "config.yaml")
	require.NoError(t, err)

	reg, err := BuildRegistry(cfg)
	require.NoError(t, err)

	candidates := reg.Candidates("default")
	require.Len(t, candidates, 2)

	assert.Equal(t, "openai-main", candidates[0].Provider)
	assert.Equal(t, "openai", candidates[0].Protocol)
	assert.Equal(t, "gpt-4o", candidates[0].Model)
	assert.InDelta(t, 3, candidates[0].Weight, 1e-9)
	require.NotNil(t, candidates[0].Pricing)
	assert.Equal(t, pricing.ModeFixed, candidates[0].Pricing.Mode())

	require.NotNil(t, candidates[1].Pricing)
	assert.Equal(t, pricing.ModeTiered, candidates[1].Pricing.Mode())
}

func TestBuildBindings_DisabledBinding(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML), "config.yaml")
	require.NoError(t, err)

	off := false
	cfg.Models[0].Bindings[1].Enabled = &off

	reg, err := BuildRegistry(cfg)
	require.NoError(t, err)

	candidates := reg.Candidates("default")
	require.Len(t, candidates, 1)
	assert.Equal(t, "openai-main", candidates[0].Provider)
}
