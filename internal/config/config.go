package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"llmgate/internal/pricing"
)

const (
	DefaultPort           = 6970
	DefaultConfigFilename = "config.yaml"
	DefaultHost           = "127.0.0.1"
	DefaultSessionTTL     = 5 * time.Minute
)

// ProviderConfig describes one upstream endpoint and the protocol it
// speaks.
type ProviderConfig struct {
	Name     string `json:"name" yaml:"name"`
	Protocol string `json:"protocol" yaml:"protocol"`
	APIBase  string `json:"api_base_url" yaml:"api_base_url"`
	APIKey   string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
}

// BindingConfig attaches one concrete upstream model to a logical model.
type BindingConfig struct {
	Provider string                `json:"provider" yaml:"provider"`
	Model    string                `json:"model" yaml:"model"`
	Weight   float64               `json:"weight,omitempty" yaml:"weight,omitempty"`
	Enabled  *bool                 `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Pricing  *pricing.ModelPricing `json:"pricing,omitempty" yaml:"pricing,omitempty"`
}

// On reports whether the binding takes traffic. Unset means enabled.
func (b *BindingConfig) On() bool {
	return b.Enabled == nil || *b.Enabled
}

// ModelConfig is one logical model and its candidate bindings.
type ModelConfig struct {
	Name     string          `json:"name" yaml:"name"`
	Bindings []BindingConfig `json:"bindings" yaml:"bindings"`
}

// RouterConfig steers logical model selection.
type RouterConfig struct {
	Strategy             string `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Default              string `json:"default" yaml:"default"`
	LongContext          string `json:"long_context,omitempty" yaml:"long_context,omitempty"`
	LongContextThreshold int    `json:"long_context_threshold,omitempty" yaml:"long_context_threshold,omitempty"`
}

// StreamConfig tunes streaming session handling.
type StreamConfig struct {
	SessionTTL string `json:"session_ttl,omitempty" yaml:"session_ttl,omitempty"`
}

type Config struct {
	Host      string           `json:"host,omitempty" yaml:"host,omitempty"`
	Port      int              `json:"port,omitempty" yaml:"port,omitempty"`
	APIKey    string           `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Providers []ProviderConfig `json:"providers" yaml:"providers"`
	Models    []ModelConfig    `json:"models" yaml:"models"`
	Router    RouterConfig     `json:"router" yaml:"router"`
	Stream    StreamConfig     `json:"stream,omitempty" yaml:"stream,omitempty"`
}

// SessionTTL returns the parsed stream session TTL, defaulting when
// unset. Validate has already rejected unparseable values.
func (c *Config) SessionTTL() time.Duration {
	if c.Stream.SessionTTL == "" {
		return DefaultSessionTTL
	}

	ttl, err := time.ParseDuration(c.Stream.SessionTTL)
	if err != nil {
		return DefaultSessionTTL
	}

	return ttl
}

// Provider looks up a provider by name.
func (c *Config) Provider(name string) (*ProviderConfig, bool) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], true
		}
	}

	return nil, false
}

// Manager loads, validates and serves the active configuration. Readers
// get a consistent snapshot; reloads swap the snapshot atomically.
type Manager struct {
	configPath  string
	configValue atomic.Value
}

func NewManager(path string) *Manager {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, DefaultConfigFilename)
	}

	return &Manager{configPath: path}
}

// Load reads, decodes and validates the config file. Only a valid config
// replaces the active snapshot.
func (m *Manager) Load() (*Config, error) {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg, err := Parse(data, m.configPath)
	if err != nil {
		return nil, err
	}

	m.configValue.Store(cfg)

	return cfg, nil
}

// Parse decodes and validates a config document. YAML is assumed unless
// the path carries a .json extension.
func Parse(data []byte, path string) (*Config, error) {
	var cfg Config

	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Get returns the active snapshot, loading lazily on first use. A failed
// lazy load yields bare defaults so callers always get a usable value.
func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		return &Config{Host: DefaultHost, Port: DefaultPort}
	}

	return cfg
}

// Save validates, writes and activates a config.
func (m *Manager) Save(cfg *Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)

	if strings.EqualFold(filepath.Ext(m.configPath), ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)

	return nil
}

func (m *Manager) GetPath() string {
	return m.configPath
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}
