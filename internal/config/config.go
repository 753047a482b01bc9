// Package config provides configuration loading for renderpilot.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/esnunes/renderpilot/internal/paths"

	"gopkg.in/yaml.v3"
)

const (
	// ConfigFile is the name of the user config file inside the config directory.
	ConfigFile = "config.yaml"

	// APIKeyEnv holds the provider credential. It is never read from or written to disk.
	APIKeyEnv = "OPENAI_API_KEY"
	// APIKeyOverrideEnv takes precedence over APIKeyEnv when set.
	APIKeyOverrideEnv = "RENDERPILOT_API_KEY"
)

type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Session  SessionConfig  `yaml:"session"`
	Live     LiveConfig     `yaml:"live"`
	Server   ServerConfig   `yaml:"server"`

	// APIKey is filled from the environment only.
	APIKey string `yaml:"-"`
}

type ProviderConfig struct {
	// BaseURL overrides the provider endpoint (empty = provider default).
	BaseURL       string        `yaml:"base_url"`
	ChatModel     string        `yaml:"chat_model"`
	VisionModel   string        `yaml:"vision_model"`
	ImageModel    string        `yaml:"image_model"`
	RealtimeModel string        `yaml:"realtime_model"`
	RealtimeURL   string        `yaml:"realtime_url"`
	Timeout       time.Duration `yaml:"timeout"`
}

type SessionConfig struct {
	// DataDir holds the session database (empty = XDG data dir).
	DataDir      string `yaml:"data_dir"`
	LedgerCap    int    `yaml:"ledger_cap"`
	MessageCap   int    `yaml:"message_cap"`
	DefaultVoice string `yaml:"default_voice"`
}

type LiveConfig struct {
	InputSampleRate  int `yaml:"input_sample_rate"`
	OutputSampleRate int `yaml:"output_sample_rate"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			ChatModel:     "gpt-4o-mini",
			VisionModel:   "gpt-4o",
			ImageModel:    "gpt-image-1",
			RealtimeModel: "gpt-4o-realtime-preview",
			RealtimeURL:   "wss://api.openai.com/v1/realtime",
			Timeout:       120 * time.Second,
		},
		Session: SessionConfig{
			LedgerCap:    50,
			MessageCap:   100,
			DefaultVoice: "gt-pilot",
		},
		Live: LiveConfig{
			InputSampleRate:  24000,
			OutputSampleRate: 24000,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:0",
		},
	}
}

func (c *Config) Validate() error {
	if c.Provider.ChatModel == "" || c.Provider.VisionModel == "" || c.Provider.ImageModel == "" {
		return fmt.Errorf("provider models are required")
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("provider.timeout must be positive")
	}
	if c.Session.LedgerCap <= 0 || c.Session.MessageCap <= 0 {
		return fmt.Errorf("session caps must be positive")
	}
	if c.Live.InputSampleRate <= 0 || c.Live.OutputSampleRate <= 0 {
		return fmt.Errorf("live sample rates must be positive")
	}
	return nil
}

// LoadFromFile reads a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load resolves configuration with layered precedence: defaults, then the config
// file (explicit path or the user config dir), then the environment.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	explicit := path != ""
	if !explicit {
		dir, err := paths.ConfigDir()
		if err != nil {
			return nil, fmt.Errorf("getting config directory: %w", err)
		}
		path = filepath.Join(dir, ConfigFile)
	}

	cfg, err := LoadFromFile(path)
	switch {
	case err == nil:
		logger.Debug("Loaded config", slog.String("path", path))
	case !explicit && errors.Is(err, os.ErrNotExist):
		logger.Debug("No config file, using defaults", slog.String("path", path))
		cfg = DefaultConfig()
	default:
		return nil, err
	}

	cfg.APIKey = os.Getenv(APIKeyEnv)
	if v := os.Getenv(APIKeyOverrideEnv); v != "" {
		cfg.APIKey = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
