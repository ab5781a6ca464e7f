package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all hush configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Policy   PolicyConfig   `yaml:"policy"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LLMConfig struct {
	Provider     string `yaml:"provider"` // "anthropic", "ollama"
	Model        string `yaml:"model"`
	OllamaURL    string `yaml:"ollama_url"`
	OllamaModel  string `yaml:"ollama_model"`
	AnthropicKey string `yaml:"anthropic_key"`
}

// PolicyConfig holds the spam engine tuning knobs. Every value has a
// default; zero values in a config file fall back to the default at load.
type PolicyConfig struct {
	InitialCooldownMinutes int `yaml:"initial_cooldown_minutes"`
	CooldownMultiplier     int `yaml:"cooldown_multiplier"`
	MaxCooldownMinutes     int `yaml:"max_cooldown_minutes"`
	MaxAttempts            int `yaml:"max_attempts"`
	LookbackDays           int `yaml:"lookback_days"`
	MaxSampleMessages      int `yaml:"max_sample_messages"`
	MaxRecentTrackers      int `yaml:"max_recent_trackers"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37788,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		LLM: LLMConfig{
			Provider: "anthropic",
		},
		Policy: PolicyConfig{
			InitialCooldownMinutes: 60,
			CooldownMultiplier:     2,
			MaxCooldownMinutes:     10080, // 7 days
			MaxAttempts:            5,
			LookbackDays:           7,
			MaxSampleMessages:      5,
			MaxRecentTrackers:      10,
		},
	}
}

// DefaultPath returns the default config file path: ~/.hush/config.yaml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".hush", "config.yaml"), nil
}

// Load reads a YAML config file and merges it over the defaults.
// A missing file is not an error — defaults apply. Env overrides
// (HUSH_DB, ANTHROPIC_API_KEY) are applied last.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg, nil
}

// applyDefaults fills zero-valued policy fields so a partial config file
// can't disable the backoff entirely.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Policy.InitialCooldownMinutes <= 0 {
		c.Policy.InitialCooldownMinutes = def.Policy.InitialCooldownMinutes
	}
	if c.Policy.CooldownMultiplier <= 0 {
		c.Policy.CooldownMultiplier = def.Policy.CooldownMultiplier
	}
	if c.Policy.MaxCooldownMinutes <= 0 {
		c.Policy.MaxCooldownMinutes = def.Policy.MaxCooldownMinutes
	}
	if c.Policy.MaxAttempts <= 0 {
		c.Policy.MaxAttempts = def.Policy.MaxAttempts
	}
	if c.Policy.LookbackDays <= 0 {
		c.Policy.LookbackDays = def.Policy.LookbackDays
	}
	if c.Policy.MaxSampleMessages <= 0 {
		c.Policy.MaxSampleMessages = def.Policy.MaxSampleMessages
	}
	if c.Policy.MaxRecentTrackers <= 0 {
		c.Policy.MaxRecentTrackers = def.Policy.MaxRecentTrackers
	}
	if c.Server.Bind == "" {
		c.Server.Bind = def.Server.Bind
	}
	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
}

func (c *Config) applyEnv() {
	if path := os.Getenv("HUSH_DB"); path != "" {
		c.Database.Path = path
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.Provider = "anthropic"
		c.LLM.AnthropicKey = key
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
