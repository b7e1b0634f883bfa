package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Data       Data       `yaml:"data"`
	Queues     Queues     `yaml:"queues"`
	Workers    Workers    `yaml:"workers"`
	Scheduler  Scheduler  `yaml:"scheduler"`
	Fetch      Fetch      `yaml:"fetch"`
	Enrichment Enrichment `yaml:"enrichment"`
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
}

type Data struct {
	Dir string `yaml:"dir"`
}

type Queues struct {
	Backend            string `yaml:"backend"` // "memory" or "sqlite"
	FetchCapacity      int    `yaml:"fetch_capacity"`
	ProcessingCapacity int    `yaml:"processing_capacity"`
}

type Workers struct {
	Fetch                int `yaml:"fetch"`
	Processing           int `yaml:"processing"`
	ShutdownGraceSeconds int `yaml:"shutdown_grace_seconds"`
}

type Scheduler struct {
	FetchIntervalSeconds      int `yaml:"fetch_interval_seconds"`
	ProcessingIntervalSeconds int `yaml:"processing_interval_seconds"`
	BriefingIntervalSeconds   int `yaml:"briefing_interval_seconds"`
	RecoveryIntervalSeconds   int `yaml:"recovery_interval_seconds"`
	StuckThresholdMinutes     int `yaml:"stuck_threshold_minutes"`
	FetchBatchSize            int `yaml:"fetch_batch_size"`
	ProcessingBatchSize       int `yaml:"processing_batch_size"`
	DefaultRefreshMinutes     int `yaml:"default_refresh_minutes"`
	MaxRetries                int `yaml:"max_retries"`
}

type Fetch struct {
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	UserAgent         string  `yaml:"user_agent"`
}

type Enrichment struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	OllamaURL string `yaml:"ollama_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	MaxTokens int    `yaml:"max_tokens"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// ConfigDir returns the XDG config directory for driftline.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "driftline")
}

// DataDir returns the XDG data directory for driftline.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "driftline")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/driftline/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'driftline init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Queues: Queues{
			Backend:            "memory",
			FetchCapacity:      100,
			ProcessingCapacity: 200,
		},
		Workers: Workers{
			Fetch:                4,
			Processing:           4,
			ShutdownGraceSeconds: 30,
		},
		Scheduler: Scheduler{
			FetchIntervalSeconds:      60,
			ProcessingIntervalSeconds: 30,
			BriefingIntervalSeconds:   60,
			RecoveryIntervalSeconds:   300,
			StuckThresholdMinutes:     10,
			FetchBatchSize:            50,
			ProcessingBatchSize:       25,
			DefaultRefreshMinutes:     30,
			MaxRetries:                3,
		},
		Fetch: Fetch{
			TimeoutSeconds:    15,
			RequestsPerSecond: 2,
			UserAgent:         "driftline/1.0 (content monitor)",
		},
		Enrichment: Enrichment{
			Provider:  "ollama",
			Model:     "qwen2.5:7b",
			OllamaURL: "http://localhost:11434",
			APIKeyEnv: "OPENAI_API_KEY",
			MaxTokens: 512,
		},
		Server:  Server{Port: 8600},
		Logging: Logging{Level: "info", Format: "console"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Queues.Backend != "memory" && cfg.Queues.Backend != "sqlite" {
		return nil, fmt.Errorf("unknown queue backend %q (want memory or sqlite)", cfg.Queues.Backend)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Data.Dir != "" {
		return c.Data.Dir
	}
	return DataDir()
}

// ShutdownGrace returns the worker drain grace period as a duration.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Workers.ShutdownGraceSeconds) * time.Second
}

// StuckThreshold returns the in-flight stuck threshold as a duration.
func (c *Config) StuckThreshold() time.Duration {
	return time.Duration(c.Scheduler.StuckThresholdMinutes) * time.Minute
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
