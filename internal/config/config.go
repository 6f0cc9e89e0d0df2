// Package config loads the agent configuration from YAML with environment
// overrides for the secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full agent configuration.
type Config struct {
	Hub     HubConfig     `yaml:"hub"`
	Session SessionConfig `yaml:"session"`
	Journal JournalConfig `yaml:"journal"`
	Logging LoggingConfig `yaml:"logging"`
}

type HubConfig struct {
	URL string `yaml:"url"`
	// AgentID is optional; the daemon generates one when unset.
	AgentID string `yaml:"agent_id"`
	Secret  string `yaml:"secret"`

	HeartbeatIntervalMs int `yaml:"heartbeat_interval_ms"`
	InitialAttempts     int `yaml:"initial_attempts"`
	BackoffBaseMs       int `yaml:"backoff_base_ms"`
	BackoffMaxMs        int `yaml:"backoff_max_ms"`
	// A clean close initiated by the hub is retried after the short delay;
	// one initiated locally waits for the longer delay so the hub sees the
	// close acknowledged first. Tunables, not protocol constants.
	RemoteCloseDelayMs int `yaml:"remote_close_delay_ms"`
	LocalCloseDelayMs  int `yaml:"local_close_delay_ms"`
}

type SessionConfig struct {
	ScrollbackBytes int `yaml:"scrollback_bytes"`
	ReapIntervalMs  int `yaml:"reap_interval_ms"`
}

type JournalConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads configuration from a file and applies env overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if url := os.Getenv("TETHER_HUB_URL"); url != "" {
		cfg.Hub.URL = url
	}
	if secret := os.Getenv("TETHER_AGENT_SECRET"); secret != "" {
		cfg.Hub.Secret = secret
	}
	if id := os.Getenv("TETHER_AGENT_ID"); id != "" {
		cfg.Hub.AgentID = id
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Hub.URL == "" {
		return fmt.Errorf("hub.url is required")
	}
	if c.Hub.Secret == "" {
		return fmt.Errorf("hub.secret is required")
	}
	return nil
}

// durations with defaults

func msOr(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func (h HubConfig) HeartbeatInterval() time.Duration {
	return msOr(h.HeartbeatIntervalMs, 30*time.Second)
}

func (h HubConfig) BackoffBase() time.Duration { return msOr(h.BackoffBaseMs, time.Second) }
func (h HubConfig) BackoffMax() time.Duration  { return msOr(h.BackoffMaxMs, 10*time.Second) }

func (h HubConfig) RemoteCloseDelay() time.Duration { return msOr(h.RemoteCloseDelayMs, 2*time.Second) }
func (h HubConfig) LocalCloseDelay() time.Duration  { return msOr(h.LocalCloseDelayMs, 10*time.Second) }

func (s SessionConfig) ReapInterval() time.Duration { return msOr(s.ReapIntervalMs, time.Minute) }
