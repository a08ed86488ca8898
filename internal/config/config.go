package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		URL string `yaml:"url"`
	} `yaml:"server"`
	Session struct {
		JoinCode  string `yaml:"join_code"`
		SessionID string `yaml:"session_id"`
		Nickname  string `yaml:"nickname"`
		Token     string `yaml:"token"`
	} `yaml:"session"`
	Storage struct {
		// Backend picks where credentials and queued answers live:
		// "memory", "file" or "redis". Empty means memory.
		Backend string `yaml:"backend"`
		Dir     string `yaml:"dir"`
		Device  string `yaml:"device"`
	} `yaml:"storage"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Reconnect struct {
		InitialDelay string `yaml:"initial_delay"`
		MaxDelay     string `yaml:"max_delay"`
		MaxAttempts  int    `yaml:"max_attempts"`
	} `yaml:"reconnect"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadOptional behaves like Load but treats a missing file as an empty
// config, so the CLI works from flags alone.
func LoadOptional(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil && os.IsNotExist(err) {
		return Config{}, nil
	}
	return cfg, err
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
