// Package config provides configuration loading and structs for the Kioku server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool              `yaml:"debug"`
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Memory      MemoryConfig      `yaml:"memory"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the path to the memory database.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// EmbeddingConfig holds settings for the external embedding backend.
type EmbeddingConfig struct {
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	Dimensions     int    `yaml:"dimensions"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	CooldownMillis int    `yaml:"cooldown_millis"`
	CacheSize      int    `yaml:"cache_size"`
}

// Timeout returns the per-call embedding timeout.
func (e *EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// Cooldown returns the pause between consecutive backend calls while the
// embed queue remains non-empty.
func (e *EmbeddingConfig) Cooldown() time.Duration {
	return time.Duration(e.CooldownMillis) * time.Millisecond
}

// MemoryConfig holds store/recall tuning.
type MemoryConfig struct {
	DuplicateThreshold float64  `yaml:"duplicate_threshold"`
	MaxContentLength   int      `yaml:"max_content_length"`
	MinSimilarity      float64  `yaml:"min_similarity"`
	MaxResults         int      `yaml:"max_results"`
	ExtraTypes         []string `yaml:"extra_types"`
}

// DiagnosticsConfig holds diagnostics reporting settings. ReportInterval is
// the number of requests between emitted reports; 0 disables reporting.
type DiagnosticsConfig struct {
	ReportInterval int `yaml:"report_interval"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
