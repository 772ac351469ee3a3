// Package config loads the tabmon YAML configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/focusd/tabmon/config.yaml"

// Config holds all tabmon configuration.
type Config struct {
	Daemon  DaemonConfig  `yaml:"daemon"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Client  ClientConfig  `yaml:"client"`
}

type DaemonConfig struct {
	Listen                      string   `yaml:"listen"`
	HeartbeatIntervalSeconds    int      `yaml:"heartbeat_interval_seconds"`
	BrowserCheckIntervalSeconds int      `yaml:"browser_check_interval_seconds"`
	BrowserProcesses            []string `yaml:"browser_processes"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
	File    string `yaml:"file"`
	Encrypt bool   `yaml:"encrypt"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

type ClientConfig struct {
	Retries        int `yaml:"retries"`
	RetryDelayMs   int `yaml:"retry_delay_ms"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read, contains invalid YAML or
// fails validation.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}
		return cfg, nil
	}

	return Load(path)
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// Validate checks values a zero or malformed setting would break.
func (c *Config) Validate() error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.Daemon.Listen); err != nil {
		errs = append(errs, fmt.Errorf("daemon.listen %q: %w", c.Daemon.Listen, err))
	}
	if c.Daemon.HeartbeatIntervalSeconds <= 0 {
		errs = append(errs, errors.New("daemon.heartbeat_interval_seconds must be positive"))
	}
	if c.Daemon.BrowserCheckIntervalSeconds < 0 {
		errs = append(errs, errors.New("daemon.browser_check_interval_seconds must not be negative"))
	}
	if c.Storage.DataDir == "" || c.Storage.File == "" {
		errs = append(errs, errors.New("storage.data_dir and storage.file are required"))
	}
	if c.Metrics.Enabled && c.Metrics.Endpoint == "" {
		errs = append(errs, errors.New("metrics.endpoint is required when metrics are enabled"))
	}
	if c.Client.Retries < 0 || c.Client.RetryDelayMs < 0 {
		errs = append(errs, errors.New("client retries and retry_delay_ms must not be negative"))
	}
	return errors.Join(errs...)
}

// DataDir returns the expanded data directory.
func (c *Config) DataDir() (string, error) {
	return ExpandPath(c.Storage.DataDir)
}

// DBPath returns the session database path.
func (c *Config) DBPath() (string, error) {
	dir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.File), nil
}

// LogPath returns the log file path. Relative names live in the data dir.
func (c *Config) LogPath() (string, error) {
	if c.Logging.File == "" {
		return "", nil
	}
	p, err := ExpandPath(c.Logging.File)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(p) {
		return p, nil
	}
	dir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, p), nil
}

// HeartbeatInterval returns the registry heartbeat period.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Daemon.HeartbeatIntervalSeconds) * time.Second
}

// BrowserCheckInterval returns the browser liveness period. Zero disables it.
func (c *Config) BrowserCheckInterval() time.Duration {
	return time.Duration(c.Daemon.BrowserCheckIntervalSeconds) * time.Second
}

// RetryDelay returns the client's delay between attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Client.RetryDelayMs) * time.Millisecond
}

// ClientTimeout returns the per-request timeout.
func (c *Config) ClientTimeout() time.Duration {
	return time.Duration(c.Client.TimeoutSeconds) * time.Second
}
