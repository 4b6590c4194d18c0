// ABOUTME: Server configuration from VIEWCLONE_* environment variables and an optional YAML file.
// ABOUTME: Enforces security constraint: remote access requires auth token.
package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration validation errors.
var (
	ErrRemoteWithoutToken = errors.New(
		"VIEWCLONE_ALLOW_REMOTE is true but VIEWCLONE_AUTH_TOKEN is not set; refusing to start without authentication",
	)
	ErrNonLoopbackBind = errors.New(
		"VIEWCLONE_BIND is a non-loopback address but VIEWCLONE_ALLOW_REMOTE is not true; set VIEWCLONE_ALLOW_REMOTE=true and VIEWCLONE_AUTH_TOKEN to allow remote access",
	)
)

// Config holds server configuration.
type Config struct {
	Home         string        // Data directory (VIEWCLONE_HOME, default: ~/.viewclone)
	Bind         string        // Socket address (VIEWCLONE_BIND, default: 127.0.0.1:7780)
	AllowRemote  bool          // Allow non-loopback binds (VIEWCLONE_ALLOW_REMOTE)
	AuthToken    string        // Bearer token for /api (VIEWCLONE_AUTH_TOKEN)
	ContentURL   string        // Content service base URL (VIEWCLONE_CONTENT_URL)
	ContentToken string        // Content service token (VIEWCLONE_CONTENT_TOKEN)
	IndexURL     string        // Index service base URL (VIEWCLONE_INDEX_URL)
	IndexToken   string        // Index service token (VIEWCLONE_INDEX_TOKEN)
	MaxParallel  int           // Concurrence width (VIEWCLONE_MAX_PARALLEL, default 4)
	PollInterval time.Duration // Remote task poll interval (VIEWCLONE_POLL_INTERVAL, default 500ms)
	ConfigFile   string        // Optional YAML file (VIEWCLONE_CONFIG)
}

// DatabasePath is the SQLite content database under Home.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Home, "content.db")
}

// RunsDir is the run store directory under Home.
func (c *Config) RunsDir() string {
	return filepath.Join(c.Home, "runs")
}

// fileConfig is the YAML layout of VIEWCLONE_CONFIG.
type fileConfig struct {
	Home        string `yaml:"home"`
	Bind        string `yaml:"bind"`
	MaxParallel int    `yaml:"max_parallel"`
	// PollInterval is a Go duration string such as "250ms".
	PollInterval string          `yaml:"poll_interval"`
	Content      serviceEndpoint `yaml:"content"`
	Index        serviceEndpoint `yaml:"index"`
}

type serviceEndpoint struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// ConfigFromEnv loads configuration. Values from VIEWCLONE_CONFIG are applied
// first and environment variables override them.
func ConfigFromEnv() (*Config, error) {
	cfg := &Config{
		Bind:         "127.0.0.1:7780",
		ContentURL:   "http://127.0.0.1:8080/pulp/api/v2",
		IndexURL:     "http://127.0.0.1:9200",
		MaxParallel:  4,
		PollInterval: 500 * time.Millisecond,
		ConfigFile:   os.Getenv("VIEWCLONE_CONFIG"),
	}

	if cfg.ConfigFile != "" {
		fc, err := loadConfigFile(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		if err := fc.apply(cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", cfg.ConfigFile, err)
		}
	}

	cfg.Home = envOrDefault("VIEWCLONE_HOME", cfg.Home)
	if cfg.Home == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "/tmp"
		}
		cfg.Home = filepath.Join(homeDir, ".viewclone")
	}
	cfg.Bind = envOrDefault("VIEWCLONE_BIND", cfg.Bind)
	if v := os.Getenv("VIEWCLONE_ALLOW_REMOTE"); v == "true" || v == "1" || v == "yes" {
		cfg.AllowRemote = true
	}
	cfg.AuthToken = envOrDefault("VIEWCLONE_AUTH_TOKEN", cfg.AuthToken)
	cfg.ContentURL = envOrDefault("VIEWCLONE_CONTENT_URL", cfg.ContentURL)
	cfg.ContentToken = envOrDefault("VIEWCLONE_CONTENT_TOKEN", cfg.ContentToken)
	cfg.IndexURL = envOrDefault("VIEWCLONE_INDEX_URL", cfg.IndexURL)
	cfg.IndexToken = envOrDefault("VIEWCLONE_INDEX_TOKEN", cfg.IndexToken)

	if v := os.Getenv("VIEWCLONE_MAX_PARALLEL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("VIEWCLONE_MAX_PARALLEL must be a positive integer, got %q", v)
		}
		cfg.MaxParallel = n
	}
	if v := os.Getenv("VIEWCLONE_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("VIEWCLONE_POLL_INTERVAL must be a positive duration, got %q", v)
		}
		cfg.PollInterval = d
	}

	// Security: remote access requires auth token
	if cfg.AllowRemote && cfg.AuthToken == "" {
		return nil, ErrRemoteWithoutToken
	}
	if !cfg.AllowRemote {
		if err := checkLoopback(cfg.Bind); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// checkLoopback refuses binds other than 127.0.0.0/8, ::1, and "localhost".
func checkLoopback(bind string) error {
	host, _, err := net.SplitHostPort(bind)
	if err != nil || host == "" {
		return nil
	}
	ip := net.ParseIP(host)
	switch {
	case ip != nil && ip.IsLoopback():
	case ip != nil:
		return fmt.Errorf("%w: VIEWCLONE_BIND=%s", ErrNonLoopbackBind, bind)
	case host == "localhost":
	default:
		return fmt.Errorf("%w: VIEWCLONE_BIND=%s", ErrNonLoopbackBind, bind)
	}
	return nil
}

func loadConfigFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &fc, nil
}

func (fc *fileConfig) apply(cfg *Config) error {
	if fc.Home != "" {
		cfg.Home = fc.Home
	}
	if fc.Bind != "" {
		cfg.Bind = fc.Bind
	}
	if fc.MaxParallel > 0 {
		cfg.MaxParallel = fc.MaxParallel
	}
	if fc.PollInterval != "" {
		d, err := time.ParseDuration(fc.PollInterval)
		if err != nil {
			return fmt.Errorf("poll_interval: %w", err)
		}
		cfg.PollInterval = d
	}
	if fc.Content.URL != "" {
		cfg.ContentURL = fc.Content.URL
	}
	if fc.Content.Token != "" {
		cfg.ContentToken = fc.Content.Token
	}
	if fc.Index.URL != "" {
		cfg.IndexURL = fc.Index.URL
	}
	if fc.Index.Token != "" {
		cfg.IndexToken = fc.Index.Token
	}
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
