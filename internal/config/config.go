package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Bounds for ParallelDownloads.
const (
	MinParallelDownloads = 1
	MaxParallelDownloads = 16
)

// Config defines configuration for the launcher download engine.
type Config struct {
	DownloadDir        string
	DatabasePath       string
	ParallelDownloads  int
	DownloadSpeedLimit int64 // bytes per second, 0 for unlimited
	MaxRetries         int
	ChunkSize          int64
	CheckpointInterval time.Duration
	UserAgent          string
	LogLevel           string
	GitHub             ProviderConfig
	GitLab             ProviderConfig
}

// ProviderConfig holds the endpoint and optional bearer token of a source
// provider.
type ProviderConfig struct {
	URL   string
	Token string
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		DownloadDir:        defaultDownloadDir(),
		DatabasePath:       defaultDatabasePath(),
		ParallelDownloads:  4,
		DownloadSpeedLimit: 0,
		MaxRetries:         3,
		ChunkSize:          32 * 1024,
		CheckpointInterval: time.Second,
		UserAgent:          "launcher-go/1.0",
		LogLevel:           "info",
		GitHub:             ProviderConfig{URL: "https://api.github.com"},
		GitLab:             ProviderConfig{URL: "https://gitlab.com"},
	}
}

// yamlConfig is the on-disk shape. Sizes and durations are strings, counts
// are pointers so that an explicit 0 survives the merge with defaults.
type yamlConfig struct {
	DownloadDir        string             `yaml:"download_dir,omitempty"`
	DatabasePath       string             `yaml:"database_path,omitempty"`
	ParallelDownloads  *int               `yaml:"parallel_downloads,omitempty"`
	DownloadSpeedLimit string             `yaml:"download_speed_limit,omitempty"`
	MaxRetries         *int               `yaml:"max_retries,omitempty"`
	ChunkSize          string             `yaml:"chunk_size,omitempty"`
	CheckpointInterval string             `yaml:"checkpoint_interval,omitempty"`
	UserAgent          string             `yaml:"user_agent,omitempty"`
	LogLevel           string             `yaml:"log_level,omitempty"`
	GitHub             yamlProviderConfig `yaml:"github,omitempty"`
	GitLab             yamlProviderConfig `yaml:"gitlab,omitempty"`
}

type yamlProviderConfig struct {
	URL   string `yaml:"url,omitempty"`
	Token string `yaml:"token,omitempty"`
}

// LoadFromFile loads configuration from a YAML file on top of Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.DownloadDir != "" {
		cfg.DownloadDir = yc.DownloadDir
	}
	if yc.DatabasePath != "" {
		cfg.DatabasePath = yc.DatabasePath
	}
	if yc.ParallelDownloads != nil {
		cfg.ParallelDownloads = *yc.ParallelDownloads
	}
	if yc.DownloadSpeedLimit != "" {
		limit, err := ParseBytes(yc.DownloadSpeedLimit)
		if err != nil {
			return Config{}, fmt.Errorf("parse download_speed_limit: %w", err)
		}
		cfg.DownloadSpeedLimit = limit
	}
	if yc.MaxRetries != nil {
		cfg.MaxRetries = *yc.MaxRetries
	}
	if yc.ChunkSize != "" {
		size, err := ParseBytes(yc.ChunkSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse chunk_size: %w", err)
		}
		cfg.ChunkSize = size
	}
	if yc.CheckpointInterval != "" {
		d, err := time.ParseDuration(yc.CheckpointInterval)
		if err != nil {
			return Config{}, fmt.Errorf("parse checkpoint_interval: %w", err)
		}
		cfg.CheckpointInterval = d
	}
	if yc.UserAgent != "" {
		cfg.UserAgent = yc.UserAgent
	}
	if yc.LogLevel != "" {
		cfg.LogLevel = yc.LogLevel
	}
	if yc.GitHub.URL != "" {
		cfg.GitHub.URL = yc.GitHub.URL
	}
	cfg.GitHub.Token = yc.GitHub.Token
	if yc.GitLab.URL != "" {
		cfg.GitLab.URL = yc.GitLab.URL
	}
	cfg.GitLab.Token = yc.GitLab.Token

	return cfg, nil
}

// SaveToFile writes c as YAML, creating the parent directory if needed.
func (c Config) SaveToFile(path string) error {
	parallel := c.ParallelDownloads
	retries := c.MaxRetries
	yc := yamlConfig{
		DownloadDir:        c.DownloadDir,
		DatabasePath:       c.DatabasePath,
		ParallelDownloads:  &parallel,
		DownloadSpeedLimit: strconv.FormatInt(c.DownloadSpeedLimit, 10),
		MaxRetries:         &retries,
		ChunkSize:          strconv.FormatInt(c.ChunkSize, 10),
		CheckpointInterval: c.CheckpointInterval.String(),
		UserAgent:          c.UserAgent,
		LogLevel:           c.LogLevel,
		GitHub:             yamlProviderConfig{URL: c.GitHub.URL, Token: c.GitHub.Token},
		GitLab:             yamlProviderConfig{URL: c.GitLab.URL, Token: c.GitLab.Token},
	}

	data, err := yaml.Marshal(&yc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the LAUNCHER_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("LAUNCHER_DOWNLOAD_DIR"); v != "" {
		c.DownloadDir = v
	}
	if v := os.Getenv("LAUNCHER_DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("LAUNCHER_PARALLEL_DOWNLOADS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse LAUNCHER_PARALLEL_DOWNLOADS: %w", err)
		}
		c.ParallelDownloads = n
	}
	if v := os.Getenv("LAUNCHER_DOWNLOAD_SPEED_LIMIT"); v != "" {
		limit, err := ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse LAUNCHER_DOWNLOAD_SPEED_LIMIT: %w", err)
		}
		c.DownloadSpeedLimit = limit
	}
	if v := os.Getenv("LAUNCHER_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse LAUNCHER_MAX_RETRIES: %w", err)
		}
		c.MaxRetries = n
	}
	if v := os.Getenv("LAUNCHER_CHUNK_SIZE"); v != "" {
		size, err := ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse LAUNCHER_CHUNK_SIZE: %w", err)
		}
		c.ChunkSize = size
	}
	if v := os.Getenv("LAUNCHER_CHECKPOINT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse LAUNCHER_CHECKPOINT_INTERVAL: %w", err)
		}
		c.CheckpointInterval = d
	}
	if v := os.Getenv("LAUNCHER_USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv("LAUNCHER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LAUNCHER_GITHUB_API_URL"); v != "" {
		c.GitHub.URL = v
	}
	if v := os.Getenv("LAUNCHER_GITHUB_TOKEN"); v != "" {
		c.GitHub.Token = v
	}
	if v := os.Getenv("LAUNCHER_GITLAB_URL"); v != "" {
		c.GitLab.URL = v
	}
	if v := os.Getenv("LAUNCHER_GITLAB_TOKEN"); v != "" {
		c.GitLab.Token = v
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DownloadDir == "" {
		return errors.New("config: download_dir is required")
	}
	if c.DatabasePath == "" {
		return errors.New("config: database_path is required")
	}
	if c.ParallelDownloads < MinParallelDownloads || c.ParallelDownloads > MaxParallelDownloads {
		return fmt.Errorf("config: parallel_downloads must be between %d and %d", MinParallelDownloads, MaxParallelDownloads)
	}
	if c.DownloadSpeedLimit < 0 {
		return errors.New("config: download_speed_limit must not be negative")
	}
	if c.MaxRetries < 0 {
		return errors.New("config: max_retries must not be negative")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: chunk_size must be positive")
	}
	if c.CheckpointInterval < 0 {
		return errors.New("config: checkpoint_interval must not be negative")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.DownloadDir != "" {
		c.DownloadDir = override.DownloadDir
	}
	if override.DatabasePath != "" {
		c.DatabasePath = override.DatabasePath
	}
	if override.ParallelDownloads != 0 {
		c.ParallelDownloads = override.ParallelDownloads
	}
	if override.DownloadSpeedLimit != 0 {
		c.DownloadSpeedLimit = override.DownloadSpeedLimit
	}
	if override.MaxRetries != 0 {
		c.MaxRetries = override.MaxRetries
	}
	if override.ChunkSize != 0 {
		c.ChunkSize = override.ChunkSize
	}
	if override.CheckpointInterval != 0 {
		c.CheckpointInterval = override.CheckpointInterval
	}
	if override.UserAgent != "" {
		c.UserAgent = override.UserAgent
	}
	if override.LogLevel != "" {
		c.LogLevel = override.LogLevel
	}
	if override.GitHub.URL != "" {
		c.GitHub.URL = override.GitHub.URL
	}
	if override.GitHub.Token != "" {
		c.GitHub.Token = override.GitHub.Token
	}
	if override.GitLab.URL != "" {
		c.GitLab.URL = override.GitLab.URL
	}
	if override.GitLab.Token != "" {
		c.GitLab.Token = override.GitLab.Token
	}
	return c
}

// DefaultPath is where the launcher keeps its YAML settings.
func DefaultPath() string {
	return filepath.Join(configRoot(), "launcher", "config.yaml")
}

func configRoot() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return dir
}

func defaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Downloads")
}

func defaultDatabasePath() string {
	return filepath.Join(configRoot(), "launcher", "downloads.db")
}
