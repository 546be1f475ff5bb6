// Package config provides configuration management for kbindex.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override values from the config file.
const (
	EnvConfigPath        = "KBINDEX_CONFIG"
	EnvSummarizerBaseURL = "KBINDEX_SUMMARIZER_BASE_URL"
	EnvSummarizerModel   = "KBINDEX_SUMMARIZER_MODEL"
	EnvSummarizerAPIKey  = "KBINDEX_SUMMARIZER_API_KEY"
	EnvLogLevel          = "KBINDEX_LOG_LEVEL"
)

// DefaultSummaryPrompt asks for a short description that helps pick sources later.
const DefaultSummaryPrompt = `Summarize the following source in two or three sentences.
Describe what topics it covers and what questions it can answer.
Reply with the description only.`

// Config holds all configuration for kbindex.
type Config struct {
	Sources    SourcesConfig    `yaml:"sources"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Index      IndexConfig      `yaml:"index"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SourcesConfig configures which source classes are indexed.
type SourcesConfig struct {
	Files FileSourceConfig `yaml:"files"`
	URLs  URLSourceConfig  `yaml:"urls"`
}

// FileSourceConfig configures the local folder source.
type FileSourceConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Dir        string   `yaml:"dir"`
	Extensions []string `yaml:"extensions"`
	Ignore     []string `yaml:"ignore"`
	MaxBytes   int64    `yaml:"max_bytes"`
}

// URLSourceConfig configures the links-file source.
type URLSourceConfig struct {
	Enabled      bool   `yaml:"enabled"`
	LinksFile    string `yaml:"links_file"`
	ContentCache string `yaml:"content_cache"`
}

// FetchConfig configures network fetches of URL sources.
type FetchConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	Concurrency     int           `yaml:"concurrency"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
	MaxBytes        int64         `yaml:"max_bytes"`
	UserAgent       string        `yaml:"user_agent"`
}

// SummarizerConfig configures the text summarizer backend.
type SummarizerConfig struct {
	Provider            string        `yaml:"provider"`
	BaseURL             string        `yaml:"base_url"`
	Model               string        `yaml:"model"`
	APIKey              string        `yaml:"api_key"`
	Prompt              string        `yaml:"prompt"`
	ProjectIntroduction string        `yaml:"project_introduction"`
	Timeout             time.Duration `yaml:"timeout"`
	Concurrency         int           `yaml:"concurrency"`
	CachePath           string        `yaml:"cache_path"`
	MaxInputChars       int           `yaml:"max_input_chars"`
}

// IndexConfig configures the cache and index artifacts.
type IndexConfig struct {
	Path      string            `yaml:"path"`
	CachePath string            `yaml:"cache_path"`
	Order     []string          `yaml:"order"`
	Prefixes  map[string]string `yaml:"prefixes"`
}

// RuntimeConfig configures the background refresh loop.
type RuntimeConfig struct {
	TickInterval  time.Duration `yaml:"tick_interval"`
	Watch         bool          `yaml:"watch"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	dataDir := DataDir()

	return &Config{
		Sources: SourcesConfig{
			Files: FileSourceConfig{
				Enabled:  true,
				Dir:      filepath.Join("kb", "sources"),
				Ignore:   []string{".git", "node_modules", ".obsidian"},
				MaxBytes: 2 << 20,
			},
			URLs: URLSourceConfig{
				Enabled:      true,
				LinksFile:    filepath.Join("kb", "links.txt"),
				ContentCache: filepath.Join(dataDir, "content.db"),
			},
		},
		Fetch: FetchConfig{
			Timeout:         30 * time.Second,
			Concurrency:     4,
			RefreshInterval: 24 * time.Hour,
			RetryInterval:   5 * time.Minute,
			MaxBytes:        2 << 20,
			UserAgent:       "kbindex/1.0",
		},
		Summarizer: SummarizerConfig{
			Provider:      "ollama",
			BaseURL:       "http://localhost:11434",
			Model:         "llama3.2",
			Prompt:        DefaultSummaryPrompt,
			Timeout:       2 * time.Minute,
			Concurrency:   2,
			CachePath:     filepath.Join(dataDir, "summaries.db"),
			MaxInputChars: 24000,
		},
		Index: IndexConfig{
			Path:      filepath.Join(dataDir, "index.txt"),
			CachePath: filepath.Join(dataDir, "index-cache.json"),
			Order:     []string{"file", "url"},
		},
		Runtime: RuntimeConfig{
			TickInterval:  5 * time.Minute,
			Watch:         true,
			WatchDebounce: 2 * time.Second,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8765",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if !c.Sources.Files.Enabled && !c.Sources.URLs.Enabled {
		return errors.New("at least one of sources.files or sources.urls must be enabled")
	}
	if c.Sources.Files.Enabled && c.Sources.Files.Dir == "" {
		return errors.New("sources.files.dir is required")
	}
	if c.Sources.URLs.Enabled {
		if c.Sources.URLs.LinksFile == "" {
			return errors.New("sources.urls.links_file is required")
		}
		if c.Sources.URLs.ContentCache == "" {
			return errors.New("sources.urls.content_cache is required")
		}
	}
	if c.Fetch.Timeout <= 0 {
		return errors.New("fetch.timeout must be positive")
	}
	if c.Fetch.Concurrency < 1 {
		return errors.New("fetch.concurrency must be at least 1")
	}
	if c.Fetch.RefreshInterval <= 0 || c.Fetch.RetryInterval <= 0 {
		return errors.New("fetch.refresh_interval and fetch.retry_interval must be positive")
	}
	if c.Summarizer.Provider != "ollama" && c.Summarizer.Provider != "openai" {
		return errors.New("summarizer.provider must be 'ollama' or 'openai'")
	}
	if c.Summarizer.Concurrency < 1 {
		return errors.New("summarizer.concurrency must be at least 1")
	}
	if c.Summarizer.Timeout <= 0 {
		return errors.New("summarizer.timeout must be positive")
	}
	if c.Summarizer.MaxInputChars < 0 {
		return errors.New("summarizer.max_input_chars must not be negative")
	}
	if c.Index.Path == "" || c.Index.CachePath == "" {
		return errors.New("index.path and index.cache_path are required")
	}
	seen := make(map[string]bool)
	for _, t := range c.Index.Order {
		if t != "file" && t != "url" {
			return fmt.Errorf("index.order: unknown source type %q", t)
		}
		if seen[t] {
			return fmt.Errorf("index.order: duplicate source type %q", t)
		}
		seen[t] = true
	}
	if c.Runtime.TickInterval <= 0 {
		return errors.New("runtime.tick_interval must be positive")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return errors.New("logging.format must be 'text' or 'json'")
	}
	return nil
}

// Load loads configuration from the YAML file at path, falling back to
// defaults for any missing values. An empty path resolves to
// $KBINDEX_CONFIG or the user config directory. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			cfg.applyEnv(os.LookupEnv)
			return cfg, nil // Use defaults if we can't find config dir
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

// applyEnv overrides selected fields from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvSummarizerBaseURL); ok && v != "" {
		c.Summarizer.BaseURL = v
	}
	if v, ok := lookup(EnvSummarizerModel); ok && v != "" {
		c.Summarizer.Model = v
	}
	if v, ok := lookup(EnvSummarizerAPIKey); ok && v != "" {
		c.Summarizer.APIKey = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
}

// Save writes the configuration to path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ConfigDir returns the directory where config files are stored.
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "kbindex"), nil
}

// ConfigPath returns the path to the main config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DataDir returns the directory where kbindex keeps its artifacts.
func DataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(homeDir, ".local", "share", "kbindex")
}
