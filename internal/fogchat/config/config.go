// Package config assembles the relay configuration from defaults, an
// optional YAML file, and environment variables, in that order of
// precedence (environment wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fogmoe/fogchat/common/environment"
)

// Config is the full relay configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	History   HistoryConfig   `yaml:"history"`
	Chat      ChatConfig      `yaml:"chat"`
	Gemini    ProviderConfig  `yaml:"gemini"`
	Azure     AzureConfig     `yaml:"azure"`
	Search    SearchConfig    `yaml:"search"`
	Auth      AuthConfig      `yaml:"auth"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

type HistoryConfig struct {
	CharCeiling int           `yaml:"char_ceiling"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

type ChatConfig struct {
	MaxMessageChars int    `yaml:"max_message_chars"`
	Timezone        string `yaml:"timezone"`
}

// ProviderConfig configures an OpenAI-compatible provider.
type ProviderConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

type AzureConfig struct {
	APIKey     string        `yaml:"api_key"`
	Endpoint   string        `yaml:"endpoint"`
	Deployment string        `yaml:"deployment"`
	APIVersion string        `yaml:"api_version"`
	Timeout    time.Duration `yaml:"timeout"`
}

type SearchConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Engine      string        `yaml:"engine"`
	MaxResults  int           `yaml:"max_results"`
	ContentSize string        `yaml:"content_size"`
	Timeout     time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load builds the configuration. The YAML file named by FOGCHAT_CONFIG is
// optional; a missing file is only an error when the variable is set
// explicitly.
func Load() (*Config, error) {
	cfg := defaults()

	if path, _ := environment.String("FOGCHAT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server:    ServerConfig{Addr: ":8080"},
		Database:  DatabaseConfig{Path: "fogchat.db"},
		RateLimit: RateLimitConfig{MaxRequests: 5, Window: time.Minute},
		History:   HistoryConfig{CharCeiling: 800_000, CacheTTL: time.Minute},
		Chat:      ChatConfig{MaxMessageChars: 8000, Timezone: "Asia/Shanghai"},
		Gemini: ProviderConfig{
			BaseURL:     "https://generativelanguage.googleapis.com/v1beta/openai",
			Model:       "gemini-2.0-flash",
			MaxTokens:   1000,
			Temperature: 1.0,
			Timeout:     30 * time.Second,
		},
		Azure: AzureConfig{
			APIVersion: "2024-02-15-preview",
			Timeout:    30 * time.Second,
		},
		Search: SearchConfig{
			Engine:      "search_std",
			MaxResults:  5,
			ContentSize: "medium",
			Timeout:     15 * time.Second,
		},
		Metrics: MetricsConfig{Addr: ":9090"},
	}
}

// applyEnv overlays environment variables on top of whatever the defaults
// and the YAML file produced.
func applyEnv(cfg *Config) {
	cfg.Server.Addr = environment.StringOr("FOGCHAT_ADDR", cfg.Server.Addr)
	cfg.Database.Path = environment.StringOr("FOGCHAT_DB_PATH", cfg.Database.Path)

	cfg.RateLimit.MaxRequests = environment.IntOr("RATE_LIMIT_MAX_REQUESTS", cfg.RateLimit.MaxRequests)
	cfg.RateLimit.Window = environment.DurationOr("RATE_LIMIT_WINDOW", cfg.RateLimit.Window)

	cfg.History.CharCeiling = environment.IntOr("HISTORY_CHAR_CEILING", cfg.History.CharCeiling)
	cfg.History.CacheTTL = environment.DurationOr("HISTORY_CACHE_TTL", cfg.History.CacheTTL)

	cfg.Chat.MaxMessageChars = environment.IntOr("CHAT_MAX_MESSAGE_CHARS", cfg.Chat.MaxMessageChars)
	cfg.Chat.Timezone = environment.StringOr("CHAT_TIMEZONE", cfg.Chat.Timezone)

	cfg.Gemini.APIKey = environment.StringOr("GEMINI_API_KEY", cfg.Gemini.APIKey)
	cfg.Gemini.BaseURL = environment.StringOr("GEMINI_BASE_URL", cfg.Gemini.BaseURL)
	cfg.Gemini.Model = environment.StringOr("GEMINI_MODEL", cfg.Gemini.Model)
	cfg.Gemini.MaxTokens = environment.IntOr("GEMINI_MAX_TOKENS", cfg.Gemini.MaxTokens)
	cfg.Gemini.Temperature = environment.Float64Or("GEMINI_TEMPERATURE", cfg.Gemini.Temperature)

	cfg.Azure.APIKey = environment.StringOr("AZURE_OPENAI_API_KEY", cfg.Azure.APIKey)
	cfg.Azure.Endpoint = environment.StringOr("AZURE_OPENAI_ENDPOINT", cfg.Azure.Endpoint)
	cfg.Azure.Deployment = environment.StringOr("AZURE_OPENAI_DEPLOYMENT", cfg.Azure.Deployment)
	cfg.Azure.APIVersion = environment.StringOr("AZURE_OPENAI_API_VERSION", cfg.Azure.APIVersion)

	cfg.Search.APIKey = environment.StringOr("ZHIPU_API_KEY", cfg.Search.APIKey)
	cfg.Search.BaseURL = environment.StringOr("ZHIPU_SEARCH_URL", cfg.Search.BaseURL)
	cfg.Search.Engine = environment.StringOr("ZHIPU_SEARCH_ENGINE", cfg.Search.Engine)
	cfg.Search.MaxResults = environment.IntOr("ZHIPU_SEARCH_MAX_RESULTS", cfg.Search.MaxResults)

	cfg.Auth.JWTSecret = environment.StringOr("JWT_SECRET", cfg.Auth.JWTSecret)

	cfg.Metrics.Enabled = environment.BoolOr("METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.Addr = environment.StringOr("METRICS_ADDR", cfg.Metrics.Addr)
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("config: server addr must not be empty")
	}
	if c.Database.Path == "" {
		return errors.New("config: database path must not be empty")
	}
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("config: rate limit max requests must be positive, got %d", c.RateLimit.MaxRequests)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("config: rate limit window must be positive, got %s", c.RateLimit.Window)
	}
	if c.History.CharCeiling <= 0 {
		return fmt.Errorf("config: history char ceiling must be positive, got %d", c.History.CharCeiling)
	}
	if c.Chat.MaxMessageChars <= 0 {
		return fmt.Errorf("config: max message chars must be positive, got %d", c.Chat.MaxMessageChars)
	}
	if _, err := time.LoadLocation(c.Chat.Timezone); err != nil {
		return fmt.Errorf("config: invalid timezone %q: %w", c.Chat.Timezone, err)
	}
	return nil
}

// GeminiConfigured reports whether the primary provider has credentials.
func (c *Config) GeminiConfigured() bool { return c.Gemini.APIKey != "" }

// AzureConfigured reports whether the fallback provider has credentials.
func (c *Config) AzureConfigured() bool {
	return c.Azure.APIKey != "" && c.Azure.Endpoint != "" && c.Azure.Deployment != ""
}

// SearchConfigured reports whether the web_search tool can be offered.
func (c *Config) SearchConfigured() bool { return c.Search.APIKey != "" }
