// Package config provides client configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds client configuration values loaded from file or environment variables.
type Config struct {
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	APIBaseURL    string `mapstructure:"API_BASE_URL"`
	WSURL         string `mapstructure:"WS_URL"`
	AccessToken   string `mapstructure:"ACCESS_TOKEN"`
	LoginEmail    string `mapstructure:"LOGIN_EMAIL"`
	LoginPassword string `mapstructure:"LOGIN_PASSWORD"`

	ReconnectDelay    time.Duration `mapstructure:"RECONNECT_DELAY"`
	HeartbeatInterval time.Duration `mapstructure:"HEARTBEAT_INTERVAL"`
	HTTPTimeout       time.Duration `mapstructure:"HTTP_TIMEOUT"`
	MessagePageSize   int           `mapstructure:"MESSAGE_PAGE_SIZE"`
	SearchPageSize    int           `mapstructure:"SEARCH_PAGE_SIZE"`

	RedisURL string        `mapstructure:"REDIS_URL"`
	CacheTTL time.Duration `mapstructure:"CACHE_TTL"`

	FeatureFlags string `mapstructure:"FEATURE_FLAGS"`
	DiagAddr     string `mapstructure:"DIAG_ADDR"`

	TracingEnabled      bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter     string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint        string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TracingSamplerRatio float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// LoadConfig loads client configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base config file is optional; environment variables are enough.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env != "" && env != "development" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err == nil {
			log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
		}
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("API_BASE_URL", "http://localhost:8080")
	viper.SetDefault("WS_URL", "ws://localhost:8080/ws-stomp")
	viper.SetDefault("ACCESS_TOKEN", "")
	viper.SetDefault("LOGIN_EMAIL", "")
	viper.SetDefault("LOGIN_PASSWORD", "")
	viper.SetDefault("RECONNECT_DELAY", 5*time.Second)
	viper.SetDefault("HEARTBEAT_INTERVAL", 10*time.Second)
	viper.SetDefault("HTTP_TIMEOUT", 15*time.Second)
	viper.SetDefault("MESSAGE_PAGE_SIZE", 30)
	viper.SetDefault("SEARCH_PAGE_SIZE", 10)
	viper.SetDefault("REDIS_URL", "")
	viper.SetDefault("CACHE_TTL", 24*time.Hour)
	viper.SetDefault("FEATURE_FLAGS", "correlation_ids=on")
	viper.SetDefault("DIAG_ADDR", "127.0.0.1:9464")
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	c.WSURL = strings.TrimSpace(c.WSURL)
	c.TracingExporter = strings.ToLower(strings.TrimSpace(c.TracingExporter))
}

// Validate ensures that required configuration values are present and usable.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("API_BASE_URL is required")
	}
	if u, err := url.Parse(c.APIBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("API_BASE_URL must be an http(s) URL, got %q", c.APIBaseURL)
	}
	if c.WSURL == "" {
		return errors.New("WS_URL is required")
	}
	if u, err := url.Parse(c.WSURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("WS_URL must be a ws(s) URL, got %q", c.WSURL)
	}
	if c.AccessToken == "" && (c.LoginEmail == "" || c.LoginPassword == "") {
		return errors.New("either ACCESS_TOKEN or LOGIN_EMAIL and LOGIN_PASSWORD are required")
	}
	if c.ReconnectDelay <= 0 {
		return errors.New("RECONNECT_DELAY must be positive")
	}
	if c.HeartbeatInterval < 0 {
		return errors.New("HEARTBEAT_INTERVAL must not be negative")
	}
	if c.MessagePageSize <= 0 {
		return errors.New("MESSAGE_PAGE_SIZE must be positive")
	}
	if c.SearchPageSize <= 0 {
		return errors.New("SEARCH_PAGE_SIZE must be positive")
	}
	switch c.TracingExporter {
	case "", "stdout", "otlp", "none":
	default:
		return fmt.Errorf("TRACING_EXPORTER must be stdout, otlp or none, got %q", c.TracingExporter)
	}
	if c.TracingSamplerRatio < 0 || c.TracingSamplerRatio > 1 {
		return errors.New("TRACING_SAMPLER_RATIO must be between 0 and 1")
	}

	if c.IsProduction() {
		if strings.HasPrefix(c.WSURL, "ws://") {
			return errors.New("WS_URL must use wss:// in production")
		}
		if strings.HasPrefix(c.APIBaseURL, "http://") {
			log.Println("WARNING: API_BASE_URL is plain http in production. Access tokens will travel unencrypted.")
		}
	}

	return nil
}

// IsProduction reports whether APP_ENV names a production profile.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}
