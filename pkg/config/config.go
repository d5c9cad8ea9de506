// Package config loads the deployment configuration of ticket-tagger.
//
// Loading order (later overrides earlier):
//  1. Defaults
//  2. YAML file (optional, --config)
//  3. Environment variables (TAGGER_*)
//
// The result is validated before use.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for all environment variables.
const EnvPrefix = "TAGGER_"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete deployment configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	App        AppConfig        `yaml:"app"`
	Cache      CacheConfig      `yaml:"cache"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig configures the inbound HTTP server.
type ServerConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Port            int           `yaml:"port"`
	WebhookSecret   string        `yaml:"webhook_secret"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
	RateLimitMax    int           `yaml:"rate_limit_max"`
	ShutdownGrace   time.Duration `yaml:"shutdown_grace"`
}

// AppConfig holds the application credentials.
type AppConfig struct {
	ID             int64  `yaml:"id"`
	PrivateKey     string `yaml:"private_key"`
	PrivateKeyFile string `yaml:"private_key_file"`
	APIURL         string `yaml:"api_url"`
	UserAgent      string `yaml:"user_agent"`
}

// CacheConfig configures the conditional request cache.
type CacheConfig struct {
	// RedisURL selects the Redis store. Empty selects the in-memory store
	// and disables shared rate limiting and delivery dedupe.
	RedisURL string `yaml:"redis_url"`

	// EncryptionKey is an age identity (AGE-SECRET-KEY-1...) used to seal
	// cached payloads in Redis.
	EncryptionKey string `yaml:"encryption_key"`

	TTL time.Duration `yaml:"ttl"`
}

// ClassifierConfig points at the inference endpoint.
type ClassifierConfig struct {
	URL           string  `yaml:"url"`
	MinConfidence float64 `yaml:"min_confidence"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:         "http://localhost:3000",
			Port:            3000,
			RateLimitWindow: time.Minute,
			RateLimitMax:    120,
			ShutdownGrace:   10 * time.Second,
		},
		App: AppConfig{
			APIURL:    "https://api.github.com",
			UserAgent: "ticket-tagger",
		},
		Cache: CacheConfig{
			TTL: time.Hour,
		},
		Classifier: ClassifierConfig{
			MinConfidence: 0.5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ConfigError reports a file or field that could not be loaded.
type ConfigError struct {
	Path  string
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Path != "":
		return fmt.Sprintf("config %s: %v", e.Path, e.Err)
	case e.Field != "":
		return fmt.Sprintf("config field %s: %v", e.Field, e.Err)
	default:
		return fmt.Sprintf("config: %v", e.Err)
	}
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load reads path (if non-empty), applies TAGGER_* environment overrides
// and resolves the private key file. It does not validate.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &ConfigError{Path: path, Err: err}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigError{Path: path, Err: err}
		}
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	if cfg.App.PrivateKey == "" && cfg.App.PrivateKeyFile != "" {
		key, err := os.ReadFile(cfg.App.PrivateKeyFile)
		if err != nil {
			return nil, &ConfigError{Field: "app.private_key_file", Err: err}
		}
		cfg.App.PrivateKey = string(key)
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return v, ok && v != ""
	}

	texts := map[string]*string{
		"BASE_URL":         &cfg.Server.BaseURL,
		"WEBHOOK_SECRET":   &cfg.Server.WebhookSecret,
		"PRIVATE_KEY":      &cfg.App.PrivateKey,
		"PRIVATE_KEY_FILE": &cfg.App.PrivateKeyFile,
		"API_URL":          &cfg.App.APIURL,
		"USER_AGENT":       &cfg.App.UserAgent,
		"REDIS_URL":        &cfg.Cache.RedisURL,
		"ENCRYPTION_KEY":   &cfg.Cache.EncryptionKey,
		"CLASSIFIER_URL":   &cfg.Classifier.URL,
		"LOG_LEVEL":        &cfg.Log.Level,
	}
	for name, field := range texts {
		if v, ok := get(name); ok {
			*field = v
		}
	}

	ints := map[string]*int{
		"PORT":           &cfg.Server.Port,
		"RATE_LIMIT_MAX": &cfg.Server.RateLimitMax,
	}
	for name, field := range ints {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return &ConfigError{Field: EnvPrefix + name, Err: err}
			}
			*field = n
		}
	}

	durations := map[string]*time.Duration{
		"CACHE_TTL":         &cfg.Cache.TTL,
		"RATE_LIMIT_WINDOW": &cfg.Server.RateLimitWindow,
		"SHUTDOWN_GRACE":    &cfg.Server.ShutdownGrace,
	}
	for name, field := range durations {
		if v, ok := get(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return &ConfigError{Field: EnvPrefix + name, Err: err}
			}
			*field = d
		}
	}

	if v, ok := get("APP_ID"); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return &ConfigError{Field: EnvPrefix + "APP_ID", Err: err}
		}
		cfg.App.ID = id
	}
	if v, ok := get("MIN_CONFIDENCE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &ConfigError{Field: EnvPrefix + "MIN_CONFIDENCE", Err: err}
		}
		cfg.Classifier.MinConfidence = f
	}
	if v, ok := get("LOG_PRETTY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &ConfigError{Field: EnvPrefix + "LOG_PRETTY", Err: err}
		}
		cfg.Log.Pretty = b
	}
	return nil
}

// Validate checks everything the server needs to start.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}
	if c.Server.WebhookSecret == "" {
		add("server.webhook_secret is required")
	}
	if c.Server.RateLimitMax < 0 {
		add("server.rate_limit_max must not be negative")
	}
	if c.Server.ShutdownGrace < 0 {
		add("server.shutdown_grace must not be negative")
	}
	if c.App.ID <= 0 {
		add("app.id is required")
	}
	if c.App.PrivateKey == "" {
		add("app.private_key or app.private_key_file is required")
	}
	if c.App.UserAgent == "" {
		add("app.user_agent is required")
	}
	if c.Cache.TTL <= 0 {
		add("cache.ttl must be positive")
	}
	if c.Cache.EncryptionKey != "" && c.Cache.RedisURL == "" {
		add("cache.encryption_key requires cache.redis_url")
	}
	if c.Classifier.URL == "" {
		add("classifier.url is required")
	}
	if c.Classifier.MinConfidence < 0 || c.Classifier.MinConfidence > 1 {
		add("classifier.min_confidence %v outside [0, 1]", c.Classifier.MinConfidence)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}
