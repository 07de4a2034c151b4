// ABOUTME: Configuration loading and parsing for chat-devserver
// ABOUTME: Supports YAML files with environment variable expansion, defaults and validation

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-chat/internal/auth"
)

// Defaults applied by Load when a field is unset.
const (
	DefaultHTTPAddr          = "127.0.0.1:8090"
	DefaultDedupeTTL         = 10 * time.Minute
	DefaultDedupeMaxSize     = 10000
	DefaultMessagesPerSecond = 5.0
	DefaultBurst             = 10
)

// Config represents the complete chat-devserver configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Dedupe   DedupeConfig   `yaml:"dedupe"`
	Limits   LimitsConfig   `yaml:"limits"`
	Logging  LoggingConfig  `yaml:"logging"`
	Users    []UserConfig   `yaml:"users" validate:"dive"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr       string   `yaml:"http_addr" validate:"required,hostname_port"`
	AllowedOrigins []string `yaml:"allowed_origins" validate:"dive,url"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// DedupeConfig sizes the create idempotency cache
type DedupeConfig struct {
	TTL     time.Duration `yaml:"-"`
	TTLRaw  string        `yaml:"ttl"`
	MaxSize int           `yaml:"max_size" validate:"gte=0"`
}

// LimitsConfig bounds per-user message creation
type LimitsConfig struct {
	MessagesPerSecond float64 `yaml:"messages_per_second" validate:"gte=0"`
	Burst             int     `yaml:"burst" validate:"gte=0"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// UserConfig seeds a user at startup
type UserConfig struct {
	ID          string `yaml:"id" validate:"required,max=64"`
	DisplayName string `yaml:"display_name" validate:"max=128"`
	AvatarRef   string `yaml:"avatar_ref" validate:"omitempty,url"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration content.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = DefaultDedupeTTL
	}
	if c.Dedupe.MaxSize == 0 {
		c.Dedupe.MaxSize = DefaultDedupeMaxSize
	}
	if c.Limits.MessagesPerSecond == 0 {
		c.Limits.MessagesPerSecond = DefaultMessagesPerSecond
	}
	if c.Limits.Burst == 0 {
		c.Limits.Burst = DefaultBurst
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %q check", fe.Namespace(), fe.Tag())
		}
		return err
	}

	if len(c.Auth.JWTSecret) < auth.MinSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", auth.MinSecretLength)
	}

	seen := make(map[string]bool, len(c.Users))
	for _, u := range c.Users {
		if seen[u.ID] {
			return fmt.Errorf("users: duplicate id %q", u.ID)
		}
		seen[u.ID] = true
	}

	if c.Dedupe.TTL < 0 {
		return fmt.Errorf("dedupe.ttl must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Dedupe.TTLRaw != "" {
		d, err := time.ParseDuration(cfg.Dedupe.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe.ttl %q: %w", cfg.Dedupe.TTLRaw, err)
		}
		cfg.Dedupe.TTL = d
	}
	return nil
}
