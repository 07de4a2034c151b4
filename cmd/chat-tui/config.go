// ABOUTME: Configuration loading for chat-tui
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

const defaultServerURL = "http://127.0.0.1:8090"

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Client  ClientConfig  `toml:"client"`
	Logging LoggingConfig `toml:"logging"`
}

type ServerConfig struct {
	URL string `toml:"url"`
}

type ClientConfig struct {
	// MaxMessages bounds each cached conversation. Zero is unbounded.
	MaxMessages int `toml:"max_messages"`
	// ManualResubscribe re-sends listen frames after a reconnect instead of
	// relying on the channel to replay them.
	ManualResubscribe bool `toml:"manual_resubscribe"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

// configDir returns XDG_CONFIG_HOME/coven-chat or ~/.config/coven-chat.
func configDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		dir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(dir, "coven-chat")
}

// defaultConfigPath returns CHAT_TUI_CONFIG or configDir()/tui.toml.
func defaultConfigPath() string {
	if p := os.Getenv("CHAT_TUI_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(configDir(), "tui.toml")
}

// LoadConfig reads config from path. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if _, err := toml.Decode(expandEnvVars(string(data)), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.URL == "" {
		c.Server.URL = defaultServerURL
	}
	c.Server.URL = strings.TrimSuffix(c.Server.URL, "/")
	if c.Logging.Level == "" {
		c.Logging.Level = "warn"
	}
}

// Validate checks that config fields are usable.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.url must use http or https scheme")
	}
	if c.Client.MaxMessages < 0 {
		return fmt.Errorf("client.max_messages must not be negative")
	}
	return nil
}

// WebSocketURL derives the live channel endpoint from the server URL.
func (c *Config) WebSocketURL() string {
	if rest, ok := strings.CutPrefix(c.Server.URL, "https://"); ok {
		return "wss://" + rest + "/ws"
	}
	return "ws://" + strings.TrimPrefix(c.Server.URL, "http://") + "/ws"
}

// getToken returns the bearer token from CHAT_TOKEN or configDir()/token.
func getToken() string {
	if token := os.Getenv("CHAT_TOKEN"); token != "" {
		return token
	}

	data, err := os.ReadFile(filepath.Join(configDir(), "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
