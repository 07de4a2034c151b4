// ABOUTME: Tests for chat-tui configuration loading
// ABOUTME: Covers defaults, env expansion, validation and derived URLs

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tui.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, defaultServerURL, cfg.Server.URL)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Zero(t, cfg.Client.MaxMessages)
}

func TestLoadConfig_ExpandsEnv(t *testing.T) {
	t.Setenv("CHAT_HOST", "chat.example.com")
	path := writeConfig(t, `
[server]
url = "https://${CHAT_HOST}/"

[client]
max_messages = 200
manual_resubscribe = true
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://chat.example.com", cfg.Server.URL)
	assert.Equal(t, 200, cfg.Client.MaxMessages)
	assert.True(t, cfg.Client.ManualResubscribe)
	assert.Equal(t, "wss://chat.example.com/ws", cfg.WebSocketURL())
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"scheme":   "[server]\nurl = \"ftp://host\"\n",
		"negative": "[client]\nmax_messages = -1\n",
		"syntax":   "[server\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestWebSocketURL_Plain(t *testing.T) {
	cfg := &Config{Server: ServerConfig{URL: "http://127.0.0.1:8090"}}
	assert.Equal(t, "ws://127.0.0.1:8090/ws", cfg.WebSocketURL())
}

func TestGetToken(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("CHAT_TOKEN", "")

	assert.Empty(t, getToken())

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "coven-chat"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "coven-chat", "token"), []byte("from-file\n"), 0600))
	assert.Equal(t, "from-file", getToken())

	t.Setenv("CHAT_TOKEN", "from-env")
	assert.Equal(t, "from-env", getToken())
}
