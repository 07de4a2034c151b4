// ABOUTME: Shared fixtures and lifecycle tests for the development server
// ABOUTME: Servers run over a MockStore with three seeded users

package devserver

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/store"
)

const testSecret = "devserver-test-secret-0123456789abcdef"

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: ":memory:"},
		Auth:     config.AuthConfig{JWTSecret: testSecret},
		Dedupe:   config.DedupeConfig{TTL: time.Minute, MaxSize: 100},
		Limits:   config.LimitsConfig{MessagesPerSecond: 1000, Burst: 1000},
		Users: []config.UserConfig{
			{ID: "alice", DisplayName: "Alice"},
			{ID: "bob", DisplayName: "Bob"},
			{ID: "carol"},
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	srv, err := New(t.Context(), cfg, store.NewMockStore(), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func tokenFor(t *testing.T, srv *Server, userID string) string {
	t.Helper()
	tok, err := srv.Verifier().Generate(userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestNew_SeedsUsersWithDisplayNameFallback(t *testing.T) {
	srv := newTestServer(t, nil)

	users, err := srv.store.ListUsers(t.Context())
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "Alice", users[0].DisplayName)
	assert.Equal(t, "carol", users[2].DisplayName)
}

func TestNew_RejectsWeakSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.JWTSecret = "short"

	_, err := New(t.Context(), cfg, store.NewMockStore(), nil)
	require.Error(t, err)
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestServe_StopsOnCancel(t *testing.T) {
	srv, err := New(t.Context(), testConfig(), store.NewMockStore(), nil)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
