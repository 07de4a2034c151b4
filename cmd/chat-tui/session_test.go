// ABOUTME: Tests for command parsing and argument resolution
// ABOUTME: Covers token prefix matching, image references and send ordering

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/coordinator"
	"github.com/2389/coven-chat/internal/roster"
	"github.com/2389/coven-chat/internal/transport"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line, name, args string
	}{
		{"hello there", "", "hello there"},
		{"  /USE   bob ", "/use", "bob"},
		{"/image pic.png a caption", "/image", "pic.png a caption"},
		{"/quit", "/quit", ""},
	}
	for _, tt := range tests {
		name, args := parseCommand(tt.line)
		assert.Equal(t, tt.name, name, tt.line)
		assert.Equal(t, tt.args, args, tt.line)
	}
}

func TestMatchToken(t *testing.T) {
	msgs := []chat.Message{
		{CorrelationToken: "aaaa1111", State: chat.Failed},
		{CorrelationToken: "aaaa2222", State: chat.Failed},
		{CorrelationToken: "bbbb1111", State: chat.Pending},
		{CorrelationToken: "cccc1111", State: chat.Failed},
	}

	tok, err := matchToken(msgs, "cccc")
	require.NoError(t, err)
	assert.Equal(t, "cccc1111", tok)

	_, err = matchToken(msgs, "aaaa")
	assert.ErrorContains(t, err, "ambiguous")

	_, err = matchToken(msgs, "bbbb")
	assert.ErrorIs(t, err, chat.ErrUnknownToken)
}

func TestImageRef(t *testing.T) {
	ref, err := imageRef("https://example.com/cat.png")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/cat.png", ref)

	dir := t.TempDir()
	png := filepath.Join(dir, "pixel.png")
	require.NoError(t, os.WriteFile(png, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00"), 0600))

	ref, err = imageRef(png)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "data:image/png;base64,"))
	assert.NoError(t, chat.Draft{Image: ref}.Normalize().Validate())

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("just text"), 0600))
	_, err = imageRef(txt)
	assert.ErrorContains(t, err, "not an image")

	_, err = imageRef(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

// slowClient holds the first Create until release is closed and records the
// order creates reach it.
type slowClient struct {
	mu      sync.Mutex
	release chan struct{}
	texts   []string
}

func (c *slowClient) History(context.Context, string) ([]chat.Message, error) {
	return nil, nil
}

func (c *slowClient) Create(_ context.Context, peerID string, d chat.Draft, key string) (chat.Message, error) {
	c.mu.Lock()
	first := len(c.texts) == 0
	c.texts = append(c.texts, d.Text)
	n := len(c.texts)
	c.mu.Unlock()
	if first {
		<-c.release
	}
	return chat.Message{
		ID:         fmt.Sprintf("srv-%d", n),
		SenderID:   "alice",
		ReceiverID: peerID,
		Text:       d.Text,
		CreatedAt:  time.Date(2026, 3, 1, 12, 0, n, 0, time.UTC),
	}, nil
}

func (c *slowClient) created() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func TestSessionSendsKeepInputOrder(t *testing.T) {
	client := &slowClient{release: make(chan struct{})}
	coord := coordinator.New(client, transport.NewMemoryChannel(true), coordinator.Options{LocalUserID: "alice"})
	t.Cleanup(coord.Close)
	require.NoError(t, coord.SelectPeer("bob"))

	s := newSession(io.Discard, coord, roster.New(nil, "alice", nil))
	for _, line := range []string{"one", "two", "three"} {
		assert.False(t, s.handle(t.Context(), line))
	}

	msgs := coord.State().Messages
	require.Len(t, msgs, 3)
	for i, want := range []string{"one", "two", "three"} {
		assert.Equal(t, want, msgs[i].Text)
		assert.Equal(t, chat.Pending, msgs[i].State)
	}
	require.Eventually(t, func() bool { return len(client.created()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"one"}, client.created())

	close(client.release)
	s.wait()

	assert.Equal(t, []string{"one", "two", "three"}, client.created())
	msgs = coord.State().Messages
	require.Len(t, msgs, 3)
	for i, want := range []string{"one", "two", "three"} {
		assert.Equal(t, want, msgs[i].Text)
		assert.Equal(t, chat.Confirmed, msgs[i].State)
	}
}
