// ABOUTME: Tests for incremental rendering of coordinator state
// ABOUTME: Color is disabled so output compares as plain text

package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/coordinator"
	"github.com/2389/coven-chat/internal/timeline"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	m.Run()
}

func newTestRenderer() (*renderer, *bytes.Buffer) {
	var buf bytes.Buffer
	names := map[string]string{"bob": "Bob", "carol": "Carol"}
	r := newRenderer(&buf, "alice", func(id string) string {
		if n, ok := names[id]; ok {
			return n
		}
		return id
	})
	return r, &buf
}

func lines(buf *bytes.Buffer) []string {
	out := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	buf.Reset()
	if len(out) == 1 && out[0] == "" {
		return nil
	}
	return out
}

var at = time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)

func TestRenderer_PendingThenConfirmedPrintsOnce(t *testing.T) {
	r, buf := newTestRenderer()
	pending := chat.Message{SenderID: "alice", ReceiverID: "bob", Text: "hi", CreatedAt: at, State: chat.Pending, CorrelationToken: "tok-1234567890"}

	r.update(coordinator.State{ActivePeer: "bob", Phase: chat.StatusReady, Messages: []chat.Message{pending}}, nil, nil)
	out := lines(buf)
	assert.Len(t, out, 1)
	assert.Contains(t, out[0], "you: hi (sending)")

	confirmed := pending
	confirmed.ID = "m1"
	confirmed.State = chat.Confirmed
	r.update(coordinator.State{ActivePeer: "bob", Phase: chat.StatusReady, Messages: []chat.Message{confirmed}}, nil, nil)
	assert.Empty(t, lines(buf))
}

func TestRenderer_FailedShowsShortToken(t *testing.T) {
	r, buf := newTestRenderer()
	failed := chat.Message{SenderID: "alice", Text: "hi", CreatedAt: at, State: chat.Failed, FailReason: "network error", CorrelationToken: "abcdef1234567890"}

	r.update(coordinator.State{ActivePeer: "bob", Phase: chat.StatusReady, Messages: []chat.Message{failed}}, nil, nil)

	out := lines(buf)
	assert.Len(t, out, 1)
	assert.Contains(t, out[0], "(failed: network error; /retry abcdef12 or /discard abcdef12)")
}

func TestRenderer_LoadingAndFailure(t *testing.T) {
	r, buf := newTestRenderer()

	r.update(coordinator.State{ActivePeer: "bob", Phase: chat.StatusLoading}, nil, nil)
	assert.Equal(t, []string{"loading conversation with Bob..."}, lines(buf))

	st := coordinator.State{ActivePeer: "bob", Phase: chat.StatusFailed, Err: errors.New("network error: boom")}
	r.update(st, nil, nil)
	r.update(st, nil, nil)
	assert.Equal(t, []string{"[error] loading history: network error: boom (/refresh to retry)"}, lines(buf))
}

func TestRenderer_BackgroundArrivalsAnnouncedOnce(t *testing.T) {
	r, buf := newTestRenderer()
	active := coordinator.State{ActivePeer: "bob", Phase: chat.StatusReady}
	bg := timeline.View{PeerID: "carol", Status: chat.StatusReady, Messages: []chat.Message{
		{ID: "c1", SenderID: "carol", ReceiverID: "alice", Text: "psst", CreatedAt: at, State: chat.Confirmed},
	}}

	r.update(active, []timeline.View{bg}, nil)
	assert.Equal(t, []string{"● 1 new from Carol (/use carol)"}, lines(buf))

	r.update(active, []timeline.View{bg}, nil)
	assert.Empty(t, lines(buf))
}

func TestRenderer_PresenceTransitions(t *testing.T) {
	r, buf := newTestRenderer()

	r.update(coordinator.State{}, nil, []string{"bob"})
	assert.Equal(t, []string{"  Bob is online"}, lines(buf))

	r.update(coordinator.State{}, nil, []string{"carol"})
	assert.Equal(t, []string{"  Carol is online", "  Bob went offline"}, lines(buf))
}

func TestRenderer_DegradedNotice(t *testing.T) {
	r, buf := newTestRenderer()

	r.update(coordinator.State{LiveDegraded: true}, nil, nil)
	assert.Equal(t, []string{"! live updates unavailable; /refresh to reload"}, lines(buf))

	r.update(coordinator.State{}, nil, nil)
	assert.Equal(t, []string{"✓ live updates restored"}, lines(buf))
}

func TestRenderer_ImageDescription(t *testing.T) {
	r, _ := newTestRenderer()
	m := chat.Message{SenderID: "bob", ImageRef: "data:image/png;base64,AAAA", Text: "look", CreatedAt: at, State: chat.Confirmed}

	assert.True(t, strings.HasSuffix(r.formatMessage(m), "Bob: look [image image/png]"))
}
