// ABOUTME: Incremental terminal rendering of coordinator state
// ABOUTME: Prints new and changed messages, background arrivals, presence and load errors

package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/coordinator"
	"github.com/2389/coven-chat/internal/timeline"
)

// tokenPrefixLen is how much of a correlation token is shown and accepted
// by /retry and /discard.
const tokenPrefixLen = 8

type renderer struct {
	out  io.Writer
	self string
	name func(id string) string

	// seen maps a message key to the state it was last printed in.
	seen     map[string]chat.DeliveryState
	online   []string
	active   string
	status   chat.Status
	lastErr  string
	degraded bool
}

func newRenderer(out io.Writer, self string, name func(string) string) *renderer {
	return &renderer{
		out:  out,
		self: self,
		name: name,
		seen: make(map[string]chat.DeliveryState),
	}
}

func messageKey(m chat.Message) string {
	if m.CorrelationToken != "" {
		return "tok:" + m.CorrelationToken
	}
	return "id:" + m.ID
}

// update prints whatever changed since the previous call.
func (r *renderer) update(st coordinator.State, background []timeline.View, online []string) {
	if st.ActivePeer != r.active {
		r.active = st.ActivePeer
		r.status = chat.StatusIdle
		r.lastErr = ""
	}

	r.renderStatus(st)
	for _, m := range st.Messages {
		r.renderMessage(m)
	}
	for _, v := range background {
		r.renderBackground(v)
	}
	r.renderPresence(online)

	if st.LiveDegraded != r.degraded {
		r.degraded = st.LiveDegraded
		if r.degraded {
			color.New(color.FgYellow).Fprintln(r.out, "! live updates unavailable; /refresh to reload")
		} else {
			color.New(color.FgGreen).Fprintln(r.out, "✓ live updates restored")
		}
	}
}

func (r *renderer) renderStatus(st coordinator.State) {
	if st.ActivePeer == "" || st.Phase == r.status {
		return
	}
	r.status = st.Phase

	switch st.Phase {
	case chat.StatusLoading:
		color.New(color.FgHiBlack).Fprintf(r.out, "loading conversation with %s...\n", r.name(st.ActivePeer))
	case chat.StatusFailed:
		msg := "unknown error"
		if st.Err != nil {
			msg = st.Err.Error()
		}
		if msg != r.lastErr {
			r.lastErr = msg
			color.New(color.FgRed).Fprintf(r.out, "[error] loading history: %s (/refresh to retry)\n", msg)
		}
	}
}

func (r *renderer) renderMessage(m chat.Message) {
	key := messageKey(m)
	prev, printed := r.seen[key]
	if printed && prev == m.State {
		return
	}
	r.seen[key] = m.State
	// A pending entry that confirms needs no second line.
	if printed && prev == chat.Pending && m.State == chat.Confirmed {
		return
	}
	fmt.Fprintln(r.out, r.formatMessage(m))
}

func (r *renderer) formatMessage(m chat.Message) string {
	var b strings.Builder
	b.WriteString(color.HiBlackString("%s ", m.CreatedAt.Local().Format("15:04")))

	if m.SenderID == r.self {
		b.WriteString(color.CyanString("you"))
	} else {
		b.WriteString(color.GreenString(r.name(m.SenderID)))
	}
	b.WriteString(": ")
	b.WriteString(m.Text)
	if m.ImageRef != "" {
		if m.Text != "" {
			b.WriteString(" ")
		}
		b.WriteString(color.MagentaString("[image %s]", describeImage(m.ImageRef)))
	}

	switch m.State {
	case chat.Pending:
		b.WriteString(color.HiBlackString(" (sending)"))
	case chat.Failed:
		reason := m.FailReason
		if reason == "" {
			reason = "not sent"
		}
		b.WriteString(color.RedString(" (failed: %s; /retry %s or /discard %s)",
			reason, shortToken(m.CorrelationToken), shortToken(m.CorrelationToken)))
	}
	return b.String()
}

// renderBackground announces new messages in conversations other than the
// active one and marks them seen so switching does not repeat the notice.
func (r *renderer) renderBackground(v timeline.View) {
	if v.PeerID == r.active {
		return
	}
	fresh := 0
	for _, m := range v.Messages {
		key := messageKey(m)
		if _, ok := r.seen[key]; ok {
			continue
		}
		r.seen[key] = m.State
		if m.SenderID != r.self {
			fresh++
		}
	}
	if fresh > 0 {
		color.New(color.FgYellow).Fprintf(r.out, "● %d new from %s (/use %s)\n", fresh, r.name(v.PeerID), v.PeerID)
	}
}

func (r *renderer) renderPresence(online []string) {
	for _, id := range online {
		if !slices.Contains(r.online, id) {
			color.New(color.FgHiBlack).Fprintf(r.out, "  %s is online\n", r.name(id))
		}
	}
	for _, id := range r.online {
		if !slices.Contains(online, id) {
			color.New(color.FgHiBlack).Fprintf(r.out, "  %s went offline\n", r.name(id))
		}
	}
	r.online = online
}

// replay prints every message of v regardless of what was seen before.
func (r *renderer) replay(v timeline.View) {
	if len(v.Messages) == 0 {
		fmt.Fprintln(r.out, color.HiBlackString("no messages with %s yet", r.name(v.PeerID)))
		return
	}
	for _, m := range v.Messages {
		r.seen[messageKey(m)] = m.State
		fmt.Fprintln(r.out, r.formatMessage(m))
	}
}

func shortToken(token string) string {
	if len(token) <= tokenPrefixLen {
		return token
	}
	return token[:tokenPrefixLen]
}

func describeImage(ref string) string {
	if mediaType, _, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ";"); ok && strings.HasPrefix(ref, "data:") {
		return mediaType
	}
	return ref
}
