// ABOUTME: Interactive session: command parsing and dispatch to the coordinator
// ABOUTME: Output from commands and the live renderer is serialized through one writer

package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/gabriel-vasile/mimetype"
	"github.com/samber/lo"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/coordinator"
	"github.com/2389/coven-chat/internal/roster"
	"github.com/2389/coven-chat/internal/timeline"
)

// maxImageBytes bounds files attached with /image.
const maxImageBytes = 5 << 20

type session struct {
	out    *syncWriter
	coord  *coordinator.Coordinator
	roster *roster.Roster

	renderMu sync.Mutex
	render   *renderer

	// sends carries deliveries to a single worker so the server sees them
	// in input order.
	sends   chan func()
	workers sync.WaitGroup
}

// syncWriter serializes writes from the input loop and the renderer.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

func newSession(out io.Writer, coord *coordinator.Coordinator, users *roster.Roster) *session {
	w := &syncWriter{w: out}
	s := &session{
		out:    w,
		coord:  coord,
		roster: users,
		render: newRenderer(w, coord.LocalUserID(), users.Name),
		sends:  make(chan func(), 64),
	}
	s.workers.Go(func() {
		for job := range s.sends {
			job()
		}
	})
	return s
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	return scanner
}

// watch re-renders on every coordinator change until ctx ends.
func (s *session) watch(ctx context.Context) {
	for range s.coord.Watch(ctx) {
		s.refresh()
	}
}

func (s *session) refresh() {
	st := s.coord.State()
	var background []timeline.View
	for _, peerID := range s.coord.Peers() {
		if peerID == st.ActivePeer {
			continue
		}
		if v, ok := s.coord.Conversation(peerID); ok {
			background = append(background, v)
		}
	}

	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	s.render.update(st, background, s.coord.OnlineUserIDs())
}

// loop reads commands until /quit, EOF or ctx ends.
func (s *session) loop(ctx context.Context, in io.Reader) error {
	lines, errCh := readLines(in)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return fmt.Errorf("reading input: %w", err)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if s.handle(ctx, line) {
				return nil
			}
		}
	}
}

// wait blocks until queued sends resolve. No sends may follow it.
func (s *session) wait() {
	close(s.sends)
	s.workers.Wait()
}

func parseCommand(line string) (name, args string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", line
	}
	name, args, _ = strings.Cut(line, " ")
	return strings.ToLower(name), strings.TrimSpace(args)
}

// handle runs one input line and reports whether the session should end.
func (s *session) handle(ctx context.Context, line string) bool {
	name, args := parseCommand(line)
	switch name {
	case "":
		if args != "" {
			s.send(ctx, chat.Draft{Text: args})
		}
	case "/quit", "/exit", "/q":
		return true
	case "/help":
		s.printHelp()
	case "/users":
		s.listUsers(roster.Filter{Query: args})
	case "/online":
		s.listUsers(roster.Filter{Query: args, OnlineOnly: true})
	case "/use":
		s.use(args)
	case "/history":
		s.history()
	case "/image":
		s.sendImage(ctx, args)
	case "/retry":
		s.retry(ctx, args)
	case "/discard":
		s.discard(args)
	case "/refresh":
		if err := s.coord.Refresh(ctx); err != nil {
			s.errorf("%v", err)
		}
	default:
		s.errorf("unknown command %s (/help for commands)", name)
	}
	return false
}

func (s *session) printHelp() {
	fmt.Fprintln(s.out, "Commands:")
	fmt.Fprintln(s.out, "  /users [query]           List users, optionally filtered by name")
	fmt.Fprintln(s.out, "  /online [query]          List online users")
	fmt.Fprintln(s.out, "  /use <id|name>           Open a conversation")
	fmt.Fprintln(s.out, "  /history                 Reprint the open conversation")
	fmt.Fprintln(s.out, "  /image <path|url> [text] Send an image with an optional caption")
	fmt.Fprintln(s.out, "  /retry <token>           Resend a failed message")
	fmt.Fprintln(s.out, "  /discard <token>         Drop a failed message")
	fmt.Fprintln(s.out, "  /refresh                 Reload the open conversation")
	fmt.Fprintln(s.out, "  /help                    Show this help")
	fmt.Fprintln(s.out, "  /quit                    Exit")
	fmt.Fprintln(s.out, "Anything else is sent to the open conversation.")
}

func (s *session) errorf(format string, args ...any) {
	color.New(color.FgRed).Fprintf(s.out, "[error] "+format+"\n", args...)
}

func (s *session) listUsers(f roster.Filter) {
	users := s.roster.Filter(f, s.coord)
	if len(users) == 0 {
		fmt.Fprintln(s.out, "No matching users")
		return
	}
	active := s.coord.State().ActivePeer
	for _, u := range users {
		mark := color.HiBlackString("○")
		if s.coord.IsOnline(u.ID) {
			mark = color.GreenString("●")
		}
		current := ""
		if u.ID == active {
			current = color.CyanString(" (open)")
		}
		fmt.Fprintf(s.out, "  %s %s %s%s\n", mark, s.roster.Name(u.ID), color.HiBlackString("[%s]", u.ID), current)
	}
	fmt.Fprintf(s.out, "%d of %d online\n", s.roster.OnlineCount(s.coord), len(s.roster.Users()))
}

func (s *session) use(key string) {
	if key == "" {
		s.errorf("usage: /use <id|name>")
		return
	}
	u, ok := s.roster.Lookup(key)
	if !ok {
		s.errorf("no user %q (/users to list)", key)
		return
	}
	if err := s.coord.SelectPeer(u.ID); err != nil {
		s.errorf("%v", err)
		return
	}
	color.New(color.FgCyan).Fprintf(s.out, "── %s ──\n", s.roster.Name(u.ID))
	if v, ok := s.coord.Conversation(u.ID); ok && v.Status == chat.StatusReady {
		s.renderMu.Lock()
		s.render.replay(v)
		s.renderMu.Unlock()
	}
	s.refresh()
}

func (s *session) history() {
	st := s.coord.State()
	if st.ActivePeer == "" {
		s.errorf("%v", chat.ErrNoActiveConversation)
		return
	}
	v, _ := s.coord.Conversation(st.ActivePeer)
	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	s.render.replay(v)
}

// send appends the pending entry right away and queues the delivery; the
// renderer shows pending and failed states, so only errors that never
// produced an entry are printed here.
func (s *session) send(ctx context.Context, d chat.Draft) {
	pending, err := s.coord.Prepare(d)
	switch {
	case errors.Is(err, chat.ErrNoActiveConversation):
		s.errorf("%v (/use <user> first)", err)
		return
	case err != nil:
		s.errorf("%v", err)
		return
	}
	s.sends <- func() {
		_, _ = s.coord.Deliver(ctx, pending)
	}
}

func (s *session) sendImage(ctx context.Context, args string) {
	ref, caption, _ := strings.Cut(args, " ")
	if ref == "" {
		s.errorf("usage: /image <path|url> [caption]")
		return
	}
	image, err := imageRef(ref)
	if err != nil {
		s.errorf("%v", err)
		return
	}
	s.send(ctx, chat.Draft{Text: caption, Image: image})
}

// imageRef returns http(s) references unchanged and inlines local files as
// base64 data URIs.
func imageRef(ref string) (string, error) {
	if u, err := url.Parse(ref); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return ref, nil
	}

	info, err := os.Stat(ref)
	if err != nil {
		return "", fmt.Errorf("reading image: %w", err)
	}
	if info.Size() > maxImageBytes {
		return "", fmt.Errorf("image is %d bytes, limit is %d", info.Size(), maxImageBytes)
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("reading image: %w", err)
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("%s is %s, not an image", ref, mt.String())
	}
	return "data:" + mt.String() + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func (s *session) retry(ctx context.Context, prefix string) {
	token, err := s.resolveToken(prefix)
	if err != nil {
		s.errorf("%v", err)
		return
	}
	s.sends <- func() {
		if _, err := s.coord.Retry(ctx, token); errors.Is(err, chat.ErrUnknownToken) {
			s.errorf("%v", err)
		}
	}
}

func (s *session) discard(prefix string) {
	token, err := s.resolveToken(prefix)
	if err != nil {
		s.errorf("%v", err)
		return
	}
	if err := s.coord.Discard(token); err != nil {
		s.errorf("%v", err)
		return
	}
	fmt.Fprintln(s.out, color.HiBlackString("discarded %s", shortToken(token)))
}

// resolveToken expands a token prefix against the failed entries of the
// open conversation.
func (s *session) resolveToken(prefix string) (string, error) {
	if prefix == "" {
		return "", errors.New("a message token is required")
	}
	return matchToken(s.coord.State().Messages, prefix)
}

func matchToken(msgs []chat.Message, prefix string) (string, error) {
	matches := lo.Filter(msgs, func(m chat.Message, _ int) bool {
		return m.State == chat.Failed && strings.HasPrefix(m.CorrelationToken, prefix)
	})
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: no failed message matches %q", chat.ErrUnknownToken, prefix)
	case 1:
		return matches[0].CorrelationToken, nil
	default:
		return "", fmt.Errorf("token prefix %q is ambiguous", prefix)
	}
}
