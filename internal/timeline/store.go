// ABOUTME: ConversationStore holding per-peer timelines and the active conversation
// ABOUTME: Merges history, optimistic sends and live arrivals under one mutex

package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/broadcast"
	"github.com/2389/coven-chat/internal/chat"
)

// ErrNotFailed is returned when a retry or discard targets a message that is
// not in the Failed state.
var ErrNotFailed = errors.New("message is not failed")

// AllKey is the notification key that receives changes for every peer.
const AllKey = "*"

// HistoryFetcher is the Request Client call used by LoadHistory.
type HistoryFetcher interface {
	History(ctx context.Context, peerID string) ([]chat.Message, error)
}

// ChangeKind says what part of the state changed.
type ChangeKind int

const (
	ChangeTimeline ChangeKind = iota
	ChangeStatus
	ChangeActive
	ChangeReset
)

// Change is a notification that state for PeerID changed.
type Change struct {
	PeerID string
	Kind   ChangeKind
}

// View is a copy of one conversation.
type View struct {
	PeerID   string
	Messages []chat.Message
	Status   chat.Status
	Err      error
	Stale    bool
}

// Options configures a Store.
type Options struct {
	// LocalUserID identifies the local user; it keys incoming messages by peer
	// and is the sender of optimistic messages.
	LocalUserID string
	// MaxMessages bounds the entries kept per conversation. Zero is unbounded.
	MaxMessages int
	Logger      *slog.Logger
	// Now overrides the clock used for optimistic timestamps.
	Now func() time.Time
}

// Store owns every conversation timeline.
type Store struct {
	mu     sync.RWMutex
	convs  map[string]*conversation
	tokens map[string]string // correlation token -> peer
	active string
	stamps uint64
	seq    uint64

	fetcher     HistoryFetcher
	localUserID string
	maxMessages int
	now         func() time.Time
	changes     *broadcast.Broadcaster[Change]
	logger      *slog.Logger
}

// New creates an empty Store.
func New(fetcher HistoryFetcher, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		convs:       make(map[string]*conversation),
		tokens:      make(map[string]string),
		fetcher:     fetcher,
		localUserID: opts.LocalUserID,
		maxMessages: opts.MaxMessages,
		now:         now,
		changes:     broadcast.New[Change](logger),
		logger:      logger.With("component", "timeline"),
	}
}

// Select makes peerID the active conversation, creating it if needed.
// It does not fetch or subscribe. Returns false if peerID was already active.
func (s *Store) Select(peerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if peerID == s.active {
		return false
	}
	s.active = peerID
	if peerID != "" {
		s.ensureLocked(peerID)
	}
	s.publishLocked(peerID, ChangeActive)
	return true
}

// ActivePeer returns the active peer ID, or "" if none is selected.
func (s *Store) ActivePeer() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// LoadHistory fetches the history for peerID and replaces its timeline.
// On failure the conversation keeps its cached timeline and records the
// error. A response superseded by a newer load is discarded and nil is
// returned.
func (s *Store) LoadHistory(ctx context.Context, peerID string) error {
	seq := s.beginLoad(peerID)

	msgs, err := s.fetcher.History(ctx, peerID)
	if err != nil {
		if s.failLoad(peerID, seq, err) {
			return err
		}
		return nil
	}

	s.applyHistory(peerID, seq, msgs)
	return nil
}

func (s *Store) beginLoad(peerID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.ensureLocked(peerID)
	s.seq++
	c.seq = s.seq
	c.loadMark = s.stamps
	c.status = chat.StatusLoading
	c.err = nil
	s.publishLocked(peerID, ChangeStatus)
	return c.seq
}

func (s *Store) failLoad(peerID string, seq uint64, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[peerID]
	if !ok || c.seq != seq {
		s.logger.Debug("discarding superseded history failure", "peer_id", peerID, "seq", seq)
		return false
	}
	c.status = chat.StatusFailed
	c.err = err
	s.logger.Warn("history load failed", "peer_id", peerID, "error", err)
	s.publishLocked(peerID, ChangeStatus)
	return true
}

func (s *Store) applyHistory(peerID string, seq uint64, msgs []chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[peerID]
	if !ok || c.seq != seq {
		s.logger.Debug("discarding superseded history", "peer_id", peerID, "seq", seq)
		return
	}

	next := newConversation(peerID)
	sent := make(map[string]bool)
	for _, m := range msgs {
		if m.ID == "" || next.byID[m.ID] != nil {
			continue
		}
		m.PeerID = peerID
		m.State = chat.Confirmed
		m.FailReason = ""
		e := &entry{msg: m, stamp: s.nextStampLocked()}
		next.entries = append(next.entries, e)
		next.byID[m.ID] = e
		if m.CorrelationToken != "" {
			sent[m.CorrelationToken] = true
		}
	}
	slices.SortStableFunc(next.entries, func(a, b *entry) int {
		return a.msg.CreatedAt.Compare(b.msg.CreatedAt)
	})

	// Keep what the server could not have known when it answered: unsent
	// optimistic entries and confirmations applied after the load was issued.
	// An unconfirmed entry whose token came back in the history was stored by
	// the server and is superseded by the history copy.
	for _, e := range c.entries {
		switch {
		case e.msg.State != chat.Confirmed && sent[e.msg.CorrelationToken]:
			delete(s.tokens, e.msg.CorrelationToken)
		case e.msg.State != chat.Confirmed:
			next.insert(e)
		case e.stamp > c.loadMark && next.byID[e.msg.ID] == nil:
			next.insert(e)
		}
	}

	c.entries = next.entries
	c.reindex()
	c.status = chat.StatusReady
	c.err = nil
	c.stale = false
	c.trim(s.maxMessages)

	s.logger.Debug("history applied", "peer_id", peerID, "seq", seq, "count", len(c.entries))
	s.publishLocked(peerID, ChangeTimeline)
}

// AppendOptimistic adds a Pending message for the active conversation and
// returns its correlation token. The draft must already be validated.
func (s *Store) AppendOptimistic(draft chat.Draft) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == "" {
		return "", chat.ErrNoActiveConversation
	}

	token := uuid.NewString()
	c := s.ensureLocked(s.active)
	c.insert(&entry{
		msg: chat.Message{
			PeerID:           s.active,
			SenderID:         s.localUserID,
			ReceiverID:       s.active,
			Text:             draft.Text,
			ImageRef:         draft.Image,
			CreatedAt:        s.now(),
			State:            chat.Pending,
			CorrelationToken: token,
		},
		stamp: s.nextStampLocked(),
	})
	s.tokens[token] = s.active
	s.publishLocked(s.active, ChangeTimeline)
	return token, nil
}

// ReconcileConfirmed applies a server-confirmed message. If token matches an
// unconfirmed entry, that entry is replaced in place. Otherwise the message
// is inserted in order unless its ID is already present. Returns whether the
// timeline changed.
func (s *Store) ReconcileConfirmed(msg chat.Message, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconcileLocked(msg, token, true)
}

// ConfirmSent applies the create response for token. Unlike
// ReconcileConfirmed it never creates a conversation: a response for a
// conversation dropped by Reset is discarded.
func (s *Store) ConfirmSent(msg chat.Message, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconcileLocked(msg, token, false)
}

func (s *Store) reconcileLocked(msg chat.Message, token string, create bool) bool {
	msg.State = chat.Confirmed
	msg.FailReason = ""

	if token != "" {
		if changed, handled := s.replaceLocked(msg, token); handled {
			return changed
		}
	}

	if msg.ID == "" {
		s.logger.Warn("ignoring confirmed message without id", "sender_id", msg.SenderID)
		return false
	}

	peerID := msg.PeerID
	if peerID == "" {
		peerID = chat.PeerFor(s.localUserID, msg)
	}
	msg.PeerID = peerID

	if !create && s.convs[peerID] == nil {
		s.logger.Debug("discarding confirmation for dropped conversation", "peer_id", peerID, "token", token)
		return false
	}
	c := s.ensureLocked(peerID)
	if c.byID[msg.ID] != nil {
		return false
	}
	c.insert(&entry{msg: msg, stamp: s.nextStampLocked()})
	if c.status == chat.StatusIdle {
		// Populated by the live channel: current from here on.
		c.status = chat.StatusReady
	}
	c.trim(s.maxMessages)
	s.publishLocked(peerID, ChangeTimeline)
	return true
}

// replaceLocked swaps the optimistic entry for token with msg. handled is
// false when the token is unknown or already confirmed.
func (s *Store) replaceLocked(msg chat.Message, token string) (changed, handled bool) {
	peerID, ok := s.tokens[token]
	if !ok {
		return false, false
	}
	c := s.convs[peerID]
	e := c.byToken[token]
	if e == nil || e.msg.State == chat.Confirmed {
		return false, false
	}

	delete(s.tokens, token)
	if existing := c.byID[msg.ID]; msg.ID != "" && existing != nil && existing != e {
		// The live echo got here first.
		c.remove(e)
		s.publishLocked(peerID, ChangeTimeline)
		return true, true
	}

	delete(c.byToken, token)
	msg.PeerID = peerID
	msg.CorrelationToken = token
	e.msg = msg
	e.stamp = s.nextStampLocked()
	c.index(e)
	c.trim(s.maxMessages)
	s.publishLocked(peerID, ChangeTimeline)
	return true, true
}

// MarkFailed moves the Pending entry for token to Failed. The entry stays in
// the timeline. A token that was already confirmed is left alone.
func (s *Store) MarkFailed(token, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, e, err := s.lookupLocked(token)
	if err != nil {
		return err
	}
	if e.msg.State != chat.Pending {
		return nil
	}
	e.msg.State = chat.Failed
	e.msg.FailReason = reason
	s.publishLocked(c.peerID, ChangeTimeline)
	return nil
}

// MarkPending moves a Failed entry back to Pending for a retry and returns
// a copy of it.
func (s *Store) MarkPending(token string) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, e, err := s.lookupLocked(token)
	if err != nil {
		return chat.Message{}, err
	}
	if e.msg.State != chat.Failed {
		return chat.Message{}, fmt.Errorf("%w: %s is %s", ErrNotFailed, token, e.msg.State)
	}
	e.msg.State = chat.Pending
	e.msg.FailReason = ""
	s.publishLocked(c.peerID, ChangeTimeline)
	return e.msg, nil
}

// Discard removes a Failed entry at the user's request.
func (s *Store) Discard(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, e, err := s.lookupLocked(token)
	if err != nil {
		return err
	}
	if e.msg.State != chat.Failed {
		return fmt.Errorf("%w: %s is %s", ErrNotFailed, token, e.msg.State)
	}
	c.remove(e)
	delete(s.tokens, token)
	s.publishLocked(c.peerID, ChangeTimeline)
	return nil
}

// Lookup returns a copy of the unconfirmed entry for token.
func (s *Store) Lookup(token string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, e, err := s.lookupLocked(token)
	if err != nil {
		return chat.Message{}, false
	}
	return e.msg, true
}

// Sent returns the confirmed message carrying token, if the timeline holds
// one. It finds sends confirmed by the live channel or by a history reload.
func (s *Store) Sent(token string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if token == "" {
		return chat.Message{}, false
	}
	for _, c := range s.convs {
		for _, e := range c.entries {
			if e.msg.State == chat.Confirmed && e.msg.CorrelationToken == token {
				return e.msg, true
			}
		}
	}
	return chat.Message{}, false
}

func (s *Store) lookupLocked(token string) (*conversation, *entry, error) {
	peerID, ok := s.tokens[token]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", chat.ErrUnknownToken, token)
	}
	c := s.convs[peerID]
	e := c.byToken[token]
	if e == nil {
		return nil, nil, fmt.Errorf("%w: %s", chat.ErrUnknownToken, token)
	}
	return c, e, nil
}

// MarkStale flags every ready conversation other than except as needing a
// reload on its next selection.
func (s *Store) MarkStale(except string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for peerID, c := range s.convs {
		if peerID == except || c.status != chat.StatusReady {
			continue
		}
		c.stale = true
		s.publishLocked(peerID, ChangeStatus)
	}
}

// View returns a copy of the conversation for peerID.
func (s *Store) View(peerID string) (View, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[peerID]
	if !ok {
		return View{PeerID: peerID}, false
	}
	return View{
		PeerID:   peerID,
		Messages: c.messages(),
		Status:   c.status,
		Err:      c.err,
		Stale:    c.stale,
	}, true
}

// Active returns a copy of the active conversation.
func (s *Store) Active() View {
	v, _ := s.View(s.ActivePeer())
	return v
}

// Peers returns the peers that have a conversation in memory.
func (s *Store) Peers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make([]string, 0, len(s.convs))
	for peerID := range s.convs {
		peers = append(peers, peerID)
	}
	slices.Sort(peers)
	return peers
}

// Watch returns change notifications for every conversation until ctx ends.
func (s *Store) Watch(ctx context.Context) <-chan Change {
	ch, _ := s.changes.Subscribe(ctx, AllKey)
	return ch
}

// WatchPeer returns change notifications for one peer until ctx ends.
func (s *Store) WatchPeer(ctx context.Context, peerID string) <-chan Change {
	ch, _ := s.changes.Subscribe(ctx, peerID)
	return ch
}

// Reset drops every conversation and clears the active pointer.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.convs)
	clear(s.tokens)
	s.active = ""
	s.publishLocked("", ChangeReset)
}

// Close ends all Watch subscriptions.
func (s *Store) Close() {
	s.changes.Close()
}

func (s *Store) ensureLocked(peerID string) *conversation {
	c, ok := s.convs[peerID]
	if !ok {
		c = newConversation(peerID)
		s.convs[peerID] = c
	}
	return c
}

func (s *Store) nextStampLocked() uint64 {
	s.stamps++
	return s.stamps
}

func (s *Store) publishLocked(peerID string, kind ChangeKind) {
	change := Change{PeerID: peerID, Kind: kind}
	if peerID != "" {
		s.changes.Publish(peerID, change, "")
	}
	s.changes.Publish(AllKey, change, "")
}
