// ABOUTME: SyncCoordinator driving selection, sends and live event routing
// ABOUTME: Owns the timeline store, presence tracker and subscription manager

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/presence"
	"github.com/2389/coven-chat/internal/subscription"
	"github.com/2389/coven-chat/internal/timeline"
	"github.com/2389/coven-chat/internal/transport"
)

// ErrClosed is returned by operations on a closed coordinator.
var ErrClosed = errors.New("coordinator closed")

// RequestClient is the server API the coordinator needs.
type RequestClient interface {
	timeline.HistoryFetcher
	Create(ctx context.Context, peerID string, draft chat.Draft, idempotencyKey string) (chat.Message, error)
}

// Options configures a Coordinator.
type Options struct {
	LocalUserID string
	// MaxMessages bounds each cached conversation. Zero is unbounded.
	MaxMessages int
	Logger      *slog.Logger
	Now         func() time.Time
}

// State is a presentation snapshot of the active conversation.
type State struct {
	ActivePeer   string
	Phase        chat.Status
	Messages     []chat.Message
	Loading      bool
	Err          error
	Stale        bool
	LiveDegraded bool
}

// Coordinator is the synchronization core.
type Coordinator struct {
	client      RequestClient
	store       *timeline.Store
	presence    *presence.Tracker
	sub         *subscription.Manager
	localUserID string

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	loads  sync.WaitGroup
	closed bool

	logger *slog.Logger
}

// New creates a coordinator. Nothing is fetched or subscribed until the first
// SelectPeer.
func New(client RequestClient, ch transport.Channel, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		client:      client,
		localUserID: opts.LocalUserID,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.With("component", "coordinator"),
	}
	c.store = timeline.New(client, timeline.Options{
		LocalUserID: opts.LocalUserID,
		MaxMessages: opts.MaxMessages,
		Logger:      logger,
		Now:         opts.Now,
	})
	c.presence = presence.NewTracker(opts.LocalUserID, logger)
	c.sub = subscription.New(ch, c.handleEvent, c.resync, logger)
	return c
}

// LocalUserID returns the id of the signed-in user.
func (c *Coordinator) LocalUserID() string {
	return c.localUserID
}

// SelectPeer makes peerID the active conversation. It ensures the live
// subscription and starts a history load unless the cached conversation is
// current or already loading. A live registration failure is logged and
// reported through State().LiveDegraded; history still loads.
func (c *Coordinator) SelectPeer(peerID string) error {
	if peerID == "" || peerID == c.localUserID {
		return fmt.Errorf("%w: cannot open a conversation with %q", chat.ErrValidation, peerID)
	}
	if c.isClosed() {
		return ErrClosed
	}

	c.store.Select(peerID)

	if err := c.sub.Activate(); err != nil {
		c.logger.Warn("live updates unavailable", "error", err)
	}

	if v, ok := c.store.View(peerID); ok && !needsLoad(v) {
		c.logger.Debug("using cached conversation", "peer_id", peerID, "status", v.Status)
		return nil
	}
	c.loadAsync(peerID)
	return nil
}

func needsLoad(v timeline.View) bool {
	switch v.Status {
	case chat.StatusLoading:
		return false
	case chat.StatusReady:
		return v.Stale
	default:
		return true
	}
}

// Refresh reloads the active conversation and waits for the result.
func (c *Coordinator) Refresh(ctx context.Context) error {
	peerID := c.store.ActivePeer()
	if peerID == "" {
		return chat.ErrNoActiveConversation
	}
	return c.store.LoadHistory(ctx, peerID)
}

// SendMessage sends draft to the active conversation. Validation errors wrap
// chat.ErrValidation and leave the timeline untouched. Otherwise the returned
// message is Confirmed, or Failed together with the create error.
func (c *Coordinator) SendMessage(ctx context.Context, draft chat.Draft) (chat.Message, error) {
	pending, err := c.Prepare(draft)
	if err != nil {
		return chat.Message{}, err
	}
	return c.Deliver(ctx, pending)
}

// Prepare validates draft and appends it to the active conversation as
// Pending without calling the server. Callers that pipeline sends call
// Prepare in input order and Deliver later.
func (c *Coordinator) Prepare(draft chat.Draft) (chat.Message, error) {
	d := draft.Normalize()
	if err := d.Validate(); err != nil {
		return chat.Message{}, err
	}

	token, err := c.store.AppendOptimistic(d)
	if err != nil {
		return chat.Message{}, err
	}
	pending, ok := c.store.Lookup(token)
	if !ok {
		return chat.Message{}, fmt.Errorf("%w: %s", chat.ErrUnknownToken, token)
	}
	return pending, nil
}

// Deliver sends a message returned by Prepare.
func (c *Coordinator) Deliver(ctx context.Context, pending chat.Message) (chat.Message, error) {
	d := chat.Draft{Text: pending.Text, Image: pending.ImageRef}
	return c.deliver(ctx, pending.PeerID, pending.CorrelationToken, d)
}

// Retry sends a Failed message again under the same correlation token.
func (c *Coordinator) Retry(ctx context.Context, token string) (chat.Message, error) {
	m, err := c.store.MarkPending(token)
	if err != nil {
		return chat.Message{}, err
	}
	return c.deliver(ctx, m.PeerID, token, chat.Draft{Text: m.Text, Image: m.ImageRef})
}

// Discard removes a Failed message.
func (c *Coordinator) Discard(token string) error {
	return c.store.Discard(token)
}

func (c *Coordinator) deliver(ctx context.Context, peerID, token string, d chat.Draft) (chat.Message, error) {
	m, err := c.client.Create(ctx, peerID, d, token)
	if err != nil {
		reason := err.Error()
		if markErr := c.store.MarkFailed(token, reason); markErr != nil {
			c.logger.Debug("send already resolved", "token", token, "error", markErr)
		}
		failed, ok := c.store.Lookup(token)
		if ok {
			c.logger.Warn("send failed", "peer_id", peerID, "token", token, "error", err)
			return failed, err
		}
		if sent, ok := c.store.Sent(token); ok {
			// The live channel or a history reload confirmed it first.
			c.logger.Info("send confirmed before create failed", "peer_id", peerID, "token", token)
			return sent, nil
		}
		// The timeline was reset while the create call was in flight.
		c.logger.Warn("send failed after reset", "peer_id", peerID, "token", token, "error", err)
		return chat.Message{
			PeerID:           peerID,
			SenderID:         c.localUserID,
			ReceiverID:       peerID,
			Text:             d.Text,
			ImageRef:         d.Image,
			State:            chat.Failed,
			CorrelationToken: token,
			FailReason:       reason,
		}, err
	}

	c.store.ConfirmSent(m, token)
	m.CorrelationToken = token
	m.State = chat.Confirmed
	return m, nil
}

func (c *Coordinator) handleEvent(ev transport.Event) {
	switch ev.Type {
	case transport.EventMessageNew:
		m, err := transport.DecodeMessage(ev)
		if err != nil {
			c.logger.Warn("dropping malformed message event", "error", err)
			return
		}
		if m.SenderID != c.localUserID && m.ReceiverID != c.localUserID {
			c.logger.Warn("dropping message for another user", "message_id", m.ID)
			return
		}
		m.PeerID = chat.PeerFor(c.localUserID, m)
		token := ""
		if m.SenderID == c.localUserID {
			token = m.CorrelationToken
		}
		c.store.ReconcileConfirmed(m, token)

	case transport.EventPresenceSnapshot:
		ids, err := transport.DecodePresenceSnapshot(ev)
		if err != nil {
			c.logger.Warn("dropping malformed presence snapshot", "error", err)
			return
		}
		c.presence.ApplySnapshot(ids)

	case transport.EventPresenceDelta:
		d, err := transport.DecodePresenceDelta(ev)
		if err != nil {
			c.logger.Warn("dropping malformed presence delta", "error", err)
			return
		}
		c.presence.ApplyDelta(d.UserID, d.Online)
	}
}

// resync runs after the live channel reconnects.
func (c *Coordinator) resync() {
	active := c.store.ActivePeer()
	c.store.MarkStale(active)
	if active != "" {
		c.loadAsync(active)
	}
}

func (c *Coordinator) loadAsync(peerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.loads.Go(func() {
		if err := c.store.LoadHistory(c.ctx, peerID); err != nil {
			c.logger.Debug("background history load failed", "peer_id", peerID, "error", err)
		}
	})
}

// State returns a snapshot of the active conversation.
func (c *Coordinator) State() State {
	v := c.store.Active()
	return State{
		ActivePeer:   v.PeerID,
		Phase:        v.Status,
		Messages:     v.Messages,
		Loading:      v.Status == chat.StatusLoading,
		Err:          v.Err,
		Stale:        v.Stale,
		LiveDegraded: c.sub.Degraded(),
	}
}

// Conversation returns a snapshot of any cached conversation.
func (c *Coordinator) Conversation(peerID string) (timeline.View, bool) {
	return c.store.View(peerID)
}

// Peers returns the peers with a cached conversation.
func (c *Coordinator) Peers() []string {
	return c.store.Peers()
}

// OnlineUserIDs returns the ids of online peers, sorted.
func (c *Coordinator) OnlineUserIDs() []string {
	return c.presence.IDs()
}

// IsOnline reports whether a peer is online. Advisory only.
func (c *Coordinator) IsOnline(userID string) bool {
	return c.presence.IsOnline(userID)
}

// Watch returns a channel that receives a value whenever conversation or
// presence state changes. Bursts are coalesced. The channel closes when ctx
// ends or the coordinator closes.
func (c *Coordinator) Watch(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	changes := c.store.Watch(ctx)
	online := c.presence.Watch(ctx)

	go func() {
		defer close(out)
		for {
			select {
			case _, ok := <-changes:
				if !ok {
					return
				}
			case _, ok := <-online:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out
}

// Logout tears down the live subscription and drops all cached state. The
// coordinator can be used again afterwards.
func (c *Coordinator) Logout() {
	c.sub.Deactivate()
	c.store.Reset()
	c.presence.Reset()
	c.logger.Info("logged out")
}

// Close logs out, waits for background loads and ends all watchers.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.Logout()
	c.cancel()
	c.loads.Wait()
	c.store.Close()
	c.presence.Close()
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
