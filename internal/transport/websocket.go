// ABOUTME: WebSocket implementation of Channel with paced reconnects
// ABOUTME: One reader goroutine delivers events to listeners in arrival order

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/2389/coven-chat/internal/chat"
)

const (
	defaultReconnectInterval = 2 * time.Second
	defaultReconnectBurst    = 1
	writeTimeout             = 10 * time.Second
)

// WSOptions configures a WSChannel.
type WSOptions struct {
	// URL is the ws:// or wss:// endpoint.
	URL string
	// Token is sent as a bearer Authorization header.
	Token string
	// ManualResubscribe disables replaying listen frames after a reconnect.
	// Callers must then register again themselves.
	ManualResubscribe bool
	// ReconnectInterval paces dial attempts. Defaults to 2s.
	ReconnectInterval time.Duration
	// ReconnectBurst is the number of dials allowed back to back. Defaults to 1.
	ReconnectBurst int
	Dialer         *websocket.Dialer
	Logger         *slog.Logger
}

// WSChannel is a Channel backed by a WebSocket connection. Run drives it.
type WSChannel struct {
	opts    WSOptions
	dialer  *websocket.Dialer
	limiter *rate.Limiter
	logger  *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	listeners map[ListenerID]listener
	nextID    ListenerID
	observers map[int]StateHandler
	nextObs   int
	closed    bool

	writeMu sync.Mutex
}

// NewWSChannel creates a channel. It does not connect until Run is called.
func NewWSChannel(opts WSOptions) *WSChannel {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = defaultReconnectInterval
	}
	if opts.ReconnectBurst <= 0 {
		opts.ReconnectBurst = defaultReconnectBurst
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WSChannel{
		opts:      opts,
		dialer:    dialer,
		limiter:   rate.NewLimiter(rate.Every(opts.ReconnectInterval), opts.ReconnectBurst),
		logger:    logger.With("component", "ws_channel"),
		listeners: make(map[ListenerID]listener),
		observers: make(map[int]StateHandler),
	}
}

// AutoResubscribe reports whether listen frames are replayed on reconnect.
func (c *WSChannel) AutoResubscribe() bool {
	return !c.opts.ManualResubscribe
}

// Connected reports whether a connection is currently open.
func (c *WSChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Register adds a listener. When connected, the new event set is sent to the
// server immediately and a write failure fails the registration.
func (c *WSChannel) Register(events []string, h Handler) (ListenerID, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: channel closed", chat.ErrTransport)
	}
	c.nextID++
	id := c.nextID
	c.listeners[id] = newListener(events, h)
	conn := c.conn
	union := c.eventsLocked()
	c.mu.Unlock()

	if conn == nil {
		return id, nil
	}
	if err := c.writeListen(conn, union); err != nil {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: registering listener: %v", chat.ErrTransport, err)
	}
	return id, nil
}

// Unregister removes a listener and narrows the server-side event set.
func (c *WSChannel) Unregister(id ListenerID) {
	c.mu.Lock()
	if _, ok := c.listeners[id]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.listeners, id)
	conn := c.conn
	union := c.eventsLocked()
	c.mu.Unlock()

	if conn == nil {
		return
	}
	if err := c.writeListen(conn, union); err != nil {
		c.logger.Warn("failed to narrow listen set", "error", err)
	}
}

// OnState adds a state observer.
func (c *WSChannel) OnState(h StateHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextObs++
	id := c.nextObs
	c.observers[id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.observers, id)
	}
}

// Run dials, reads and redials until ctx is cancelled. After Run returns the
// channel rejects new registrations.
func (c *WSChannel) Run(ctx context.Context) error {
	defer func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
	}()

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil
		}

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("dial failed", "url", c.opts.URL, "error", err)
			continue
		}

		c.attach(conn)
		err = c.readLoop(ctx, conn)
		c.detach(conn)

		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("connection lost", "error", err)
	}
}

func (c *WSChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.opts.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: status %d: %v", chat.ErrTransport, c.opts.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", chat.ErrTransport, c.opts.URL, err)
	}
	return conn, nil
}

func (c *WSChannel) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	union := c.eventsLocked()
	c.mu.Unlock()

	if c.AutoResubscribe() && len(union) > 0 {
		if err := c.writeListen(conn, union); err != nil {
			c.logger.Warn("failed to replay listen set", "error", err)
		}
	}

	c.logger.Info("connected", "url", c.opts.URL)
	c.notify(StateConnected)
}

func (c *WSChannel) detach(conn *websocket.Conn) {
	_ = conn.Close()
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	c.notify(StateDisconnected)
}

func (c *WSChannel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		c.dispatch(ev)
	}
}

func (c *WSChannel) dispatch(ev Event) {
	c.mu.Lock()
	var targets []Handler
	for _, id := range c.sortedIDsLocked() {
		if l := c.listeners[id]; l.wants(ev.Type) {
			targets = append(targets, l.h)
		}
	}
	c.mu.Unlock()

	if len(targets) == 0 {
		c.logger.Debug("dropping unlistened event", "type", ev.Type)
		return
	}
	for _, h := range targets {
		h(ev)
	}
}

func (c *WSChannel) notify(s State) {
	c.mu.Lock()
	handlers := make([]StateHandler, 0, len(c.observers))
	for _, h := range c.observers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(s)
	}
}

func (c *WSChannel) writeListen(conn *websocket.Conn, events []string) error {
	ev, err := NewEvent(FrameListen, ListenRequest{Events: events})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}

func (c *WSChannel) eventsLocked() []string {
	set := make(map[string]struct{})
	for _, l := range c.listeners {
		for e := range l.events {
			set[e] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	slices.Sort(out)
	return out
}

func (c *WSChannel) sortedIDsLocked() []ListenerID {
	ids := make([]ListenerID, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
