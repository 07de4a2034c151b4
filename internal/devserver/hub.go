// ABOUTME: WebSocket hub fanning live events out to per-user connections
// ABOUTME: Tracks presence by connection count and honors per-connection listen sets

package devserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/broadcast"
	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/transport"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = pongWait * 9 / 10
	maxFrameBytes = 64 << 10
)

// Hub serves the live channel. Events are published per user id; each
// connection forwards the events its listen set names.
type Hub struct {
	upgrader websocket.Upgrader
	events   *broadcast.Broadcaster[transport.Event]
	logger   *slog.Logger

	mu     sync.Mutex
	conns  map[string]map[*wsConn]struct{} // user id -> connections
	closed bool
}

// NewHub creates a hub. An empty allowedOrigins keeps gorilla's same-host
// origin check.
func NewHub(allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		events: broadcast.New[transport.Event](logger),
		logger: logger,
		conns:  make(map[string]map[*wsConn]struct{}),
	}
	if len(allowedOrigins) > 0 {
		h.upgrader.CheckOrigin = originChecker(allowedOrigins)
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	normalized := lo.Map(allowed, func(o string, _ int) string {
		return strings.ToLower(strings.TrimSuffix(o, "/"))
	})
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return lo.Contains(normalized, strings.ToLower(origin))
	}
}

type wsConn struct {
	ws     *websocket.Conn
	userID string

	writeMu sync.Mutex

	mu     sync.Mutex
	listen map[string]bool
}

func (c *wsConn) wants(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listen[eventType]
}

// setListen replaces the listen set and reports whether eventType was newly added.
func (c *wsConn) setListen(events []string, eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	had := c.listen[eventType]
	c.listen = lo.SliceToMap(events, func(e string) (string, bool) { return e, true })
	return !had && c.listen[eventType]
}

func (c *wsConn) write(ev transport.Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(ev)
}

// ServeHTTP upgrades an authenticated request and serves the connection
// until the peer goes away or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", "user_id", user.ID, "error", err)
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	c := &wsConn{ws: ws, userID: user.ID, listen: map[string]bool{}}
	if !h.join(c) {
		_ = ws.Close()
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	events, _ := h.events.Subscribe(ctx, user.ID)

	var wg sync.WaitGroup
	wg.Go(func() { h.writePump(ctx, c, events) })

	h.readLoop(c)

	cancel()
	wg.Wait()
	_ = ws.Close()
	h.leave(c)
}

func (h *Hub) writePump(ctx context.Context, c *wsConn, events <-chan transport.Event) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				// Hub closed; unblock the read loop.
				_ = c.ws.Close()
				return
			}
			if !c.wants(ev.Type) {
				continue
			}
			if err := c.write(ev); err != nil {
				h.logger.Debug("write failed", "user_id", c.userID, "error", err)
				_ = c.ws.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = c.ws.Close()
				return
			}
		}
	}
}

func (h *Hub) readLoop(c *wsConn) {
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame transport.Event
		if err := c.ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("read failed", "user_id", c.userID, "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		if frame.Type != transport.FrameListen {
			h.logger.Debug("ignoring client frame", "user_id", c.userID, "type", frame.Type)
			continue
		}

		var req transport.ListenRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			h.logger.Debug("malformed listen frame", "user_id", c.userID, "error", err)
			continue
		}

		if c.setListen(req.Events, transport.EventPresenceSnapshot) {
			h.sendSnapshot(c)
		}
	}
}

// sendSnapshot writes the online set, minus the receiver, to one connection.
func (h *Hub) sendSnapshot(c *wsConn) {
	ev, err := transport.NewEvent(transport.EventPresenceSnapshot,
		transport.PresenceSnapshot{UserIDs: h.onlineExcept(c.userID)})
	if err != nil {
		h.logger.Error("encoding snapshot", "error", err)
		return
	}
	if err := c.write(ev); err != nil {
		h.logger.Debug("snapshot write failed", "user_id", c.userID, "error", err)
	}
}

// join registers c and reports false once the hub is closed. The first
// connection of a user announces them online.
func (h *Hub) join(c *wsConn) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	set, ok := h.conns[c.userID]
	if !ok {
		set = make(map[*wsConn]struct{})
		h.conns[c.userID] = set
	}
	set[c] = struct{}{}
	first := len(set) == 1
	h.mu.Unlock()

	h.logger.Debug("connection joined", "user_id", c.userID, "first", first)
	if first {
		h.publishPresence(c.userID, true)
	}
	return true
}

// leave removes c. The last connection of a user announces them offline.
func (h *Hub) leave(c *wsConn) {
	h.mu.Lock()
	set := h.conns[c.userID]
	delete(set, c)
	last := len(set) == 0
	if last {
		delete(h.conns, c.userID)
	}
	closed := h.closed
	h.mu.Unlock()

	h.logger.Debug("connection left", "user_id", c.userID, "last", last)
	if last && !closed {
		h.publishPresence(c.userID, false)
	}
}

func (h *Hub) publishPresence(userID string, online bool) {
	ev, err := transport.NewEvent(transport.EventPresenceDelta, transport.PresenceDelta{UserID: userID, Online: online})
	if err != nil {
		h.logger.Error("encoding presence delta", "error", err)
		return
	}
	for _, id := range h.onlineExcept(userID) {
		h.events.Publish(id, ev, "")
	}
}

// PublishMessage delivers message:new to the receiver and to every connection
// of the sender. Only the sender's copy carries the correlation token.
func (h *Hub) PublishMessage(m chat.Message) {
	senderEv, err := transport.NewEvent(transport.EventMessageNew, m)
	if err != nil {
		h.logger.Error("encoding message", "error", err)
		return
	}
	h.events.Publish(m.SenderID, senderEv, "")

	if m.ReceiverID == m.SenderID {
		return
	}
	m.CorrelationToken = ""
	receiverEv, err := transport.NewEvent(transport.EventMessageNew, m)
	if err != nil {
		h.logger.Error("encoding message", "error", err)
		return
	}
	h.events.Publish(m.ReceiverID, receiverEv, "")
}

// Online returns the ids of users with at least one connection, sorted.
func (h *Hub) Online() []string {
	return h.onlineExcept("")
}

func (h *Hub) onlineExcept(userID string) []string {
	h.mu.Lock()
	ids := lo.Without(lo.Keys(h.conns), userID)
	h.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// Close disconnects every connection. Later upgrades are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	// Closing subscriber channels makes each write pump close its socket.
	h.events.Close()
}
