// ABOUTME: SubscriptionManager holding one listener registration on the live channel
// ABOUTME: Re-registers after reconnects when needed and triggers history resync

package subscription

import (
	"log/slog"
	"sync"

	"github.com/2389/coven-chat/internal/transport"
)

// Events is the set of inbound events the manager listens for.
var Events = []string{
	transport.EventMessageNew,
	transport.EventPresenceSnapshot,
	transport.EventPresenceDelta,
}

// Manager keeps at most one listener registered on a channel.
type Manager struct {
	mu          sync.Mutex
	ch          transport.Channel
	handler     transport.Handler
	resync      func()
	active      bool
	gen         uint64
	listener    transport.ListenerID
	registered  bool
	err         error
	dropped     bool
	cancelState func()
	logger      *slog.Logger
}

// New creates an inactive manager. handler receives every inbound event;
// resync runs after each reconnect while active. Pass nil logger for default.
func New(ch transport.Channel, handler transport.Handler, resync func(), logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if resync == nil {
		resync = func() {}
	}
	return &Manager{
		ch:      ch,
		handler: handler,
		resync:  resync,
		logger:  logger.With("component", "subscription"),
	}
}

// Activate registers the listener. Calling it while already registered is a
// no-op. A registration error wraps chat.ErrTransport and leaves the manager
// active but degraded.
func (m *Manager) Activate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active && m.registered {
		return nil
	}
	if !m.active {
		m.active = true
		m.gen++
		m.cancelState = m.ch.OnState(m.onState)
	}
	return m.registerLocked()
}

// Deactivate removes the listener. Calling it while inactive is a no-op.
func (m *Manager) Deactivate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return
	}
	m.active = false
	m.gen++
	if m.registered {
		m.ch.Unregister(m.listener)
		m.registered = false
	}
	m.err = nil
	m.dropped = false
	if m.cancelState != nil {
		m.cancelState()
		m.cancelState = nil
	}
	m.logger.Debug("subscription deactivated")
}

// Active reports whether the manager has been activated.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Degraded reports whether the manager is active without a working
// registration.
func (m *Manager) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active && !m.registered
}

// Err returns the last registration error, or nil.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Manager) registerLocked() error {
	if m.registered {
		m.ch.Unregister(m.listener)
		m.registered = false
	}
	id, err := m.ch.Register(Events, m.deliver(m.gen))
	if err != nil {
		m.err = err
		m.logger.Warn("live registration failed", "error", err)
		return err
	}
	m.listener = id
	m.registered = true
	m.err = nil
	m.logger.Debug("live registration issued", "listener_id", id)
	return nil
}

// deliver drops events from a registration that is no longer current.
func (m *Manager) deliver(gen uint64) transport.Handler {
	return func(ev transport.Event) {
		m.mu.Lock()
		current := m.active && m.gen == gen
		m.mu.Unlock()
		if current {
			m.handler(ev)
		}
	}
}

func (m *Manager) onState(s transport.State) {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}

	if s == transport.StateDisconnected {
		m.dropped = true
		m.mu.Unlock()
		m.logger.Info("live channel disconnected")
		return
	}

	reconnected := m.dropped
	m.dropped = false
	if !m.ch.AutoResubscribe() || !m.registered {
		// Errors are recorded on the manager; resync still runs so history
		// catches up even without live updates.
		_ = m.registerLocked()
	}
	m.mu.Unlock()

	if reconnected {
		m.logger.Info("live channel reconnected, resyncing")
		m.resync()
	}
}
