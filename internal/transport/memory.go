// ABOUTME: In-process Channel implementation driven by explicit calls
// ABOUTME: Lets tests and local wiring emit events and flip connection state

package transport

import (
	"fmt"
	"slices"
	"sync"

	"github.com/2389/coven-chat/internal/chat"
)

// MemoryChannel is a Channel whose events and state changes come from the
// caller. Emit and SetConnected deliver synchronously on the calling goroutine.
type MemoryChannel struct {
	mu            sync.Mutex
	listeners     map[ListenerID]listener
	nextID        ListenerID
	observers     map[int]StateHandler
	nextObs       int
	connected     bool
	autoResub     bool
	registerErr   error
	registrations int
}

// NewMemoryChannel creates a connected channel.
func NewMemoryChannel(autoResubscribe bool) *MemoryChannel {
	return &MemoryChannel{
		listeners: make(map[ListenerID]listener),
		observers: make(map[int]StateHandler),
		connected: true,
		autoResub: autoResubscribe,
	}
}

// FailRegistrations makes subsequent Register calls fail with err. Pass nil
// to restore normal behavior.
func (m *MemoryChannel) FailRegistrations(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerErr = err
}

// Register adds a listener.
func (m *MemoryChannel) Register(events []string, h Handler) (ListenerID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registerErr != nil {
		return 0, fmt.Errorf("%w: %v", chat.ErrTransport, m.registerErr)
	}
	m.nextID++
	m.listeners[m.nextID] = newListener(events, h)
	m.registrations++
	return m.nextID, nil
}

// Unregister removes a listener.
func (m *MemoryChannel) Unregister(id ListenerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, id)
}

// OnState adds a state observer.
func (m *MemoryChannel) OnState(h StateHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextObs++
	id := m.nextObs
	m.observers[id] = h
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}

// AutoResubscribe reports the mode chosen at construction.
func (m *MemoryChannel) AutoResubscribe() bool {
	return m.autoResub
}

// Listeners returns the number of live registrations.
func (m *MemoryChannel) Listeners() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// Registrations returns the number of successful Register calls.
func (m *MemoryChannel) Registrations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registrations
}

// Emit delivers ev to matching listeners. Events emitted while disconnected
// are dropped. Without auto-resubscribe, listeners registered before the last
// disconnect no longer receive events.
func (m *MemoryChannel) Emit(ev Event) {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return
	}
	ids := make([]ListenerID, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	var targets []Handler
	for _, id := range ids {
		if l := m.listeners[id]; l.wants(ev.Type) {
			targets = append(targets, l.h)
		}
	}
	m.mu.Unlock()

	for _, h := range targets {
		h(ev)
	}
}

// SetConnected changes the connection state and notifies observers on a
// transition. A disconnect without auto-resubscribe drops every listener, the
// way a server forgets a closed connection's listen set.
func (m *MemoryChannel) SetConnected(connected bool) {
	m.mu.Lock()
	if m.connected == connected {
		m.mu.Unlock()
		return
	}
	m.connected = connected
	if !connected && !m.autoResub {
		m.listeners = make(map[ListenerID]listener)
	}
	handlers := make([]StateHandler, 0, len(m.observers))
	for _, h := range m.observers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	state := StateDisconnected
	if connected {
		state = StateConnected
	}
	for _, h := range handlers {
		h(state)
	}
}
