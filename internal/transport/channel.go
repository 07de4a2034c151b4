// ABOUTME: Channel interface consumed by the synchronization core
// ABOUTME: Listener registration plus connected/disconnected state signals

package transport

// Handler receives inbound events. Handlers for one channel are called
// sequentially in delivery order.
type Handler func(Event)

// State is the connection state of a channel.
type State int

const (
	StateDisconnected State = iota
	StateConnected
)

func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

// StateHandler observes connection state transitions.
type StateHandler func(State)

// ListenerID identifies a registration for Unregister.
type ListenerID uint64

// Channel is a live event channel.
type Channel interface {
	// Register adds a listener for the named events. An error wraps
	// chat.ErrTransport.
	Register(events []string, h Handler) (ListenerID, error)
	// Unregister removes a listener. Unknown ids are ignored.
	Unregister(id ListenerID)
	// OnState adds a state observer and returns a function removing it.
	OnState(h StateHandler) (cancel func())
	// AutoResubscribe reports whether registrations survive a reconnect
	// without being issued again.
	AutoResubscribe() bool
}

type listener struct {
	events map[string]struct{}
	h      Handler
}

func newListener(events []string, h Handler) listener {
	l := listener{events: make(map[string]struct{}, len(events)), h: h}
	for _, e := range events {
		l.events[e] = struct{}{}
	}
	return l
}

func (l listener) wants(eventType string) bool {
	_, ok := l.events[eventType]
	return ok
}
