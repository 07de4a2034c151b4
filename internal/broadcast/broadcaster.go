// ABOUTME: Generic keyed fan-out broadcaster with non-blocking publish
// ABOUTME: Used for store change notifications and per-user event delivery

package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Broadcaster provides in-memory pub/sub keyed by an arbitrary string.
type Broadcaster[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan T // key -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// New creates a broadcaster. Pass nil logger for default.
func New[T any](logger *slog.Logger) *Broadcaster[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster[T]{
		subscribers: make(map[string]map[string]chan T),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for values published under key.
// Returns the receive channel and a subscription ID for Unsubscribe.
// The subscription is removed when ctx is cancelled.
func (b *Broadcaster[T]) Subscribe(ctx context.Context, key string) (<-chan T, string) {
	subID := uuid.New().String()
	ch := make(chan T, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[string]chan T)
	}
	b.subscribers[key][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "key", key, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(key, subID)
	}()

	return ch, subID
}

// Publish sends v to all subscribers of key except excludeSubID.
// Values are dropped for subscribers whose channels are full.
func (b *Broadcaster[T]) Publish(key string, v T, excludeSubID string) {
	b.mu.RLock()
	subs, ok := b.subscribers[key]
	if !ok || len(subs) == 0 {
		b.mu.RUnlock()
		return
	}

	// Sending under the read lock keeps Unsubscribe from closing a channel
	// mid-send; the sends themselves never block.
	for id, ch := range subs {
		if excludeSubID != "" && id == excludeSubID {
			continue
		}
		select {
		case ch <- v:
		default:
			b.logger.Debug("dropped value for slow subscriber", "key", key, "sub_id", id)
		}
	}
	b.mu.RUnlock()
}

// Subscribers returns the number of live subscriptions for key.
func (b *Broadcaster[T]) Subscribers(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[key])
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster[T]) Unsubscribe(key, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[key]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, key)
	}

	b.logger.Debug("subscriber removed", "key", key, "sub_id", subID)
}

// Close closes all subscriber channels. Later Subscribe calls return a
// closed channel.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, key)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
