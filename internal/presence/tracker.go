// ABOUTME: PresenceTracker holding the set of online peer ids
// ABOUTME: Applies snapshots and deltas from the live channel and notifies watchers

package presence

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/2389/coven-chat/internal/broadcast"
)

const watchKey = "presence"

// Tracker is the set of online user ids, excluding the local user.
type Tracker struct {
	mu          sync.RWMutex
	online      map[string]struct{}
	localUserID string
	changes     *broadcast.Broadcaster[struct{}]
	logger      *slog.Logger
}

// NewTracker creates an empty tracker. Pass nil logger for default.
func NewTracker(localUserID string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		online:      make(map[string]struct{}),
		localUserID: localUserID,
		changes:     broadcast.New[struct{}](logger),
		logger:      logger.With("component", "presence"),
	}
}

// ApplySnapshot replaces the whole online set.
func (t *Tracker) ApplySnapshot(ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.online = lo.SliceToMap(
		lo.Filter(ids, func(id string, _ int) bool { return id != "" && id != t.localUserID }),
		func(id string) (string, struct{}) { return id, struct{}{} },
	)
	t.logger.Debug("presence snapshot applied", "online", len(t.online))
	t.changes.Publish(watchKey, struct{}{}, "")
}

// ApplyDelta marks a single user online or offline.
func (t *Tracker) ApplyDelta(id string, online bool) {
	if id == "" || id == t.localUserID {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	_, was := t.online[id]
	if was == online {
		return
	}
	if online {
		t.online[id] = struct{}{}
	} else {
		delete(t.online, id)
	}
	t.changes.Publish(watchKey, struct{}{}, "")
}

// IsOnline reports whether id is in the online set.
func (t *Tracker) IsOnline(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[id]
	return ok
}

// IDs returns the online ids in sorted order.
func (t *Tracker) IDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := lo.Keys(t.online)
	slices.Sort(ids)
	return ids
}

// Count returns the number of online peers.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.online)
}

// Watch returns a channel that receives a value whenever the set changes.
func (t *Tracker) Watch(ctx context.Context) <-chan struct{} {
	ch, _ := t.changes.Subscribe(ctx, watchKey)
	return ch
}

// Reset empties the set.
func (t *Tracker) Reset() {
	t.ApplySnapshot(nil)
}

// Close ends all Watch subscriptions.
func (t *Tracker) Close() {
	t.changes.Close()
}
