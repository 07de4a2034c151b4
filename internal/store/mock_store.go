// ABOUTME: In-memory Store implementation for testing
// ABOUTME: Mirrors SQLiteStore ordering and idempotency semantics without a database

package store

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/2389/coven-chat/internal/chat"
)

// MockStore is an in-memory Store.
type MockStore struct {
	mu       sync.RWMutex
	users    map[string]chat.User
	messages []mockMessage
	byID     map[string]int
	byKey    map[string]int // "sender\x00key" -> index
	seq      int64
}

type mockMessage struct {
	msg chat.Message
	seq int64
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users: make(map[string]chat.User),
		byID:  make(map[string]int),
		byKey: make(map[string]int),
	}
}

// UpsertUser stores u.
func (m *MockStore) UpsertUser(_ context.Context, u chat.User) error {
	if u.ID == "" {
		return errors.New("user id is required")
	}
	if u.DisplayName == "" {
		u.DisplayName = u.ID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

// GetUser returns a user by id.
func (m *MockStore) GetUser(_ context.Context, id string) (chat.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return chat.User{}, ErrNotFound
	}
	return u, nil
}

// ListUsers returns users ordered by id.
func (m *MockStore) ListUsers(_ context.Context) ([]chat.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]chat.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b chat.User) int { return cmp.Compare(a.ID, b.ID) })
	return users, nil
}

// SaveMessage stores msg, replaying the earlier message for a reused key.
func (m *MockStore) SaveMessage(_ context.Context, msg chat.Message, idempotencyKey string) (chat.Message, bool, error) {
	if err := validateMessage(msg); err != nil {
		return chat.Message{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := msg.SenderID + "\x00" + idempotencyKey
	if idempotencyKey != "" {
		if i, ok := m.byKey[key]; ok {
			return m.messages[i].msg, false, nil
		}
	}
	if _, ok := m.byID[msg.ID]; ok {
		return chat.Message{}, false, errors.New("inserting message: UNIQUE constraint failed: messages.id")
	}

	msg.CreatedAt = msg.CreatedAt.UTC()
	msg.CorrelationToken = idempotencyKey
	msg.State = chat.Confirmed
	m.seq++
	m.messages = append(m.messages, mockMessage{msg: msg, seq: m.seq})
	m.byID[msg.ID] = len(m.messages) - 1
	if idempotencyKey != "" {
		m.byKey[key] = len(m.messages) - 1
	}
	return msg, true, nil
}

// GetMessage returns a message by id.
func (m *MockStore) GetMessage(_ context.Context, id string) (chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.byID[id]
	if !ok {
		return chat.Message{}, ErrNotFound
	}
	return m.messages[i].msg, nil
}

// ListConversation returns messages between a and b, oldest first.
func (m *MockStore) ListConversation(_ context.Context, a, b string, limit int) ([]chat.Message, error) {
	m.mu.RLock()
	var matched []mockMessage
	for _, mm := range m.messages {
		s, r := mm.msg.SenderID, mm.msg.ReceiverID
		if (s == a && r == b) || (s == b && r == a) {
			matched = append(matched, mm)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(matched, func(x, y mockMessage) int {
		return cmp.Or(x.msg.CreatedAt.Compare(y.msg.CreatedAt), cmp.Compare(x.seq, y.seq))
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}

	out := make([]chat.Message, len(matched))
	for i, mm := range matched {
		out[i] = mm.msg
	}
	return out, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
