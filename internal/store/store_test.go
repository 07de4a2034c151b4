// ABOUTME: Behavior tests shared by every Store implementation
// ABOUTME: Runs the same cases against SQLiteStore and MockStore

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/chat"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedUsers(t *testing.T, s Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.UpsertUser(context.Background(), chat.User{ID: id}))
	}
}

func msg(id, from, to string, offset time.Duration, text string) chat.Message {
	return chat.Message{ID: id, SenderID: from, ReceiverID: to, Text: text, CreatedAt: base.Add(offset)}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, setupTestStore(t)) })
	t.Run("mock", func(t *testing.T) { fn(t, NewMockStore()) })
}

func TestStore_Users(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.UpsertUser(ctx, chat.User{ID: "bob", DisplayName: "Bob"}))
		require.NoError(t, s.UpsertUser(ctx, chat.User{ID: "alice"}))
		require.NoError(t, s.UpsertUser(ctx, chat.User{ID: "bob", DisplayName: "Robert", AvatarRef: "https://x/b.png"}))

		u, err := s.GetUser(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, chat.User{ID: "bob", DisplayName: "Robert", AvatarRef: "https://x/b.png"}, u)

		u, err = s.GetUser(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "alice", u.DisplayName)

		_, err = s.GetUser(ctx, "zed")
		assert.ErrorIs(t, err, ErrNotFound)

		users, err := s.ListUsers(ctx)
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, "alice", users[0].ID)
		assert.Equal(t, "bob", users[1].ID)
	})
}

func TestStore_ConversationOrdering(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedUsers(t, s, "alice", "bob", "carol")

		saves := []chat.Message{
			msg("m2", "bob", "alice", 2*time.Second, "second"),
			msg("m1", "alice", "bob", time.Second, "first"),
			msg("m3a", "alice", "bob", 3*time.Second, "tie-a"),
			msg("m3b", "bob", "alice", 3*time.Second, "tie-b"),
			msg("x1", "alice", "carol", 0, "other conversation"),
		}
		for _, m := range saves {
			_, created, err := s.SaveMessage(ctx, m, "")
			require.NoError(t, err)
			assert.True(t, created)
		}

		msgs, err := s.ListConversation(ctx, "bob", "alice", 0)
		require.NoError(t, err)
		ids := make([]string, len(msgs))
		for i, m := range msgs {
			ids[i] = m.ID
		}
		assert.Equal(t, []string{"m1", "m2", "m3a", "m3b"}, ids)
		assert.True(t, base.Add(time.Second).Equal(msgs[0].CreatedAt))

		recent, err := s.ListConversation(ctx, "alice", "bob", 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "m3a", recent[0].ID)
		assert.Equal(t, "m3b", recent[1].ID)

		empty, err := s.ListConversation(ctx, "bob", "carol", 0)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestStore_SaveMessageIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedUsers(t, s, "alice", "bob")

		first, created, err := s.SaveMessage(ctx, msg("m1", "alice", "bob", 0, "hi"), "tok-1")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "tok-1", first.CorrelationToken)

		again, created, err := s.SaveMessage(ctx, msg("m2", "alice", "bob", time.Second, "hi"), "tok-1")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "m1", again.ID)

		// The same key from a different sender is a different request.
		_, created, err = s.SaveMessage(ctx, msg("m3", "bob", "alice", 2*time.Second, "yo"), "tok-1")
		require.NoError(t, err)
		assert.True(t, created)

		got, err := s.GetMessage(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, "hi", got.Text)
		assert.Equal(t, chat.Confirmed, got.State)

		_, err = s.GetMessage(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_SaveMessageValidation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedUsers(t, s, "alice", "bob")

		tests := []chat.Message{
			{SenderID: "alice", ReceiverID: "bob", Text: "no id"},
			{ID: "m1", SenderID: "alice", Text: "no receiver"},
			{ID: "m2", SenderID: "alice", ReceiverID: "bob"},
		}
		for i, m := range tests {
			t.Run(fmt.Sprint(i), func(t *testing.T) {
				_, _, err := s.SaveMessage(ctx, m, "")
				assert.ErrorIs(t, err, ErrInvalidMessage)
			})
		}
	})
}

func TestStore_ImageOnlyMessage(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedUsers(t, s, "alice", "bob")

		m := chat.Message{ID: "img", SenderID: "alice", ReceiverID: "bob", ImageRef: "https://x/cat.png", CreatedAt: base}
		_, _, err := s.SaveMessage(ctx, m, "")
		require.NoError(t, err)

		got, err := s.GetMessage(ctx, "img")
		require.NoError(t, err)
		assert.Equal(t, "", got.Text)
		assert.Equal(t, "https://x/cat.png", got.ImageRef)
	})
}

func TestStore_ConcurrentIdempotentSaves(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedUsers(t, s, "alice", "bob")

		var wg sync.WaitGroup
		var mu sync.Mutex
		ids := map[string]int{}
		for i := range 10 {
			wg.Go(func() {
				stored, _, err := s.SaveMessage(ctx, msg(fmt.Sprintf("m%d", i), "alice", "bob", 0, "hi"), "same-key")
				if assert.NoError(t, err) {
					mu.Lock()
					ids[stored.ID]++
					mu.Unlock()
				}
			})
		}
		wg.Wait()

		assert.Len(t, ids, 1)
		msgs, err := s.ListConversation(ctx, "alice", "bob", 0)
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})
}
