// ABOUTME: Tests specific to the SQLite store
// ABOUTME: Covers file creation, reopening and foreign key enforcement

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/2389/coven-chat/internal/chat"
)

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chat.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	for _, id := range []string{"alice", "bob"} {
		if err := store.UpsertUser(ctx, chat.User{ID: id}); err != nil {
			t.Fatalf("UpsertUser failed: %v", err)
		}
	}
	created := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	if _, _, err := store.SaveMessage(ctx, chat.Message{ID: "m1", SenderID: "alice", ReceiverID: "bob", Text: "hi", CreatedAt: created}, ""); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetMessage(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
}

func TestSQLiteStore_RejectsUnknownUsers(t *testing.T) {
	store := setupTestStore(t)

	_, _, err := store.SaveMessage(context.Background(), chat.Message{
		ID: "m1", SenderID: "ghost", ReceiverID: "nobody", Text: "boo", CreatedAt: time.Now(),
	}, "")
	if err == nil {
		t.Error("expected foreign key violation")
	}
}
