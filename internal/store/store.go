// ABOUTME: Store interface and errors for chat server persistence
// ABOUTME: Users and direct messages keyed by sender/receiver pairs

package store

import (
	"context"
	"errors"

	"github.com/2389/coven-chat/internal/chat"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidMessage is returned when a message fails basic checks.
var ErrInvalidMessage = errors.New("invalid message")

// Store is the persistence interface of the chat server.
type Store interface {
	// UpsertUser creates or updates a user by id.
	UpsertUser(ctx context.Context, u chat.User) error
	// GetUser returns ErrNotFound for unknown ids.
	GetUser(ctx context.Context, id string) (chat.User, error)
	// ListUsers returns every user ordered by id.
	ListUsers(ctx context.Context) ([]chat.User, error)

	// SaveMessage stores msg. When idempotencyKey was already used by the
	// same sender, the earlier message is returned with created false.
	SaveMessage(ctx context.Context, msg chat.Message, idempotencyKey string) (stored chat.Message, created bool, err error)
	// GetMessage returns ErrNotFound for unknown ids.
	GetMessage(ctx context.Context, id string) (chat.Message, error)
	// ListConversation returns the messages between a and b, oldest first.
	// A positive limit keeps only the most recent messages.
	ListConversation(ctx context.Context, a, b string, limit int) ([]chat.Message, error)

	Close() error
}

func validateMessage(msg chat.Message) error {
	switch {
	case msg.ID == "":
		return errors.Join(ErrInvalidMessage, errors.New("missing id"))
	case msg.SenderID == "" || msg.ReceiverID == "":
		return errors.Join(ErrInvalidMessage, errors.New("missing sender or receiver"))
	case !msg.HasContent():
		return errors.Join(ErrInvalidMessage, errors.New("no text or image"))
	}
	return nil
}
