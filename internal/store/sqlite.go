// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists users and messages with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/coven-chat/internal/chat"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at path, creating parent directories and
// the schema if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id           TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			avatar_ref   TEXT,
			created_at   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			sender_id       TEXT NOT NULL,
			receiver_id     TEXT NOT NULL,
			text            TEXT,
			image           TEXT,
			created_at      TEXT NOT NULL,
			idempotency_key TEXT,
			FOREIGN KEY (sender_id) REFERENCES users(id),
			FOREIGN KEY (receiver_id) REFERENCES users(id),
			CHECK (COALESCE(text, '') != '' OR COALESCE(image, '') != '')
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_sender_key
			ON messages(sender_id, idempotency_key);

		CREATE INDEX IF NOT EXISTS idx_messages_pair_created
			ON messages(sender_id, receiver_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// UpsertUser creates or updates a user.
func (s *SQLiteStore) UpsertUser(ctx context.Context, u chat.User) error {
	if u.ID == "" {
		return errors.New("user id is required")
	}
	displayName := u.DisplayName
	if displayName == "" {
		displayName = u.ID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, avatar_ref, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			avatar_ref = excluded.avatar_ref
	`, u.ID, displayName, nullString(u.AvatarRef), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (chat.User, error) {
	var u chat.User
	var avatar sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, avatar_ref FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.DisplayName, &avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.User{}, ErrNotFound
	}
	if err != nil {
		return chat.User{}, fmt.Errorf("querying user: %w", err)
	}
	u.AvatarRef = avatar.String
	return u, nil
}

// ListUsers returns every user ordered by id.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]chat.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, display_name, avatar_ref FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []chat.User
	for rows.Next() {
		var u chat.User
		var avatar sql.NullString
		if err := rows.Scan(&u.ID, &u.DisplayName, &avatar); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		u.AvatarRef = avatar.String
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return users, nil
}

// SaveMessage inserts msg unless the sender already used idempotencyKey.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg chat.Message, idempotencyKey string) (chat.Message, bool, error) {
	if err := validateMessage(msg); err != nil {
		return chat.Message{}, false, err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, text, image, created_at, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.SenderID,
		msg.ReceiverID,
		nullString(msg.Text),
		nullString(msg.ImageRef),
		formatTime(msg.CreatedAt),
		nullString(idempotencyKey),
	)
	if err != nil {
		if idempotencyKey != "" && isConstraintViolation(err) {
			existing, lookupErr := s.messageByKey(ctx, msg.SenderID, idempotencyKey)
			if lookupErr == nil {
				s.logger.Debug("idempotent replay", "id", existing.ID, "sender_id", msg.SenderID)
				return existing, false, nil
			}
		}
		return chat.Message{}, false, fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "sender_id", msg.SenderID, "receiver_id", msg.ReceiverID)
	msg.CorrelationToken = idempotencyKey
	msg.CreatedAt = msg.CreatedAt.UTC()
	msg.State = chat.Confirmed
	return msg, true, nil
}

// GetMessage retrieves a message by id.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (chat.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sender_id, receiver_id, text, image, created_at, idempotency_key
		FROM messages WHERE id = ?
	`, id)
	return scanMessage(row)
}

func (s *SQLiteStore) messageByKey(ctx context.Context, senderID, key string) (chat.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sender_id, receiver_id, text, image, created_at, idempotency_key
		FROM messages WHERE sender_id = ? AND idempotency_key = ?
	`, senderID, key)
	return scanMessage(row)
}

// ListConversation returns the messages exchanged between a and b.
func (s *SQLiteStore) ListConversation(ctx context.Context, a, b string, limit int) ([]chat.Message, error) {
	inner := `
		SELECT seq, id, sender_id, receiver_id, text, image, created_at, idempotency_key
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
	`
	args := []any{a, b, b, a}

	var query string
	if limit > 0 {
		// Most recent N, returned oldest first.
		query = `SELECT id, sender_id, receiver_id, text, image, created_at, idempotency_key FROM (` +
			inner + ` ORDER BY created_at DESC, seq DESC LIMIT ?) ORDER BY created_at ASC, seq ASC`
		args = append(args, limit)
	} else {
		query = `SELECT id, sender_id, receiver_id, text, image, created_at, idempotency_key FROM (` +
			inner + `) ORDER BY created_at ASC, seq ASC`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []chat.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (chat.Message, error) {
	var m chat.Message
	var text, image, key sql.NullString
	var createdAt string

	err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &text, &image, &createdAt, &key)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Message{}, ErrNotFound
	}
	if err != nil {
		return chat.Message{}, fmt.Errorf("scanning message row: %w", err)
	}

	m.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return chat.Message{}, fmt.Errorf("parsing message created_at: %w", err)
	}
	m.Text = text.String
	m.ImageRef = image.String
	m.CorrelationToken = key.String
	m.State = chat.Confirmed
	return m, nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// nullString returns nil for empty strings so they are stored as NULL
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
