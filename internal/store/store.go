// Package store is the gateway to the durable message and user collections.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"duochat/internal/model"
)

// Store persists messages and reads users over database/sql. The queries are
// portable between MySQL/MariaDB and SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps an initialized database.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const messageColumns = "id, sender_id, receiver_id, text, image, document, seen, created_at, updated_at"

// CreateMessage validates and inserts msg, returning the stored record with
// its server assigned id and timestamps.
func (s *Store) CreateMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	if msg.SenderID == "" || msg.ReceiverID == "" {
		return model.Message{}, fmt.Errorf("%w: sender and receiver are required", model.ErrValidation)
	}
	if !msg.HasContent() {
		return model.Message{}, fmt.Errorf("%w: text, image or document is required", model.ErrValidation)
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	msg.Seen = false
	msg.CreatedAt = now
	msg.UpdatedAt = now

	result, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (sender_id, receiver_id, text, image, document, seen, created_at, updated_at) VALUES (?, ?, ?, ?, ?, 0, ?, ?)",
		msg.SenderID, msg.ReceiverID, msg.Text, msg.Image, msg.Document, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}

	lastInsertID, err := result.LastInsertId()
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to retrieve message id: %w", err)
	}
	msg.ID = strconv.FormatInt(lastInsertID, 10)

	return msg, nil
}

// Conversation returns every message exchanged between a and b, oldest first.
// The result is the same whichever side asks.
func (s *Store) Conversation(ctx context.Context, a, b string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages"+
			" WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)"+
			" ORDER BY created_at ASC, id ASC",
		a, b, b, a)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	return scanMessages(rows)
}

// MarkSeen flips seen on the given messages addressed to readerID that are
// still unseen and returns how many rows changed. Ids that do not parse or do
// not match are ignored.
func (s *Store) MarkSeen(ctx context.Context, readerID string, ids []string) (int64, error) {
	keys := parseIDs(ids)
	if len(keys) == 0 || readerID == "" {
		return 0, nil
	}

	args := make([]any, 0, len(keys)+2)
	args = append(args, s.now().UTC().UnixMilli())
	for _, k := range keys {
		args = append(args, k)
	}
	args = append(args, readerID)

	result, err := s.db.ExecContext(ctx,
		"UPDATE messages SET seen = 1, updated_at = ?"+
			" WHERE id IN ("+placeholders(len(keys))+") AND receiver_id = ? AND seen = 0",
		args...)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages seen: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// MessagesByID fetches messages by id; unknown ids are skipped.
func (s *Store) MessagesByID(ctx context.Context, ids []string) ([]model.Message, error) {
	keys := parseIDs(ids)
	if len(keys) == 0 {
		return []model.Message{}, nil
	}

	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id IN ("+placeholders(len(keys))+") ORDER BY created_at ASC, id ASC",
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	return scanMessages(rows)
}

// UserExists reports whether id names a known account.
func (s *Store) UserExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query user: %w", err)
	}
	return exists, nil
}

// ListUsersExcept returns every user but callerID, ordered by name.
func (s *Store) ListUsersExcept(ctx context.Context, callerID string) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, full_name, email, profile_pic, created_at FROM users WHERE id <> ? ORDER BY full_name ASC, id ASC",
		callerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		var u model.User
		var createdAt int64
		if err := rows.Scan(&u.ID, &u.FullName, &u.Email, &u.ProfilePic, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.CreatedAt = time.UnixMilli(createdAt).UTC()
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

func scanMessages(rows *sql.Rows) ([]model.Message, error) {
	defer rows.Close()

	msgs := []model.Message{}
	for rows.Next() {
		var (
			m                    model.Message
			id                   int64
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&id, &m.SenderID, &m.ReceiverID, &m.Text, &m.Image, &m.Document, &m.Seen, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.ID = strconv.FormatInt(id, 10)
		m.CreatedAt = time.UnixMilli(createdAt).UTC()
		m.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return msgs, nil
}

func parseIDs(ids []string) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
