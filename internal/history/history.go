// Package history persists conversation state: users, chats, and the ordered
// turns within each chat. Backed by SQLite so a single-node deployment needs
// no extra infrastructure for conversation data.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/cinematch/cinematch/internal/model"
)

// Store persists users, chats, and turns in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
	user_id TEXT NOT NULL REFERENCES users(id),
	chat_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (user_id, chat_id)
);

CREATE TABLE IF NOT EXISTS turns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	chat_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	tool_calls TEXT,
	created_at TEXT NOT NULL,
	FOREIGN KEY (user_id, chat_id) REFERENCES chats(user_id, chat_id)
);

CREATE INDEX IF NOT EXISTS idx_turns_chat ON turns(user_id, chat_id, id);
`

// New opens (or creates) the history database at path and applies the schema.
// Use ":memory:" for an ephemeral store.
func New(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// under concurrent appends.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close shuts down the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load resolves a (user, chat) pair, creating whichever side does not exist
// yet. Empty ids are minted as UUIDs. The returned session reports whether
// each side was created by this call, independently: a known user can open a
// new chat.
func (s *Store) Load(ctx context.Context, userID, chatID string) (model.Session, error) {
	if userID == "" {
		userID = uuid.NewString()
	}
	if chatID == "" {
		chatID = uuid.NewString()
	}

	sess := model.Session{UserID: userID, ChatID: chatID, Status: model.StatusActive}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Session{}, fmt.Errorf("history: begin load: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, created_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`,
		userID, now)
	if err != nil {
		return model.Session{}, fmt.Errorf("history: upsert user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		sess.IsNewUser = true
	}

	res, err = tx.ExecContext(ctx,
		`INSERT INTO chats (user_id, chat_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT (user_id, chat_id) DO NOTHING`,
		userID, chatID, model.StatusActive, now, now)
	if err != nil {
		return model.Session{}, fmt.Errorf("history: upsert chat: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		sess.IsNewChat = true
	}

	if !sess.IsNewChat {
		if err := tx.QueryRowContext(ctx,
			`SELECT status FROM chats WHERE user_id = ? AND chat_id = ?`,
			userID, chatID).Scan(&sess.Status); err != nil {
			return model.Session{}, fmt.Errorf("history: read chat status: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Session{}, fmt.Errorf("history: commit load: %w", err)
	}

	turns, err := s.History(ctx, userID, chatID)
	if err != nil {
		return model.Session{}, err
	}
	sess.Turns = turns

	if sess.IsNewUser {
		s.logger.Info("history: new user", "user_id", userID)
	}
	return sess, nil
}

// AppendTurn records one turn at the end of a chat's transcript. The chat must
// exist (Load it first); unknown pairs return ErrNotFound. Turns are
// append-only; nothing ever rewrites an earlier turn.
func (s *Store) AppendTurn(ctx context.Context, userID, chatID string, turn model.Turn) error {
	var toolCalls any
	if len(turn.ToolCalls) > 0 {
		raw, err := json.Marshal(turn.ToolCalls)
		if err != nil {
			return fmt.Errorf("history: marshal tool calls: %w", err)
		}
		toolCalls = string(raw)
	}

	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (user_id, chat_id, role, content, tool_calls, created_at)
		SELECT user_id, chat_id, ?, ?, ?, ?
		FROM chats WHERE user_id = ? AND chat_id = ?`,
		turn.Role, turn.Content, toolCalls, turn.CreatedAt.Format(time.RFC3339Nano),
		userID, chatID)
	if err != nil {
		return fmt.Errorf("history: append turn: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("history: append turn rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("history: chat %s/%s: %w", userID, chatID, model.ErrNotFound)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE chats SET updated_at = ? WHERE user_id = ? AND chat_id = ?`,
		now, userID, chatID); err != nil {
		return fmt.Errorf("history: touch chat: %w", err)
	}
	return nil
}

// History returns a chat's turns in insertion order. Archived chats keep
// their history readable. Unknown pairs return ErrNotFound.
func (s *Store) History(ctx context.Context, userID, chatID string) ([]model.Turn, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM chats WHERE user_id = ? AND chat_id = ?`,
		userID, chatID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("history: chat %s/%s: %w", userID, chatID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("history: check chat: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, tool_calls, created_at
		FROM turns WHERE user_id = ? AND chat_id = ?
		ORDER BY id ASC`,
		userID, chatID)
	if err != nil {
		return nil, fmt.Errorf("history: load turns: %w", err)
	}
	defer rows.Close()

	var turns []model.Turn
	for rows.Next() {
		var (
			turn      model.Turn
			toolCalls sql.NullString
			createdAt string
		)
		if err := rows.Scan(&turn.Role, &turn.Content, &toolCalls, &createdAt); err != nil {
			return nil, fmt.Errorf("history: scan turn: %w", err)
		}
		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &turn.ToolCalls); err != nil {
				return nil, fmt.Errorf("history: unmarshal tool calls: %w", err)
			}
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			turn.CreatedAt = ts
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: turn rows: %w", err)
	}
	return turns, nil
}

// Status returns a chat's lifecycle status, or ErrNotFound.
func (s *Store) Status(ctx context.Context, userID, chatID string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM chats WHERE user_id = ? AND chat_id = ?`,
		userID, chatID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("history: chat %s/%s: %w", userID, chatID, model.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("history: read status: %w", err)
	}
	return status, nil
}

// Archive marks a chat archived. Archiving an already-archived chat is a
// no-op. Unknown pairs return ErrNotFound.
func (s *Store) Archive(ctx context.Context, userID, chatID string) error {
	return s.setStatus(ctx, userID, chatID, model.StatusArchived)
}

// Unarchive reactivates a chat. Idempotent like Archive.
func (s *Store) Unarchive(ctx context.Context, userID, chatID string) error {
	return s.setStatus(ctx, userID, chatID, model.StatusActive)
}

func (s *Store) setStatus(ctx context.Context, userID, chatID, status string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET status = ?, updated_at = ? WHERE user_id = ? AND chat_id = ?`,
		status, now, userID, chatID)
	if err != nil {
		return fmt.Errorf("history: set status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("history: set status rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("history: chat %s/%s: %w", userID, chatID, model.ErrNotFound)
	}
	return nil
}

// KnownUser reports whether a user id has been seen before.
func (s *Store) KnownUser(ctx context.Context, userID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("history: check user: %w", err)
	}
	return true, nil
}
