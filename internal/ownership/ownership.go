// Package ownership caches which user owns which chat so the agent can gate
// access without a history lookup on every message. Backed by Redis in
// production, with an in-memory implementation for tests and single-node
// deployments.
package ownership

import (
	"context"
	"sync"
)

// Lookup answers ownership and user-existence questions.
// Implementations must be safe for concurrent use.
type Lookup interface {
	// IsOwner reports whether the chat is known to belong to the user.
	// A false answer means "not cached", never "denied"; callers fall back
	// to the history store.
	IsOwner(ctx context.Context, userID, chatID string) (bool, error)

	// Remember records that the chat belongs to the user.
	Remember(ctx context.Context, userID, chatID string) error

	// RememberUser records that the user id exists.
	RememberUser(ctx context.Context, userID string) error

	// KnownUser reports whether the user id has been cached.
	KnownUser(ctx context.Context, userID string) (bool, error)
}

// Memory is an in-process Lookup.
type Memory struct {
	mu    sync.RWMutex
	users map[string]bool
	chats map[string]string // chatKey -> owning user
}

// NewMemory creates an empty in-memory lookup.
func NewMemory() *Memory {
	return &Memory{
		users: make(map[string]bool),
		chats: make(map[string]string),
	}
}

// IsOwner reports whether the chat was recorded for this user.
func (m *Memory) IsOwner(_ context.Context, userID, chatID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.chats[chatID] == userID && userID != "", nil
}

// Remember records chat ownership.
func (m *Memory) Remember(_ context.Context, userID, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[chatID] = userID
	m.users[userID] = true
	return nil
}

// RememberUser records that the user exists.
func (m *Memory) RememberUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = true
	return nil
}

// KnownUser reports whether the user was recorded.
func (m *Memory) KnownUser(_ context.Context, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.users[userID], nil
}
