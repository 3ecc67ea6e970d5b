package model

import "time"

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Chat lifecycle status. Archiving only flips the flag; history stays
// retrievable and nothing is ever deleted.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

// ToolInvocation records one tool call made while producing a turn. The
// result is a copy taken at invocation time, so cache eviction or index
// rebuilds never rewrite recorded turns.
type ToolInvocation struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	Err       string         `json:"error,omitempty"`
}

// Turn is one ordered transcript entry. Append-only within a session.
type Turn struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ToolInvocation `json:"tool_calls,omitempty"`
	CreatedAt time.Time        `json:"created_at,omitzero"`
}

// Session is a (user_id, chat_id) conversation. IsNewUser and IsNewChat are
// tracked independently: a known user opening a fresh chat gets
// IsNewUser=false, IsNewChat=true.
type Session struct {
	UserID    string `json:"user_id"`
	ChatID    string `json:"chat_id"`
	Status    string `json:"status"`
	IsNewUser bool   `json:"is_new_user"`
	IsNewChat bool   `json:"is_new_chat"`
	Turns     []Turn `json:"turns,omitempty"`
}
