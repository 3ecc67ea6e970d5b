package agent

import (
	"context"

	"github.com/cinematch/cinematch/internal/model"
)

// Decision kinds. A reasoner either requests a tool invocation or produces
// the final reply text.
const (
	DecisionToolCall = "tool_call"
	DecisionReply    = "reply"
)

// Decision is one step of the reasoner's plan.
type Decision struct {
	Kind      string
	Tool      string
	Arguments map[string]any
	Reply     string
}

// DecideRequest carries everything the reasoner sees: the conversation so
// far, the user's new message, and the results of tool calls made earlier in
// this same response cycle.
type DecideRequest struct {
	Session     model.Session
	UserMessage string
	ToolResults []model.ToolInvocation
}

// Reasoner chooses the next step for a response cycle. Implementations must
// be safe for concurrent use across chats.
type Reasoner interface {
	Decide(ctx context.Context, req DecideRequest) (Decision, error)
}
