// Package agent runs the response cycle: given a user message it alternates
// between asking the reasoner for the next step and executing the tool calls
// it requests, bounded by a hard iteration limit, then persists the exchange
// to conversation history.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cinematch/cinematch/internal/history"
	"github.com/cinematch/cinematch/internal/model"
	"github.com/cinematch/cinematch/internal/ownership"
	"github.com/cinematch/cinematch/internal/tools"
)

// DefaultMaxIterations bounds reasoner round-trips per response cycle.
const DefaultMaxIterations = 8

// Response cycle states, logged as the cycle progresses.
const (
	stateAwaitingDecision = "awaiting_decision"
	stateToolExecuting    = "tool_executing"
	stateComposingReply   = "composing_reply"
	stateDone             = "done"
)

// Reply is the outcome of one response cycle.
type Reply struct {
	Text      string                 `json:"text"`
	UserID    string                 `json:"user_id"`
	ChatID    string                 `json:"chat_id"`
	IsNewUser bool                   `json:"is_new_user"`
	IsNewChat bool                   `json:"is_new_chat"`
	ToolCalls []model.ToolInvocation `json:"tool_calls,omitempty"`
}

// Agent orchestrates reasoner decisions and tool execution over a chat.
type Agent struct {
	historyStore  *history.Store
	owners        ownership.Lookup
	structured    *tools.StructuredTool
	vector        *tools.VectorTool
	reasoner      Reasoner
	maxIterations int
	logger        *slog.Logger
}

// Config holds Agent construction parameters.
type Config struct {
	History       *history.Store
	Owners        ownership.Lookup
	Structured    *tools.StructuredTool
	Vector        *tools.VectorTool
	Reasoner      Reasoner
	MaxIterations int
	Logger        *slog.Logger
}

// New creates an Agent. MaxIterations defaults to DefaultMaxIterations when
// unset.
func New(cfg Config) *Agent {
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	return &Agent{
		historyStore:  cfg.History,
		owners:        cfg.Owners,
		structured:    cfg.Structured,
		vector:        cfg.Vector,
		reasoner:      cfg.Reasoner,
		maxIterations: maxIter,
		logger:        cfg.Logger,
	}
}

// Respond runs one full response cycle for a user message. The user turn is
// recorded before reasoning starts, so a failed cycle still leaves the
// message in the transcript. Tool failures (including invalid arguments) are
// recorded on the invocation and handed back to the reasoner, which may
// retry or answer without the tool; only exhausting the iteration budget
// aborts the cycle.
func (a *Agent) Respond(ctx context.Context, userID, chatID, text string) (Reply, error) {
	if text == "" {
		return Reply{}, fmt.Errorf("agent: empty message: %w", model.ErrInvalidArgument)
	}

	sess, err := a.loadSession(ctx, userID, chatID)
	if err != nil {
		return Reply{}, err
	}
	if sess.Status == model.StatusArchived {
		return Reply{}, fmt.Errorf("agent: chat %s is archived: %w", sess.ChatID, model.ErrInvalidArgument)
	}

	if err := a.owners.Remember(ctx, sess.UserID, sess.ChatID); err != nil {
		// Ownership is a cache; history remains the source of truth.
		a.logger.Warn("agent: ownership cache write failed", "error", err)
	}

	if err := a.historyStore.AppendTurn(ctx, sess.UserID, sess.ChatID, model.Turn{
		Role:    model.RoleUser,
		Content: text,
	}); err != nil {
		return Reply{}, err
	}

	reply := Reply{
		UserID:    sess.UserID,
		ChatID:    sess.ChatID,
		IsNewUser: sess.IsNewUser,
		IsNewChat: sess.IsNewChat,
	}

	var invocations []model.ToolInvocation
	for i := 0; i < a.maxIterations; i++ {
		a.logger.Debug("agent: cycle state", "state", stateAwaitingDecision, "iteration", i, "chat_id", sess.ChatID)

		decision, err := a.reasoner.Decide(ctx, DecideRequest{
			Session:     sess,
			UserMessage: text,
			ToolResults: invocations,
		})
		if err != nil {
			return Reply{}, fmt.Errorf("agent: reasoner: %w", err)
		}

		switch decision.Kind {
		case DecisionReply:
			a.logger.Debug("agent: cycle state", "state", stateComposingReply, "chat_id", sess.ChatID)
			reply.Text = decision.Reply
			reply.ToolCalls = invocations

			if err := a.historyStore.AppendTurn(ctx, sess.UserID, sess.ChatID, model.Turn{
				Role:      model.RoleAssistant,
				Content:   decision.Reply,
				ToolCalls: invocations,
			}); err != nil {
				return Reply{}, err
			}
			a.logger.Debug("agent: cycle state", "state", stateDone, "chat_id", sess.ChatID, "iterations", i+1)
			return reply, nil

		case DecisionToolCall:
			a.logger.Debug("agent: cycle state", "state", stateToolExecuting,
				"tool", decision.Tool, "chat_id", sess.ChatID)
			invocations = append(invocations, a.executeTool(ctx, decision))

		default:
			return Reply{}, fmt.Errorf("agent: unknown decision kind %q", decision.Kind)
		}
	}

	// Budget exhausted. Record the failed cycle so the transcript shows what
	// was attempted, then surface the limit to the caller.
	reply.Text = "I couldn't complete that request."
	reply.ToolCalls = invocations
	if err := a.historyStore.AppendTurn(ctx, sess.UserID, sess.ChatID, model.Turn{
		Role:      model.RoleAssistant,
		Content:   reply.Text,
		ToolCalls: invocations,
	}); err != nil {
		a.logger.Warn("agent: record failed cycle", "error", err)
	}
	return reply, fmt.Errorf("agent: %d iterations without a reply: %w", a.maxIterations, model.ErrIterationLimit)
}

// loadSession resolves the session, consulting the ownership cache before
// the history store. A cache hit proves the pair already exists, so a
// read-only status lookup replaces Load's upsert transaction. Misses, cache
// errors, and stale entries all fall back to Load; history stays the source
// of truth.
func (a *Agent) loadSession(ctx context.Context, userID, chatID string) (model.Session, error) {
	if userID != "" && chatID != "" {
		owned, err := a.owners.IsOwner(ctx, userID, chatID)
		if err != nil {
			a.logger.Warn("agent: ownership cache read failed", "error", err)
		} else if owned {
			status, err := a.historyStore.Status(ctx, userID, chatID)
			if err == nil {
				return model.Session{UserID: userID, ChatID: chatID, Status: status}, nil
			}
			a.logger.Warn("agent: ownership cache out of date",
				"user_id", userID, "chat_id", chatID, "error", err)
		}
	}
	return a.historyStore.Load(ctx, userID, chatID)
}

// executeTool dispatches one tool call. Failures never abort the cycle; the
// error is recorded on the invocation for the reasoner to see.
func (a *Agent) executeTool(ctx context.Context, d Decision) model.ToolInvocation {
	inv := model.ToolInvocation{Tool: d.Tool, Arguments: d.Arguments}

	var (
		result map[string]any
		err    error
	)
	switch d.Tool {
	case tools.StructuredToolName:
		var f model.QueryFilter
		if err = decodeArgs(d.Arguments, &f); err == nil {
			result, err = a.structured.Query(ctx, f)
		}
	case tools.VectorToolName:
		var q model.SimilarityQuery
		if err = decodeArgs(d.Arguments, &q); err == nil {
			result, err = a.vector.Search(ctx, q)
		}
	default:
		err = fmt.Errorf("agent: unknown tool %q: %w", d.Tool, model.ErrInvalidArgument)
	}

	if err != nil {
		a.logger.Warn("agent: tool call failed", "tool", d.Tool, "error", err)
		inv.Err = err.Error()
		return inv
	}
	inv.Result = result
	return inv
}

// decodeArgs converts loosely typed reasoner arguments into a typed request.
func decodeArgs(args map[string]any, dst any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("agent: marshal tool arguments: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("agent: tool arguments: %v: %w", err, model.ErrInvalidArgument)
	}
	return nil
}
