package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cinematch/cinematch/internal/agent"
	"github.com/cinematch/cinematch/internal/history"
	"github.com/cinematch/cinematch/internal/model"
	"github.com/cinematch/cinematch/internal/ownership"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds the HTTP request handlers and their dependencies.
type Handlers struct {
	agent   *agent.Agent
	history *history.Store
	owners  ownership.Lookup
	catalog Pinger
	index   HealthChecker
	logger  *slog.Logger
	version string
}

// HealthChecker reports whether the search index is reachable.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// HandlersDeps holds the dependencies for creating Handlers.
type HandlersDeps struct {
	Agent   *agent.Agent
	History *history.Store
	Owners  ownership.Lookup
	Catalog Pinger
	Index   HealthChecker
	Logger  *slog.Logger
	Version string
}

// NewHandlers creates the HTTP handlers with their dependencies.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		agent:   deps.Agent,
		history: deps.History,
		owners:  deps.Owners,
		catalog: deps.Catalog,
		index:   deps.Index,
		logger:  deps.Logger,
		version: deps.Version,
	}
}

type chatRequest struct {
	UserID  string `json:"user_id"`
	ChatID  string `json:"chat_id"`
	Message string `json:"message"`
}

type chatResponse struct {
	Reply     string                 `json:"reply"`
	UserID    string                 `json:"user_id"`
	ChatID    string                 `json:"chat_id"`
	IsNewUser bool                   `json:"is_new_user"`
	IsNewChat bool                   `json:"is_new_chat"`
	ToolCalls []model.ToolInvocation `json:"tool_calls,omitempty"`

	// Error is set when the turn did not end with a model reply, e.g. the
	// iteration budget ran out. Reply then carries the recorded fallback
	// text.
	Error string `json:"error,omitempty"`
}

// HandleChat runs one conversation turn through the agent.
func (h *Handlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "message is required")
		return
	}

	reply, err := h.agent.Respond(r.Context(), req.UserID, req.ChatID, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidArgument):
			writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		case errors.Is(err, model.ErrIterationLimit):
			// The fallback turn is already recorded in history, so the
			// request is answered, but the error code marks it as a budget
			// exhaustion rather than a model reply.
			writeJSON(w, r, http.StatusOK, chatResponse{
				Reply:     reply.Text,
				UserID:    reply.UserID,
				ChatID:    reply.ChatID,
				IsNewUser: reply.IsNewUser,
				IsNewChat: reply.IsNewChat,
				ToolCalls: reply.ToolCalls,
				Error:     "iteration_limit_exceeded",
			})
		case errors.Is(err, model.ErrUpstream):
			writeError(w, r, http.StatusBadGateway, "upstream_error", err.Error())
		default:
			h.logger.Error("chat failed", "error", err)
			writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
		}
		return
	}

	writeJSON(w, r, http.StatusOK, chatResponse{
		Reply:     reply.Text,
		UserID:    reply.UserID,
		ChatID:    reply.ChatID,
		IsNewUser: reply.IsNewUser,
		IsNewChat: reply.IsNewChat,
		ToolCalls: reply.ToolCalls,
	})
}

// HandleChatHistory returns the ordered turns of a chat.
func (h *Handlers) HandleChatHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	chatID := r.PathValue("chat_id")

	turns, err := h.history.History(r.Context(), userID, chatID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "chat not found")
			return
		}
		h.logger.Error("history load failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	status, err := h.history.Status(r.Context(), userID, chatID)
	if err != nil {
		h.logger.Error("status load failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"user_id": userID,
		"chat_id": chatID,
		"status":  status,
		"turns":   turns,
	})
}

// HandleGetUser reports whether a user id has been seen before. The
// ownership cache answers first; on a miss the history store decides and a
// hit is written back to the cache.
func (h *Handlers) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")

	known, err := h.owners.KnownUser(r.Context(), userID)
	if err != nil {
		h.logger.Warn("ownership cache read failed", "error", err)
		known = false
	}
	if !known {
		known, err = h.history.KnownUser(r.Context(), userID)
		if err != nil {
			h.logger.Error("user lookup failed", "error", err)
			writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		if known {
			if err := h.owners.RememberUser(r.Context(), userID); err != nil {
				h.logger.Warn("ownership cache write failed", "error", err)
			}
		}
	}
	if !known {
		writeError(w, r, http.StatusNotFound, "not_found", "user not found")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"user_id": userID,
	})
}

// HandleArchiveChat marks a chat archived so it rejects new turns.
func (h *Handlers) HandleArchiveChat(w http.ResponseWriter, r *http.Request) {
	h.setChatStatus(w, r, h.history.Archive, "archived")
}

// HandleUnarchiveChat restores an archived chat to active.
func (h *Handlers) HandleUnarchiveChat(w http.ResponseWriter, r *http.Request) {
	h.setChatStatus(w, r, h.history.Unarchive, "active")
}

func (h *Handlers) setChatStatus(w http.ResponseWriter, r *http.Request, op func(context.Context, string, string) error, status string) {
	userID := r.PathValue("user_id")
	chatID := r.PathValue("chat_id")

	if err := op(r.Context(), userID, chatID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "chat not found")
			return
		}
		h.logger.Error("status change failed", "error", err, "status", status)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"user_id": userID,
		"chat_id": chatID,
		"status":  status,
	})
}

// HandleHealth reports liveness plus backing store reachability.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	checks := map[string]string{}

	if h.catalog != nil {
		if err := h.catalog.Ping(ctx); err != nil {
			status = "degraded"
			checks["catalog"] = err.Error()
		} else {
			checks["catalog"] = "ok"
		}
	}
	if h.index != nil {
		if err := h.index.Healthy(ctx); err != nil {
			status = "degraded"
			checks["search"] = err.Error()
		} else {
			checks["search"] = "ok"
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}
