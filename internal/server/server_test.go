package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinematch/cinematch/internal/agent"
	"github.com/cinematch/cinematch/internal/cache"
	"github.com/cinematch/cinematch/internal/history"
	"github.com/cinematch/cinematch/internal/model"
	"github.com/cinematch/cinematch/internal/ownership"
	"github.com/cinematch/cinematch/internal/tools"
)

type scriptedReasoner struct {
	decisions []agent.Decision
	calls     int
}

func (r *scriptedReasoner) Decide(_ context.Context, _ agent.DecideRequest) (agent.Decision, error) {
	i := r.calls
	if i >= len(r.decisions) {
		i = len(r.decisions) - 1
	}
	r.calls++
	return r.decisions[i], nil
}

type stubCatalog struct {
	movies []model.Movie
	err    error
}

func (c *stubCatalog) Search(_ context.Context, _ model.QueryFilter) ([]model.Movie, error) {
	return c.movies, c.err
}

type stubEngine struct {
	results []model.ScoredMovie
}

func (e *stubEngine) Search(_ context.Context, _ model.SimilarityQuery) ([]model.ScoredMovie, error) {
	return e.results, nil
}

type stubHealth struct{ err error }

func (s *stubHealth) Ping(context.Context) error    { return s.err }
func (s *stubHealth) Healthy(context.Context) error { return s.err }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, reasoner agent.Reasoner, catalog tools.Catalog, health *stubHealth) (*Server, *history.Store) {
	t.Helper()
	logger := testLogger()

	hist, err := history.New(filepath.Join(t.TempDir(), "chats.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = hist.Close() })

	if catalog == nil {
		catalog = &stubCatalog{}
	}
	structured := tools.NewStructuredTool(catalog, cache.New[[]model.Movie]("filter", 8), logger)
	vector := tools.NewVectorTool(&stubEngine{}, cache.New[[]model.ScoredMovie]("similarity", 8), logger)

	owners := ownership.NewMemory()
	ag := agent.New(agent.Config{
		History:    hist,
		Owners:     owners,
		Structured: structured,
		Vector:     vector,
		Reasoner:   reasoner,
		Logger:     logger,
	})

	srv := New(ServerConfig{
		Handlers: NewHandlers(HandlersDeps{
			Agent:   ag,
			History: hist,
			Owners:  owners,
			Catalog: health,
			Index:   health,
			Logger:  logger,
			Version: "test",
		}),
		Logger: logger,
		Port:   0,
	})
	return srv, hist
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleChat(t *testing.T) {
	reasoner := &scriptedReasoner{decisions: []agent.Decision{
		{Kind: agent.DecisionReply, Reply: "Try The Matrix."},
	}}
	srv, _ := newTestServer(t, reasoner, nil, &stubHealth{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/chat", map[string]string{
		"user_id": "u1", "chat_id": "c1", "message": "something with hackers",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Try The Matrix.", resp.Reply)
	assert.Equal(t, "u1", resp.UserID)
	assert.Equal(t, "c1", resp.ChatID)
	assert.True(t, resp.IsNewUser)
	assert.True(t, resp.IsNewChat)
	assert.Empty(t, resp.Error)
}

func TestHandleChatMintsIDs(t *testing.T) {
	reasoner := &scriptedReasoner{decisions: []agent.Decision{
		{Kind: agent.DecisionReply, Reply: "hello"},
	}}
	srv, _ := newTestServer(t, reasoner, nil, &stubHealth{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/chat", map[string]string{
		"message": "hi",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.UserID)
	assert.NotEmpty(t, resp.ChatID)
	assert.True(t, resp.IsNewUser)
}

func TestHandleChatEmptyMessage(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedReasoner{decisions: []agent.Decision{{Kind: agent.DecisionReply}}}, nil, &stubHealth{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/chat", map[string]string{
		"user_id": "u1", "chat_id": "c1", "message": "   ",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_input")
}

func TestHandleChatUnknownField(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedReasoner{decisions: []agent.Decision{{Kind: agent.DecisionReply}}}, nil, &stubHealth{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/chat", map[string]string{
		"message": "hi", "bogus": "field",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChatWithToolCall(t *testing.T) {
	reasoner := &scriptedReasoner{decisions: []agent.Decision{
		{Kind: agent.DecisionToolCall, Tool: tools.StructuredToolName, Arguments: map[string]any{"genre": "Action"}},
		{Kind: agent.DecisionReply, Reply: "Found one."},
	}}
	catalog := &stubCatalog{movies: []model.Movie{{ID: 1, Title: "The Matrix", Year: 1999, Rating: 8.7}}}
	srv, _ := newTestServer(t, reasoner, catalog, &stubHealth{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/chat", map[string]string{
		"user_id": "u1", "chat_id": "c1", "message": "action movies",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Found one.", resp.Reply)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, tools.StructuredToolName, resp.ToolCalls[0].Tool)
	assert.Empty(t, resp.ToolCalls[0].Err)
}

func TestHandleChatIterationLimit(t *testing.T) {
	// A reasoner that never replies exhausts the tool budget; the handler
	// still returns the recorded fallback turn.
	reasoner := &scriptedReasoner{decisions: []agent.Decision{
		{Kind: agent.DecisionToolCall, Tool: tools.StructuredToolName, Arguments: map[string]any{"genre": "Action"}},
	}}
	srv, _ := newTestServer(t, reasoner, nil, &stubHealth{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/chat", map[string]string{
		"user_id": "u1", "chat_id": "c1", "message": "loop",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Reply)
	assert.NotEmpty(t, resp.ToolCalls)
	assert.Equal(t, "iteration_limit_exceeded", resp.Error,
		"exhausted turns must carry an error code a client can branch on")
}

func TestHandleGetUser(t *testing.T) {
	reasoner := &scriptedReasoner{decisions: []agent.Decision{
		{Kind: agent.DecisionReply, Reply: "hello"},
	}}
	srv, _ := newTestServer(t, reasoner, nil, &stubHealth{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/chat", map[string]string{
		"user_id": "u1", "chat_id": "c1", "message": "hi",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/v1/users/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "u1")

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/v1/users/nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestHandleGetUserHistoryFallback(t *testing.T) {
	// A user created outside the agent path is absent from the ownership
	// cache; the handler must fall back to the history store.
	srv, hist := newTestServer(t, &scriptedReasoner{decisions: []agent.Decision{{Kind: agent.DecisionReply}}}, nil, &stubHealth{})

	_, err := hist.Load(context.Background(), "bob", "c9")
	require.NoError(t, err)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/users/bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bob")
}

func TestHandleChatArchivedChat(t *testing.T) {
	reasoner := &scriptedReasoner{decisions: []agent.Decision{
		{Kind: agent.DecisionReply, Reply: "hello"},
	}}
	srv, hist := newTestServer(t, reasoner, nil, &stubHealth{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/chat", map[string]string{
		"user_id": "u1", "chat_id": "c1", "message": "hi",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, hist.Archive(context.Background(), "u1", "c1"))

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/v1/chat", map[string]string{
		"user_id": "u1", "chat_id": "c1", "message": "still there?",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChatHistory(t *testing.T) {
	reasoner := &scriptedReasoner{decisions: []agent.Decision{
		{Kind: agent.DecisionReply, Reply: "hello"},
	}}
	srv, _ := newTestServer(t, reasoner, nil, &stubHealth{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/chat", map[string]string{
		"user_id": "u1", "chat_id": "c1", "message": "hi",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/v1/chats/u1/c1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status string       `json:"status"`
		Turns  []model.Turn `json:"turns"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "active", resp.Status)
	require.Len(t, resp.Turns, 2)
	assert.Equal(t, "user", resp.Turns[0].Role)
	assert.Equal(t, "assistant", resp.Turns[1].Role)
}

func TestHandleChatHistoryNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedReasoner{decisions: []agent.Decision{{Kind: agent.DecisionReply}}}, nil, &stubHealth{})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/chats/nobody/nothing/history", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleArchiveLifecycle(t *testing.T) {
	reasoner := &scriptedReasoner{decisions: []agent.Decision{
		{Kind: agent.DecisionReply, Reply: "hello"},
	}}
	srv, _ := newTestServer(t, reasoner, nil, &stubHealth{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/chat", map[string]string{
		"user_id": "u1", "chat_id": "c1", "message": "hi",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/v1/chats/u1/c1/archive", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "archived")

	// History stays readable on archived chats.
	rec = doJSON(t, srv.Handler(), http.MethodGet, "/v1/chats/u1/c1/history", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/v1/chats/u1/c1/unarchive", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "active")
}

func TestHandleArchiveNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedReasoner{decisions: []agent.Decision{{Kind: agent.DecisionReply}}}, nil, &stubHealth{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/chats/ghost/none/archive", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedReasoner{decisions: []agent.Decision{{Kind: agent.DecisionReply}}}, nil, &stubHealth{})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestHandleHealthDegraded(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedReasoner{decisions: []agent.Decision{{Kind: agent.DecisionReply}}}, nil,
		&stubHealth{err: errors.New("connection refused")})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedReasoner{decisions: []agent.Decision{{Kind: agent.DecisionReply}}}, nil, &stubHealth{})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "fixed-id", rec.Header().Get("X-Request-ID"))
}
