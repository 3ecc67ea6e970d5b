package agent

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinematch/cinematch/internal/cache"
	"github.com/cinematch/cinematch/internal/history"
	"github.com/cinematch/cinematch/internal/model"
	"github.com/cinematch/cinematch/internal/ownership"
	"github.com/cinematch/cinematch/internal/testutil"
	"github.com/cinematch/cinematch/internal/tools"
)

// scriptedReasoner replays a fixed sequence of decisions and records what it
// was shown on each call.
type scriptedReasoner struct {
	decisions []Decision
	requests  []DecideRequest
}

func (r *scriptedReasoner) Decide(_ context.Context, req DecideRequest) (Decision, error) {
	r.requests = append(r.requests, req)
	i := len(r.requests) - 1
	if i >= len(r.decisions) {
		return r.decisions[len(r.decisions)-1], nil
	}
	return r.decisions[i], nil
}

type stubCatalog struct {
	movies []model.Movie
}

func (s *stubCatalog) Search(_ context.Context, _ model.QueryFilter) ([]model.Movie, error) {
	return s.movies, nil
}

type stubEngine struct {
	scored []model.ScoredMovie
}

func (s *stubEngine) Search(_ context.Context, _ model.SimilarityQuery) ([]model.ScoredMovie, error) {
	return s.scored, nil
}

func newTestAgent(t *testing.T, r Reasoner, maxIter int) (*Agent, *history.Store) {
	t.Helper()
	logger := testutil.TestLogger()

	hist, err := history.New(filepath.Join(t.TempDir(), "history.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = hist.Close() })

	cat := &stubCatalog{movies: []model.Movie{{ID: 1, Title: "The Matrix", Year: 1999}}}
	eng := &stubEngine{scored: []model.ScoredMovie{
		{Movie: model.Movie{ID: 2, Title: "Blade Runner"}, SimilarityScore: 0.9},
	}}

	a := New(Config{
		History:       hist,
		Owners:        ownership.NewMemory(),
		Structured:    tools.NewStructuredTool(cat, cache.New[[]model.Movie]("agent-test-filter", 8), logger),
		Vector:        tools.NewVectorTool(eng, cache.New[[]model.ScoredMovie]("agent-test-similarity", 8), logger),
		Reasoner:      r,
		MaxIterations: maxIter,
		Logger:        logger,
	})
	return a, hist
}

func TestRespondDirectReply(t *testing.T) {
	r := &scriptedReasoner{decisions: []Decision{
		{Kind: DecisionReply, Reply: "Hello! Ask me about movies."},
	}}
	a, hist := newTestAgent(t, r, 0)
	ctx := context.Background()

	reply, err := a.Respond(ctx, "alice", "chat-1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello! Ask me about movies.", reply.Text)
	assert.True(t, reply.IsNewUser)
	assert.True(t, reply.IsNewChat)
	assert.Empty(t, reply.ToolCalls)

	turns, err := hist.History(ctx, "alice", "chat-1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, model.RoleUser, turns[0].Role)
	assert.Equal(t, "hi", turns[0].Content)
	assert.Equal(t, model.RoleAssistant, turns[1].Role)
}

func TestRespondToolCallThenReply(t *testing.T) {
	r := &scriptedReasoner{decisions: []Decision{
		{Kind: DecisionToolCall, Tool: tools.StructuredToolName, Arguments: map[string]any{"genre": "action"}},
		{Kind: DecisionReply, Reply: "Try The Matrix."},
	}}
	a, hist := newTestAgent(t, r, 0)
	ctx := context.Background()

	reply, err := a.Respond(ctx, "alice", "chat-1", "recommend an action movie")
	require.NoError(t, err)
	assert.Equal(t, "Try The Matrix.", reply.Text)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, tools.StructuredToolName, reply.ToolCalls[0].Tool)
	assert.Empty(t, reply.ToolCalls[0].Err)
	assert.Equal(t, true, reply.ToolCalls[0].Result["success"])

	// The second reasoner call saw the first tool's result.
	require.Len(t, r.requests, 2)
	require.Len(t, r.requests[1].ToolResults, 1)
	assert.Equal(t, 1, r.requests[1].ToolResults[0].Result["count"])

	turns, err := hist.History(ctx, "alice", "chat-1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Len(t, turns[1].ToolCalls, 1)
	assert.Equal(t, tools.StructuredToolName, turns[1].ToolCalls[0].Tool)
}

func TestRespondInvalidToolArgsContinues(t *testing.T) {
	r := &scriptedReasoner{decisions: []Decision{
		{Kind: DecisionToolCall, Tool: tools.StructuredToolName, Arguments: map[string]any{"year_min": 2020, "year_max": 2000}},
		{Kind: DecisionReply, Reply: "I couldn't use that filter, but here's a suggestion."},
	}}
	a, _ := newTestAgent(t, r, 0)

	reply, err := a.Respond(context.Background(), "alice", "chat-1", "movies from 2020 to 2000")
	require.NoError(t, err)
	require.Len(t, reply.ToolCalls, 1)
	assert.NotEmpty(t, reply.ToolCalls[0].Err)
	assert.Nil(t, reply.ToolCalls[0].Result)

	// The reasoner was shown the failed invocation.
	require.Len(t, r.requests, 2)
	assert.NotEmpty(t, r.requests[1].ToolResults[0].Err)
}

func TestRespondUnknownToolContinues(t *testing.T) {
	r := &scriptedReasoner{decisions: []Decision{
		{Kind: DecisionToolCall, Tool: "no_such_tool"},
		{Kind: DecisionReply, Reply: "Done."},
	}}
	a, _ := newTestAgent(t, r, 0)

	reply, err := a.Respond(context.Background(), "alice", "chat-1", "hello")
	require.NoError(t, err)
	require.Len(t, reply.ToolCalls, 1)
	assert.NotEmpty(t, reply.ToolCalls[0].Err)
}

func TestRespondVectorTool(t *testing.T) {
	r := &scriptedReasoner{decisions: []Decision{
		{Kind: DecisionToolCall, Tool: tools.VectorToolName, Arguments: map[string]any{"query_text": "neo-noir future"}},
		{Kind: DecisionReply, Reply: "Blade Runner fits."},
	}}
	a, _ := newTestAgent(t, r, 0)

	reply, err := a.Respond(context.Background(), "alice", "chat-1", "something like a neo-noir future")
	require.NoError(t, err)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "semantic", reply.ToolCalls[0].Result["search_type"])
}

func TestRespondIterationLimit(t *testing.T) {
	r := &scriptedReasoner{decisions: []Decision{
		{Kind: DecisionToolCall, Tool: tools.StructuredToolName, Arguments: map[string]any{"genre": "action"}},
	}}
	a, hist := newTestAgent(t, r, 3)
	ctx := context.Background()

	reply, err := a.Respond(ctx, "alice", "chat-1", "loop forever")
	assert.ErrorIs(t, err, model.ErrIterationLimit)
	assert.Len(t, r.requests, 3)
	assert.NotEmpty(t, reply.Text)
	assert.Len(t, reply.ToolCalls, 3)

	// The failed cycle is still recorded with its attempted tool calls.
	turns, err := hist.History(ctx, "alice", "chat-1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, model.RoleAssistant, turns[1].Role)
	assert.Len(t, turns[1].ToolCalls, 3)
}

func TestRespondArchivedChatRejected(t *testing.T) {
	r := &scriptedReasoner{decisions: []Decision{{Kind: DecisionReply, Reply: "hi"}}}
	a, hist := newTestAgent(t, r, 0)
	ctx := context.Background()

	_, err := a.Respond(ctx, "alice", "chat-1", "hello")
	require.NoError(t, err)
	require.NoError(t, hist.Archive(ctx, "alice", "chat-1"))

	_, err = a.Respond(ctx, "alice", "chat-1", "are you there?")
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestRespondEmptyMessageRejected(t *testing.T) {
	r := &scriptedReasoner{decisions: []Decision{{Kind: DecisionReply, Reply: "hi"}}}
	a, _ := newTestAgent(t, r, 0)

	_, err := a.Respond(context.Background(), "alice", "chat-1", "")
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestRespondSessionFlagsCarryAcrossCycles(t *testing.T) {
	r := &scriptedReasoner{decisions: []Decision{{Kind: DecisionReply, Reply: "hi"}}}
	a, _ := newTestAgent(t, r, 0)
	ctx := context.Background()

	first, err := a.Respond(ctx, "alice", "chat-1", "hello")
	require.NoError(t, err)
	assert.True(t, first.IsNewUser)

	second, err := a.Respond(ctx, "alice", "chat-2", "new chat")
	require.NoError(t, err)
	assert.False(t, second.IsNewUser)
	assert.True(t, second.IsNewChat)
}

// trackingLookup wraps the in-memory lookup and counts reads.
type trackingLookup struct {
	*ownership.Memory
	isOwnerCalls int
	hits         int
}

func (l *trackingLookup) IsOwner(ctx context.Context, userID, chatID string) (bool, error) {
	l.isOwnerCalls++
	ok, err := l.Memory.IsOwner(ctx, userID, chatID)
	if ok {
		l.hits++
	}
	return ok, err
}

func newTrackedAgent(t *testing.T, r Reasoner, owners *trackingLookup) (*Agent, *history.Store) {
	t.Helper()
	logger := testutil.TestLogger()

	hist, err := history.New(filepath.Join(t.TempDir(), "history.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = hist.Close() })

	a := New(Config{
		History:    hist,
		Owners:     owners,
		Structured: tools.NewStructuredTool(&stubCatalog{}, cache.New[[]model.Movie]("tracked-filter", 8), logger),
		Vector:     tools.NewVectorTool(&stubEngine{}, cache.New[[]model.ScoredMovie]("tracked-similarity", 8), logger),
		Reasoner:   r,
		Logger:     logger,
	})
	return a, hist
}

func TestRespondOwnershipFastPath(t *testing.T) {
	r := &scriptedReasoner{decisions: []Decision{{Kind: DecisionReply, Reply: "hi"}}}
	owners := &trackingLookup{Memory: ownership.NewMemory()}
	a, _ := newTrackedAgent(t, r, owners)
	ctx := context.Background()

	first, err := a.Respond(ctx, "alice", "chat-1", "hello")
	require.NoError(t, err)
	assert.True(t, first.IsNewChat)
	assert.Equal(t, 1, owners.isOwnerCalls)
	assert.Zero(t, owners.hits)

	second, err := a.Respond(ctx, "alice", "chat-1", "again")
	require.NoError(t, err)
	assert.False(t, second.IsNewUser)
	assert.False(t, second.IsNewChat)
	assert.Equal(t, 2, owners.isOwnerCalls)
	assert.Equal(t, 1, owners.hits, "second turn should be answered by the ownership cache")
}

func TestRespondStaleOwnershipEntry(t *testing.T) {
	// A cached pair the history store has never seen falls back to a full
	// session load instead of failing the turn.
	r := &scriptedReasoner{decisions: []Decision{{Kind: DecisionReply, Reply: "hi"}}}
	owners := &trackingLookup{Memory: ownership.NewMemory()}
	a, hist := newTrackedAgent(t, r, owners)
	ctx := context.Background()

	require.NoError(t, owners.Remember(ctx, "ghost", "chat-x"))

	reply, err := a.Respond(ctx, "ghost", "chat-x", "hello")
	require.NoError(t, err)
	assert.True(t, reply.IsNewChat)

	turns, err := hist.History(ctx, "ghost", "chat-x")
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestRespondArchivedViaFastPath(t *testing.T) {
	// The cached status shortcut must still reject archived chats.
	r := &scriptedReasoner{decisions: []Decision{{Kind: DecisionReply, Reply: "hi"}}}
	owners := &trackingLookup{Memory: ownership.NewMemory()}
	a, hist := newTrackedAgent(t, r, owners)
	ctx := context.Background()

	_, err := a.Respond(ctx, "alice", "chat-1", "hello")
	require.NoError(t, err)
	require.NoError(t, hist.Archive(ctx, "alice", "chat-1"))

	_, err = a.Respond(ctx, "alice", "chat-1", "still there?")
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
	assert.Equal(t, 1, owners.hits)
}
