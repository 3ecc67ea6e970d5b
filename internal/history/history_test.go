package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinematch/cinematch/internal/model"
	"github.com/cinematch/cinematch/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "history.db"), testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoadCreatesUserAndChat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Load(ctx, "alice", "chat-1")
	require.NoError(t, err)
	assert.True(t, sess.IsNewUser)
	assert.True(t, sess.IsNewChat)
	assert.Equal(t, model.StatusActive, sess.Status)
	assert.Empty(t, sess.Turns)
}

func TestLoadFlagsAreIndependent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Load(ctx, "alice", "chat-1")
	require.NoError(t, err)

	// Known user, new chat.
	sess, err := s.Load(ctx, "alice", "chat-2")
	require.NoError(t, err)
	assert.False(t, sess.IsNewUser)
	assert.True(t, sess.IsNewChat)

	// Known user, known chat.
	sess, err = s.Load(ctx, "alice", "chat-1")
	require.NoError(t, err)
	assert.False(t, sess.IsNewUser)
	assert.False(t, sess.IsNewChat)
}

func TestLoadMintsIDs(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.Load(context.Background(), "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.UserID)
	assert.NotEmpty(t, sess.ChatID)
	assert.True(t, sess.IsNewUser)
	assert.True(t, sess.IsNewChat)
}

func TestAppendTurnAndHistoryOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Load(ctx, "alice", "chat-1")
	require.NoError(t, err)

	require.NoError(t, s.AppendTurn(ctx, "alice", "chat-1", model.Turn{
		Role: model.RoleUser, Content: "find me sci-fi movies",
	}))
	require.NoError(t, s.AppendTurn(ctx, "alice", "chat-1", model.Turn{
		Role:    model.RoleAssistant,
		Content: "Here are three.",
		ToolCalls: []model.ToolInvocation{
			{Tool: "query_movies", Arguments: map[string]any{"genre": "sci-fi"}},
		},
	}))

	turns, err := s.History(ctx, "alice", "chat-1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, model.RoleUser, turns[0].Role)
	assert.Equal(t, model.RoleAssistant, turns[1].Role)
	require.Len(t, turns[1].ToolCalls, 1)
	assert.Equal(t, "query_movies", turns[1].ToolCalls[0].Tool)
}

func TestAppendTurnUnknownChat(t *testing.T) {
	s := newTestStore(t)

	err := s.AppendTurn(context.Background(), "ghost", "nope", model.Turn{
		Role: model.RoleUser, Content: "hello",
	})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestHistoryUnknownChat(t *testing.T) {
	s := newTestStore(t)

	_, err := s.History(context.Background(), "ghost", "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestArchiveLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Load(ctx, "alice", "chat-1")
	require.NoError(t, err)
	require.NoError(t, s.AppendTurn(ctx, "alice", "chat-1", model.Turn{
		Role: model.RoleUser, Content: "hi",
	}))

	require.NoError(t, s.Archive(ctx, "alice", "chat-1"))

	status, err := s.Status(ctx, "alice", "chat-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusArchived, status)

	// Archive again: no-op, no error.
	require.NoError(t, s.Archive(ctx, "alice", "chat-1"))

	// History stays readable while archived.
	turns, err := s.History(ctx, "alice", "chat-1")
	require.NoError(t, err)
	assert.Len(t, turns, 1)

	require.NoError(t, s.Unarchive(ctx, "alice", "chat-1"))
	status, err = s.Status(ctx, "alice", "chat-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, status)
}

func TestArchiveUnknownChat(t *testing.T) {
	s := newTestStore(t)

	err := s.Archive(context.Background(), "ghost", "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestLoadReturnsExistingStatusAndTurns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Load(ctx, "alice", "chat-1")
	require.NoError(t, err)
	require.NoError(t, s.AppendTurn(ctx, "alice", "chat-1", model.Turn{
		Role: model.RoleUser, Content: "hi",
	}))
	require.NoError(t, s.Archive(ctx, "alice", "chat-1"))

	sess, err := s.Load(ctx, "alice", "chat-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusArchived, sess.Status)
	assert.Len(t, sess.Turns, 1)
}

func TestKnownUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	known, err := s.KnownUser(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, known)

	_, err = s.Load(ctx, "alice", "chat-1")
	require.NoError(t, err)

	known, err = s.KnownUser(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, known)
}
