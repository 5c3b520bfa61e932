package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleCurrentConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	current, err := s.CurrentConversation(ctx)
	require.NoError(t, err)
	assert.Nil(t, current, "fresh store has no conversation")

	first, err := s.StartConversation(ctx, "morning shift")
	require.NoError(t, err)
	assert.True(t, first.IsCurrent)

	second, err := s.StartConversation(ctx, "incident 42")
	require.NoError(t, err)

	current, err = s.CurrentConversation(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, second.ID, current.ID)

	var count int
	err = s.db.QueryRow(`SELECT COUNT(*) FROM conversations WHERE is_current = 1`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	archived, err := s.GetConversation(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, archived.IsCurrent)
}

func TestAppendMessageAccumulatesTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.StartConversation(ctx, "")
	require.NoError(t, err)

	_, err = s.AppendMessage(ctx, conv.ID, "user", "check disk on web-01", 6)
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, conv.ID, "assistant", "disk usage is 42%", 5)
	require.NoError(t, err)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 11, got.TokenCount)

	messages, err := s.ConversationMessages(ctx, conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "assistant", messages[1].Role)

	limited, err := s.ConversationMessages(ctx, conv.ID, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "user", limited[0].Role, "limit keeps the oldest messages")

	_, err = s.AppendMessage(ctx, 9999, "user", "orphan", 1)
	assert.Error(t, err)
}

func TestMarkCompactedAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.StartConversation(ctx, "long one")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, conv.ID, "user", "hello", 2)
	require.NoError(t, err)

	require.NoError(t, s.MarkCompacted(ctx, conv.ID))
	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.Compacted)

	require.NoError(t, s.DeleteConversation(ctx, conv.ID))
	_, err = s.GetConversation(ctx, conv.ID)
	assert.Error(t, err)

	var count int
	err = s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count, "messages cascade with the conversation")
}

func TestSessionAuditTrail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StartSession(ctx, "sess-1"))

	queryID, err := s.RecordQuery(ctx, Query{
		SessionID:       "sess-1",
		Query:           "restart nginx on web-01",
		Response:        "done",
		ResponseType:    "action",
		ActionsCount:    1,
		ExecutionTimeMS: 1200,
	})
	require.NoError(t, err)

	_, err = s.RecordAction(ctx, Action{
		QueryID:    queryID,
		SessionID:  "sess-1",
		Target:     "web-01",
		Command:    "systemctl restart nginx",
		ExitCode:   0,
		Stdout:     "ok",
		RiskLevel:  "critical",
		DurationMS: 900,
	})
	require.NoError(t, err)

	require.NoError(t, s.EndSession(ctx, "sess-1"))

	sess, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "ended", sess.Status)
	assert.Equal(t, 1, sess.TotalQueries)
	assert.Equal(t, 1, sess.TotalActions)
	require.NotNil(t, sess.EndedAt)

	queries, err := s.SessionQueries(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, "restart nginx on web-01", queries[0].Query)

	actions, err := s.SessionActions(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "systemctl restart nginx", actions[0].Command)
	assert.Equal(t, "critical", actions[0].RiskLevel)

	// Unknown session ids are reported, not silently ignored.
	_, err = s.RecordQuery(ctx, Query{SessionID: "ghost", Query: "x"})
	assert.Error(t, err)
	assert.Error(t, s.EndSession(ctx, "ghost"))
}

func TestRecordActionTruncatesOutput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.StartSession(ctx, "sess-2"))

	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	id, err := s.RecordAction(ctx, Action{
		QueryID:   1,
		SessionID: "sess-2",
		Command:   "journalctl -u nginx",
		Stdout:    string(long),
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	actions, err := s.SessionActions(ctx, "sess-2")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Len(t, actions[0].Stdout, 1000)
}
