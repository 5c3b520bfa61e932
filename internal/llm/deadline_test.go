package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	atherrors "athena/internal/errors"
)

func TestDeadlineFastPath(t *testing.T) {
	mock := NewMock("quick answer")
	client := WithDeadline(mock, time.Second, nil)

	got, err := client.Generate(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "quick answer", got)
	assert.Equal(t, "mock", client.Model())
}

func TestDeadlineExpiry(t *testing.T) {
	mock := NewMock("too late")
	mock.Delay = 200 * time.Millisecond
	client := WithDeadline(mock, 20*time.Millisecond, nil)

	late := make(chan struct{})
	client.onLate = func(Request, string, error, time.Duration) { close(late) }

	_, err := client.Generate(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, atherrors.IsTimeout(err))

	select {
	case <-late:
	case <-time.After(2 * time.Second):
		t.Fatal("late completion was never reported")
	}
}

func TestDeadlineZeroPassesThrough(t *testing.T) {
	mock := NewMock("direct")
	mock.Delay = 30 * time.Millisecond
	client := WithDeadline(mock, 0, nil)

	got, err := client.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "direct", got)
}

func TestDeadlineContextCancellation(t *testing.T) {
	mock := NewMock("never")
	mock.Delay = time.Second
	client := WithDeadline(mock, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Generate(ctx, Request{})
	// Either the wrapper's timeout error or the propagated cancellation is
	// acceptable; both carry the context error.
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
