package corrector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"athena/internal/config"
	"athena/internal/executor"
	"athena/internal/llm"
	"athena/internal/logging"
)

func newCorrector(t *testing.T, mock llm.Client) *Corrector {
	t.Helper()
	cfg, _, err := config.Load(config.WithConfigDir("/nonexistent"))
	require.NoError(t, err)
	exec := executor.New(cfg, nil, nil, nil, logging.Nop())
	return New(cfg, exec, mock, logging.Nop())
}

func TestRetrySucceedsAfterCorrection(t *testing.T) {
	mock := llm.NewMock("echo fixed")
	c := newCorrector(t, mock)

	result, info := c.ExecuteWithRetry(context.Background(), "local", "exit 1", Context{Goal: "run the thing"})

	assert.True(t, result.Success)
	assert.Equal(t, "fixed\n", result.Stdout)
	require.NotNil(t, info)
	assert.Equal(t, 2, info.Attempts)
	require.Len(t, info.Corrections, 1)
	assert.Equal(t, 1, info.Corrections[0].Attempt)
	assert.Equal(t, "exit 1", info.Corrections[0].Failed)
	assert.Equal(t, "echo fixed", info.Corrections[0].Fix)
}

func TestFirstAttemptSuccessHasNoRetryInfo(t *testing.T) {
	mock := llm.NewMock()
	c := newCorrector(t, mock)

	result, info := c.ExecuteWithRetry(context.Background(), "local", "echo ok", Context{})

	assert.True(t, result.Success)
	assert.Nil(t, info)
	assert.Zero(t, mock.CallCount())
}

func TestElevationProblemSkipsCorrection(t *testing.T) {
	mock := llm.NewMock("echo should-never-be-asked")
	c := newCorrector(t, mock)

	result, info := c.ExecuteWithRetry(context.Background(), "local",
		"echo 'sudo: a password is required' >&2; exit 1", Context{})

	assert.False(t, result.Success)
	assert.Nil(t, info)
	assert.Zero(t, mock.CallCount(), "elevation failures go back to the caller untouched")
}

func TestSudoSuggestionsAreRejected(t *testing.T) {
	mock := llm.NewMock("sudo systemctl restart nginx\necho fallback")
	c := newCorrector(t, mock)

	result, info := c.ExecuteWithRetry(context.Background(), "local", "exit 1", Context{})

	assert.True(t, result.Success, "the non-elevated line on the reply is used")
	assert.Equal(t, "fallback\n", result.Stdout)
	require.NotNil(t, info)
	assert.Equal(t, "echo fallback", info.Corrections[0].Fix)
}

func TestAllElevationSuggestionsStopTheLoop(t *testing.T) {
	mock := llm.NewMock("sudo rm -rf /var/cache\nsu - admin\ndoas reboot")
	c := newCorrector(t, mock)

	result, info := c.ExecuteWithRetry(context.Background(), "local", "exit 1", Context{})

	assert.False(t, result.Success)
	assert.Nil(t, info, "nothing safe was suggested, nothing was retried")
	assert.Equal(t, 1, mock.CallCount())
}

func TestIdenticalSuggestionStopsTheLoop(t *testing.T) {
	mock := llm.NewMock("exit 1")
	c := newCorrector(t, mock)

	result, info := c.ExecuteWithRetry(context.Background(), "local", "exit 1", Context{})

	assert.False(t, result.Success)
	assert.Nil(t, info)
	assert.Equal(t, 1, mock.CallCount())
}

func TestRetryBudgetExhausted(t *testing.T) {
	mock := llm.NewMock("false", "exit 3")
	c := newCorrector(t, mock)

	result, info := c.ExecuteWithRetry(context.Background(), "local", "exit 1", Context{})

	assert.False(t, result.Success)
	assert.Equal(t, 3, result.ExitCode, "last rewrite is the one that ran")
	require.NotNil(t, info)
	assert.Equal(t, 3, info.Attempts)
	require.Len(t, info.Corrections, 2)
	assert.Equal(t, 2, mock.CallCount())
}

func TestConnectionRefusedIsNotRewritten(t *testing.T) {
	mock := llm.NewMock("echo should-never-be-asked")
	c := newCorrector(t, mock)

	result, info := c.ExecuteWithRetry(context.Background(), "local",
		"echo 'ssh: connect to host db01 port 22: Connection refused' >&2; exit 1", Context{})

	assert.False(t, result.Success)
	assert.Nil(t, info)
	assert.Zero(t, mock.CallCount(), "a rewrite cannot fix an unreachable host")
}

func TestNonRetryableErrorClassesStopTheLoop(t *testing.T) {
	cases := map[string]string{
		"timeout":    "ssh: connect to host db01 port 22: Operation timed out",
		"credential": "Authentication failed for user deploy",
		"resource":   "tar: /var/backups/db.tar: No space left on device",
	}
	for name, stderr := range cases {
		t.Run(name, func(t *testing.T) {
			mock := llm.NewMock("echo should-never-be-asked")
			c := newCorrector(t, mock)

			command := "echo '" + stderr + "' >&2; exit 1"
			result, info := c.ExecuteWithRetry(context.Background(), "local", command, Context{})

			assert.False(t, result.Success)
			assert.Nil(t, info)
			assert.Zero(t, mock.CallCount())
		})
	}
}

func TestNotFoundErrorsAreStillRewritten(t *testing.T) {
	mock := llm.NewMock("echo fixed")
	c := newCorrector(t, mock)

	result, info := c.ExecuteWithRetry(context.Background(), "local",
		"echo 'bash: systemctll: command not found' >&2; exit 127", Context{})

	assert.True(t, result.Success)
	assert.Equal(t, "fixed\n", result.Stdout)
	require.NotNil(t, info)
	assert.Equal(t, 1, mock.CallCount())
}

func TestEscalatingRewriteIsWithheld(t *testing.T) {
	mock := llm.NewMock("systemctl restart nginx")
	c := newCorrector(t, mock)

	result, info := c.ExecuteWithRetry(context.Background(), "local",
		"cat /nonexistent-athena-corrector", Context{})

	assert.False(t, result.Success)
	assert.Equal(t, 1, mock.CallCount())
	require.NotNil(t, info)
	assert.Equal(t, 1, info.Attempts, "the withheld rewrite never ran")
	assert.Empty(t, info.Corrections)
	assert.Equal(t, "systemctl restart nginx", info.Escalated)
}

func TestSameLevelRewriteStillRuns(t *testing.T) {
	mock := llm.NewMock("uptime")
	c := newCorrector(t, mock)

	result, info := c.ExecuteWithRetry(context.Background(), "local",
		"cat /nonexistent-athena-corrector", Context{})

	assert.True(t, result.Success)
	require.NotNil(t, info)
	assert.Empty(t, info.Escalated)
	require.Len(t, info.Corrections, 1)
	assert.Equal(t, "uptime", info.Corrections[0].Fix)
}

func TestNilClientNeverRetries(t *testing.T) {
	c := newCorrector(t, nil)

	result, info := c.ExecuteWithRetry(context.Background(), "local", "exit 1", Context{})

	assert.False(t, result.Success)
	assert.Nil(t, info)
}

func TestFirstSafeLine(t *testing.T) {
	assert.Equal(t, "ls -la", firstSafeLine("```\nls -la\n```"))
	assert.Equal(t, "df -h", firstSafeLine("# try this\n`df -h`"))
	assert.Equal(t, "", firstSafeLine("sudo ls\n"))
	assert.Equal(t, "systemctl status nginx", firstSafeLine("  systemctl status nginx  "))
}
