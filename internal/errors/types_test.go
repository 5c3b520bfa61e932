package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPersistenceErrorWrapping(t *testing.T) {
	root := errors.New("disk full")
	err := NewPersistence("add_host", "insert failed", root)

	assert.Contains(t, err.Error(), "add_host")
	assert.Contains(t, err.Error(), "insert failed")
	assert.True(t, errors.Is(err, root))

	err.Details = map[string]any{"hosts_before_failure": 2}
	assert.Contains(t, err.Error(), "hosts_before_failure")
}

func TestConfigurationErrorRemediation(t *testing.T) {
	err := &ConfigurationError{Key: "enable_llm_fallback", Reason: "disabled", Remediation: "set ENABLE_LLM_FALLBACK=true"}
	assert.Contains(t, err.Error(), "enable_llm_fallback")
	assert.Contains(t, err.Error(), "ENABLE_LLM_FALLBACK=true")
}

func TestExecutorError(t *testing.T) {
	root := errors.New("connection refused")
	err := &ExecutorError{Target: "db-01", Command: "uptime", ExitCode: -1, Reason: "dial failed", Err: root}
	assert.Contains(t, err.Error(), "db-01")
	assert.Contains(t, err.Error(), "exit -1")
	assert.True(t, errors.Is(err, root))
}

func TestIsTimeout(t *testing.T) {
	timeout := NewLLM(CodeLLMTimeout, "deadline", nil)
	assert.True(t, IsTimeout(timeout))
	assert.True(t, IsTimeout(fmt.Errorf("wrapped: %w", timeout)))
	assert.False(t, IsTimeout(NewLLM(CodeLLMTransport, "refused", nil)))
	assert.False(t, IsTimeout(errors.New("timeout")))
	assert.False(t, IsTimeout(nil))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(errors.New("host not found")))
	assert.True(t, IsNotFound(errors.New("sql: no rows in result set")))
	assert.False(t, IsNotFound(errors.New("syntax error")))
	assert.False(t, IsNotFound(nil))
}

func TestIsTransient(t *testing.T) {
	for _, msg := range []string{
		"connection refused", "read: connection reset by peer",
		"context deadline exceeded", "HTTP 503 service unavailable",
		"too many requests",
	} {
		assert.True(t, IsTransient(errors.New(msg)), msg)
	}
	assert.False(t, IsTransient(errors.New("invalid argument")))
	assert.False(t, IsTransient(nil))
}
