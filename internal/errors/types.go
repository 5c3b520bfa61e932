// Package errors defines the typed error taxonomy shared across Athena
// components. Leaf components return these types; the orchestrator decides
// whether to recover, explain, or surface them.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError reports an invalid or missing configuration value,
// including compliance-gated features used without acknowledgment.
type ConfigurationError struct {
	Key         string
	Reason      string
	Remediation string
}

func (e *ConfigurationError) Error() string {
	if e.Remediation != "" {
		return fmt.Sprintf("configuration error (%s): %s. %s", e.Key, e.Reason, e.Remediation)
	}
	return fmt.Sprintf("configuration error (%s): %s", e.Key, e.Reason)
}

// PersistenceError reports a failed store mutation. The mutation is always
// rolled back fully before this error is returned; callers never observe
// partial state.
type PersistenceError struct {
	Operation string
	Reason    string
	Details   map[string]any
	Err       error
}

func (e *PersistenceError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("persistence error in %s: %s (%v)", e.Operation, e.Reason, e.Details)
	}
	return fmt.Sprintf("persistence error in %s: %s", e.Operation, e.Reason)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ExecutorError reports a command that was gated, timed out, or exited
// non-zero.
type ExecutorError struct {
	Target   string
	Command  string
	ExitCode int
	Reason   string
	Err      error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("executor error on %s (exit %d): %s", e.Target, e.ExitCode, e.Reason)
}

func (e *ExecutorError) Unwrap() error { return e.Err }

// LLMError reports a transport failure, an unparseable response, or a
// caller-side deadline expiry.
type LLMError struct {
	Code   string // e.g. "LLM_TIMEOUT", "LLM_INVALID_JSON", "LLM_TRANSPORT"
	Reason string
	Err    error
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm error [%s]: %s", e.Code, e.Reason)
}

func (e *LLMError) Unwrap() error { return e.Err }

// LLM error codes.
const (
	CodeLLMTimeout     = "LLM_TIMEOUT"
	CodeLLMInvalidJSON = "LLM_INVALID_JSON"
	CodeLLMTransport   = "LLM_TRANSPORT"
	CodeLLMDisabled    = "LLM_FALLBACK_DISABLED"
)

// ClassificationError is internal only: an unrecoverable signal-detection
// bug. Callers collapse it to priority P3, intent action, confidence 0.3.
type ClassificationError struct {
	Stage string
	Err   error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification error in %s: %v", e.Stage, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is (or wraps) an LLM deadline expiry.
func IsTimeout(err error) bool {
	var llmErr *LLMError
	if errors.As(err, &llmErr) {
		return llmErr.Code == CodeLLMTimeout
	}
	return false
}

// IsNotFound reports whether err reads as a missing-row or missing-resource
// condition. Foreign-key violations racing a concurrent delete are reported
// as not-found, never as internal errors.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "not found") || strings.Contains(lower, "no rows")
}

// IsTransient reports whether err is worth retrying at the transport level.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused", "connection reset", "broken pipe",
		"timeout", "deadline exceeded", "temporarily unavailable",
		"too many requests", "429", "502", "503", "504",
	} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// NewPersistence wraps err with operation context.
func NewPersistence(operation, reason string, err error) *PersistenceError {
	return &PersistenceError{Operation: operation, Reason: reason, Err: err}
}

// NewLLM wraps err with an LLM error code.
func NewLLM(code, reason string, err error) *LLMError {
	return &LLMError{Code: code, Reason: reason, Err: err}
}
