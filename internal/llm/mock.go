package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Mock is a scriptable Client for tests. Responses are consumed in order;
// when the script is exhausted, Generate returns the fallback text.
type Mock struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     []Request
	Fallback  string
	Delay     time.Duration
}

// NewMock returns a Mock that will emit the given responses in order.
func NewMock(responses ...string) *Mock {
	return &Mock{responses: responses, Fallback: "TERMINATE"}
}

// Enqueue appends a scripted response.
func (m *Mock) Enqueue(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, text)
}

// EnqueueError appends a scripted failure. Errors are consumed before any
// remaining responses.
func (m *Mock) EnqueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
}

func (m *Mock) Generate(ctx context.Context, req Request) (string, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", err
	}
	if len(m.responses) > 0 {
		text := m.responses[0]
		m.responses = m.responses[1:]
		return text, nil
	}
	if m.Fallback != "" {
		return m.Fallback, nil
	}
	return "", fmt.Errorf("mock: no scripted response for task %s", req.Task)
}

func (m *Mock) Model() string { return "mock" }

// Calls returns a copy of every request seen so far.
func (m *Mock) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many Generate calls were made.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
