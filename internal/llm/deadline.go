package llm

import (
	"context"
	"time"

	atherrors "athena/internal/errors"
	"athena/internal/logging"
	"athena/internal/metrics"
)

// DeadlineClient wraps a Client with a caller-side timeout. The underlying
// call cannot be truly aborted: when the deadline fires the wrapper returns
// an LLM_TIMEOUT error immediately and registers a done-callback that logs
// the late completion, whose result is discarded. This contract is explicit;
// no component may assume in-flight calls are cancelled.
type DeadlineClient struct {
	inner   Client
	timeout time.Duration
	logger  logging.Logger

	// onLate is invoked when a timed-out call eventually finishes.
	// Overridable for tests.
	onLate func(req Request, text string, err error, elapsed time.Duration)
}

// WithDeadline wraps client so every Generate call observes timeout.
func WithDeadline(client Client, timeout time.Duration, logger logging.Logger) *DeadlineClient {
	d := &DeadlineClient{
		inner:   client,
		timeout: timeout,
		logger:  logging.OrNop(logger),
	}
	d.onLate = func(req Request, _ string, err error, elapsed time.Duration) {
		if err != nil {
			d.logger.Warn("late LLM completion for task=%s after %s: %v", req.Task, elapsed, err)
			return
		}
		d.logger.Warn("late LLM completion for task=%s after %s: result discarded", req.Task, elapsed)
	}
	return d
}

type generateOutcome struct {
	text string
	err  error
}

func (d *DeadlineClient) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	defer metrics.ObserveLLM(string(req.Task), start)

	timeout := d.timeout
	if timeout <= 0 {
		return d.inner.Generate(ctx, req)
	}

	done := make(chan generateOutcome, 1)
	go func() {
		text, err := d.inner.Generate(ctx, req)
		done <- generateOutcome{text: text, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case outcome := <-done:
		return outcome.text, outcome.err
	case <-ctx.Done():
		go d.drainLate(req, done, start)
		return "", atherrors.NewLLM(atherrors.CodeLLMTimeout, "request cancelled", ctx.Err())
	case <-timer.C:
		go d.drainLate(req, done, start)
		return "", atherrors.NewLLM(atherrors.CodeLLMTimeout,
			"LLM call exceeded deadline of "+timeout.String(), context.DeadlineExceeded)
	}
}

func (d *DeadlineClient) drainLate(req Request, done <-chan generateOutcome, start time.Time) {
	outcome := <-done
	d.onLate(req, outcome.text, outcome.err, time.Since(start))
}

func (d *DeadlineClient) Model() string { return d.inner.Model() }
