// Package executor runs commands on local or remote targets with risk
// gating, timeouts and post-failure error analysis. One executing task owns
// one connection; nothing here shares an SSH session.
package executor

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"athena/internal/config"
	"athena/internal/inventory/store"
	"athena/internal/logging"
	"athena/internal/metrics"
	"athena/internal/redaction"
	"athena/internal/risk"
	"athena/internal/triage"
)

// Result is the outcome of one command execution.
type Result struct {
	Target        string           `json:"target"`
	Command       string           `json:"command"`
	ExitCode      int              `json:"exit_code"`
	Stdout        string           `json:"stdout,omitempty"`
	Stderr        string           `json:"stderr,omitempty"`
	Success       bool             `json:"success"`
	Error         string           `json:"error,omitempty"`
	Risk          risk.Assessment  `json:"risk"`
	ErrorAnalysis *triage.Analysis `json:"error_analysis,omitempty"`
	ActionIndex   int              `json:"action_index,omitempty"`
	Duration      time.Duration    `json:"duration_ms"`
}

// Action is one entry of a batch.
type Action struct {
	Target         string `json:"target"`
	Command        string `json:"command"`
	Reason         string `json:"reason,omitempty"`
	TimeoutSeconds int    `json:"timeout_s,omitempty"`
}

// Options tune a single execution.
type Options struct {
	Confirm        bool
	TimeoutSeconds int
	ShowSpinner    bool
}

// Exit codes for failures that never produced a process status.
const (
	exitInternal = -1
)

// Only executor failures with at least this analysis confidence are
// surfaced to the retry loop.
const analysisAttachThreshold = 0.6

// Executor dispatches commands to a local subprocess or an SSH session.
type Executor struct {
	cfg      *config.Config
	store    *store.Store
	analyzer *triage.Analyzer
	creds    CredentialProvider
	logger   logging.Logger
	progress *progressSink

	// newRunner is swapped by tests to avoid real SSH dials.
	newRunner func(target string) (runner, error)
}

// New builds an Executor. store may be nil when only local targets are
// used; analyzer may be nil to skip error analysis.
func New(cfg *config.Config, st *store.Store, analyzer *triage.Analyzer, creds CredentialProvider, logger logging.Logger) *Executor {
	e := &Executor{
		cfg:      cfg,
		store:    st,
		analyzer: analyzer,
		creds:    creds,
		logger:   logging.OrNop(logger),
		progress: newProgressSink(os.Stderr),
	}
	e.newRunner = e.defaultRunner
	return e
}

func isLocal(target string) bool {
	switch strings.ToLower(strings.TrimSpace(target)) {
	case "local", "localhost", "":
		return true
	}
	return false
}

func (e *Executor) defaultRunner(target string) (runner, error) {
	if isLocal(target) {
		return localRunner{}, nil
	}
	return e.sshRunnerFor(target)
}

// Execute runs one command on one target. Moderate and critical commands
// require confirm=true; without it the command is never spawned.
func (e *Executor) Execute(ctx context.Context, target, command string, opts Options) Result {
	started := time.Now()
	result := Result{
		Target:  target,
		Command: command,
		Risk:    risk.Assess(command),
	}

	if risk.RequiresConfirmation(result.Risk.Level) && !opts.Confirm {
		result.ExitCode = exitInternal
		result.Error = "requires confirmation"
		metrics.ExecutorRunsTotal.WithLabelValues(targetKind(target), "blocked").Inc()
		return result
	}

	e.logger.Info("executor: running on %s: %s", target, redaction.RedactCommand(command))

	timeout := time.Duration(opts.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(e.cfg.Executor.DefaultTimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stopSpinner func(ok bool)
	if opts.ShowSpinner {
		stopSpinner = e.progress.spinner(target, redaction.RedactCommand(command))
	}

	run, err := e.newRunner(target)
	if err != nil {
		if stopSpinner != nil {
			stopSpinner(false)
		}
		result.ExitCode = exitInternal
		result.Error = err.Error()
		result.Duration = time.Since(started)
		metrics.ExecutorRunsTotal.WithLabelValues(targetKind(target), "error").Inc()
		return result
	}

	exitCode, stdout, stderr, runErr := run.run(runCtx, command)
	result.ExitCode = exitCode
	result.Stdout = stdout
	result.Stderr = stderr
	result.Duration = time.Since(started)

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		result.ExitCode = exitInternal
		result.Error = "timeout"
	case runErr != nil && exitCode == exitInternal:
		result.Error = runErr.Error()
	}
	result.Success = result.Error == "" && result.ExitCode == 0

	if stopSpinner != nil {
		stopSpinner(result.Success)
	}

	if !result.Success && result.ExitCode != 0 && strings.TrimSpace(result.Stderr) != "" && e.analyzer != nil {
		analysis := e.analyzer.Analyze(ctx, result.Stderr)
		if analysis.Confidence >= analysisAttachThreshold {
			result.ErrorAnalysis = &analysis
		}
	}

	outcome := "ok"
	if !result.Success {
		outcome = "failed"
	}
	metrics.ExecutorRunsTotal.WithLabelValues(targetKind(target), outcome).Inc()
	return result
}

// ExecuteBatch runs actions sequentially. More than one action switches to
// a progress bar and suppresses per-action spinners.
func (e *Executor) ExecuteBatch(ctx context.Context, actions []Action, stopOnFailure, showProgress bool) []Result {
	results := make([]Result, 0, len(actions))
	var bar *progressBar
	if showProgress && len(actions) > 1 {
		bar = e.progress.bar(len(actions))
	}

	for i, action := range actions {
		if ctx.Err() != nil {
			results = append(results, cancelledResult(action, i))
			continue
		}
		opts := Options{
			Confirm:        true,
			TimeoutSeconds: action.TimeoutSeconds,
			ShowSpinner:    showProgress && bar == nil,
		}
		result := e.Execute(ctx, action.Target, action.Command, opts)
		result.ActionIndex = i
		results = append(results, result)
		if bar != nil {
			bar.step(action.Target, result.Success)
		}
		if stopOnFailure && !result.Success {
			break
		}
	}
	if bar != nil {
		bar.done()
	}
	return results
}

// ExecuteBatchParallel fans actions out with bounded concurrency. Results
// come back in submission order; stopOnFailure stops launching new actions
// after the first failure but lets in-flight ones finish.
func (e *Executor) ExecuteBatchParallel(ctx context.Context, actions []Action, stopOnFailure bool) []Result {
	results := make([]Result, len(actions))
	limit := e.cfg.Executor.BatchConcurrencyCap
	if limit <= 0 || limit > len(actions) {
		limit = len(actions)
	}

	var failed atomic.Bool
	g := new(errgroup.Group)
	g.SetLimit(limit)
	for i, action := range actions {
		i, action := i, action
		g.Go(func() error {
			if ctx.Err() != nil || (stopOnFailure && failed.Load()) {
				results[i] = cancelledResult(action, i)
				return nil
			}
			result := e.Execute(ctx, action.Target, action.Command, Options{
				Confirm:        true,
				TimeoutSeconds: action.TimeoutSeconds,
			})
			result.ActionIndex = i
			if !result.Success {
				failed.Store(true)
			}
			results[i] = result
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// NeedsCredentials reports whether a failed result points at an
// authentication problem, so the orchestrator can prompt without reparsing
// stderr.
func NeedsCredentials(result Result) bool {
	return result.ErrorAnalysis != nil && result.ErrorAnalysis.NeedsCredentials
}

func cancelledResult(action Action, index int) Result {
	return Result{
		Target:      action.Target,
		Command:     action.Command,
		ExitCode:    exitInternal,
		Error:       "cancelled",
		Risk:        risk.Assess(action.Command),
		ActionIndex: index,
	}
}

func targetKind(target string) string {
	if isLocal(target) {
		return "local"
	}
	return "ssh"
}
