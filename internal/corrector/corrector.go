// Package corrector retries failed commands with LLM-proposed rewrites.
// It never invents privilege elevation: sudo-style suggestions are
// rejected and password-for-sudo failures are handed back untouched.
package corrector

import (
	"context"
	"fmt"
	"strings"

	"athena/internal/config"
	"athena/internal/executor"
	"athena/internal/llm"
	"athena/internal/logging"
	"athena/internal/metrics"
	"athena/internal/redaction"
	"athena/internal/risk"
	"athena/internal/triage"
)

// Context carries what the model needs to propose a fix.
type Context struct {
	Goal string
	OS   string
}

// Correction records one rewrite inside a retry loop.
type Correction struct {
	Attempt int    `json:"attempt"`
	Failed  string `json:"failed"`
	Error   string `json:"error"`
	Fix     string `json:"fix"`
}

// RetryInfo is the full history of a corrected execution. Escalated holds a
// rewrite that was withheld because it carries a higher risk level than the
// command the caller confirmed.
type RetryInfo struct {
	Attempts    int          `json:"attempts"`
	Corrections []Correction `json:"corrections"`
	Escalated   string       `json:"escalated,omitempty"`
}

const (
	errorSnippetLimit      = 200
	correctionSystemPrompt = `You fix failed shell commands. Reply with ONLY the corrected command on a single line, no commentary, no markdown. Never add sudo or any other privilege elevation.`
)

// Prefixes the corrector refuses to execute; elevation belongs to a
// separate component.
var elevationPrefixes = []string{"sudo ", "su ", "doas ", "su-"}

// Corrector wraps an executor with the bounded retry loop.
type Corrector struct {
	cfg      *config.Config
	exec     *executor.Executor
	client   llm.Client
	analyzer *triage.Analyzer
	logger   logging.Logger
}

// New builds a Corrector. client may be nil; retries then stop after the
// first failure since no rewrite can be proposed.
func New(cfg *config.Config, exec *executor.Executor, client llm.Client, logger logging.Logger) *Corrector {
	if client != nil {
		client = llm.WithDeadline(client, cfg.LLMTimeout(), logger)
	}
	return &Corrector{
		cfg:      cfg,
		exec:     exec,
		client:   client,
		analyzer: triage.NewAnalyzer(nil, logger),
		logger:   logging.OrNop(logger),
	}
}

// ExecuteWithRetry runs command on target, asking the model for a rewrite
// after each failure, up to the configured retry budget. The returned
// RetryInfo is nil when the first attempt succeeds untouched.
func (c *Corrector) ExecuteWithRetry(ctx context.Context, target, command string, reqCtx Context) (executor.Result, *RetryInfo) {
	maxRetries := c.cfg.Corrector.MaxRetries
	confirmedLevel := risk.Assess(command).Level
	current := command
	var info *RetryInfo

	for attempt := 1; ; attempt++ {
		result := c.exec.Execute(ctx, target, current, executor.Options{Confirm: true})
		if info != nil {
			info.Attempts = attempt
		}
		if result.Success || attempt > maxRetries {
			return result, info
		}

		errText := errorSnippet(result)
		if isElevationProblem(errText) {
			c.logger.Info("corrector: elevation problem on %s, skipping correction", target)
			return result, info
		}

		analysis := result.ErrorAnalysis
		if analysis == nil {
			classified := c.analyzer.Analyze(ctx, errText)
			analysis = &classified
		}
		if !triage.ShouldRetry(*analysis, result.ExitCode) {
			c.logger.Info("corrector: %s failure on %s cannot be fixed by a rewrite, stopping", analysis.Kind, target)
			return result, info
		}

		suggestion := c.suggest(ctx, reqCtx, target, current, errText)
		if suggestion == "" {
			return result, info
		}
		if suggestion == current {
			c.logger.Debug("corrector: model repeated the failing command, stopping")
			return result, info
		}
		if escalatesRisk(confirmedLevel, risk.Assess(suggestion).Level) {
			c.logger.Warn("corrector: rewrite %q raises risk above the confirmed command, withholding it",
				redaction.RedactCommand(suggestion))
			if info == nil {
				info = &RetryInfo{Attempts: attempt}
			}
			info.Escalated = suggestion
			return result, info
		}

		if info == nil {
			info = &RetryInfo{Attempts: attempt}
		}
		info.Corrections = append(info.Corrections, Correction{
			Attempt: attempt,
			Failed:  current,
			Error:   errText,
			Fix:     suggestion,
		})
		c.logger.Info("corrector: rewriting %q -> %q",
			redaction.RedactCommand(current), redaction.RedactCommand(suggestion))
		metrics.CorrectionAttemptsTotal.Inc()
		current = suggestion
	}
}

// suggest asks the model for one corrected command and filters the reply.
func (c *Corrector) suggest(ctx context.Context, reqCtx Context, target, failed, errText string) string {
	if c.client == nil {
		return ""
	}
	prompt := fmt.Sprintf("Goal: %s\nFailed command: %s\nError: %s\nTarget: %s\nOS: %s\nCorrected command:",
		reqCtx.Goal, failed, errText, target, reqCtx.OS)
	response, err := c.client.Generate(ctx, llm.Request{
		System: correctionSystemPrompt,
		Prompt: prompt,
		Task:   llm.TaskCorrection,
	})
	if err != nil {
		c.logger.Warn("corrector: suggestion failed: %v", err)
		return ""
	}
	return firstSafeLine(response)
}

// firstSafeLine picks the first usable line of the reply, rejecting
// privilege-elevation suggestions and markdown noise.
func firstSafeLine(response string) string {
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "`"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if isElevationCommand(line) {
			continue
		}
		return line
	}
	return ""
}

func isElevationCommand(command string) bool {
	for _, prefix := range elevationPrefixes {
		if strings.HasPrefix(command, prefix) {
			return true
		}
	}
	return false
}

var riskRank = map[risk.Level]int{risk.Low: 0, risk.Moderate: 1, risk.Critical: 2}

// escalatesRisk reports whether a rewrite would run at a higher risk level
// than the command the caller originally confirmed.
func escalatesRisk(confirmed, proposed risk.Level) bool {
	return riskRank[proposed] > riskRank[confirmed]
}

// isElevationProblem spots sudo-password failures, which a rewrite cannot
// solve.
func isElevationProblem(errText string) bool {
	lowered := strings.ToLower(errText)
	return strings.Contains(lowered, "password") && strings.Contains(lowered, "sudo")
}

func errorSnippet(result executor.Result) string {
	text := strings.TrimSpace(result.Stderr)
	if text == "" {
		text = result.Error
	}
	if runes := []rune(text); len(runes) > errorSnippetLimit {
		return string(runes[:errorSnippetLimit])
	}
	return text
}
