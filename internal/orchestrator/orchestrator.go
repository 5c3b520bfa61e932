// Package orchestrator drives the request pipeline: triage, conversation
// bookkeeping, and the LLM tool-dispatch loop with retry and audit.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	"athena/internal/config"
	"athena/internal/conversation"
	"athena/internal/corrector"
	"athena/internal/executor"
	"athena/internal/inventory/store"
	"athena/internal/knowledge"
	"athena/internal/llm"
	"athena/internal/logging"
	"athena/internal/metrics"
	"athena/internal/presenter"
	"athena/internal/risk"
	"athena/internal/scanner"
	"athena/internal/triage"
)

const systemPromptTemplate = `You are an infrastructure operations assistant. You may call tools to inspect and fix systems.

To call a tool, reply with ONLY one line:
TOOL_CALL: {"tool": "<name>", "args": {...}}

Available tools:
%s

When the task is done, reply with your final answer for the user and end the message with the word TERMINATE.`

// Phrases that, combined with "terminate", also end the loop.
var completionPhrases = []string{"task complete", "task is complete", "all done", "nothing more to do"}

const toolCallPrefix = "TOOL_CALL:"

// Orchestrator wires every component behind ProcessRequest.
type Orchestrator struct {
	cfg       *config.Config
	store     *store.Store
	conv      *conversation.Manager
	classify  *triage.Classifier
	analyzer  *triage.Analyzer
	exec      *executor.Executor
	corrector *corrector.Corrector
	knowledge *knowledge.Store
	scanner   *scanner.Scanner
	present   *presenter.Presenter
	client    llm.Client
	registry  *Registry
	logger    logging.Logger

	sessionID string
	out       io.Writer

	// confirm asks the user to approve a command; nil denies everything
	// the behavior profile does not auto-confirm.
	confirm func(prompt string) bool
	// askUser relays a model question to the user; nil returns an error
	// to the model.
	askUser func(prompt string) (string, error)

	// webSearch is pluggable; nil reports the capability as unconfigured.
	webSearch func(ctx context.Context, query string) (string, error)
}

// Deps collects the orchestrator's collaborators.
type Deps struct {
	Config    *config.Config
	Store     *store.Store
	Conv      *conversation.Manager
	Classify  *triage.Classifier
	Analyzer  *triage.Analyzer
	Exec      *executor.Executor
	Corrector *corrector.Corrector
	Knowledge *knowledge.Store
	Scanner   *scanner.Scanner
	Presenter *presenter.Presenter
	Client    llm.Client
	Logger    logging.Logger

	Out       io.Writer
	Confirm   func(prompt string) bool
	AskUser   func(prompt string) (string, error)
	WebSearch func(ctx context.Context, query string) (string, error)
}

// New builds an Orchestrator and opens its audit session.
func New(ctx context.Context, deps Deps) (*Orchestrator, error) {
	if deps.Config == nil || deps.Store == nil || deps.Conv == nil {
		return nil, fmt.Errorf("orchestrator: config, store and conversation manager are required")
	}
	out := deps.Out
	if out == nil {
		out = os.Stdout
	}
	o := &Orchestrator{
		cfg:       deps.Config,
		store:     deps.Store,
		conv:      deps.Conv,
		classify:  deps.Classify,
		analyzer:  deps.Analyzer,
		exec:      deps.Exec,
		corrector: deps.Corrector,
		knowledge: deps.Knowledge,
		scanner:   deps.Scanner,
		present:   deps.Presenter,
		client:    deps.Client,
		logger:    logging.OrNop(deps.Logger),
		sessionID: uuid.NewString(),
		out:       out,
		confirm:   deps.Confirm,
		askUser:   deps.AskUser,
		webSearch: deps.WebSearch,
	}
	if o.present == nil {
		o.present = presenter.New(deps.Config.Language)
	}
	o.registry = o.buildRegistry()
	if err := o.store.StartSession(ctx, o.sessionID); err != nil {
		return nil, err
	}
	return o, nil
}

// Close ends the audit session.
func (o *Orchestrator) Close(ctx context.Context) error {
	return o.store.EndSession(ctx, o.sessionID)
}

// Registry exposes the tool set, mainly for inspection.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// ProcessRequest handles one user request end to end and returns the final
// assistant text.
func (o *Orchestrator) ProcessRequest(ctx context.Context, query string, state *triage.SystemState) (string, error) {
	started := time.Now()

	conv, err := o.conv.Append(ctx, conversation.RoleUser, query)
	if err != nil {
		return "", err
	}
	if o.conv.MustCompact(conv) {
		if _, err := o.conv.Compact(ctx, nil); err != nil {
			return "", err
		}
	} else if o.conv.ShouldCompact(conv) {
		fmt.Fprintln(o.out, "note: conversation is close to its token limit and will be compacted soon")
	}

	result := o.classify.ClassifyForUser(ctx, o.cfg.UserID, query, state)
	behavior := triage.BehaviorFor(result.Priority)
	metrics.RequestsTotal.WithLabelValues(result.Priority.String(), string(result.Intent)).Inc()
	fmt.Fprintln(o.out, o.present.RenderTriage(result))

	answer, actionCount, err := o.dispatchLoop(ctx, query, behavior)
	if err != nil {
		return "", err
	}

	if _, err := o.conv.Append(ctx, conversation.RoleAssistant, answer); err != nil {
		return "", err
	}
	if _, err := o.store.RecordQuery(ctx, store.Query{
		SessionID:       o.sessionID,
		Query:           query,
		Response:        answer,
		ResponseType:    string(result.Intent),
		ActionsCount:    actionCount,
		ExecutionTimeMS: time.Since(started).Milliseconds(),
	}); err != nil {
		o.logger.Warn("orchestrator: audit query write failed: %v", err)
	}
	return answer, nil
}

// dispatchLoop alternates model replies and tool results until the model
// terminates or a budget runs out.
func (o *Orchestrator) dispatchLoop(ctx context.Context, query string, behavior triage.Behavior) (string, int, error) {
	if o.client == nil {
		return "", 0, fmt.Errorf("orchestrator: no llm client configured")
	}
	system := fmt.Sprintf(systemPromptTemplate, o.registry.PromptSchema())

	history, err := o.conv.History(ctx, 50)
	if err != nil {
		return "", 0, err
	}
	var transcript strings.Builder
	for _, msg := range history {
		fmt.Fprintf(&transcript, "%s: %s\n", msg.Role, msg.Content)
	}

	maxTurns := o.cfg.Orchestrator.MaxConsecutiveAutoReply
	lastReply := ""
	commandCount := 0
	actionCount := 0

	for turn := 0; turn < maxTurns; turn++ {
		// Cancellation is honored between suspension points only; a tool
		// call in flight finishes on its own timeout.
		if ctx.Err() != nil {
			return strings.TrimSpace(lastReply), actionCount, ctx.Err()
		}

		llmStart := time.Now()
		reply, err := o.client.Generate(ctx, llm.Request{
			System: system,
			Prompt: transcript.String() + "\nassistant:",
			Task:   llm.TaskChat,
		})
		metrics.ObserveLLM(string(llm.TaskChat), llmStart)
		if err != nil {
			return "", actionCount, err
		}
		lastReply = reply

		call, ok := parseToolCall(reply)
		if !ok {
			if isTerminal(reply) {
				return stripTerminate(reply), actionCount, nil
			}
			fmt.Fprintf(&transcript, "assistant: %s\n", reply)
			continue
		}

		if commandCount >= behavior.MaxCommandsBeforePause {
			if o.confirm == nil || !o.confirm(fmt.Sprintf("%d commands executed; continue?", commandCount)) {
				return fmt.Sprintf("paused after %d commands", commandCount), actionCount, nil
			}
			commandCount = 0
		}

		output := o.dispatch(ctx, call, behavior)
		commandCount++
		actionCount++
		fmt.Fprintf(&transcript, "assistant: %s\ntool (%s): %s\n", reply, call.Tool, output)
	}
	return strings.TrimSpace(stripTerminate(lastReply)), actionCount, nil
}

// toolCall is one decoded request from the model.
type toolCall struct {
	Tool string `json:"tool"`
	Args Args   `json:"args"`
}

func (o *Orchestrator) dispatch(ctx context.Context, call toolCall, behavior triage.Behavior) string {
	tool, ok := o.registry.Get(call.Tool)
	if !ok {
		metrics.ToolDispatchesTotal.WithLabelValues(call.Tool, "unknown").Inc()
		return fmt.Sprintf("error: unknown tool %q", call.Tool)
	}

	ctx = withBehavior(ctx, behavior)
	output, err := tool.Run(ctx, call.Args)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		output = "error: " + err.Error()
	}
	metrics.ToolDispatchesTotal.WithLabelValues(call.Tool, outcome).Inc()
	return output
}

// runCommand is the execution path shared by every command-shaped tool:
// confirmation policy, corrective retry, rendering and audit.
func (o *Orchestrator) runCommand(ctx context.Context, target, command, goal string, isWrite bool) (string, error) {
	behavior := behaviorFrom(ctx)
	assessment := risk.Assess(command)

	confirmed := behavior.ShouldAutoConfirm(isWrite)
	if behavior.ShouldConfirm(isWrite, assessment.Level == risk.Critical) && !confirmed {
		if o.confirm == nil || !o.confirm(fmt.Sprintf("run on %s: %s ?", target, command)) {
			return "command not confirmed by user", nil
		}
		confirmed = true
	}
	if !confirmed && risk.RequiresConfirmation(assessment.Level) {
		if o.confirm == nil || !o.confirm(fmt.Sprintf("run %s command on %s: %s ?", assessment.Level, target, command)) {
			return "command not confirmed by user", nil
		}
		confirmed = true
	}

	var result executor.Result
	var retries *corrector.RetryInfo
	if o.corrector != nil {
		result, retries = o.corrector.ExecuteWithRetry(ctx, target, command, corrector.Context{Goal: goal, OS: "linux"})
	} else {
		result = o.exec.Execute(ctx, target, command, executor.Options{Confirm: confirmed})
	}

	o.recordAction(ctx, result)

	if result.Success {
		out := result.Stdout
		if strings.TrimSpace(out) == "" {
			out = "(no output)"
		}
		if retries != nil {
			out += fmt.Sprintf("\n(succeeded after %d attempts)", retries.Attempts)
		}
		return out, nil
	}
	rendered := o.present.RenderFailure(result)
	if executor.NeedsCredentials(result) {
		rendered += "\ncredentials are required for this target"
	}
	if retries != nil && retries.Escalated != "" {
		rendered += fmt.Sprintf("\na suggested fix was withheld because it is riskier than the confirmed command: %s\nrun it explicitly if it is what you want", retries.Escalated)
	}
	return rendered, nil
}

// runBatch fans one command out to several hosts. The command is confirmed
// once for the whole set; the behavior profile picks serial or parallel
// execution.
func (o *Orchestrator) runBatch(ctx context.Context, hosts []string, command, goal string, isWrite bool) (string, error) {
	behavior := behaviorFrom(ctx)
	assessment := risk.Assess(command)

	confirmed := behavior.ShouldAutoConfirm(isWrite)
	if !confirmed && (behavior.ShouldConfirm(isWrite, assessment.Level == risk.Critical) || risk.RequiresConfirmation(assessment.Level)) {
		prompt := fmt.Sprintf("run on %d hosts (%s): %s ?", len(hosts), strings.Join(hosts, ", "), command)
		if o.confirm == nil || !o.confirm(prompt) {
			return "command not confirmed by user", nil
		}
	}

	actions := make([]executor.Action, 0, len(hosts))
	for _, host := range hosts {
		actions = append(actions, executor.Action{Target: host, Command: command, Reason: goal})
	}

	var results []executor.Result
	if behavior.ParallelExecution {
		results = o.exec.ExecuteBatchParallel(ctx, actions, false)
	} else {
		results = o.exec.ExecuteBatch(ctx, actions, false, false)
	}

	var b strings.Builder
	failures := 0
	for _, result := range results {
		o.recordAction(ctx, result)
		if result.Success {
			out := strings.TrimSpace(result.Stdout)
			if out == "" {
				out = "(no output)"
			}
			fmt.Fprintf(&b, "%s: ok\n%s\n", result.Target, out)
			continue
		}
		failures++
		fmt.Fprintf(&b, "%s: failed (exit %d)\n%s\n", result.Target, result.ExitCode, firstLine(result.Stderr))
	}
	fmt.Fprintf(&b, "%d/%d hosts succeeded", len(results)-failures, len(results))
	return b.String(), nil
}

func (o *Orchestrator) recordAction(ctx context.Context, result executor.Result) {
	if _, err := o.store.RecordAction(ctx, store.Action{
		SessionID:  o.sessionID,
		Target:     result.Target,
		Command:    result.Command,
		ExitCode:   result.ExitCode,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		RiskLevel:  string(result.Risk.Level),
		DurationMS: result.Duration.Milliseconds(),
	}); err != nil {
		o.logger.Warn("orchestrator: audit action write failed: %v", err)
	}
}

// behavior travels to tools through the context so the registry's Run
// signature stays uniform.
type behaviorKey struct{}

func withBehavior(ctx context.Context, b triage.Behavior) context.Context {
	return context.WithValue(ctx, behaviorKey{}, b)
}

func behaviorFrom(ctx context.Context) triage.Behavior {
	if b, ok := ctx.Value(behaviorKey{}).(triage.Behavior); ok {
		return b
	}
	return triage.BehaviorFor(triage.P3)
}

// parseToolCall extracts a TOOL_CALL payload from a model reply, repairing
// sloppy JSON when needed.
func parseToolCall(reply string) (toolCall, bool) {
	idx := strings.Index(reply, toolCallPrefix)
	if idx < 0 {
		return toolCall{}, false
	}
	payload := strings.TrimSpace(reply[idx+len(toolCallPrefix):])
	if end := strings.Index(payload, "\n"); end >= 0 {
		// A call is a single line; trailing prose belongs to the model.
		if strings.Count(payload[:end], "{") > 0 && strings.Count(payload[:end], "{") == strings.Count(payload[:end], "}") {
			payload = payload[:end]
		}
	}

	var call toolCall
	if err := json.Unmarshal([]byte(payload), &call); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(payload)
		if rerr != nil || json.Unmarshal([]byte(repaired), &call) != nil {
			return toolCall{}, false
		}
	}
	if call.Tool == "" {
		return toolCall{}, false
	}
	if call.Args == nil {
		call.Args = Args{}
	}
	return call, true
}

// isTerminal reports whether a reply ends the dispatch loop.
func isTerminal(reply string) bool {
	lowered := strings.ToLower(strings.TrimSpace(reply))
	lowered = strings.TrimRight(lowered, ".!? \t\n")
	if strings.HasSuffix(lowered, "terminate") {
		return true
	}
	if strings.Contains(lowered, "terminate") {
		for _, phrase := range completionPhrases {
			if strings.Contains(lowered, phrase) {
				return true
			}
		}
	}
	return false
}

func stripTerminate(reply string) string {
	trimmed := strings.TrimSpace(reply)
	lowered := strings.ToLower(trimmed)
	if idx := strings.LastIndex(lowered, "terminate"); idx >= 0 {
		rest := strings.TrimRight(lowered[idx+len("terminate"):], ".!? \t\n")
		if rest == "" {
			trimmed = strings.TrimRight(strings.TrimSpace(trimmed[:idx]), ".!?,;: \t\n")
		}
	}
	return trimmed
}
