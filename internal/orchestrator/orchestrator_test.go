package orchestrator

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"athena/internal/config"
	"athena/internal/conversation"
	"athena/internal/corrector"
	"athena/internal/executor"
	"athena/internal/inventory/store"
	"athena/internal/knowledge"
	"athena/internal/llm"
	"athena/internal/triage"
)

type harness struct {
	orch *Orchestrator
	st   *store.Store
	cfg  *config.Config
	out  *bytes.Buffer
}

func newHarness(t *testing.T, client llm.Client, mutate func(deps *Deps)) *harness {
	t.Helper()
	ctx := context.Background()

	cfg, _, err := config.Load(config.WithConfigDir("/nonexistent"))
	require.NoError(t, err)
	cfg.UserID = "test-user"

	st, err := store.Open(filepath.Join(t.TempDir(), "athena.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	patterns, err := triage.NewPatternStore("", nil, nil)
	require.NoError(t, err)
	analyzer := triage.NewAnalyzer(nil, nil)
	exec := executor.New(cfg, st, analyzer, nil, nil)
	kn, err := knowledge.Open("", nil, nil)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	deps := Deps{
		Config:    cfg,
		Store:     st,
		Conv:      conversation.NewManager(cfg, st, nil),
		Classify:  triage.NewClassifier(patterns, nil),
		Analyzer:  analyzer,
		Exec:      exec,
		Corrector: corrector.New(cfg, exec, nil, nil),
		Knowledge: kn,
		Client:    client,
		Out:       out,
	}
	if mutate != nil {
		mutate(&deps)
	}

	orch, err := New(ctx, deps)
	require.NoError(t, err)
	t.Cleanup(func() { orch.Close(context.Background()) })
	return &harness{orch: orch, st: st, cfg: cfg, out: out}
}

func TestProcessRequestRunsToolThenAnswers(t *testing.T) {
	ctx := context.Background()
	mock := llm.NewMock(
		`TOOL_CALL: {"tool": "execute_command", "args": {"target": "local", "command": "uptime", "reason": "check load"}}`,
		"The service is running again. TERMINATE",
	)
	h := newHarness(t, mock, nil)

	answer, err := h.orch.ProcessRequest(ctx, "MongoDB is down on prod-db-01", nil)
	require.NoError(t, err)
	assert.Equal(t, "The service is running again", answer)
	assert.Contains(t, h.out.String(), "P0")

	queries, err := h.st.SessionQueries(ctx, h.orch.sessionID)
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, "action", queries[0].ResponseType)
	assert.Equal(t, 1, queries[0].ActionsCount)

	actions, err := h.st.SessionActions(ctx, h.orch.sessionID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "uptime", actions[0].Command)
	assert.Equal(t, 0, actions[0].ExitCode)
}

func TestProcessRequestWithoutToolCalls(t *testing.T) {
	mock := llm.NewMock("Disk usage looks normal across the fleet. TERMINATE")
	h := newHarness(t, mock, nil)

	answer, err := h.orch.ProcessRequest(context.Background(), "how is disk usage looking", nil)
	require.NoError(t, err)
	assert.Equal(t, "Disk usage looks normal across the fleet", answer)
	assert.Equal(t, 1, mock.CallCount())
}

func TestDispatchLoopStopsAtTurnBudget(t *testing.T) {
	mock := llm.NewMock("still thinking", "more thinking", "even more")
	h := newHarness(t, mock, nil)
	h.cfg.Orchestrator.MaxConsecutiveAutoReply = 2

	answer, actions, err := h.orch.dispatchLoop(context.Background(), "q", triage.BehaviorFor(triage.P2))
	require.NoError(t, err)
	assert.Equal(t, "more thinking", answer)
	assert.Equal(t, 0, actions)
	assert.Equal(t, 2, mock.CallCount())
}

func TestDispatchLoopPausesAfterCommandBudget(t *testing.T) {
	call := `TOOL_CALL: {"tool": "execute_command", "args": {"target": "local", "command": "echo hi"}}`
	mock := llm.NewMock(call, call, "done. TERMINATE")
	h := newHarness(t, mock, nil)

	behavior := triage.BehaviorFor(triage.P0)
	behavior.MaxCommandsBeforePause = 1

	answer, actions, err := h.orch.dispatchLoop(context.Background(), "q", behavior)
	require.NoError(t, err)
	assert.Equal(t, "paused after 1 commands", answer)
	assert.Equal(t, 1, actions)
}

func TestDispatchLoopRequiresClient(t *testing.T) {
	h := newHarness(t, llm.NewMock(), nil)
	h.orch.client = nil
	_, _, err := h.orch.dispatchLoop(context.Background(), "q", triage.BehaviorFor(triage.P3))
	assert.Error(t, err)
}

func TestDispatchUnknownTool(t *testing.T) {
	h := newHarness(t, llm.NewMock(), nil)
	out := h.orch.dispatch(context.Background(), toolCall{Tool: "frobnicate", Args: Args{}}, triage.BehaviorFor(triage.P3))
	assert.Contains(t, out, "unknown tool")
}

func TestRunCommandDeniedWithoutConfirmer(t *testing.T) {
	h := newHarness(t, llm.NewMock(), nil)
	ctx := withBehavior(context.Background(), triage.BehaviorFor(triage.P3))

	out, err := h.orch.runCommand(ctx, "local", "echo hi", "test", false)
	require.NoError(t, err)
	assert.Equal(t, "command not confirmed by user", out)
}

func TestRunCommandConfirmerApproves(t *testing.T) {
	h := newHarness(t, llm.NewMock(), func(deps *Deps) {
		deps.Confirm = func(string) bool { return true }
	})
	ctx := withBehavior(context.Background(), triage.BehaviorFor(triage.P3))

	out, err := h.orch.runCommand(ctx, "local", "echo approved", "test", false)
	require.NoError(t, err)
	assert.Contains(t, out, "approved")
}

func TestRunCommandAutoConfirmsReadsOnHighPriority(t *testing.T) {
	h := newHarness(t, llm.NewMock(), nil)
	ctx := withBehavior(context.Background(), triage.BehaviorFor(triage.P0))

	out, err := h.orch.runCommand(ctx, "local", "uname", "test", false)
	require.NoError(t, err)
	assert.NotEqual(t, "command not confirmed by user", out)
	assert.Contains(t, out, "Linux")
}

func TestRunCommandRendersFailure(t *testing.T) {
	h := newHarness(t, llm.NewMock(), nil)
	ctx := withBehavior(context.Background(), triage.BehaviorFor(triage.P0))

	out, err := h.orch.runCommand(ctx, "local", "cat /nonexistent-athena-test", "test", false)
	require.NoError(t, err)
	assert.Contains(t, out, "Command failed")
	assert.Contains(t, out, "Exit code: 1")
}

func TestRunCommandSurfacesWithheldRewrite(t *testing.T) {
	h := newHarness(t, llm.NewMock(), func(deps *Deps) {
		deps.Corrector = corrector.New(deps.Config, deps.Exec, llm.NewMock("systemctl restart nginx"), nil)
	})
	ctx := withBehavior(context.Background(), triage.BehaviorFor(triage.P0))

	out, err := h.orch.runCommand(ctx, "local", "cat /nonexistent-athena-test", "test", false)
	require.NoError(t, err)
	assert.Contains(t, out, "Command failed")
	assert.Contains(t, out, "withheld")
	assert.Contains(t, out, "systemctl restart nginx")
}

func TestExecuteOnHostsParallelFanOut(t *testing.T) {
	h := newHarness(t, llm.NewMock(), nil)
	ctx := withBehavior(context.Background(), triage.BehaviorFor(triage.P0))

	out := h.orch.dispatch(ctx, toolCall{Tool: "execute_on_hosts", Args: Args{
		"hosts": "local, local", "command": "uname",
	}}, triage.BehaviorFor(triage.P0))

	assert.Contains(t, out, "Linux")
	assert.Contains(t, out, "2/2 hosts succeeded")

	actions, err := h.st.SessionActions(context.Background(), h.orch.sessionID)
	require.NoError(t, err)
	assert.Len(t, actions, 2)
}

func TestExecuteOnHostsReportsPerHostFailures(t *testing.T) {
	h := newHarness(t, llm.NewMock(), nil)
	ctx := withBehavior(context.Background(), triage.BehaviorFor(triage.P2))

	out := h.orch.dispatch(ctx, toolCall{Tool: "execute_on_hosts", Args: Args{
		"hosts": "local", "command": "cat /nonexistent-athena-batch",
	}}, triage.BehaviorFor(triage.P2))

	assert.Contains(t, out, "failed (exit 1)")
	assert.Contains(t, out, "0/1 hosts succeeded")
}

func TestExecuteOnHostsDeniedWithoutConfirmer(t *testing.T) {
	h := newHarness(t, llm.NewMock(), nil)
	ctx := withBehavior(context.Background(), triage.BehaviorFor(triage.P3))

	out := h.orch.dispatch(ctx, toolCall{Tool: "execute_on_hosts", Args: Args{
		"hosts": "web01,web02", "command": "uname",
	}}, triage.BehaviorFor(triage.P3))

	assert.Equal(t, "command not confirmed by user", out)
}

func TestRegistryCoversCoreTools(t *testing.T) {
	h := newHarness(t, llm.NewMock(), nil)
	names := h.orch.Registry().Names()

	for _, want := range []string{
		"list_hosts", "scan_host", "get_infrastructure_context", "audit_host",
		"check_permissions", "execute_command", "execute_on_hosts", "service_control", "docker_exec",
		"kubectl_exec", "read_remote_file", "write_remote_file", "tail_logs",
		"glob_files", "grep_files", "find_file", "disk_info", "memory_info",
		"process_list", "network_connections", "web_search", "web_fetch",
		"ask_user", "remember_skill", "recall_skill", "record_incident",
		"search_knowledge", "get_solution_suggestion", "graph_stats",
		"add_route", "analyze_security_logs",
	} {
		assert.Contains(t, names, want)
	}
}

func TestKnowledgeToolsRoundTrip(t *testing.T) {
	ctx := withBehavior(context.Background(), triage.BehaviorFor(triage.P3))
	h := newHarness(t, llm.NewMock(), nil)

	out := h.orch.dispatch(ctx, toolCall{Tool: "remember_skill", Args: Args{
		"name": "Restart-Mongo", "content": "systemctl restart mongod, then check the replica set",
	}}, triage.BehaviorFor(triage.P3))
	assert.Equal(t, "skill stored", out)

	out = h.orch.dispatch(ctx, toolCall{Tool: "recall_skill", Args: Args{"name": "restart-mongo"}}, triage.BehaviorFor(triage.P3))
	assert.Contains(t, out, "systemctl restart mongod")

	out = h.orch.dispatch(ctx, toolCall{Tool: "graph_stats", Args: Args{}}, triage.BehaviorFor(triage.P3))
	assert.Contains(t, out, `"skills":1`)
}

func TestKnowledgeToolsUnconfigured(t *testing.T) {
	h := newHarness(t, llm.NewMock(), func(deps *Deps) { deps.Knowledge = nil })
	out := h.orch.dispatch(context.Background(), toolCall{Tool: "graph_stats", Args: Args{}}, triage.BehaviorFor(triage.P3))
	assert.Contains(t, out, "not configured")
}

func TestAskUserTool(t *testing.T) {
	h := newHarness(t, llm.NewMock(), func(deps *Deps) {
		deps.AskUser = func(prompt string) (string, error) { return "use the replica", nil }
	})
	out := h.orch.dispatch(context.Background(), toolCall{Tool: "ask_user", Args: Args{"prompt": "which db?"}}, triage.BehaviorFor(triage.P3))
	assert.Equal(t, "use the replica", out)
}

func TestServiceControlRejectsUnknownAction(t *testing.T) {
	h := newHarness(t, llm.NewMock(), nil)
	out := h.orch.dispatch(context.Background(), toolCall{Tool: "service_control", Args: Args{
		"host": "local", "service": "nginx", "action": "explode",
	}}, triage.BehaviorFor(triage.P3))
	assert.Contains(t, out, "unsupported service action")
}

func TestWebSearchUnconfigured(t *testing.T) {
	h := newHarness(t, llm.NewMock(), nil)
	out := h.orch.dispatch(context.Background(), toolCall{Tool: "web_search", Args: Args{"query": "mongod crash"}}, triage.BehaviorFor(triage.P3))
	assert.Contains(t, out, "not configured")
}

func TestParseToolCall(t *testing.T) {
	call, ok := parseToolCall(`TOOL_CALL: {"tool": "disk_info", "args": {"host": "db-01"}}`)
	require.True(t, ok)
	assert.Equal(t, "disk_info", call.Tool)
	assert.Equal(t, "db-01", call.Args.String("host"))

	call, ok = parseToolCall("I will check the disk first.\nTOOL_CALL: {\"tool\": \"disk_info\", \"args\": {}}")
	require.True(t, ok)
	assert.Equal(t, "disk_info", call.Tool)

	// Sloppy JSON gets repaired.
	call, ok = parseToolCall(`TOOL_CALL: {'tool': 'list_hosts', 'args': {}}`)
	require.True(t, ok)
	assert.Equal(t, "list_hosts", call.Tool)

	_, ok = parseToolCall("just prose, no call")
	assert.False(t, ok)

	_, ok = parseToolCall(`TOOL_CALL: {"args": {}}`)
	assert.False(t, ok)

	call, ok = parseToolCall(`TOOL_CALL: {"tool": "list_hosts"}`)
	require.True(t, ok)
	assert.NotNil(t, call.Args)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, isTerminal("All fixed. TERMINATE"))
	assert.True(t, isTerminal("TERMINATE"))
	assert.True(t, isTerminal("terminate."))
	assert.True(t, isTerminal("Task complete, nothing left to terminate here"))
	assert.False(t, isTerminal("I will terminate the stuck process now"))
	assert.False(t, isTerminal("still working on it"))
}

func TestStripTerminate(t *testing.T) {
	assert.Equal(t, "All fixed", stripTerminate("All fixed. TERMINATE"))
	assert.Equal(t, "", stripTerminate("TERMINATE"))
	assert.Equal(t, "Done here", stripTerminate("Done here. terminate."))
	assert.Equal(t, "no marker at all", stripTerminate("no marker at all"))
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "'plain'", shellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

func TestArgsHelpers(t *testing.T) {
	args := Args{"n": float64(7), "s": " x ", "b": true, "bs": "TRUE"}
	assert.Equal(t, 7, args.Int("n", 0))
	assert.Equal(t, 3, args.Int("missing", 3))
	assert.Equal(t, "x", args.String("s"))
	assert.True(t, args.Bool("b", false))
	assert.True(t, args.Bool("bs", false))
	assert.True(t, args.Bool("missing", true))
}
