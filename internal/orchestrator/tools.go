package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"athena/internal/knowledge"
	"athena/internal/risk"
)

const scanCacheTTL = time.Hour

// buildRegistry wires the full tool schema over the orchestrator's
// collaborators.
func (o *Orchestrator) buildRegistry() *Registry {
	r := NewRegistry()

	// Inventory.
	r.Register(Tool{Name: "list_hosts", Description: "list every inventoried host", Run: o.toolListHosts})
	r.Register(Tool{Name: "scan_host", Description: "collect basic facts about one host (cached)", Run: o.toolScanHost})
	r.Register(Tool{Name: "get_infrastructure_context", Description: "summarize the local machine and the inventory", Run: o.toolInfraContext})
	r.Register(Tool{Name: "audit_host", Description: "run a read-only audit on a target", Run: o.toolAuditHost})
	r.Register(Tool{Name: "check_permissions", Description: "show the executing user and groups on a target", Run: o.toolCheckPermissions})

	// Execution.
	r.Register(Tool{Name: "execute_command", Description: "run a shell command on a target", Write: true, Run: o.toolExecuteCommand})
	r.Register(Tool{Name: "execute_on_hosts", Description: "run one shell command on several hosts", Write: true, Run: o.toolExecuteOnHosts})
	r.Register(Tool{Name: "service_control", Description: "start/stop/restart/reload/status a systemd service", Write: true, Run: o.toolServiceControl})
	r.Register(Tool{Name: "docker_exec", Description: "run a command inside a docker container", Write: true, Run: o.toolDockerExec})
	r.Register(Tool{Name: "kubectl_exec", Description: "run a command inside a kubernetes pod", Write: true, Run: o.toolKubectlExec})

	// Files.
	r.Register(Tool{Name: "read_remote_file", Description: "read a file from a host", Run: o.toolReadFile})
	r.Register(Tool{Name: "write_remote_file", Description: "write a file on a host, backing up the old one", Write: true, Run: o.toolWriteFile})
	r.Register(Tool{Name: "tail_logs", Description: "tail a log file, optionally filtered", Run: o.toolTailLogs})
	r.Register(Tool{Name: "glob_files", Description: "list files matching a glob pattern", Run: o.toolGlobFiles})
	r.Register(Tool{Name: "grep_files", Description: "search file contents under a path", Run: o.toolGrepFiles})
	r.Register(Tool{Name: "find_file", Description: "find a file by name under a path", Run: o.toolFindFile})

	// System info.
	r.Register(Tool{Name: "disk_info", Description: "disk usage on a host", Run: o.toolDiskInfo})
	r.Register(Tool{Name: "memory_info", Description: "memory usage on a host", Run: o.toolMemoryInfo})
	r.Register(Tool{Name: "process_list", Description: "list processes on a host", Run: o.toolProcessList})
	r.Register(Tool{Name: "network_connections", Description: "list open sockets on a host", Run: o.toolNetworkConnections})

	// Web, knowledge, interaction.
	r.Register(Tool{Name: "web_search", Description: "search the web", Run: o.toolWebSearch})
	r.Register(Tool{Name: "web_fetch", Description: "fetch a URL and return its text", Run: o.toolWebFetch})
	r.Register(Tool{Name: "ask_user", Description: "ask the user a question", Run: o.toolAskUser})
	r.Register(Tool{Name: "remember_skill", Description: "store a reusable procedure", Run: o.toolRememberSkill})
	r.Register(Tool{Name: "recall_skill", Description: "recall a stored procedure by name", Run: o.toolRecallSkill})
	r.Register(Tool{Name: "record_incident", Description: "record an incident and its resolution", Run: o.toolRecordIncident})
	r.Register(Tool{Name: "search_knowledge", Description: "search past incidents and skills", Run: o.toolSearchKnowledge})
	r.Register(Tool{Name: "get_solution_suggestion", Description: "suggest a fix from past incidents", Run: o.toolSolutionSuggestion})
	r.Register(Tool{Name: "graph_stats", Description: "knowledge store statistics", Run: o.toolGraphStats})

	// Network maintenance.
	r.Register(Tool{Name: "add_route", Description: "add a static network route on a host", Write: true, Run: o.toolAddRoute})
	r.Register(Tool{Name: "analyze_security_logs", Description: "summarize authentication failures on a host", Run: o.toolAnalyzeSecurityLogs})

	return r
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (o *Orchestrator) requireKnowledge() error {
	if o.knowledge == nil {
		return fmt.Errorf("knowledge store is not configured")
	}
	return nil
}

func requireArgs(args Args, keys ...string) error {
	for _, key := range keys {
		if args.String(key) == "" {
			return fmt.Errorf("missing required argument %q", key)
		}
	}
	return nil
}

func (o *Orchestrator) toolListHosts(ctx context.Context, _ Args) (string, error) {
	hosts, err := o.store.ListHosts(ctx)
	if err != nil {
		return "", err
	}
	if len(hosts) == 0 {
		return "no hosts in inventory", nil
	}
	var b strings.Builder
	for _, h := range hosts {
		fmt.Fprintf(&b, "%s", h.Hostname)
		if h.IP != "" {
			fmt.Fprintf(&b, " (%s)", h.IP)
		}
		if h.Environment != "" {
			fmt.Fprintf(&b, " env=%s", h.Environment)
		}
		if h.Service != "" {
			fmt.Fprintf(&b, " service=%s", h.Service)
		}
		fmt.Fprintf(&b, " status=%s\n", h.Status)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (o *Orchestrator) toolScanHost(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "hostname"); err != nil {
		return "", err
	}
	hostname := args.String("hostname")

	host, err := o.store.GetHostByName(ctx, hostname)
	if err != nil {
		return "", err
	}
	if cached, ok, err := o.store.GetScanCache(ctx, host.ID, "basic"); err == nil && ok {
		return cached, nil
	}

	out, err := o.runCommand(ctx, hostname, "uname -a; uptime; df -h /; free -m", "scan host", false)
	if err != nil {
		return "", err
	}
	if err := o.store.SaveScanCache(ctx, host.ID, "basic", out, scanCacheTTL); err != nil {
		o.logger.Warn("orchestrator: scan cache write failed: %v", err)
	}
	return out, nil
}

func (o *Orchestrator) toolInfraContext(ctx context.Context, _ Args) (string, error) {
	stats, err := o.store.GetStats(ctx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "hosts: %d, relations: %d (%d validated), cached scans: %d\n",
		stats.TotalHosts, stats.TotalRelations, stats.ValidatedRelations, stats.CachedScans)
	envs := make([]string, 0, len(stats.ByEnvironment))
	for env := range stats.ByEnvironment {
		envs = append(envs, env)
	}
	sort.Strings(envs)
	for _, env := range envs {
		fmt.Fprintf(&b, "  %s: %d hosts\n", env, stats.ByEnvironment[env])
	}

	if o.scanner != nil {
		snapshot, err := o.scanner.Current(ctx)
		if err == nil {
			for _, entry := range snapshot.Categories["system"] {
				fmt.Fprintf(&b, "local %s: %s\n", entry.Key, firstLine(entry.Value))
			}
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (o *Orchestrator) toolAuditHost(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "target"); err != nil {
		return "", err
	}
	return o.runCommand(ctx, args.String("target"),
		"uptime; who; df -h; systemctl --failed --no-pager 2>/dev/null | head -n 20", "audit host", false)
}

func (o *Orchestrator) toolCheckPermissions(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "target"); err != nil {
		return "", err
	}
	return o.runCommand(ctx, args.String("target"), "id", "check permissions", false)
}

func (o *Orchestrator) toolExecuteCommand(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "target", "command"); err != nil {
		return "", err
	}
	command := args.String("command")
	isWrite := risk.Assess(command).Level != risk.Low
	return o.runCommand(ctx, args.String("target"), command, args.String("reason"), isWrite)
}

func (o *Orchestrator) toolExecuteOnHosts(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "hosts", "command"); err != nil {
		return "", err
	}
	var hosts []string
	for _, host := range strings.Split(args.String("hosts"), ",") {
		if host = strings.TrimSpace(host); host != "" {
			hosts = append(hosts, host)
		}
	}
	if len(hosts) == 0 {
		return "", fmt.Errorf("no hosts given")
	}
	command := args.String("command")
	isWrite := risk.Assess(command).Level != risk.Low
	return o.runBatch(ctx, hosts, command, args.String("reason"), isWrite)
}

var serviceActions = map[string]bool{
	"start": true, "stop": true, "restart": true, "reload": true, "status": true,
}

func (o *Orchestrator) toolServiceControl(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "host", "service", "action"); err != nil {
		return "", err
	}
	action := strings.ToLower(args.String("action"))
	if !serviceActions[action] {
		return "", fmt.Errorf("unsupported service action %q", action)
	}
	command := fmt.Sprintf("systemctl %s %s", action, shellQuote(args.String("service")))
	return o.runCommand(ctx, args.String("host"), command, "service control", action != "status")
}

func (o *Orchestrator) toolDockerExec(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "container", "command"); err != nil {
		return "", err
	}
	target := args.String("host")
	if target == "" {
		target = "local"
	}
	command := fmt.Sprintf("docker exec %s sh -c %s",
		shellQuote(args.String("container")), shellQuote(args.String("command")))
	return o.runCommand(ctx, target, command, "docker exec", true)
}

func (o *Orchestrator) toolKubectlExec(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "namespace", "pod", "command"); err != nil {
		return "", err
	}
	command := fmt.Sprintf("kubectl exec -n %s %s -- sh -c %s",
		shellQuote(args.String("namespace")), shellQuote(args.String("pod")), shellQuote(args.String("command")))
	return o.runCommand(ctx, "local", command, "kubectl exec", true)
}

func (o *Orchestrator) toolReadFile(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "host", "path"); err != nil {
		return "", err
	}
	command := "cat " + shellQuote(args.String("path"))
	if lines := args.Int("lines", 0); lines > 0 {
		command = fmt.Sprintf("head -n %d %s", lines, shellQuote(args.String("path")))
	}
	return o.runCommand(ctx, args.String("host"), command, "read file", false)
}

func (o *Orchestrator) toolWriteFile(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "host", "path"); err != nil {
		return "", err
	}
	path := args.String("path")
	content := args.String("content")
	command := ""
	if args.Bool("backup", true) {
		command = fmt.Sprintf("cp -p %s %s.bak 2>/dev/null; ", shellQuote(path), shellQuote(path))
	}
	command += fmt.Sprintf("printf '%%s' %s > %s", shellQuote(content), shellQuote(path))
	return o.runCommand(ctx, args.String("host"), command, "write file", true)
}

func (o *Orchestrator) toolTailLogs(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "host", "path"); err != nil {
		return "", err
	}
	command := fmt.Sprintf("tail -n %d %s", args.Int("lines", 100), shellQuote(args.String("path")))
	if pattern := args.String("grep"); pattern != "" {
		command += " | grep -F " + shellQuote(pattern)
	}
	return o.runCommand(ctx, args.String("host"), command, "tail logs", false)
}

func (o *Orchestrator) toolGlobFiles(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "host", "pattern"); err != nil {
		return "", err
	}
	dir := args.String("path")
	if dir == "" {
		dir = "."
	}
	// The pattern must stay unquoted for the shell to expand it.
	command := fmt.Sprintf("ls -1d %s/%s 2>/dev/null | head -n 100", shellQuote(dir), args.String("pattern"))
	return o.runCommand(ctx, args.String("host"), command, "glob files", false)
}

func (o *Orchestrator) toolGrepFiles(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "host", "pattern", "path"); err != nil {
		return "", err
	}
	command := fmt.Sprintf("grep -rn -F %s %s 2>/dev/null | head -n 50",
		shellQuote(args.String("pattern")), shellQuote(args.String("path")))
	return o.runCommand(ctx, args.String("host"), command, "grep files", false)
}

func (o *Orchestrator) toolFindFile(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "host", "name"); err != nil {
		return "", err
	}
	dir := args.String("path")
	if dir == "" {
		dir = "."
	}
	command := fmt.Sprintf("find %s -name %s 2>/dev/null | head -n 50",
		shellQuote(dir), shellQuote(args.String("name")))
	return o.runCommand(ctx, args.String("host"), command, "find file", false)
}

func (o *Orchestrator) toolDiskInfo(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "host"); err != nil {
		return "", err
	}
	return o.runCommand(ctx, args.String("host"), "df -h", "disk info", false)
}

func (o *Orchestrator) toolMemoryInfo(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "host"); err != nil {
		return "", err
	}
	return o.runCommand(ctx, args.String("host"), "free -m", "memory info", false)
}

func (o *Orchestrator) toolProcessList(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "host"); err != nil {
		return "", err
	}
	sortBy := "-%cpu"
	if strings.EqualFold(args.String("sort_by"), "memory") {
		sortBy = "-%mem"
	}
	command := fmt.Sprintf("ps aux --sort=%s | head -n 20", sortBy)
	if filter := args.String("filter"); filter != "" {
		command = fmt.Sprintf("ps aux --sort=%s | grep -F %s | head -n 20", sortBy, shellQuote(filter))
	}
	return o.runCommand(ctx, args.String("host"), command, "process list", false)
}

func (o *Orchestrator) toolNetworkConnections(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "host"); err != nil {
		return "", err
	}
	command := "ss -tuan | head -n 50"
	if port := args.String("port"); port != "" {
		command = fmt.Sprintf("ss -tuan | grep -F :%s | head -n 50", port)
	}
	return o.runCommand(ctx, args.String("host"), command, "network connections", false)
}

func (o *Orchestrator) toolWebSearch(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "query"); err != nil {
		return "", err
	}
	if o.webSearch == nil {
		return "", fmt.Errorf("web search is not configured")
	}
	return o.webSearch(ctx, args.String("query"))
}

const webFetchLimit = 8000

func (o *Orchestrator) toolWebFetch(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "url"); err != nil {
		return "", err
	}
	url := args.String("url")
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", fmt.Errorf("only http and https urls are supported")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch failed: %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()
	text := strings.Join(strings.Fields(doc.Text()), " ")
	if runes := []rune(text); len(runes) > webFetchLimit {
		text = string(runes[:webFetchLimit])
	}
	return text, nil
}

func (o *Orchestrator) toolAskUser(_ context.Context, args Args) (string, error) {
	if err := requireArgs(args, "prompt"); err != nil {
		return "", err
	}
	if o.askUser == nil {
		return "", fmt.Errorf("no interactive user is available")
	}
	return o.askUser(args.String("prompt"))
}

func (o *Orchestrator) toolRememberSkill(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "name", "content"); err != nil {
		return "", err
	}
	if err := o.requireKnowledge(); err != nil {
		return "", err
	}
	if err := o.knowledge.RememberSkill(ctx, args.String("name"), args.String("content")); err != nil {
		return "", err
	}
	return "skill stored", nil
}

func (o *Orchestrator) toolRecallSkill(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "name"); err != nil {
		return "", err
	}
	if err := o.requireKnowledge(); err != nil {
		return "", err
	}
	skill, err := o.knowledge.RecallSkill(ctx, args.String("name"))
	if err != nil {
		return "", err
	}
	if skill == nil {
		return "no such skill", nil
	}
	return skill.Content, nil
}

func (o *Orchestrator) toolRecordIncident(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "title", "resolution"); err != nil {
		return "", err
	}
	if err := o.requireKnowledge(); err != nil {
		return "", err
	}
	id, err := o.knowledge.RecordIncident(ctx, knowledge.Incident{
		Title:       args.String("title"),
		Description: args.String("description"),
		Service:     args.String("service"),
		Host:        args.String("host"),
		Resolution:  args.String("resolution"),
	})
	if err != nil {
		return "", err
	}
	return "incident recorded: " + id, nil
}

func (o *Orchestrator) toolSearchKnowledge(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "query"); err != nil {
		return "", err
	}
	if err := o.requireKnowledge(); err != nil {
		return "", err
	}
	hits, err := o.knowledge.SearchKnowledge(ctx, args.String("query"), args.Int("limit", 5))
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "no matching knowledge", nil
	}
	var b strings.Builder
	for _, hit := range hits {
		fmt.Fprintf(&b, "[%s %.2f] %s\n", hit.Kind, hit.Similarity, firstLine(hit.Content))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (o *Orchestrator) toolSolutionSuggestion(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "problem"); err != nil {
		return "", err
	}
	if err := o.requireKnowledge(); err != nil {
		return "", err
	}
	suggestion, err := o.knowledge.GetSolutionSuggestion(ctx, args.String("problem"))
	if err != nil {
		return "", err
	}
	if suggestion == "" {
		return "no similar incident on record", nil
	}
	return suggestion, nil
}

func (o *Orchestrator) toolGraphStats(_ context.Context, _ Args) (string, error) {
	if err := o.requireKnowledge(); err != nil {
		return "", err
	}
	stats := o.knowledge.GraphStats()
	payload, err := json.Marshal(stats)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

var routeTargetPattern = regexp.MustCompile(`^[0-9a-fA-F.:/]+$`)

func (o *Orchestrator) toolAddRoute(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "host", "destination", "gateway"); err != nil {
		return "", err
	}
	destination := args.String("destination")
	gateway := args.String("gateway")
	if !routeTargetPattern.MatchString(destination) || !routeTargetPattern.MatchString(gateway) {
		return "", fmt.Errorf("destination and gateway must be plain addresses")
	}
	command := fmt.Sprintf("ip route add %s via %s", destination, gateway)
	return o.runCommand(ctx, args.String("host"), command, "add route", true)
}

var failedLoginPattern = regexp.MustCompile(`(?i)failed password for (?:invalid user )?(\S+) from (\S+)`)

func (o *Orchestrator) toolAnalyzeSecurityLogs(ctx context.Context, args Args) (string, error) {
	if err := requireArgs(args, "host"); err != nil {
		return "", err
	}
	lines := args.Int("lines", 200)
	command := fmt.Sprintf("tail -n %d /var/log/auth.log 2>/dev/null || tail -n %d /var/log/secure", lines, lines)
	out, err := o.runCommand(ctx, args.String("host"), command, "analyze security logs", false)
	if err != nil {
		return "", err
	}

	bySource := map[string]int{}
	for _, match := range failedLoginPattern.FindAllStringSubmatch(out, -1) {
		bySource[match[2]]++
	}
	if len(bySource) == 0 {
		return "no authentication failures found", nil
	}
	sources := make([]string, 0, len(bySource))
	for src := range bySource {
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool {
		if bySource[sources[i]] != bySource[sources[j]] {
			return bySource[sources[i]] > bySource[sources[j]]
		}
		return sources[i] < sources[j]
	})
	var b strings.Builder
	fmt.Fprintf(&b, "authentication failures by source:\n")
	for _, src := range sources {
		fmt.Fprintf(&b, "  %s: %d\n", src, bySource[src])
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
