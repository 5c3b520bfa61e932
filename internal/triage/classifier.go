package triage

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"athena/internal/logging"
)

// Priority is the incident severity driving the behavior profile.
type Priority int

const (
	P0 Priority = iota // active outage
	P1                 // degradation or imminent failure
	P2                 // noticeable but not urgent
	P3                 // routine
)

func (p Priority) String() string { return fmt.Sprintf("P%d", int(p)) }

// Intent describes what the user wants from the request.
type Intent string

const (
	IntentQuery    Intent = "query"
	IntentAction   Intent = "action"
	IntentAnalysis Intent = "analysis"
)

// Result is the outcome of request triage.
type Result struct {
	Priority            Priority `json:"priority"`
	Intent              Intent   `json:"intent"`
	Confidence          float64  `json:"confidence"`
	Signals             []string `json:"signals,omitempty"`
	Reasoning           string   `json:"reasoning,omitempty"`
	EscalationRequired  bool     `json:"escalation_required"`
	EnvironmentDetected string   `json:"environment_detected,omitempty"`
	ServiceDetected     string   `json:"service_detected,omitempty"`
	HostDetected        string   `json:"host_detected,omitempty"`
}

// SystemState is optional live telemetry that amplifies triage.
type SystemState struct {
	// HostAccessible records reachability per hostname; false forces P0
	// for a detected host.
	HostAccessible map[string]bool
	DiskUsagePct   float64
	MemoryUsagePct float64
	LoadAverage    float64
	CPUCount       int
}

// Priority keyword lexicons, scanned most severe first.
var priorityKeywords = []struct {
	priority Priority
	words    []string
}{
	{P0, []string{
		"down", "outage", "data loss", "breach", "unreachable", "crashed",
		"cannot access", "can't access", "not responding", "emergency",
		"corrupted", "all servers", "production is broken",
	}},
	{P1, []string{
		"degraded", "vulnerability", "imminent", "failing", "almost full",
		"high error rate", "errors", "memory leak", "certificate expired",
		"expiring", "about to",
	}},
	{P2, []string{
		"slow", "high latency", "warning", "intermittent", "flaky",
		"needs attention", "sometimes",
	}},
}

var intentKeywords = map[Intent][]string{
	IntentQuery: {
		"list", "show", "what ", "which", "how many", "status of", "display",
		"get ", "tell me", "when ",
	},
	IntentAnalysis: {
		"why", "analyze", "analyse", "investigate", "diagnose", "root cause",
		"audit", "compare", "explain",
	},
	// Action verbs are recorded as signals; action is also the default
	// when nothing else matches, since infra requests skew imperative.
	IntentAction: {
		"restart", "stop ", "start ", "fix", "deploy", "update", "install",
		"delete", "clean", "rotate", "kill", "reload", "scale", "apply",
		"rollback",
	},
}

// Environment names ordered so "preprod" wins over its "prod" substring.
var environmentNames = []string{"preprod", "prod", "staging", "dev"}

var knownServices = []string{
	"mongodb", "postgresql", "postgres", "mysql", "mariadb", "redis",
	"memcached", "nginx", "apache", "haproxy", "kafka", "rabbitmq",
	"elasticsearch", "kubernetes", "docker", "etcd", "consul", "vault",
	"jenkins", "prometheus", "grafana",
}

// hostNamePattern matches dash-separated infrastructure names such as
// prod-db-01.
var hostNamePattern = regexp.MustCompile(`\b[a-z][a-z0-9]*(?:-[a-z0-9]+)+\b`)

// Broad-impact phrases feeding the impact multiplier.
var impactPhrases = []string{
	"all ", "every ", "entire ", "customers", "users", "widespread",
	"company-wide", "multiple", "everyone",
}

// State amplifier thresholds. Disk and memory pressure escalate before
// they page; load is relative to core count.
const (
	diskCriticalPct   = 90
	diskWarningPct    = 80
	memoryCriticalPct = 90
	memoryWarningPct  = 80
)

// Classifier triages requests with keyword lexicons, a state amplifier and
// an impact multiplier. Classification is pure computation; no I/O.
type Classifier struct {
	patterns *PatternStore
	logger   logging.Logger
}

// NewClassifier builds a Classifier. patterns may be nil to disable the
// learned-pattern short-circuit.
func NewClassifier(patterns *PatternStore, logger logging.Logger) *Classifier {
	return &Classifier{patterns: patterns, logger: logging.OrNop(logger)}
}

// Classify triages one request. state may be nil.
func (c *Classifier) Classify(query string, state *SystemState) Result {
	lowered := strings.ToLower(query)
	var signals []string

	// Keyword tier.
	priority := P3
	matched := false
	for _, tier := range priorityKeywords {
		for _, word := range tier.words {
			if strings.Contains(lowered, word) {
				priority = tier.priority
				signals = append(signals, fmt.Sprintf("keyword %q -> %s", word, tier.priority))
				matched = true
				break
			}
		}
		if matched {
			break
		}
	}

	intent := detectIntent(lowered, &signals)
	environment := detectEnvironment(lowered)
	if environment != "" {
		signals = append(signals, "environment "+environment)
	}
	service := detectService(lowered)
	if service != "" {
		signals = append(signals, "service "+service)
	}
	host := detectHost(lowered, service)
	if host != "" {
		signals = append(signals, "host "+host)
	}

	// Environment amplifier.
	if environment == "prod" && priority > P1 {
		priority = P1
		signals = append(signals, "prod floors priority to P1")
	}
	if state != nil {
		priority = amplifyFromState(priority, host, state, &signals)
	}

	// Impact multiplier.
	multiplier := 1.0
	for _, phrase := range impactPhrases {
		if strings.Contains(lowered, phrase) {
			multiplier += 0.25
			signals = append(signals, "impact phrase "+strings.TrimSpace(phrase))
		}
	}
	confidence := 0.5 + 0.1*float64(len(signals))
	if multiplier >= 1.5 && priority > P0 {
		priority--
		confidence += 0.1
		signals = append(signals, fmt.Sprintf("impact multiplier %.2f escalates one level", multiplier))
	}
	if confidence > 0.95 {
		confidence = 0.95
	}

	sort.Strings(signals)
	return Result{
		Priority:            priority,
		Intent:              intent,
		Confidence:          confidence,
		Signals:             signals,
		Reasoning:           fmt.Sprintf("%d signals, impact %.2f", len(signals), multiplier),
		EscalationRequired:  priority == P0,
		EnvironmentDetected: environment,
		ServiceDetected:     service,
		HostDetected:        host,
	}
}

func detectIntent(lowered string, signals *[]string) Intent {
	scores := map[Intent]int{}
	for intent, words := range intentKeywords {
		for _, word := range words {
			if strings.Contains(lowered, word) {
				scores[intent]++
			}
		}
	}
	// Analysis beats query beats action on ties: "why is the list slow"
	// asks for diagnosis, not a listing.
	best := IntentAction
	switch {
	case scores[IntentAnalysis] > 0 && scores[IntentAnalysis] >= scores[IntentQuery]:
		best = IntentAnalysis
	case scores[IntentQuery] > 0 && scores[IntentQuery] >= scores[IntentAction]:
		best = IntentQuery
	}
	if scores[best] > 0 {
		*signals = append(*signals, "intent "+string(best))
	}
	return best
}

func detectEnvironment(lowered string) string {
	for _, env := range environmentNames {
		if strings.Contains(lowered, env) {
			return env
		}
	}
	return ""
}

func detectService(lowered string) string {
	for _, service := range knownServices {
		if strings.Contains(lowered, service) {
			return service
		}
	}
	return ""
}

func detectHost(lowered, service string) string {
	for _, candidate := range hostNamePattern.FindAllString(lowered, -1) {
		if candidate != service {
			return candidate
		}
	}
	return ""
}

func amplifyFromState(priority Priority, host string, state *SystemState, signals *[]string) Priority {
	if host != "" {
		if accessible, tracked := state.HostAccessible[host]; tracked && !accessible {
			*signals = append(*signals, "host "+host+" inaccessible")
			return P0
		}
	}
	floor := func(p Priority, reason string) {
		if priority > p {
			priority = p
			*signals = append(*signals, reason)
		}
	}
	switch {
	case state.DiskUsagePct >= diskCriticalPct:
		floor(P1, fmt.Sprintf("disk at %.0f%%", state.DiskUsagePct))
	case state.DiskUsagePct >= diskWarningPct:
		floor(P2, fmt.Sprintf("disk at %.0f%%", state.DiskUsagePct))
	}
	switch {
	case state.MemoryUsagePct >= memoryCriticalPct:
		floor(P1, fmt.Sprintf("memory at %.0f%%", state.MemoryUsagePct))
	case state.MemoryUsagePct >= memoryWarningPct:
		floor(P2, fmt.Sprintf("memory at %.0f%%", state.MemoryUsagePct))
	}
	if state.CPUCount > 0 {
		switch {
		case state.LoadAverage >= 2*float64(state.CPUCount):
			floor(P1, fmt.Sprintf("load %.1f on %d cores", state.LoadAverage, state.CPUCount))
		case state.LoadAverage >= float64(state.CPUCount):
			floor(P2, fmt.Sprintf("load %.1f on %d cores", state.LoadAverage, state.CPUCount))
		}
	}
	return priority
}
