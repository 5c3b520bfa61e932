// Package relations infers host-to-host relationships from naming
// conventions, group membership, and service roles. All heuristics run and
// their results are unioned; an LLM pass only supplements thin heuristic
// output and its confidences are clamped below every heuristic's.
package relations

import (
	"context"
	"sort"
	"strings"

	"athena/internal/config"
	"athena/internal/inventory/store"
	"athena/internal/llm"
	"athena/internal/logging"
)

// HostInfo is the minimal host view the classifier needs. Only Hostname is
// required.
type HostInfo struct {
	Hostname    string
	Environment string
	Groups      []string
	Service     string
	Role        string
}

// Suggestion is one proposed relation, hostname-addressed so it can feed
// store.AddRelationsBatch directly.
type Suggestion struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// Existing identifies an already-stored relation for filtering.
type Existing struct {
	Source string
	Target string
	Type   string
}

// Classifier runs the heuristic battery and the optional LLM pass.
type Classifier struct {
	minConfidence float64
	useLLM        bool
	client        llm.Client
	logger        logging.Logger
}

// New builds a Classifier from configuration. client may be nil; the LLM
// pass is then skipped regardless of use_llm.
func New(cfg *config.Config, client llm.Client, logger logging.Logger) *Classifier {
	c := &Classifier{
		minConfidence: cfg.Relations.MinConfidence,
		useLLM:        cfg.Relations.UseLLM,
		logger:        logging.OrNop(logger),
	}
	if client != nil {
		c.client = llm.WithDeadline(client, cfg.LLMTimeout(), c.logger)
	}
	return c
}

// Tunables shared by the heuristics.
const (
	starTopologyThreshold = 20 // all-pairs above this switches to a star
	dependencyPairBudget  = 5  // relations per dependency tuple before star fallback
	llmTriggerThreshold   = 5  // heuristic count below which the LLM pass runs
	llmConfidenceCeiling  = 0.75
	llmHostSummaryLimit   = 50
)

// Classify proposes relations between hosts. Results are deduplicated,
// filtered against existing relations and the minimum confidence, and
// sorted by confidence descending.
func (c *Classifier) Classify(ctx context.Context, hosts []HostInfo, existing []Existing) []Suggestion {
	normalized := make([]HostInfo, 0, len(hosts))
	for _, h := range hosts {
		h.Hostname = strings.ToLower(strings.TrimSpace(h.Hostname))
		if h.Hostname != "" {
			normalized = append(normalized, h)
		}
	}

	var suggestions []Suggestion
	suggestions = append(suggestions, clusterNamingPairs(normalized)...)
	suggestions = append(suggestions, replicaNamingPairs(normalized)...)
	suggestions = append(suggestions, sharedGroupPairs(normalized)...)
	suggestions = append(suggestions, serviceDependencyPairs(normalized)...)

	if c.useLLM && c.client != nil && len(suggestions) < llmTriggerThreshold && len(normalized) > 2 {
		suggestions = append(suggestions, c.llmSuggestions(ctx, normalized)...)
	}

	suggestions = dedupe(suggestions)
	suggestions = filterExisting(suggestions, existing)

	filtered := suggestions[:0]
	for _, s := range suggestions {
		if s.Confidence >= c.minConfidence {
			filtered = append(filtered, s)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Confidence > filtered[j].Confidence
	})
	c.logger.Debug("relations: %d suggestions for %d hosts", len(filtered), len(normalized))
	return filtered
}

// pairKey normalizes a suggestion identity; symmetric types sort the pair.
func pairKey(source, target, relType string) string {
	if store.SymmetricRelation(relType) && source > target {
		source, target = target, source
	}
	return source + "\x00" + target + "\x00" + relType
}

// dedupe keeps the highest-confidence suggestion per normalized key.
func dedupe(suggestions []Suggestion) []Suggestion {
	best := map[string]Suggestion{}
	var order []string
	for _, s := range suggestions {
		key := pairKey(s.Source, s.Target, s.Type)
		current, seen := best[key]
		if !seen {
			order = append(order, key)
		}
		if !seen || s.Confidence > current.Confidence {
			best[key] = s
		}
	}
	out := make([]Suggestion, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

func filterExisting(suggestions []Suggestion, existing []Existing) []Suggestion {
	if len(existing) == 0 {
		return suggestions
	}
	known := make(map[string]bool, len(existing))
	for _, e := range existing {
		known[pairKey(strings.ToLower(e.Source), strings.ToLower(e.Target), e.Type)] = true
	}
	out := suggestions[:0]
	for _, s := range suggestions {
		if !known[pairKey(s.Source, s.Target, s.Type)] {
			out = append(out, s)
		}
	}
	return out
}
