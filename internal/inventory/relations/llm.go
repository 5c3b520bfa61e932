package relations

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"athena/internal/inventory/store"
	"athena/internal/llm"
)

const relationSystemPrompt = `You analyze server inventories and propose likely relationships between hosts.
Reply with ONLY a JSON array. Each element: {"source": "host", "target": "host", "type": "cluster_member|database_replica|depends_on|backup_of|load_balanced|related_service", "confidence": 0.0, "reason": "..."}.
Only reference hostnames from the list. Reply [] when unsure.`

// llmSuggestions asks the model for relations the heuristics missed. Every
// reply entry is validated against the input host set and its confidence is
// clamped below the heuristic range.
func (c *Classifier) llmSuggestions(ctx context.Context, hosts []HostInfo) []Suggestion {
	known := make(map[string]bool, len(hosts))
	var summary strings.Builder
	for i, h := range hosts {
		if i >= llmHostSummaryLimit {
			break
		}
		known[h.Hostname] = true
		fmt.Fprintf(&summary, "- %s", h.Hostname)
		if h.Environment != "" {
			fmt.Fprintf(&summary, " env=%s", h.Environment)
		}
		if len(h.Groups) > 0 {
			fmt.Fprintf(&summary, " groups=%s", strings.Join(h.Groups, ","))
		}
		if h.Service != "" {
			fmt.Fprintf(&summary, " service=%s", h.Service)
		}
		summary.WriteByte('\n')
	}
	for _, h := range hosts[min(len(hosts), llmHostSummaryLimit):] {
		known[h.Hostname] = true
	}

	response, err := c.client.Generate(ctx, llm.Request{
		System: relationSystemPrompt,
		Prompt: "Hosts:\n" + summary.String(),
		Task:   llm.TaskClassification,
	})
	if err != nil {
		c.logger.Warn("relations: llm pass failed: %v", err)
		return nil
	}

	entries, err := parseSuggestionArray(response)
	if err != nil {
		c.logger.Warn("relations: llm reply unparseable: %v", err)
		return nil
	}

	var out []Suggestion
	for _, entry := range entries {
		s := Suggestion{
			Source:     strings.ToLower(strings.TrimSpace(entry.Source)),
			Target:     strings.ToLower(strings.TrimSpace(entry.Target)),
			Type:       entry.Type,
			Confidence: entry.Confidence,
			Reason:     entry.Reason,
		}
		if !known[s.Source] || !known[s.Target] || s.Source == s.Target {
			continue
		}
		if !knownRelationType(s.Type) {
			s.Type = store.RelationRelatedService
		}
		if s.Confidence < 0 {
			s.Confidence = 0
		}
		if s.Confidence > llmConfidenceCeiling {
			s.Confidence = llmConfidenceCeiling
		}
		out = append(out, s)
	}
	return out
}

func knownRelationType(t string) bool {
	switch t {
	case store.RelationClusterMember, store.RelationDatabaseReplica,
		store.RelationDependsOn, store.RelationBackupOf,
		store.RelationLoadBalanced, store.RelationRelatedService:
		return true
	}
	return false
}

// Bounds for the last-resort bracket scan, keeping adversarial replies from
// driving quadratic work.
const (
	maxBracketStarts = 8
	maxBracketEnds   = 16
)

// parseSuggestionArray decodes the reply. Order: whole string, repaired
// whole string, then a bounded scan over '[' start positions each paired
// with a bounded number of candidate closing brackets.
func parseSuggestionArray(response string) ([]Suggestion, error) {
	trimmed := strings.TrimSpace(response)

	var entries []Suggestion
	if err := json.Unmarshal([]byte(trimmed), &entries); err == nil {
		return entries, nil
	}
	if repaired, err := jsonrepair.JSONRepair(trimmed); err == nil {
		if err := json.Unmarshal([]byte(repaired), &entries); err == nil {
			return entries, nil
		}
	}

	starts := 0
	for start := strings.IndexByte(trimmed, '['); start >= 0 && starts < maxBracketStarts; start = nextIndex(trimmed, '[', start) {
		starts++
		ends := 0
		for end := strings.LastIndexByte(trimmed, ']'); end > start && ends < maxBracketEnds; end = strings.LastIndexByte(trimmed[:end], ']') {
			ends++
			if err := json.Unmarshal([]byte(trimmed[start:end+1]), &entries); err == nil {
				return entries, nil
			}
		}
	}
	return nil, fmt.Errorf("no JSON array found in reply")
}

func nextIndex(s string, b byte, after int) int {
	idx := strings.IndexByte(s[after+1:], b)
	if idx < 0 {
		return -1
	}
	return after + 1 + idx
}
