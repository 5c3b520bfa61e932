package relations

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"athena/internal/inventory/store"
)

// clusterNamePattern splits "web-01" style names into a base and an index.
var clusterNamePattern = regexp.MustCompile(`^([a-z][a-z0-9._-]*?)-?(\d+)$`)

// clusterNamingPairs groups hosts sharing a numbered-name base and pairs
// them as cluster members. Large groups use a star topology around the
// first member instead of all pairs.
func clusterNamingPairs(hosts []HostInfo) []Suggestion {
	groups := map[string][]string{}
	var bases []string
	for _, h := range hosts {
		m := clusterNamePattern.FindStringSubmatch(h.Hostname)
		if m == nil {
			continue
		}
		base := m[1]
		if _, seen := groups[base]; !seen {
			bases = append(bases, base)
		}
		groups[base] = append(groups[base], h.Hostname)
	}

	var out []Suggestion
	for _, base := range bases {
		members := groups[base]
		if len(members) < 2 {
			continue
		}
		reason := fmt.Sprintf("numbered hosts share base name %q", base)
		if len(members) > starTopologyThreshold {
			hub := members[0]
			for _, member := range members[1:] {
				out = append(out, Suggestion{
					Source: hub, Target: member,
					Type:       store.RelationClusterMember,
					Confidence: 0.80,
					Reason:     reason,
				})
			}
			continue
		}
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				out = append(out, Suggestion{
					Source: members[i], Target: members[j],
					Type:       store.RelationClusterMember,
					Confidence: 0.85,
					Reason:     reason,
				})
			}
		}
	}
	return out
}

// replicaTermPairs are naming conventions that mark a replication pair.
var replicaTermPairs = [][2]string{
	{"master", "slave"},
	{"master", "replica"},
	{"primary", "secondary"},
	{"leader", "follower"},
	{"main", "backup"},
}

// replicaNamingPairs finds hostname pairs that differ by exactly one first
// occurrence of a replication term.
func replicaNamingPairs(hosts []HostInfo) []Suggestion {
	names := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		names[h.Hostname] = true
	}

	var out []Suggestion
	for _, h := range hosts {
		for _, pair := range replicaTermPairs {
			first, second := pair[0], pair[1]
			if !strings.Contains(h.Hostname, first) {
				continue
			}
			counterpart := strings.Replace(h.Hostname, first, second, 1)
			if counterpart != h.Hostname && names[counterpart] {
				out = append(out, Suggestion{
					Source: h.Hostname, Target: counterpart,
					Type:       store.RelationDatabaseReplica,
					Confidence: 0.9,
					Reason:     fmt.Sprintf("naming pair %s/%s", first, second),
				})
			}
		}
	}
	return out
}

// genericGroups carry no relationship signal.
var genericGroups = map[string]bool{
	"all":       true,
	"ungrouped": true,
	"servers":   true,
	"hosts":     true,
}

// sharedGroupPairs relates hosts in the same non-generic group.
func sharedGroupPairs(hosts []HostInfo) []Suggestion {
	byGroup := map[string][]string{}
	var order []string
	for _, h := range hosts {
		for _, g := range h.Groups {
			group := strings.ToLower(strings.TrimSpace(g))
			if group == "" || genericGroups[group] {
				continue
			}
			if _, seen := byGroup[group]; !seen {
				order = append(order, group)
			}
			byGroup[group] = append(byGroup[group], h.Hostname)
		}
	}

	var out []Suggestion
	for _, group := range order {
		members := byGroup[group]
		if len(members) < 2 {
			continue
		}
		reason := fmt.Sprintf("shared group %q", group)
		if len(members) > starTopologyThreshold {
			hub := members[0]
			for _, member := range members[1:] {
				out = append(out, Suggestion{
					Source: hub, Target: member,
					Type:       store.RelationRelatedService,
					Confidence: 0.55,
					Reason:     reason,
				})
			}
			continue
		}
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				out = append(out, Suggestion{
					Source: members[i], Target: members[j],
					Type:       store.RelationRelatedService,
					Confidence: 0.6,
					Reason:     reason,
				})
			}
		}
	}
	return out
}

// dependencyTuples encode which service tiers depend on which.
var dependencyTuples = []struct {
	sources []string
	targets []string
}{
	{[]string{"web", "frontend", "ui"}, []string{"api", "backend", "app"}},
	{[]string{"api", "backend", "app"}, []string{"db", "database", "mysql", "postgres", "mongo"}},
	{[]string{"app", "backend"}, []string{"cache", "redis", "memcached"}},
	{[]string{"app", "backend"}, []string{"queue", "rabbitmq", "kafka"}},
}

// serviceDependencyPairs emits depends_on edges between service tiers. Each
// tuple gets a bounded number of edges; oversized sides drop confidence and
// a star keeps the edge count linear.
func serviceDependencyPairs(hosts []HostInfo) []Suggestion {
	matches := func(keywords []string) []string {
		var found []string
		for _, h := range hosts {
			if hostMatchesAnyKeyword(h, keywords) {
				found = append(found, h.Hostname)
			}
		}
		sort.Strings(found)
		return found
	}

	var out []Suggestion
	for _, tuple := range dependencyTuples {
		sources := matches(tuple.sources)
		targets := matches(tuple.targets)
		if len(sources) == 0 || len(targets) == 0 {
			continue
		}

		confidence := 0.5
		if len(sources) > dependencyPairBudget || len(targets) > dependencyPairBudget {
			confidence = 0.3
		}
		reason := fmt.Sprintf("%s tier depends on %s tier", tuple.sources[0], tuple.targets[0])

		if len(sources)*len(targets) > dependencyPairBudget {
			// Star fallback: every source leans on the first target.
			hub := targets[0]
			emitted := 0
			for _, src := range sources {
				if src == hub {
					continue
				}
				out = append(out, Suggestion{
					Source: src, Target: hub,
					Type:       store.RelationDependsOn,
					Confidence: confidence,
					Reason:     reason,
				})
				emitted++
				if emitted >= dependencyPairBudget {
					break
				}
			}
			continue
		}
		for _, src := range sources {
			for _, dst := range targets {
				if src == dst {
					continue
				}
				out = append(out, Suggestion{
					Source: src, Target: dst,
					Type:       store.RelationDependsOn,
					Confidence: confidence,
					Reason:     reason,
				})
			}
		}
	}
	return out
}

func hostMatchesAnyKeyword(h HostInfo, keywords []string) bool {
	haystacks := []string{h.Hostname, strings.ToLower(h.Service), strings.ToLower(h.Role)}
	for _, g := range h.Groups {
		haystacks = append(haystacks, strings.ToLower(g))
	}
	for _, keyword := range keywords {
		for _, haystack := range haystacks {
			if strings.Contains(haystack, keyword) {
				return true
			}
		}
	}
	return false
}
