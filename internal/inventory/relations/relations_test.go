package relations

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"athena/internal/config"
	"athena/internal/inventory/store"
	"athena/internal/llm"
	"athena/internal/logging"
)

func testClassifier(t *testing.T, client llm.Client) *Classifier {
	t.Helper()
	cfg, _, err := config.Load(config.WithConfigDir("/nonexistent"))
	require.NoError(t, err)
	return New(cfg, client, logging.Nop())
}

func hostsNamed(names ...string) []HostInfo {
	out := make([]HostInfo, len(names))
	for i, n := range names {
		out[i] = HostInfo{Hostname: n}
	}
	return out
}

func findSuggestion(suggestions []Suggestion, source, target, relType string) *Suggestion {
	for i := range suggestions {
		s := &suggestions[i]
		if s.Type != relType {
			continue
		}
		if s.Source == source && s.Target == target {
			return s
		}
		if store.SymmetricRelation(relType) && s.Source == target && s.Target == source {
			return s
		}
	}
	return nil
}

func TestClusterNamingAllPairs(t *testing.T) {
	c := testClassifier(t, nil)
	got := c.Classify(context.Background(), hostsNamed("web-01", "web-02", "web-03", "db-01"), nil)

	require.NotNil(t, findSuggestion(got, "web-01", "web-02", store.RelationClusterMember))
	require.NotNil(t, findSuggestion(got, "web-01", "web-03", store.RelationClusterMember))
	require.NotNil(t, findSuggestion(got, "web-02", "web-03", store.RelationClusterMember))
	assert.Nil(t, findSuggestion(got, "web-01", "db-01", store.RelationClusterMember),
		"different bases never cluster")

	s := findSuggestion(got, "web-01", "web-02", store.RelationClusterMember)
	assert.InDelta(t, 0.85, s.Confidence, 1e-9)
}

func TestClusterNamingStarTopologyAboveThreshold(t *testing.T) {
	var names []string
	for i := 1; i <= starTopologyThreshold+5; i++ {
		names = append(names, fmt.Sprintf("node-%02d", i))
	}
	c := testClassifier(t, nil)
	got := c.Classify(context.Background(), hostsNamed(names...), nil)

	var cluster []Suggestion
	for _, s := range got {
		if s.Type == store.RelationClusterMember {
			cluster = append(cluster, s)
		}
	}
	require.Len(t, cluster, len(names)-1, "star topology keeps the edge count linear")
	for _, s := range cluster {
		assert.Equal(t, "node-01", s.Source, "first member is the hub")
		assert.InDelta(t, 0.80, s.Confidence, 1e-9)
	}
}

func TestReplicaNamingPairs(t *testing.T) {
	c := testClassifier(t, nil)
	got := c.Classify(context.Background(),
		hostsNamed("db-master-1", "db-slave-1", "pg-primary", "pg-secondary", "web-01"), nil)

	s := findSuggestion(got, "db-master-1", "db-slave-1", store.RelationDatabaseReplica)
	require.NotNil(t, s)
	assert.InDelta(t, 0.9, s.Confidence, 1e-9)

	require.NotNil(t, findSuggestion(got, "pg-primary", "pg-secondary", store.RelationDatabaseReplica))
}

func TestSharedGroupPairsSkipGenericGroups(t *testing.T) {
	c := testClassifier(t, nil)
	hosts := []HostInfo{
		{Hostname: "a1", Groups: []string{"payments", "all"}},
		{Hostname: "a2", Groups: []string{"payments", "all"}},
		{Hostname: "b1", Groups: []string{"all", "servers"}},
	}
	got := c.Classify(context.Background(), hosts, nil)

	s := findSuggestion(got, "a1", "a2", store.RelationRelatedService)
	require.NotNil(t, s)
	assert.InDelta(t, 0.6, s.Confidence, 1e-9)
	assert.Nil(t, findSuggestion(got, "a1", "b1", store.RelationRelatedService),
		"generic groups carry no signal")
}

func TestServiceDependencyPairs(t *testing.T) {
	c := testClassifier(t, nil)
	hosts := []HostInfo{
		{Hostname: "web-main", Service: "frontend"},
		{Hostname: "api-main", Service: "api"},
		{Hostname: "pgdb", Service: "postgres"},
	}
	got := c.Classify(context.Background(), hosts, nil)

	require.NotNil(t, findSuggestion(got, "web-main", "api-main", store.RelationDependsOn))
	require.NotNil(t, findSuggestion(got, "api-main", "pgdb", store.RelationDependsOn))
}

func TestDependencyConfidenceBelowFloorIsFiltered(t *testing.T) {
	// Oversized tiers drop dependency confidence to 0.3, which the default
	// min_confidence of 0.5 then filters out.
	var hosts []HostInfo
	for i := 0; i < dependencyPairBudget+2; i++ {
		hosts = append(hosts, HostInfo{Hostname: fmt.Sprintf("webfront%c", 'a'+i), Service: "web"})
	}
	hosts = append(hosts, HostInfo{Hostname: "apihub", Service: "api"})

	c := testClassifier(t, nil)
	got := c.Classify(context.Background(), hosts, nil)
	for _, s := range got {
		assert.NotEqual(t, store.RelationDependsOn, s.Type,
			"0.3-confidence edges sit below the default threshold")
	}
}

func TestDedupeKeepsHighestConfidence(t *testing.T) {
	in := []Suggestion{
		{Source: "a", Target: "b", Type: store.RelationClusterMember, Confidence: 0.8},
		{Source: "b", Target: "a", Type: store.RelationClusterMember, Confidence: 0.85},
		{Source: "a", Target: "b", Type: store.RelationDependsOn, Confidence: 0.5},
	}
	out := dedupe(in)
	require.Len(t, out, 2, "symmetric duplicates collapse, distinct types survive")
	s := findSuggestion(out, "a", "b", store.RelationClusterMember)
	require.NotNil(t, s)
	assert.InDelta(t, 0.85, s.Confidence, 1e-9)
}

func TestClassifyFiltersExistingRelations(t *testing.T) {
	c := testClassifier(t, nil)
	hosts := hostsNamed("web-01", "web-02")

	got := c.Classify(context.Background(), hosts, nil)
	require.NotNil(t, findSuggestion(got, "web-01", "web-02", store.RelationClusterMember))

	// Reverse order must also match for the symmetric type.
	got = c.Classify(context.Background(), hosts, []Existing{
		{Source: "web-02", Target: "web-01", Type: store.RelationClusterMember},
	})
	assert.Nil(t, findSuggestion(got, "web-01", "web-02", store.RelationClusterMember))
}

func TestClassifySortsByConfidence(t *testing.T) {
	c := testClassifier(t, nil)
	hosts := []HostInfo{
		{Hostname: "db-master", Groups: []string{"dbs"}},
		{Hostname: "db-slave", Groups: []string{"dbs"}},
	}
	got := c.Classify(context.Background(), hosts, nil)
	require.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Confidence, got[i].Confidence)
	}
}

func TestLLMPassSupplementsThinHeuristics(t *testing.T) {
	mock := llm.NewMock(`[
        {"source": "alpha", "target": "beta", "type": "depends_on", "confidence": 0.95},
        {"source": "alpha", "target": "ghost", "type": "depends_on", "confidence": 0.9},
        {"source": "beta", "target": "gamma", "type": "made_up_type", "confidence": 0.6}
    ]`)
	cfg, _, err := config.Load(config.WithConfigDir("/nonexistent"))
	require.NoError(t, err)
	c := New(cfg, mock, logging.Nop())

	got := c.Classify(context.Background(), hostsNamed("alpha", "beta", "gamma"), nil)

	s := findSuggestion(got, "alpha", "beta", store.RelationDependsOn)
	require.NotNil(t, s)
	assert.InDelta(t, llmConfidenceCeiling, s.Confidence, 1e-9, "LLM confidence is clamped")

	assert.Nil(t, findSuggestion(got, "alpha", "ghost", store.RelationDependsOn),
		"entries naming unknown hosts are dropped")

	unknown := findSuggestion(got, "beta", "gamma", store.RelationRelatedService)
	require.NotNil(t, unknown, "unknown types collapse to related_service")
	assert.Equal(t, 1, mock.CallCount())
}

func TestLLMPassSkippedWhenHeuristicsSuffice(t *testing.T) {
	mock := llm.NewMock()
	cfg, _, err := config.Load(config.WithConfigDir("/nonexistent"))
	require.NoError(t, err)
	c := New(cfg, mock, logging.Nop())

	// Four numbered hosts produce six cluster pairs, past the trigger.
	c.Classify(context.Background(), hostsNamed("n-1", "n-2", "n-3", "n-4"), nil)
	assert.Zero(t, mock.CallCount())
}

func TestParseSuggestionArrayRecovery(t *testing.T) {
	entries, err := parseSuggestionArray(`[{"source":"a","target":"b","type":"depends_on","confidence":0.5}]`)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	entries, err = parseSuggestionArray("Sure, here are the relations:\n" +
		`[{"source":"a","target":"b","type":"depends_on","confidence":0.5}]` + "\nLet me know!")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = parseSuggestionArray("no brackets here")
	assert.Error(t, err)
}
