package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedHosts(t *testing.T, s *Store, names ...string) map[string]int64 {
	t.Helper()
	ctx := context.Background()
	ids := make(map[string]int64, len(names))
	for _, name := range names {
		id, err := s.AddHost(ctx, HostInput{Hostname: name}, "test")
		require.NoError(t, err)
		ids[name] = id
	}
	return ids
}

func TestAddRelationsBatchSkipsUnknownHosts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedHosts(t, s, "db-01", "db-02")

	report, err := s.AddRelationsBatch(ctx, []RelationInput{
		{SourceHost: "db-01", TargetHost: "db-02", RelationType: RelationDatabaseReplica, Confidence: 0.9},
		{SourceHost: "db-01", TargetHost: "ghost", RelationType: RelationDependsOn, Confidence: 0.5},
		{SourceHost: "phantom", TargetHost: "db-02", RelationType: RelationDependsOn, Confidence: 0.5},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Added)
	assert.Equal(t, 0, report.Updated)
	assert.Len(t, report.Skipped, 2)

	relations, err := s.ListRelations(ctx, nil)
	require.NoError(t, err)
	require.Len(t, relations, 1)
	assert.Equal(t, ids["db-01"], relations[0].SourceHostID)
	assert.Equal(t, ids["db-02"], relations[0].TargetHostID)
	assert.InDelta(t, 0.9, relations[0].Confidence, 1e-9)

	// Re-adding the same pair counts as an update, not a duplicate.
	report, err = s.AddRelationsBatch(ctx, []RelationInput{
		{SourceHost: "db-01", TargetHost: "db-02", RelationType: RelationDatabaseReplica, Confidence: 0.95},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Added)
	assert.Equal(t, 1, report.Updated)

	relations, err = s.ListRelations(ctx, nil)
	require.NoError(t, err)
	require.Len(t, relations, 1)
	assert.InDelta(t, 0.95, relations[0].Confidence, 1e-9)
}

func TestListRelationsFiltersByHost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedHosts(t, s, "web-01", "web-02", "db-01")

	_, err := s.AddRelationsBatch(ctx, []RelationInput{
		{SourceHost: "web-01", TargetHost: "db-01", RelationType: RelationDependsOn, Confidence: 0.8},
		{SourceHost: "web-02", TargetHost: "db-01", RelationType: RelationDependsOn, Confidence: 0.8},
		{SourceHost: "web-01", TargetHost: "web-02", RelationType: RelationLoadBalanced, Confidence: 0.6},
	})
	require.NoError(t, err)

	webID := ids["web-01"]
	relations, err := s.ListRelations(ctx, &webID)
	require.NoError(t, err)
	assert.Len(t, relations, 2)

	dbID := ids["db-01"]
	relations, err = s.ListRelations(ctx, &dbID)
	require.NoError(t, err)
	assert.Len(t, relations, 2)
}

func TestValidateRelation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedHosts(t, s, "a", "b")

	id, err := s.AddRelation(ctx, Relation{
		SourceHostID: ids["a"],
		TargetHostID: ids["b"],
		RelationType: RelationClusterMember,
		Confidence:   0.7,
	})
	require.NoError(t, err)

	require.NoError(t, s.ValidateRelation(ctx, id))

	relations, err := s.ListRelations(ctx, nil)
	require.NoError(t, err)
	require.Len(t, relations, 1)
	assert.True(t, relations[0].ValidatedByUser)

	assert.Error(t, s.ValidateRelation(ctx, 9999))
}

func TestSymmetricRelation(t *testing.T) {
	assert.True(t, SymmetricRelation(RelationClusterMember))
	assert.True(t, SymmetricRelation(RelationLoadBalanced))
	assert.False(t, SymmetricRelation(RelationDependsOn))
	assert.False(t, SymmetricRelation(RelationDatabaseReplica))
	assert.False(t, SymmetricRelation(RelationBackupOf))
}

func TestRelationCascadesWithHost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedHosts(t, s, "a", "b")

	_, err := s.AddRelationsBatch(ctx, []RelationInput{
		{SourceHost: "a", TargetHost: "b", RelationType: RelationDependsOn, Confidence: 0.5},
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteHost(ctx, "b", "test", ""))

	relations, err := s.ListRelations(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, relations)
}
