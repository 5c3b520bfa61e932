package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanCacheHitAndExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedHosts(t, s, "web-01")

	require.NoError(t, s.SaveScanCache(ctx, ids["web-01"], "disk", `{"used":"42%"}`, time.Hour))

	data, ok, err := s.GetScanCache(ctx, ids["web-01"], "disk")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"used":"42%"}`, data)

	// Different scan type is a miss.
	_, ok, err = s.GetScanCache(ctx, ids["web-01"], "memory")
	require.NoError(t, err)
	assert.False(t, ok)

	// A negative TTL writes an already-expired row.
	require.NoError(t, s.SaveScanCache(ctx, ids["web-01"], "disk", `{"used":"50%"}`, -time.Second))
	_, ok, err = s.GetScanCache(ctx, ids["web-01"], "disk")
	require.NoError(t, err)
	assert.False(t, ok, "expired entries behave as misses")

	removed, err := s.CleanupExpiredCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestScanCacheRequiresExistingHost(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveScanCache(context.Background(), 12345, "disk", "{}", time.Minute)
	assert.Error(t, err)
}

func TestLocalContextAtomicReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := []ContextEntry{
		{Category: "system", Key: "os", Value: "linux"},
		{Category: "system", Key: "kernel", Value: "6.8"},
		{Category: "network", Key: "dns", Value: "10.0.0.2"},
	}
	require.NoError(t, s.SaveLocalContext(ctx, first))

	grouped, scannedAt, err := s.GetLocalContext(ctx)
	require.NoError(t, err)
	assert.Len(t, grouped["system"], 2)
	assert.Len(t, grouped["network"], 1)
	assert.False(t, scannedAt.IsZero())

	// A second save fully replaces the previous set.
	require.NoError(t, s.SaveLocalContext(ctx, []ContextEntry{
		{Category: "system", Key: "os", Value: "linux"},
	}))
	grouped, _, err = s.GetLocalContext(ctx)
	require.NoError(t, err)
	assert.Len(t, grouped, 1)
	assert.Len(t, grouped["system"], 1)
	assert.NotContains(t, grouped, "network")
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedHosts(t, s, "web-01", "db-01")
	_, err := s.AddRelationsBatch(ctx, []RelationInput{
		{SourceHost: "web-01", TargetHost: "db-01", RelationType: RelationDependsOn, Confidence: 0.8},
	})
	require.NoError(t, err)

	id, err := s.CreateSnapshot(ctx, "before-upgrade", "pre maintenance")
	require.NoError(t, err)

	headers, err := s.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, headers, 1)
	assert.Equal(t, "before-upgrade", headers[0].Name)
	assert.Equal(t, 2, headers[0].HostCount)
	assert.Empty(t, headers[0].Data, "listing omits the data blob")

	snap, err := s.GetSnapshot(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, snap.Data, "web-01")
	assert.Contains(t, snap.Data, RelationDependsOn)

	require.NoError(t, s.DeleteSnapshot(ctx, id))
	_, err = s.GetSnapshot(ctx, id)
	assert.Error(t, err)
}

func TestGetStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	srcID, err := s.AddSource(ctx, Source{Name: "dc1", SourceType: "csv"})
	require.NoError(t, err)
	_, err = s.BulkAddHosts(ctx, []HostInput{
		{Hostname: "web-01", Environment: strPtr("prod")},
		{Hostname: "web-02", Environment: strPtr("prod")},
	}, &srcID, "test")
	require.NoError(t, err)
	_, err = s.AddHost(ctx, HostInput{Hostname: "dev-01", Environment: strPtr("dev")}, "test")
	require.NoError(t, err)

	report, err := s.AddRelationsBatch(ctx, []RelationInput{
		{SourceHost: "web-01", TargetHost: "web-02", RelationType: RelationLoadBalanced, Confidence: 0.6},
	})
	require.NoError(t, err)
	require.Equal(t, 1, report.Added)

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalHosts)
	assert.Equal(t, 2, stats.ByEnvironment["prod"])
	assert.Equal(t, 1, stats.ByEnvironment["dev"])
	assert.Equal(t, 2, stats.BySource["dc1"])
	assert.Equal(t, 1, stats.BySource["manual"])
	assert.Equal(t, 1, stats.TotalRelations)
	assert.Equal(t, 0, stats.ValidatedRelations)
}
