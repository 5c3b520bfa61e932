package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	atherrors "athena/internal/errors"
	"athena/internal/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "athena.db"), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestOpenAppliesAllMigrations(t *testing.T) {
	s := newTestStore(t)

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)

	// Reopening the same file must be a no-op.
	s2, err := Open(s.Path(), logging.Nop())
	require.NoError(t, err)
	defer s2.Close()
	err = s2.db.QueryRow(`SELECT COUNT(*) FROM schema_versions`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestAddHostCreateThenUpdateVersions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddHost(ctx, HostInput{Hostname: "Web-01", IP: strPtr("10.0.0.5")}, "importer")
	require.NoError(t, err)

	host, err := s.GetHostByName(ctx, "web-01")
	require.NoError(t, err)
	assert.Equal(t, "web-01", host.Hostname, "hostname is normalized to lowercase")
	assert.Equal(t, "10.0.0.5", host.IP)
	assert.Equal(t, 22, host.SSHPort)
	assert.Equal(t, StatusUnknown, host.Status)

	// Second write merges the new field and leaves the rest untouched.
	id2, err := s.AddHost(ctx, HostInput{Hostname: "web-01", Environment: strPtr("prod")}, "importer")
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	host, err = s.GetHostByName(ctx, "web-01")
	require.NoError(t, err)
	assert.Equal(t, "prod", host.Environment)
	assert.Equal(t, "10.0.0.5", host.IP, "nil input fields preserve current values")

	versions, err := s.GetHostVersions(ctx, id)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Version)
	assert.JSONEq(t, `{"action":"created"}`, string(versions[0].Changes))
	assert.Equal(t, 2, versions[1].Version)
	assert.JSONEq(t, `{"environment":{"old":null,"new":"prod"}}`, string(versions[1].Changes))
	assert.Equal(t, "importer", versions[1].ChangedBy)

	// A write that changes nothing records no version.
	_, err = s.AddHost(ctx, HostInput{Hostname: "web-01", Environment: strPtr("prod")}, "importer")
	require.NoError(t, err)
	versions, err = s.GetHostVersions(ctx, id)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestAddHostRejectsEmptyHostname(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddHost(context.Background(), HostInput{Hostname: "   "}, "test")
	require.Error(t, err)
	var pe *atherrors.PersistenceError
	assert.ErrorAs(t, err, &pe)
}

func TestBulkAddHostsRollsBackWholeBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	srcID, err := s.AddSource(ctx, Source{Name: "prod-import", SourceType: "csv"})
	require.NoError(t, err)

	hosts := []HostInput{
		{Hostname: "db-01"},
		{Hostname: "db-02"},
		{Hostname: ""}, // fails after two successful rows
	}
	_, err = s.BulkAddHosts(ctx, hosts, &srcID, "importer")
	require.Error(t, err)

	var pe *atherrors.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, pe.Details["hosts_attempted"])
	assert.Equal(t, 2, pe.Details["hosts_before_failure"])

	// Nothing from the batch may be visible.
	all, err := s.ListHosts(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestBulkAddHostsUpdatesSourceCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	srcID, err := s.AddSource(ctx, Source{Name: "dc1", SourceType: "yaml"})
	require.NoError(t, err)

	added, err := s.BulkAddHosts(ctx, []HostInput{
		{Hostname: "app-01"},
		{Hostname: "app-02"},
	}, &srcID, "importer")
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	src, err := s.GetSourceByName(ctx, "dc1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.HostCount)
}

func TestGetHostByNameMatchesExactAlias(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddHost(ctx, HostInput{Hostname: "web-01", Aliases: []string{"www", "frontend"}}, "test")
	require.NoError(t, err)
	_, err = s.AddHost(ctx, HostInput{Hostname: "web-02", Aliases: []string{"wwwstage"}}, "test")
	require.NoError(t, err)

	host, err := s.GetHostByName(ctx, "WWW")
	require.NoError(t, err)
	assert.Equal(t, "web-01", host.Hostname)

	// "www" must not match "wwwstage" the way a substring scan would.
	host, err = s.GetHostByName(ctx, "wwwstage")
	require.NoError(t, err)
	assert.Equal(t, "web-02", host.Hostname)

	_, err = s.GetHostByName(ctx, "front")
	assert.Error(t, err)
}

func TestSearchHostsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed := []HostInput{
		{Hostname: "web-prod-01", Environment: strPtr("prod"), Groups: []string{"web", "edge"}},
		{Hostname: "web-prod-02", Environment: strPtr("prod"), Groups: []string{"web"}},
		{Hostname: "web-stage-01", Environment: strPtr("staging"), Groups: []string{"webcache"}},
		{Hostname: "db-prod-01", Environment: strPtr("prod"), Groups: []string{"db"}},
	}
	for _, h := range seed {
		_, err := s.AddHost(ctx, h, "test")
		require.NoError(t, err)
	}

	hosts, err := s.SearchHosts(ctx, SearchFilter{Pattern: "web"})
	require.NoError(t, err)
	assert.Len(t, hosts, 3)

	hosts, err = s.SearchHosts(ctx, SearchFilter{Pattern: "web", Environment: "prod"})
	require.NoError(t, err)
	assert.Len(t, hosts, 2)

	// Group matching is exact-element: "web" must not match "webcache".
	hosts, err = s.SearchHosts(ctx, SearchFilter{Group: "web"})
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	for _, h := range hosts {
		assert.Contains(t, h.Groups, "web")
	}

	hosts, err = s.SearchHosts(ctx, SearchFilter{Environment: "prod", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, hosts, 1)

	// LIKE wildcards in the pattern are literals.
	hosts, err = s.SearchHosts(ctx, SearchFilter{Pattern: "%"})
	require.NoError(t, err)
	assert.Empty(t, hosts)
}

func TestDeleteHostWritesAuditRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddHost(ctx, HostInput{Hostname: "old-db", IP: strPtr("10.1.1.1")}, "test")
	require.NoError(t, err)

	require.NoError(t, s.DeleteHost(ctx, "old-db", "alice", "decommissioned"))

	_, err = s.GetHostByName(ctx, "old-db")
	assert.Error(t, err)

	versions, err := s.GetHostVersions(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, versions, "versions cascade with the host")

	deletions, err := s.ListDeletions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, deletions, 1)
	assert.Equal(t, "old-db", deletions[0].Hostname)
	assert.Equal(t, "alice", deletions[0].DeletedBy)
	assert.Equal(t, "decommissioned", deletions[0].DeletionReason)
	assert.Contains(t, deletions[0].Snapshot, "10.1.1.1", "snapshot carries the final state")
}

func TestDeleteSourceCascadesToHosts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	srcID, err := s.AddSource(ctx, Source{Name: "legacy", SourceType: "ini"})
	require.NoError(t, err)
	_, err = s.BulkAddHosts(ctx, []HostInput{{Hostname: "legacy-01"}}, &srcID, "test")
	require.NoError(t, err)

	require.NoError(t, s.DeleteSource(ctx, "legacy"))
	_, err = s.GetHostByName(ctx, "legacy-01")
	assert.Error(t, err)
}

func TestDefaultStoreIgnoresReinit(t *testing.T) {
	ResetDefault()
	t.Cleanup(ResetDefault)

	dir := t.TempDir()
	first, err := Default(filepath.Join(dir, "a.db"), logging.Nop())
	require.NoError(t, err)

	second, err := Default(filepath.Join(dir, "b.db"), logging.Nop())
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, filepath.Join(dir, "a.db"), second.Path())
}

func TestIsNotFoundOnMissingHost(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetHostByName(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, atherrors.IsNotFound(err))
	assert.False(t, errors.Is(err, context.Canceled))
}
