package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	atherrors "athena/internal/errors"
)

// snapshotPayload is the serialized form stored in snapshot_data.
type snapshotPayload struct {
	Hosts     []*Host     `json:"hosts"`
	Relations []*Relation `json:"relations"`
	CreatedAt time.Time   `json:"created_at"`
}

// CreateSnapshot serializes the full host and relation state under a display
// name. Snapshots are immutable once written.
func (s *Store) CreateSnapshot(ctx context.Context, name, description string) (int64, error) {
	hosts, err := s.ListHosts(ctx)
	if err != nil {
		return 0, err
	}
	relations, err := s.ListRelations(ctx, nil)
	if err != nil {
		return 0, err
	}
	ts := now()
	payload, err := json.Marshal(snapshotPayload{Hosts: hosts, Relations: relations, CreatedAt: ts})
	if err != nil {
		return 0, atherrors.NewPersistence("create_snapshot", "marshal failed", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
        INSERT INTO inventory_snapshots (name, description, host_count, snapshot_data, created_at)
        VALUES (?, ?, ?, ?, ?) RETURNING id`,
		name, description, len(hosts), string(payload), ts).Scan(&id)
	if err != nil {
		return 0, atherrors.NewPersistence("create_snapshot", "insert failed", err)
	}
	return id, nil
}

// ListSnapshots returns snapshot headers (no data blob), newest first.
func (s *Store) ListSnapshots(ctx context.Context) ([]*Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, name, description, host_count, created_at
        FROM inventory_snapshots ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, atherrors.NewPersistence("list_snapshots", "query failed", err)
	}
	defer rows.Close()

	var snapshots []*Snapshot
	for rows.Next() {
		var snap Snapshot
		var created sqlTime
		if err := rows.Scan(&snap.ID, &snap.Name, &snap.Description, &snap.HostCount, &created); err != nil {
			return nil, atherrors.NewPersistence("list_snapshots", "scan failed", err)
		}
		snap.CreatedAt = created.Time()
		snapshots = append(snapshots, &snap)
	}
	return snapshots, rows.Err()
}

// GetSnapshot returns one snapshot including its data blob.
func (s *Store) GetSnapshot(ctx context.Context, id int64) (*Snapshot, error) {
	var snap Snapshot
	var created sqlTime
	err := s.db.QueryRowContext(ctx, `
        SELECT id, name, description, host_count, snapshot_data, created_at
        FROM inventory_snapshots WHERE id = ?`, id).
		Scan(&snap.ID, &snap.Name, &snap.Description, &snap.HostCount, &snap.Data, &created)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("snapshot not found: id %d", id)
	}
	if err != nil {
		return nil, atherrors.NewPersistence("get_snapshot", "read failed", err)
	}
	snap.CreatedAt = created.Time()
	return &snap, nil
}

// DeleteSnapshot removes one snapshot.
func (s *Store) DeleteSnapshot(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM inventory_snapshots WHERE id = ?`, id)
	if err != nil {
		return atherrors.NewPersistence("delete_snapshot", "delete failed", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("snapshot not found: id %d", id)
	}
	return nil
}

// GetStats aggregates store-wide counts.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByEnvironment: map[string]int{},
		BySource:      map[string]int{},
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hosts_v2`).Scan(&stats.TotalHosts); err != nil {
		return nil, atherrors.NewPersistence("get_stats", "count hosts", err)
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT environment, COUNT(*) FROM hosts_v2 WHERE environment != '' GROUP BY environment`)
	if err != nil {
		return nil, atherrors.NewPersistence("get_stats", "group by environment", err)
	}
	defer rows.Close()
	for rows.Next() {
		var env string
		var count int
		if err := rows.Scan(&env, &count); err != nil {
			return nil, atherrors.NewPersistence("get_stats", "scan environment", err)
		}
		stats.ByEnvironment[env] = count
	}
	if err := rows.Err(); err != nil {
		return nil, atherrors.NewPersistence("get_stats", "iterate environments", err)
	}

	srcRows, err := s.db.QueryContext(ctx, `
        SELECT COALESCE(s.name, 'manual'), COUNT(*)
        FROM hosts_v2 h LEFT JOIN inventory_sources s ON h.source_id = s.id
        GROUP BY s.name`)
	if err != nil {
		return nil, atherrors.NewPersistence("get_stats", "group by source", err)
	}
	defer srcRows.Close()
	for srcRows.Next() {
		var name string
		var count int
		if err := srcRows.Scan(&name, &count); err != nil {
			return nil, atherrors.NewPersistence("get_stats", "scan source", err)
		}
		stats.BySource[name] = count
	}
	if err := srcRows.Err(); err != nil {
		return nil, atherrors.NewPersistence("get_stats", "iterate sources", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM host_relations`).Scan(&stats.TotalRelations); err != nil {
		return nil, atherrors.NewPersistence("get_stats", "count relations", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM host_relations WHERE validated_by_user = 1`).Scan(&stats.ValidatedRelations); err != nil {
		return nil, atherrors.NewPersistence("get_stats", "count validated relations", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scan_cache WHERE expires_at > ?`, now()).Scan(&stats.CachedScans); err != nil {
		return nil, atherrors.NewPersistence("get_stats", "count cached scans", err)
	}
	return stats, nil
}
