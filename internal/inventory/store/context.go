package store

import (
	"context"
	"database/sql"
	"time"

	atherrors "athena/internal/errors"
)

// SaveLocalContext atomically replaces the entire local-context table with
// entries. Readers either see the whole old set or the whole new set.
func (s *Store) SaveLocalContext(ctx context.Context, entries []ContextEntry) error {
	return s.withTx(ctx, "save_local_context", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM local_context`); err != nil {
			return atherrors.NewPersistence("save_local_context", "clear failed", err)
		}
		ts := now()
		stmt, err := tx.PrepareContext(ctx, `
            INSERT INTO local_context (category, key, value, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return atherrors.NewPersistence("save_local_context", "prepare failed", err)
		}
		defer stmt.Close()
		for _, entry := range entries {
			if _, err := stmt.ExecContext(ctx, entry.Category, entry.Key, entry.Value, ts, ts); err != nil {
				return atherrors.NewPersistence("save_local_context", "insert failed", err)
			}
		}
		return nil
	})
}

// GetLocalContext returns every context row grouped by category, plus the
// reconstructed scan time (the newest updated_at across rows; zero when the
// table is empty).
func (s *Store) GetLocalContext(ctx context.Context) (map[string][]ContextEntry, time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT category, key, value, created_at, updated_at
        FROM local_context ORDER BY category, key`)
	if err != nil {
		return nil, time.Time{}, atherrors.NewPersistence("get_local_context", "query failed", err)
	}
	defer rows.Close()

	grouped := map[string][]ContextEntry{}
	var scannedAt time.Time
	for rows.Next() {
		var entry ContextEntry
		var created, updated sqlTime
		if err := rows.Scan(&entry.Category, &entry.Key, &entry.Value, &created, &updated); err != nil {
			return nil, time.Time{}, atherrors.NewPersistence("get_local_context", "scan failed", err)
		}
		entry.CreatedAt = created.Time()
		entry.UpdatedAt = updated.Time()
		if entry.UpdatedAt.After(scannedAt) {
			scannedAt = entry.UpdatedAt
		}
		grouped[entry.Category] = append(grouped[entry.Category], entry)
	}
	return grouped, scannedAt, rows.Err()
}
