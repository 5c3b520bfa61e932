package store

import (
	"context"
	"database/sql"
	"time"

	atherrors "athena/internal/errors"
)

// SaveScanCache upserts one TTL'd scan result keyed by (host, scan type).
func (s *Store) SaveScanCache(ctx context.Context, hostID int64, scanType, data string, ttl time.Duration) error {
	ts := now()
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO scan_cache (host_id, scan_type, data, ttl_seconds, created_at, expires_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(host_id, scan_type) DO UPDATE SET
            data        = excluded.data,
            ttl_seconds = excluded.ttl_seconds,
            created_at  = excluded.created_at,
            expires_at  = excluded.expires_at`,
		hostID, scanType, data, int(ttl.Seconds()), ts, ts.Add(ttl))
	if err != nil {
		if isForeignKeyViolation(err) {
			return atherrors.NewPersistence("save_scan_cache", "host not found", err)
		}
		return atherrors.NewPersistence("save_scan_cache", "upsert failed", err)
	}
	return nil
}

// GetScanCache returns the cached data for (host, scan type), or "" false
// once expires_at has passed.
func (s *Store) GetScanCache(ctx context.Context, hostID int64, scanType string) (string, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
        SELECT data FROM scan_cache
        WHERE host_id = ? AND scan_type = ? AND expires_at > ?`,
		hostID, scanType, now()).Scan(&data)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, atherrors.NewPersistence("get_scan_cache", "read failed", err)
	}
	return data, true, nil
}

// CleanupExpiredCache removes every expired row and returns the count.
func (s *Store) CleanupExpiredCache(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM scan_cache WHERE expires_at <= ?`, now())
	if err != nil {
		return 0, atherrors.NewPersistence("cleanup_expired_cache", "delete failed", err)
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}
