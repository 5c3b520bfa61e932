package store

import (
	"context"
	"database/sql"
	"fmt"

	atherrors "athena/internal/errors"
)

// AddSource upserts an inventory source by unique name and returns its id.
func (s *Store) AddSource(ctx context.Context, src Source) (int64, error) {
	if src.Name == "" {
		return 0, atherrors.NewPersistence("add_source", "name is required", nil)
	}
	ts := now()
	var id int64
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO inventory_sources (name, source_type, file_path, import_method, host_count, metadata, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(name) DO UPDATE SET
            source_type   = excluded.source_type,
            file_path     = excluded.file_path,
            import_method = excluded.import_method,
            metadata      = excluded.metadata,
            updated_at    = excluded.updated_at
        RETURNING id`,
		src.Name, src.SourceType, src.FilePath, src.ImportMethod,
		src.HostCount, marshalMap(src.Metadata), ts, ts).Scan(&id)
	if err != nil {
		return 0, atherrors.NewPersistence("add_source", "upsert failed", err)
	}
	return id, nil
}

// GetSourceByName fetches a source by its unique name.
func (s *Store) GetSourceByName(ctx context.Context, name string) (*Source, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, name, source_type, file_path, import_method, host_count, metadata, created_at, updated_at
        FROM inventory_sources WHERE name = ?`, name)
	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("source not found: %s", name)
	}
	if err != nil {
		return nil, atherrors.NewPersistence("get_source", "read failed", err)
	}
	return src, nil
}

// ListSources returns every inventory source ordered by name.
func (s *Store) ListSources(ctx context.Context) ([]*Source, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, name, source_type, file_path, import_method, host_count, metadata, created_at, updated_at
        FROM inventory_sources ORDER BY name`)
	if err != nil {
		return nil, atherrors.NewPersistence("list_sources", "query failed", err)
	}
	defer rows.Close()

	var sources []*Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, atherrors.NewPersistence("list_sources", "scan failed", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// DeleteSource removes a source; the FK cascade removes every host that
// points at it (and, transitively, their versions, relations and cache).
func (s *Store) DeleteSource(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM inventory_sources WHERE name = ?`, name)
	if err != nil {
		return atherrors.NewPersistence("delete_source", "delete failed", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("source not found: %s", name)
	}
	return nil
}

func scanSource(row interface{ Scan(...any) error }) (*Source, error) {
	var src Source
	var metadata string
	var created, updated sqlTime
	err := row.Scan(&src.ID, &src.Name, &src.SourceType, &src.FilePath,
		&src.ImportMethod, &src.HostCount, &metadata, &created, &updated)
	if err != nil {
		return nil, err
	}
	src.Metadata = unmarshalMap(metadata)
	src.CreatedAt = created.Time()
	src.UpdatedAt = updated.Time()
	return &src, nil
}
