package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	atherrors "athena/internal/errors"
)

// AddRelation upserts one relation between two resolved host ids.
func (s *Store) AddRelation(ctx context.Context, rel Relation) (int64, error) {
	var id int64
	err := s.withTx(ctx, "add_relation", func(tx *sql.Tx) error {
		relID, err := upsertRelationTx(ctx, tx, rel)
		if err != nil {
			return err
		}
		id = relID
		return nil
	})
	return id, err
}

// AddRelationsBatch resolves hostnames and upserts relations in a single
// transaction. Relations whose source or target hostname does not resolve
// are skipped, not errored, and listed in the returned report.
func (s *Store) AddRelationsBatch(ctx context.Context, inputs []RelationInput) (*RelationBatchReport, error) {
	report := &RelationBatchReport{}
	err := s.withTx(ctx, "add_relations_batch", func(tx *sql.Tx) error {
		for _, input := range inputs {
			sourceID, ok, err := resolveHostIDTx(ctx, tx, input.SourceHost)
			if err != nil {
				return err
			}
			if !ok {
				report.Skipped = append(report.Skipped,
					fmt.Sprintf("%s -> %s (%s): source host unknown", input.SourceHost, input.TargetHost, input.RelationType))
				continue
			}
			targetID, ok, err := resolveHostIDTx(ctx, tx, input.TargetHost)
			if err != nil {
				return err
			}
			if !ok {
				report.Skipped = append(report.Skipped,
					fmt.Sprintf("%s -> %s (%s): target host unknown", input.SourceHost, input.TargetHost, input.RelationType))
				continue
			}

			existedBefore, err := relationExistsTx(ctx, tx, sourceID, targetID, input.RelationType)
			if err != nil {
				return err
			}
			if _, err := upsertRelationTx(ctx, tx, Relation{
				SourceHostID: sourceID,
				TargetHostID: targetID,
				RelationType: input.RelationType,
				Confidence:   input.Confidence,
				Metadata:     input.Metadata,
			}); err != nil {
				return err
			}
			if existedBefore {
				report.Updated++
			} else {
				report.Added++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func upsertRelationTx(ctx context.Context, tx *sql.Tx, rel Relation) (int64, error) {
	ts := now()
	validated := 0
	if rel.ValidatedByUser {
		validated = 1
	}
	var id int64
	err := tx.QueryRowContext(ctx, `
        INSERT INTO host_relations
            (source_host_id, target_host_id, relation_type, confidence, validated_by_user, metadata, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(source_host_id, target_host_id, relation_type) DO UPDATE SET
            confidence = excluded.confidence,
            metadata   = excluded.metadata,
            updated_at = excluded.updated_at
        RETURNING id`,
		rel.SourceHostID, rel.TargetHostID, rel.RelationType, rel.Confidence,
		validated, marshalMap(rel.Metadata), ts, ts).Scan(&id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, fmt.Errorf("host not found for relation %d -> %d", rel.SourceHostID, rel.TargetHostID)
		}
		return 0, atherrors.NewPersistence("add_relation", "upsert failed", err)
	}
	return id, nil
}

func relationExistsTx(ctx context.Context, tx *sql.Tx, sourceID, targetID int64, relationType string) (bool, error) {
	var count int
	err := tx.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM host_relations
        WHERE source_host_id = ? AND target_host_id = ? AND relation_type = ?`,
		sourceID, targetID, relationType).Scan(&count)
	if err != nil {
		return false, atherrors.NewPersistence("add_relation", "existence check failed", err)
	}
	return count > 0, nil
}

func resolveHostIDTx(ctx context.Context, tx *sql.Tx, hostname string) (int64, bool, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM hosts_v2 WHERE hostname = ?`,
		strings.ToLower(strings.TrimSpace(hostname))).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, atherrors.NewPersistence("resolve_host", "lookup failed", err)
	}
	return id, true, nil
}

// ListRelations returns relations, optionally filtered to those touching
// hostID (as source or target).
func (s *Store) ListRelations(ctx context.Context, hostID *int64) ([]*Relation, error) {
	query := `SELECT id, source_host_id, target_host_id, relation_type, confidence,
        validated_by_user, metadata, created_at, updated_at FROM host_relations`
	var args []any
	if hostID != nil {
		query += ` WHERE source_host_id = ? OR target_host_id = ?`
		args = append(args, *hostID, *hostID)
	}
	query += ` ORDER BY confidence DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, atherrors.NewPersistence("list_relations", "query failed", err)
	}
	defer rows.Close()

	var relations []*Relation
	for rows.Next() {
		var rel Relation
		var validated int
		var metadata string
		var created, updated sqlTime
		if err := rows.Scan(&rel.ID, &rel.SourceHostID, &rel.TargetHostID, &rel.RelationType,
			&rel.Confidence, &validated, &metadata, &created, &updated); err != nil {
			return nil, atherrors.NewPersistence("list_relations", "scan failed", err)
		}
		rel.ValidatedByUser = validated != 0
		rel.Metadata = unmarshalMap(metadata)
		rel.CreatedAt = created.Time()
		rel.UpdatedAt = updated.Time()
		relations = append(relations, &rel)
	}
	return relations, rows.Err()
}

// ValidateRelation marks a relation as user-confirmed.
func (s *Store) ValidateRelation(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE host_relations SET validated_by_user = 1, updated_at = ? WHERE id = ?`, now(), id)
	if err != nil {
		return atherrors.NewPersistence("validate_relation", "update failed", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("relation not found: id %d", id)
	}
	return nil
}

// DeleteRelation removes one relation.
func (s *Store) DeleteRelation(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM host_relations WHERE id = ?`, id)
	if err != nil {
		return atherrors.NewPersistence("delete_relation", "delete failed", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("relation not found: id %d", id)
	}
	return nil
}
