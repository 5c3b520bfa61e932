package store

import (
	"context"
	"database/sql"
	"fmt"

	atherrors "athena/internal/errors"
)

// Audit trail: sessions group queries, queries reference executed actions.
// Used by session export, not by the orchestration loop itself.

// StartSession opens a new audit session.
func (s *Store) StartSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO sessions (id, started_at, status) VALUES (?, ?, 'active')`,
		id, now())
	if err != nil {
		return atherrors.NewPersistence("start_session", "insert failed", err)
	}
	return nil
}

// EndSession closes an audit session and freezes its counters.
func (s *Store) EndSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
        UPDATE sessions SET ended_at = ?, status = 'ended',
            total_queries = (SELECT COUNT(*) FROM queries WHERE session_id = sessions.id),
            total_actions = (SELECT COUNT(*) FROM actions WHERE session_id = sessions.id)
        WHERE id = ?`, now(), id)
	if err != nil {
		return atherrors.NewPersistence("end_session", "update failed", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

// RecordQuery appends one user query with its final response and returns the
// query id for action attachment.
func (s *Store) RecordQuery(ctx context.Context, q Query) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO queries (session_id, timestamp, query, response, response_type, actions_count, execution_time_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		q.SessionID, now(), q.Query, q.Response, q.ResponseType, q.ActionsCount, q.ExecutionTimeMS).Scan(&id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, fmt.Errorf("session not found: %s", q.SessionID)
		}
		return 0, atherrors.NewPersistence("record_query", "insert failed", err)
	}
	return id, nil
}

// RecordAction appends one executed action. Stdout/stderr are truncated to
// 1000 characters to bound the audit table.
func (s *Store) RecordAction(ctx context.Context, a Action) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO actions (query_id, session_id, timestamp, target, command, exit_code, stdout, stderr, risk_level, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		a.QueryID, a.SessionID, now(), a.Target, a.Command, a.ExitCode,
		truncate(a.Stdout, 1000), truncate(a.Stderr, 1000), a.RiskLevel, a.DurationMS).Scan(&id)
	if err != nil {
		return 0, atherrors.NewPersistence("record_action", "insert failed", err)
	}
	return id, nil
}

// GetSession fetches one session header.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	var started sqlTime
	var ended sql.NullString
	err := s.db.QueryRowContext(ctx, `
        SELECT id, started_at, ended_at, status, total_queries, total_actions, metadata
        FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &started, &ended, &sess.Status, &sess.TotalQueries, &sess.TotalActions, &sess.Metadata)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	if err != nil {
		return nil, atherrors.NewPersistence("get_session", "read failed", err)
	}
	sess.StartedAt = started.Time()
	if ended.Valid {
		var endedAt sqlTime
		if err := endedAt.parse(ended.String); err == nil {
			t := endedAt.Time()
			sess.EndedAt = &t
		}
	}
	return &sess, nil
}

// SessionQueries returns every query in a session, oldest first.
func (s *Store) SessionQueries(ctx context.Context, sessionID string) ([]*Query, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, session_id, timestamp, query, response, response_type, actions_count, execution_time_ms
        FROM queries WHERE session_id = ? ORDER BY timestamp, id`, sessionID)
	if err != nil {
		return nil, atherrors.NewPersistence("session_queries", "query failed", err)
	}
	defer rows.Close()

	var queries []*Query
	for rows.Next() {
		var q Query
		var ts sqlTime
		if err := rows.Scan(&q.ID, &q.SessionID, &ts, &q.Query, &q.Response,
			&q.ResponseType, &q.ActionsCount, &q.ExecutionTimeMS); err != nil {
			return nil, atherrors.NewPersistence("session_queries", "scan failed", err)
		}
		q.Timestamp = ts.Time()
		queries = append(queries, &q)
	}
	return queries, rows.Err()
}

// SessionActions returns every action in a session, oldest first.
func (s *Store) SessionActions(ctx context.Context, sessionID string) ([]*Action, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, query_id, session_id, timestamp, target, command, exit_code, stdout, stderr, risk_level, duration_ms
        FROM actions WHERE session_id = ? ORDER BY timestamp, id`, sessionID)
	if err != nil {
		return nil, atherrors.NewPersistence("session_actions", "query failed", err)
	}
	defer rows.Close()

	var actions []*Action
	for rows.Next() {
		var a Action
		var ts sqlTime
		if err := rows.Scan(&a.ID, &a.QueryID, &a.SessionID, &ts, &a.Target, &a.Command,
			&a.ExitCode, &a.Stdout, &a.Stderr, &a.RiskLevel, &a.DurationMS); err != nil {
			return nil, atherrors.NewPersistence("session_actions", "scan failed", err)
		}
		a.Timestamp = ts.Time()
		actions = append(actions, &a)
	}
	return actions, rows.Err()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
