package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	atherrors "athena/internal/errors"
)

// AddHost atomically upserts a host. First write emits a
// {"action":"created"} version; later writes merge non-nil input fields into
// the existing row and emit a version carrying the old/new diff of fields
// that actually changed. Insert-vs-update detection relies on the upsert's
// RETURNING created_at (created_at < now means the row pre-existed), never
// on a separate read.
func (s *Store) AddHost(ctx context.Context, input HostInput, changedBy string) (int64, error) {
	var hostID int64
	err := s.withTx(ctx, "add_host", func(tx *sql.Tx) error {
		id, err := s.upsertHostTx(ctx, tx, input, changedBy)
		if err != nil {
			return err
		}
		hostID = id
		return nil
	})
	return hostID, err
}

// BulkAddHosts adds all hosts in one transaction. Any failure rolls back the
// entire batch and reports how many rows had succeeded before it.
func (s *Store) BulkAddHosts(ctx context.Context, hosts []HostInput, sourceID *int64, changedBy string) (int, error) {
	added := 0
	err := s.withTx(ctx, "bulk_add_hosts", func(tx *sql.Tx) error {
		for _, input := range hosts {
			if sourceID != nil && input.SourceID == nil {
				input.SourceID = sourceID
			}
			if _, err := s.upsertHostTx(ctx, tx, input, changedBy); err != nil {
				return &atherrors.PersistenceError{
					Operation: "bulk_add_hosts",
					Reason:    "batch rolled back",
					Details: map[string]any{
						"hosts_attempted":      len(hosts),
						"hosts_before_failure": added,
					},
					Err: err,
				}
			}
			added++
		}
		if sourceID != nil {
			if _, err := tx.ExecContext(ctx, `
                UPDATE inventory_sources
                SET host_count = (SELECT COUNT(*) FROM hosts_v2 WHERE source_id = ?), updated_at = ?
                WHERE id = ?`, *sourceID, now(), *sourceID); err != nil {
				return atherrors.NewPersistence("bulk_add_hosts", "update source host count", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

func (s *Store) upsertHostTx(ctx context.Context, tx *sql.Tx, input HostInput, changedBy string) (int64, error) {
	hostname := strings.ToLower(strings.TrimSpace(input.Hostname))
	if hostname == "" {
		return 0, atherrors.NewPersistence("add_host", "hostname is required", nil)
	}

	// Pre-image for the version diff only. The insert/update decision comes
	// from the upsert itself, so this read cannot race it inside the
	// transaction.
	before, err := s.getHostByExactNameTx(ctx, tx, hostname)
	if err != nil && !atherrors.IsNotFound(err) {
		return 0, err
	}

	ts := now()
	var aliasesParam, groupsParam, metadataParam any
	if input.Aliases != nil {
		aliasesParam = marshalStrings(input.Aliases)
	}
	if input.Groups != nil {
		groupsParam = marshalStrings(input.Groups)
	}
	if input.Metadata != nil {
		metadataParam = marshalMap(input.Metadata)
	}

	var hostID int64
	var createdAt sqlTime
	err = tx.QueryRowContext(ctx, `
        INSERT INTO hosts_v2
            (hostname, ip_address, aliases, environment, groups, role, service,
             ssh_port, status, source_id, metadata, created_at, updated_at)
        VALUES
            (?, COALESCE(?, ''), COALESCE(?, '[]'), COALESCE(?, ''), COALESCE(?, '[]'),
             COALESCE(?, ''), COALESCE(?, ''), COALESCE(?, 22), COALESCE(?, 'unknown'),
             ?, COALESCE(?, '{}'), ?, ?)
        ON CONFLICT(hostname) DO UPDATE SET
            ip_address  = COALESCE(?, hosts_v2.ip_address),
            aliases     = COALESCE(?, hosts_v2.aliases),
            environment = COALESCE(?, hosts_v2.environment),
            groups      = COALESCE(?, hosts_v2.groups),
            role        = COALESCE(?, hosts_v2.role),
            service     = COALESCE(?, hosts_v2.service),
            ssh_port    = COALESCE(?, hosts_v2.ssh_port),
            status      = COALESCE(?, hosts_v2.status),
            source_id   = COALESCE(?, hosts_v2.source_id),
            metadata    = COALESCE(?, hosts_v2.metadata),
            updated_at  = ?
        RETURNING id, created_at`,
		hostname, input.IP, aliasesParam, input.Environment, groupsParam,
		input.Role, input.Service, input.SSHPort, input.Status,
		input.SourceID, metadataParam, ts, ts,
		input.IP, aliasesParam, input.Environment, groupsParam,
		input.Role, input.Service, input.SSHPort, input.Status,
		input.SourceID, metadataParam, ts,
	).Scan(&hostID, &createdAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, atherrors.NewPersistence("add_host", "source not found", err)
		}
		return 0, atherrors.NewPersistence("add_host", "upsert failed", err)
	}

	existedBefore := createdAt.Time().Before(ts)

	var changes json.RawMessage
	if !existedBefore {
		changes = json.RawMessage(`{"action":"created"}`)
	} else {
		diff := diffHost(before, input)
		if len(diff) == 0 {
			return hostID, nil
		}
		data, err := json.Marshal(diff)
		if err != nil {
			return 0, atherrors.NewPersistence("add_host", "marshal diff", err)
		}
		changes = data
	}

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO host_versions (host_id, version, changes, changed_by, created_at)
        VALUES (?, (SELECT COALESCE(MAX(version), 0) + 1 FROM host_versions WHERE host_id = ?), ?, ?, ?)`,
		hostID, hostID, string(changes), changedBy, ts); err != nil {
		return 0, atherrors.NewPersistence("add_host", "record version", err)
	}
	return hostID, nil
}

// fieldChange is one entry of a version diff.
type fieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

func diffHost(before *Host, input HostInput) map[string]fieldChange {
	diff := map[string]fieldChange{}
	if before == nil {
		return diff
	}
	stringField := func(name, old string, newVal *string) {
		if newVal != nil && *newVal != old {
			diff[name] = fieldChange{Old: nullable(old), New: nullable(*newVal)}
		}
	}
	stringField("ip", before.IP, input.IP)
	stringField("environment", before.Environment, input.Environment)
	stringField("role", before.Role, input.Role)
	stringField("service", before.Service, input.Service)
	stringField("status", before.Status, input.Status)
	if input.SSHPort != nil && *input.SSHPort != before.SSHPort {
		diff["ssh_port"] = fieldChange{Old: before.SSHPort, New: *input.SSHPort}
	}
	if input.Aliases != nil && marshalStrings(input.Aliases) != marshalStrings(before.Aliases) {
		diff["aliases"] = fieldChange{Old: before.Aliases, New: input.Aliases}
	}
	if input.Groups != nil && marshalStrings(input.Groups) != marshalStrings(before.Groups) {
		diff["groups"] = fieldChange{Old: before.Groups, New: input.Groups}
	}
	if input.Metadata != nil && marshalMap(input.Metadata) != marshalMap(before.Metadata) {
		diff["metadata"] = fieldChange{Old: before.Metadata, New: input.Metadata}
	}
	if input.SourceID != nil && (before.SourceID == nil || *before.SourceID != *input.SourceID) {
		var old any
		if before.SourceID != nil {
			old = *before.SourceID
		}
		diff["source_id"] = fieldChange{Old: old, New: *input.SourceID}
	}
	return diff
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const hostColumns = `id, hostname, ip_address, aliases, environment, groups,
    role, service, ssh_port, status, source_id, metadata, created_at, updated_at`

func scanHost(row interface{ Scan(...any) error }) (*Host, error) {
	var h Host
	var aliases, groups, metadata string
	var sourceID sql.NullInt64
	var created, updated sqlTime
	err := row.Scan(&h.ID, &h.Hostname, &h.IP, &aliases, &h.Environment, &groups,
		&h.Role, &h.Service, &h.SSHPort, &h.Status, &sourceID, &metadata, &created, &updated)
	if err != nil {
		return nil, err
	}
	h.Aliases = unmarshalStrings(aliases)
	h.Groups = unmarshalStrings(groups)
	h.Metadata = unmarshalMap(metadata)
	if sourceID.Valid {
		h.SourceID = &sourceID.Int64
	}
	h.CreatedAt = created.Time()
	h.UpdatedAt = updated.Time()
	return &h, nil
}

func (s *Store) getHostByExactNameTx(ctx context.Context, tx *sql.Tx, hostname string) (*Host, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+hostColumns+` FROM hosts_v2 WHERE hostname = ?`, hostname)
	host, err := scanHost(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("host not found: %s", hostname)
	}
	if err != nil {
		return nil, atherrors.NewPersistence("get_host", "read failed", err)
	}
	return host, nil
}

// GetHostByName resolves name case-insensitively: exact hostname first, then
// an exact element of any host's aliases array. Alias matching parses the
// JSON array rather than substring-matching the serialized text.
func (s *Store) GetHostByName(ctx context.Context, name string) (*Host, error) {
	lowered := strings.ToLower(strings.TrimSpace(name))
	if lowered == "" {
		return nil, fmt.Errorf("host not found: empty name")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+hostColumns+` FROM hosts_v2 WHERE hostname = ?`, lowered)
	host, err := scanHost(row)
	if err == nil {
		return host, nil
	}
	if err != sql.ErrNoRows {
		return nil, atherrors.NewPersistence("get_host_by_name", "read failed", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+hostColumns+` FROM hosts_v2 WHERE aliases != '[]'`)
	if err != nil {
		return nil, atherrors.NewPersistence("get_host_by_name", "alias scan failed", err)
	}
	defer rows.Close()
	for rows.Next() {
		candidate, err := scanHost(rows)
		if err != nil {
			return nil, atherrors.NewPersistence("get_host_by_name", "alias scan failed", err)
		}
		if containsFold(candidate.Aliases, lowered) {
			return candidate, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, atherrors.NewPersistence("get_host_by_name", "alias scan failed", err)
	}
	return nil, fmt.Errorf("host not found: %s", name)
}

// GetHostByID fetches one host by row id.
func (s *Store) GetHostByID(ctx context.Context, id int64) (*Host, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+hostColumns+` FROM hosts_v2 WHERE id = ?`, id)
	host, err := scanHost(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("host not found: id %d", id)
	}
	if err != nil {
		return nil, atherrors.NewPersistence("get_host_by_id", "read failed", err)
	}
	return host, nil
}

// SearchHosts filters hosts. Pattern is a case-insensitive substring over
// hostname/aliases/ip; group requires an exact array element; a zero Limit
// means unlimited.
func (s *Store) SearchHosts(ctx context.Context, filter SearchFilter) ([]*Host, error) {
	var clauses []string
	var args []any

	if filter.Pattern != "" {
		escaped := "%" + escapeLike(strings.ToLower(filter.Pattern)) + "%"
		clauses = append(clauses,
			`(hostname LIKE ? ESCAPE '\' OR ip_address LIKE ? ESCAPE '\' OR lower(aliases) LIKE ? ESCAPE '\')`)
		args = append(args, escaped, escaped, escaped)
	}
	if filter.Environment != "" {
		clauses = append(clauses, `environment = ?`)
		args = append(args, filter.Environment)
	}
	if filter.Group != "" {
		// Narrow with LIKE, verify exact element below.
		clauses = append(clauses, `lower(groups) LIKE ? ESCAPE '\'`)
		args = append(args, `%"`+escapeLike(strings.ToLower(filter.Group))+`"%`)
	}
	if filter.SourceID != nil {
		clauses = append(clauses, `source_id = ?`)
		args = append(args, *filter.SourceID)
	}
	if filter.Status != "" {
		clauses = append(clauses, `status = ?`)
		args = append(args, filter.Status)
	}

	query := `SELECT ` + hostColumns + ` FROM hosts_v2`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY hostname`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, atherrors.NewPersistence("search_hosts", "query failed", err)
	}
	defer rows.Close()

	var hosts []*Host
	for rows.Next() {
		host, err := scanHost(rows)
		if err != nil {
			return nil, atherrors.NewPersistence("search_hosts", "scan failed", err)
		}
		if filter.Group != "" && !containsFold(host.Groups, filter.Group) {
			continue
		}
		hosts = append(hosts, host)
		if filter.Limit > 0 && len(hosts) >= filter.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, atherrors.NewPersistence("search_hosts", "iteration failed", err)
	}
	return hosts, nil
}

// ListHosts returns every host ordered by hostname.
func (s *Store) ListHosts(ctx context.Context) ([]*Host, error) {
	return s.SearchHosts(ctx, SearchFilter{})
}

// DeleteHost snapshots the full row into host_deletions and removes the host
// in the same transaction, so the audit record and the delete are atomic.
// The cascade removes the host's versions, relations and scan-cache rows;
// the audit row is not FK-bound and survives.
func (s *Store) DeleteHost(ctx context.Context, hostname, deletedBy, reason string) error {
	lowered := strings.ToLower(strings.TrimSpace(hostname))
	return s.withTx(ctx, "delete_host", func(tx *sql.Tx) error {
		host, err := s.getHostByExactNameTx(ctx, tx, lowered)
		if err != nil {
			return err
		}
		snapshot, err := json.Marshal(host)
		if err != nil {
			return atherrors.NewPersistence("delete_host", "marshal snapshot", err)
		}
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO host_deletions (host_id, hostname, snapshot, deleted_by, deletion_reason, deleted_at)
            VALUES (?, ?, ?, ?, ?, ?)`,
			host.ID, host.Hostname, string(snapshot), deletedBy, reason, now()); err != nil {
			return atherrors.NewPersistence("delete_host", "write audit row", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM hosts_v2 WHERE id = ?`, host.ID); err != nil {
			return atherrors.NewPersistence("delete_host", "delete failed", err)
		}
		return nil
	})
}

// GetHostVersions returns a host's full mutation history, oldest first.
func (s *Store) GetHostVersions(ctx context.Context, hostID int64) ([]*HostVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, host_id, version, changes, changed_by, created_at
        FROM host_versions WHERE host_id = ? ORDER BY version`, hostID)
	if err != nil {
		return nil, atherrors.NewPersistence("get_host_versions", "query failed", err)
	}
	defer rows.Close()

	var versions []*HostVersion
	for rows.Next() {
		var v HostVersion
		var changes string
		var created sqlTime
		if err := rows.Scan(&v.ID, &v.HostID, &v.Version, &changes, &v.ChangedBy, &created); err != nil {
			return nil, atherrors.NewPersistence("get_host_versions", "scan failed", err)
		}
		v.Changes = json.RawMessage(changes)
		v.CreatedAt = created.Time()
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}

// ListDeletions returns the deletion audit log, newest first.
func (s *Store) ListDeletions(ctx context.Context, limit int) ([]*HostDeletion, error) {
	query := `SELECT id, host_id, hostname, snapshot, deleted_by, deletion_reason, deleted_at
        FROM host_deletions ORDER BY deleted_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, atherrors.NewPersistence("list_deletions", "query failed", err)
	}
	defer rows.Close()

	var deletions []*HostDeletion
	for rows.Next() {
		var d HostDeletion
		var deleted sqlTime
		if err := rows.Scan(&d.ID, &d.HostID, &d.Hostname, &d.Snapshot, &d.DeletedBy, &d.DeletionReason, &deleted); err != nil {
			return nil, atherrors.NewPersistence("list_deletions", "scan failed", err)
		}
		d.DeletedAt = deleted.Time()
		deletions = append(deletions, &d)
	}
	return deletions, rows.Err()
}

func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "foreign key")
}
