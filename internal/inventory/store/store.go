// Package store is the single-file relational persistence core. Every other
// component talks to the inventory, scan cache, audit trail, and
// conversation tables through the one Store type here.
//
// The backing engine is SQLite (modernc.org/sqlite, no CGO) with WAL mode
// and foreign keys on. Every multi-row mutation runs inside an explicit
// transaction; readers never observe partial state.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	atherrors "athena/internal/errors"
	"athena/internal/logging"
)

var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS inventory_sources (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    name          TEXT NOT NULL UNIQUE,
    source_type   TEXT NOT NULL DEFAULT '',
    file_path     TEXT NOT NULL DEFAULT '',
    import_method TEXT NOT NULL DEFAULT '',
    host_count    INTEGER NOT NULL DEFAULT 0,
    metadata      TEXT NOT NULL DEFAULT '{}',
    created_at    DATETIME NOT NULL,
    updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS hosts_v2 (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    hostname    TEXT NOT NULL UNIQUE,
    ip_address  TEXT NOT NULL DEFAULT '',
    aliases     TEXT NOT NULL DEFAULT '[]',
    environment TEXT NOT NULL DEFAULT '',
    groups      TEXT NOT NULL DEFAULT '[]',
    role        TEXT NOT NULL DEFAULT '',
    service     TEXT NOT NULL DEFAULT '',
    ssh_port    INTEGER NOT NULL DEFAULT 22,
    status      TEXT NOT NULL DEFAULT 'unknown',
    source_id   INTEGER REFERENCES inventory_sources(id) ON DELETE CASCADE,
    metadata    TEXT NOT NULL DEFAULT '{}',
    created_at  DATETIME NOT NULL,
    updated_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_hosts_hostname    ON hosts_v2(hostname);
CREATE INDEX IF NOT EXISTS idx_hosts_environment ON hosts_v2(environment);
CREATE INDEX IF NOT EXISTS idx_hosts_source_id   ON hosts_v2(source_id);
CREATE INDEX IF NOT EXISTS idx_hosts_groups      ON hosts_v2(groups);
CREATE INDEX IF NOT EXISTS idx_hosts_aliases     ON hosts_v2(aliases);
CREATE INDEX IF NOT EXISTS idx_hosts_status      ON hosts_v2(status);

CREATE TABLE IF NOT EXISTS host_versions (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    host_id    INTEGER NOT NULL REFERENCES hosts_v2(id) ON DELETE CASCADE,
    version    INTEGER NOT NULL,
    changes    TEXT NOT NULL DEFAULT '{}',
    changed_by TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    UNIQUE(host_id, version)
);

CREATE TABLE IF NOT EXISTS host_deletions (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    host_id         INTEGER NOT NULL,
    hostname        TEXT NOT NULL,
    snapshot        TEXT NOT NULL DEFAULT '{}',
    deleted_by      TEXT NOT NULL DEFAULT '',
    deletion_reason TEXT NOT NULL DEFAULT '',
    deleted_at      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_host_deletions_hostname   ON host_deletions(hostname);
CREATE INDEX IF NOT EXISTS idx_host_deletions_deleted_at ON host_deletions(deleted_at);

CREATE TABLE IF NOT EXISTS host_relations (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    source_host_id    INTEGER NOT NULL REFERENCES hosts_v2(id) ON DELETE CASCADE,
    target_host_id    INTEGER NOT NULL REFERENCES hosts_v2(id) ON DELETE CASCADE,
    relation_type     TEXT NOT NULL,
    confidence        REAL NOT NULL DEFAULT 0.0,
    validated_by_user INTEGER NOT NULL DEFAULT 0,
    metadata          TEXT NOT NULL DEFAULT '{}',
    created_at        DATETIME NOT NULL,
    updated_at        DATETIME NOT NULL,
    UNIQUE(source_host_id, target_host_id, relation_type)
);

CREATE TABLE IF NOT EXISTS scan_cache (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    host_id     INTEGER NOT NULL REFERENCES hosts_v2(id) ON DELETE CASCADE,
    scan_type   TEXT NOT NULL,
    data        TEXT NOT NULL DEFAULT '{}',
    ttl_seconds INTEGER NOT NULL DEFAULT 0,
    created_at  DATETIME NOT NULL,
    expires_at  DATETIME NOT NULL,
    UNIQUE(host_id, scan_type)
);
CREATE INDEX IF NOT EXISTS idx_scan_cache_expires ON scan_cache(expires_at);

CREATE TABLE IF NOT EXISTS local_context (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    category   TEXT NOT NULL,
    key        TEXT NOT NULL,
    value      TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    UNIQUE(category, key)
);

CREATE TABLE IF NOT EXISTS inventory_snapshots (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    name          TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    host_count    INTEGER NOT NULL DEFAULT 0,
    snapshot_data TEXT NOT NULL DEFAULT '{}',
    created_at    DATETIME NOT NULL
);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS sessions (
    id            TEXT PRIMARY KEY,
    started_at    DATETIME NOT NULL,
    ended_at      DATETIME,
    status        TEXT NOT NULL DEFAULT 'active',
    total_queries INTEGER NOT NULL DEFAULT 0,
    total_actions INTEGER NOT NULL DEFAULT 0,
    metadata      TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS queries (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id        TEXT NOT NULL REFERENCES sessions(id),
    timestamp         DATETIME NOT NULL,
    query             TEXT NOT NULL,
    response          TEXT NOT NULL DEFAULT '',
    response_type     TEXT NOT NULL DEFAULT '',
    actions_count     INTEGER NOT NULL DEFAULT 0,
    execution_time_ms INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS actions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    query_id    INTEGER NOT NULL,
    session_id  TEXT NOT NULL,
    timestamp   DATETIME NOT NULL,
    target      TEXT NOT NULL DEFAULT '',
    command     TEXT NOT NULL DEFAULT '',
    exit_code   INTEGER NOT NULL DEFAULT 0,
    stdout      TEXT NOT NULL DEFAULT '',
    stderr      TEXT NOT NULL DEFAULT '',
    risk_level  TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS context_snapshots (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id    TEXT NOT NULL,
    timestamp     DATETIME NOT NULL,
    context_data  TEXT NOT NULL DEFAULT '{}',
    snapshot_type TEXT NOT NULL DEFAULT ''
);
`,
	},
	{
		version: 3,
		sql: `
CREATE TABLE IF NOT EXISTS conversations (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    title       TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL,
    updated_at  DATETIME NOT NULL,
    token_count INTEGER NOT NULL DEFAULT 0,
    compacted   INTEGER NOT NULL DEFAULT 0,
    is_current  INTEGER NOT NULL DEFAULT 0,
    metadata    TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS messages (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role            TEXT NOT NULL,
    content         TEXT NOT NULL,
    timestamp       DATETIME NOT NULL,
    tokens          INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, timestamp);
`,
	},
}

// Store is the single repository over the embedded database file.
type Store struct {
	db     *sql.DB
	path   string
	logger logging.Logger
}

// Open opens (or creates) the database at path and applies pending
// migrations. Pass ":memory:" for an in-memory store (tests).
func Open(path string, logger logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// modernc sqlite serializes writers; a single connection avoids
	// SQLITE_BUSY on concurrent transactions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db, path: path, logger: logging.OrNop(logger)}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Close releases database resources.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

var (
	defaultMu    sync.Mutex
	defaultStore *Store
)

// Default returns the process-wide store, opening it on first call.
// Re-initialization with a different path is ignored with a warning.
func Default(path string, logger logging.Logger) (*Store, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultStore != nil {
		if defaultStore.path != path {
			logging.OrNop(logger).Warn(
				"store already initialized at %s, ignoring re-init with %s",
				defaultStore.path, path)
		}
		return defaultStore, nil
	}
	s, err := Open(path, logger)
	if err != nil {
		return nil, err
	}
	defaultStore = s
	return s, nil
}

// ResetDefault closes and forgets the process-wide store. Tests only.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultStore != nil {
		_ = defaultStore.Close()
		defaultStore = nil
	}
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, operation string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return atherrors.NewPersistence(operation, "begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return atherrors.NewPersistence(operation, "commit", err)
	}
	return nil
}

// JSON column helpers. Arrays and maps are stored serialized; element
// matching parses them in-process so an alias that is a prefix of another
// never false-positives the way substring LIKE would.

func marshalStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func unmarshalStrings(data string) []string {
	if data == "" || data == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil
	}
	return out
}

func marshalMap(values map[string]string) string {
	if len(values) == 0 {
		return "{}"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func unmarshalMap(data string) map[string]string {
	if data == "" || data == "{}" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil
	}
	return out
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

func now() time.Time { return time.Now().UTC() }

// sqlTime scans DATETIME columns regardless of whether the driver hands back
// a time.Time, string, or byte slice.
type sqlTime struct {
	value time.Time
}

func (t *sqlTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.value = time.Time{}
		return nil
	case time.Time:
		t.value = v
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case int64:
		t.value = time.Unix(v, 0).UTC()
		return nil
	default:
		return fmt.Errorf("cannot scan %T into sqlTime", src)
	}
}

func (t *sqlTime) parse(s string) error {
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
	} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.value = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("cannot parse %q as time", s)
}

func (t sqlTime) Time() time.Time { return t.value }

// escapeLike escapes LIKE wildcards in user input; callers append
// `ESCAPE '\'` to the LIKE clause.
func escapeLike(input string) string {
	input = strings.ReplaceAll(input, `\`, `\\`)
	input = strings.ReplaceAll(input, `%`, `\%`)
	input = strings.ReplaceAll(input, `_`, `\_`)
	return input
}
