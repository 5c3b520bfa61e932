package store

import (
	"encoding/json"
	"time"
)

// HostStatus enumerates the reachability states tracked per host.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusUnknown = "unknown"
)

// Host is the canonical inventory record. Hostname is the only identity and
// is always stored lowercase. Aliases, Groups and Metadata are persisted as
// JSON columns.
type Host struct {
	ID          int64             `json:"id"`
	Hostname    string            `json:"hostname"`
	IP          string            `json:"ip,omitempty"`
	Aliases     []string          `json:"aliases,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Groups      []string          `json:"groups,omitempty"`
	Role        string            `json:"role,omitempty"`
	Service     string            `json:"service,omitempty"`
	SSHPort     int               `json:"ssh_port"`
	Status      string            `json:"status"`
	SourceID    *int64            `json:"source_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// HostInput carries an upsert request. Nil pointer fields preserve the
// current value on update; on insert they take the column default
// (ssh_port 22, status unknown, empty JSON collections).
type HostInput struct {
	Hostname    string
	IP          *string
	Aliases     []string
	Environment *string
	Groups      []string
	Role        *string
	Service     *string
	SSHPort     *int
	Status      *string
	SourceID    *int64
	Metadata    map[string]string
}

// HostVersion is one entry in a host's mutation history. Version numbers are
// monotonic and dense per host. Changes holds either {"action":"created"} or
// a {field: {"old": x, "new": y}} diff of fields that actually changed.
type HostVersion struct {
	ID        int64           `json:"id"`
	HostID    int64           `json:"host_id"`
	Version   int             `json:"version"`
	Changes   json.RawMessage `json:"changes"`
	ChangedBy string          `json:"changed_by"`
	CreatedAt time.Time       `json:"created_at"`
}

// HostDeletion is the audit row written before a host is removed. It is not
// FK-bound and survives the delete.
type HostDeletion struct {
	ID             int64     `json:"id"`
	HostID         int64     `json:"host_id"`
	Hostname       string    `json:"hostname"`
	Snapshot       string    `json:"snapshot"` // full final state, JSON
	DeletedBy      string    `json:"deleted_by"`
	DeletionReason string    `json:"deletion_reason"`
	DeletedAt      time.Time `json:"deleted_at"`
}

// Source describes where a batch of hosts was imported from.
type Source struct {
	ID           int64             `json:"id"`
	Name         string            `json:"name"`
	SourceType   string            `json:"source_type"`
	FilePath     string            `json:"file_path,omitempty"`
	ImportMethod string            `json:"import_method,omitempty"`
	HostCount    int               `json:"host_count"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// RelationType enumerates host-to-host relation kinds.
const (
	RelationClusterMember   = "cluster_member"
	RelationDatabaseReplica = "database_replica"
	RelationDependsOn       = "depends_on"
	RelationBackupOf        = "backup_of"
	RelationLoadBalanced    = "load_balanced"
	RelationRelatedService  = "related_service"
)

// SymmetricRelation reports whether (a,b,t) is considered equal to (b,a,t)
// for deduplication and existing-relation filtering.
func SymmetricRelation(relationType string) bool {
	return relationType == RelationClusterMember || relationType == RelationLoadBalanced
}

// Relation links two hosts. (SourceHostID, TargetHostID, RelationType) is
// unique.
type Relation struct {
	ID              int64             `json:"id"`
	SourceHostID    int64             `json:"source_host_id"`
	TargetHostID    int64             `json:"target_host_id"`
	RelationType    string            `json:"relation_type"`
	Confidence      float64           `json:"confidence"`
	ValidatedByUser bool              `json:"validated_by_user"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// RelationInput names hosts rather than ids so import pipelines can feed it
// directly. Unresolvable hostnames are skipped, not errored.
type RelationInput struct {
	SourceHost   string
	TargetHost   string
	RelationType string
	Confidence   float64
	Metadata     map[string]string
}

// RelationBatchReport summarizes a batch relation insert.
type RelationBatchReport struct {
	Added   int      `json:"added"`
	Updated int      `json:"updated"`
	Skipped []string `json:"skipped,omitempty"`
}

// ContextEntry is one key/value row of the local machine context.
type ContextEntry struct {
	Category  string    `json:"category"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is an immutable full serialization of hosts and relations.
type Snapshot struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	HostCount   int       `json:"host_count"`
	Data        string    `json:"snapshot_data"`
	CreatedAt   time.Time `json:"created_at"`
}

// SearchFilter narrows SearchHosts. Zero values mean "no constraint";
// Limit 0 means unlimited.
type SearchFilter struct {
	Pattern     string
	Environment string
	Group       string
	SourceID    *int64
	Status      string
	Limit       int
}

// Stats aggregates store-wide counts for the /stats surface.
type Stats struct {
	TotalHosts         int            `json:"total_hosts"`
	ByEnvironment      map[string]int `json:"by_environment"`
	BySource           map[string]int `json:"by_source"`
	TotalRelations     int            `json:"total_relations"`
	ValidatedRelations int            `json:"validated_relations"`
	CachedScans        int            `json:"cached_scans"`
}

// Session groups queries for the audit trail.
type Session struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Status       string    `json:"status"`
	TotalQueries int       `json:"total_queries"`
	TotalActions int       `json:"total_actions"`
	Metadata     string    `json:"metadata,omitempty"`
}

// Query is one user request inside a session.
type Query struct {
	ID              int64     `json:"id"`
	SessionID       string    `json:"session_id"`
	Timestamp       time.Time `json:"timestamp"`
	Query           string    `json:"query"`
	Response        string    `json:"response,omitempty"`
	ResponseType    string    `json:"response_type,omitempty"`
	ActionsCount    int       `json:"actions_count"`
	ExecutionTimeMS int64     `json:"execution_time_ms"`
}

// Action is one executed command attached to a query.
type Action struct {
	ID         int64     `json:"id"`
	QueryID    int64     `json:"query_id"`
	SessionID  string    `json:"session_id"`
	Timestamp  time.Time `json:"timestamp"`
	Target     string    `json:"target"`
	Command    string    `json:"command"`
	ExitCode   int       `json:"exit_code"`
	Stdout     string    `json:"stdout,omitempty"`
	Stderr     string    `json:"stderr,omitempty"`
	RiskLevel  string    `json:"risk_level,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// Conversation is the rolling dialogue container. At most one row per store
// has IsCurrent true.
type Conversation struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	TokenCount int       `json:"token_count"`
	Compacted  bool      `json:"compacted"`
	IsCurrent  bool      `json:"is_current"`
	Metadata   string    `json:"metadata,omitempty"`
}

// Message is one conversation turn.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Role           string    `json:"role"` // user | assistant
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Tokens         int       `json:"tokens"`
}
