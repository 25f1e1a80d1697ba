package sqlstore

import (
	"time"

	"github.com/goliatone/go-metasync/core"
	"github.com/uptrace/bun"
)

type objectRecord struct {
	bun.BaseModel `bun:"table:metasync_objects,alias:mo"`

	ID             string                `bun:"id,pk"`
	SystemID       string                `bun:"system_id,notnull"`
	ObjectType     string                `bun:"object_type,notnull"`
	ExternalID     string                `bun:"external_id"`
	MetaverseID    string                `bun:"metaverse_id"`
	Status         string                `bun:"status,notnull"`
	Attributes     []core.AttributeValue `bun:"attributes,type:jsonb,notnull"`
	Version        int                   `bun:"version,notnull"`
	LastImportedAt *time.Time            `bun:"last_imported_at,nullzero"`
	CreatedAt      time.Time             `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time             `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type metaverseRecord struct {
	bun.BaseModel `bun:"table:metasync_metaverse_objects,alias:mvo"`

	ID         string                         `bun:"id,pk"`
	ObjectType string                         `bun:"object_type,notnull"`
	Status     string                         `bun:"status,notnull"`
	BuiltIn    bool                           `bun:"built_in,notnull"`
	CreatedBy  string                         `bun:"created_by"`
	Attributes []core.MetaverseAttributeValue `bun:"attributes,type:jsonb,notnull"`
	Version    int                            `bun:"version,notnull"`
	CreatedAt  time.Time                      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time                      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// metaverseAttributeIndexRecord is a projection of metaverse attribute
// values into one row per value so matching rules can probe candidates
// with an indexed equality scan instead of unpacking jsonb.
type metaverseAttributeIndexRecord struct {
	bun.BaseModel `bun:"table:metasync_metaverse_attribute_index,alias:mai"`

	ID             string    `bun:"id,pk"`
	MetaverseID    string    `bun:"metaverse_id,notnull"`
	ObjectType     string    `bun:"object_type,notnull"`
	AttributeName  string    `bun:"attribute_name,notnull"`
	ValueKey       string    `bun:"value_key,notnull"`
	ValueKeyFolded string    `bun:"value_key_folded,notnull"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type syncRuleRecord struct {
	bun.BaseModel `bun:"table:metasync_sync_rules,alias:msr"`

	ID            string                 `bun:"id,pk"`
	Name          string                 `bun:"name"`
	SystemID      string                 `bun:"system_id,notnull"`
	ObjectType    string                 `bun:"object_type,notnull"`
	MetaverseType string                 `bun:"metaverse_type,notnull"`
	Direction     string                 `bun:"direction,notnull"`
	Enabled       bool                   `bun:"enabled,notnull"`
	Provisioning  bool                   `bun:"provisioning,notnull"`
	ScopeFilter   []core.ScopeCondition  `bun:"scope_filter,type:jsonb,notnull"`
	MatchingRules []core.MatchingRule    `bun:"matching_rules,type:jsonb,notnull"`
	Mappings      []core.SyncRuleMapping `bun:"mappings,type:jsonb,notnull"`
	Version       int                    `bun:"version,notnull"`
	CreatedAt     time.Time              `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time              `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type pendingExportRecord struct {
	bun.BaseModel `bun:"table:metasync_pending_exports,alias:mpe"`

	ID                string                              `bun:"id,pk"`
	ObjectID          string                              `bun:"object_id,notnull"`
	SystemID          string                              `bun:"system_id,notnull"`
	MetaverseID       string                              `bun:"metaverse_id"`
	ChangeType        string                              `bun:"change_type,notnull"`
	Status            string                              `bun:"status,notnull"`
	ErrorCount        int                                 `bun:"error_count,notnull"`
	LastErrorMessage  string                              `bun:"last_error_message"`
	NextRetryAt       *time.Time                          `bun:"next_retry_at,nullzero"`
	AttributeChanges  []core.PendingExportAttributeChange `bun:"attribute_changes,type:jsonb,notnull"`
	DeterministicHash string                              `bun:"deterministic_hash"`
	CreatedAt         time.Time                           `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time                           `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type deferredReferenceRecord struct {
	bun.BaseModel `bun:"table:metasync_deferred_references,alias:mdr"`

	ID             string     `bun:"id,pk"`
	SourceObjectID string     `bun:"source_object_id,notnull"`
	AttributeName  string     `bun:"attribute_name,notnull"`
	TargetMVOID    string     `bun:"target_metaverse_id,notnull"`
	TargetSystemID string     `bun:"target_system_id,notnull"`
	SyncRuleID     string     `bun:"sync_rule_id,notnull"`
	RetryCount     int        `bun:"retry_count,notnull"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	ResolvedAt     *time.Time `bun:"resolved_at,nullzero"`
}

type watermarkRecord struct {
	bun.BaseModel `bun:"table:metasync_import_watermarks,alias:miw"`

	ID               string            `bun:"id,pk"`
	SystemID         string            `bun:"system_id,notnull"`
	RunProfileID     string            `bun:"run_profile_id,notnull"`
	PaginationTokens map[string]string `bun:"pagination_tokens,type:jsonb,notnull"`
	PersistedData    string            `bun:"persisted_data"`
	CreatedAt        time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time         `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type runRecord struct {
	bun.BaseModel `bun:"table:metasync_runs,alias:mr"`

	ID            string         `bun:"id,pk"`
	SystemID      string         `bun:"system_id,notnull"`
	RunProfileID  string         `bun:"run_profile_id"`
	Kind          string         `bun:"kind,notnull"`
	Status        string         `bun:"status,notnull"`
	Attempts      int            `bun:"attempts,notnull"`
	NextAttemptAt *time.Time     `bun:"next_attempt_at,nullzero"`
	Metadata      map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt     time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type activityEntryRecord struct {
	bun.BaseModel `bun:"table:metasync_activity_entries,alias:mae"`

	ID        string         `bun:"id,pk"`
	Actor     string         `bun:"actor,notnull"`
	Action    string         `bun:"action,notnull"`
	SystemID  string         `bun:"system_id"`
	ObjectID  string         `bun:"object_id"`
	RunID     string         `bun:"run_id"`
	Status    string         `bun:"status,notnull"`
	Message   string         `bun:"message"`
	Metadata  map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
