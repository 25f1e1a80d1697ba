package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidObjectStatusTransition    = errors.New("core: invalid connected system object status transition")
	ErrInvalidMetaverseStatusTransition = errors.New("core: invalid metaverse object status transition")
	ErrInvalidRunStatusTransition       = errors.New("core: invalid sync run status transition")
	ErrInvalidChangeType                = errors.New("core: invalid pending export change type")
	ErrObjectNotFound                   = errors.New("core: object not found")
	ErrVersionConflict                  = errors.New("core: version conflict")
	ErrMissingExternalID                = errors.New("core: connected system object has no external id")
)

// ConnectedSystemObjectStatus tracks the lifecycle of a CSO within one
// connected system. Objects are never silently deleted; they move to
// disconnected or obsolete through explicit transitions.
type ConnectedSystemObjectStatus string

const (
	ObjectStatusProvisioning ConnectedSystemObjectStatus = "provisioning"
	ObjectStatusConnected    ConnectedSystemObjectStatus = "connected"
	ObjectStatusDisconnected ConnectedSystemObjectStatus = "disconnected"
	ObjectStatusObsolete     ConnectedSystemObjectStatus = "obsolete"
)

// ConnectedSystemObject is one object as seen through a specific connected
// system. ExternalID is empty until the target system assigns one on a
// Create export. Version is an optimistic concurrency token owned by the
// store layer.
type ConnectedSystemObject struct {
	ID             string
	SystemID       string
	ObjectType     string
	ExternalID     string
	MetaverseID    string
	Status         ConnectedSystemObjectStatus
	Attributes     []AttributeValue
	Version        int
	LastImportedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (o *ConnectedSystemObject) TransitionTo(status ConnectedSystemObjectStatus, now time.Time) error {
	if o == nil {
		return nil
	}
	if o.Status == status {
		o.UpdatedAt = now
		return nil
	}
	if !objectTransitionAllowed(o.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidObjectStatusTransition, o.Status, status)
	}
	o.Status = status
	o.UpdatedAt = now
	return nil
}

func objectTransitionAllowed(current, next ConnectedSystemObjectStatus) bool {
	allowed := map[ConnectedSystemObjectStatus]map[ConnectedSystemObjectStatus]struct{}{
		ObjectStatusProvisioning: {
			ObjectStatusConnected: {},
			ObjectStatusObsolete:  {},
		},
		ObjectStatusConnected: {
			ObjectStatusDisconnected: {},
			ObjectStatusObsolete:     {},
		},
		ObjectStatusDisconnected: {
			ObjectStatusConnected: {},
			ObjectStatusObsolete:  {},
		},
		ObjectStatusObsolete: {},
	}
	_, ok := allowed[current][next]
	return ok
}

type MetaverseObjectStatus string

const (
	MetaverseStatusActive          MetaverseObjectStatus = "active"
	MetaverseStatusObsolete        MetaverseObjectStatus = "obsolete"
	MetaverseStatusPendingDeletion MetaverseObjectStatus = "pending_deletion"
)

// MetaverseAttributeValue is an attribute value on a metaverse object,
// tagged with the connected system that contributed it.
type MetaverseAttributeValue struct {
	AttributeValue
	ContributedBy string    `json:"contributed_by,omitempty"`
	ContributedAt time.Time `json:"contributed_at,omitzero"`
}

// MetaverseObject is the canonical, system-agnostic object. It is created
// by projection and updated by attribute-flow recomputation whenever a
// joined CSO changes.
type MetaverseObject struct {
	ID         string
	ObjectType string
	Status     MetaverseObjectStatus
	BuiltIn    bool
	Attributes []MetaverseAttributeValue
	Version    int
	CreatedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (m *MetaverseObject) TransitionTo(status MetaverseObjectStatus, now time.Time) error {
	if m == nil {
		return nil
	}
	if m.Status == status {
		m.UpdatedAt = now
		return nil
	}
	if !metaverseTransitionAllowed(m.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidMetaverseStatusTransition, m.Status, status)
	}
	m.Status = status
	m.UpdatedAt = now
	return nil
}

func metaverseTransitionAllowed(current, next MetaverseObjectStatus) bool {
	allowed := map[MetaverseObjectStatus]map[MetaverseObjectStatus]struct{}{
		MetaverseStatusActive: {
			MetaverseStatusObsolete:        {},
			MetaverseStatusPendingDeletion: {},
		},
		MetaverseStatusPendingDeletion: {
			MetaverseStatusActive:   {},
			MetaverseStatusObsolete: {},
		},
		MetaverseStatusObsolete: {},
	}
	_, ok := allowed[current][next]
	return ok
}

// AttributeByName returns all values of a named attribute on the metaverse
// object, stripped of their authority tags.
func (m MetaverseObject) AttributeByName(name string) []AttributeValue {
	name = strings.TrimSpace(name)
	var out []AttributeValue
	for _, value := range m.Attributes {
		if value.Name == name {
			out = append(out, value.AttributeValue)
		}
	}
	return out
}

// DeletionRule decides when a metaverse object becomes eligible for
// deletion. WhenLastConnectorDisconnects with an optional grace period is
// the only policy the engine implements; the zero value keeps objects
// forever.
type DeletionRule struct {
	ObjectType                   string
	WhenLastConnectorDisconnects bool
	GracePeriod                  time.Duration
}

type PendingExportChangeType string

const (
	ChangeTypeCreate PendingExportChangeType = "create"
	ChangeTypeUpdate PendingExportChangeType = "update"
	ChangeTypeDelete PendingExportChangeType = "delete"
)

func (t PendingExportChangeType) IsValid() bool {
	switch t {
	case ChangeTypeCreate, ChangeTypeUpdate, ChangeTypeDelete:
		return true
	}
	return false
}

type PendingExportStatus string

const (
	// ExportStatusPending marks an export that is queued or retrying.
	ExportStatusPending PendingExportStatus = "pending"
	// ExportStatusExportNotImported marks an export whose retries are
	// exhausted; it is the durable, queryable signal of a stuck export and
	// is never auto-deleted.
	ExportStatusExportNotImported PendingExportStatus = "export_not_imported"
)

type AttributeOperation string

const (
	OperationAdd       AttributeOperation = "add"
	OperationUpdate    AttributeOperation = "update"
	OperationRemove    AttributeOperation = "remove"
	OperationRemoveAll AttributeOperation = "remove_all"
)

type AttributeChangeStatus string

const (
	AttributeChangePending    AttributeChangeStatus = "pending"
	AttributeChangeConfirmed  AttributeChangeStatus = "confirmed"
	AttributeChangeFailed     AttributeChangeStatus = "failed"
	AttributeChangeMismatched AttributeChangeStatus = "mismatched"
)

// PendingExportAttributeChange is one attribute mutation inside a pending
// export. LastImportedValue holds the value seen on a confirming import
// for attributes whose true value cannot be asserted locally.
type PendingExportAttributeChange struct {
	AttributeName     string                `json:"attribute_name"`
	Operation         AttributeOperation    `json:"operation"`
	Values            []AttributeValue      `json:"values,omitempty"`
	Status            AttributeChangeStatus `json:"status"`
	AttemptCount      int                   `json:"attempt_count"`
	LastExportedAt    *time.Time            `json:"last_exported_at,omitempty"`
	LastImportedValue *AttributeValue       `json:"last_imported_value,omitempty"`
}

// PendingExport is a unit of outbound work: the minimal set of attribute
// changes that takes the target CSO from its last-confirmed state to the
// desired state computed from sync rules.
type PendingExport struct {
	ID                string
	ObjectID          string
	SystemID          string
	MetaverseID       string
	ChangeType        PendingExportChangeType
	Status            PendingExportStatus
	ErrorCount        int
	LastErrorMessage  string
	NextRetryAt       *time.Time
	AttributeChanges  []PendingExportAttributeChange
	DeterministicHash string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Confirmed reports whether every attribute change has been confirmed.
func (p PendingExport) Confirmed() bool {
	if len(p.AttributeChanges) == 0 {
		return p.ChangeType == ChangeTypeDelete
	}
	for _, change := range p.AttributeChanges {
		if change.Status != AttributeChangeConfirmed {
			return false
		}
	}
	return true
}

// DeferredReference records a reference attribute that could not be
// exported because its target metaverse object has no CSO in the target
// system yet. Entries persist until resolved or cleaned up by an
// administrator; resolution is terminal.
type DeferredReference struct {
	ID             string
	SourceObjectID string
	AttributeName  string
	TargetMVOID    string
	TargetSystemID string
	SyncRuleID     string
	RetryCount     int
	CreatedAt      time.Time
	ResolvedAt     *time.Time
}

func (d DeferredReference) Resolved() bool {
	return d.ResolvedAt != nil
}

type SyncRunStatus string

const (
	RunStatusQueued    SyncRunStatus = "queued"
	RunStatusRunning   SyncRunStatus = "running"
	RunStatusSucceeded SyncRunStatus = "succeeded"
	RunStatusFailed    SyncRunStatus = "failed"
)

type SyncRunKind string

const (
	RunKindFullImport  SyncRunKind = "full_import"
	RunKindDeltaImport SyncRunKind = "delta_import"
	RunKindExport      SyncRunKind = "export"
)

// SyncRun is the audit record for one unit of work handed to the engine by
// the external worker loop.
type SyncRun struct {
	ID            string
	SystemID      string
	RunProfileID  string
	Kind          SyncRunKind
	Status        SyncRunStatus
	Attempts      int
	NextAttemptAt *time.Time
	Metadata      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (r *SyncRun) TransitionTo(status SyncRunStatus, now time.Time) error {
	if r == nil {
		return nil
	}
	if r.Status == status {
		r.UpdatedAt = now
		return nil
	}
	if !runTransitionAllowed(r.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidRunStatusTransition, r.Status, status)
	}
	r.Status = status
	r.UpdatedAt = now
	return nil
}

func runTransitionAllowed(current, next SyncRunStatus) bool {
	allowed := map[SyncRunStatus]map[SyncRunStatus]struct{}{
		RunStatusQueued: {
			RunStatusRunning: {},
			RunStatusFailed:  {},
		},
		RunStatusRunning: {
			RunStatusSucceeded: {},
			RunStatusFailed:    {},
		},
		RunStatusFailed: {
			RunStatusQueued:  {},
			RunStatusRunning: {},
		},
		RunStatusSucceeded: {},
	}
	_, ok := allowed[current][next]
	return ok
}

// ImportWatermark carries the opaque pagination tokens and connector data
// persisted between delta imports.
type ImportWatermark struct {
	SystemID         string
	RunProfileID     string
	PaginationTokens map[string]string
	PersistedData    string
	UpdatedAt        time.Time
}

type ActivityStatus string

const (
	ActivityStatusOK    ActivityStatus = "ok"
	ActivityStatusWarn  ActivityStatus = "warn"
	ActivityStatusError ActivityStatus = "error"
)

// ActivityEntry is an audit row describing one engine operation outcome.
type ActivityEntry struct {
	ID        string
	Actor     string
	Action    string
	SystemID  string
	ObjectID  string
	RunID     string
	Status    ActivityStatus
	Message   string
	Metadata  map[string]any
	CreatedAt time.Time
}
