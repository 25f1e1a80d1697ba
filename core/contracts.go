package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type ImportedObject struct {
	ObjectType string
	ExternalID string
	Attributes []AttributeValue
	Deleted    bool
	Metadata   map[string]any
}

type ImportRequest struct {
	SystemID     string
	RunProfileID string
	ObjectTypes  []string
	Watermark    ImportWatermark
	PageSize     int
	Full         bool
}

type ImportPage struct {
	Objects          []ImportedObject
	PaginationTokens map[string]string
	PersistedData    string
	HasMore          bool
}

type ExportRequest struct {
	ObjectID   string
	ObjectType string
	ExternalID string
	ChangeType PendingExportChangeType
	Changes    []PendingExportAttributeChange
}

// ExportResult reports the outcome of one export call. ExternalID is set
// by the connector when the target system assigns an identifier on
// create. FailedAttributes maps attribute names to failure reasons;
// attributes absent from the map were applied by the target system.
type ExportResult struct {
	ExternalID       string
	FailedAttributes map[string]string
	Metadata         map[string]any
}

type RunImportRequest struct {
	SystemID     string
	RunProfileID string
	Kind         SyncRunKind
}

type RunExportRequest struct {
	SystemID string
}

// RunStats aggregates per-object outcomes of a run. Errors counts
// objects whose processing failed without aborting the run.
type RunStats struct {
	Processed  int
	Joined     int
	Projected  int
	Filtered   int
	Ambiguous  int
	Exported   int
	Confirmed  int
	Failed     int
	Deferred   int
	Resolved   int
	Errors     int
	StartedAt  time.Time
	FinishedAt time.Time
}

type ActivityFilter struct {
	SystemID string
	ObjectID string
	RunID    string
	Action   string
	Status   ActivityStatus
	From     *time.Time
	To       *time.Time
	Page     int
	PerPage  int
}

type ActivityPage struct {
	Items   []ActivityEntry
	Page    int
	PerPage int
	Total   int
	HasNext bool
}

type PendingExportFilter struct {
	SystemID string
	Status   PendingExportStatus
	DueAt    *time.Time
	Limit    int
}

type DeferredReferenceFilter struct {
	TargetSystemID string
	TargetMVOID    string
	Unresolved     bool
	Limit          int
}

// ImportSource reads objects out of a connected system. One session is
// opened per run; the session owns any connection state and must be
// closed by the caller.
type ImportSource interface {
	OpenImportConnection(ctx context.Context, req ImportRequest) (ImportSession, error)
}

type ImportSession interface {
	NextPage(ctx context.Context) (ImportPage, error)
	Close(ctx context.Context) error
}

// ExportConnector writes changes into a connected system. The executor
// opens one session per batch so parallel batches never share
// connection state.
type ExportConnector interface {
	OpenExportConnection(ctx context.Context, systemID string) (ExportSession, error)
}

type ExportSession interface {
	Export(ctx context.Context, req ExportRequest) (ExportResult, error)
	Close(ctx context.Context) error
}

// Connector is the full contract a connected system integration
// implements. Import-only systems may return a not-supported error from
// OpenExportConnection.
type Connector interface {
	ImportSource
	ExportConnector
	SystemID() string
	ObjectTypes() []string
}

type ConnectorRegistry interface {
	Register(connector Connector) error
	Get(systemID string) (Connector, bool)
	List() []Connector
}

type ObjectStore interface {
	Create(ctx context.Context, object ConnectedSystemObject) (ConnectedSystemObject, error)
	Get(ctx context.Context, id string) (ConnectedSystemObject, error)
	GetByExternalID(ctx context.Context, systemID, objectType, externalID string) (ConnectedSystemObject, error)
	ListJoinedTo(ctx context.Context, metaverseID string) ([]ConnectedSystemObject, error)
	ListBySystem(ctx context.Context, systemID string, limit int) ([]ConnectedSystemObject, error)
	Update(ctx context.Context, object ConnectedSystemObject) (ConnectedSystemObject, error)
}

type MetaverseStore interface {
	Create(ctx context.Context, object MetaverseObject) (MetaverseObject, error)
	Get(ctx context.Context, id string) (MetaverseObject, error)
	FindByAttribute(ctx context.Context, objectType, attributeName, valueKey string, caseFold bool) ([]MetaverseObject, error)
	Update(ctx context.Context, object MetaverseObject) (MetaverseObject, error)
	Delete(ctx context.Context, id string) error
}

type SyncRuleStore interface {
	Save(ctx context.Context, rule SyncRule) (SyncRule, error)
	Get(ctx context.Context, id string) (SyncRule, error)
	ListForSystem(ctx context.Context, systemID string, direction SyncRuleDirection) ([]SyncRule, error)
	List(ctx context.Context) ([]SyncRule, error)
	Delete(ctx context.Context, id string) error
}

type PendingExportStore interface {
	Save(ctx context.Context, export PendingExport) (PendingExport, error)
	Get(ctx context.Context, id string) (PendingExport, error)
	GetByObject(ctx context.Context, objectID string) (PendingExport, error)
	ListDue(ctx context.Context, filter PendingExportFilter) ([]PendingExport, error)
	Delete(ctx context.Context, id string) error
}

type DeferredReferenceStore interface {
	Create(ctx context.Context, ref DeferredReference) (DeferredReference, error)
	Get(ctx context.Context, id string) (DeferredReference, error)
	List(ctx context.Context, filter DeferredReferenceFilter) ([]DeferredReference, error)
	MarkResolved(ctx context.Context, id string, at time.Time) error
	IncrementRetry(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type WatermarkStore interface {
	Get(ctx context.Context, systemID, runProfileID string) (ImportWatermark, error)
	Save(ctx context.Context, watermark ImportWatermark) error
}

type RunStore interface {
	Create(ctx context.Context, run SyncRun) (SyncRun, error)
	Get(ctx context.Context, id string) (SyncRun, error)
	Update(ctx context.Context, run SyncRun) (SyncRun, error)
	ListByStatus(ctx context.Context, status SyncRunStatus, limit int) ([]SyncRun, error)
}

type ActivitySink interface {
	Record(ctx context.Context, entry ActivityEntry) error
	List(ctx context.Context, filter ActivityFilter) (ActivityPage, error)
}

type StoreProvider interface {
	ObjectStore() ObjectStore
	MetaverseStore() MetaverseStore
	SyncRuleStore() SyncRuleStore
	PendingExportStore() PendingExportStore
	DeferredReferenceStore() DeferredReferenceStore
	WatermarkStore() WatermarkStore
	RunStore() RunStore
	ActivitySink() ActivitySink
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type CommandMessage interface {
	Type() string
}

type CommandDispatcher interface {
	Dispatch(ctx context.Context, msg any) error
}

type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}
