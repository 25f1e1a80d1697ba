package metasync

import "github.com/goliatone/go-metasync/core"

type Config = core.Config

type ImportConfig = core.ImportConfig
type ExportConfig = core.ExportConfig
type ReferenceConfig = core.ReferenceConfig

type Option = core.Option

type Engine = core.Engine

type Connector = core.Connector
type ConnectorRegistry = core.ConnectorRegistry
type ImportSource = core.ImportSource
type ExportConnector = core.ExportConnector
type StoreProvider = core.StoreProvider
type RepositoryStoreFactory = core.RepositoryStoreFactory
type BackoffScheduler = core.BackoffScheduler
type ActivitySink = core.ActivitySink

type SyncRule = core.SyncRule
type DeletionRule = core.DeletionRule
type ImportedObject = core.ImportedObject
type ConnectedSystemObject = core.ConnectedSystemObject
type MetaverseObject = core.MetaverseObject
type PendingExport = core.PendingExport
type DeferredReference = core.DeferredReference
type ImportWatermark = core.ImportWatermark
type SyncRun = core.SyncRun

type RunImportRequest = core.RunImportRequest
type RunExportRequest = core.RunExportRequest
type RunStats = core.RunStats
type ExportProgress = core.ExportProgress
type ObjectSyncResult = core.ObjectSyncResult
type RuleValidationIssue = core.RuleValidationIssue
type ActivityFilter = core.ActivityFilter
type ActivityPage = core.ActivityPage

var (
	WithLogger                 = core.WithLogger
	WithLoggerProvider         = core.WithLoggerProvider
	WithMetricsRecorder        = core.WithMetricsRecorder
	WithErrorFactory           = core.WithErrorFactory
	WithErrorMapper            = core.WithErrorMapper
	WithPersistenceClient      = core.WithPersistenceClient
	WithRepositoryFactory      = core.WithRepositoryFactory
	WithConfigProvider         = core.WithConfigProvider
	WithOptionsResolver        = core.WithOptionsResolver
	WithConnectorRegistry      = core.WithConnectorRegistry
	WithBackoffScheduler       = core.WithBackoffScheduler
	WithDeletionRules          = core.WithDeletionRules
	WithObjectStore            = core.WithObjectStore
	WithMetaverseStore         = core.WithMetaverseStore
	WithSyncRuleStore          = core.WithSyncRuleStore
	WithPendingExportStore     = core.WithPendingExportStore
	WithDeferredReferenceStore = core.WithDeferredReferenceStore
	WithWatermarkStore         = core.WithWatermarkStore
	WithRunStore               = core.WithRunStore
	WithActivitySink           = core.WithActivitySink
	WithEngineClock            = core.WithEngineClock
	WithIDGenerator            = core.WithIDGenerator
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	return core.NewEngine(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Engine, error) {
	return core.Setup(cfg, opts...)
}
