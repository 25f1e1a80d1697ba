package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Engine is the synchronization core: import ingestion, matching,
// attribute flow, export planning and execution, and deferred reference
// resolution. It holds no background threads; an external worker loop
// invokes it per unit of work.
type Engine struct {
	config                 Config
	logger                 Logger
	loggerProvider         LoggerProvider
	metricsRecorder        MetricsRecorder
	errorFactory           ErrorFactory
	errorMapper            ErrorMapper
	persistenceClient      any
	repositoryFactory      any
	configProvider         ConfigProvider
	optionsResolver        OptionsResolver
	connectorRegistry      ConnectorRegistry
	deletionRules          map[string]DeletionRule
	objectStore            ObjectStore
	metaverseStore         MetaverseStore
	syncRuleStore          SyncRuleStore
	pendingExportStore     PendingExportStore
	deferredReferenceStore DeferredReferenceStore
	watermarkStore         WatermarkStore
	runStore               RunStore
	activitySink           ActivitySink
	flow                   *FlowEvaluator
	matcher                *Matcher
	planner                *Planner
	executor               *Executor
	resolver               *Resolver
	clock                  func() time.Time
	idGenerator            func() string
}

func NewEngine(cfg Config, options ...Option) (*Engine, error) {
	builder := defaultEngineBuilder(cfg)
	for _, option := range options {
		if option == nil {
			continue
		}
		option(&builder)
	}

	provider, logger := glog.Resolve("metasync", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("metasync"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.connectorRegistry == nil {
		builder.connectorRegistry = NewConnectorRegistry()
	}
	if builder.clock == nil {
		builder.clock = func() time.Time { return time.Now().UTC() }
	}
	if builder.idGenerator == nil {
		builder.idGenerator = defaultIDGenerator
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if err := bindStoresFromFactory(&builder); err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	if builder.objectStore == nil || builder.metaverseStore == nil ||
		builder.syncRuleStore == nil || builder.pendingExportStore == nil ||
		builder.deferredReferenceStore == nil {
		return nil, mapBuildError(
			builder.errorMapper,
			fmt.Errorf("core: engine requires object, metaverse, sync rule, pending export and deferred reference stores"),
		)
	}

	engine := &Engine{
		config:                 finalConfig,
		logger:                 logger,
		loggerProvider:         provider,
		metricsRecorder:        builder.metricsRecorder,
		errorFactory:           builder.errorFactory,
		errorMapper:            builder.errorMapper,
		persistenceClient:      builder.persistenceClient,
		repositoryFactory:      builder.repositoryFactory,
		configProvider:         builder.configProvider,
		optionsResolver:        builder.optionsResolver,
		connectorRegistry:      builder.connectorRegistry,
		deletionRules:          deletionRulesByType(builder.deletionRules),
		objectStore:            builder.objectStore,
		metaverseStore:         builder.metaverseStore,
		syncRuleStore:          builder.syncRuleStore,
		pendingExportStore:     builder.pendingExportStore,
		deferredReferenceStore: builder.deferredReferenceStore,
		watermarkStore:         builder.watermarkStore,
		runStore:               builder.runStore,
		activitySink:           builder.activitySink,
		clock:                  builder.clock,
		idGenerator:            builder.idGenerator,
	}

	engine.flow = NewFlowEvaluator(WithFlowClock(engine.clock))
	engine.matcher, err = NewMatcher(
		engine.metaverseStore,
		engine.flow,
		WithMatcherClock(engine.clock),
		WithMatcherIDGenerator(engine.idGenerator),
	)
	if err != nil {
		return nil, mapBuildError(engine.errorMapper, err)
	}
	engine.planner, err = NewPlanner(
		engine.objectStore,
		engine.pendingExportStore,
		engine.deferredReferenceStore,
		engine.flow,
		WithPlannerClock(engine.clock),
		WithPlannerIDGenerator(engine.idGenerator),
	)
	if err != nil {
		return nil, mapBuildError(engine.errorMapper, err)
	}
	engine.resolver, err = NewResolver(
		engine.objectStore,
		engine.metaverseStore,
		engine.pendingExportStore,
		engine.deferredReferenceStore,
		engine.planner,
		engine,
		WithResolverClock(engine.clock),
		WithResolverSweepLimit(finalConfig.References.SweepLimit),
	)
	if err != nil {
		return nil, mapBuildError(engine.errorMapper, err)
	}
	executorOptions := []ExecutorOption{
		WithExecutorClock(engine.clock),
		WithExecutorResolver(engine.resolver),
	}
	if builder.backoffScheduler != nil {
		executorOptions = append(executorOptions, WithExecutorBackoff(builder.backoffScheduler))
	}
	engine.executor, err = NewExecutor(
		engine.objectStore,
		engine.pendingExportStore,
		finalConfig.Export,
		executorOptions...,
	)
	if err != nil {
		return nil, mapBuildError(engine.errorMapper, err)
	}
	return engine, nil
}

func Setup(cfg Config, options ...Option) (*Engine, error) {
	return NewEngine(cfg, options...)
}

func bindStoresFromFactory(builder *engineBuilder) error {
	if builder.repositoryFactory == nil {
		return nil
	}
	var provider StoreProvider
	if factory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
		built, err := factory.BuildStores(builder.persistenceClient)
		if err != nil {
			return err
		}
		provider = built
	} else if direct, ok := builder.repositoryFactory.(StoreProvider); ok {
		provider = direct
	}
	if provider == nil {
		return nil
	}
	if builder.objectStore == nil {
		builder.objectStore = provider.ObjectStore()
	}
	if builder.metaverseStore == nil {
		builder.metaverseStore = provider.MetaverseStore()
	}
	if builder.syncRuleStore == nil {
		builder.syncRuleStore = provider.SyncRuleStore()
	}
	if builder.pendingExportStore == nil {
		builder.pendingExportStore = provider.PendingExportStore()
	}
	if builder.deferredReferenceStore == nil {
		builder.deferredReferenceStore = provider.DeferredReferenceStore()
	}
	if builder.watermarkStore == nil {
		builder.watermarkStore = provider.WatermarkStore()
	}
	if builder.runStore == nil {
		builder.runStore = provider.RunStore()
	}
	if builder.activitySink == nil {
		builder.activitySink = provider.ActivitySink()
	}
	return nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return e.config
}

func (e *Engine) ConnectorRegistry() ConnectorRegistry {
	if e == nil {
		return nil
	}
	return e.connectorRegistry
}

// Stores exposes the engine's bound stores for read paths that go
// straight to storage.
func (e *Engine) Stores() StoreProvider {
	if e == nil {
		return nil
	}
	return engineStoreView{engine: e}
}

type engineStoreView struct {
	engine *Engine
}

func (v engineStoreView) ObjectStore() ObjectStore                       { return v.engine.objectStore }
func (v engineStoreView) MetaverseStore() MetaverseStore                 { return v.engine.metaverseStore }
func (v engineStoreView) SyncRuleStore() SyncRuleStore                   { return v.engine.syncRuleStore }
func (v engineStoreView) PendingExportStore() PendingExportStore         { return v.engine.pendingExportStore }
func (v engineStoreView) DeferredReferenceStore() DeferredReferenceStore { return v.engine.deferredReferenceStore }
func (v engineStoreView) WatermarkStore() WatermarkStore                 { return v.engine.watermarkStore }
func (v engineStoreView) RunStore() RunStore                             { return v.engine.runStore }
func (v engineStoreView) ActivitySink() ActivitySink                     { return v.engine.activitySink }

// ImportRules returns the compiled, saveable import rules for a system.
// Rules that no longer compile are skipped; they cannot have been saved
// through SaveSyncRule.
func (e *Engine) ImportRules(ctx context.Context, systemID string) ([]CompiledSyncRule, error) {
	return e.compiledRules(ctx, systemID, DirectionImport)
}

// ExportRules returns the compiled export rules for a system.
func (e *Engine) ExportRules(ctx context.Context, systemID string) ([]CompiledSyncRule, error) {
	return e.compiledRules(ctx, systemID, DirectionExport)
}

func (e *Engine) compiledRules(ctx context.Context, systemID string, direction SyncRuleDirection) ([]CompiledSyncRule, error) {
	rules, err := e.syncRuleStore.ListForSystem(ctx, systemID, direction)
	if err != nil {
		return nil, e.mapError(fmt.Errorf("core: list %s rules for %q: %w", direction, systemID, err))
	}
	var compiled []CompiledSyncRule
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		built, issues, err := CompileSyncRule(rule)
		if err != nil {
			return nil, e.mapError(err)
		}
		if ContainsRuleErrors(issues) {
			e.logError(ctx, "sync rule skipped", map[string]any{
				"rule_id": rule.ID,
				"issues":  len(issues),
			})
			continue
		}
		compiled = append(compiled, built)
	}
	return compiled, nil
}

// allExportRules compiles export rules across every system so one MVO
// change can fan out to all destinations.
func (e *Engine) allExportRules(ctx context.Context) ([]CompiledSyncRule, error) {
	rules, err := e.syncRuleStore.List(ctx)
	if err != nil {
		return nil, e.mapError(fmt.Errorf("core: list sync rules: %w", err))
	}
	var compiled []CompiledSyncRule
	for _, rule := range rules {
		if !rule.Enabled || rule.Direction != DirectionExport {
			continue
		}
		built, issues, err := CompileSyncRule(rule)
		if err != nil {
			return nil, e.mapError(err)
		}
		if ContainsRuleErrors(issues) {
			continue
		}
		compiled = append(compiled, built)
	}
	return compiled, nil
}

// SaveSyncRule compiles and persists a sync rule. Rules with
// error-severity issues are rejected at save time so per-object
// evaluation never hits a broken mapping.
func (e *Engine) SaveSyncRule(ctx context.Context, rule SyncRule) (saved SyncRule, issues []RuleValidationIssue, err error) {
	startedAt := e.clock()
	fields := map[string]any{
		"system_id": rule.SystemID,
		"rule_id":   rule.ID,
	}
	defer func() {
		e.observeOperation(ctx, startedAt, "save_sync_rule", err, fields)
	}()

	compiled, issues, err := CompileSyncRule(rule)
	if err != nil {
		err = e.mapError(err)
		return SyncRule{}, issues, err
	}
	if ContainsRuleErrors(issues) {
		err = e.mapError(goerrors.NewValidation(
			"sync rule has blocking validation issues",
			goerrors.FieldError{Field: "mappings", Message: issues[0].Message},
		).WithTextCode(SyncErrorRuleInvalid))
		return SyncRule{}, issues, err
	}

	normalized := compiled.Rule
	if strings.TrimSpace(normalized.ID) == "" {
		normalized.ID = e.idGenerator()
	}
	now := e.clock()
	if normalized.CreatedAt.IsZero() {
		normalized.CreatedAt = now
	}
	normalized.UpdatedAt = now

	saved, err = e.syncRuleStore.Save(ctx, normalized)
	if err != nil {
		err = e.mapError(fmt.Errorf("core: save sync rule %q: %w", normalized.ID, err))
		return SyncRule{}, issues, err
	}
	return saved, issues, nil
}

// RunImport pulls pages from a system's import source, reconciles every
// object, and persists the watermark for the next delta run. Per-object
// failures are isolated and counted; they never abort the run.
func (e *Engine) RunImport(ctx context.Context, req RunImportRequest) (stats RunStats, err error) {
	startedAt := e.clock()
	fields := map[string]any{
		"system_id":      req.SystemID,
		"run_profile_id": req.RunProfileID,
		"kind":           string(req.Kind),
	}
	defer func() {
		e.observeOperation(ctx, startedAt, "run_import", err, fields)
	}()

	stats.StartedAt = startedAt
	connector, err := e.resolveConnector(req.SystemID)
	if err != nil {
		return stats, err
	}

	watermark := ImportWatermark{SystemID: req.SystemID, RunProfileID: req.RunProfileID}
	full := req.Kind != RunKindDeltaImport
	if !full && e.watermarkStore != nil {
		stored, loadErr := e.watermarkStore.Get(ctx, req.SystemID, req.RunProfileID)
		if loadErr == nil {
			watermark = stored
		} else if !isNotFound(loadErr) {
			err = e.mapError(loadErr)
			return stats, err
		}
	}

	session, err := connector.OpenImportConnection(ctx, ImportRequest{
		SystemID:     req.SystemID,
		RunProfileID: req.RunProfileID,
		ObjectTypes:  connector.ObjectTypes(),
		Watermark:    watermark,
		PageSize:     e.config.Import.PageSize,
		Full:         full,
	})
	if err != nil {
		err = e.mapError(fmt.Errorf("core: open import connection for %q: %w", req.SystemID, err))
		return stats, err
	}
	defer func() {
		_ = session.Close(ctx)
	}()

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
			return stats, err
		}
		page, pageErr := session.NextPage(ctx)
		if pageErr != nil {
			err = e.mapError(fmt.Errorf("core: import page for %q: %w", req.SystemID, pageErr))
			return stats, err
		}
		for _, imported := range page.Objects {
			stats.Processed++
			outcome, itemErr := e.ProcessImportedObject(ctx, req.SystemID, imported)
			if itemErr != nil {
				stats.Errors++
				e.recordActivity(ctx, ActivityEntry{
					Action:   "import_object",
					SystemID: req.SystemID,
					Status:   ActivityStatusError,
					Message:  itemErr.Error(),
				})
				continue
			}
			switch outcome.Match.Kind {
			case MatchJoined:
				stats.Joined++
			case MatchProjected:
				stats.Projected++
			case MatchAmbiguous:
				stats.Ambiguous++
			case MatchOutOfScope:
				stats.Filtered++
			}
			stats.Deferred += len(outcome.Deferred)
		}
		if len(page.PaginationTokens) > 0 || page.PersistedData != "" {
			watermark.PaginationTokens = page.PaginationTokens
			watermark.PersistedData = page.PersistedData
		}
		if !page.HasMore {
			break
		}
	}

	if e.watermarkStore != nil {
		watermark.UpdatedAt = e.clock()
		if saveErr := e.watermarkStore.Save(ctx, watermark); saveErr != nil {
			err = e.mapError(fmt.Errorf("core: save import watermark for %q: %w", req.SystemID, saveErr))
			return stats, err
		}
	}
	stats.FinishedAt = e.clock()
	e.recordActivity(ctx, ActivityEntry{
		Action:   "run_import",
		SystemID: req.SystemID,
		Status:   ActivityStatusOK,
		Message: fmt.Sprintf(
			"processed %d objects: %d joined, %d projected, %d errors",
			stats.Processed, stats.Joined, stats.Projected, stats.Errors,
		),
	})
	return stats, nil
}

// ObjectSyncResult reports how one imported object was reconciled.
type ObjectSyncResult struct {
	ObjectID   string
	Match      MatchOutcome
	Flow       FlowResult
	Exports    []string
	Deferred   []DeferredReference
	Mismatches int
}

// ProcessImportedObject reconciles one imported object end to end:
// upsert the CSO, confirm any outstanding export, match or project the
// metaverse object, recompute attribute flow, and replan exports to
// every destination system.
func (e *Engine) ProcessImportedObject(
	ctx context.Context,
	systemID string,
	imported ImportedObject,
) (result ObjectSyncResult, err error) {
	if strings.TrimSpace(imported.ExternalID) == "" {
		return result, e.mapError(fmt.Errorf("%w: system %q object type %q", ErrMissingExternalID, systemID, imported.ObjectType))
	}
	now := e.clock()

	cso, err := e.upsertImportedObject(ctx, systemID, imported, now)
	if err != nil {
		return result, err
	}
	result.ObjectID = cso.ID

	mismatches, err := e.confirmOutstandingExport(ctx, cso, imported, now)
	if err != nil {
		return result, err
	}
	result.Mismatches = mismatches

	if imported.Deleted {
		return result, e.disconnectObject(ctx, cso, now)
	}

	importRules, err := e.ImportRules(ctx, systemID)
	if err != nil {
		return result, err
	}

	if cso.MetaverseID == "" {
		outcome, matchErr := e.matcher.Match(ctx, cso, importRules)
		result.Match = outcome
		if matchErr != nil {
			return result, e.mapError(matchErr)
		}
		switch outcome.Kind {
		case MatchJoined, MatchProjected:
			cso.MetaverseID = outcome.MetaverseID
			if cso.Status == ObjectStatusProvisioning {
				if err := cso.TransitionTo(ObjectStatusConnected, now); err != nil {
					return result, e.mapError(err)
				}
			}
			cso, err = e.objectStore.Update(ctx, cso)
			if err != nil {
				return result, e.mapError(fmt.Errorf("core: join object %q: %w", cso.ID, err))
			}
		default:
			return result, nil
		}
	} else {
		result.Match = MatchOutcome{Kind: MatchJoined, MetaverseID: cso.MetaverseID}
	}

	// Projection already flowed the initial attribute values.
	if result.Match.Kind != MatchProjected {
		mvo, loadErr := e.metaverseStore.Get(ctx, cso.MetaverseID)
		if loadErr != nil {
			return result, e.mapError(fmt.Errorf("core: load metaverse object %q: %w", cso.MetaverseID, loadErr))
		}
		// A rejoining connector cancels a pending deletion.
		revived := mvo.Status == MetaverseStatusPendingDeletion
		if revived {
			if transitionErr := mvo.TransitionTo(MetaverseStatusActive, now); transitionErr != nil {
				return result, e.mapError(transitionErr)
			}
		}
		flowResult := e.flow.ComputeImportFlow(mvo, cso, importRules)
		result.Flow = flowResult
		if flowResult.Changed() || revived {
			mvo.Attributes = flowResult.Attributes
			mvo.UpdatedAt = now
			if _, updateErr := e.metaverseStore.Update(ctx, mvo); updateErr != nil {
				return result, e.mapError(fmt.Errorf("core: update metaverse object %q: %w", mvo.ID, updateErr))
			}
		}
	}

	exports, deferred, err := e.replanExports(ctx, cso.MetaverseID)
	if err != nil {
		return result, err
	}
	result.Exports = exports
	result.Deferred = deferred
	return result, nil
}

func (e *Engine) upsertImportedObject(
	ctx context.Context,
	systemID string,
	imported ImportedObject,
	now time.Time,
) (ConnectedSystemObject, error) {
	objectType := strings.TrimSpace(strings.ToLower(imported.ObjectType))
	existing, err := e.objectStore.GetByExternalID(ctx, systemID, objectType, imported.ExternalID)
	switch {
	case err == nil:
		existing.Attributes = DedupeValues(imported.Attributes)
		existing.LastImportedAt = &now
		existing.UpdatedAt = now
		if existing.Status == ObjectStatusDisconnected && !imported.Deleted {
			if transitionErr := existing.TransitionTo(ObjectStatusConnected, now); transitionErr != nil {
				return ConnectedSystemObject{}, e.mapError(transitionErr)
			}
		}
		updated, updateErr := e.objectStore.Update(ctx, existing)
		if updateErr != nil {
			return ConnectedSystemObject{}, e.mapError(fmt.Errorf("core: update imported object %q: %w", existing.ID, updateErr))
		}
		return updated, nil
	case isNotFound(err):
		created, createErr := e.objectStore.Create(ctx, ConnectedSystemObject{
			ID:             e.idGenerator(),
			SystemID:       systemID,
			ObjectType:     objectType,
			ExternalID:     strings.TrimSpace(imported.ExternalID),
			Status:         ObjectStatusConnected,
			Attributes:     DedupeValues(imported.Attributes),
			LastImportedAt: &now,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if createErr != nil {
			return ConnectedSystemObject{}, e.mapError(fmt.Errorf("core: create imported object: %w", createErr))
		}
		return created, nil
	default:
		return ConnectedSystemObject{}, e.mapError(fmt.Errorf("core: load imported object: %w", err))
	}
}

// confirmOutstandingExport treats an import of an object with a pending
// export as the confirming import and reconciles attribute changes
// against the observed values.
func (e *Engine) confirmOutstandingExport(
	ctx context.Context,
	cso ConnectedSystemObject,
	imported ImportedObject,
	now time.Time,
) (int, error) {
	export, err := e.pendingExportStore.GetByObject(ctx, cso.ID)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, e.mapError(fmt.Errorf("core: load pending export for %q: %w", cso.ID, err))
	}

	reconciled, mismatches := ReconcileConfirmingImport(export, imported.Attributes, now)
	if mismatches == 0 && reconciled.Confirmed() {
		if deleteErr := e.pendingExportStore.Delete(ctx, reconciled.ID); deleteErr != nil {
			return 0, e.mapError(fmt.Errorf("core: delete confirmed pending export %q: %w", reconciled.ID, deleteErr))
		}
		return 0, nil
	}
	if _, saveErr := e.pendingExportStore.Save(ctx, reconciled); saveErr != nil {
		return 0, e.mapError(fmt.Errorf("core: save reconciled pending export %q: %w", reconciled.ID, saveErr))
	}
	if mismatches > 0 {
		e.recordActivity(ctx, ActivityEntry{
			Action:   "confirming_import_mismatch",
			SystemID: cso.SystemID,
			ObjectID: cso.ID,
			Status:   ActivityStatusWarn,
			Message:  fmt.Sprintf("%d attribute changes did not match the confirming import", mismatches),
		})
	}
	return mismatches, nil
}

func (e *Engine) disconnectObject(ctx context.Context, cso ConnectedSystemObject, now time.Time) error {
	if err := cso.TransitionTo(ObjectStatusDisconnected, now); err != nil {
		return e.mapError(err)
	}
	if _, err := e.objectStore.Update(ctx, cso); err != nil {
		return e.mapError(fmt.Errorf("core: disconnect object %q: %w", cso.ID, err))
	}
	if cso.MetaverseID == "" {
		return nil
	}
	if _, _, err := e.replanExports(ctx, cso.MetaverseID); err != nil {
		return err
	}
	return e.applyDeletionRule(ctx, cso.MetaverseID, now)
}

// applyDeletionRule evaluates the per-type deletion rule after a
// disconnect. When the last connector disconnects, the metaverse object
// moves to pending_deletion for the rule's grace period, or is deleted
// outright when no grace period is configured or it has elapsed.
func (e *Engine) applyDeletionRule(ctx context.Context, metaverseID string, now time.Time) error {
	mvo, err := e.metaverseStore.Get(ctx, metaverseID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return e.mapError(fmt.Errorf("core: load metaverse object %q: %w", metaverseID, err))
	}
	rule, ok := e.deletionRules[strings.TrimSpace(strings.ToLower(mvo.ObjectType))]
	if !ok || !rule.WhenLastConnectorDisconnects {
		return nil
	}

	joined, err := e.objectStore.ListJoinedTo(ctx, metaverseID)
	if err != nil {
		return e.mapError(fmt.Errorf("core: list objects joined to %q: %w", metaverseID, err))
	}
	for _, object := range joined {
		if object.Status == ObjectStatusConnected || object.Status == ObjectStatusProvisioning {
			return nil
		}
	}

	graceElapsed := mvo.Status == MetaverseStatusPendingDeletion && now.Sub(mvo.UpdatedAt) >= rule.GracePeriod
	if rule.GracePeriod <= 0 || graceElapsed {
		if err := e.metaverseStore.Delete(ctx, mvo.ID); err != nil {
			return e.mapError(fmt.Errorf("core: delete metaverse object %q: %w", mvo.ID, err))
		}
		e.recordActivity(ctx, ActivityEntry{
			Action:   "metaverse_object_deleted",
			ObjectID: mvo.ID,
			Status:   ActivityStatusOK,
			Message:  fmt.Sprintf("last connector disconnected from %q", mvo.ObjectType),
		})
		return nil
	}
	if mvo.Status == MetaverseStatusPendingDeletion {
		return nil
	}
	if err := mvo.TransitionTo(MetaverseStatusPendingDeletion, now); err != nil {
		return e.mapError(err)
	}
	if _, err := e.metaverseStore.Update(ctx, mvo); err != nil {
		return e.mapError(fmt.Errorf("core: update metaverse object %q: %w", mvo.ID, err))
	}
	e.recordActivity(ctx, ActivityEntry{
		Action:   "metaverse_object_pending_deletion",
		ObjectID: mvo.ID,
		Status:   ActivityStatusWarn,
		Message:  fmt.Sprintf("deleted in %s unless a connector rejoins", rule.GracePeriod),
	})
	return nil
}

func deletionRulesByType(rules []DeletionRule) map[string]DeletionRule {
	out := map[string]DeletionRule{}
	for _, rule := range rules {
		objectType := strings.TrimSpace(strings.ToLower(rule.ObjectType))
		if objectType == "" {
			continue
		}
		out[objectType] = rule
	}
	return out
}

// replanExports recomputes pending exports for every destination system
// joined to or provisionable from one metaverse object.
func (e *Engine) replanExports(ctx context.Context, metaverseID string) ([]string, []DeferredReference, error) {
	if metaverseID == "" {
		return nil, nil, nil
	}
	mvo, err := e.metaverseStore.Get(ctx, metaverseID)
	if err != nil {
		return nil, nil, e.mapError(fmt.Errorf("core: load metaverse object %q: %w", metaverseID, err))
	}
	rules, err := e.allExportRules(ctx)
	if err != nil {
		return nil, nil, err
	}
	joined, err := e.objectStore.ListJoinedTo(ctx, metaverseID)
	if err != nil {
		return nil, nil, e.mapError(fmt.Errorf("core: list objects joined to %q: %w", metaverseID, err))
	}

	var exports []string
	var deferred []DeferredReference
	for _, rule := range rules {
		if rule.Rule.MetaverseType != strings.TrimSpace(strings.ToLower(mvo.ObjectType)) {
			continue
		}
		target, found := joinedInSystem(joined, rule.Rule.SystemID, rule.Rule.ObjectType)
		if !found {
			if !rule.Rule.Provisioning || !rule.Rule.InScope(metaverseAttributeValues(mvo.Attributes)) {
				continue
			}
			now := e.clock()
			target, err = e.objectStore.Create(ctx, ConnectedSystemObject{
				ID:          e.idGenerator(),
				SystemID:    rule.Rule.SystemID,
				ObjectType:  rule.Rule.ObjectType,
				MetaverseID: metaverseID,
				Status:      ObjectStatusProvisioning,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
			if err != nil {
				return nil, nil, e.mapError(fmt.Errorf("core: provision object in %q: %w", rule.Rule.SystemID, err))
			}
		}

		result, planErr := e.planner.Plan(ctx, mvo, target, rule)
		if planErr != nil {
			return nil, nil, e.mapError(planErr)
		}
		if persistErr := e.planner.Persist(ctx, result); persistErr != nil {
			return nil, nil, e.mapError(persistErr)
		}
		if result.Export != nil {
			exports = append(exports, result.Export.ID)
		}
		deferred = append(deferred, result.Deferred...)
	}
	return exports, deferred, nil
}

// RunExport executes the due pending exports of one system in batches.
func (e *Engine) RunExport(ctx context.Context, req RunExportRequest) (progress ExportProgress, err error) {
	startedAt := e.clock()
	fields := map[string]any{
		"system_id": req.SystemID,
	}
	defer func() {
		e.observeOperation(ctx, startedAt, "run_export", err, fields)
	}()

	connector, err := e.resolveConnector(req.SystemID)
	if err != nil {
		return ExportProgress{}, err
	}
	now := e.clock()
	due, err := e.pendingExportStore.ListDue(ctx, PendingExportFilter{
		SystemID: req.SystemID,
		Status:   ExportStatusPending,
		DueAt:    &now,
	})
	if err != nil {
		err = e.mapError(fmt.Errorf("core: list due exports for %q: %w", req.SystemID, err))
		return ExportProgress{}, err
	}

	progress, execErr := e.executor.Execute(ctx, connector, due)
	if execErr != nil {
		// Batch-level failures are recorded; confirmed work already
		// committed stays committed.
		e.recordActivity(ctx, ActivityEntry{
			Action:   "run_export",
			SystemID: req.SystemID,
			Status:   ActivityStatusError,
			Message:  execErr.Error(),
		})
		return progress, nil
	}
	e.recordActivity(ctx, ActivityEntry{
		Action:   "run_export",
		SystemID: req.SystemID,
		Status:   ActivityStatusOK,
		Message: fmt.Sprintf(
			"exported %d of %d pending changes: %d confirmed, %d failed",
			progress.Completed, progress.Total, progress.Confirmed, progress.Failed,
		),
	})
	return progress, nil
}

// ResolveDeferredReferences sweeps every unresolved reference and
// regenerates exports for those whose target now exists.
func (e *Engine) ResolveDeferredReferences(ctx context.Context) (resolved int, err error) {
	startedAt := e.clock()
	fields := map[string]any{}
	defer func() {
		fields["resolved"] = resolved
		e.observeOperation(ctx, startedAt, "resolve_deferred_references", err, fields)
	}()

	resolved, err = e.resolver.Sweep(ctx)
	if err != nil {
		err = e.mapError(err)
	}
	return resolved, err
}

// HasUnresolvedReferences reports whether an object is blocked on
// provisioning order.
func (e *Engine) HasUnresolvedReferences(ctx context.Context, objectID string) (bool, error) {
	entries, err := e.deferredReferenceStore.List(ctx, DeferredReferenceFilter{Unresolved: true})
	if err != nil {
		return false, e.mapError(err)
	}
	for _, entry := range entries {
		if entry.SourceObjectID == objectID {
			return true, nil
		}
	}
	return false, nil
}

// Activity exposes the audit trail.
func (e *Engine) Activity(ctx context.Context, filter ActivityFilter) (ActivityPage, error) {
	if e.activitySink == nil {
		return ActivityPage{}, nil
	}
	page, err := e.activitySink.List(ctx, filter)
	if err != nil {
		return ActivityPage{}, e.mapError(err)
	}
	return page, nil
}

func (e *Engine) resolveConnector(systemID string) (Connector, error) {
	if e == nil || e.connectorRegistry == nil {
		return nil, e.mapError(fmt.Errorf("core: connector registry unavailable"))
	}
	systemID = strings.TrimSpace(systemID)
	connector, ok := e.connectorRegistry.Get(systemID)
	if ok {
		return connector, nil
	}
	wrapped := e.errorFactory(
		fmt.Sprintf("connector for system %q is not registered", systemID),
		goerrors.CategoryNotFound,
	).WithTextCode(SyncErrorConnectorFailed)
	return nil, wrapped.WithMetadata(map[string]any{"system_id": systemID})
}

func (e *Engine) recordActivity(ctx context.Context, entry ActivityEntry) {
	if e == nil || e.activitySink == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = e.idGenerator()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = e.clock()
	}
	if entry.Actor == "" {
		entry.Actor = e.config.ServiceName
	}
	if recordErr := e.activitySink.Record(ctx, entry); recordErr != nil {
		e.logError(ctx, "record activity failed", map[string]any{
			"action": entry.Action,
			"error":  recordErr.Error(),
		})
	}
}

func (e *Engine) mapError(err error) error {
	if err == nil {
		return nil
	}
	if e == nil || e.errorMapper == nil {
		return err
	}
	mapped := e.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func joinedInSystem(objects []ConnectedSystemObject, systemID, objectType string) (ConnectedSystemObject, bool) {
	for _, object := range objects {
		if object.SystemID == systemID && object.ObjectType == objectType && object.Status != ObjectStatusObsolete {
			return object, true
		}
	}
	return ConnectedSystemObject{}, false
}
