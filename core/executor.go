package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultExportInitialBackoff = 30 * time.Second
	defaultExportMaxBackoff     = 15 * time.Minute
)

type BackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoffScheduler doubles the delay per attempt up to Max.
type ExponentialBackoffScheduler struct {
	Initial time.Duration
	Max     time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := s.Initial
	if initial <= 0 {
		initial = defaultExportInitialBackoff
	}
	max := s.Max
	if max <= 0 {
		max = defaultExportMaxBackoff
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

type ExportPhase string

const (
	ExportPhaseIdle      ExportPhase = "idle"
	ExportPhaseExporting ExportPhase = "exporting"
	ExportPhaseDone      ExportPhase = "done"
)

// ExportProgress reports batch execution counts. Percent is completed
// over total items, regardless of outcome.
type ExportProgress struct {
	Phase     ExportPhase
	Total     int
	Completed int
	Confirmed int
	Failed    int
	Stuck     int
	Percent   float64
}

// DeferredResolver is invoked after a successful create export so
// references waiting on the new object can be replanned.
type DeferredResolver interface {
	ResolveFor(ctx context.Context, targetMVOID, targetSystemID string) (int, error)
}

type Executor struct {
	objectStore        ObjectStore
	pendingExportStore PendingExportStore
	resolver           DeferredResolver
	backoff            BackoffScheduler
	config             ExportConfig
	clock              func() time.Time
}

type ExecutorOption func(*Executor)

func WithExecutorClock(clock func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if clock != nil {
			e.clock = clock
		}
	}
}

func WithExecutorBackoff(scheduler BackoffScheduler) ExecutorOption {
	return func(e *Executor) {
		if scheduler != nil {
			e.backoff = scheduler
		}
	}
}

func WithExecutorResolver(resolver DeferredResolver) ExecutorOption {
	return func(e *Executor) {
		e.resolver = resolver
	}
}

func NewExecutor(
	objectStore ObjectStore,
	pendingExportStore PendingExportStore,
	config ExportConfig,
	options ...ExecutorOption,
) (*Executor, error) {
	if objectStore == nil {
		return nil, fmt.Errorf("core: executor requires an object store")
	}
	if pendingExportStore == nil {
		return nil, fmt.Errorf("core: executor requires a pending export store")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().Export.BatchSize
	}
	if config.MaxParallelism <= 0 {
		config.MaxParallelism = DefaultConfig().Export.MaxParallelism
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultConfig().Export.MaxRetries
	}
	executor := &Executor{
		objectStore:        objectStore,
		pendingExportStore: pendingExportStore,
		backoff: ExponentialBackoffScheduler{
			Initial: config.InitialBackoff,
			Max:     config.MaxBackoff,
		},
		config: config,
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		if option != nil {
			option(executor)
		}
	}
	return executor, nil
}

// Execute runs pending exports against a connector in batches. Up to
// MaxParallelism batches run concurrently, each owning its own export
// session. Items within a batch run strictly in order; a connector
// transport failure aborts the remaining batch but never undoes
// already-confirmed items, and never aborts sibling batches.
func (e *Executor) Execute(
	ctx context.Context,
	connector ExportConnector,
	exports []PendingExport,
) (ExportProgress, error) {
	if connector == nil {
		return ExportProgress{}, fmt.Errorf("core: executor requires an export connector")
	}
	progress := ExportProgress{Phase: ExportPhaseIdle, Total: len(exports)}
	if len(exports) == 0 {
		progress.Phase = ExportPhaseDone
		return progress, nil
	}
	progress.Phase = ExportPhaseExporting

	batches := chunkExports(exports, e.config.BatchSize)
	semaphore := make(chan struct{}, e.config.MaxParallelism)
	var wait sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, batch := range batches {
		batch := batch
		wait.Add(1)
		semaphore <- struct{}{}
		go func() {
			defer wait.Done()
			defer func() { <-semaphore }()
			stats, err := e.executeBatch(ctx, connector, batch)
			mu.Lock()
			defer mu.Unlock()
			progress.Completed += stats.Completed
			progress.Confirmed += stats.Confirmed
			progress.Failed += stats.Failed
			progress.Stuck += stats.Stuck
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}()
	}
	wait.Wait()

	if progress.Total > 0 {
		progress.Percent = float64(progress.Completed) / float64(progress.Total) * 100
	}
	progress.Phase = ExportPhaseDone
	return progress, firstErr
}

type batchStats struct {
	Completed int
	Confirmed int
	Failed    int
	Stuck     int
}

func (e *Executor) executeBatch(
	ctx context.Context,
	connector ExportConnector,
	batch []PendingExport,
) (batchStats, error) {
	if len(batch) == 0 {
		return batchStats{}, nil
	}
	session, err := connector.OpenExportConnection(ctx, batch[0].SystemID)
	if err != nil {
		stats := batchStats{}
		for _, export := range batch {
			stuck, failErr := e.recordFailure(ctx, export, fmt.Sprintf("open export connection: %v", err))
			if failErr != nil {
				return stats, failErr
			}
			stats.Completed++
			stats.Failed++
			if stuck {
				stats.Stuck++
			}
		}
		return stats, fmt.Errorf("core: open export connection for %q: %w", batch[0].SystemID, err)
	}
	defer func() {
		_ = session.Close(ctx)
	}()

	stats := batchStats{}
	for i, export := range batch {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		cso, err := e.objectStore.Get(ctx, export.ObjectID)
		if err != nil {
			return stats, fmt.Errorf("core: load object %q for export: %w", export.ObjectID, err)
		}

		result, exportErr := session.Export(ctx, ExportRequest{
			ObjectID:   export.ObjectID,
			ObjectType: cso.ObjectType,
			ExternalID: cso.ExternalID,
			ChangeType: export.ChangeType,
			Changes:    export.AttributeChanges,
		})
		if exportErr != nil {
			stuck, failErr := e.recordFailure(ctx, export, exportErr.Error())
			if failErr != nil {
				return stats, failErr
			}
			stats.Completed++
			stats.Failed++
			if stuck {
				stats.Stuck++
			}
			// A failing connector call aborts the remainder of the batch.
			return stats, fmt.Errorf(
				"core: export connector failed at item %d of %d: %w", i+1, len(batch), exportErr,
			)
		}

		if len(result.FailedAttributes) > 0 {
			stuck, failErr := e.recordPartialFailure(ctx, export, result)
			if failErr != nil {
				return stats, failErr
			}
			stats.Completed++
			stats.Failed++
			if stuck {
				stats.Stuck++
			}
			continue
		}

		if err := e.recordSuccess(ctx, export, cso, result); err != nil {
			return stats, err
		}
		stats.Completed++
		stats.Confirmed++
	}
	return stats, nil
}

func (e *Executor) recordSuccess(
	ctx context.Context,
	export PendingExport,
	cso ConnectedSystemObject,
	result ExportResult,
) error {
	now := e.clock()

	switch export.ChangeType {
	case ChangeTypeCreate:
		if externalID := strings.TrimSpace(result.ExternalID); externalID != "" {
			cso.ExternalID = externalID
		}
		if err := cso.TransitionTo(ObjectStatusConnected, now); err != nil {
			return err
		}
		importedAt := now
		cso.LastImportedAt = &importedAt
		if _, err := e.objectStore.Update(ctx, cso); err != nil {
			return fmt.Errorf("core: persist external id for %q: %w", cso.ID, err)
		}
		if e.resolver != nil && cso.MetaverseID != "" {
			if _, err := e.resolver.ResolveFor(ctx, cso.MetaverseID, cso.SystemID); err != nil {
				return err
			}
		}
	case ChangeTypeDelete:
		if err := cso.TransitionTo(ObjectStatusObsolete, now); err != nil {
			return err
		}
		if _, err := e.objectStore.Update(ctx, cso); err != nil {
			return fmt.Errorf("core: mark object %q obsolete: %w", cso.ID, err)
		}
	}

	// Resolution triggered by a sibling item may have merged new changes
	// into this export since the batch snapshot was taken. Reload and
	// confirm only the changes that were actually sent.
	exported := map[string]struct{}{}
	for _, change := range export.AttributeChanges {
		exported[change.AttributeName+"\x00"+string(change.Operation)] = struct{}{}
	}
	fresh, err := e.pendingExportStore.Get(ctx, export.ID)
	if err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("core: reload pending export %q: %w", export.ID, err)
		}
		fresh = export
	}
	for i := range fresh.AttributeChanges {
		change := &fresh.AttributeChanges[i]
		if _, sent := exported[change.AttributeName+"\x00"+string(change.Operation)]; !sent {
			continue
		}
		change.Status = AttributeChangeConfirmed
		exportedAt := now
		change.LastExportedAt = &exportedAt
	}
	fresh.ErrorCount = 0
	fresh.LastErrorMessage = ""
	fresh.NextRetryAt = nil
	fresh.UpdatedAt = now

	if fresh.Confirmed() {
		if err := e.pendingExportStore.Delete(ctx, fresh.ID); err != nil {
			return fmt.Errorf("core: delete confirmed pending export %q: %w", fresh.ID, err)
		}
		return nil
	}
	if _, err := e.pendingExportStore.Save(ctx, fresh); err != nil {
		return fmt.Errorf("core: save pending export %q: %w", fresh.ID, err)
	}
	return nil
}

func (e *Executor) recordPartialFailure(
	ctx context.Context,
	export PendingExport,
	result ExportResult,
) (bool, error) {
	now := e.clock()
	var messages []string
	for i := range export.AttributeChanges {
		change := &export.AttributeChanges[i]
		reason, failed := result.FailedAttributes[change.AttributeName]
		if !failed {
			change.Status = AttributeChangeConfirmed
			exportedAt := now
			change.LastExportedAt = &exportedAt
			continue
		}
		change.Status = AttributeChangeFailed
		change.AttemptCount++
		messages = append(messages, fmt.Sprintf("%s: %s", change.AttributeName, reason))
	}
	return e.applyFailure(ctx, export, strings.Join(messages, "; "), now)
}

func (e *Executor) recordFailure(ctx context.Context, export PendingExport, message string) (bool, error) {
	now := e.clock()
	for i := range export.AttributeChanges {
		change := &export.AttributeChanges[i]
		if change.Status == AttributeChangeConfirmed {
			continue
		}
		change.Status = AttributeChangeFailed
		change.AttemptCount++
	}
	return e.applyFailure(ctx, export, message, now)
}

// applyFailure updates retry state transactionally with the attribute
// change statuses. At MaxRetries the export stays put with status
// export_not_imported; it is never auto-deleted.
func (e *Executor) applyFailure(
	ctx context.Context,
	export PendingExport,
	message string,
	now time.Time,
) (bool, error) {
	export.ErrorCount++
	export.LastErrorMessage = strings.TrimSpace(message)
	export.UpdatedAt = now

	stuck := export.ErrorCount >= e.config.MaxRetries
	if stuck {
		export.Status = ExportStatusExportNotImported
		export.NextRetryAt = nil
	} else {
		retryAt := now.Add(e.backoff.NextDelay(export.ErrorCount))
		export.NextRetryAt = &retryAt
	}

	if _, err := e.pendingExportStore.Save(ctx, export); err != nil {
		return stuck, fmt.Errorf("core: save failed pending export %q: %w", export.ID, err)
	}
	return stuck, nil
}

// ReconcileConfirmingImport checks an imported attribute snapshot from
// the target system against the export's attribute changes. A confirmed
// change whose exported value is missing from the confirming import is
// marked mismatched, never silently accepted.
func ReconcileConfirmingImport(
	export PendingExport,
	imported []AttributeValue,
	now time.Time,
) (PendingExport, int) {
	grouped := GroupAttributes(imported)
	mismatches := 0
	for i := range export.AttributeChanges {
		change := &export.AttributeChanges[i]
		observed := DedupeValues(grouped[change.AttributeName])
		if len(observed) > 0 {
			last := observed[len(observed)-1]
			change.LastImportedValue = &last
		}
		if change.Status != AttributeChangeConfirmed {
			continue
		}
		switch change.Operation {
		case OperationAdd, OperationUpdate:
			if !containsValueSet(observed, change.Values) {
				change.Status = AttributeChangeMismatched
				mismatches++
			}
		case OperationRemove:
			if len(valueSetDifference(change.Values, observed)) != len(change.Values) {
				change.Status = AttributeChangeMismatched
				mismatches++
			}
		case OperationRemoveAll:
			if len(observed) > 0 {
				change.Status = AttributeChangeMismatched
				mismatches++
			}
		}
	}
	export.UpdatedAt = now
	return export, mismatches
}

func containsValueSet(haystack, needles []AttributeValue) bool {
	keys := valueKeySet(haystack)
	for _, needle := range needles {
		if _, ok := keys[needle.ValueKey()]; !ok {
			return false
		}
	}
	return true
}

func chunkExports(exports []PendingExport, size int) [][]PendingExport {
	if size <= 0 {
		size = 1
	}
	var batches [][]PendingExport
	for start := 0; start < len(exports); start += size {
		end := start + size
		if end > len(exports) {
			end = len(exports)
		}
		batches = append(batches, exports[start:end])
	}
	return batches
}
