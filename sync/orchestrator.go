package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-metasync/core"
	"github.com/google/uuid"
)

// Orchestrator owns the lifecycle of sync runs. It creates the audit record
// before any work starts and moves it through the queued, running, succeeded
// and failed states as the engine reports progress. Watermarks, when present,
// seed delta imports with the last persisted connector state.
type Orchestrator struct {
	Runs       core.RunStore
	Watermarks core.WatermarkStore
	Now        func() time.Time
}

func NewOrchestrator(runs core.RunStore, watermarks core.WatermarkStore) *Orchestrator {
	return &Orchestrator{
		Runs:       runs,
		Watermarks: watermarks,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (o *Orchestrator) StartFullImport(
	ctx context.Context,
	systemID string,
	runProfileID string,
	metadata map[string]any,
) (core.SyncRun, error) {
	return o.start(ctx, core.SyncRun{
		SystemID:     strings.TrimSpace(systemID),
		RunProfileID: strings.TrimSpace(runProfileID),
		Kind:         core.RunKindFullImport,
		Status:       core.RunStatusQueued,
	}, metadata)
}

func (o *Orchestrator) StartDeltaImport(
	ctx context.Context,
	systemID string,
	runProfileID string,
	metadata map[string]any,
) (core.SyncRun, error) {
	run := core.SyncRun{
		SystemID:     strings.TrimSpace(systemID),
		RunProfileID: strings.TrimSpace(runProfileID),
		Kind:         core.RunKindDeltaImport,
		Status:       core.RunStatusQueued,
	}
	if o != nil && o.Watermarks != nil && run.SystemID != "" {
		watermark, err := o.Watermarks.Get(ctx, run.SystemID, run.RunProfileID)
		if err == nil && strings.TrimSpace(watermark.PersistedData) != "" {
			run.Metadata = map[string]any{
				"watermark": watermark.PersistedData,
			}
		}
	}
	return o.start(ctx, run, metadata)
}

func (o *Orchestrator) StartExport(
	ctx context.Context,
	systemID string,
	metadata map[string]any,
) (core.SyncRun, error) {
	return o.start(ctx, core.SyncRun{
		SystemID: strings.TrimSpace(systemID),
		Kind:     core.RunKindExport,
		Status:   core.RunStatusQueued,
	}, metadata)
}

// MarkRunning transitions a queued or previously failed run to running.
func (o *Orchestrator) MarkRunning(ctx context.Context, runID string) (core.SyncRun, error) {
	if o == nil || o.Runs == nil {
		return core.SyncRun{}, fmt.Errorf("sync: orchestrator requires run store")
	}
	run, err := o.Runs.Get(ctx, strings.TrimSpace(runID))
	if err != nil {
		return core.SyncRun{}, err
	}
	if err := run.TransitionTo(core.RunStatusRunning, o.now()); err != nil {
		return core.SyncRun{}, err
	}
	return o.Runs.Update(ctx, run)
}

// Resume requeues a failed run for another attempt. Succeeded runs are left
// alone.
func (o *Orchestrator) Resume(ctx context.Context, runID string) error {
	if o == nil || o.Runs == nil {
		return fmt.Errorf("sync: orchestrator requires run store")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return fmt.Errorf("sync: run id is required")
	}
	run, err := o.Runs.Get(ctx, runID)
	if err != nil {
		return err
	}

	switch run.Status {
	case core.RunStatusSucceeded:
		return nil
	case core.RunStatusFailed:
		if err := run.TransitionTo(core.RunStatusQueued, o.now()); err != nil {
			return err
		}
	}
	run.Attempts++
	run.NextAttemptAt = nil
	run.UpdatedAt = o.now()
	_, err = o.Runs.Update(ctx, run)
	return err
}

// Complete marks a run as succeeded and stores the final counters on the run
// record for later inspection.
func (o *Orchestrator) Complete(ctx context.Context, runID string, stats core.RunStats) (core.SyncRun, error) {
	if o == nil || o.Runs == nil {
		return core.SyncRun{}, fmt.Errorf("sync: orchestrator requires run store")
	}
	run, err := o.Runs.Get(ctx, strings.TrimSpace(runID))
	if err != nil {
		return core.SyncRun{}, err
	}
	if err := run.TransitionTo(core.RunStatusSucceeded, o.now()); err != nil {
		return core.SyncRun{}, err
	}
	run.Metadata = mergeAnyMap(run.Metadata, statsMetadata(stats))
	return o.Runs.Update(ctx, run)
}

func (o *Orchestrator) Fail(
	ctx context.Context,
	runID string,
	cause error,
	nextAttemptAt *time.Time,
) (core.SyncRun, error) {
	if o == nil || o.Runs == nil {
		return core.SyncRun{}, fmt.Errorf("sync: orchestrator requires run store")
	}
	run, err := o.Runs.Get(ctx, strings.TrimSpace(runID))
	if err != nil {
		return core.SyncRun{}, err
	}
	if err := run.TransitionTo(core.RunStatusFailed, o.now()); err != nil {
		return core.SyncRun{}, err
	}
	run.Attempts++
	run.Metadata = mergeAnyMap(run.Metadata, map[string]any{
		"last_error": strings.TrimSpace(fmt.Sprint(cause)),
	})
	if nextAttemptAt != nil {
		value := nextAttemptAt.UTC()
		run.NextAttemptAt = &value
	}
	return o.Runs.Update(ctx, run)
}

func (o *Orchestrator) start(
	ctx context.Context,
	run core.SyncRun,
	metadata map[string]any,
) (core.SyncRun, error) {
	if o == nil || o.Runs == nil {
		return core.SyncRun{}, fmt.Errorf("sync: orchestrator requires run store")
	}
	if run.SystemID == "" {
		return core.SyncRun{}, fmt.Errorf("sync: system id is required")
	}

	now := o.now()
	run.ID = uuid.NewString()
	run.Attempts = 0
	run.CreatedAt = now
	run.UpdatedAt = now
	run.Metadata = mergeAnyMap(run.Metadata, metadata)

	return o.Runs.Create(ctx, run)
}

func (o *Orchestrator) now() time.Time {
	if o != nil && o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func statsMetadata(stats core.RunStats) map[string]any {
	return map[string]any{
		"processed": stats.Processed,
		"joined":    stats.Joined,
		"projected": stats.Projected,
		"filtered":  stats.Filtered,
		"ambiguous": stats.Ambiguous,
		"exported":  stats.Exported,
		"confirmed": stats.Confirmed,
		"failed":    stats.Failed,
		"deferred":  stats.Deferred,
		"errors":    stats.Errors,
	}
}

func mergeAnyMap(left map[string]any, right map[string]any) map[string]any {
	if len(left) == 0 && len(right) == 0 {
		return map[string]any{}
	}
	merged := map[string]any{}
	for key, value := range left {
		merged[key] = value
	}
	for key, value := range right {
		merged[key] = value
	}
	return merged
}
