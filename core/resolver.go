package core

import (
	"context"
	"fmt"
	"time"
)

// ExportRuleSource supplies the compiled export rules for a connected
// system.
type ExportRuleSource interface {
	ExportRules(ctx context.Context, systemID string) ([]CompiledSyncRule, error)
}

// Resolver re-plans exports whose reference attributes were deferred
// because the target object had not been provisioned yet. Resolution is
// terminal; a resolved entry never regresses.
type Resolver struct {
	objectStore            ObjectStore
	metaverseStore         MetaverseStore
	pendingExportStore     PendingExportStore
	deferredReferenceStore DeferredReferenceStore
	planner                *Planner
	rules                  ExportRuleSource
	sweepLimit             int
	clock                  func() time.Time
}

type ResolverOption func(*Resolver)

func WithResolverClock(clock func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if clock != nil {
			r.clock = clock
		}
	}
}

func WithResolverSweepLimit(limit int) ResolverOption {
	return func(r *Resolver) {
		if limit > 0 {
			r.sweepLimit = limit
		}
	}
}

func NewResolver(
	objectStore ObjectStore,
	metaverseStore MetaverseStore,
	pendingExportStore PendingExportStore,
	deferredReferenceStore DeferredReferenceStore,
	planner *Planner,
	rules ExportRuleSource,
	options ...ResolverOption,
) (*Resolver, error) {
	if objectStore == nil {
		return nil, fmt.Errorf("core: resolver requires an object store")
	}
	if metaverseStore == nil {
		return nil, fmt.Errorf("core: resolver requires a metaverse store")
	}
	if pendingExportStore == nil {
		return nil, fmt.Errorf("core: resolver requires a pending export store")
	}
	if deferredReferenceStore == nil {
		return nil, fmt.Errorf("core: resolver requires a deferred reference store")
	}
	if planner == nil {
		return nil, fmt.Errorf("core: resolver requires a planner")
	}
	if rules == nil {
		return nil, fmt.Errorf("core: resolver requires an export rule source")
	}
	resolver := &Resolver{
		objectStore:            objectStore,
		metaverseStore:         metaverseStore,
		pendingExportStore:     pendingExportStore,
		deferredReferenceStore: deferredReferenceStore,
		planner:                planner,
		rules:                  rules,
		sweepLimit:             DefaultConfig().References.SweepLimit,
		clock:                  func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		if option != nil {
			option(resolver)
		}
	}
	return resolver, nil
}

// ResolveFor resolves every unresolved reference waiting on one target
// metaverse object in one system. Called after a successful create
// export made the target's external id known. Returns the number of
// references resolved.
func (r *Resolver) ResolveFor(ctx context.Context, targetMVOID, targetSystemID string) (int, error) {
	entries, err := r.deferredReferenceStore.List(ctx, DeferredReferenceFilter{
		TargetMVOID:    targetMVOID,
		TargetSystemID: targetSystemID,
		Unresolved:     true,
	})
	if err != nil {
		return 0, fmt.Errorf("core: list deferred references for %q: %w", targetMVOID, err)
	}
	return r.resolveEntries(ctx, entries)
}

// Sweep attempts resolution of every unresolved reference, bounded by
// the sweep limit. The sweep is idempotent and safe to run on any
// schedule; entries whose target is still missing stay unresolved with
// an incremented retry count.
func (r *Resolver) Sweep(ctx context.Context) (int, error) {
	entries, err := r.deferredReferenceStore.List(ctx, DeferredReferenceFilter{
		Unresolved: true,
		Limit:      r.sweepLimit,
	})
	if err != nil {
		return 0, fmt.Errorf("core: list unresolved deferred references: %w", err)
	}
	return r.resolveEntries(ctx, entries)
}

func (r *Resolver) resolveEntries(ctx context.Context, entries []DeferredReference) (int, error) {
	resolved := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}
		if entry.Resolved() {
			continue
		}
		done, err := r.TryResolve(ctx, entry)
		if err != nil {
			return resolved, err
		}
		if done {
			resolved++
		}
	}
	return resolved, nil
}

// TryResolve re-plans the source CSO's export now that the reference
// target may exist. Returns false when the target is still missing; the
// entry stays unresolved and its retry count grows.
func (r *Resolver) TryResolve(ctx context.Context, entry DeferredReference) (bool, error) {
	if entry.Resolved() {
		return true, nil
	}

	cso, err := r.objectStore.Get(ctx, entry.SourceObjectID)
	if err != nil {
		if isNotFound(err) {
			// Source object is gone; nothing left to export.
			now := r.clock()
			if err := r.deferredReferenceStore.MarkResolved(ctx, entry.ID, now); err != nil {
				return false, fmt.Errorf("core: mark deferred reference %q resolved: %w", entry.ID, err)
			}
			return true, nil
		}
		return false, fmt.Errorf("core: load source object %q: %w", entry.SourceObjectID, err)
	}
	mvo, err := r.metaverseStore.Get(ctx, cso.MetaverseID)
	if err != nil {
		return false, fmt.Errorf("core: load metaverse object %q: %w", cso.MetaverseID, err)
	}

	rules, err := r.rules.ExportRules(ctx, cso.SystemID)
	if err != nil {
		return false, err
	}
	rule, ok := ruleByID(rules, entry.SyncRuleID)
	if !ok {
		// Rule was deleted; the reference can never flow again.
		now := r.clock()
		if err := r.deferredReferenceStore.MarkResolved(ctx, entry.ID, now); err != nil {
			return false, fmt.Errorf("core: mark deferred reference %q resolved: %w", entry.ID, err)
		}
		return true, nil
	}

	result, err := r.planner.Plan(ctx, mvo, cso, rule)
	if err != nil {
		return false, err
	}
	if stillDeferred(result.Deferred, entry) {
		if err := r.deferredReferenceStore.IncrementRetry(ctx, entry.ID); err != nil {
			return false, fmt.Errorf("core: bump deferred reference %q retry: %w", entry.ID, err)
		}
		return false, nil
	}

	// Replanned deferrals for other attributes are persisted alongside
	// the regenerated export.
	if err := r.planner.Persist(ctx, result); err != nil {
		return false, err
	}
	now := r.clock()
	if err := r.deferredReferenceStore.MarkResolved(ctx, entry.ID, now); err != nil {
		return false, fmt.Errorf("core: mark deferred reference %q resolved: %w", entry.ID, err)
	}
	return true, nil
}

func ruleByID(rules []CompiledSyncRule, id string) (CompiledSyncRule, bool) {
	for _, rule := range rules {
		if rule.Rule.ID == id {
			return rule, true
		}
	}
	return CompiledSyncRule{}, false
}

func stillDeferred(deferred []DeferredReference, entry DeferredReference) bool {
	for _, candidate := range deferred {
		if candidate.SourceObjectID == entry.SourceObjectID &&
			candidate.AttributeName == entry.AttributeName &&
			candidate.TargetMVOID == entry.TargetMVOID &&
			candidate.TargetSystemID == entry.TargetSystemID {
			return true
		}
	}
	return false
}
