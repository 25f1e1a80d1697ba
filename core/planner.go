package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// PlanResult is the outcome of planning one CSO's export. Export is nil
// when the desired state already matches the last-confirmed state.
type PlanResult struct {
	Export   *PendingExport
	Deferred []DeferredReference
	Issues   []FlowIssue
}

type Planner struct {
	objectStore            ObjectStore
	pendingExportStore     PendingExportStore
	deferredReferenceStore DeferredReferenceStore
	flow                   *FlowEvaluator
	clock                  func() time.Time
	idGenerator            func() string
}

type PlannerOption func(*Planner)

func WithPlannerClock(clock func() time.Time) PlannerOption {
	return func(p *Planner) {
		if clock != nil {
			p.clock = clock
		}
	}
}

func WithPlannerIDGenerator(generator func() string) PlannerOption {
	return func(p *Planner) {
		if generator != nil {
			p.idGenerator = generator
		}
	}
}

func NewPlanner(
	objectStore ObjectStore,
	pendingExportStore PendingExportStore,
	deferredReferenceStore DeferredReferenceStore,
	flow *FlowEvaluator,
	options ...PlannerOption,
) (*Planner, error) {
	if objectStore == nil {
		return nil, fmt.Errorf("core: planner requires an object store")
	}
	if pendingExportStore == nil {
		return nil, fmt.Errorf("core: planner requires a pending export store")
	}
	if deferredReferenceStore == nil {
		return nil, fmt.Errorf("core: planner requires a deferred reference store")
	}
	if flow == nil {
		return nil, fmt.Errorf("core: planner requires a flow evaluator")
	}
	planner := &Planner{
		objectStore:            objectStore,
		pendingExportStore:     pendingExportStore,
		deferredReferenceStore: deferredReferenceStore,
		flow:                   flow,
		clock:                  func() time.Time { return time.Now().UTC() },
		idGenerator:            defaultIDGenerator,
	}
	for _, option := range options {
		if option != nil {
			option(planner)
		}
	}
	return planner, nil
}

// Plan diffs the desired state computed from an export rule against the
// CSO's last-confirmed attribute values and produces the minimal pending
// export. Reference attributes whose target has no counterpart in the
// destination system become deferred references and are omitted from
// the export. An outstanding pending export for the same CSO is merged,
// never duplicated.
func (p *Planner) Plan(
	ctx context.Context,
	mvo MetaverseObject,
	cso ConnectedSystemObject,
	rule CompiledSyncRule,
) (PlanResult, error) {
	desired, issues := p.flow.ComputeExportAttributes(mvo, cso, rule)
	result := PlanResult{Issues: issues}
	now := p.clock()

	changeType := ChangeTypeUpdate
	switch {
	case !rule.Rule.InScope(metaverseAttributeValues(mvo.Attributes)):
		changeType = ChangeTypeDelete
	case strings.TrimSpace(cso.ExternalID) == "":
		changeType = ChangeTypeCreate
	}

	var changes []PendingExportAttributeChange
	if changeType != ChangeTypeDelete {
		resolved, deferred, err := p.resolveReferences(ctx, desired, mvo, cso, rule, now)
		if err != nil {
			return PlanResult{}, err
		}
		result.Deferred = deferred
		changes = diffAttributeChanges(resolved, cso.Attributes)
	} else if strings.TrimSpace(cso.ExternalID) == "" {
		// Nothing to delete in the target system.
		return result, nil
	}

	if changeType == ChangeTypeUpdate && len(changes) == 0 {
		return result, nil
	}

	export := PendingExport{
		ID:               p.idGenerator(),
		ObjectID:         cso.ID,
		SystemID:         cso.SystemID,
		MetaverseID:      mvo.ID,
		ChangeType:       changeType,
		Status:           ExportStatusPending,
		AttributeChanges: changes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	existing, err := p.pendingExportStore.GetByObject(ctx, cso.ID)
	switch {
	case err == nil:
		export = mergePendingExports(existing, export, now)
	case isNotFound(err):
	default:
		return PlanResult{}, fmt.Errorf("core: load outstanding pending export: %w", err)
	}

	hash, err := pendingExportHash(export)
	if err != nil {
		return PlanResult{}, err
	}
	export.DeterministicHash = hash

	result.Export = &export
	return result, nil
}

// Persist writes a plan's pending export and deferred references.
func (p *Planner) Persist(ctx context.Context, result PlanResult) error {
	if result.Export != nil {
		if _, err := p.pendingExportStore.Save(ctx, *result.Export); err != nil {
			return fmt.Errorf("core: save planned export %q: %w", result.Export.ID, err)
		}
	}
	for _, ref := range result.Deferred {
		exists, err := p.deferredReferenceExists(ctx, ref.SourceObjectID, ref.AttributeName, ref.TargetMVOID, ref.TargetSystemID)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := p.deferredReferenceStore.Create(ctx, ref); err != nil {
			return fmt.Errorf("core: save deferred reference %q: %w", ref.ID, err)
		}
	}
	return nil
}

// resolveReferences substitutes the target external id into reference
// values. Targets with no CSO in the destination system yield deferred
// references; the attribute is dropped from the plan until resolution.
func (p *Planner) resolveReferences(
	ctx context.Context,
	desired []AttributeValue,
	mvo MetaverseObject,
	cso ConnectedSystemObject,
	rule CompiledSyncRule,
	now time.Time,
) ([]AttributeValue, []DeferredReference, error) {
	var resolved []AttributeValue
	var deferred []DeferredReference
	deferredNames := map[string]struct{}{}

	for _, value := range desired {
		if value.Kind != KindReference {
			resolved = append(resolved, value)
			continue
		}
		if _, dropped := deferredNames[value.Name]; dropped {
			continue
		}
		externalID, ok, err := p.targetExternalID(ctx, value.ReferenceID, cso.SystemID)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			value.ReferenceID = externalID
			resolved = append(resolved, value)
			continue
		}

		deferred = append(deferred, DeferredReference{
			ID:             p.idGenerator(),
			SourceObjectID: cso.ID,
			AttributeName:  value.Name,
			TargetMVOID:    value.ReferenceID,
			TargetSystemID: cso.SystemID,
			SyncRuleID:     rule.Rule.ID,
			CreatedAt:      now,
		})
		deferredNames[value.Name] = struct{}{}
		// Drop any sibling values of the same attribute already collected.
		resolved = withoutAttribute(resolved, value.Name)
	}
	return resolved, deferred, nil
}

func (p *Planner) targetExternalID(ctx context.Context, targetMVOID, systemID string) (string, bool, error) {
	targetMVOID = strings.TrimSpace(targetMVOID)
	if targetMVOID == "" {
		return "", false, nil
	}
	joined, err := p.objectStore.ListJoinedTo(ctx, targetMVOID)
	if err != nil {
		return "", false, fmt.Errorf("core: reference target lookup for %q: %w", targetMVOID, err)
	}
	for _, candidate := range joined {
		if candidate.SystemID != systemID {
			continue
		}
		if externalID := strings.TrimSpace(candidate.ExternalID); externalID != "" {
			return externalID, true, nil
		}
	}
	return "", false, nil
}

func (p *Planner) deferredReferenceExists(
	ctx context.Context,
	sourceObjectID string,
	attributeName string,
	targetMVOID string,
	targetSystemID string,
) (bool, error) {
	entries, err := p.deferredReferenceStore.List(ctx, DeferredReferenceFilter{
		TargetSystemID: targetSystemID,
		TargetMVOID:    targetMVOID,
		Unresolved:     true,
	})
	if err != nil {
		return false, fmt.Errorf("core: deferred reference lookup: %w", err)
	}
	for _, entry := range entries {
		if entry.SourceObjectID == sourceObjectID && entry.AttributeName == attributeName {
			return true, nil
		}
	}
	return false, nil
}

// diffAttributeChanges classifies the delta between desired and
// last-confirmed values using set semantics per attribute.
func diffAttributeChanges(desired, current []AttributeValue) []PendingExportAttributeChange {
	desiredGrouped := GroupAttributes(desired)
	currentGrouped := GroupAttributes(current)

	var changes []PendingExportAttributeChange
	for _, name := range SortedAttributeNames(desiredGrouped, currentGrouped) {
		wanted := DedupeValues(desiredGrouped[name])
		have := DedupeValues(currentGrouped[name])
		if len(wanted) == 0 && len(have) == 0 {
			continue
		}
		if SameValueSet(wanted, have) {
			continue
		}

		switch {
		case len(wanted) == 0:
			changes = append(changes, PendingExportAttributeChange{
				AttributeName: name,
				Operation:     OperationRemoveAll,
				Status:        AttributeChangePending,
			})
		case len(have) == 0:
			changes = append(changes, PendingExportAttributeChange{
				AttributeName: name,
				Operation:     OperationAdd,
				Values:        wanted,
				Status:        AttributeChangePending,
			})
		case len(wanted) == 1 && len(have) == 1:
			changes = append(changes, PendingExportAttributeChange{
				AttributeName: name,
				Operation:     OperationUpdate,
				Values:        wanted,
				Status:        AttributeChangePending,
			})
		default:
			added := valueSetDifference(wanted, have)
			removed := valueSetDifference(have, wanted)
			if len(added) > 0 {
				changes = append(changes, PendingExportAttributeChange{
					AttributeName: name,
					Operation:     OperationAdd,
					Values:        added,
					Status:        AttributeChangePending,
				})
			}
			if len(removed) > 0 {
				changes = append(changes, PendingExportAttributeChange{
					AttributeName: name,
					Operation:     OperationRemove,
					Values:        removed,
					Status:        AttributeChangePending,
				})
			}
		}
	}
	return changes
}

// mergePendingExports folds a freshly planned export into an outstanding
// one. Replanned attributes replace their previous changes and reset to
// pending; confirmed changes for attributes no longer in the plan are
// dropped, failed ones are kept for administrator visibility.
func mergePendingExports(existing, planned PendingExport, now time.Time) PendingExport {
	merged := existing
	merged.MetaverseID = planned.MetaverseID
	merged.UpdatedAt = now

	if planned.ChangeType == ChangeTypeDelete {
		merged.ChangeType = ChangeTypeDelete
	} else if existing.ChangeType != ChangeTypeCreate {
		merged.ChangeType = planned.ChangeType
	}

	replanned := map[string]struct{}{}
	for _, change := range planned.AttributeChanges {
		replanned[change.AttributeName] = struct{}{}
	}

	var changes []PendingExportAttributeChange
	for _, change := range existing.AttributeChanges {
		if _, replaced := replanned[change.AttributeName]; replaced {
			continue
		}
		if change.Status == AttributeChangeConfirmed {
			continue
		}
		changes = append(changes, change)
	}
	changes = append(changes, planned.AttributeChanges...)
	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].AttributeName != changes[j].AttributeName {
			return changes[i].AttributeName < changes[j].AttributeName
		}
		return changes[i].Operation < changes[j].Operation
	})
	merged.AttributeChanges = changes
	merged.Status = ExportStatusPending
	return merged
}

func withoutAttribute(values []AttributeValue, name string) []AttributeValue {
	var out []AttributeValue
	for _, value := range values {
		if value.Name != name {
			out = append(out, value)
		}
	}
	return out
}

func valueSetDifference(left, right []AttributeValue) []AttributeValue {
	rightKeys := valueKeySet(right)
	var out []AttributeValue
	for _, value := range left {
		if _, ok := rightKeys[value.ValueKey()]; !ok {
			out = append(out, value)
		}
	}
	return out
}

func pendingExportHash(export PendingExport) (string, error) {
	payload, err := json.Marshal(struct {
		ObjectID   string                         `json:"object_id"`
		SystemID   string                         `json:"system_id"`
		ChangeType PendingExportChangeType        `json:"change_type"`
		Changes    []PendingExportAttributeChange `json:"changes"`
	}{
		ObjectID:   export.ObjectID,
		SystemID:   export.SystemID,
		ChangeType: export.ChangeType,
		Changes:    export.AttributeChanges,
	})
	if err != nil {
		return "", fmt.Errorf("core: marshal pending export payload: %w", err)
	}
	digest := sha256.Sum256(payload)
	return hex.EncodeToString(digest[:]), nil
}
