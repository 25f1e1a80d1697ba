package sqlstore

import (
	"time"

	"github.com/goliatone/go-metasync/core"
)

func newObjectRecord(object core.ConnectedSystemObject, now time.Time) *objectRecord {
	record := &objectRecord{
		ID:          object.ID,
		SystemID:    object.SystemID,
		ObjectType:  object.ObjectType,
		ExternalID:  object.ExternalID,
		MetaverseID: object.MetaverseID,
		Status:      string(object.Status),
		Attributes:  copyAttributes(object.Attributes),
		Version:     object.Version,
		CreatedAt:   object.CreatedAt,
		UpdatedAt:   object.UpdatedAt,
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	if object.LastImportedAt != nil {
		value := *object.LastImportedAt
		record.LastImportedAt = &value
	}
	return record
}

func (r *objectRecord) toDomain() core.ConnectedSystemObject {
	if r == nil {
		return core.ConnectedSystemObject{}
	}
	object := core.ConnectedSystemObject{
		ID:          r.ID,
		SystemID:    r.SystemID,
		ObjectType:  r.ObjectType,
		ExternalID:  r.ExternalID,
		MetaverseID: r.MetaverseID,
		Status:      core.ConnectedSystemObjectStatus(r.Status),
		Attributes:  copyAttributes(r.Attributes),
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.LastImportedAt != nil {
		value := *r.LastImportedAt
		object.LastImportedAt = &value
	}
	return object
}

func newMetaverseRecord(object core.MetaverseObject, now time.Time) *metaverseRecord {
	record := &metaverseRecord{
		ID:         object.ID,
		ObjectType: object.ObjectType,
		Status:     string(object.Status),
		BuiltIn:    object.BuiltIn,
		CreatedBy:  object.CreatedBy,
		Attributes: copyMetaverseAttributes(object.Attributes),
		Version:    object.Version,
		CreatedAt:  object.CreatedAt,
		UpdatedAt:  object.UpdatedAt,
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	return record
}

func (r *metaverseRecord) toDomain() core.MetaverseObject {
	if r == nil {
		return core.MetaverseObject{}
	}
	return core.MetaverseObject{
		ID:         r.ID,
		ObjectType: r.ObjectType,
		Status:     core.MetaverseObjectStatus(r.Status),
		BuiltIn:    r.BuiltIn,
		CreatedBy:  r.CreatedBy,
		Attributes: copyMetaverseAttributes(r.Attributes),
		Version:    r.Version,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func newSyncRuleRecord(rule core.SyncRule, now time.Time) *syncRuleRecord {
	record := &syncRuleRecord{
		ID:            rule.ID,
		Name:          rule.Name,
		SystemID:      rule.SystemID,
		ObjectType:    rule.ObjectType,
		MetaverseType: rule.MetaverseType,
		Direction:     string(rule.Direction),
		Enabled:       rule.Enabled,
		Provisioning:  rule.Provisioning,
		ScopeFilter:   append([]core.ScopeCondition{}, rule.ScopeFilter...),
		MatchingRules: append([]core.MatchingRule{}, rule.MatchingRules...),
		Mappings:      append([]core.SyncRuleMapping{}, rule.Mappings...),
		Version:       rule.Version,
		CreatedAt:     rule.CreatedAt,
		UpdatedAt:     rule.UpdatedAt,
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	return record
}

func (r *syncRuleRecord) toDomain() core.SyncRule {
	if r == nil {
		return core.SyncRule{}
	}
	return core.SyncRule{
		ID:            r.ID,
		Name:          r.Name,
		SystemID:      r.SystemID,
		ObjectType:    r.ObjectType,
		MetaverseType: r.MetaverseType,
		Direction:     core.SyncRuleDirection(r.Direction),
		Enabled:       r.Enabled,
		Provisioning:  r.Provisioning,
		ScopeFilter:   append([]core.ScopeCondition{}, r.ScopeFilter...),
		MatchingRules: append([]core.MatchingRule{}, r.MatchingRules...),
		Mappings:      append([]core.SyncRuleMapping{}, r.Mappings...),
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func newPendingExportRecord(export core.PendingExport, now time.Time) *pendingExportRecord {
	record := &pendingExportRecord{
		ID:                export.ID,
		ObjectID:          export.ObjectID,
		SystemID:          export.SystemID,
		MetaverseID:       export.MetaverseID,
		ChangeType:        string(export.ChangeType),
		Status:            string(export.Status),
		ErrorCount:        export.ErrorCount,
		LastErrorMessage:  export.LastErrorMessage,
		AttributeChanges:  copyAttributeChanges(export.AttributeChanges),
		DeterministicHash: export.DeterministicHash,
		CreatedAt:         export.CreatedAt,
		UpdatedAt:         export.UpdatedAt,
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	if export.NextRetryAt != nil {
		value := *export.NextRetryAt
		record.NextRetryAt = &value
	}
	return record
}

func (r *pendingExportRecord) toDomain() core.PendingExport {
	if r == nil {
		return core.PendingExport{}
	}
	export := core.PendingExport{
		ID:                r.ID,
		ObjectID:          r.ObjectID,
		SystemID:          r.SystemID,
		MetaverseID:       r.MetaverseID,
		ChangeType:        core.PendingExportChangeType(r.ChangeType),
		Status:            core.PendingExportStatus(r.Status),
		ErrorCount:        r.ErrorCount,
		LastErrorMessage:  r.LastErrorMessage,
		AttributeChanges:  copyAttributeChanges(r.AttributeChanges),
		DeterministicHash: r.DeterministicHash,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.NextRetryAt != nil {
		value := *r.NextRetryAt
		export.NextRetryAt = &value
	}
	return export
}

func newDeferredReferenceRecord(ref core.DeferredReference, now time.Time) *deferredReferenceRecord {
	record := &deferredReferenceRecord{
		ID:             ref.ID,
		SourceObjectID: ref.SourceObjectID,
		AttributeName:  ref.AttributeName,
		TargetMVOID:    ref.TargetMVOID,
		TargetSystemID: ref.TargetSystemID,
		SyncRuleID:     ref.SyncRuleID,
		RetryCount:     ref.RetryCount,
		CreatedAt:      ref.CreatedAt,
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if ref.ResolvedAt != nil {
		value := *ref.ResolvedAt
		record.ResolvedAt = &value
	}
	return record
}

func (r *deferredReferenceRecord) toDomain() core.DeferredReference {
	if r == nil {
		return core.DeferredReference{}
	}
	ref := core.DeferredReference{
		ID:             r.ID,
		SourceObjectID: r.SourceObjectID,
		AttributeName:  r.AttributeName,
		TargetMVOID:    r.TargetMVOID,
		TargetSystemID: r.TargetSystemID,
		SyncRuleID:     r.SyncRuleID,
		RetryCount:     r.RetryCount,
		CreatedAt:      r.CreatedAt,
	}
	if r.ResolvedAt != nil {
		value := *r.ResolvedAt
		ref.ResolvedAt = &value
	}
	return ref
}

func (r *watermarkRecord) toDomain() core.ImportWatermark {
	if r == nil {
		return core.ImportWatermark{}
	}
	return core.ImportWatermark{
		SystemID:         r.SystemID,
		RunProfileID:     r.RunProfileID,
		PaginationTokens: copyStringMap(r.PaginationTokens),
		PersistedData:    r.PersistedData,
		UpdatedAt:        r.UpdatedAt,
	}
}

func newRunRecord(run core.SyncRun, now time.Time) *runRecord {
	record := &runRecord{
		ID:           run.ID,
		SystemID:     run.SystemID,
		RunProfileID: run.RunProfileID,
		Kind:         string(run.Kind),
		Status:       string(run.Status),
		Attempts:     run.Attempts,
		Metadata:     copyAnyMap(run.Metadata),
		CreatedAt:    run.CreatedAt,
		UpdatedAt:    run.UpdatedAt,
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	if run.NextAttemptAt != nil {
		value := *run.NextAttemptAt
		record.NextAttemptAt = &value
	}
	return record
}

func (r *runRecord) toDomain() core.SyncRun {
	if r == nil {
		return core.SyncRun{}
	}
	run := core.SyncRun{
		ID:           r.ID,
		SystemID:     r.SystemID,
		RunProfileID: r.RunProfileID,
		Kind:         core.SyncRunKind(r.Kind),
		Status:       core.SyncRunStatus(r.Status),
		Attempts:     r.Attempts,
		Metadata:     copyAnyMap(r.Metadata),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.NextAttemptAt != nil {
		value := *r.NextAttemptAt
		run.NextAttemptAt = &value
	}
	return run
}

func (r *activityEntryRecord) toDomain() core.ActivityEntry {
	if r == nil {
		return core.ActivityEntry{}
	}
	return core.ActivityEntry{
		ID:        r.ID,
		Actor:     r.Actor,
		Action:    r.Action,
		SystemID:  r.SystemID,
		ObjectID:  r.ObjectID,
		RunID:     r.RunID,
		Status:    core.ActivityStatus(r.Status),
		Message:   r.Message,
		Metadata:  copyAnyMap(r.Metadata),
		CreatedAt: r.CreatedAt,
	}
}

func copyAttributes(in []core.AttributeValue) []core.AttributeValue {
	if in == nil {
		return []core.AttributeValue{}
	}
	return append([]core.AttributeValue{}, in...)
}

func copyMetaverseAttributes(in []core.MetaverseAttributeValue) []core.MetaverseAttributeValue {
	if in == nil {
		return []core.MetaverseAttributeValue{}
	}
	return append([]core.MetaverseAttributeValue{}, in...)
}

func copyAttributeChanges(in []core.PendingExportAttributeChange) []core.PendingExportAttributeChange {
	if in == nil {
		return []core.PendingExportAttributeChange{}
	}
	return append([]core.PendingExportAttributeChange{}, in...)
}

func copyStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
