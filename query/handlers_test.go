package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-metasync/core"
)

type stubSyncRuleReader struct {
	getFn     func(ctx context.Context, id string) (core.SyncRule, error)
	listSysFn func(ctx context.Context, systemID string, direction core.SyncRuleDirection) ([]core.SyncRule, error)
	listFn    func(ctx context.Context) ([]core.SyncRule, error)
}

func (s stubSyncRuleReader) Get(ctx context.Context, id string) (core.SyncRule, error) {
	return s.getFn(ctx, id)
}

func (s stubSyncRuleReader) ListForSystem(ctx context.Context, systemID string, direction core.SyncRuleDirection) ([]core.SyncRule, error) {
	return s.listSysFn(ctx, systemID, direction)
}

func (s stubSyncRuleReader) List(ctx context.Context) ([]core.SyncRule, error) {
	return s.listFn(ctx)
}

type stubActivityReader struct {
	fn func(ctx context.Context, filter core.ActivityFilter) (core.ActivityPage, error)
}

func (s stubActivityReader) Activity(ctx context.Context, filter core.ActivityFilter) (core.ActivityPage, error) {
	return s.fn(ctx, filter)
}

type stubPendingExportReader struct {
	fn func(ctx context.Context, filter core.PendingExportFilter) ([]core.PendingExport, error)
}

func (s stubPendingExportReader) ListDue(ctx context.Context, filter core.PendingExportFilter) ([]core.PendingExport, error) {
	return s.fn(ctx, filter)
}

type stubDeferredReferenceReader struct {
	fn func(ctx context.Context, filter core.DeferredReferenceFilter) ([]core.DeferredReference, error)
}

func (s stubDeferredReferenceReader) List(ctx context.Context, filter core.DeferredReferenceFilter) ([]core.DeferredReference, error) {
	return s.fn(ctx, filter)
}

type stubMetaverseReader struct {
	getFn  func(ctx context.Context, id string) (core.MetaverseObject, error)
	findFn func(ctx context.Context, objectType, attributeName, valueKey string, caseFold bool) ([]core.MetaverseObject, error)
}

func (s stubMetaverseReader) Get(ctx context.Context, id string) (core.MetaverseObject, error) {
	return s.getFn(ctx, id)
}

func (s stubMetaverseReader) FindByAttribute(ctx context.Context, objectType, attributeName, valueKey string, caseFold bool) ([]core.MetaverseObject, error) {
	return s.findFn(ctx, objectType, attributeName, valueKey, caseFold)
}

func TestGetSyncRuleQuery_DelegatesToReader(t *testing.T) {
	reader := stubSyncRuleReader{
		getFn: func(_ context.Context, id string) (core.SyncRule, error) {
			if id != "rule_1" {
				t.Fatalf("expected rule_1, got %q", id)
			}
			return core.SyncRule{ID: id, SystemID: "hr"}, nil
		},
	}

	rule, err := NewGetSyncRuleQuery(reader).Query(context.Background(), GetSyncRuleMessage{RuleID: "rule_1"})
	if err != nil {
		t.Fatalf("get sync rule: %v", err)
	}
	if rule.SystemID != "hr" {
		t.Fatalf("unexpected rule: %#v", rule)
	}
}

func TestListSyncRulesQuery_ScopesBySystemWhenProvided(t *testing.T) {
	reader := stubSyncRuleReader{
		listSysFn: func(_ context.Context, systemID string, direction core.SyncRuleDirection) ([]core.SyncRule, error) {
			if systemID != "hr" || direction != core.DirectionImport {
				t.Fatalf("unexpected listing scope: %q %q", systemID, direction)
			}
			return []core.SyncRule{{ID: "rule_1"}}, nil
		},
		listFn: func(_ context.Context) ([]core.SyncRule, error) {
			return []core.SyncRule{{ID: "rule_1"}, {ID: "rule_2"}}, nil
		},
	}

	q := NewListSyncRulesQuery(reader)

	scoped, err := q.Query(context.Background(), ListSyncRulesMessage{SystemID: "hr", Direction: core.DirectionImport})
	if err != nil {
		t.Fatalf("list scoped rules: %v", err)
	}
	if len(scoped) != 1 {
		t.Fatalf("expected 1 scoped rule, got %d", len(scoped))
	}

	all, err := q.Query(context.Background(), ListSyncRulesMessage{})
	if err != nil {
		t.Fatalf("list all rules: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(all))
	}
}

func TestListActivityQuery_PassesFilterThrough(t *testing.T) {
	reader := stubActivityReader{
		fn: func(_ context.Context, filter core.ActivityFilter) (core.ActivityPage, error) {
			if filter.SystemID != "hr" || filter.Page != 2 {
				t.Fatalf("unexpected activity filter: %#v", filter)
			}
			return core.ActivityPage{Page: 2, PerPage: 25, Total: 60, HasNext: true}, nil
		},
	}

	page, err := NewListActivityQuery(reader).Query(context.Background(), ListActivityMessage{
		Filter: core.ActivityFilter{SystemID: "hr", Page: 2},
	})
	if err != nil {
		t.Fatalf("list activity: %v", err)
	}
	if !page.HasNext || page.Total != 60 {
		t.Fatalf("unexpected activity page: %#v", page)
	}
}

func TestListDueExportsQuery_DelegatesFilter(t *testing.T) {
	due := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	reader := stubPendingExportReader{
		fn: func(_ context.Context, filter core.PendingExportFilter) ([]core.PendingExport, error) {
			if filter.SystemID != "ad" || filter.DueAt == nil || !filter.DueAt.Equal(due) {
				t.Fatalf("unexpected export filter: %#v", filter)
			}
			return []core.PendingExport{{ID: "exp_1", Status: core.ExportStatusPending}}, nil
		},
	}

	exports, err := NewListDueExportsQuery(reader).Query(context.Background(), ListDueExportsMessage{
		Filter: core.PendingExportFilter{SystemID: "ad", DueAt: &due},
	})
	if err != nil {
		t.Fatalf("list due exports: %v", err)
	}
	if len(exports) != 1 || exports[0].ID != "exp_1" {
		t.Fatalf("unexpected exports: %#v", exports)
	}
}

func TestListUnresolvedReferencesQuery_ForcesUnresolvedFilter(t *testing.T) {
	reader := stubDeferredReferenceReader{
		fn: func(_ context.Context, filter core.DeferredReferenceFilter) ([]core.DeferredReference, error) {
			if !filter.Unresolved {
				t.Fatalf("expected unresolved filter to be forced on")
			}
			if filter.TargetSystemID != "ad" {
				t.Fatalf("unexpected target system: %q", filter.TargetSystemID)
			}
			return []core.DeferredReference{{ID: "ref_1"}}, nil
		},
	}

	refs, err := NewListUnresolvedReferencesQuery(reader).Query(context.Background(), ListUnresolvedReferencesMessage{
		Filter: core.DeferredReferenceFilter{TargetSystemID: "ad", Unresolved: false},
	})
	if err != nil {
		t.Fatalf("list unresolved references: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("expected 1 reference, got %d", len(refs))
	}
}

func TestFindMetaverseObjectsQuery_PassesCaseFold(t *testing.T) {
	reader := stubMetaverseReader{
		findFn: func(_ context.Context, objectType, attributeName, valueKey string, caseFold bool) ([]core.MetaverseObject, error) {
			if objectType != "Person" || attributeName != "displayName" || valueKey != "s:Alice Chen" || !caseFold {
				t.Fatalf("unexpected lookup: %q %q %q fold=%v", objectType, attributeName, valueKey, caseFold)
			}
			return []core.MetaverseObject{{ID: "mv_1"}}, nil
		},
	}

	objects, err := NewFindMetaverseObjectsQuery(reader).Query(context.Background(), FindMetaverseObjectsMessage{
		ObjectType:    "Person",
		AttributeName: "displayName",
		ValueKey:      "s:Alice Chen",
		CaseFold:      true,
	})
	if err != nil {
		t.Fatalf("find metaverse objects: %v", err)
	}
	if len(objects) != 1 || objects[0].ID != "mv_1" {
		t.Fatalf("unexpected objects: %#v", objects)
	}
}

func TestQueries_PropagateReaderErrors(t *testing.T) {
	wantErr := errors.New("store offline")
	reader := stubMetaverseReader{
		getFn: func(_ context.Context, _ string) (core.MetaverseObject, error) {
			return core.MetaverseObject{}, wantErr
		},
	}

	_, err := NewGetMetaverseObjectQuery(reader).Query(context.Background(), GetMetaverseObjectMessage{MetaverseID: "mv_1"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected reader error propagation, got %v", err)
	}
}

func TestQueries_RequireReaders(t *testing.T) {
	if _, err := (*GetSyncRuleQuery)(nil).Query(context.Background(), GetSyncRuleMessage{RuleID: "rule_1"}); err == nil {
		t.Fatalf("expected dependency error from nil query")
	}
	if _, err := NewListActivityQuery(nil).Query(context.Background(), ListActivityMessage{}); err == nil {
		t.Fatalf("expected dependency error from nil reader")
	}
	if _, err := NewGetObjectQuery(nil).Query(context.Background(), GetObjectMessage{ObjectID: "obj_1"}); err == nil {
		t.Fatalf("expected dependency error from nil reader")
	}
}

func TestQueryMessages_Validate(t *testing.T) {
	if err := (GetSyncRuleMessage{}).Validate(); err == nil {
		t.Fatalf("expected blank rule id to fail validation")
	}
	if err := (ListSyncRulesMessage{Direction: "sideways"}).Validate(); err == nil {
		t.Fatalf("expected unknown direction to fail validation")
	}
	if err := (ListSyncRulesMessage{}).Validate(); err != nil {
		t.Fatalf("expected blank direction to be allowed, got %v", err)
	}
	if err := (ListActivityMessage{Filter: core.ActivityFilter{Page: -1}}).Validate(); err == nil {
		t.Fatalf("expected negative page to fail validation")
	}
	if err := (FindMetaverseObjectsMessage{ObjectType: "Person"}).Validate(); err == nil {
		t.Fatalf("expected blank attribute name to fail validation")
	}
}
