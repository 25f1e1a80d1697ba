package query

import (
	"context"

	"github.com/goliatone/go-metasync/core"
)

type SyncRuleReader interface {
	Get(ctx context.Context, id string) (core.SyncRule, error)
	ListForSystem(ctx context.Context, systemID string, direction core.SyncRuleDirection) ([]core.SyncRule, error)
	List(ctx context.Context) ([]core.SyncRule, error)
}

type ActivityReader interface {
	Activity(ctx context.Context, filter core.ActivityFilter) (core.ActivityPage, error)
}

type PendingExportReader interface {
	ListDue(ctx context.Context, filter core.PendingExportFilter) ([]core.PendingExport, error)
}

type DeferredReferenceReader interface {
	List(ctx context.Context, filter core.DeferredReferenceFilter) ([]core.DeferredReference, error)
}

type ObjectReader interface {
	Get(ctx context.Context, id string) (core.ConnectedSystemObject, error)
}

type MetaverseReader interface {
	Get(ctx context.Context, id string) (core.MetaverseObject, error)
	FindByAttribute(ctx context.Context, objectType, attributeName, valueKey string, caseFold bool) ([]core.MetaverseObject, error)
}

type GetSyncRuleQuery struct {
	reader SyncRuleReader
}

func NewGetSyncRuleQuery(reader SyncRuleReader) *GetSyncRuleQuery {
	return &GetSyncRuleQuery{reader: reader}
}

func (q *GetSyncRuleQuery) Query(ctx context.Context, msg GetSyncRuleMessage) (core.SyncRule, error) {
	if q == nil || q.reader == nil {
		return core.SyncRule{}, queryDependencyError("query: sync rule reader is required")
	}
	return q.reader.Get(ctx, msg.RuleID)
}

type ListSyncRulesQuery struct {
	reader SyncRuleReader
}

func NewListSyncRulesQuery(reader SyncRuleReader) *ListSyncRulesQuery {
	return &ListSyncRulesQuery{reader: reader}
}

func (q *ListSyncRulesQuery) Query(ctx context.Context, msg ListSyncRulesMessage) ([]core.SyncRule, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: sync rule reader is required")
	}
	if msg.SystemID == "" {
		return q.reader.List(ctx)
	}
	return q.reader.ListForSystem(ctx, msg.SystemID, msg.Direction)
}

type ListActivityQuery struct {
	reader ActivityReader
}

func NewListActivityQuery(reader ActivityReader) *ListActivityQuery {
	return &ListActivityQuery{reader: reader}
}

func (q *ListActivityQuery) Query(ctx context.Context, msg ListActivityMessage) (core.ActivityPage, error) {
	if q == nil || q.reader == nil {
		return core.ActivityPage{}, queryDependencyError("query: activity reader is required")
	}
	return q.reader.Activity(ctx, msg.Filter)
}

type ListDueExportsQuery struct {
	reader PendingExportReader
}

func NewListDueExportsQuery(reader PendingExportReader) *ListDueExportsQuery {
	return &ListDueExportsQuery{reader: reader}
}

func (q *ListDueExportsQuery) Query(ctx context.Context, msg ListDueExportsMessage) ([]core.PendingExport, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: pending export reader is required")
	}
	return q.reader.ListDue(ctx, msg.Filter)
}

type ListUnresolvedReferencesQuery struct {
	reader DeferredReferenceReader
}

func NewListUnresolvedReferencesQuery(reader DeferredReferenceReader) *ListUnresolvedReferencesQuery {
	return &ListUnresolvedReferencesQuery{reader: reader}
}

func (q *ListUnresolvedReferencesQuery) Query(
	ctx context.Context,
	msg ListUnresolvedReferencesMessage,
) ([]core.DeferredReference, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: deferred reference reader is required")
	}
	filter := msg.Filter
	filter.Unresolved = true
	return q.reader.List(ctx, filter)
}

type GetObjectQuery struct {
	reader ObjectReader
}

func NewGetObjectQuery(reader ObjectReader) *GetObjectQuery {
	return &GetObjectQuery{reader: reader}
}

func (q *GetObjectQuery) Query(ctx context.Context, msg GetObjectMessage) (core.ConnectedSystemObject, error) {
	if q == nil || q.reader == nil {
		return core.ConnectedSystemObject{}, queryDependencyError("query: object reader is required")
	}
	return q.reader.Get(ctx, msg.ObjectID)
}

type GetMetaverseObjectQuery struct {
	reader MetaverseReader
}

func NewGetMetaverseObjectQuery(reader MetaverseReader) *GetMetaverseObjectQuery {
	return &GetMetaverseObjectQuery{reader: reader}
}

func (q *GetMetaverseObjectQuery) Query(
	ctx context.Context,
	msg GetMetaverseObjectMessage,
) (core.MetaverseObject, error) {
	if q == nil || q.reader == nil {
		return core.MetaverseObject{}, queryDependencyError("query: metaverse reader is required")
	}
	return q.reader.Get(ctx, msg.MetaverseID)
}

type FindMetaverseObjectsQuery struct {
	reader MetaverseReader
}

func NewFindMetaverseObjectsQuery(reader MetaverseReader) *FindMetaverseObjectsQuery {
	return &FindMetaverseObjectsQuery{reader: reader}
}

func (q *FindMetaverseObjectsQuery) Query(
	ctx context.Context,
	msg FindMetaverseObjectsMessage,
) ([]core.MetaverseObject, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: metaverse reader is required")
	}
	return q.reader.FindByAttribute(ctx, msg.ObjectType, msg.AttributeName, msg.ValueKey, msg.CaseFold)
}
