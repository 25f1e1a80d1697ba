package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-metasync/core"
)

var (
	_ gocmd.Querier[GetSyncRuleMessage, core.SyncRule]                            = (*GetSyncRuleQuery)(nil)
	_ gocmd.Querier[ListSyncRulesMessage, []core.SyncRule]                        = (*ListSyncRulesQuery)(nil)
	_ gocmd.Querier[ListActivityMessage, core.ActivityPage]                       = (*ListActivityQuery)(nil)
	_ gocmd.Querier[ListDueExportsMessage, []core.PendingExport]                  = (*ListDueExportsQuery)(nil)
	_ gocmd.Querier[ListUnresolvedReferencesMessage, []core.DeferredReference]    = (*ListUnresolvedReferencesQuery)(nil)
	_ gocmd.Querier[GetObjectMessage, core.ConnectedSystemObject]                 = (*GetObjectQuery)(nil)
	_ gocmd.Querier[GetMetaverseObjectMessage, core.MetaverseObject]              = (*GetMetaverseObjectQuery)(nil)
	_ gocmd.Querier[FindMetaverseObjectsMessage, []core.MetaverseObject]          = (*FindMetaverseObjectsQuery)(nil)
)
