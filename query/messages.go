package query

import (
	"strings"

	"github.com/goliatone/go-metasync/core"
)

const (
	TypeGetSyncRule          = "metasync.query.sync_rule.get"
	TypeListSyncRules        = "metasync.query.sync_rule.list"
	TypeListActivity         = "metasync.query.activity.list"
	TypeListDueExports       = "metasync.query.exports.due"
	TypeListUnresolvedRefs   = "metasync.query.references.unresolved"
	TypeGetObject            = "metasync.query.object.get"
	TypeGetMetaverseObject   = "metasync.query.metaverse_object.get"
	TypeFindMetaverseObjects = "metasync.query.metaverse_object.find"
)

type GetSyncRuleMessage struct {
	RuleID string
}

func (GetSyncRuleMessage) Type() string { return TypeGetSyncRule }

func (m GetSyncRuleMessage) Validate() error {
	if strings.TrimSpace(m.RuleID) == "" {
		return queryInvalidInputError("query: rule id is required")
	}
	return nil
}

type ListSyncRulesMessage struct {
	SystemID  string
	Direction core.SyncRuleDirection
}

func (ListSyncRulesMessage) Type() string { return TypeListSyncRules }

func (m ListSyncRulesMessage) Validate() error {
	if m.Direction != "" && !m.Direction.IsValid() {
		return queryInvalidInputError("query: unknown sync rule direction")
	}
	return nil
}

type ListActivityMessage struct {
	Filter core.ActivityFilter
}

func (ListActivityMessage) Type() string { return TypeListActivity }

func (m ListActivityMessage) Validate() error {
	if m.Filter.Page < 0 {
		return queryInvalidInputError("query: page must be >= 0")
	}
	if m.Filter.PerPage < 0 {
		return queryInvalidInputError("query: per_page must be >= 0")
	}
	return nil
}

type ListDueExportsMessage struct {
	Filter core.PendingExportFilter
}

func (ListDueExportsMessage) Type() string { return TypeListDueExports }

func (m ListDueExportsMessage) Validate() error {
	if m.Filter.Limit < 0 {
		return queryInvalidInputError("query: limit must be >= 0")
	}
	return nil
}

type ListUnresolvedReferencesMessage struct {
	Filter core.DeferredReferenceFilter
}

func (ListUnresolvedReferencesMessage) Type() string { return TypeListUnresolvedRefs }

func (m ListUnresolvedReferencesMessage) Validate() error {
	if m.Filter.Limit < 0 {
		return queryInvalidInputError("query: limit must be >= 0")
	}
	return nil
}

type GetObjectMessage struct {
	ObjectID string
}

func (GetObjectMessage) Type() string { return TypeGetObject }

func (m GetObjectMessage) Validate() error {
	if strings.TrimSpace(m.ObjectID) == "" {
		return queryInvalidInputError("query: object id is required")
	}
	return nil
}

type GetMetaverseObjectMessage struct {
	MetaverseID string
}

func (GetMetaverseObjectMessage) Type() string { return TypeGetMetaverseObject }

func (m GetMetaverseObjectMessage) Validate() error {
	if strings.TrimSpace(m.MetaverseID) == "" {
		return queryInvalidInputError("query: metaverse object id is required")
	}
	return nil
}

type FindMetaverseObjectsMessage struct {
	ObjectType    string
	AttributeName string
	ValueKey      string
	CaseFold      bool
}

func (FindMetaverseObjectsMessage) Type() string { return TypeFindMetaverseObjects }

func (m FindMetaverseObjectsMessage) Validate() error {
	if strings.TrimSpace(m.ObjectType) == "" {
		return queryInvalidInputError("query: object type is required")
	}
	if strings.TrimSpace(m.AttributeName) == "" {
		return queryInvalidInputError("query: attribute name is required")
	}
	if strings.TrimSpace(m.ValueKey) == "" {
		return queryInvalidInputError("query: value key is required")
	}
	return nil
}
