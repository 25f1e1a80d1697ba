package metasync

import (
	"fmt"
	"reflect"

	metasynccommand "github.com/goliatone/go-metasync/command"
	"github.com/goliatone/go-metasync/core"
	metasyncquery "github.com/goliatone/go-metasync/query"
)

// CommandQueryEngine is the surface the facade wraps: the mutating engine
// operations plus the activity read path.
type CommandQueryEngine interface {
	metasynccommand.SyncEngine
	metasyncquery.ActivityReader
}

type Commands struct {
	RunImport             *metasynccommand.RunImportCommand
	RunExport             *metasynccommand.RunExportCommand
	ResolveReferences     *metasynccommand.ResolveReferencesCommand
	SaveSyncRule          *metasynccommand.SaveSyncRuleCommand
	ProcessImportedObject *metasynccommand.ProcessImportedObjectCommand
}

type Queries struct {
	GetSyncRule              *metasyncquery.GetSyncRuleQuery
	ListSyncRules            *metasyncquery.ListSyncRulesQuery
	ListActivity             *metasyncquery.ListActivityQuery
	ListDueExports           *metasyncquery.ListDueExportsQuery
	ListUnresolvedReferences *metasyncquery.ListUnresolvedReferencesQuery
	GetObject                *metasyncquery.GetObjectQuery
	GetMetaverseObject       *metasyncquery.GetMetaverseObjectQuery
	FindMetaverseObjects     *metasyncquery.FindMetaverseObjectsQuery
}

type Facade struct {
	engine   CommandQueryEngine
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	stores core.StoreProvider
}

// WithFacadeStores overrides the store provider backing the read queries.
// Without it the facade resolves stores from the engine itself.
func WithFacadeStores(stores core.StoreProvider) FacadeOption {
	return func(options *facadeOptions) {
		options.stores = stores
	}
}

func NewFacade(engine CommandQueryEngine, opts ...FacadeOption) (*Facade, error) {
	if engine == nil {
		return nil, fmt.Errorf("metasync: command/query engine is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	stores := cfg.stores
	if stores == nil {
		stores = resolveStoreProvider(engine)
	}

	facade := &Facade{engine: engine}
	facade.commands = Commands{
		RunImport:             metasynccommand.NewRunImportCommand(engine),
		RunExport:             metasynccommand.NewRunExportCommand(engine),
		ResolveReferences:     metasynccommand.NewResolveReferencesCommand(engine),
		SaveSyncRule:          metasynccommand.NewSaveSyncRuleCommand(engine),
		ProcessImportedObject: metasynccommand.NewProcessImportedObjectCommand(engine),
	}
	facade.queries = Queries{
		ListActivity: metasyncquery.NewListActivityQuery(engine),
	}
	if stores != nil {
		facade.queries.GetSyncRule = metasyncquery.NewGetSyncRuleQuery(stores.SyncRuleStore())
		facade.queries.ListSyncRules = metasyncquery.NewListSyncRulesQuery(stores.SyncRuleStore())
		facade.queries.ListDueExports = metasyncquery.NewListDueExportsQuery(stores.PendingExportStore())
		facade.queries.ListUnresolvedReferences = metasyncquery.NewListUnresolvedReferencesQuery(stores.DeferredReferenceStore())
		facade.queries.GetObject = metasyncquery.NewGetObjectQuery(stores.ObjectStore())
		facade.queries.GetMetaverseObject = metasyncquery.NewGetMetaverseObjectQuery(stores.MetaverseStore())
		facade.queries.FindMetaverseObjects = metasyncquery.NewFindMetaverseObjectsQuery(stores.MetaverseStore())
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Engine() CommandQueryEngine {
	if f == nil {
		return nil
	}
	return f.engine
}

// resolveStoreProvider pulls a StoreProvider out of the engine when it
// exposes one. *core.Engine does through Stores(); custom engines may not.
func resolveStoreProvider(engine CommandQueryEngine) core.StoreProvider {
	if engine == nil {
		return nil
	}
	if provider, ok := engine.(interface{ Stores() core.StoreProvider }); ok {
		return provider.Stores()
	}

	engineValue := reflect.ValueOf(engine)
	if !engineValue.IsValid() {
		return nil
	}
	if engineValue.Kind() == reflect.Ptr && engineValue.IsNil() {
		return nil
	}
	method := engineValue.MethodByName("Stores")
	if !method.IsValid() || method.Type().NumIn() != 0 || method.Type().NumOut() != 1 {
		return nil
	}

	results, ok := safeReflectCall(method)
	if !ok || len(results) != 1 {
		return nil
	}
	candidate := results[0]
	if !candidate.IsValid() {
		return nil
	}
	if candidate.Kind() == reflect.Ptr && candidate.IsNil() {
		return nil
	}
	provider, ok := candidate.Interface().(core.StoreProvider)
	if !ok {
		return nil
	}
	return provider
}

func safeReflectCall(method reflect.Value) (_ []reflect.Value, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return method.Call(nil), true
}
