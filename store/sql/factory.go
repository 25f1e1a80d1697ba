package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-metasync/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

// Stores bundles every SQL-backed store over a single bun.DB so the
// engine can be wired with one call.
type Stores struct {
	objects    *ObjectStore
	metaverse  *MetaverseStore
	rules      core.SyncRuleStore
	exports    *PendingExportStore
	deferred   *DeferredReferenceStore
	watermarks *WatermarkStore
	runs       *RunStore
	activity   *ActivityStore
}

func NewStores(db *bun.DB, opts ...StoresOption) (*Stores, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	cfg := storesConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	objects, err := NewObjectStore(db)
	if err != nil {
		return nil, err
	}
	metaverse, err := NewMetaverseStore(db)
	if err != nil {
		return nil, err
	}
	baseRules, err := NewSyncRuleStore(db)
	if err != nil {
		return nil, err
	}
	var rules core.SyncRuleStore = baseRules
	if cfg.ruleCache != nil {
		cached, cacheErr := NewCachedSyncRuleStore(baseRules, cfg.ruleCache)
		if cacheErr != nil {
			return nil, cacheErr
		}
		rules = cached
	}
	exports, err := NewPendingExportStore(db)
	if err != nil {
		return nil, err
	}
	deferred, err := NewDeferredReferenceStore(db)
	if err != nil {
		return nil, err
	}
	watermarks, err := NewWatermarkStore(db)
	if err != nil {
		return nil, err
	}
	runs, err := NewRunStore(db)
	if err != nil {
		return nil, err
	}
	activity, err := NewActivityStore(db)
	if err != nil {
		return nil, err
	}

	return &Stores{
		objects:    objects,
		metaverse:  metaverse,
		rules:      rules,
		exports:    exports,
		deferred:   deferred,
		watermarks: watermarks,
		runs:       runs,
		activity:   activity,
	}, nil
}

type storesConfig struct {
	ruleCache repositorycache.CacheService
}

type StoresOption func(*storesConfig)

// WithSyncRuleCache wraps the sync rule store with a read-through cache.
func WithSyncRuleCache(cache repositorycache.CacheService) StoresOption {
	return func(cfg *storesConfig) {
		cfg.ruleCache = cache
	}
}

func (s *Stores) ObjectStore() core.ObjectStore                       { return s.objects }
func (s *Stores) MetaverseStore() core.MetaverseStore                 { return s.metaverse }
func (s *Stores) SyncRuleStore() core.SyncRuleStore                   { return s.rules }
func (s *Stores) PendingExportStore() core.PendingExportStore         { return s.exports }
func (s *Stores) DeferredReferenceStore() core.DeferredReferenceStore { return s.deferred }
func (s *Stores) WatermarkStore() core.WatermarkStore                 { return s.watermarks }
func (s *Stores) RunStore() core.RunStore                             { return s.runs }
func (s *Stores) ActivitySink() core.ActivitySink                     { return s.activity }

var _ core.StoreProvider = (*Stores)(nil)

// RepositoryFactory builds the SQL store set from an opaque persistence
// client. It accepts a *bun.DB directly or any client exposing one,
// which lets callers hand over a persistence client without this
// package depending on its concrete type.
type RepositoryFactory struct {
	opts []StoresOption
}

func NewRepositoryFactory(opts ...StoresOption) *RepositoryFactory {
	return &RepositoryFactory{opts: opts}
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	db, err := resolveBunDB(persistenceClient)
	if err != nil {
		return nil, err
	}
	var opts []StoresOption
	if f != nil {
		opts = f.opts
	}
	return NewStores(db, opts...)
}

// NewRepositoryFactoryFromPersistence builds the store set directly
// from a persistence client, skipping the factory indirection.
func NewRepositoryFactoryFromPersistence(client any, opts ...StoresOption) (*Stores, error) {
	db, err := resolveBunDB(client)
	if err != nil {
		return nil, err
	}
	return NewStores(db, opts...)
}

func resolveBunDB(client any) (*bun.DB, error) {
	switch v := client.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return v, nil
	case interface{ DB() *bun.DB }:
		db := v.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned a nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client %T", client)
	}
}

var _ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
