package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-metasync/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const syncRuleCacheKeyPrefix = "go-metasync::sync_rules::v1"

// CachedSyncRuleStore layers a read-through cache over a sync rule
// store. Rules are read on every imported object, so the hot path
// should not hit the database per object. Writes invalidate every key
// the changed rule can appear under.
type CachedSyncRuleStore struct {
	base  core.SyncRuleStore
	cache repositorycache.CacheService
}

func NewCachedSyncRuleStore(
	base core.SyncRuleStore,
	cacheService repositorycache.CacheService,
) (*CachedSyncRuleStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base sync rule store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: sync rule cache service is required")
	}
	return &CachedSyncRuleStore{base: base, cache: cacheService}, nil
}

func syncRuleCacheKey(segments ...string) string {
	escaped := make([]string, 0, len(segments)+1)
	escaped = append(escaped, syncRuleCacheKeyPrefix)
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(segment))
	}
	return strings.Join(escaped, "::")
}

func (s *CachedSyncRuleStore) Save(ctx context.Context, rule core.SyncRule) (core.SyncRule, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.SyncRule{}, fmt.Errorf("sqlstore: cached sync rule store is not configured")
	}
	saved, err := s.base.Save(ctx, rule)
	if err != nil {
		return core.SyncRule{}, err
	}
	if err := s.invalidate(ctx, saved.ID, saved.SystemID); err != nil {
		return core.SyncRule{}, err
	}
	return saved, nil
}

func (s *CachedSyncRuleStore) Get(ctx context.Context, id string) (core.SyncRule, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.SyncRule{}, fmt.Errorf("sqlstore: cached sync rule store is not configured")
	}
	key := syncRuleCacheKey("rule", strings.TrimSpace(id))
	return repositorycache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) (core.SyncRule, error) {
		return s.base.Get(ctx, id)
	})
}

func (s *CachedSyncRuleStore) ListForSystem(ctx context.Context, systemID string, direction core.SyncRuleDirection) ([]core.SyncRule, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached sync rule store is not configured")
	}
	key := syncRuleCacheKey("system", strings.TrimSpace(systemID), string(direction))
	return repositorycache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) ([]core.SyncRule, error) {
		return s.base.ListForSystem(ctx, systemID, direction)
	})
}

func (s *CachedSyncRuleStore) List(ctx context.Context) ([]core.SyncRule, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached sync rule store is not configured")
	}
	key := syncRuleCacheKey("all")
	return repositorycache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) ([]core.SyncRule, error) {
		return s.base.List(ctx)
	})
}

func (s *CachedSyncRuleStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached sync rule store is not configured")
	}
	systemID := ""
	if existing, err := s.base.Get(ctx, id); err == nil {
		systemID = existing.SystemID
	}
	if err := s.base.Delete(ctx, id); err != nil {
		return err
	}
	return s.invalidate(ctx, id, systemID)
}

func (s *CachedSyncRuleStore) invalidate(ctx context.Context, ruleID, systemID string) error {
	keys := []string{
		syncRuleCacheKey("rule", strings.TrimSpace(ruleID)),
		syncRuleCacheKey("all"),
	}
	if trimmed := strings.TrimSpace(systemID); trimmed != "" {
		keys = append(keys,
			syncRuleCacheKey("system", trimmed, string(core.DirectionImport)),
			syncRuleCacheKey("system", trimmed, string(core.DirectionExport)),
		)
	}
	for _, key := range keys {
		if err := s.cache.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

var _ core.SyncRuleStore = (*CachedSyncRuleStore)(nil)
