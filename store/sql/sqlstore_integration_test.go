package sqlstore_test

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"

	"github.com/goliatone/go-metasync/core"
	metasyncmigrations "github.com/goliatone/go-metasync/migrations"
	sqlstore "github.com/goliatone/go-metasync/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-metasync-tests"
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:metasync-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, liteDialect, err := sqlstore.OpenDatabase(sqlstore.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}

	cfg := testPersistenceConfig{
		driver: sqlstore.DriverSQLite,
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, liteDialect)
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = metasyncmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != metasyncmigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, metasyncmigrations.WithValidationTargets(metasyncmigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}

func newTestStores(t *testing.T) (*sqlstore.Stores, func()) {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	stores, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		cleanup()
		t.Fatalf("new store set: %v", err)
	}
	return stores, cleanup
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"metasync_objects",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "metasync_objects" {
		t.Fatalf("expected metasync_objects table, got %q", tableName)
	}
}

func TestObjectStore_OptimisticVersioning(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newTestStores(t)
	defer cleanup()

	objectStore := stores.ObjectStore()

	created, err := objectStore.Create(ctx, core.ConnectedSystemObject{
		ID:         "cso_1",
		SystemID:   "hr",
		ObjectType: "user",
		ExternalID: "emp-1",
		Status:     core.ObjectStatusConnected,
		Attributes: []core.AttributeValue{core.StringAttr("name", "Alice")},
	})
	if err != nil {
		t.Fatalf("create object: %v", err)
	}
	if created.Version != 1 {
		t.Fatalf("expected initial version=1, got %d", created.Version)
	}

	byExternal, err := objectStore.GetByExternalID(ctx, "hr", "user", "emp-1")
	if err != nil {
		t.Fatalf("get by external id: %v", err)
	}
	if byExternal.ID != "cso_1" {
		t.Fatalf("expected cso_1 by external id, got %q", byExternal.ID)
	}

	updated := created
	updated.Attributes = []core.AttributeValue{core.StringAttr("name", "Alice Chen")}
	updated, err = objectStore.Update(ctx, updated)
	if err != nil {
		t.Fatalf("update object: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version bump to 2, got %d", updated.Version)
	}

	stale := created
	stale.Attributes = []core.AttributeValue{core.StringAttr("name", "Stale Write")}
	if _, err := objectStore.Update(ctx, stale); !errors.Is(err, core.ErrVersionConflict) {
		t.Fatalf("expected version conflict for stale write, got %v", err)
	}

	if _, err := objectStore.Get(ctx, "cso_missing"); !errors.Is(err, core.ErrObjectNotFound) {
		t.Fatalf("expected not-found for missing object, got %v", err)
	}
}

func TestMetaverseStore_FindByAttributeCaseFolding(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newTestStores(t)
	defer cleanup()

	metaverseStore := stores.MetaverseStore()

	mvo, err := metaverseStore.Create(ctx, core.MetaverseObject{
		ID:         "mvo_1",
		ObjectType: "person",
		Status:     core.MetaverseStatusActive,
		CreatedBy:  "hr",
		Attributes: []core.MetaverseAttributeValue{
			{AttributeValue: core.StringAttr("displayName", "Alice Chen"), ContributedBy: "hr"},
			{AttributeValue: core.IntAttr("employeeId", 42), ContributedBy: "hr"},
		},
	})
	if err != nil {
		t.Fatalf("create metaverse object: %v", err)
	}

	exact, err := metaverseStore.FindByAttribute(ctx, "person", "displayName", "s:Alice Chen", false)
	if err != nil {
		t.Fatalf("find exact: %v", err)
	}
	if len(exact) != 1 || exact[0].ID != "mvo_1" {
		t.Fatalf("expected exact match on mvo_1, got %#v", exact)
	}

	if miss, err := metaverseStore.FindByAttribute(ctx, "person", "displayName", "s:alice chen", false); err != nil {
		t.Fatalf("find case-sensitive miss: %v", err)
	} else if len(miss) != 0 {
		t.Fatalf("expected case-sensitive lookup to miss, got %d candidates", len(miss))
	}

	folded, err := metaverseStore.FindByAttribute(ctx, "person", "displayName", "s:ALICE chen", true)
	if err != nil {
		t.Fatalf("find folded: %v", err)
	}
	if len(folded) != 1 || folded[0].ID != "mvo_1" {
		t.Fatalf("expected folded match on mvo_1, got %#v", folded)
	}

	mvo.Attributes = []core.MetaverseAttributeValue{
		{AttributeValue: core.StringAttr("displayName", "Alice Wu"), ContributedBy: "hr"},
	}
	if _, err := metaverseStore.Update(ctx, mvo); err != nil {
		t.Fatalf("update metaverse object: %v", err)
	}

	if gone, err := metaverseStore.FindByAttribute(ctx, "person", "displayName", "s:Alice Chen", false); err != nil {
		t.Fatalf("find after update: %v", err)
	} else if len(gone) != 0 {
		t.Fatalf("expected stale index entry to be rebuilt away, got %d candidates", len(gone))
	}

	renamed, err := metaverseStore.FindByAttribute(ctx, "person", "displayName", "s:Alice Wu", false)
	if err != nil {
		t.Fatalf("find renamed: %v", err)
	}
	if len(renamed) != 1 {
		t.Fatalf("expected rebuilt index to find renamed value, got %d candidates", len(renamed))
	}

	if err := metaverseStore.Delete(ctx, "mvo_1"); err != nil {
		t.Fatalf("delete metaverse object: %v", err)
	}
	if _, err := metaverseStore.Get(ctx, "mvo_1"); !errors.Is(err, core.ErrObjectNotFound) {
		t.Fatalf("expected not-found after delete, got %v", err)
	}
}

func TestSyncRuleStore_SaveBumpsVersion(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newTestStores(t)
	defer cleanup()

	ruleStore := stores.SyncRuleStore()

	rule := core.SyncRule{
		ID:            "rule-hr-in",
		Name:          "HR inbound users",
		SystemID:      "hr",
		ObjectType:    "user",
		MetaverseType: "person",
		Direction:     core.DirectionImport,
		Enabled:       true,
		MatchingRules: []core.MatchingRule{
			{ID: "m-employee", Order: 1, SourceAttribute: "employeeId", TargetAttribute: "employeeId"},
		},
		Mappings: []core.SyncRuleMapping{
			{
				ID:              "map-display",
				TargetAttribute: "displayName",
				TargetKind:      core.KindString,
				Priority:        1,
				Sources:         []core.MappingSource{{Kind: core.SourceKindAttribute, Attribute: "name"}},
			},
		},
	}

	saved, err := ruleStore.Save(ctx, rule)
	if err != nil {
		t.Fatalf("save rule: %v", err)
	}
	if saved.Version != 1 {
		t.Fatalf("expected first save version=1, got %d", saved.Version)
	}

	saved.Name = "HR inbound users v2"
	resaved, err := ruleStore.Save(ctx, saved)
	if err != nil {
		t.Fatalf("resave rule: %v", err)
	}
	if resaved.Version != 2 {
		t.Fatalf("expected second save version=2, got %d", resaved.Version)
	}
	if resaved.CreatedAt.Unix() != saved.CreatedAt.Unix() {
		t.Fatalf("expected resave to keep created_at, got %v != %v", resaved.CreatedAt, saved.CreatedAt)
	}

	listed, err := ruleStore.ListForSystem(ctx, "hr", core.DirectionImport)
	if err != nil {
		t.Fatalf("list rules for system: %v", err)
	}
	if len(listed) != 1 || listed[0].Name != "HR inbound users v2" {
		t.Fatalf("expected updated rule in listing, got %#v", listed)
	}
	if len(listed[0].Mappings) != 1 || listed[0].Mappings[0].Sources[0].Attribute != "name" {
		t.Fatalf("expected mapping round trip, got %#v", listed[0].Mappings)
	}
}

func TestPendingExportStore_UpsertAndListDue(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newTestStores(t)
	defer cleanup()

	exportStore := stores.PendingExportStore()

	export := core.PendingExport{
		ID:         "exp_1",
		ObjectID:   "cso_1",
		SystemID:   "ad",
		ChangeType: core.ChangeTypeCreate,
		Status:     core.ExportStatusPending,
		AttributeChanges: []core.PendingExportAttributeChange{
			{
				AttributeName: "displayName",
				Operation:     core.OperationAdd,
				Values:        []core.AttributeValue{core.StringAttr("displayName", "Alice Chen")},
				Status:        core.AttributeChangePending,
			},
		},
	}
	if _, err := exportStore.Save(ctx, export); err != nil {
		t.Fatalf("save export: %v", err)
	}

	retryAt := time.Now().UTC().Add(time.Hour)
	export.ErrorCount = 1
	export.LastErrorMessage = "ad unreachable"
	export.NextRetryAt = &retryAt
	if _, err := exportStore.Save(ctx, export); err != nil {
		t.Fatalf("upsert export: %v", err)
	}

	fetched, err := exportStore.GetByObject(ctx, "cso_1")
	if err != nil {
		t.Fatalf("get export by object: %v", err)
	}
	if fetched.ID != "exp_1" || fetched.ErrorCount != 1 {
		t.Fatalf("expected upsert to overwrite exp_1, got %#v", fetched)
	}
	if fetched.NextRetryAt == nil {
		t.Fatalf("expected next retry timestamp to survive round trip")
	}

	now := time.Now().UTC()
	due, err := exportStore.ListDue(ctx, core.PendingExportFilter{
		SystemID: "ad",
		Status:   core.ExportStatusPending,
		DueAt:    &now,
	})
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected backing-off export to be excluded, got %d", len(due))
	}

	afterRetry := retryAt.Add(time.Minute)
	due, err = exportStore.ListDue(ctx, core.PendingExportFilter{
		SystemID: "ad",
		Status:   core.ExportStatusPending,
		DueAt:    &afterRetry,
	})
	if err != nil {
		t.Fatalf("list due after retry window: %v", err)
	}
	if len(due) != 1 || due[0].ID != "exp_1" {
		t.Fatalf("expected exp_1 due after retry window, got %#v", due)
	}

	if err := exportStore.Delete(ctx, "exp_1"); err != nil {
		t.Fatalf("delete export: %v", err)
	}
	if _, err := exportStore.Get(ctx, "exp_1"); !errors.Is(err, core.ErrObjectNotFound) {
		t.Fatalf("expected not-found after delete, got %v", err)
	}
}

func TestDeferredReferenceStore_ResolutionIsTerminal(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newTestStores(t)
	defer cleanup()

	deferredStore := stores.DeferredReferenceStore()

	ref, err := deferredStore.Create(ctx, core.DeferredReference{
		ID:             "ref_1",
		SourceObjectID: "cso_1",
		AttributeName:  "manager",
		TargetMVOID:    "mvo_boss",
		TargetSystemID: "ad",
		SyncRuleID:     "rule-ad-out",
	})
	if err != nil {
		t.Fatalf("create deferred reference: %v", err)
	}
	if ref.Resolved() {
		t.Fatalf("expected new reference unresolved")
	}

	if err := deferredStore.IncrementRetry(ctx, "ref_1"); err != nil {
		t.Fatalf("increment retry: %v", err)
	}

	unresolved, err := deferredStore.List(ctx, core.DeferredReferenceFilter{
		TargetSystemID: "ad",
		Unresolved:     true,
	})
	if err != nil {
		t.Fatalf("list unresolved: %v", err)
	}
	if len(unresolved) != 1 || unresolved[0].RetryCount != 1 {
		t.Fatalf("expected one unresolved reference with retry_count=1, got %#v", unresolved)
	}

	resolvedAt := time.Now().UTC().Truncate(time.Second)
	if err := deferredStore.MarkResolved(ctx, "ref_1", resolvedAt); err != nil {
		t.Fatalf("mark resolved: %v", err)
	}
	if err := deferredStore.MarkResolved(ctx, "ref_1", resolvedAt.Add(time.Hour)); err != nil {
		t.Fatalf("expected second mark resolved to be a no-op, got %v", err)
	}

	fetched, err := deferredStore.Get(ctx, "ref_1")
	if err != nil {
		t.Fatalf("get reference: %v", err)
	}
	if fetched.ResolvedAt == nil || !fetched.ResolvedAt.Equal(resolvedAt) {
		t.Fatalf("expected original resolution timestamp to stick, got %v", fetched.ResolvedAt)
	}

	unresolved, err = deferredStore.List(ctx, core.DeferredReferenceFilter{Unresolved: true})
	if err != nil {
		t.Fatalf("list unresolved after resolution: %v", err)
	}
	if len(unresolved) != 0 {
		t.Fatalf("expected no unresolved references, got %d", len(unresolved))
	}

	if err := deferredStore.MarkResolved(ctx, "ref_missing", resolvedAt); !errors.Is(err, core.ErrObjectNotFound) {
		t.Fatalf("expected not-found for missing reference, got %v", err)
	}
}

func TestWatermarkStore_Upsert(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newTestStores(t)
	defer cleanup()

	watermarkStore := stores.WatermarkStore()

	if _, err := watermarkStore.Get(ctx, "hr", "daily"); !errors.Is(err, core.ErrObjectNotFound) {
		t.Fatalf("expected not-found before first save, got %v", err)
	}

	if err := watermarkStore.Save(ctx, core.ImportWatermark{
		SystemID:         "hr",
		RunProfileID:     "daily",
		PaginationTokens: map[string]string{"user": "tok-1"},
		PersistedData:    "cookie-1",
	}); err != nil {
		t.Fatalf("save watermark: %v", err)
	}

	if err := watermarkStore.Save(ctx, core.ImportWatermark{
		SystemID:         "hr",
		RunProfileID:     "daily",
		PaginationTokens: map[string]string{"user": "tok-2"},
		PersistedData:    "cookie-2",
	}); err != nil {
		t.Fatalf("upsert watermark: %v", err)
	}

	watermark, err := watermarkStore.Get(ctx, "hr", "daily")
	if err != nil {
		t.Fatalf("get watermark: %v", err)
	}
	if watermark.PaginationTokens["user"] != "tok-2" || watermark.PersistedData != "cookie-2" {
		t.Fatalf("expected upserted watermark, got %#v", watermark)
	}
}

func TestRunStore_LifecycleAndListing(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newTestStores(t)
	defer cleanup()

	runStore := stores.RunStore()

	run, err := runStore.Create(ctx, core.SyncRun{
		ID:       "run_1",
		SystemID: "hr",
		Kind:     core.RunKindFullImport,
		Status:   core.RunStatusQueued,
		Metadata: map[string]any{"profile": "daily"},
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	run.Status = core.RunStatusRunning
	run.Attempts = 1
	if _, err := runStore.Update(ctx, run); err != nil {
		t.Fatalf("update run: %v", err)
	}

	running, err := runStore.ListByStatus(ctx, core.RunStatusRunning, 10)
	if err != nil {
		t.Fatalf("list running: %v", err)
	}
	if len(running) != 1 || running[0].ID != "run_1" || running[0].Attempts != 1 {
		t.Fatalf("expected run_1 running with attempts=1, got %#v", running)
	}

	queued, err := runStore.ListByStatus(ctx, core.RunStatusQueued, 10)
	if err != nil {
		t.Fatalf("list queued: %v", err)
	}
	if len(queued) != 0 {
		t.Fatalf("expected no queued runs, got %d", len(queued))
	}
}

func TestActivityStore_RecordAndPaginate(t *testing.T) {
	ctx := context.Background()
	stores, cleanup := newTestStores(t)
	defer cleanup()

	sink := stores.ActivitySink()

	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := sink.Record(ctx, core.ActivityEntry{
			Action:    "run_import",
			SystemID:  "hr",
			Status:    core.ActivityStatusOK,
			Message:   fmt.Sprintf("page %d", i+1),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("record activity %d: %v", i, err)
		}
	}
	if err := sink.Record(ctx, core.ActivityEntry{
		Action:    "run_export",
		SystemID:  "ad",
		Status:    core.ActivityStatusError,
		Message:   "ad unreachable",
		CreatedAt: base.Add(time.Hour),
	}); err != nil {
		t.Fatalf("record export activity: %v", err)
	}

	page, err := sink.List(ctx, core.ActivityFilter{
		SystemID: "hr",
		Action:   "run_import",
		Page:     1,
		PerPage:  2,
	})
	if err != nil {
		t.Fatalf("list activity: %v", err)
	}
	if page.Total != 3 || len(page.Items) != 2 || !page.HasNext {
		t.Fatalf("expected total=3 items=2 hasNext, got total=%d items=%d hasNext=%v",
			page.Total, len(page.Items), page.HasNext)
	}
	if page.Items[0].Message != "page 3" {
		t.Fatalf("expected newest entry first, got %q", page.Items[0].Message)
	}

	last, err := sink.List(ctx, core.ActivityFilter{
		SystemID: "hr",
		Action:   "run_import",
		Page:     2,
		PerPage:  2,
	})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(last.Items) != 1 || last.HasNext {
		t.Fatalf("expected final page of 1, got items=%d hasNext=%v", len(last.Items), last.HasNext)
	}

	failures, err := sink.List(ctx, core.ActivityFilter{Status: core.ActivityStatusError})
	if err != nil {
		t.Fatalf("list failures: %v", err)
	}
	if failures.Total != 1 || failures.Items[0].SystemID != "ad" {
		t.Fatalf("expected one ad failure entry, got %#v", failures.Items)
	}
}

func TestEngineWiring_BuildsStoresFromRepositoryFactory(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	engine, err := core.NewEngine(core.Config{},
		core.WithPersistenceClient(client),
		core.WithRepositoryFactory(sqlstore.NewRepositoryFactory()),
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	saved, issues, err := engine.SaveSyncRule(ctx, core.SyncRule{
		Name:          "HR inbound users",
		SystemID:      "hr",
		ObjectType:    "User",
		MetaverseType: "Person",
		Direction:     core.DirectionImport,
		Enabled:       true,
		MatchingRules: []core.MatchingRule{
			{ID: "m-employee", Order: 1, SourceAttribute: "employeeId", TargetAttribute: "employeeId"},
		},
		Mappings: []core.SyncRuleMapping{
			{
				ID:              "map-display",
				TargetAttribute: "displayName",
				TargetKind:      core.KindString,
				Priority:        1,
				Sources:         []core.MappingSource{{Kind: core.SourceKindAttribute, Attribute: "name"}},
			},
		},
	})
	if err != nil {
		t.Fatalf("save sync rule through engine: %v", err)
	}
	if len(issues) != 0 {
		t.Fatalf("expected no validation issues, got %#v", issues)
	}
	if saved.ID == "" {
		t.Fatalf("expected generated rule id")
	}

	var count int
	if err := client.DB().NewRaw(
		"SELECT COUNT(*) FROM metasync_sync_rules WHERE system_id = ?",
		"hr",
	).Scan(ctx, &count); err != nil {
		t.Fatalf("count persisted rules: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 persisted rule, got %d", count)
	}
}
