package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryObjectStore struct {
	mu   sync.Mutex
	byID map[string]ConnectedSystemObject
}

func newMemoryObjectStore() *memoryObjectStore {
	return &memoryObjectStore{byID: map[string]ConnectedSystemObject{}}
}

func (s *memoryObjectStore) Create(_ context.Context, object ConnectedSystemObject) (ConnectedSystemObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if object.ID == "" {
		return ConnectedSystemObject{}, fmt.Errorf("object id is required")
	}
	if _, exists := s.byID[object.ID]; exists {
		return ConnectedSystemObject{}, fmt.Errorf("duplicate object %q", object.ID)
	}
	object.Version = 1
	s.byID[object.ID] = object
	return object, nil
}

func (s *memoryObjectStore) Get(_ context.Context, id string) (ConnectedSystemObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	object, ok := s.byID[id]
	if !ok {
		return ConnectedSystemObject{}, fmt.Errorf("%w: object %q", ErrObjectNotFound, id)
	}
	return object, nil
}

func (s *memoryObjectStore) GetByExternalID(_ context.Context, systemID, objectType, externalID string) (ConnectedSystemObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, object := range s.byID {
		if object.SystemID == systemID && object.ObjectType == objectType && object.ExternalID == externalID {
			return object, nil
		}
	}
	return ConnectedSystemObject{}, fmt.Errorf("%w: external id %q", ErrObjectNotFound, externalID)
}

func (s *memoryObjectStore) ListJoinedTo(_ context.Context, metaverseID string) ([]ConnectedSystemObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ConnectedSystemObject
	for _, object := range s.byID {
		if object.MetaverseID == metaverseID {
			out = append(out, object)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryObjectStore) ListBySystem(_ context.Context, systemID string, limit int) ([]ConnectedSystemObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ConnectedSystemObject
	for _, object := range s.byID {
		if object.SystemID == systemID {
			out = append(out, object)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryObjectStore) Update(_ context.Context, object ConnectedSystemObject) (ConnectedSystemObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.byID[object.ID]
	if !ok {
		return ConnectedSystemObject{}, fmt.Errorf("%w: object %q", ErrObjectNotFound, object.ID)
	}
	if object.Version != 0 && object.Version != existing.Version {
		return ConnectedSystemObject{}, fmt.Errorf("%w: object %q", ErrVersionConflict, object.ID)
	}
	object.Version = existing.Version + 1
	s.byID[object.ID] = object
	return object, nil
}

type memoryMetaverseStore struct {
	mu   sync.Mutex
	byID map[string]MetaverseObject
}

func newMemoryMetaverseStore() *memoryMetaverseStore {
	return &memoryMetaverseStore{byID: map[string]MetaverseObject{}}
}

func (s *memoryMetaverseStore) Create(_ context.Context, object MetaverseObject) (MetaverseObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if object.ID == "" {
		return MetaverseObject{}, fmt.Errorf("metaverse id is required")
	}
	if _, exists := s.byID[object.ID]; exists {
		return MetaverseObject{}, fmt.Errorf("duplicate metaverse object %q", object.ID)
	}
	object.Version = 1
	s.byID[object.ID] = object
	return object, nil
}

func (s *memoryMetaverseStore) Get(_ context.Context, id string) (MetaverseObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	object, ok := s.byID[id]
	if !ok {
		return MetaverseObject{}, fmt.Errorf("%w: metaverse object %q", ErrObjectNotFound, id)
	}
	return object, nil
}

func (s *memoryMetaverseStore) FindByAttribute(
	_ context.Context,
	objectType, attributeName, valueKey string,
	caseFold bool,
) ([]MetaverseObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := valueKey
	if caseFold {
		wanted = strings.ToLower(wanted)
	}
	var out []MetaverseObject
	for _, object := range s.byID {
		if object.ObjectType != objectType {
			continue
		}
		for _, value := range object.Attributes {
			if value.Name != attributeName {
				continue
			}
			key := value.ValueKey()
			if caseFold {
				key = strings.ToLower(key)
			}
			if key == wanted {
				out = append(out, object)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryMetaverseStore) Update(_ context.Context, object MetaverseObject) (MetaverseObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.byID[object.ID]
	if !ok {
		return MetaverseObject{}, fmt.Errorf("%w: metaverse object %q", ErrObjectNotFound, object.ID)
	}
	if object.Version != 0 && object.Version != existing.Version {
		return MetaverseObject{}, fmt.Errorf("%w: metaverse object %q", ErrVersionConflict, object.ID)
	}
	object.Version = existing.Version + 1
	s.byID[object.ID] = object
	return object, nil
}

func (s *memoryMetaverseStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	return nil
}

func (s *memoryMetaverseStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

type memorySyncRuleStore struct {
	mu   sync.Mutex
	byID map[string]SyncRule
}

func newMemorySyncRuleStore() *memorySyncRuleStore {
	return &memorySyncRuleStore{byID: map[string]SyncRule{}}
}

func (s *memorySyncRuleStore) Save(_ context.Context, rule SyncRule) (SyncRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ID == "" {
		return SyncRule{}, fmt.Errorf("rule id is required")
	}
	if existing, ok := s.byID[rule.ID]; ok {
		rule.Version = existing.Version + 1
	} else {
		rule.Version = 1
	}
	s.byID[rule.ID] = rule
	return rule, nil
}

func (s *memorySyncRuleStore) Get(_ context.Context, id string) (SyncRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.byID[id]
	if !ok {
		return SyncRule{}, fmt.Errorf("%w: sync rule %q", ErrObjectNotFound, id)
	}
	return rule, nil
}

func (s *memorySyncRuleStore) ListForSystem(_ context.Context, systemID string, direction SyncRuleDirection) ([]SyncRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SyncRule
	for _, rule := range s.byID {
		if rule.SystemID == systemID && rule.Direction == direction {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memorySyncRuleStore) List(_ context.Context) ([]SyncRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SyncRule
	for _, rule := range s.byID {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memorySyncRuleStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	return nil
}

type memoryPendingExportStore struct {
	mu   sync.Mutex
	byID map[string]PendingExport
}

func newMemoryPendingExportStore() *memoryPendingExportStore {
	return &memoryPendingExportStore{byID: map[string]PendingExport{}}
}

func (s *memoryPendingExportStore) Save(_ context.Context, export PendingExport) (PendingExport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if export.ID == "" {
		return PendingExport{}, fmt.Errorf("pending export id is required")
	}
	s.byID[export.ID] = export
	return export, nil
}

func (s *memoryPendingExportStore) Get(_ context.Context, id string) (PendingExport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	export, ok := s.byID[id]
	if !ok {
		return PendingExport{}, fmt.Errorf("%w: pending export %q", ErrObjectNotFound, id)
	}
	return export, nil
}

func (s *memoryPendingExportStore) GetByObject(_ context.Context, objectID string) (PendingExport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, export := range s.byID {
		if export.ObjectID == objectID {
			return export, nil
		}
	}
	return PendingExport{}, fmt.Errorf("%w: pending export for object %q", ErrObjectNotFound, objectID)
}

func (s *memoryPendingExportStore) ListDue(_ context.Context, filter PendingExportFilter) ([]PendingExport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PendingExport
	for _, export := range s.byID {
		if filter.SystemID != "" && export.SystemID != filter.SystemID {
			continue
		}
		if filter.Status != "" && export.Status != filter.Status {
			continue
		}
		if filter.DueAt != nil && export.NextRetryAt != nil && export.NextRetryAt.After(*filter.DueAt) {
			continue
		}
		out = append(out, export)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *memoryPendingExportStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	return nil
}

func (s *memoryPendingExportStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

type memoryDeferredReferenceStore struct {
	mu   sync.Mutex
	byID map[string]DeferredReference
}

func newMemoryDeferredReferenceStore() *memoryDeferredReferenceStore {
	return &memoryDeferredReferenceStore{byID: map[string]DeferredReference{}}
}

func (s *memoryDeferredReferenceStore) Create(_ context.Context, ref DeferredReference) (DeferredReference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref.ID == "" {
		return DeferredReference{}, fmt.Errorf("deferred reference id is required")
	}
	s.byID[ref.ID] = ref
	return ref, nil
}

func (s *memoryDeferredReferenceStore) Get(_ context.Context, id string) (DeferredReference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.byID[id]
	if !ok {
		return DeferredReference{}, fmt.Errorf("%w: deferred reference %q", ErrObjectNotFound, id)
	}
	return ref, nil
}

func (s *memoryDeferredReferenceStore) List(_ context.Context, filter DeferredReferenceFilter) ([]DeferredReference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []DeferredReference
	for _, ref := range s.byID {
		if filter.TargetSystemID != "" && ref.TargetSystemID != filter.TargetSystemID {
			continue
		}
		if filter.TargetMVOID != "" && ref.TargetMVOID != filter.TargetMVOID {
			continue
		}
		if filter.Unresolved && ref.Resolved() {
			continue
		}
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *memoryDeferredReferenceStore) MarkResolved(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: deferred reference %q", ErrObjectNotFound, id)
	}
	if ref.ResolvedAt == nil {
		ref.ResolvedAt = &at
		s.byID[id] = ref
	}
	return nil
}

func (s *memoryDeferredReferenceStore) IncrementRetry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: deferred reference %q", ErrObjectNotFound, id)
	}
	ref.RetryCount++
	s.byID[id] = ref
	return nil
}

func (s *memoryDeferredReferenceStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	return nil
}

func (s *memoryDeferredReferenceStore) all() []DeferredReference {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []DeferredReference
	for _, ref := range s.byID {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memoryWatermarkStore struct {
	mu      sync.Mutex
	records map[string]ImportWatermark
}

func newMemoryWatermarkStore() *memoryWatermarkStore {
	return &memoryWatermarkStore{records: map[string]ImportWatermark{}}
}

func (s *memoryWatermarkStore) Get(_ context.Context, systemID, runProfileID string) (ImportWatermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[systemID+":"+runProfileID]
	if !ok {
		return ImportWatermark{}, fmt.Errorf("%w: watermark for %q", ErrObjectNotFound, systemID)
	}
	return record, nil
}

func (s *memoryWatermarkStore) Save(_ context.Context, watermark ImportWatermark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[watermark.SystemID+":"+watermark.RunProfileID] = watermark
	return nil
}

type memoryActivitySink struct {
	mu      sync.Mutex
	entries []ActivityEntry
}

func newMemoryActivitySink() *memoryActivitySink {
	return &memoryActivitySink{}
}

func (s *memoryActivitySink) Record(_ context.Context, entry ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memoryActivitySink) List(_ context.Context, filter ActivityFilter) (ActivityPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []ActivityEntry
	for _, entry := range s.entries {
		if filter.SystemID != "" && entry.SystemID != filter.SystemID {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		items = append(items, entry)
	}
	return ActivityPage{Items: items, Total: len(items), Page: 1, PerPage: len(items)}, nil
}

// testConnector is an in-memory connected system with scripted import
// pages and an export side that supports failure injection.
type testConnector struct {
	mu           sync.Mutex
	systemID     string
	objectTypes  []string
	pages        []ImportPage
	imports      []ImportRequest
	exported     []ExportRequest
	failAttrs    map[string]string
	failObjects  map[string]error
	transportErr error
	openErr      error
	nextExternal int
	opened       int
}

func newTestConnector(systemID string) *testConnector {
	return &testConnector{systemID: systemID, objectTypes: []string{"user"}}
}

func (c *testConnector) SystemID() string { return c.systemID }

func (c *testConnector) ObjectTypes() []string {
	return append([]string(nil), c.objectTypes...)
}

func (c *testConnector) OpenImportConnection(_ context.Context, req ImportRequest) (ImportSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.imports = append(c.imports, req)
	pages := append([]ImportPage(nil), c.pages...)
	return &testImportSession{pages: pages}, nil
}

func (c *testConnector) importRequests() []ImportRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ImportRequest(nil), c.imports...)
}

func (c *testConnector) OpenExportConnection(_ context.Context, _ string) (ExportSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return nil, c.openErr
	}
	c.opened++
	return &testExportSession{connector: c}, nil
}

func (c *testConnector) exportedRequests() []ExportRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ExportRequest(nil), c.exported...)
}

type testImportSession struct {
	pages []ImportPage
	index int
}

func (s *testImportSession) NextPage(context.Context) (ImportPage, error) {
	if s.index >= len(s.pages) {
		return ImportPage{HasMore: false}, nil
	}
	page := s.pages[s.index]
	s.index++
	page.HasMore = s.index < len(s.pages)
	return page, nil
}

func (s *testImportSession) Close(context.Context) error { return nil }

type testExportSession struct {
	connector *testConnector
}

func (s *testExportSession) Export(_ context.Context, req ExportRequest) (ExportResult, error) {
	c := s.connector
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exported = append(c.exported, req)
	if c.transportErr != nil {
		return ExportResult{}, c.transportErr
	}
	if err, fails := c.failObjects[req.ObjectID]; fails {
		return ExportResult{}, err
	}
	if len(c.failAttrs) > 0 {
		failed := map[string]string{}
		for _, change := range req.Changes {
			if reason, ok := c.failAttrs[change.AttributeName]; ok {
				failed[change.AttributeName] = reason
			}
		}
		if len(failed) > 0 {
			return ExportResult{FailedAttributes: failed}, nil
		}
	}
	result := ExportResult{}
	if req.ChangeType == ChangeTypeCreate {
		c.nextExternal++
		result.ExternalID = fmt.Sprintf("%s-ext-%d", c.systemID, c.nextExternal)
	}
	return result, nil
}

func (s *testExportSession) Close(context.Context) error { return nil }

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

func testClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	next := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		next++
		return fmt.Sprintf("%s_%d", prefix, next)
	}
}

type testStores struct {
	objects    *memoryObjectStore
	metaverse  *memoryMetaverseStore
	rules      *memorySyncRuleStore
	exports    *memoryPendingExportStore
	deferred   *memoryDeferredReferenceStore
	watermarks *memoryWatermarkStore
	activity   *memoryActivitySink
}

func newTestStores() testStores {
	return testStores{
		objects:    newMemoryObjectStore(),
		metaverse:  newMemoryMetaverseStore(),
		rules:      newMemorySyncRuleStore(),
		exports:    newMemoryPendingExportStore(),
		deferred:   newMemoryDeferredReferenceStore(),
		watermarks: newMemoryWatermarkStore(),
		activity:   newMemoryActivitySink(),
	}
}

func newTestEngine(stores testStores, registry ConnectorRegistry, extra ...Option) (*Engine, error) {
	options := append([]Option{
		WithLogger(stubLogger{}),
		WithObjectStore(stores.objects),
		WithMetaverseStore(stores.metaverse),
		WithSyncRuleStore(stores.rules),
		WithPendingExportStore(stores.exports),
		WithDeferredReferenceStore(stores.deferred),
		WithWatermarkStore(stores.watermarks),
		WithActivitySink(stores.activity),
		WithConnectorRegistry(registry),
		WithEngineClock(testClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))),
		WithIDGenerator(sequentialIDs("id")),
		WithBackoffScheduler(ExponentialBackoffScheduler{Initial: time.Second, Max: time.Minute}),
	}, extra...)
	return NewEngine(Config{}, options...)
}

func mustCompileRule(rule SyncRule) CompiledSyncRule {
	compiled, issues, err := CompileSyncRule(rule)
	if err != nil {
		panic(err)
	}
	if ContainsRuleErrors(issues) {
		panic(fmt.Sprintf("rule has blocking issues: %#v", issues))
	}
	return compiled
}
