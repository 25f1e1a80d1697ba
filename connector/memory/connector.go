package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-metasync/core"
)

// ExportScript fixes the outcome of one export call. Scripts are consumed
// in order; once exhausted the last script repeats.
type ExportScript struct {
	Result core.ExportResult
	Err    error
}

// Connector is an in-memory connected system used by tests and local
// development. Imports page through seeded objects, exports are recorded
// and answered from scripts. When no script is configured a create is
// acknowledged with a generated external id and everything else succeeds.
type Connector struct {
	mu            sync.Mutex
	systemID      string
	objectTypes   []string
	objects       []core.ImportedObject
	exportScripts []ExportScript
	exports       []core.ExportRequest
	importOpens   int
	exportOpens   int
	assigned      int
	importErr     error
	exportErr     error
}

func NewConnector(systemID string, objectTypes ...string) *Connector {
	return &Connector{
		systemID:    strings.TrimSpace(systemID),
		objectTypes: append([]string(nil), objectTypes...),
	}
}

func (c *Connector) SystemID() string {
	if c == nil {
		return ""
	}
	return c.systemID
}

func (c *Connector) ObjectTypes() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.objectTypes...)
}

// SeedObjects replaces the connector's import inventory.
func (c *Connector) SeedObjects(objects ...core.ImportedObject) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects = make([]core.ImportedObject, 0, len(objects))
	for _, object := range objects {
		c.objects = append(c.objects, cloneImportedObject(object))
	}
}

// ScriptExports fixes outcomes for subsequent export calls.
func (c *Connector) ScriptExports(scripts ...ExportScript) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exportScripts = append([]ExportScript(nil), scripts...)
}

// FailImports makes OpenImportConnection return err until cleared.
func (c *Connector) FailImports(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.importErr = err
}

// FailExports makes OpenExportConnection return err until cleared.
func (c *Connector) FailExports(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exportErr = err
}

// Exports returns every export request seen so far.
func (c *Connector) Exports() []core.ExportRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.ExportRequest, 0, len(c.exports))
	for _, req := range c.exports {
		out = append(out, cloneExportRequest(req))
	}
	return out
}

// ImportOpens reports how many import sessions were opened.
func (c *Connector) ImportOpens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.importOpens
}

// ExportOpens reports how many export sessions were opened.
func (c *Connector) ExportOpens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exportOpens
}

func (c *Connector) OpenImportConnection(_ context.Context, req core.ImportRequest) (core.ImportSession, error) {
	if c == nil {
		return nil, fmt.Errorf("memory: connector is nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.importErr != nil {
		return nil, c.importErr
	}
	c.importOpens++

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	types := map[string]struct{}{}
	for _, objectType := range req.ObjectTypes {
		types[objectType] = struct{}{}
	}
	objects := make([]core.ImportedObject, 0, len(c.objects))
	for _, object := range c.objects {
		if len(types) > 0 {
			if _, ok := types[object.ObjectType]; !ok {
				continue
			}
		}
		objects = append(objects, cloneImportedObject(object))
	}
	return &importSession{objects: objects, pageSize: pageSize}, nil
}

func (c *Connector) OpenExportConnection(_ context.Context, systemID string) (core.ExportSession, error) {
	if c == nil {
		return nil, fmt.Errorf("memory: connector is nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exportErr != nil {
		return nil, c.exportErr
	}
	if systemID != "" && systemID != c.systemID {
		return nil, fmt.Errorf("memory: connector serves %q, not %q", c.systemID, systemID)
	}
	c.exportOpens++
	return &exportSession{connector: c}, nil
}

type importSession struct {
	objects  []core.ImportedObject
	pageSize int
	offset   int
	closed   bool
}

func (s *importSession) NextPage(context.Context) (core.ImportPage, error) {
	if s == nil || s.closed {
		return core.ImportPage{}, fmt.Errorf("memory: import session is closed")
	}
	if s.offset >= len(s.objects) {
		return core.ImportPage{PersistedData: s.watermark()}, nil
	}
	end := s.offset + s.pageSize
	if end > len(s.objects) {
		end = len(s.objects)
	}
	page := core.ImportPage{
		Objects:          s.objects[s.offset:end],
		PaginationTokens: map[string]string{"offset": fmt.Sprint(end)},
		HasMore:          end < len(s.objects),
	}
	s.offset = end
	if !page.HasMore {
		page.PersistedData = s.watermark()
	}
	return page, nil
}

func (s *importSession) watermark() string {
	return fmt.Sprintf("seen:%d", len(s.objects))
}

func (s *importSession) Close(context.Context) error {
	if s == nil {
		return nil
	}
	s.closed = true
	return nil
}

type exportSession struct {
	connector *Connector
	closed    bool
}

func (s *exportSession) Export(_ context.Context, req core.ExportRequest) (core.ExportResult, error) {
	if s == nil || s.closed || s.connector == nil {
		return core.ExportResult{}, fmt.Errorf("memory: export session is closed")
	}
	c := s.connector
	c.mu.Lock()
	defer c.mu.Unlock()

	c.exports = append(c.exports, cloneExportRequest(req))
	index := len(c.exports) - 1
	if index < len(c.exportScripts) {
		script := c.exportScripts[index]
		return cloneExportResult(script.Result), script.Err
	}
	if len(c.exportScripts) > 0 {
		last := c.exportScripts[len(c.exportScripts)-1]
		return cloneExportResult(last.Result), last.Err
	}

	result := core.ExportResult{ExternalID: req.ExternalID}
	if req.ChangeType == core.ChangeTypeCreate && result.ExternalID == "" {
		c.assigned++
		result.ExternalID = fmt.Sprintf("%s-%d", c.systemID, c.assigned)
	}
	return result, nil
}

func (s *exportSession) Close(context.Context) error {
	if s == nil {
		return nil
	}
	s.closed = true
	return nil
}

func cloneImportedObject(in core.ImportedObject) core.ImportedObject {
	out := core.ImportedObject{
		ObjectType: in.ObjectType,
		ExternalID: in.ExternalID,
		Deleted:    in.Deleted,
		Attributes: append([]core.AttributeValue(nil), in.Attributes...),
		Metadata:   map[string]any{},
	}
	for key, value := range in.Metadata {
		out.Metadata[key] = value
	}
	return out
}

func cloneExportRequest(in core.ExportRequest) core.ExportRequest {
	return core.ExportRequest{
		ObjectID:   in.ObjectID,
		ObjectType: in.ObjectType,
		ExternalID: in.ExternalID,
		ChangeType: in.ChangeType,
		Changes:    append([]core.PendingExportAttributeChange(nil), in.Changes...),
	}
}

func cloneExportResult(in core.ExportResult) core.ExportResult {
	out := core.ExportResult{
		ExternalID:       in.ExternalID,
		FailedAttributes: map[string]string{},
		Metadata:         map[string]any{},
	}
	for key, value := range in.FailedAttributes {
		out.FailedAttributes[key] = value
	}
	for key, value := range in.Metadata {
		out.Metadata[key] = value
	}
	return out
}

var _ core.Connector = (*Connector)(nil)
