package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-metasync/core"
)

// SyncEngine is the mutating surface of the engine the command handlers
// drive. *core.Engine satisfies it.
type SyncEngine interface {
	RunImport(ctx context.Context, req core.RunImportRequest) (core.RunStats, error)
	RunExport(ctx context.Context, req core.RunExportRequest) (core.ExportProgress, error)
	ResolveDeferredReferences(ctx context.Context) (int, error)
	SaveSyncRule(ctx context.Context, rule core.SyncRule) (core.SyncRule, []core.RuleValidationIssue, error)
	ProcessImportedObject(ctx context.Context, systemID string, imported core.ImportedObject) (core.ObjectSyncResult, error)
}

// SaveSyncRuleResult carries both the persisted rule and any non-blocking
// validation issues back to the caller.
type SaveSyncRuleResult struct {
	Rule   core.SyncRule
	Issues []core.RuleValidationIssue
}

type ResolveReferencesResult struct {
	Resolved int
}

type RunImportCommand struct {
	engine SyncEngine
}

func NewRunImportCommand(engine SyncEngine) *RunImportCommand {
	return &RunImportCommand{engine: engine}
}

func (c *RunImportCommand) Execute(ctx context.Context, msg RunImportMessage) error {
	if c == nil || c.engine == nil {
		return commandDependencyError("command: import engine is required")
	}
	stats, err := c.engine.RunImport(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, stats)
	return nil
}

type RunExportCommand struct {
	engine SyncEngine
}

func NewRunExportCommand(engine SyncEngine) *RunExportCommand {
	return &RunExportCommand{engine: engine}
}

func (c *RunExportCommand) Execute(ctx context.Context, msg RunExportMessage) error {
	if c == nil || c.engine == nil {
		return commandDependencyError("command: export engine is required")
	}
	progress, err := c.engine.RunExport(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, progress)
	return nil
}

type ResolveReferencesCommand struct {
	engine SyncEngine
}

func NewResolveReferencesCommand(engine SyncEngine) *ResolveReferencesCommand {
	return &ResolveReferencesCommand{engine: engine}
}

func (c *ResolveReferencesCommand) Execute(ctx context.Context, msg ResolveReferencesMessage) error {
	if c == nil || c.engine == nil {
		return commandDependencyError("command: reference resolver engine is required")
	}
	resolved, err := c.engine.ResolveDeferredReferences(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, ResolveReferencesResult{Resolved: resolved})
	return nil
}

type SaveSyncRuleCommand struct {
	engine SyncEngine
}

func NewSaveSyncRuleCommand(engine SyncEngine) *SaveSyncRuleCommand {
	return &SaveSyncRuleCommand{engine: engine}
}

func (c *SaveSyncRuleCommand) Execute(ctx context.Context, msg SaveSyncRuleMessage) error {
	if c == nil || c.engine == nil {
		return commandDependencyError("command: sync rule engine is required")
	}
	saved, issues, err := c.engine.SaveSyncRule(ctx, msg.Rule)
	if err != nil {
		return err
	}
	storeResult(ctx, SaveSyncRuleResult{Rule: saved, Issues: issues})
	return nil
}

type ProcessImportedObjectCommand struct {
	engine SyncEngine
}

func NewProcessImportedObjectCommand(engine SyncEngine) *ProcessImportedObjectCommand {
	return &ProcessImportedObjectCommand{engine: engine}
}

func (c *ProcessImportedObjectCommand) Execute(ctx context.Context, msg ProcessImportedObjectMessage) error {
	if c == nil || c.engine == nil {
		return commandDependencyError("command: object engine is required")
	}
	result, err := c.engine.ProcessImportedObject(ctx, msg.SystemID, msg.Object)
	if err != nil {
		return err
	}
	storeResult(ctx, result)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
