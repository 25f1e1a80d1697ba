package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-metasync/core"
)

const (
	TypeRunImport             = "metasync.command.run.import"
	TypeRunExport             = "metasync.command.run.export"
	TypeResolveReferences     = "metasync.command.references.resolve"
	TypeSaveSyncRule          = "metasync.command.sync_rule.save"
	TypeProcessImportedObject = "metasync.command.object.process"
)

type RunImportMessage struct {
	Request core.RunImportRequest
}

func (RunImportMessage) Type() string { return TypeRunImport }

func (m RunImportMessage) Validate() error {
	if strings.TrimSpace(m.Request.SystemID) == "" {
		return commandInvalidInputError("command: system id is required")
	}
	switch m.Request.Kind {
	case core.RunKindFullImport, core.RunKindDeltaImport, "":
		return nil
	default:
		return commandInvalidInputError(fmt.Sprintf("command: unknown import kind %q", m.Request.Kind))
	}
}

type RunExportMessage struct {
	Request core.RunExportRequest
}

func (RunExportMessage) Type() string { return TypeRunExport }

func (m RunExportMessage) Validate() error {
	if strings.TrimSpace(m.Request.SystemID) == "" {
		return commandInvalidInputError("command: system id is required")
	}
	return nil
}

type ResolveReferencesMessage struct{}

func (ResolveReferencesMessage) Type() string { return TypeResolveReferences }

func (ResolveReferencesMessage) Validate() error { return nil }

type SaveSyncRuleMessage struct {
	Rule core.SyncRule
}

func (SaveSyncRuleMessage) Type() string { return TypeSaveSyncRule }

func (m SaveSyncRuleMessage) Validate() error {
	if strings.TrimSpace(m.Rule.SystemID) == "" {
		return commandInvalidInputError("command: sync rule system id is required")
	}
	if strings.TrimSpace(m.Rule.ObjectType) == "" {
		return commandInvalidInputError("command: sync rule object type is required")
	}
	if strings.TrimSpace(m.Rule.MetaverseType) == "" {
		return commandInvalidInputError("command: sync rule metaverse type is required")
	}
	if !m.Rule.Direction.IsValid() {
		return commandInvalidInputError(fmt.Sprintf("command: unknown sync rule direction %q", m.Rule.Direction))
	}
	return nil
}

type ProcessImportedObjectMessage struct {
	SystemID string
	Object   core.ImportedObject
}

func (ProcessImportedObjectMessage) Type() string { return TypeProcessImportedObject }

func (m ProcessImportedObjectMessage) Validate() error {
	if strings.TrimSpace(m.SystemID) == "" {
		return commandInvalidInputError("command: system id is required")
	}
	if strings.TrimSpace(m.Object.ExternalID) == "" {
		return commandInvalidInputError("command: object external id is required")
	}
	if strings.TrimSpace(m.Object.ObjectType) == "" {
		return commandInvalidInputError("command: object type is required")
	}
	return nil
}
