package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[RunImportMessage]             = (*RunImportCommand)(nil)
	_ gocmd.Commander[RunExportMessage]             = (*RunExportCommand)(nil)
	_ gocmd.Commander[ResolveReferencesMessage]     = (*ResolveReferencesCommand)(nil)
	_ gocmd.Commander[SaveSyncRuleMessage]          = (*SaveSyncRuleCommand)(nil)
	_ gocmd.Commander[ProcessImportedObjectMessage] = (*ProcessImportedObjectCommand)(nil)
)
