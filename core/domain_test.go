package core

import (
	"errors"
	"testing"
	"time"
)

func TestConnectedSystemObjectTransitions(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	object := ConnectedSystemObject{Status: ObjectStatusProvisioning}
	if err := object.TransitionTo(ObjectStatusConnected, now); err != nil {
		t.Fatalf("provisioning -> connected: %v", err)
	}
	if err := object.TransitionTo(ObjectStatusDisconnected, now); err != nil {
		t.Fatalf("connected -> disconnected: %v", err)
	}
	if err := object.TransitionTo(ObjectStatusConnected, now); err != nil {
		t.Fatalf("disconnected -> connected (reconnect): %v", err)
	}
	if err := object.TransitionTo(ObjectStatusObsolete, now); err != nil {
		t.Fatalf("connected -> obsolete: %v", err)
	}
	if err := object.TransitionTo(ObjectStatusConnected, now); !errors.Is(err, ErrInvalidObjectStatusTransition) {
		t.Fatalf("expected obsolete to be terminal, got %v", err)
	}
	if object.UpdatedAt != now {
		t.Fatalf("expected UpdatedAt stamped, got %v", object.UpdatedAt)
	}
}

func TestConnectedSystemObjectSameStatusIsNoop(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	object := ConnectedSystemObject{Status: ObjectStatusConnected}
	if err := object.TransitionTo(ObjectStatusConnected, now); err != nil {
		t.Fatalf("same-status transition should succeed, got %v", err)
	}
}

func TestMetaverseObjectTransitions(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	object := MetaverseObject{Status: MetaverseStatusActive}
	if err := object.TransitionTo(MetaverseStatusPendingDeletion, now); err != nil {
		t.Fatalf("active -> pending_deletion: %v", err)
	}
	if err := object.TransitionTo(MetaverseStatusActive, now); err != nil {
		t.Fatalf("pending_deletion -> active (rescue): %v", err)
	}
	if err := object.TransitionTo(MetaverseStatusObsolete, now); err != nil {
		t.Fatalf("active -> obsolete: %v", err)
	}
	if err := object.TransitionTo(MetaverseStatusActive, now); !errors.Is(err, ErrInvalidMetaverseStatusTransition) {
		t.Fatalf("expected obsolete to be terminal, got %v", err)
	}
}

func TestSyncRunTransitions(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	run := SyncRun{Status: RunStatusQueued}
	if err := run.TransitionTo(RunStatusSucceeded, now); !errors.Is(err, ErrInvalidRunStatusTransition) {
		t.Fatalf("queued -> succeeded must fail, got %v", err)
	}
	if err := run.TransitionTo(RunStatusRunning, now); err != nil {
		t.Fatalf("queued -> running: %v", err)
	}
	if err := run.TransitionTo(RunStatusFailed, now); err != nil {
		t.Fatalf("running -> failed: %v", err)
	}
	if err := run.TransitionTo(RunStatusQueued, now); err != nil {
		t.Fatalf("failed -> queued (retry): %v", err)
	}
}

func TestPendingExportConfirmed(t *testing.T) {
	export := PendingExport{
		ChangeType: ChangeTypeUpdate,
		AttributeChanges: []PendingExportAttributeChange{
			{AttributeName: "mail", Operation: OperationAdd, Status: AttributeChangeConfirmed},
			{AttributeName: "displayName", Operation: OperationUpdate, Status: AttributeChangePending},
		},
	}
	if export.Confirmed() {
		t.Fatal("export with a pending change must not be confirmed")
	}
	export.AttributeChanges[1].Status = AttributeChangeConfirmed
	if !export.Confirmed() {
		t.Fatal("export with all changes confirmed must be confirmed")
	}
}

func TestPendingExportConfirmedEmptyChanges(t *testing.T) {
	if (PendingExport{ChangeType: ChangeTypeUpdate}).Confirmed() {
		t.Fatal("empty update export must not be confirmed")
	}
	if !(PendingExport{ChangeType: ChangeTypeDelete}).Confirmed() {
		t.Fatal("delete export with no attribute changes is confirmed by the delete itself")
	}
}

func TestDeferredReferenceResolved(t *testing.T) {
	ref := DeferredReference{ID: "ref_1"}
	if ref.Resolved() {
		t.Fatal("fresh reference must be unresolved")
	}
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ref.ResolvedAt = &at
	if !ref.Resolved() {
		t.Fatal("reference with ResolvedAt must be resolved")
	}
}

func TestMetaverseObjectAttributeByName(t *testing.T) {
	object := MetaverseObject{
		Attributes: []MetaverseAttributeValue{
			{AttributeValue: StringAttr("mail", "a@example.com"), ContributedBy: "hr"},
			{AttributeValue: StringAttr("mail", "b@example.com"), ContributedBy: "ad"},
			{AttributeValue: StringAttr("displayName", "Ada"), ContributedBy: "hr"},
		},
	}
	values := object.AttributeByName("mail")
	if len(values) != 2 {
		t.Fatalf("expected 2 mail values, got %d", len(values))
	}
	if values[0].StringValue != "a@example.com" {
		t.Fatalf("unexpected first value %q", values[0].StringValue)
	}
}
