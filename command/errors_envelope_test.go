package command

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-metasync/core"
)

func TestRunImportMessage_ValidateReturnsRichError(t *testing.T) {
	err := (RunImportMessage{}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryBadInput {
		t.Fatalf("expected bad input category, got %q", rich.Category)
	}
	if rich.TextCode != core.SyncErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.SyncErrorBadInput, rich.TextCode)
	}
}

func TestRunImportCommand_NilEngineReturnsRichError(t *testing.T) {
	var cmd *RunImportCommand
	err := cmd.Execute(context.Background(), RunImportMessage{})
	if err == nil {
		t.Fatalf("expected command dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
}
