package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	SyncErrorBadInput        = "SYNC_BAD_INPUT"
	SyncErrorNotFound        = "SYNC_OBJECT_NOT_FOUND"
	SyncErrorAmbiguousMatch  = "SYNC_AMBIGUOUS_MATCH"
	SyncErrorOutOfScope      = "SYNC_OUT_OF_SCOPE"
	SyncErrorRuleInvalid     = "SYNC_RULE_INVALID"
	SyncErrorVersionConflict = "SYNC_VERSION_CONFLICT"
	SyncErrorConnectorFailed = "SYNC_CONNECTOR_FAILED"
	SyncErrorInternal        = "SYNC_INTERNAL_ERROR"
)

// MultipleMatchesError is raised when a single matching rule yields more
// than one metaverse candidate. Ambiguity is never silently resolved; the
// candidate ids are surfaced for administrator review.
type MultipleMatchesError struct {
	RuleID       string
	CandidateIDs []string
}

func (e *MultipleMatchesError) Error() string {
	return fmt.Sprintf(
		"core: matching rule %q matched %d metaverse candidates: %s",
		e.RuleID,
		len(e.CandidateIDs),
		strings.Join(e.CandidateIDs, ", "),
	)
}

func syncErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureSyncErrorEnvelope(richErr)
	}

	var ambiguous *MultipleMatchesError
	if errors.Is(err, ErrObjectNotFound) {
		return newSyncError(err.Error(), goerrors.CategoryNotFound, SyncErrorNotFound)
	}
	if errors.Is(err, ErrVersionConflict) {
		return newSyncError(err.Error(), goerrors.CategoryConflict, SyncErrorVersionConflict)
	}
	if errors.As(err, &ambiguous) {
		return newSyncError(err.Error(), goerrors.CategoryConflict, SyncErrorAmbiguousMatch)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "out of scope"):
		return newSyncError(err.Error(), goerrors.CategoryOperation, SyncErrorOutOfScope)
	case strings.Contains(msg, "connector"), strings.Contains(msg, "export connection"), strings.Contains(msg, "import connection"):
		return newSyncError(err.Error(), goerrors.CategoryExternal, SyncErrorConnectorFailed)
	case strings.Contains(msg, "expression"), strings.Contains(msg, "sync rule"):
		return newSyncError(err.Error(), goerrors.CategoryValidation, SyncErrorRuleInvalid)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "malformed"):
		return newSyncError(err.Error(), goerrors.CategoryBadInput, SyncErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureSyncErrorEnvelope(mapped)
}

func newSyncError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureSyncErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureSyncErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = syncHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultSyncTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

// IsOperationalError reports whether an error represents an expected,
// administrator-actionable condition. Operational errors surface only a
// message to the audit trail and never abort unrelated objects in the
// same run.
func IsOperationalError(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category != goerrors.CategoryInternal
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrObjectNotFound) {
		return true
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Category == goerrors.CategoryNotFound
	}
	return false
}

func defaultSyncTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return SyncErrorBadInput
	case goerrors.CategoryNotFound:
		return SyncErrorNotFound
	case goerrors.CategoryConflict:
		return SyncErrorVersionConflict
	case goerrors.CategoryExternal:
		return SyncErrorConnectorFailed
	case goerrors.CategoryOperation:
		return SyncErrorOutOfScope
	default:
		return SyncErrorInternal
	}
}

func syncHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
