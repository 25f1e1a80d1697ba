package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-metasync/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type PendingExportStore struct {
	db   *bun.DB
	repo repository.Repository[*pendingExportRecord]
}

func NewPendingExportStore(db *bun.DB) (*PendingExportStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*pendingExportRecord](db, pendingExportHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid pending export repository wiring: %w", err)
		}
	}
	return &PendingExportStore{db: db, repo: repo}, nil
}

func (s *PendingExportStore) Save(ctx context.Context, export core.PendingExport) (core.PendingExport, error) {
	if s == nil || s.db == nil {
		return core.PendingExport{}, fmt.Errorf("sqlstore: pending export store is not configured")
	}
	if strings.TrimSpace(export.ID) == "" {
		return core.PendingExport{}, fmt.Errorf("sqlstore: pending export id is required")
	}
	if strings.TrimSpace(export.ObjectID) == "" {
		return core.PendingExport{}, fmt.Errorf("sqlstore: pending export object id is required")
	}
	now := time.Now().UTC()
	record := newPendingExportRecord(export, now)
	record.UpdatedAt = now

	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (id) DO UPDATE").
		Set("object_id = EXCLUDED.object_id").
		Set("system_id = EXCLUDED.system_id").
		Set("metaverse_id = EXCLUDED.metaverse_id").
		Set("change_type = EXCLUDED.change_type").
		Set("status = EXCLUDED.status").
		Set("error_count = EXCLUDED.error_count").
		Set("last_error_message = EXCLUDED.last_error_message").
		Set("next_retry_at = EXCLUDED.next_retry_at").
		Set("attribute_changes = EXCLUDED.attribute_changes").
		Set("deterministic_hash = EXCLUDED.deterministic_hash").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return core.PendingExport{}, err
	}
	return record.toDomain(), nil
}

func (s *PendingExportStore) Get(ctx context.Context, id string) (core.PendingExport, error) {
	if s == nil || s.db == nil {
		return core.PendingExport{}, fmt.Errorf("sqlstore: pending export store is not configured")
	}
	record := &pendingExportRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.PendingExport{}, fmt.Errorf("%w: pending export %q", core.ErrObjectNotFound, id)
		}
		return core.PendingExport{}, err
	}
	return record.toDomain(), nil
}

func (s *PendingExportStore) GetByObject(ctx context.Context, objectID string) (core.PendingExport, error) {
	if s == nil || s.db == nil {
		return core.PendingExport{}, fmt.Errorf("sqlstore: pending export store is not configured")
	}
	record := &pendingExportRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.object_id = ?", strings.TrimSpace(objectID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.PendingExport{}, fmt.Errorf(
				"%w: pending export for object %q", core.ErrObjectNotFound, objectID,
			)
		}
		return core.PendingExport{}, err
	}
	return record.toDomain(), nil
}

// ListDue returns exports ready for execution. An export with a future
// next_retry_at is still backing off and is excluded; a null
// next_retry_at means it has never failed and is always due.
func (s *PendingExportStore) ListDue(ctx context.Context, filter core.PendingExportFilter) ([]core.PendingExport, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: pending export store is not configured")
	}
	query := s.db.NewSelect().
		Model((*pendingExportRecord)(nil)).
		OrderExpr("?TableAlias.id ASC")
	if systemID := strings.TrimSpace(filter.SystemID); systemID != "" {
		query = query.Where("?TableAlias.system_id = ?", systemID)
	}
	if status := strings.TrimSpace(string(filter.Status)); status != "" {
		query = query.Where("?TableAlias.status = ?", status)
	}
	if filter.DueAt != nil {
		query = query.Where(
			"?TableAlias.next_retry_at IS NULL OR ?TableAlias.next_retry_at <= ?",
			filter.DueAt.UTC(),
		)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var records []*pendingExportRecord
	if err := query.Model(&records).Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.PendingExport, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *PendingExportStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: pending export store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*pendingExportRecord)(nil)).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	return err
}

var _ core.PendingExportStore = (*PendingExportStore)(nil)
