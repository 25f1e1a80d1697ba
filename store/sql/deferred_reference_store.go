package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-metasync/core"
	"github.com/uptrace/bun"
)

type DeferredReferenceStore struct {
	db *bun.DB
}

func NewDeferredReferenceStore(db *bun.DB) (*DeferredReferenceStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &DeferredReferenceStore{db: db}, nil
}

func (s *DeferredReferenceStore) Create(ctx context.Context, ref core.DeferredReference) (core.DeferredReference, error) {
	if s == nil || s.db == nil {
		return core.DeferredReference{}, fmt.Errorf("sqlstore: deferred reference store is not configured")
	}
	if strings.TrimSpace(ref.ID) == "" {
		return core.DeferredReference{}, fmt.Errorf("sqlstore: deferred reference id is required")
	}
	record := newDeferredReferenceRecord(ref, time.Now().UTC())
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.DeferredReference{}, err
	}
	return record.toDomain(), nil
}

func (s *DeferredReferenceStore) Get(ctx context.Context, id string) (core.DeferredReference, error) {
	if s == nil || s.db == nil {
		return core.DeferredReference{}, fmt.Errorf("sqlstore: deferred reference store is not configured")
	}
	record := &deferredReferenceRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.DeferredReference{}, fmt.Errorf("%w: deferred reference %q", core.ErrObjectNotFound, id)
		}
		return core.DeferredReference{}, err
	}
	return record.toDomain(), nil
}

func (s *DeferredReferenceStore) List(ctx context.Context, filter core.DeferredReferenceFilter) ([]core.DeferredReference, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: deferred reference store is not configured")
	}
	query := s.db.NewSelect().
		Model((*deferredReferenceRecord)(nil)).
		OrderExpr("?TableAlias.id ASC")
	if systemID := strings.TrimSpace(filter.TargetSystemID); systemID != "" {
		query = query.Where("?TableAlias.target_system_id = ?", systemID)
	}
	if mvoID := strings.TrimSpace(filter.TargetMVOID); mvoID != "" {
		query = query.Where("?TableAlias.target_metaverse_id = ?", mvoID)
	}
	if filter.Unresolved {
		query = query.Where("?TableAlias.resolved_at IS NULL")
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var records []*deferredReferenceRecord
	if err := query.Model(&records).Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.DeferredReference, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// MarkResolved stamps the resolution time once. Resolution is terminal,
// so a second call leaves the original timestamp in place.
func (s *DeferredReferenceStore) MarkResolved(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: deferred reference store is not configured")
	}
	id = strings.TrimSpace(id)
	res, err := s.db.NewUpdate().
		Model((*deferredReferenceRecord)(nil)).
		Set("resolved_at = ?", at.UTC()).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.resolved_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		exists, existsErr := s.db.NewSelect().
			Model((*deferredReferenceRecord)(nil)).
			Where("?TableAlias.id = ?", id).
			Exists(ctx)
		if existsErr != nil {
			return existsErr
		}
		if !exists {
			return fmt.Errorf("%w: deferred reference %q", core.ErrObjectNotFound, id)
		}
	}
	return nil
}

func (s *DeferredReferenceStore) IncrementRetry(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: deferred reference store is not configured")
	}
	id = strings.TrimSpace(id)
	res, err := s.db.NewUpdate().
		Model((*deferredReferenceRecord)(nil)).
		Set("retry_count = retry_count + 1").
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: deferred reference %q", core.ErrObjectNotFound, id)
	}
	return nil
}

func (s *DeferredReferenceStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: deferred reference store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*deferredReferenceRecord)(nil)).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	return err
}

var _ core.DeferredReferenceStore = (*DeferredReferenceStore)(nil)
