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

type ObjectStore struct {
	db   *bun.DB
	repo repository.Repository[*objectRecord]
}

func NewObjectStore(db *bun.DB) (*ObjectStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*objectRecord](db, objectHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid object repository wiring: %w", err)
		}
	}
	return &ObjectStore{db: db, repo: repo}, nil
}

func (s *ObjectStore) Create(ctx context.Context, object core.ConnectedSystemObject) (core.ConnectedSystemObject, error) {
	if s == nil || s.db == nil {
		return core.ConnectedSystemObject{}, fmt.Errorf("sqlstore: object store is not configured")
	}
	if strings.TrimSpace(object.ID) == "" {
		return core.ConnectedSystemObject{}, fmt.Errorf("sqlstore: object id is required")
	}
	if strings.TrimSpace(object.SystemID) == "" {
		return core.ConnectedSystemObject{}, fmt.Errorf("sqlstore: object system id is required")
	}
	if object.Version == 0 {
		object.Version = 1
	}
	record := newObjectRecord(object, time.Now().UTC())
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.ConnectedSystemObject{}, err
	}
	return record.toDomain(), nil
}

func (s *ObjectStore) Get(ctx context.Context, id string) (core.ConnectedSystemObject, error) {
	if s == nil || s.db == nil {
		return core.ConnectedSystemObject{}, fmt.Errorf("sqlstore: object store is not configured")
	}
	record := &objectRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.ConnectedSystemObject{}, fmt.Errorf("%w: object %q", core.ErrObjectNotFound, id)
		}
		return core.ConnectedSystemObject{}, err
	}
	return record.toDomain(), nil
}

func (s *ObjectStore) GetByExternalID(ctx context.Context, systemID, objectType, externalID string) (core.ConnectedSystemObject, error) {
	if s == nil || s.db == nil {
		return core.ConnectedSystemObject{}, fmt.Errorf("sqlstore: object store is not configured")
	}
	record := &objectRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.system_id = ?", strings.TrimSpace(systemID)).
		Where("?TableAlias.object_type = ?", strings.TrimSpace(objectType)).
		Where("?TableAlias.external_id = ?", strings.TrimSpace(externalID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.ConnectedSystemObject{}, fmt.Errorf(
				"%w: external id %q in %q", core.ErrObjectNotFound, externalID, systemID,
			)
		}
		return core.ConnectedSystemObject{}, err
	}
	return record.toDomain(), nil
}

func (s *ObjectStore) ListJoinedTo(ctx context.Context, metaverseID string) ([]core.ConnectedSystemObject, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: object store is not configured")
	}
	var records []*objectRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.metaverse_id = ?", strings.TrimSpace(metaverseID)).
		OrderExpr("?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.ConnectedSystemObject, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *ObjectStore) ListBySystem(ctx context.Context, systemID string, limit int) ([]core.ConnectedSystemObject, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: object store is not configured")
	}
	query := s.db.NewSelect().
		Model((*objectRecord)(nil)).
		Where("?TableAlias.system_id = ?", strings.TrimSpace(systemID)).
		OrderExpr("?TableAlias.id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []*objectRecord
	if err := query.Model(&records).Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.ConnectedSystemObject, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// Update writes the object back with an optimistic version check. A
// caller holding a stale version gets core.ErrVersionConflict and must
// reload before retrying.
func (s *ObjectStore) Update(ctx context.Context, object core.ConnectedSystemObject) (core.ConnectedSystemObject, error) {
	if s == nil || s.db == nil {
		return core.ConnectedSystemObject{}, fmt.Errorf("sqlstore: object store is not configured")
	}
	id := strings.TrimSpace(object.ID)
	if id == "" {
		return core.ConnectedSystemObject{}, fmt.Errorf("sqlstore: object id is required")
	}
	now := time.Now().UTC()

	expected := object.Version
	if expected == 0 {
		current, err := s.Get(ctx, id)
		if err != nil {
			return core.ConnectedSystemObject{}, err
		}
		expected = current.Version
	}
	object.Version = expected + 1
	object.UpdatedAt = now
	record := newObjectRecord(object, now)

	res, err := s.db.NewUpdate().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.version = ?", expected).
		Exec(ctx)
	if err != nil {
		return core.ConnectedSystemObject{}, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		exists, existsErr := s.db.NewSelect().
			Model((*objectRecord)(nil)).
			Where("?TableAlias.id = ?", id).
			Exists(ctx)
		if existsErr != nil {
			return core.ConnectedSystemObject{}, existsErr
		}
		if !exists {
			return core.ConnectedSystemObject{}, fmt.Errorf("%w: object %q", core.ErrObjectNotFound, id)
		}
		return core.ConnectedSystemObject{}, fmt.Errorf("%w: object %q", core.ErrVersionConflict, id)
	}
	return record.toDomain(), nil
}

var _ core.ObjectStore = (*ObjectStore)(nil)
