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

type RunStore struct {
	db   *bun.DB
	repo repository.Repository[*runRecord]
}

func NewRunStore(db *bun.DB) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*runRecord](db, runHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid run repository wiring: %w", err)
		}
	}
	return &RunStore{db: db, repo: repo}, nil
}

func (s *RunStore) Create(ctx context.Context, run core.SyncRun) (core.SyncRun, error) {
	if s == nil || s.db == nil {
		return core.SyncRun{}, fmt.Errorf("sqlstore: run store is not configured")
	}
	if strings.TrimSpace(run.ID) == "" {
		return core.SyncRun{}, fmt.Errorf("sqlstore: run id is required")
	}
	record := newRunRecord(run, time.Now().UTC())
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.SyncRun{}, err
	}
	return record.toDomain(), nil
}

func (s *RunStore) Get(ctx context.Context, id string) (core.SyncRun, error) {
	if s == nil || s.db == nil {
		return core.SyncRun{}, fmt.Errorf("sqlstore: run store is not configured")
	}
	record := &runRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.SyncRun{}, fmt.Errorf("%w: run %q", core.ErrObjectNotFound, id)
		}
		return core.SyncRun{}, err
	}
	return record.toDomain(), nil
}

func (s *RunStore) Update(ctx context.Context, run core.SyncRun) (core.SyncRun, error) {
	if s == nil || s.db == nil {
		return core.SyncRun{}, fmt.Errorf("sqlstore: run store is not configured")
	}
	id := strings.TrimSpace(run.ID)
	if id == "" {
		return core.SyncRun{}, fmt.Errorf("sqlstore: run id is required")
	}
	now := time.Now().UTC()
	run.UpdatedAt = now
	record := newRunRecord(run, now)

	res, err := s.db.NewUpdate().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	if err != nil {
		return core.SyncRun{}, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return core.SyncRun{}, fmt.Errorf("%w: run %q", core.ErrObjectNotFound, id)
	}
	return record.toDomain(), nil
}

func (s *RunStore) ListByStatus(ctx context.Context, status core.SyncRunStatus, limit int) ([]core.SyncRun, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: run store is not configured")
	}
	query := s.db.NewSelect().
		Model((*runRecord)(nil)).
		Where("?TableAlias.status = ?", string(status)).
		OrderExpr("?TableAlias.created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []*runRecord
	if err := query.Model(&records).Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.SyncRun, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

var _ core.RunStore = (*RunStore)(nil)
