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

type SyncRuleStore struct {
	db   *bun.DB
	repo repository.Repository[*syncRuleRecord]
}

func NewSyncRuleStore(db *bun.DB) (*SyncRuleStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*syncRuleRecord](db, syncRuleHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid sync rule repository wiring: %w", err)
		}
	}
	return &SyncRuleStore{db: db, repo: repo}, nil
}

func (s *SyncRuleStore) Save(ctx context.Context, rule core.SyncRule) (core.SyncRule, error) {
	if s == nil || s.db == nil {
		return core.SyncRule{}, fmt.Errorf("sqlstore: sync rule store is not configured")
	}
	if strings.TrimSpace(rule.ID) == "" {
		return core.SyncRule{}, fmt.Errorf("sqlstore: sync rule id is required")
	}
	now := time.Now().UTC()

	var saved core.SyncRule
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &syncRuleRecord{}
		err := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.id = ?", rule.ID).
			Limit(1).
			Scan(ctx)
		switch {
		case err == sql.ErrNoRows:
			rule.Version = 1
			record := newSyncRuleRecord(rule, now)
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				return insertErr
			}
			saved = record.toDomain()
			return nil
		case err != nil:
			return err
		default:
			rule.Version = existing.Version + 1
			record := newSyncRuleRecord(rule, now)
			record.CreatedAt = existing.CreatedAt
			record.UpdatedAt = now
			if _, updateErr := tx.NewUpdate().
				Model(record).
				Where("?TableAlias.id = ?", rule.ID).
				Exec(ctx); updateErr != nil {
				return updateErr
			}
			saved = record.toDomain()
			return nil
		}
	})
	if err != nil {
		return core.SyncRule{}, err
	}
	return saved, nil
}

func (s *SyncRuleStore) Get(ctx context.Context, id string) (core.SyncRule, error) {
	if s == nil || s.db == nil {
		return core.SyncRule{}, fmt.Errorf("sqlstore: sync rule store is not configured")
	}
	record := &syncRuleRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.SyncRule{}, fmt.Errorf("%w: sync rule %q", core.ErrObjectNotFound, id)
		}
		return core.SyncRule{}, err
	}
	return record.toDomain(), nil
}

func (s *SyncRuleStore) ListForSystem(ctx context.Context, systemID string, direction core.SyncRuleDirection) ([]core.SyncRule, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: sync rule store is not configured")
	}
	var records []*syncRuleRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.system_id = ?", strings.TrimSpace(systemID)).
		Where("?TableAlias.direction = ?", string(direction)).
		OrderExpr("?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.SyncRule, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *SyncRuleStore) List(ctx context.Context) ([]core.SyncRule, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: sync rule store is not configured")
	}
	var records []*syncRuleRecord
	err := s.db.NewSelect().
		Model(&records).
		OrderExpr("?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.SyncRule, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *SyncRuleStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: sync rule store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*syncRuleRecord)(nil)).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	return err
}

var _ core.SyncRuleStore = (*SyncRuleStore)(nil)
