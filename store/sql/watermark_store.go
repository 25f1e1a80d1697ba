package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-metasync/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type WatermarkStore struct {
	db *bun.DB
}

func NewWatermarkStore(db *bun.DB) (*WatermarkStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &WatermarkStore{db: db}, nil
}

func (s *WatermarkStore) Get(ctx context.Context, systemID, runProfileID string) (core.ImportWatermark, error) {
	if s == nil || s.db == nil {
		return core.ImportWatermark{}, fmt.Errorf("sqlstore: watermark store is not configured")
	}
	systemID = strings.TrimSpace(systemID)
	if systemID == "" {
		return core.ImportWatermark{}, fmt.Errorf("sqlstore: watermark system id is required")
	}
	record := &watermarkRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.system_id = ?", systemID).
		Where("?TableAlias.run_profile_id = ?", strings.TrimSpace(runProfileID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.ImportWatermark{}, fmt.Errorf(
				"%w: watermark for %q", core.ErrObjectNotFound, systemID,
			)
		}
		return core.ImportWatermark{}, err
	}
	return record.toDomain(), nil
}

func (s *WatermarkStore) Save(ctx context.Context, watermark core.ImportWatermark) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: watermark store is not configured")
	}
	systemID := strings.TrimSpace(watermark.SystemID)
	if systemID == "" {
		return fmt.Errorf("sqlstore: watermark system id is required")
	}
	runProfileID := strings.TrimSpace(watermark.RunProfileID)
	now := watermark.UpdatedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &watermarkRecord{}
		err := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.system_id = ?", systemID).
			Where("?TableAlias.run_profile_id = ?", runProfileID).
			Limit(1).
			Scan(ctx)
		if err != nil {
			if err != sql.ErrNoRows {
				return err
			}
			record := &watermarkRecord{
				ID:               uuid.NewString(),
				SystemID:         systemID,
				RunProfileID:     runProfileID,
				PaginationTokens: copyStringMap(watermark.PaginationTokens),
				PersistedData:    watermark.PersistedData,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			_, insertErr := tx.NewInsert().Model(record).Exec(ctx)
			return insertErr
		}

		existing.PaginationTokens = copyStringMap(watermark.PaginationTokens)
		existing.PersistedData = watermark.PersistedData
		existing.UpdatedAt = now
		_, updateErr := tx.NewUpdate().
			Model(existing).
			Where("id = ?", existing.ID).
			Exec(ctx)
		return updateErr
	})
}

var _ core.WatermarkStore = (*WatermarkStore)(nil)
