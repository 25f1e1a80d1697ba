package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-metasync/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ActivityStore struct {
	db   *bun.DB
	repo repository.Repository[*activityEntryRecord]
}

func NewActivityStore(db *bun.DB) (*ActivityStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*activityEntryRecord](db, activityHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid activity repository wiring: %w", err)
		}
	}
	return &ActivityStore{db: db, repo: repo}, nil
}

func (s *ActivityStore) Record(ctx context.Context, entry core.ActivityEntry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: activity store is not configured")
	}
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := entry.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	actor := strings.TrimSpace(entry.Actor)
	if actor == "" {
		actor = "system"
	}
	status := strings.TrimSpace(string(entry.Status))
	if status == "" {
		status = string(core.ActivityStatusOK)
	}

	record := &activityEntryRecord{
		ID:        id,
		Actor:     actor,
		Action:    strings.TrimSpace(entry.Action),
		SystemID:  strings.TrimSpace(entry.SystemID),
		ObjectID:  strings.TrimSpace(entry.ObjectID),
		RunID:     strings.TrimSpace(entry.RunID),
		Status:    status,
		Message:   entry.Message,
		Metadata:  copyAnyMap(entry.Metadata),
		CreatedAt: createdAt,
	}
	_, err := s.db.NewInsert().Model(record).Exec(ctx)
	return err
}

func (s *ActivityStore) List(ctx context.Context, filter core.ActivityFilter) (core.ActivityPage, error) {
	if s == nil || s.db == nil {
		return core.ActivityPage{}, fmt.Errorf("sqlstore: activity store is not configured")
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 25
	}
	offset := (page - 1) * perPage

	query := s.db.NewSelect().
		Model((*activityEntryRecord)(nil)).
		OrderExpr("?TableAlias.created_at DESC").
		Limit(perPage).
		Offset(offset)
	if systemID := strings.TrimSpace(filter.SystemID); systemID != "" {
		query = query.Where("?TableAlias.system_id = ?", systemID)
	}
	if objectID := strings.TrimSpace(filter.ObjectID); objectID != "" {
		query = query.Where("?TableAlias.object_id = ?", objectID)
	}
	if runID := strings.TrimSpace(filter.RunID); runID != "" {
		query = query.Where("?TableAlias.run_id = ?", runID)
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		query = query.Where("?TableAlias.action = ?", action)
	}
	if status := strings.TrimSpace(string(filter.Status)); status != "" {
		query = query.Where("?TableAlias.status = ?", status)
	}
	if filter.From != nil {
		query = query.Where("?TableAlias.created_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		query = query.Where("?TableAlias.created_at <= ?", filter.To.UTC())
	}

	var records []*activityEntryRecord
	total, err := query.Model(&records).ScanAndCount(ctx)
	if err != nil {
		return core.ActivityPage{}, err
	}
	items := make([]core.ActivityEntry, 0, len(records))
	for _, record := range records {
		items = append(items, record.toDomain())
	}
	return core.ActivityPage{
		Items:   items,
		Page:    page,
		PerPage: perPage,
		Total:   total,
		HasNext: offset+len(items) < total,
	}, nil
}

var _ core.ActivitySink = (*ActivityStore)(nil)
