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

type MetaverseStore struct {
	db *bun.DB
}

func NewMetaverseStore(db *bun.DB) (*MetaverseStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &MetaverseStore{db: db}, nil
}

func (s *MetaverseStore) Create(ctx context.Context, object core.MetaverseObject) (core.MetaverseObject, error) {
	if s == nil || s.db == nil {
		return core.MetaverseObject{}, fmt.Errorf("sqlstore: metaverse store is not configured")
	}
	if strings.TrimSpace(object.ID) == "" {
		return core.MetaverseObject{}, fmt.Errorf("sqlstore: metaverse object id is required")
	}
	if object.Version == 0 {
		object.Version = 1
	}
	now := time.Now().UTC()
	record := newMetaverseRecord(object, now)

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
			return insertErr
		}
		return rebuildAttributeIndexTx(ctx, tx, record, now)
	})
	if err != nil {
		return core.MetaverseObject{}, err
	}
	return record.toDomain(), nil
}

func (s *MetaverseStore) Get(ctx context.Context, id string) (core.MetaverseObject, error) {
	if s == nil || s.db == nil {
		return core.MetaverseObject{}, fmt.Errorf("sqlstore: metaverse store is not configured")
	}
	record := &metaverseRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.MetaverseObject{}, fmt.Errorf("%w: metaverse object %q", core.ErrObjectNotFound, id)
		}
		return core.MetaverseObject{}, err
	}
	return record.toDomain(), nil
}

// FindByAttribute probes the attribute index for metaverse objects whose
// named attribute carries the given value key. With caseFold the folded
// column is compared so matching is case insensitive.
func (s *MetaverseStore) FindByAttribute(
	ctx context.Context,
	objectType, attributeName, valueKey string,
	caseFold bool,
) ([]core.MetaverseObject, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: metaverse store is not configured")
	}
	index := s.db.NewSelect().
		Model((*metaverseAttributeIndexRecord)(nil)).
		Column("metaverse_id").
		Where("?TableAlias.object_type = ?", strings.TrimSpace(objectType)).
		Where("?TableAlias.attribute_name = ?", strings.TrimSpace(attributeName))
	if caseFold {
		index = index.Where("?TableAlias.value_key_folded = ?", strings.ToLower(valueKey))
	} else {
		index = index.Where("?TableAlias.value_key = ?", valueKey)
	}

	var records []*metaverseRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.id IN (?)", index).
		OrderExpr("?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.MetaverseObject, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *MetaverseStore) Update(ctx context.Context, object core.MetaverseObject) (core.MetaverseObject, error) {
	if s == nil || s.db == nil {
		return core.MetaverseObject{}, fmt.Errorf("sqlstore: metaverse store is not configured")
	}
	id := strings.TrimSpace(object.ID)
	if id == "" {
		return core.MetaverseObject{}, fmt.Errorf("sqlstore: metaverse object id is required")
	}
	now := time.Now().UTC()

	expected := object.Version
	if expected == 0 {
		current, err := s.Get(ctx, id)
		if err != nil {
			return core.MetaverseObject{}, err
		}
		expected = current.Version
	}
	object.Version = expected + 1
	object.UpdatedAt = now
	record := newMetaverseRecord(object, now)

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, updateErr := tx.NewUpdate().
			Model(record).
			Where("?TableAlias.id = ?", id).
			Where("?TableAlias.version = ?", expected).
			Exec(ctx)
		if updateErr != nil {
			return updateErr
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			exists, existsErr := tx.NewSelect().
				Model((*metaverseRecord)(nil)).
				Where("?TableAlias.id = ?", id).
				Exists(ctx)
			if existsErr != nil {
				return existsErr
			}
			if !exists {
				return fmt.Errorf("%w: metaverse object %q", core.ErrObjectNotFound, id)
			}
			return fmt.Errorf("%w: metaverse object %q", core.ErrVersionConflict, id)
		}
		return rebuildAttributeIndexTx(ctx, tx, record, now)
	})
	if err != nil {
		return core.MetaverseObject{}, err
	}
	return record.toDomain(), nil
}

func (s *MetaverseStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: metaverse store is not configured")
	}
	id = strings.TrimSpace(id)
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*metaverseAttributeIndexRecord)(nil)).
			Where("?TableAlias.metaverse_id = ?", id).
			Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewDelete().
			Model((*metaverseRecord)(nil)).
			Where("?TableAlias.id = ?", id).
			Exec(ctx)
		return err
	})
}

func rebuildAttributeIndexTx(ctx context.Context, tx bun.Tx, record *metaverseRecord, now time.Time) error {
	if _, err := tx.NewDelete().
		Model((*metaverseAttributeIndexRecord)(nil)).
		Where("?TableAlias.metaverse_id = ?", record.ID).
		Exec(ctx); err != nil {
		return err
	}
	rows := make([]*metaverseAttributeIndexRecord, 0, len(record.Attributes))
	for _, value := range record.Attributes {
		if value.IsNull() {
			continue
		}
		key := value.ValueKey()
		rows = append(rows, &metaverseAttributeIndexRecord{
			ID:             uuid.NewString(),
			MetaverseID:    record.ID,
			ObjectType:     record.ObjectType,
			AttributeName:  value.Name,
			ValueKey:       key,
			ValueKeyFolded: strings.ToLower(key),
			CreatedAt:      now,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	_, err := tx.NewInsert().Model(&rows).Exec(ctx)
	return err
}

var _ core.MetaverseStore = (*MetaverseStore)(nil)
