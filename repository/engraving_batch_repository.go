package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/Kusanagi/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EngravingBatchRepositoryImpl implements EngravingBatchRepository interface
type EngravingBatchRepositoryImpl struct {
	*BaseRepository[models.EngravingBatch, models.EngravingBatchFilter]
}

// NewEngravingBatchRepository creates a new engraving batch repository
func NewEngravingBatchRepository(db *gorm.DB) EngravingBatchRepository {
	return &EngravingBatchRepositoryImpl{
		BaseRepository: NewBaseRepository[models.EngravingBatch, models.EngravingBatchFilter](db),
	}
}

// ByUUID retrieves a batch by UUID
func (r *EngravingBatchRepositoryImpl) ByUUID(ctx context.Context, id uuid.UUID) (*models.EngravingBatch, error) {
	return r.byUUID(r.getDB(ctx), id)
}

// ByUUIDForUpdate retrieves a batch by UUID holding a row lock
func (r *EngravingBatchRepositoryImpl) ByUUIDForUpdate(ctx context.Context, id uuid.UUID) (*models.EngravingBatch, error) {
	return r.byUUID(r.getDB(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *EngravingBatchRepositoryImpl) byUUID(db *gorm.DB, id uuid.UUID) (*models.EngravingBatch, error) {
	var row models.EngravingBatch
	if err := db.Where("uuid = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find batch %s: %w", id, err)
	}
	return &row, nil
}

// Update persists every column of batch
func (r *EngravingBatchRepositoryImpl) Update(ctx context.Context, batch *models.EngravingBatch) error {
	db := r.getDB(ctx)
	if err := db.Save(batch).Error; err != nil {
		return fmt.Errorf("failed to update batch %d: %w", batch.ID, err)
	}
	return nil
}

// applyFilter applies filter criteria to a GORM query
func (r *EngravingBatchRepositoryImpl) applyFilter(query *gorm.DB, filter models.EngravingBatchFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		query = query.Where("uuid = ?", *filter.UUID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	return query
}

// ByFilter retrieves batches based on filter criteria
func (r *EngravingBatchRepositoryImpl) ByFilter(ctx context.Context, filter models.EngravingBatchFilter, orderBy string, limit, offset int) ([]*models.EngravingBatch, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.EngravingBatch{}), filter)

	if orderBy == "" {
		orderBy = "id DESC"
	}
	query = query.Order(orderBy)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []*models.EngravingBatch
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns the number of batches matching the filter
func (r *EngravingBatchRepositoryImpl) Count(ctx context.Context, filter models.EngravingBatchFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.EngravingBatch{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any batch matching the filter exists
func (r *EngravingBatchRepositoryImpl) Exists(ctx context.Context, filter models.EngravingBatchFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
