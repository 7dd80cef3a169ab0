package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/utils"
	"gorm.io/gorm"
)

const physicalOrder = "array_sequence ASC, slot_position ASC"

// ModuleRowRepositoryImpl implements ModuleRowRepository interface
type ModuleRowRepositoryImpl struct {
	*BaseRepository[models.ModuleRow, models.ModuleRowFilter]
}

// NewModuleRowRepository creates a new module row repository
func NewModuleRowRepository(db *gorm.DB) ModuleRowRepository {
	return &ModuleRowRepositoryImpl{
		BaseRepository: NewBaseRepository[models.ModuleRow, models.ModuleRowFilter](db),
	}
}

// ListByBatch returns every row of a batch in physical order
func (r *ModuleRowRepositoryImpl) ListByBatch(ctx context.Context, batchID uint) ([]*models.ModuleRow, error) {
	return r.ByFilter(ctx, models.ModuleRowFilter{BatchID: &batchID}, physicalOrder, 0, 0)
}

// ListByArray returns the rows currently placed on one array
func (r *ModuleRowRepositoryImpl) ListByArray(ctx context.Context, batchID uint, arraySequence int) ([]*models.ModuleRow, error) {
	return r.ByFilter(ctx, models.ModuleRowFilter{BatchID: &batchID, ArraySequence: &arraySequence}, "slot_position ASC", 0, 0)
}

// ListByOriginalArray groups a batch's rows by the array they were first packed into
func (r *ModuleRowRepositoryImpl) ListByOriginalArray(ctx context.Context, batchID uint) (map[int][]*models.ModuleRow, error) {
	rows, err := r.ByFilter(ctx, models.ModuleRowFilter{BatchID: &batchID}, "original_array_sequence ASC, "+physicalOrder, 0, 0)
	if err != nil {
		return nil, err
	}
	groups := make(map[int][]*models.ModuleRow)
	for _, row := range rows {
		groups[row.OriginalArraySequence] = append(groups[row.OriginalArraySequence], row)
	}
	return groups, nil
}

// UpdatePlacement moves a row to a new array and slot. The original array is never touched.
func (r *ModuleRowRepositoryImpl) UpdatePlacement(ctx context.Context, id uint, arraySequence, slotPosition int) error {
	db := r.getDB(ctx)
	res := db.Model(&models.ModuleRow{}).Where("id = ?", id).Updates(map[string]any{
		"array_sequence": arraySequence,
		"slot_position":  slotPosition,
		"updated_at":     utils.UTCNow(),
	})
	if res.Error != nil {
		return fmt.Errorf("failed to move module row %d: %w", id, res.Error)
	}
	return nil
}

// UpdateStatus moves the listed rows that are in status from to status to
func (r *ModuleRowRepositoryImpl) UpdateStatus(ctx context.Context, ids []uint, from, to models.ModuleRowStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	db := r.getDB(ctx)
	res := db.Model(&models.ModuleRow{}).
		Where("id IN ? AND status = ?", ids, from).
		Updates(map[string]any{"status": to, "updated_at": utils.UTCNow()})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to update module rows: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// applyFilter applies filter criteria to a GORM query
func (r *ModuleRowRepositoryImpl) applyFilter(query *gorm.DB, filter models.ModuleRowFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.BatchID != nil {
		query = query.Where("batch_id = ?", *filter.BatchID)
	}
	if filter.ArraySequence != nil {
		query = query.Where("array_sequence = ?", *filter.ArraySequence)
	}
	if filter.OriginalArraySequence != nil {
		query = query.Where("original_array_sequence = ?", *filter.OriginalArraySequence)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Serial != nil {
		query = query.Where("serial = ?", *filter.Serial)
	}
	if filter.Design != nil {
		query = query.Where("design = ?", *filter.Design)
	}
	return query
}

// ByFilter retrieves module rows based on filter criteria
func (r *ModuleRowRepositoryImpl) ByFilter(ctx context.Context, filter models.ModuleRowFilter, orderBy string, limit, offset int) ([]*models.ModuleRow, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ModuleRow{}), filter)

	if orderBy == "" {
		orderBy = physicalOrder
	}
	query = query.Order(orderBy)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []*models.ModuleRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns the number of module rows matching the filter
func (r *ModuleRowRepositoryImpl) Count(ctx context.Context, filter models.ModuleRowFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.ModuleRow{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any module row matching the filter exists
func (r *ModuleRowRepositoryImpl) Exists(ctx context.Context, filter models.ModuleRowFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
