package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/utils"
	"gorm.io/gorm"
)

// ElementConfigRepositoryImpl implements ElementConfigRepository interface
type ElementConfigRepositoryImpl struct {
	*BaseRepository[models.ElementConfig, models.ElementConfigFilter]
}

// NewElementConfigRepository creates a new element config repository
func NewElementConfigRepository(db *gorm.DB) ElementConfigRepository {
	return &ElementConfigRepositoryImpl{
		BaseRepository: NewBaseRepository[models.ElementConfig, models.ElementConfigFilter](db),
	}
}

// ListActiveByDesigns returns every active config of the given designs
func (r *ElementConfigRepositoryImpl) ListActiveByDesigns(ctx context.Context, designs []string) ([]*models.ElementConfig, error) {
	if len(designs) == 0 {
		return []*models.ElementConfig{}, nil
	}
	normalized := make([]string, len(designs))
	for i, d := range designs {
		normalized[i] = models.NormalizeDesign(d)
	}

	db := r.getDB(ctx)
	var rows []*models.ElementConfig
	err := db.Model(&models.ElementConfig{}).
		Where("design IN ? AND is_active = ?", normalized, true).
		Order("design ASC, position ASC, element_type ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list element configs: %w", err)
	}
	return rows, nil
}

// DeactivateTuple turns off the active row(s) for one tuple; a nil revision only
// matches revision-agnostic rows.
func (r *ElementConfigRepositoryImpl) DeactivateTuple(ctx context.Context, design string, revision *string, position int, elementType models.ElementType) (int64, error) {
	db := r.getDB(ctx)
	query := db.Model(&models.ElementConfig{}).
		Where("design = ? AND position = ? AND element_type = ? AND is_active = ?",
			models.NormalizeDesign(design), position, elementType, true)
	if revision == nil {
		query = query.Where("revision IS NULL")
	} else {
		query = query.Where("revision = ?", *revision)
	}

	res := query.Updates(map[string]any{"is_active": false, "updated_at": utils.UTCNow()})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to deactivate element config: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// applyFilter applies filter criteria to a GORM query
func (r *ElementConfigRepositoryImpl) applyFilter(query *gorm.DB, filter models.ElementConfigFilter) *gorm.DB {
	if filter.Design != nil {
		query = query.Where("design = ?", models.NormalizeDesign(*filter.Design))
	}
	if filter.Revision != nil {
		query = query.Where("revision = ?", *filter.Revision)
	}
	if filter.Position != nil {
		query = query.Where("position = ?", *filter.Position)
	}
	if filter.ElementType != nil {
		query = query.Where("element_type = ?", *filter.ElementType)
	}
	if filter.IsActive != nil {
		query = query.Where("is_active = ?", *filter.IsActive)
	}
	return query
}

// ByFilter retrieves element configs based on filter criteria
func (r *ElementConfigRepositoryImpl) ByFilter(ctx context.Context, filter models.ElementConfigFilter, orderBy string, limit, offset int) ([]*models.ElementConfig, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ElementConfig{}), filter)

	if orderBy == "" {
		orderBy = "design ASC, position ASC, element_type ASC"
	}
	query = query.Order(orderBy)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []*models.ElementConfig
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns the number of element configs matching the filter
func (r *ElementConfigRepositoryImpl) Count(ctx context.Context, filter models.ElementConfigFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.ElementConfig{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any element config matching the filter exists
func (r *ElementConfigRepositoryImpl) Exists(ctx context.Context, filter models.ElementConfigFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
