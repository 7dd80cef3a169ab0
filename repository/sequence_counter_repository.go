package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SequenceCounterRepositoryImpl implements SequenceCounterRepository interface
type SequenceCounterRepositoryImpl struct {
	db *gorm.DB
}

// NewSequenceCounterRepository creates a new sequence counter repository
func NewSequenceCounterRepository(db *gorm.DB) SequenceCounterRepository {
	return &SequenceCounterRepositoryImpl{db: db}
}

// Get returns the counter or nil when it does not exist yet
func (r *SequenceCounterRepositoryImpl) Get(ctx context.Context, name string) (*models.SequenceCounter, error) {
	db := dbFromContext(ctx, r.db)

	var row models.SequenceCounter
	err := db.Where("name = ?", name).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get counter %s: %w", name, err)
	}
	return &row, nil
}

// Ensure inserts the counter row, leaving an existing row untouched
func (r *SequenceCounterRepositoryImpl) Ensure(ctx context.Context, name string, initial int64) error {
	db := dbFromContext(ctx, r.db)

	now := utils.UTCNow()
	row := models.SequenceCounter{Name: name, LastValue: initial, CreatedAt: now, UpdatedAt: now}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to ensure counter %s: %w", name, err)
	}
	return nil
}

// CompareAndSwap advances the counter only when it still holds expected
func (r *SequenceCounterRepositoryImpl) CompareAndSwap(ctx context.Context, name string, expected, next int64) (bool, error) {
	db := dbFromContext(ctx, r.db)

	res := db.Model(&models.SequenceCounter{}).
		Where("name = ? AND last_value = ?", name, expected).
		Updates(map[string]any{"last_value": next, "updated_at": utils.UTCNow()})
	if res.Error != nil {
		return false, fmt.Errorf("failed to advance counter %s: %w", name, res.Error)
	}
	return res.RowsAffected == 1, nil
}
