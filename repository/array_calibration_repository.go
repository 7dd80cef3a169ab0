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

// ArrayCalibrationRepositoryImpl implements ArrayCalibrationRepository interface
type ArrayCalibrationRepositoryImpl struct {
	db *gorm.DB
}

// NewArrayCalibrationRepository creates a new calibration repository
func NewArrayCalibrationRepository(db *gorm.DB) ArrayCalibrationRepository {
	return &ArrayCalibrationRepositoryImpl{db: db}
}

// ByDesign returns the calibration for a design, or nil when none is stored
func (r *ArrayCalibrationRepositoryImpl) ByDesign(ctx context.Context, design string) (*models.ArrayCalibration, error) {
	db := dbFromContext(ctx, r.db)
	var row models.ArrayCalibration
	if err := db.Where("design = ?", models.NormalizeDesign(design)).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find calibration for %s: %w", design, err)
	}
	return &row, nil
}

// Upsert stores the offsets for a design, replacing any previous values
func (r *ArrayCalibrationRepositoryImpl) Upsert(ctx context.Context, calibration *models.ArrayCalibration) error {
	db := dbFromContext(ctx, r.db)

	now := utils.UTCNow()
	calibration.Design = models.NormalizeDesign(calibration.Design)
	if calibration.CreatedAt.IsZero() {
		calibration.CreatedAt = now
	}
	calibration.UpdatedAt = now

	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "design"}},
		DoUpdates: clause.AssignmentColumns([]string{"offset_x", "offset_y", "updated_at"}),
	}).Create(calibration).Error
	if err != nil {
		return fmt.Errorf("failed to store calibration for %s: %w", calibration.Design, err)
	}
	return nil
}
