package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/Kusanagi/models"
	"gorm.io/gorm"
)

// SerialNumberRepositoryImpl implements SerialNumberRepository interface
type SerialNumberRepositoryImpl struct {
	*BaseRepository[models.SerialNumber, models.SerialNumberFilter]
}

// NewSerialNumberRepository creates a new serial ledger repository
func NewSerialNumberRepository(db *gorm.DB) SerialNumberRepository {
	return &SerialNumberRepositoryImpl{
		BaseRepository: NewBaseRepository[models.SerialNumber, models.SerialNumberFilter](db),
	}
}

// BySerial retrieves a ledger entry by serial value
func (r *SerialNumberRepositoryImpl) BySerial(ctx context.Context, serial int64) (*models.SerialNumber, error) {
	db := r.getDB(ctx)
	var row models.SerialNumber
	if err := db.Where("serial = ?", serial).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find serial %d: %w", serial, err)
	}
	return &row, nil
}

// MaxSerial returns the highest serial ever issued, or 0 for an empty ledger
func (r *SerialNumberRepositoryImpl) MaxSerial(ctx context.Context) (int64, error) {
	db := r.getDB(ctx)
	var max int64
	if err := db.Model(&models.SerialNumber{}).Select("COALESCE(MAX(serial), 0)").Scan(&max).Error; err != nil {
		return 0, fmt.Errorf("failed to read max serial: %w", err)
	}
	return max, nil
}

// UpdateStatusInRange moves serials in [start, end] that are in status from to status to
func (r *SerialNumberRepositoryImpl) UpdateStatusInRange(ctx context.Context, start, end int64, from, to models.SerialStatus, at time.Time) (int64, error) {
	db := r.getDB(ctx)
	res := db.Model(&models.SerialNumber{}).
		Where("serial BETWEEN ? AND ? AND status = ?", start, end, from).
		Updates(statusUpdates(to, at))
	if res.Error != nil {
		return 0, fmt.Errorf("failed to update serials %d-%d: %w", start, end, res.Error)
	}
	return res.RowsAffected, nil
}

// UpdateStatusBySerials moves the listed serials that are in status from to status to
func (r *SerialNumberRepositoryImpl) UpdateStatusBySerials(ctx context.Context, serials []int64, from, to models.SerialStatus, at time.Time) (int64, error) {
	if len(serials) == 0 {
		return 0, nil
	}
	db := r.getDB(ctx)
	res := db.Model(&models.SerialNumber{}).
		Where("serial IN ? AND status = ?", serials, from).
		Updates(statusUpdates(to, at))
	if res.Error != nil {
		return 0, fmt.Errorf("failed to update serials: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func statusUpdates(to models.SerialStatus, at time.Time) map[string]any {
	updates := map[string]any{"status": to, "updated_at": at}
	switch to {
	case models.SerialStatusEngraved:
		updates["engraved_at"] = at
	case models.SerialStatusVoided:
		updates["voided_at"] = at
	}
	return updates
}

// applyFilter applies filter criteria to a GORM query
func (r *SerialNumberRepositoryImpl) applyFilter(query *gorm.DB, filter models.SerialNumberFilter) *gorm.DB {
	if filter.Serial != nil {
		query = query.Where("serial = ?", *filter.Serial)
	}
	if filter.BatchID != nil {
		query = query.Where("batch_id = ?", *filter.BatchID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.FromSerial != nil {
		query = query.Where("serial >= ?", *filter.FromSerial)
	}
	if filter.ToSerial != nil {
		query = query.Where("serial <= ?", *filter.ToSerial)
	}
	return query
}

// ByFilter retrieves ledger entries based on filter criteria
func (r *SerialNumberRepositoryImpl) ByFilter(ctx context.Context, filter models.SerialNumberFilter, orderBy string, limit, offset int) ([]*models.SerialNumber, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.SerialNumber{}), filter)

	if orderBy == "" {
		orderBy = "serial ASC"
	}
	query = query.Order(orderBy)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []*models.SerialNumber
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns the number of ledger entries matching the filter
func (r *SerialNumberRepositoryImpl) Count(ctx context.Context, filter models.SerialNumberFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.SerialNumber{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any ledger entry matching the filter exists
func (r *SerialNumberRepositoryImpl) Exists(ctx context.Context, filter models.SerialNumberFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
