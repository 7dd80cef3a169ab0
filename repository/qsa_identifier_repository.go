package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/Kusanagi/models"
	"gorm.io/gorm"
)

// QsaIdentifierRepositoryImpl implements QsaIdentifierRepository interface
type QsaIdentifierRepositoryImpl struct {
	db *gorm.DB
}

// NewQsaIdentifierRepository creates a new array identifier repository
func NewQsaIdentifierRepository(db *gorm.DB) QsaIdentifierRepository {
	return &QsaIdentifierRepositoryImpl{db: db}
}

// ByBatchArray returns the identifier bound to one array of a batch, or nil
func (r *QsaIdentifierRepositoryImpl) ByBatchArray(ctx context.Context, batchID uint, arraySequence int) (*models.QsaIdentifier, error) {
	db := dbFromContext(ctx, r.db)
	var row models.QsaIdentifier
	err := db.Where("batch_id = ? AND array_sequence = ?", batchID, arraySequence).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find identifier for batch %d array %d: %w", batchID, arraySequence, err)
	}
	return &row, nil
}

// ListByBatch returns every identifier of a batch ordered by array
func (r *QsaIdentifierRepositoryImpl) ListByBatch(ctx context.Context, batchID uint) ([]*models.QsaIdentifier, error) {
	db := dbFromContext(ctx, r.db)
	var rows []*models.QsaIdentifier
	if err := db.Where("batch_id = ?", batchID).Order("array_sequence ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list identifiers for batch %d: %w", batchID, err)
	}
	return rows, nil
}

// Save inserts a new identifier
func (r *QsaIdentifierRepositoryImpl) Save(ctx context.Context, identifier *models.QsaIdentifier) error {
	db := dbFromContext(ctx, r.db)
	if err := db.Create(identifier).Error; err != nil {
		return fmt.Errorf("failed to save identifier %s: %w", identifier.Identifier, err)
	}
	return nil
}
