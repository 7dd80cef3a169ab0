package testing

import (
	"fmt"

	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/utils"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// SeedDesign stores active design-wide placements for the array elements and
// for every required slot element of slots 1..slots.
func (tf *TestFixtures) SeedDesign(design string, slots int) ([]*models.ElementConfig, error) {
	var configs []*models.ElementConfig
	for i, t := range models.ArrayElementTypes {
		configs = append(configs, &models.ElementConfig{
			Design:      design,
			Position:    models.ArrayLevelPosition,
			ElementType: t,
			OriginX:     5 + float64(i)*20,
			OriginY:     5,
			IsActive:    true,
		})
	}
	for pos := 1; pos <= slots; pos++ {
		for i, t := range models.SlotElementTypes {
			configs = append(configs, &models.ElementConfig{
				Design:      design,
				Position:    pos,
				ElementType: t,
				OriginX:     float64(pos) * 24,
				OriginY:     40 + float64(i)*8,
				TextHeight:  utils.ToPtr(2.5),
				IsActive:    true,
			})
		}
	}
	if err := tf.DB.DB.Create(&configs).Error; err != nil {
		return nil, fmt.Errorf("failed to seed design %s: %w", design, err)
	}
	return configs, nil
}

// CreateTestBatch stores an in-progress batch covering serials [start, end]
func (tf *TestFixtures) CreateTestBatch(start, end int64) (*models.EngravingBatch, error) {
	count := int(end - start + 1)
	batch := &models.EngravingBatch{
		UUID:          uuid.New(),
		Status:        models.BatchStatusInProgress,
		ModuleCount:   count,
		ArrayCount:    (count + 7) / 8,
		ArrayCapacity: 8,
		StartSlot:     1,
		FaultySlots:   pq.Int64Array{},
		SerialStart:   start,
		SerialEnd:     end,
	}
	if err := tf.DB.DB.Create(batch).Error; err != nil {
		return nil, fmt.Errorf("failed to create test batch: %w", err)
	}
	return batch, nil
}
