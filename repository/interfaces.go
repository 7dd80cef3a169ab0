// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/amirphl/Kusanagi/models"
	"github.com/google/uuid"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// SequenceCounterRepository defines compare-and-swap operations on named counters
type SequenceCounterRepository interface {
	Get(ctx context.Context, name string) (*models.SequenceCounter, error)
	// Ensure creates the counter with initial value unless it already exists.
	Ensure(ctx context.Context, name string, initial int64) error
	// CompareAndSwap moves the counter from expected to next; false means another
	// writer advanced it first.
	CompareAndSwap(ctx context.Context, name string, expected, next int64) (bool, error)
}

// SerialNumberRepository defines operations for the serial ledger
type SerialNumberRepository interface {
	Repository[models.SerialNumber, models.SerialNumberFilter]
	BySerial(ctx context.Context, serial int64) (*models.SerialNumber, error)
	MaxSerial(ctx context.Context) (int64, error)
	UpdateStatusInRange(ctx context.Context, start, end int64, from, to models.SerialStatus, at time.Time) (int64, error)
	UpdateStatusBySerials(ctx context.Context, serials []int64, from, to models.SerialStatus, at time.Time) (int64, error)
}

// EngravingBatchRepository defines operations for engraving batches
type EngravingBatchRepository interface {
	Repository[models.EngravingBatch, models.EngravingBatchFilter]
	ByUUID(ctx context.Context, id uuid.UUID) (*models.EngravingBatch, error)
	// ByUUIDForUpdate locks the batch row for the rest of the transaction.
	ByUUIDForUpdate(ctx context.Context, id uuid.UUID) (*models.EngravingBatch, error)
	Update(ctx context.Context, batch *models.EngravingBatch) error
}

// ModuleRowRepository defines operations for module rows
type ModuleRowRepository interface {
	Repository[models.ModuleRow, models.ModuleRowFilter]
	// ListByBatch returns rows in physical order (array, slot).
	ListByBatch(ctx context.Context, batchID uint) ([]*models.ModuleRow, error)
	ListByArray(ctx context.Context, batchID uint, arraySequence int) ([]*models.ModuleRow, error)
	ListByOriginalArray(ctx context.Context, batchID uint) (map[int][]*models.ModuleRow, error)
	UpdatePlacement(ctx context.Context, id uint, arraySequence, slotPosition int) error
	UpdateStatus(ctx context.Context, ids []uint, from, to models.ModuleRowStatus) (int64, error)
}

// QsaIdentifierRepository defines operations for array identifiers
type QsaIdentifierRepository interface {
	ByBatchArray(ctx context.Context, batchID uint, arraySequence int) (*models.QsaIdentifier, error)
	ListByBatch(ctx context.Context, batchID uint) ([]*models.QsaIdentifier, error)
	Save(ctx context.Context, identifier *models.QsaIdentifier) error
}

// ElementConfigRepository defines operations for element placement configs
type ElementConfigRepository interface {
	Repository[models.ElementConfig, models.ElementConfigFilter]
	ListActiveByDesigns(ctx context.Context, designs []string) ([]*models.ElementConfig, error)
	// DeactivateTuple turns off the active row for one (design, revision, position, type).
	DeactivateTuple(ctx context.Context, design string, revision *string, position int, elementType models.ElementType) (int64, error)
}

// ArrayCalibrationRepository defines operations for per-design canvas offsets
type ArrayCalibrationRepository interface {
	ByDesign(ctx context.Context, design string) (*models.ArrayCalibration, error)
	Upsert(ctx context.Context, calibration *models.ArrayCalibration) error
}
