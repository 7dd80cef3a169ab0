package models

import (
	"database/sql/driver"
	"fmt"
	"slices"
	"time"

	"github.com/amirphl/Kusanagi/utils"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// BatchStatus represents the lifecycle state of an engraving batch
type BatchStatus string

const (
	BatchStatusInProgress BatchStatus = "in_progress"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusCancelled  BatchStatus = "cancelled"
)

func (s BatchStatus) String() string {
	return string(s)
}

func (s BatchStatus) Valid() bool {
	switch s {
	case BatchStatusInProgress, BatchStatusCompleted, BatchStatusCancelled:
		return true
	default:
		return false
	}
}

func (s *BatchStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = BatchStatus(v)
	case []byte:
		*s = BatchStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into BatchStatus", value)
	}
	return nil
}

func (s BatchStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid BatchStatus: %s", s)
	}
	return string(s), nil
}

// EngravingBatch is one unit of operator work: a set of arrays engraved together.
// The batch owns its module rows and the serials reserved for them.
type EngravingBatch struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	UUID          uuid.UUID     `gorm:"type:uuid;not null;uniqueIndex:uk_engraving_batches_uuid" json:"uuid"`
	Status        BatchStatus   `gorm:"type:varchar(16);not null;default:'in_progress';index:idx_engraving_batches_status" json:"status"`
	ModuleCount   int           `gorm:"not null" json:"module_count"`
	ArrayCount    int           `gorm:"not null" json:"array_count"`
	ArrayCapacity int           `gorm:"not null;default:8" json:"array_capacity"`
	StartSlot     int           `gorm:"not null;default:1" json:"start_slot"`
	FaultySlots   pq.Int64Array `gorm:"type:integer[]" json:"faulty_slots"`
	ArrayFaults   ArrayFaults   `gorm:"type:jsonb;serializer:json" json:"array_faults,omitempty"`
	Transitions   int           `gorm:"not null;default:0" json:"transitions"`
	SerialStart   int64         `gorm:"not null" json:"serial_start"`
	SerialEnd     int64         `gorm:"not null" json:"serial_end"`
	CreatedBy     *string       `gorm:"size:128" json:"created_by,omitempty"`
	CreatedAt     time.Time     `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_engraving_batches_created_at" json:"created_at"`
	UpdatedAt     *time.Time    `json:"updated_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	CancelledAt   *time.Time    `json:"cancelled_at,omitempty"`
}

func (EngravingBatch) TableName() string {
	return "engraving_batches"
}

func (b *EngravingBatch) BeforeCreate(tx *gorm.DB) error {
	if b.UUID == uuid.Nil {
		b.UUID = uuid.New()
	}
	if b.Status == "" {
		b.Status = BatchStatusInProgress
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = utils.UTCNow()
	}
	return nil
}

func (b *EngravingBatch) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	b.UpdatedAt = &now
	return nil
}

// CanTransitionTo checks if the batch can move to the given status
func (b *EngravingBatch) CanTransitionTo(next BatchStatus) bool {
	switch b.Status {
	case BatchStatusInProgress:
		return next == BatchStatusCompleted || next == BatchStatusCancelled
	default:
		return false
	}
}

// FaultySlotInts returns the faulty slot positions as ints.
func (b *EngravingBatch) FaultySlotInts() []int {
	out := make([]int, 0, len(b.FaultySlots))
	for _, s := range b.FaultySlots {
		out = append(out, int(s))
	}
	return out
}

// ArrayFaults maps an array sequence to the slots damaged on that array only
type ArrayFaults map[int][]int

// Merge returns a copy of f where every array of update replaces its current
// set. An empty set clears the array.
func (f ArrayFaults) Merge(update map[int][]int) ArrayFaults {
	out := make(ArrayFaults, len(f)+len(update))
	for array, slots := range f {
		out[array] = slices.Clone(slots)
	}
	for array, slots := range update {
		if len(slots) == 0 {
			delete(out, array)
			continue
		}
		set := slices.Clone(slots)
		slices.Sort(set)
		out[array] = slices.Compact(set)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// EngravingBatchFilter represents filter criteria for batches
type EngravingBatchFilter struct {
	ID            *uint
	UUID          *uuid.UUID
	Status        *BatchStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}
