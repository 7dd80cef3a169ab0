package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/amirphl/Kusanagi/utils"
	"gorm.io/gorm"
)

// ModuleRowStatus represents the engraving state of one physical module
type ModuleRowStatus string

const (
	ModuleRowStatusPending ModuleRowStatus = "pending"
	ModuleRowStatusDone    ModuleRowStatus = "done"
	ModuleRowStatusVoided  ModuleRowStatus = "voided"
)

func (s ModuleRowStatus) String() string {
	return string(s)
}

func (s ModuleRowStatus) Valid() bool {
	switch s {
	case ModuleRowStatusPending, ModuleRowStatusDone, ModuleRowStatusVoided:
		return true
	default:
		return false
	}
}

func (s *ModuleRowStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = ModuleRowStatus(v)
	case []byte:
		*s = ModuleRowStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ModuleRowStatus", value)
	}
	return nil
}

func (s ModuleRowStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid ModuleRowStatus: %s", s)
	}
	return string(s), nil
}

// ModuleRow is one physical module inside a batch.
//
// ArraySequence and SlotPosition are where the module sits now and change on
// redistribution. OriginalArraySequence is written once at first packing and
// is the stable key for "which modules were meant to be engraved together".
type ModuleRow struct {
	ID                    uint            `gorm:"primaryKey" json:"id"`
	BatchID               uint            `gorm:"not null;index:idx_module_rows_batch_id;index:idx_module_rows_batch_array,priority:1;index:idx_module_rows_batch_original,priority:1" json:"batch_id"`
	Design                string          `gorm:"size:32;not null;index:idx_module_rows_design" json:"design"`
	Revision              *string         `gorm:"size:16" json:"revision,omitempty"`
	SKU                   string          `gorm:"size:64;not null" json:"sku"`
	OrderRef              string          `gorm:"size:64;not null;index:idx_module_rows_order_ref" json:"order_ref"`
	LEDText               *string         `gorm:"size:64" json:"led_text,omitempty"`
	Serial                int64           `gorm:"not null;uniqueIndex:uk_module_rows_serial" json:"serial"`
	ArraySequence         int             `gorm:"not null;index:idx_module_rows_batch_array,priority:2" json:"array_sequence"`
	OriginalArraySequence int             `gorm:"not null;index:idx_module_rows_batch_original,priority:2" json:"original_array_sequence"`
	SlotPosition          int             `gorm:"not null" json:"slot_position"`
	Status                ModuleRowStatus `gorm:"type:varchar(16);not null;default:'pending';index:idx_module_rows_status" json:"status"`
	CreatedAt             time.Time       `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt             *time.Time      `json:"updated_at,omitempty"`
}

func (ModuleRow) TableName() string {
	return "module_rows"
}

func (m *ModuleRow) BeforeCreate(tx *gorm.DB) error {
	if m.Status == "" {
		m.Status = ModuleRowStatusPending
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = utils.UTCNow()
	}
	return nil
}

func (m *ModuleRow) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	m.UpdatedAt = &now
	return nil
}

// SerialString renders the module's serial as engraved.
func (m *ModuleRow) SerialString() string { return FormatSerial(m.Serial) }

// ModuleRowFilter provides filter fields for repository queries
type ModuleRowFilter struct {
	ID                    *uint
	BatchID               *uint
	ArraySequence         *int
	OriginalArraySequence *int
	Status                *ModuleRowStatus
	Serial                *int64
	Design                *string
}
