package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/amirphl/Kusanagi/utils"
)

const (
	// MinSerial is the first serial ever issued.
	MinSerial int64 = 1
	// MaxSerial is the last serial that fits in a Micro-ID grid (2^20 - 1).
	MaxSerial int64 = 1048575
)

// SerialStatus represents the lifecycle of an issued serial number
type SerialStatus string

const (
	SerialStatusReserved SerialStatus = "reserved"
	SerialStatusEngraved SerialStatus = "engraved"
	SerialStatusVoided   SerialStatus = "voided"
)

func (s SerialStatus) String() string {
	return string(s)
}

func (s SerialStatus) Valid() bool {
	switch s {
	case SerialStatusReserved, SerialStatusEngraved, SerialStatusVoided:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a serial may move from s to next.
// Only reserved serials move, and only forward.
func (s SerialStatus) CanTransitionTo(next SerialStatus) bool {
	return s == SerialStatusReserved && (next == SerialStatusEngraved || next == SerialStatusVoided)
}

func (s *SerialStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = SerialStatus(v)
	case []byte:
		*s = SerialStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into SerialStatus", value)
	}
	return nil
}

func (s SerialStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid SerialStatus: %s", s)
	}
	return string(s), nil
}

// SerialNumber is one entry of the serial ledger. Rows are never deleted so a
// serial is never handed out twice, even after it is voided.
type SerialNumber struct {
	ID         uint         `gorm:"primaryKey" json:"id"`
	Serial     int64        `gorm:"not null;uniqueIndex:uk_serial_numbers_serial" json:"serial"`
	Status     SerialStatus `gorm:"type:varchar(16);not null;default:'reserved';index:idx_serial_numbers_status" json:"status"`
	BatchID    *uint        `gorm:"index:idx_serial_numbers_batch_id" json:"batch_id,omitempty"`
	ReservedAt time.Time    `gorm:"not null" json:"reserved_at"`
	EngravedAt *time.Time   `json:"engraved_at,omitempty"`
	VoidedAt   *time.Time   `json:"voided_at,omitempty"`
	CreatedAt  time.Time    `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (SerialNumber) TableName() string { return "serial_numbers" }

// SerialString renders the serial as printed on the module.
func (s *SerialNumber) SerialString() string { return FormatSerial(s.Serial) }

// NewReservedSerials builds reserved ledger rows for the inclusive range [start, end].
func NewReservedSerials(start, end int64, batchID *uint) []*SerialNumber {
	if end < start {
		return nil
	}
	now := utils.UTCNow()
	rows := make([]*SerialNumber, 0, end-start+1)
	for s := start; s <= end; s++ {
		rows = append(rows, &SerialNumber{
			Serial:     s,
			Status:     SerialStatusReserved,
			BatchID:    batchID,
			ReservedAt: now,
		})
	}
	return rows
}

// FormatSerial renders a serial as 8-digit zero padded text.
func FormatSerial(serial int64) string {
	return fmt.Sprintf("%08d", serial)
}

// SerialNumberFilter provides filter fields for repository queries
type SerialNumberFilter struct {
	Serial     *int64
	BatchID    *uint
	Status     *SerialStatus
	FromSerial *int64
	ToSerial   *int64
}
