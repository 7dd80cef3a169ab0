package models

import (
	"strings"
	"time"
)

// Counter names backed by sequence_counters rows.
const (
	SerialNumberCounter = "serial_number"
	designCounterPrefix = "design:"
)

// SequenceCounter stores the last value for named monotonic counters.
// Rows are advanced with compare-and-swap on LastValue and never move backwards.
type SequenceCounter struct {
	Name      string    `gorm:"primaryKey;size:64" json:"name"`
	LastValue int64     `gorm:"not null;default:0" json:"last_value"`
	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (SequenceCounter) TableName() string { return "sequence_counters" }

// DesignCounterName returns the counter key for a design's identifier sequence.
func DesignCounterName(design string) string {
	return designCounterPrefix + strings.ToUpper(strings.TrimSpace(design))
}
