package models

import "time"

// ArrayCalibration holds the physical offset, in canvas millimetres, of the
// fixture that carries a design's arrays on the laser bed.
type ArrayCalibration struct {
	Design    string    `gorm:"primaryKey;size:32" json:"design"`
	OffsetX   float64   `gorm:"not null;default:0" json:"offset_x"`
	OffsetY   float64   `gorm:"not null;default:0" json:"offset_y"`
	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (ArrayCalibration) TableName() string { return "array_calibrations" }
