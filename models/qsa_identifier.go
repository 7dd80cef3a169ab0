package models

import (
	"fmt"
	"strings"
	"time"
)

// QsaIdentifier binds a human-readable array identifier (e.g. CUBE00076) to one
// array of one batch. Once written it never changes, so the printed code for a
// physical array stays the same when the array is regenerated.
type QsaIdentifier struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	BatchID       uint      `gorm:"not null;uniqueIndex:uk_qsa_identifiers_batch_array,priority:1" json:"batch_id"`
	ArraySequence int       `gorm:"not null;uniqueIndex:uk_qsa_identifiers_batch_array,priority:2" json:"array_sequence"`
	Design        string    `gorm:"size:32;not null;index:idx_qsa_identifiers_design" json:"design"`
	Sequence      int64     `gorm:"not null" json:"sequence"`
	Identifier    string    `gorm:"size:48;not null;uniqueIndex:uk_qsa_identifiers_identifier" json:"identifier"`
	CreatedAt     time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

func (QsaIdentifier) TableName() string { return "qsa_identifiers" }

// FormatQsaIdentifier renders {DESIGN}{5-digit sequence}.
func FormatQsaIdentifier(design string, sequence int64) string {
	return fmt.Sprintf("%s%05d", strings.ToUpper(strings.TrimSpace(design)), sequence)
}
