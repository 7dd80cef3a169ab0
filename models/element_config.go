package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/Kusanagi/utils"
	"gorm.io/gorm"
)

// ArrayLevelPosition is the slot position used by elements engraved once per
// array (QR code, module identifier) rather than once per module.
const ArrayLevelPosition = 0

// ElementType is the closed set of things engraved on an array.
type ElementType string

const (
	ElementTypeMicroID    ElementType = "micro_id"
	ElementTypeSerialText ElementType = "serial_text"
	ElementTypeLEDCode    ElementType = "led_code"
	ElementTypeQRCode     ElementType = "qr_code"
	ElementTypeModuleID   ElementType = "module_id"
)

var (
	// SlotElementTypes must be configured for every slot a design uses.
	SlotElementTypes = []ElementType{ElementTypeMicroID, ElementTypeSerialText}
	// ArrayElementTypes must be configured once per design at position 0.
	ArrayElementTypes = []ElementType{ElementTypeQRCode, ElementTypeModuleID}
)

func (t ElementType) String() string {
	return string(t)
}

func (t ElementType) Valid() bool {
	switch t {
	case ElementTypeMicroID, ElementTypeSerialText, ElementTypeLEDCode,
		ElementTypeQRCode, ElementTypeModuleID:
		return true
	default:
		return false
	}
}

// ArrayLevel reports whether the element is engraved once per array.
func (t ElementType) ArrayLevel() bool {
	switch t {
	case ElementTypeQRCode, ElementTypeModuleID:
		return true
	default:
		return false
	}
}

// IsText reports whether the element is rendered as text and carries a text height.
func (t ElementType) IsText() bool {
	switch t {
	case ElementTypeSerialText, ElementTypeLEDCode, ElementTypeModuleID:
		return true
	default:
		return false
	}
}

// ParseElementType converts user input into an ElementType.
func ParseElementType(s string) (ElementType, error) {
	t := ElementType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown element type %q", s)
	}
	return t, nil
}

func (t *ElementType) Scan(value any) error {
	if value == nil {
		*t = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*t = ElementType(v)
	case []byte:
		*t = ElementType(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ElementType", value)
	}
	return nil
}

func (t ElementType) Value() (driver.Value, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid ElementType: %s", t)
	}
	return string(t), nil
}

// ElementConfig is the static placement of one element for one slot of a design.
// Coordinates are millimetres from the design's bottom-left corner. A nil
// Revision applies to every revision of the design.
type ElementConfig struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	Design      string      `gorm:"size:32;not null;index:idx_element_configs_design" json:"design"`
	Revision    *string     `gorm:"size:16" json:"revision,omitempty"`
	Position    int         `gorm:"not null" json:"position"`
	ElementType ElementType `gorm:"type:varchar(24);not null" json:"element_type"`
	OriginX     float64     `gorm:"not null" json:"origin_x"`
	OriginY     float64     `gorm:"not null" json:"origin_y"`
	Rotation    float64     `gorm:"not null;default:0" json:"rotation"`
	TextHeight  *float64    `json:"text_height,omitempty"`
	ElementSize *float64    `json:"element_size,omitempty"`
	IsActive    bool        `gorm:"not null;default:true;index:idx_element_configs_active" json:"is_active"`
	CreatedAt   time.Time   `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt   *time.Time  `json:"updated_at,omitempty"`
}

func (ElementConfig) TableName() string { return "element_configs" }

func (e *ElementConfig) BeforeCreate(tx *gorm.DB) error {
	e.Design = NormalizeDesign(e.Design)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = utils.UTCNow()
	}
	return nil
}

func (e *ElementConfig) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	e.UpdatedAt = &now
	return nil
}

// RevisionLabel renders the revision for messages; nil means every revision.
func RevisionLabel(rev *string) string {
	if rev == nil || *rev == "" {
		return "*"
	}
	return *rev
}

// NormalizeDesign upper-cases and trims a design name.
func NormalizeDesign(design string) string {
	return strings.ToUpper(strings.TrimSpace(design))
}

// ElementConfigFilter provides filter fields for repository queries
type ElementConfigFilter struct {
	Design      *string
	Revision    *string
	Position    *int
	ElementType *ElementType
	IsActive    *bool
}
