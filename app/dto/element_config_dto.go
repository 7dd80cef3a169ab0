package dto

// UpsertElementConfigRequest replaces the active placement of one element
type UpsertElementConfigRequest struct {
	Design      string   `json:"design" toml:"design" validate:"required,max=32"`
	Revision    *string  `json:"revision,omitempty" toml:"revision" validate:"omitempty,max=16"`
	Position    int      `json:"position" toml:"position" validate:"gte=0,lte=8"`
	ElementType string   `json:"element_type" toml:"element_type" validate:"required,oneof=micro_id serial_text led_code qr_code module_id"`
	OriginX     float64  `json:"origin_x" toml:"origin_x" validate:"gte=0"`
	OriginY     float64  `json:"origin_y" toml:"origin_y" validate:"gte=0"`
	Rotation    float64  `json:"rotation" toml:"rotation"`
	TextHeight  *float64 `json:"text_height,omitempty" toml:"text_height" validate:"omitempty,gt=0"`
	ElementSize *float64 `json:"element_size,omitempty" toml:"element_size" validate:"omitempty,gt=0"`
}

// ElementConfigItem represents an element config in listings
type ElementConfigItem struct {
	ID          uint     `json:"id"`
	Design      string   `json:"design"`
	Revision    *string  `json:"revision,omitempty"`
	Position    int      `json:"position"`
	ElementType string   `json:"element_type"`
	OriginX     float64  `json:"origin_x"`
	OriginY     float64  `json:"origin_y"`
	Rotation    float64  `json:"rotation"`
	TextHeight  *float64 `json:"text_height,omitempty"`
	ElementSize *float64 `json:"element_size,omitempty"`
	IsActive    bool     `json:"is_active"`
	CreatedAt   string   `json:"created_at"`
}

// ListElementConfigsResponse lists the active configs of a design
type ListElementConfigsResponse struct {
	Design string              `json:"design"`
	Items  []ElementConfigItem `json:"items"`
}

// ImportElementConfigsResponse summarizes a seed file import
type ImportElementConfigsResponse struct {
	Imported    int      `json:"imported"`
	Deactivated int      `json:"deactivated"`
	Designs     []string `json:"designs"`
}

// UpsertCalibrationRequest sets a design's canvas offsets in millimetres
type UpsertCalibrationRequest struct {
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
}

// CalibrationResponse describes a design's canvas offsets
type CalibrationResponse struct {
	Design    string  `json:"design"`
	OffsetX   float64 `json:"offset_x"`
	OffsetY   float64 `json:"offset_y"`
	UpdatedAt string  `json:"updated_at"`
}
