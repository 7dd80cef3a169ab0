package dto

// ModuleSupply is one line of inbound module supply. Only requested minus
// produced units are eligible for engraving.
type ModuleSupply struct {
	Design            string  `json:"design" validate:"required,max=32"`
	Revision          *string `json:"revision,omitempty" validate:"omitempty,max=16"`
	SKU               string  `json:"sku" validate:"required,max=64"`
	OrderRef          string  `json:"order_ref" validate:"required,max=64"`
	RequestedQuantity int     `json:"requested_quantity" validate:"gte=0"`
	ProducedQuantity  int     `json:"produced_quantity" validate:"gte=0"`
	LEDText           *string `json:"led_text,omitempty" validate:"omitempty,max=64"`
}

// Remaining returns the number of units still to produce
func (s ModuleSupply) Remaining() int {
	if s.ProducedQuantity >= s.RequestedQuantity {
		return 0
	}
	return s.RequestedQuantity - s.ProducedQuantity
}

// CreateBatchRequest selects supply lines and packing options for a new batch
type CreateBatchRequest struct {
	Supplies            []ModuleSupply `json:"supplies" validate:"required,min=1,dive"`
	StartSlot           int            `json:"start_slot,omitempty" validate:"omitempty,min=1"`
	FaultySlots         []int          `json:"faulty_slots,omitempty" validate:"omitempty,dive,min=1"`
	ArrayFaultySlots    map[int][]int  `json:"array_faulty_slots,omitempty" validate:"omitempty,dive,dive,min=1"`
	MinimizeTransitions bool           `json:"minimize_transitions"`
	CreatedBy           *string        `json:"created_by,omitempty" validate:"omitempty,max=128"`
}

// PlannedSlot is one unit of a packing preview
type PlannedSlot struct {
	ArraySequence int    `json:"array_sequence"`
	SlotPosition  int    `json:"slot_position"`
	Design        string `json:"design"`
	SKU           string `json:"sku"`
	OrderRef      string `json:"order_ref"`
}

// PreviewBatchResponse summarizes a packing without persisting anything
type PreviewBatchResponse struct {
	ModuleCount   int           `json:"module_count"`
	ArrayCount    int           `json:"array_count"`
	ArrayCapacity int           `json:"array_capacity"`
	Transitions   int           `json:"transitions"`
	SlotCounts    []int         `json:"slot_counts"`
	Skipped       []string      `json:"skipped,omitempty"`
	Slots         []PlannedSlot `json:"slots"`
}

// ArrayIdentifierItem binds an array to its printed identifier
type ArrayIdentifierItem struct {
	ArraySequence int    `json:"array_sequence"`
	Identifier    string `json:"identifier"`
}

// BatchResponse describes a batch
type BatchResponse struct {
	UUID          string                `json:"uuid"`
	Status        string                `json:"status"`
	ModuleCount   int                   `json:"module_count"`
	ArrayCount    int                   `json:"array_count"`
	ArrayCapacity int                   `json:"array_capacity"`
	StartSlot     int                   `json:"start_slot"`
	FaultySlots   []int                 `json:"faulty_slots"`
	ArrayFaults   map[int][]int         `json:"array_faulty_slots,omitempty"`
	Transitions   int                   `json:"transitions"`
	SerialStart   string                `json:"serial_start"`
	SerialEnd     string                `json:"serial_end"`
	PendingCount  int                   `json:"pending_count"`
	DoneCount     int                   `json:"done_count"`
	VoidedCount   int                   `json:"voided_count"`
	Identifiers   []ArrayIdentifierItem `json:"identifiers,omitempty"`
	CreatedBy     *string               `json:"created_by,omitempty"`
	CreatedAt     string                `json:"created_at"`
	CompletedAt   *string               `json:"completed_at,omitempty"`
	CancelledAt   *string               `json:"cancelled_at,omitempty"`
}

// ModuleRowItem represents a module row in listings
type ModuleRowItem struct {
	ID                    uint    `json:"id"`
	Design                string  `json:"design"`
	Revision              *string `json:"revision,omitempty"`
	SKU                   string  `json:"sku"`
	OrderRef              string  `json:"order_ref"`
	LEDText               *string `json:"led_text,omitempty"`
	Serial                string  `json:"serial"`
	ArraySequence         int     `json:"array_sequence"`
	OriginalArraySequence int     `json:"original_array_sequence"`
	SlotPosition          int     `json:"slot_position"`
	Status                string  `json:"status"`
}

// OriginalArrayGroup lists the rows first packed into one array
type OriginalArrayGroup struct {
	OriginalArraySequence int             `json:"original_array_sequence"`
	Rows                  []ModuleRowItem `json:"rows"`
}

// ListBatchRowsResponse groups a batch's rows by original array
type ListBatchRowsResponse struct {
	BatchUUID string               `json:"batch_uuid"`
	Groups    []OriginalArrayGroup `json:"groups"`
}

// RedistributeBatchRequest changes the packing of pending rows. A zero
// StartSlot or nil FaultySlots keeps the batch's current value; an empty
// FaultySlots clears it. ArrayFaultySlots replaces the set of every array it
// names and an empty list clears that array.
type RedistributeBatchRequest struct {
	StartSlot        int           `json:"start_slot,omitempty" validate:"omitempty,min=1"`
	FaultySlots      []int         `json:"faulty_slots" validate:"omitempty,dive,min=1"`
	ArrayFaultySlots map[int][]int `json:"array_faulty_slots,omitempty" validate:"omitempty,dive,dive,min=1"`
}

// RedistributeBatchResponse reports the new layout
type RedistributeBatchResponse struct {
	Batch BatchResponse `json:"batch"`
	Moved int           `json:"moved"`
}

// MarkArrayEngravedResponse reports an engraved array
type MarkArrayEngravedResponse struct {
	BatchUUID     string `json:"batch_uuid"`
	ArraySequence int    `json:"array_sequence"`
	Engraved      int    `json:"engraved"`
	BatchStatus   string `json:"batch_status"`
}

// VoidRowResponse reports a voided module row
type VoidRowResponse struct {
	RowID  uint   `json:"row_id"`
	Serial string `json:"serial"`
	Status string `json:"status"`
}

// RenderedElement is one element with its resolved placement and content
type RenderedElement struct {
	ElementType string   `json:"element_type"`
	X           float64  `json:"x"`
	Y           float64  `json:"y"`
	Rotation    float64  `json:"rotation"`
	Size        *float64 `json:"size,omitempty"`
	TextHeight  *float64 `json:"text_height,omitempty"`
	FontSize    *float64 `json:"font_size,omitempty"`
	Content     string   `json:"content"`
	Grid        []string `json:"grid,omitempty"`
}

// RenderedModule holds the elements engraved on one module
type RenderedModule struct {
	RowID        uint              `json:"row_id"`
	SlotPosition int               `json:"slot_position"`
	Design       string            `json:"design"`
	Serial       string            `json:"serial"`
	Elements     []RenderedElement `json:"elements"`
}

// CanvasInfo describes the renderer work area in millimetres
type CanvasInfo struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RenderArrayResponse is the outbound placement data for one array
type RenderArrayResponse struct {
	BatchUUID     string            `json:"batch_uuid"`
	ArraySequence int               `json:"array_sequence"`
	Identifier    string            `json:"identifier"`
	Canvas        CanvasInfo        `json:"canvas"`
	ArrayElements []RenderedElement `json:"array_elements"`
	Modules       []RenderedModule  `json:"modules"`
}
