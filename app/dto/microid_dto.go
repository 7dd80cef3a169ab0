package dto

// EncodeMicroIDRequest asks for the grid of one identifier
type EncodeMicroIDRequest struct {
	ID int64 `json:"id" validate:"gte=0,lte=1048575"`
}

// EncodeMicroIDResponse carries the grid in several renderings
type EncodeMicroIDResponse struct {
	ID     int64    `json:"id"`
	Serial string   `json:"serial"`
	Grid   string   `json:"grid"`
	Rows   []string `json:"rows"`
	Dots   [][2]int `json:"dots"`
	Parity bool     `json:"parity"`
}

// DecodeMicroIDRequest carries a grid as 25 '0'/'1' cells
type DecodeMicroIDRequest struct {
	Grid string `json:"grid" validate:"required"`
}

// DecodeMicroIDResponse is the decode outcome. Confidence other than HIGH is a
// normal result, not an error.
type DecodeMicroIDResponse struct {
	ID           int64                 `json:"id"`
	Serial       string                `json:"serial"`
	Confidence   string                `json:"confidence"`
	Usable       bool                  `json:"usable"`
	AnchorsValid bool                  `json:"anchors_valid"`
	ParityValid  bool                  `json:"parity_valid"`
	Binary       string                `json:"binary"`
	Rows         []string              `json:"rows"`
	Source       string                `json:"source"`
	Model        string                `json:"model,omitempty"`
	Ledger       *SerialLookupResponse `json:"ledger,omitempty"`
}

// SerialLookupResponse describes one ledger entry and the module carrying it
type SerialLookupResponse struct {
	Serial        string  `json:"serial"`
	Status        string  `json:"status"`
	BatchUUID     *string `json:"batch_uuid,omitempty"`
	ReservedAt    string  `json:"reserved_at"`
	EngravedAt    *string `json:"engraved_at,omitempty"`
	VoidedAt      *string `json:"voided_at,omitempty"`
	Design        *string `json:"design,omitempty"`
	SKU           *string `json:"sku,omitempty"`
	OrderRef      *string `json:"order_ref,omitempty"`
	ArraySequence *int    `json:"array_sequence,omitempty"`
	SlotPosition  *int    `json:"slot_position,omitempty"`
}
