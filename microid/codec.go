// Package microid encodes module serial numbers into the 5x5 Micro-ID dot matrix
// engraved on every LED module and decodes captured grids back into serials.
//
// Grid layout (A = anchor, P = even parity, numbers are data bit positions):
//
//	Row 0: A  19 18 17 A
//	Row 1: 16 15 14 13 12
//	Row 2: 11 10  9  8  7
//	Row 3:  6  5  4  3  2
//	Row 4: A   1  0  P A
//
// The parity bit only detects corruption; it cannot correct it. A decode that is
// not HIGH confidence must be re-captured or verified by hand.
package microid

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const (
	// Size is the edge length of the grid.
	Size = 5
	// DataBits is the number of identifier bits carried by a grid.
	DataBits = 20
	// MaxID is the largest encodable identifier (2^20 - 1).
	MaxID uint32 = 1<<DataBits - 1

	parityRow = 4
	parityCol = 3
)

var (
	ErrInvalidIdentifier   = errors.New("identifier out of range")
	ErrInvalidGrid         = errors.New("invalid grid")
	ErrDecodeLowConfidence = errors.New("micro-id parity check failed")
	ErrDecodeError         = errors.New("micro-id anchors missing")
)

// Confidence classifies a decode.
type Confidence string

const (
	ConfidenceHigh  Confidence = "HIGH"
	ConfidenceLow   Confidence = "LOW"
	ConfidenceError Confidence = "ERROR"
)

func (c Confidence) String() string { return string(c) }

// Cell addresses one grid position.
type Cell struct {
	Row int
	Col int
}

// Anchors are always marked.
var Anchors = [4]Cell{{0, 0}, {0, 4}, {4, 0}, {4, 4}}

// ParityCell holds the even-parity bit.
var ParityCell = Cell{parityRow, parityCol}

// dataCells[i] holds data bit (19 - i).
var dataCells = buildDataCells()

func buildDataCells() [DataBits]Cell {
	var cells [DataBits]Cell
	i := 0
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if isAnchor(r, c) || (r == parityRow && c == parityCol) {
				continue
			}
			cells[i] = Cell{r, c}
			i++
		}
	}
	return cells
}

func isAnchor(r, c int) bool {
	return (r == 0 || r == Size-1) && (c == 0 || c == Size-1)
}

// DataCell returns the grid position of data bit `bit` (0 = least significant).
func DataCell(bit int) (Cell, error) {
	if bit < 0 || bit >= DataBits {
		return Cell{}, fmt.Errorf("data bit %d: %w", bit, ErrInvalidGrid)
	}
	return dataCells[DataBits-1-bit], nil
}

// Grid is a 5x5 dot matrix; true means a dot is engraved.
type Grid [Size][Size]bool

// Encode builds the grid for id.
func Encode(id uint32) (Grid, error) {
	var g Grid
	if id > MaxID {
		return g, fmt.Errorf("%d not in [0, %d]: %w", id, MaxID, ErrInvalidIdentifier)
	}

	for _, a := range Anchors {
		g[a.Row][a.Col] = true
	}

	ones := 0
	for i, cell := range dataCells {
		bit := DataBits - 1 - i
		if id>>uint(bit)&1 == 1 {
			g[cell.Row][cell.Col] = true
			ones++
		}
	}
	g[parityRow][parityCol] = ones%2 == 1

	return g, nil
}

// EncodeInt is Encode for callers holding a signed serial.
func EncodeInt(id int64) (Grid, error) {
	if id < 0 || id > int64(MaxID) {
		var g Grid
		return g, fmt.Errorf("%d not in [0, %d]: %w", id, MaxID, ErrInvalidIdentifier)
	}
	return Encode(uint32(id))
}

// Result is the outcome of decoding a grid. ID is only trustworthy when
// Confidence is HIGH.
type Result struct {
	ID           uint32     `json:"id"`
	Confidence   Confidence `json:"confidence"`
	AnchorsValid bool       `json:"anchors_valid"`
	ParityValid  bool       `json:"parity_valid"`
	Binary       string     `json:"binary"`
}

// Usable reports whether the decoded identifier can be trusted.
func (r Result) Usable() bool { return r.Confidence == ConfidenceHigh }

// Err returns nil for HIGH confidence results and the matching sentinel otherwise.
func (r Result) Err() error {
	switch r.Confidence {
	case ConfidenceHigh:
		return nil
	case ConfidenceLow:
		return ErrDecodeLowConfidence
	default:
		return ErrDecodeError
	}
}

// Serial renders the decoded identifier as an 8-digit serial string.
func (r Result) Serial() string { return FormatSerial(r.ID) }

// Decode reads an identifier back out of g.
func Decode(g Grid) Result {
	anchors := true
	for _, a := range Anchors {
		if !g[a.Row][a.Col] {
			anchors = false
			break
		}
	}

	var (
		id   uint32
		ones int
		sb   strings.Builder
	)
	sb.Grow(DataBits)
	for i, cell := range dataCells {
		bit := DataBits - 1 - i
		if g[cell.Row][cell.Col] {
			id |= 1 << uint(bit)
			ones++
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}

	parity := 0
	if g[parityRow][parityCol] {
		parity = 1
	}
	parityOK := (ones+parity)%2 == 0

	res := Result{
		ID:           id,
		AnchorsValid: anchors,
		ParityValid:  parityOK,
		Binary:       sb.String(),
	}
	switch {
	case !anchors:
		res.Confidence = ConfidenceError
	case !parityOK:
		res.Confidence = ConfidenceLow
	default:
		res.Confidence = ConfidenceHigh
	}
	return res
}

var rowLabel = regexp.MustCompile(`(?i)^\s*r(?:ow)?\s*\d+\s*[:=.)-]?`)

// gridSeparator reports whether ch may sit between cells
func gridSeparator(ch rune) bool {
	return unicode.IsSpace(ch) || strings.ContainsRune(",;|/[](){}\"'", ch)
}

// ParseGrid reads 25 cells of '0'/'1' in raster order. Cells may be split by
// whitespace, brackets, quotes, slashes or list punctuation, and a line may start with a
// row label such as "Row 3:" or "R3". Any other character makes the input
// invalid.
func ParseGrid(s string) (Grid, error) {
	var g Grid
	n := 0
	for _, line := range strings.Split(s, "\n") {
		line = rowLabel.ReplaceAllString(line, "")
		for _, ch := range line {
			switch {
			case ch == '0' || ch == '1':
			case gridSeparator(ch):
				continue
			default:
				return g, fmt.Errorf("unexpected %q: %w", ch, ErrInvalidGrid)
			}
			if n == Size*Size {
				return g, fmt.Errorf("more than %d cells: %w", Size*Size, ErrInvalidGrid)
			}
			g[n/Size][n%Size] = ch == '1'
			n++
		}
	}
	if n != Size*Size {
		return g, fmt.Errorf("got %d cells, want %d: %w", n, Size*Size, ErrInvalidGrid)
	}
	return g, nil
}

// Rows renders each row as five '0'/'1' characters.
func (g Grid) Rows() []string {
	rows := make([]string, Size)
	for r := 0; r < Size; r++ {
		var b [Size]byte
		for c := 0; c < Size; c++ {
			b[c] = '0'
			if g[r][c] {
				b[c] = '1'
			}
		}
		rows[r] = string(b[:])
	}
	return rows
}

// String is the 25-character raster form accepted by ParseGrid.
func (g Grid) String() string { return strings.Join(g.Rows(), "") }

// Dots returns the marked cells in raster order.
func (g Grid) Dots() []Cell {
	dots := make([]Cell, 0, Size*Size)
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if g[r][c] {
				dots = append(dots, Cell{r, c})
			}
		}
	}
	return dots
}

// FormatSerial renders id as the 8-digit zero padded serial string.
func FormatSerial(id uint32) string { return fmt.Sprintf("%08d", id) }
