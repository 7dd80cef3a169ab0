package microid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTripAllIdentifiers(t *testing.T) {
	for id := uint32(0); id <= MaxID; id++ {
		g, err := Encode(id)
		if err != nil {
			t.Fatalf("encode %d: %v", id, err)
		}
		res := Decode(g)
		if res.ID != id || res.Confidence != ConfidenceHigh {
			t.Fatalf("decode %d: got id=%d confidence=%s", id, res.ID, res.Confidence)
		}
	}
}

func TestEncodeRejectsOutOfRange(t *testing.T) {
	_, err := Encode(MaxID + 1)
	require.ErrorIs(t, err, ErrInvalidIdentifier)

	_, err = EncodeInt(-1)
	require.ErrorIs(t, err, ErrInvalidIdentifier)

	_, err = EncodeInt(int64(MaxID) + 1)
	require.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestEncodeZero(t *testing.T) {
	g, err := Encode(0)
	require.NoError(t, err)

	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			assert.Equal(t, isAnchor(r, c), g[r][c], "cell (%d,%d)", r, c)
		}
	}
	assert.Equal(t, "1000100000000000000010001", g.String())

	res := Decode(g)
	assert.Equal(t, uint32(0), res.ID)
	assert.Equal(t, ConfidenceHigh, res.Confidence)
}

func TestEncodeMax(t *testing.T) {
	g, err := Encode(MaxID)
	require.NoError(t, err)

	// 20 ones is even, so the parity dot stays empty.
	assert.False(t, g[ParityCell.Row][ParityCell.Col])
	assert.Equal(t, "1111111111111111111111101", g.String())

	res := Decode(g)
	assert.Equal(t, MaxID, res.ID)
	assert.Equal(t, ConfidenceHigh, res.Confidence)
	assert.Equal(t, "01048575", res.Serial())
}

func TestEncodeLayout(t *testing.T) {
	// 0b1000_0000_0000_0000_0001: bit 19 and bit 0, two ones so parity is 0.
	g, err := Encode(1<<19 | 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"11001", "00000", "00000", "00000", "10101"}, g.Rows())

	// Bit 16 alone lands at the start of row 1 and sets parity.
	g, err = Encode(1 << 16)
	require.NoError(t, err)
	assert.Equal(t, []string{"10001", "10000", "00000", "00000", "10011"}, g.Rows())

	cell, err := DataCell(2)
	require.NoError(t, err)
	assert.Equal(t, Cell{3, 4}, cell)

	_, err = DataCell(20)
	assert.ErrorIs(t, err, ErrInvalidGrid)
}

func TestSingleBitFlipAlwaysDetected(t *testing.T) {
	ids := []uint32{0, 1, 76, 12345, 524288, 699050, MaxID}
	for _, id := range ids {
		g, err := Encode(id)
		require.NoError(t, err)

		for bit := 0; bit < DataBits; bit++ {
			cell, err := DataCell(bit)
			require.NoError(t, err)

			flipped := g
			flipped[cell.Row][cell.Col] = !flipped[cell.Row][cell.Col]
			res := Decode(flipped)
			assert.Equal(t, ConfidenceLow, res.Confidence, "id=%d bit=%d", id, bit)
			assert.False(t, res.Usable())
			assert.ErrorIs(t, res.Err(), ErrDecodeLowConfidence)
		}

		flipped := g
		flipped[ParityCell.Row][ParityCell.Col] = !flipped[ParityCell.Row][ParityCell.Col]
		assert.Equal(t, ConfidenceLow, Decode(flipped).Confidence, "id=%d parity flip", id)
	}
}

func TestMissingAnchorIsError(t *testing.T) {
	g, err := Encode(76)
	require.NoError(t, err)

	for _, a := range Anchors {
		broken := g
		broken[a.Row][a.Col] = false
		res := Decode(broken)
		assert.Equal(t, ConfidenceError, res.Confidence)
		assert.False(t, res.AnchorsValid)
		assert.True(t, res.ParityValid)
		assert.ErrorIs(t, res.Err(), ErrDecodeError)

		// Still ERROR when parity is also broken.
		cell, _ := DataCell(5)
		broken[cell.Row][cell.Col] = !broken[cell.Row][cell.Col]
		assert.Equal(t, ConfidenceError, Decode(broken).Confidence)
	}
}

func TestParseGrid(t *testing.T) {
	g, err := Encode(76)
	require.NoError(t, err)
	rows := g.Rows()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "raster", input: g.String()},
		{name: "spaced rows", input: "1 0 0 0 1\n0 0 0 0 0\n0 0 0 0 0\n1 0 0 1 1\n1 0 0 1 1"},
		{
			name: "labelled rows",
			input: "Row 0: " + rows[0] + "\nRow 1: " + rows[1] + "\nRow 2: " + rows[2] +
				"\nRow 3: " + rows[3] + "\nRow 4: " + rows[4],
		},
		{name: "short labels and lists", input: "R0 [1,0,0,0,1]\nR1 [0,0,0,0,0]\nR2 [0,0,0,0,0]\nR3 [1,0,0,1,1]\nR4 [1,0,0,1,1]"},
		{name: "single row", input: "10001", wantErr: true},
		{name: "too many cells", input: g.String() + "1", wantErr: true},
		{name: "labelled single row", input: "Row 0: 10001", wantErr: true},
		{name: "prose", input: "grid is " + g.String(), wantErr: true},
		{name: "other digits", input: strings.Replace(g.String(), "0", "2", 1), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseGrid(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidGrid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, g, parsed)
			assert.Equal(t, uint32(76), Decode(parsed).ID)
		})
	}
}

func TestDots(t *testing.T) {
	g, err := Encode(0)
	require.NoError(t, err)
	assert.Equal(t, []Cell{{0, 0}, {0, 4}, {4, 0}, {4, 4}}, g.Dots())
}
