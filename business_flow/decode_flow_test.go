package businessflow

import (
	"context"
	"errors"
	"testing"

	"github.com/amirphl/Kusanagi/app/dto"
	"github.com/amirphl/Kusanagi/app/services"
	"github.com/amirphl/Kusanagi/microid"
	"github.com/amirphl/Kusanagi/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVision struct {
	grid  string
	err   error
	calls int
	mime  string
}

func (v *fakeVision) ReadGrid(ctx context.Context, image []byte, mime string) (*services.GridReading, error) {
	v.calls++
	v.mime = mime
	if v.err != nil {
		return nil, v.err
	}
	return &services.GridReading{Grid: v.grid, Model: "fake/vision"}, nil
}

type fakePreparer struct{ err error }

func (p fakePreparer) Prepare(raw []byte) (*services.PreparedImage, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &services.PreparedImage{Data: raw, Mime: "image/png"}, nil
}

func gridString(t *testing.T, id uint32) string {
	t.Helper()
	g, err := microid.Encode(id)
	require.NoError(t, err)
	return g.String()
}

func TestEncode(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.decoder.Encode(context.Background(), &dto.EncodeMicroIDRequest{ID: 76})
	require.NoError(t, err)
	assert.Equal(t, "00000076", resp.Serial)
	assert.Equal(t, gridString(t, 76), resp.Grid)
	assert.Len(t, resp.Rows, 5)
	// 76 = 0b1001100 sets three data bits, so parity is set
	assert.True(t, resp.Parity)
	assert.Len(t, resp.Dots, 8)

	_, err = env.decoder.Encode(context.Background(), &dto.EncodeMicroIDRequest{ID: 1 << 20})
	assert.ErrorIs(t, err, microid.ErrInvalidIdentifier)
}

func TestDecodeGridConfidence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	grid := []byte(gridString(t, 76))

	flip := func(i int) string {
		g := append([]byte(nil), grid...)
		if g[i] == '1' {
			g[i] = '0'
		} else {
			g[i] = '1'
		}
		return string(g)
	}

	tests := []struct {
		name       string
		grid       string
		confidence string
		usable     bool
	}{
		{"clean", string(grid), "HIGH", true},
		{"data bit flipped", flip(7), "LOW", false},
		{"anchor cleared", flip(0), "ERROR", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := env.decoder.DecodeGrid(ctx, &dto.DecodeMicroIDRequest{Grid: tt.grid})
			require.NoError(t, err)
			assert.Equal(t, tt.confidence, resp.Confidence)
			assert.Equal(t, tt.usable, resp.Usable)
			assert.Equal(t, "grid", resp.Source)
			assert.Nil(t, resp.Ledger)
		})
	}

	_, err := env.decoder.DecodeGrid(ctx, &dto.DecodeMicroIDRequest{Grid: "0101"})
	require.Error(t, err)
	assert.Equal(t, "INVALID_GRID", businessCode(t, err))
}

func TestDecodeGridAttachesLedgerEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.ledger.Reserve(ctx, nil, 80)
	require.NoError(t, err)

	resp, err := env.decoder.DecodeGrid(ctx, &dto.DecodeMicroIDRequest{Grid: gridString(t, 76)})
	require.NoError(t, err)
	require.NotNil(t, resp.Ledger)
	assert.Equal(t, "00000076", resp.Ledger.Serial)
	assert.Equal(t, models.SerialStatusReserved.String(), resp.Ledger.Status)
	assert.Nil(t, resp.Ledger.BatchUUID)

	// id 0 is never issued, decode still succeeds without a ledger entry
	resp, err = env.decoder.DecodeGrid(ctx, &dto.DecodeMicroIDRequest{Grid: gridString(t, 0)})
	require.NoError(t, err)
	assert.True(t, resp.Usable)
	assert.Nil(t, resp.Ledger)
}

func TestDecodeImage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.decoder.DecodeImage(ctx, []byte("img"))
	assert.ErrorIs(t, err, ErrVisionNotConfigured)

	vision := &fakeVision{grid: gridString(t, 1048575)}
	flow := NewDecodeFlow(env.ledger, nil, nil, vision, fakePreparer{}, nil)

	resp, err := flow.DecodeImage(ctx, []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, "01048575", resp.Serial)
	assert.Equal(t, "HIGH", resp.Confidence)
	assert.Equal(t, "image", resp.Source)
	assert.Equal(t, "fake/vision", resp.Model)
	assert.Equal(t, "image/png", vision.mime)

	bad := NewDecodeFlow(env.ledger, nil, nil, vision, fakePreparer{err: errors.New("corrupt")}, nil)
	_, err = bad.DecodeImage(ctx, []byte("img"))
	assert.ErrorIs(t, err, ErrInvalidImage)
	assert.Equal(t, 1, vision.calls)

	blind := NewDecodeFlow(env.ledger, nil, nil, &fakeVision{err: services.ErrVisionNoGrid}, nil, nil)
	_, err = blind.DecodeImage(ctx, []byte("img"))
	assert.Equal(t, "GRID_NOT_FOUND", businessCode(t, err))

	down := NewDecodeFlow(env.ledger, nil, nil, &fakeVision{err: services.ErrVisionUnavailable}, nil, nil)
	_, err = down.DecodeImage(ctx, []byte("img"))
	assert.Equal(t, "VISION_UNAVAILABLE", businessCode(t, err))
}

func TestLookupSerial(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.decoder.LookupSerial(ctx, "abc")
	assert.Equal(t, "INVALID_SERIAL", businessCode(t, err))

	_, err = env.decoder.LookupSerial(ctx, "2000000")
	assert.Equal(t, "INVALID_SERIAL", businessCode(t, err))

	_, err = env.decoder.LookupSerial(ctx, "00000042")
	assert.ErrorIs(t, err, ErrSerialNotFound)
	assert.Equal(t, "SERIAL_NOT_FOUND", businessCode(t, err))
}
