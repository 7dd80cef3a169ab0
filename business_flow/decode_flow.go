package businessflow

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/Kusanagi/app/dto"
	"github.com/amirphl/Kusanagi/app/services"
	"github.com/amirphl/Kusanagi/microid"
	"github.com/amirphl/Kusanagi/models"
	"github.com/amirphl/Kusanagi/repository"
	"github.com/amirphl/Kusanagi/utils"
	"go.uber.org/zap"
)

// ImagePreparer normalizes a capture before it is sent for decoding
type ImagePreparer interface {
	Prepare(raw []byte) (*services.PreparedImage, error)
}

// DecodeFlow encodes and decodes Micro-ID grids and traces serials
type DecodeFlow interface {
	Encode(ctx context.Context, req *dto.EncodeMicroIDRequest) (*dto.EncodeMicroIDResponse, error)
	DecodeGrid(ctx context.Context, req *dto.DecodeMicroIDRequest) (*dto.DecodeMicroIDResponse, error)
	DecodeImage(ctx context.Context, image []byte) (*dto.DecodeMicroIDResponse, error)
	LookupSerial(ctx context.Context, serial string) (*dto.SerialLookupResponse, error)
}

// DecodeFlowImpl implements DecodeFlow. The vision client is optional; without
// it image decodes fail with ErrVisionNotConfigured.
type DecodeFlowImpl struct {
	ledger    SerialLedger
	rowRepo   repository.ModuleRowRepository
	batchRepo repository.EngravingBatchRepository
	vision    services.VisionClient
	preparer  ImagePreparer
	logger    *zap.Logger
}

func NewDecodeFlow(
	ledger SerialLedger,
	rowRepo repository.ModuleRowRepository,
	batchRepo repository.EngravingBatchRepository,
	vision services.VisionClient,
	preparer ImagePreparer,
	logger *zap.Logger,
) DecodeFlow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecodeFlowImpl{
		ledger:    ledger,
		rowRepo:   rowRepo,
		batchRepo: batchRepo,
		vision:    vision,
		preparer:  preparer,
		logger:    logger,
	}
}

// Encode returns the grid of an identifier in raster, row and dot form
func (f *DecodeFlowImpl) Encode(ctx context.Context, req *dto.EncodeMicroIDRequest) (*dto.EncodeMicroIDResponse, error) {
	g, err := microid.EncodeInt(req.ID)
	if err != nil {
		return nil, NewBusinessError("INVALID_IDENTIFIER", "identifier must be between 0 and 1048575", err)
	}
	dots := make([][2]int, 0, microid.Size*microid.Size)
	for _, c := range g.Dots() {
		dots = append(dots, [2]int{c.Row, c.Col})
	}
	return &dto.EncodeMicroIDResponse{
		ID:     req.ID,
		Serial: models.FormatSerial(req.ID),
		Grid:   g.String(),
		Rows:   g.Rows(),
		Dots:   dots,
		Parity: g[microid.ParityCell.Row][microid.ParityCell.Col],
	}, nil
}

// DecodeGrid decodes a grid typed in or read elsewhere
func (f *DecodeFlowImpl) DecodeGrid(ctx context.Context, req *dto.DecodeMicroIDRequest) (*dto.DecodeMicroIDResponse, error) {
	g, err := microid.ParseGrid(req.Grid)
	if err != nil {
		return nil, NewBusinessError("INVALID_GRID", "grid must contain exactly 25 cells of 0 or 1", err)
	}
	return f.decode(ctx, g, decodeSourceGrid, ""), nil
}

// DecodeImage preprocesses a capture, asks the vision model for its grid and
// decodes it. The ledger is never written.
func (f *DecodeFlowImpl) DecodeImage(ctx context.Context, image []byte) (*dto.DecodeMicroIDResponse, error) {
	if f.vision == nil {
		return nil, NewBusinessError("VISION_NOT_CONFIGURED", "image decoding is not configured", ErrVisionNotConfigured)
	}

	data, mime := image, ""
	if f.preparer != nil {
		prepared, err := f.preparer.Prepare(image)
		if err != nil {
			return nil, NewBusinessError("INVALID_IMAGE", "image could not be read", errors.Join(ErrInvalidImage, err))
		}
		data, mime = prepared.Data, prepared.Mime
	}

	started := time.Now()
	reading, err := f.vision.ReadGrid(ctx, data, mime)
	if err != nil {
		if errors.Is(err, services.ErrVisionNoGrid) {
			microIDDecodesTotal.WithLabelValues(microid.ConfidenceError.String(), decodeSourceImage).Inc()
			return nil, NewBusinessError("GRID_NOT_FOUND", "no Micro-ID grid could be read from the image", err)
		}
		return nil, NewBusinessError("VISION_UNAVAILABLE", "vision service call failed", err)
	}
	g, err := microid.ParseGrid(reading.Grid)
	if err != nil {
		return nil, NewBusinessError("GRID_NOT_FOUND", "no Micro-ID grid could be read from the image", err)
	}

	resp := f.decode(ctx, g, decodeSourceImage, reading.Model)
	f.logger.Info("image decoded",
		zap.String("confidence", resp.Confidence),
		zap.String("serial", resp.Serial),
		zap.String("model", reading.Model),
		zap.Duration("elapsed", time.Since(started)),
	)
	return resp, nil
}

func (f *DecodeFlowImpl) decode(ctx context.Context, g microid.Grid, source, model string) *dto.DecodeMicroIDResponse {
	res := microid.Decode(g)
	microIDDecodesTotal.WithLabelValues(res.Confidence.String(), source).Inc()

	resp := &dto.DecodeMicroIDResponse{
		ID:           int64(res.ID),
		Serial:       res.Serial(),
		Confidence:   res.Confidence.String(),
		Usable:       res.Usable(),
		AnchorsValid: res.AnchorsValid,
		ParityValid:  res.ParityValid,
		Binary:       res.Binary,
		Rows:         g.Rows(),
		Source:       source,
		Model:        model,
	}
	if !res.Usable() || f.ledger == nil {
		return resp
	}

	ledger, err := f.lookup(ctx, int64(res.ID))
	if err != nil {
		if !errors.Is(err, ErrSerialNotFound) && !errors.Is(err, ErrInvalidSerialRange) {
			f.logger.Warn("serial lookup after decode failed", zap.String("serial", resp.Serial), zap.Error(err))
		}
		return resp
	}
	resp.Ledger = ledger
	return resp
}

// LookupSerial returns the ledger entry of a serial with the module carrying it
func (f *DecodeFlowImpl) LookupSerial(ctx context.Context, serial string) (*dto.SerialLookupResponse, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(serial), 10, 64)
	if err != nil {
		return nil, NewBusinessError("INVALID_SERIAL", "serial must be numeric", ErrInvalidSerialRange)
	}
	resp, err := f.lookup(ctx, n)
	if err != nil {
		switch {
		case errors.Is(err, ErrSerialNotFound):
			return nil, NewBusinessError("SERIAL_NOT_FOUND", "serial not found", err)
		case errors.Is(err, ErrInvalidSerialRange):
			return nil, NewBusinessError("INVALID_SERIAL", "serial out of range", err)
		}
		return nil, err
	}
	return resp, nil
}

func (f *DecodeFlowImpl) lookup(ctx context.Context, serial int64) (*dto.SerialLookupResponse, error) {
	entry, err := f.ledger.Lookup(ctx, serial)
	if err != nil {
		return nil, err
	}

	resp := &dto.SerialLookupResponse{
		Serial:     entry.SerialString(),
		Status:     entry.Status.String(),
		ReservedAt: utils.FormatRFC3339(entry.ReservedAt),
		EngravedAt: utils.FormatRFC3339Ptr(entry.EngravedAt),
		VoidedAt:   utils.FormatRFC3339Ptr(entry.VoidedAt),
	}
	if entry.BatchID != nil && f.batchRepo != nil {
		batch, err := f.batchRepo.ByID(ctx, *entry.BatchID)
		if err != nil {
			return nil, err
		}
		if batch != nil {
			id := batch.UUID.String()
			resp.BatchUUID = &id
		}
	}
	if f.rowRepo != nil {
		rows, err := f.rowRepo.ByFilter(ctx, models.ModuleRowFilter{Serial: &serial}, "", 1, 0)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			row := rows[0]
			resp.Design = &row.Design
			resp.SKU = &row.SKU
			resp.OrderRef = &row.OrderRef
			resp.ArraySequence = &row.ArraySequence
			resp.SlotPosition = &row.SlotPosition
		}
	}
	return resp, nil
}
