package handlers

import (
	"io"
	"time"

	"github.com/amirphl/Kusanagi/app/dto"
	businessflow "github.com/amirphl/Kusanagi/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// MicroIDHandlerInterface defines the Micro-ID and serial trace endpoints
type MicroIDHandlerInterface interface {
	Encode(c fiber.Ctx) error
	Decode(c fiber.Ctx) error
	DecodeImage(c fiber.Ctx) error
	LookupSerial(c fiber.Ctx) error
}

// MicroIDHandler handles Micro-ID encode/decode and serial lookups
type MicroIDHandler struct {
	responder
	flow      businessflow.DecodeFlow
	validator *validator.Validate
	maxUpload int64
}

func NewMicroIDHandler(flow businessflow.DecodeFlow, maxUpload int64, logger *zap.Logger, timeout time.Duration) MicroIDHandlerInterface {
	if maxUpload <= 0 {
		maxUpload = 10 * 1024 * 1024
	}
	return &MicroIDHandler{
		responder: newResponder(logger, timeout),
		flow:      flow,
		validator: validator.New(),
		maxUpload: maxUpload,
	}
}

// Encode returns the dot grid of an identifier.
// @Summary Encode Micro-ID
// @Tags Micro-ID
// @Accept json
// @Produce json
// @Param request body dto.EncodeMicroIDRequest true "Identifier"
// @Success 200 {object} dto.APIResponse{data=dto.EncodeMicroIDResponse}
// @Router /api/v1/microid/encode [post]
func (h *MicroIDHandler) Encode(c fiber.Ctx) error {
	var req dto.EncodeMicroIDRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ValidationError(c, err)
	}
	ctx, cancel := h.requestContext(c, "/api/v1/microid/encode")
	defer cancel()

	res, err := h.flow.Encode(ctx, &req)
	if err != nil {
		return h.FlowError(c, err, "Encode failed", "ENCODE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Micro-ID encoded", res)
}

// Decode decodes a typed grid. LOW and ERROR confidence are returned as data.
// @Summary Decode Micro-ID grid
// @Tags Micro-ID
// @Accept json
// @Produce json
// @Param request body dto.DecodeMicroIDRequest true "25-cell grid"
// @Success 200 {object} dto.APIResponse{data=dto.DecodeMicroIDResponse}
// @Router /api/v1/microid/decode [post]
func (h *MicroIDHandler) Decode(c fiber.Ctx) error {
	var req dto.DecodeMicroIDRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ValidationError(c, err)
	}
	ctx, cancel := h.requestContext(c, "/api/v1/microid/decode")
	defer cancel()

	res, err := h.flow.DecodeGrid(ctx, &req)
	if err != nil {
		return h.FlowError(c, err, "Decode failed", "DECODE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Micro-ID decoded", res)
}

// DecodeImage reads the grid from an uploaded photo of a module.
// @Summary Decode Micro-ID from image
// @Tags Micro-ID
// @Accept mpfd
// @Produce json
// @Param image formData file true "Photo of the Micro-ID"
// @Success 200 {object} dto.APIResponse{data=dto.DecodeMicroIDResponse}
// @Failure 422 {object} dto.APIResponse "No grid visible"
// @Failure 502 {object} dto.APIResponse "Vision service failed"
// @Failure 503 {object} dto.APIResponse "Image decoding disabled"
// @Router /api/v1/microid/decode-image [post]
func (h *MicroIDHandler) DecodeImage(c fiber.Ctx) error {
	fileHeader, err := c.FormFile("image")
	if err != nil || fileHeader == nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "image is required", "INVALID_FILE", nil)
	}
	if fileHeader.Size > h.maxUpload {
		return h.ErrorResponse(c, fiber.StatusRequestEntityTooLarge, "Image too large", "FILE_TOO_LARGE", fiber.Map{"max_bytes": h.maxUpload})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "invalid file", "INVALID_FILE", err.Error())
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload))
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "invalid file", "INVALID_FILE", err.Error())
	}

	ctx, cancel := h.requestContext(c, "/api/v1/microid/decode-image")
	defer cancel()

	res, err := h.flow.DecodeImage(ctx, data)
	if err != nil {
		return h.FlowError(c, err, "Image decode failed", "DECODE_IMAGE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Micro-ID decoded", res)
}

// LookupSerial traces a serial to its ledger entry and module.
// @Summary Look up serial
// @Tags Serials
// @Produce json
// @Param serial path string true "Serial number"
// @Success 200 {object} dto.APIResponse{data=dto.SerialLookupResponse}
// @Failure 404 {object} dto.APIResponse "Serial not found"
// @Router /api/v1/serials/{serial} [get]
func (h *MicroIDHandler) LookupSerial(c fiber.Ctx) error {
	ctx, cancel := h.requestContext(c, "/api/v1/serials/:serial")
	defer cancel()

	res, err := h.flow.LookupSerial(ctx, c.Params("serial"))
	if err != nil {
		return h.FlowError(c, err, "Serial lookup failed", "SERIAL_LOOKUP_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Serial found", res)
}
