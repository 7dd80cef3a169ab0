package handlers

import (
	"bytes"
	"io"
	"time"

	"github.com/amirphl/Kusanagi/app/dto"
	businessflow "github.com/amirphl/Kusanagi/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// ElementConfigHandlerInterface defines the placement table endpoints
type ElementConfigHandlerInterface interface {
	UpsertElementConfig(c fiber.Ctx) error
	ListElementConfigs(c fiber.Ctx) error
	ImportElementConfigs(c fiber.Ctx) error
	SetCalibration(c fiber.Ctx) error
}

// ElementConfigHandler handles element placement and calibration requests
type ElementConfigHandler struct {
	responder
	configs   businessflow.ElementConfigFlow
	placement businessflow.PlacementFlow
	validator *validator.Validate
}

func NewElementConfigHandler(configs businessflow.ElementConfigFlow, placement businessflow.PlacementFlow, logger *zap.Logger, timeout time.Duration) ElementConfigHandlerInterface {
	return &ElementConfigHandler{
		responder: newResponder(logger, timeout),
		configs:   configs,
		placement: placement,
		validator: validator.New(),
	}
}

// UpsertElementConfig replaces the active placement of one element.
// @Summary Upsert element config
// @Tags Element Configs
// @Accept json
// @Produce json
// @Param request body dto.UpsertElementConfigRequest true "Element placement"
// @Success 200 {object} dto.APIResponse{data=dto.ElementConfigItem}
// @Router /api/v1/element-configs [post]
func (h *ElementConfigHandler) UpsertElementConfig(c fiber.Ctx) error {
	var req dto.UpsertElementConfigRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ValidationError(c, err)
	}
	ctx, cancel := h.requestContext(c, "/api/v1/element-configs")
	defer cancel()

	res, err := h.configs.Upsert(ctx, &req)
	if err != nil {
		return h.FlowError(c, err, "Failed to store element config", "ELEMENT_CONFIG_SAVE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Element config saved", res)
}

// ListElementConfigs lists the active placements of a design.
// @Summary List element configs
// @Tags Element Configs
// @Produce json
// @Param design path string true "Design"
// @Success 200 {object} dto.APIResponse{data=dto.ListElementConfigsResponse}
// @Router /api/v1/element-configs/{design} [get]
func (h *ElementConfigHandler) ListElementConfigs(c fiber.Ctx) error {
	ctx, cancel := h.requestContext(c, "/api/v1/element-configs/:design")
	defer cancel()

	res, err := h.configs.ListByDesign(ctx, c.Params("design"))
	if err != nil {
		return h.FlowError(c, err, "Failed to list element configs", "ELEMENT_CONFIG_LIST_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Element configs retrieved", res)
}

// ImportElementConfigs applies a TOML seed file, sent either as the "file"
// form field or as the raw request body.
// @Summary Import element configs
// @Tags Element Configs
// @Accept mpfd
// @Accept application/toml
// @Produce json
// @Param file formData file false "TOML seed file"
// @Success 200 {object} dto.APIResponse{data=dto.ImportElementConfigsResponse}
// @Router /api/v1/element-configs/import [post]
func (h *ElementConfigHandler) ImportElementConfigs(c fiber.Ctx) error {
	var src io.Reader
	if fileHeader, err := c.FormFile("file"); err == nil && fileHeader != nil {
		file, err := fileHeader.Open()
		if err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "invalid file", "INVALID_FILE", err.Error())
		}
		defer file.Close()
		src = file
	} else if body := c.Body(); len(body) > 0 {
		src = bytes.NewReader(body)
	} else {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "seed file is required", "INVALID_FILE", nil)
	}

	ctx, cancel := h.requestContext(c, "/api/v1/element-configs/import")
	defer cancel()

	res, err := h.configs.ImportTOML(ctx, src)
	if err != nil {
		return h.FlowError(c, err, "Failed to import element configs", "ELEMENT_CONFIG_SAVE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Element configs imported", res)
}

// SetCalibration stores the canvas offsets of a design.
// @Summary Set design calibration
// @Tags Element Configs
// @Accept json
// @Produce json
// @Param design path string true "Design"
// @Param request body dto.UpsertCalibrationRequest true "Offsets in mm"
// @Success 200 {object} dto.APIResponse{data=dto.CalibrationResponse}
// @Router /api/v1/calibrations/{design} [put]
func (h *ElementConfigHandler) SetCalibration(c fiber.Ctx) error {
	var req dto.UpsertCalibrationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	ctx, cancel := h.requestContext(c, "/api/v1/calibrations/:design")
	defer cancel()

	res, err := h.placement.SetCalibration(ctx, c.Params("design"), &req)
	if err != nil {
		return h.FlowError(c, err, "Failed to store calibration", "CALIBRATION_SAVE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Calibration saved", res)
}
