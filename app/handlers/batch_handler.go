package handlers

import (
	"fmt"
	"time"

	"github.com/amirphl/Kusanagi/app/dto"
	businessflow "github.com/amirphl/Kusanagi/business_flow"
	"github.com/amirphl/Kusanagi/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// BatchHandlerInterface defines the engraving batch endpoints
type BatchHandlerInterface interface {
	PreviewBatch(c fiber.Ctx) error
	CreateBatch(c fiber.Ctx) error
	GetBatch(c fiber.Ctx) error
	ListRows(c fiber.Ctx) error
	RedistributeBatch(c fiber.Ctx) error
	MarkArrayEngraved(c fiber.Ctx) error
	RenderArray(c fiber.Ctx) error
	VoidRow(c fiber.Ctx) error
	CompleteBatch(c fiber.Ctx) error
	CancelBatch(c fiber.Ctx) error
	DownloadManifest(c fiber.Ctx) error
}

// BatchHandler handles engraving batch requests
type BatchHandler struct {
	responder
	flow      businessflow.BatchFlow
	validator *validator.Validate
}

func NewBatchHandler(flow businessflow.BatchFlow, logger *zap.Logger, timeout time.Duration) BatchHandlerInterface {
	return &BatchHandler{
		responder: newResponder(logger, timeout),
		flow:      flow,
		validator: validator.New(),
	}
}

func (h *BatchHandler) bindCreate(c fiber.Ctx) (*dto.CreateBatchRequest, error) {
	var req dto.CreateBatchRequest
	if err := c.Bind().JSON(&req); err != nil {
		return nil, h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return nil, h.ValidationError(c, err)
	}
	return &req, nil
}

// PreviewBatch packs the selected supply without persisting anything.
// @Summary Preview batch packing
// @Tags Batches
// @Accept json
// @Produce json
// @Param request body dto.CreateBatchRequest true "Supply selection"
// @Success 200 {object} dto.APIResponse{data=dto.PreviewBatchResponse}
// @Failure 400 {object} dto.APIResponse "Validation error or nothing to engrave"
// @Router /api/v1/batches/preview [post]
func (h *BatchHandler) PreviewBatch(c fiber.Ctx) error {
	req, err := h.bindCreate(c)
	if req == nil {
		return err
	}
	ctx, cancel := h.requestContext(c, "/api/v1/batches/preview")
	defer cancel()

	res, err := h.flow.PreviewBatch(ctx, req)
	if err != nil {
		return h.FlowError(c, err, "Batch preview failed", "BATCH_PREVIEW_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Batch preview generated", res)
}

// CreateBatch reserves serials and persists the packed rows of a new batch.
// @Summary Create engraving batch
// @Tags Batches
// @Accept json
// @Produce json
// @Param request body dto.CreateBatchRequest true "Supply selection"
// @Success 201 {object} dto.APIResponse{data=dto.BatchResponse}
// @Failure 409 {object} dto.APIResponse "Serial space exhausted"
// @Failure 422 {object} dto.APIResponse "Missing element configuration"
// @Router /api/v1/batches [post]
func (h *BatchHandler) CreateBatch(c fiber.Ctx) error {
	req, err := h.bindCreate(c)
	if req == nil {
		return err
	}
	ctx, cancel := h.requestContext(c, "/api/v1/batches")
	defer cancel()

	res, err := h.flow.CreateBatch(ctx, req)
	if err != nil {
		return h.FlowError(c, err, "Batch creation failed", "BATCH_CREATE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Batch created", res)
}

// GetBatch returns one batch.
// @Summary Get batch
// @Tags Batches
// @Produce json
// @Param uuid path string true "Batch UUID"
// @Success 200 {object} dto.APIResponse{data=dto.BatchResponse}
// @Failure 404 {object} dto.APIResponse "Batch not found"
// @Router /api/v1/batches/{uuid} [get]
func (h *BatchHandler) GetBatch(c fiber.Ctx) error {
	ctx, cancel := h.requestContext(c, "/api/v1/batches/:uuid")
	defer cancel()

	res, err := h.flow.GetBatch(ctx, c.Params("uuid"))
	if err != nil {
		return h.FlowError(c, err, "Failed to load batch", "BATCH_GET_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Batch retrieved", res)
}

// ListRows returns the batch rows grouped by the array they were first packed into.
// @Summary List batch rows
// @Tags Batches
// @Produce json
// @Param uuid path string true "Batch UUID"
// @Success 200 {object} dto.APIResponse{data=dto.ListBatchRowsResponse}
// @Router /api/v1/batches/{uuid}/rows [get]
func (h *BatchHandler) ListRows(c fiber.Ctx) error {
	ctx, cancel := h.requestContext(c, "/api/v1/batches/:uuid/rows")
	defer cancel()

	res, err := h.flow.ListRowsByOriginalArray(ctx, c.Params("uuid"))
	if err != nil {
		return h.FlowError(c, err, "Failed to list batch rows", "BATCH_ROWS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Batch rows retrieved", res)
}

// RedistributeBatch repacks the pending rows around new faulty slots.
// @Summary Redistribute batch
// @Tags Batches
// @Accept json
// @Produce json
// @Param uuid path string true "Batch UUID"
// @Param request body dto.RedistributeBatchRequest true "Packing options"
// @Success 200 {object} dto.APIResponse{data=dto.RedistributeBatchResponse}
// @Router /api/v1/batches/{uuid}/redistribute [post]
func (h *BatchHandler) RedistributeBatch(c fiber.Ctx) error {
	var req dto.RedistributeBatchRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ValidationError(c, err)
	}
	ctx, cancel := h.requestContext(c, "/api/v1/batches/:uuid/redistribute")
	defer cancel()

	res, err := h.flow.RedistributeBatch(ctx, c.Params("uuid"), &req)
	if err != nil {
		return h.FlowError(c, err, "Batch redistribution failed", "BATCH_REDISTRIBUTE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Batch redistributed", res)
}

// MarkArrayEngraved confirms every pending module of one array.
// @Summary Mark array engraved
// @Tags Batches
// @Produce json
// @Param uuid path string true "Batch UUID"
// @Param seq path int true "Array sequence"
// @Success 200 {object} dto.APIResponse{data=dto.MarkArrayEngravedResponse}
// @Router /api/v1/batches/{uuid}/arrays/{seq}/engraved [post]
func (h *BatchHandler) MarkArrayEngraved(c fiber.Ctx) error {
	seq, ok := positiveParam(c, "seq")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Array sequence must be a positive integer", "INVALID_ARRAY_SEQUENCE", nil)
	}
	ctx, cancel := h.requestContext(c, "/api/v1/batches/:uuid/arrays/:seq/engraved")
	defer cancel()

	res, err := h.flow.MarkArrayEngraved(ctx, c.Params("uuid"), seq)
	if err != nil {
		return h.FlowError(c, err, "Failed to mark array engraved", "ARRAY_ENGRAVE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Array marked engraved", res)
}

// RenderArray returns the resolved placement of every element on one array.
// @Summary Render array
// @Tags Batches
// @Produce json
// @Param uuid path string true "Batch UUID"
// @Param seq path int true "Array sequence"
// @Success 200 {object} dto.APIResponse{data=dto.RenderArrayResponse}
// @Failure 422 {object} dto.APIResponse "Missing element configuration"
// @Router /api/v1/batches/{uuid}/arrays/{seq}/render [get]
func (h *BatchHandler) RenderArray(c fiber.Ctx) error {
	seq, ok := positiveParam(c, "seq")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Array sequence must be a positive integer", "INVALID_ARRAY_SEQUENCE", nil)
	}
	ctx, cancel := h.requestContext(c, "/api/v1/batches/:uuid/arrays/:seq/render")
	defer cancel()

	res, err := h.flow.RenderArray(ctx, c.Params("uuid"), seq)
	if err != nil {
		return h.FlowError(c, err, "Failed to render array", "ARRAY_RENDER_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Array rendered", res)
}

// VoidRow voids one pending module and its serial.
// @Summary Void module row
// @Tags Batches
// @Produce json
// @Param uuid path string true "Batch UUID"
// @Param id path int true "Module row ID"
// @Success 200 {object} dto.APIResponse{data=dto.VoidRowResponse}
// @Router /api/v1/batches/{uuid}/rows/{id}/void [post]
func (h *BatchHandler) VoidRow(c fiber.Ctx) error {
	id, ok := positiveParam(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Row ID must be a positive integer", "INVALID_ROW_ID", nil)
	}
	ctx, cancel := h.requestContext(c, "/api/v1/batches/:uuid/rows/:id/void")
	defer cancel()

	res, err := h.flow.VoidRow(ctx, c.Params("uuid"), uint(id))
	if err != nil {
		return h.FlowError(c, err, "Failed to void module row", "ROW_VOID_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Module row voided", res)
}

// CompleteBatch closes a batch that has no pending rows.
// @Summary Complete batch
// @Tags Batches
// @Produce json
// @Param uuid path string true "Batch UUID"
// @Success 200 {object} dto.APIResponse{data=dto.BatchResponse}
// @Failure 409 {object} dto.APIResponse "Batch still has pending rows"
// @Router /api/v1/batches/{uuid}/complete [post]
func (h *BatchHandler) CompleteBatch(c fiber.Ctx) error {
	ctx, cancel := h.requestContext(c, "/api/v1/batches/:uuid/complete")
	defer cancel()

	res, err := h.flow.CompleteBatch(ctx, c.Params("uuid"))
	if err != nil {
		return h.FlowError(c, err, "Failed to complete batch", "BATCH_COMPLETE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Batch completed", res)
}

// CancelBatch voids every pending row and closes the batch.
// @Summary Cancel batch
// @Tags Batches
// @Produce json
// @Param uuid path string true "Batch UUID"
// @Success 200 {object} dto.APIResponse{data=dto.BatchResponse}
// @Router /api/v1/batches/{uuid}/cancel [post]
func (h *BatchHandler) CancelBatch(c fiber.Ctx) error {
	ctx, cancel := h.requestContext(c, "/api/v1/batches/:uuid/cancel")
	defer cancel()

	res, err := h.flow.CancelBatch(ctx, c.Params("uuid"))
	if err != nil {
		return h.FlowError(c, err, "Failed to cancel batch", "BATCH_CANCEL_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Batch cancelled", res)
}

// DownloadManifest streams the operator manifest of a batch as XLSX.
// @Summary Download batch manifest
// @Tags Batches
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param uuid path string true "Batch UUID"
// @Success 200 {file} file
// @Router /api/v1/batches/{uuid}/manifest [get]
func (h *BatchHandler) DownloadManifest(c fiber.Ctx) error {
	ctx, cancel := h.requestContext(c, "/api/v1/batches/:uuid/manifest")
	defer cancel()

	name, data, err := h.flow.ExportManifest(ctx, c.Params("uuid"))
	if err != nil {
		return h.FlowError(c, err, "Failed to export manifest", "MANIFEST_EXPORT_FAILED")
	}
	c.Set(fiber.HeaderContentType, utils.ManifestContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Status(fiber.StatusOK).Send(data)
}
