// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/amirphl/Kusanagi/app/dto"
	businessflow "github.com/amirphl/Kusanagi/business_flow"
	"github.com/amirphl/Kusanagi/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"go.uber.org/zap"
)

// codeStatus maps business error codes to HTTP statuses. Unknown codes are 500.
var codeStatus = map[string]int{
	"INVALID_PACKING":          fiber.StatusBadRequest,
	"NO_ELIGIBLE_MODULES":      fiber.StatusBadRequest,
	"INVALID_ELEMENT_CONFIG":   fiber.StatusBadRequest,
	"INVALID_SEED_FILE":        fiber.StatusBadRequest,
	"INVALID_IDENTIFIER":       fiber.StatusBadRequest,
	"INVALID_GRID":             fiber.StatusBadRequest,
	"INVALID_IMAGE":            fiber.StatusBadRequest,
	"INVALID_SERIAL":           fiber.StatusBadRequest,
	"DESIGN_REQUIRED":          fiber.StatusBadRequest,
	"CALIBRATION_OUT_OF_RANGE": fiber.StatusBadRequest,

	"BATCH_NOT_FOUND":      fiber.StatusNotFound,
	"ARRAY_NOT_FOUND":      fiber.StatusNotFound,
	"MODULE_ROW_NOT_FOUND": fiber.StatusNotFound,
	"SERIAL_NOT_FOUND":     fiber.StatusNotFound,

	"BATCH_NOT_IN_PROGRESS":     fiber.StatusConflict,
	"BATCH_HAS_PENDING_ROWS":    fiber.StatusConflict,
	"MODULE_ROW_NOT_PENDING":    fiber.StatusConflict,
	"NO_PENDING_ROWS":           fiber.StatusConflict,
	"SERIAL_CAPACITY_EXHAUSTED": fiber.StatusConflict,

	"MISSING_ELEMENT_CONFIG": fiber.StatusUnprocessableEntity,
	"GRID_NOT_FOUND":         fiber.StatusUnprocessableEntity,

	"VISION_UNAVAILABLE":    fiber.StatusBadGateway,
	"VISION_NOT_CONFIGURED": fiber.StatusServiceUnavailable,
}

// responder carries the response helpers every handler shares
type responder struct {
	logger  *zap.Logger
	timeout time.Duration
}

func newResponder(logger *zap.Logger, timeout time.Duration) responder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = utils.DefaultRequestTimeout
	}
	return responder{logger: logger, timeout: timeout}
}

func (r responder) ErrorResponse(c fiber.Ctx, status int, message, code string, details any) error {
	return c.Status(status).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    code,
			Details: details,
		},
	})
}

func (r responder) SuccessResponse(c fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// FlowError renders an error returned by a business flow. Business errors keep
// their code; anything else is logged and reported as fallbackCode.
func (r responder) FlowError(c fiber.Ctx, err error, fallbackMessage, fallbackCode string) error {
	if errors.Is(err, businessflow.ErrConcurrentAllocationConflict) {
		return r.ErrorResponse(c, fiber.StatusConflict, "Serial allocation is busy, retry the request", "ALLOCATION_CONFLICT", nil)
	}

	var be *businessflow.BusinessError
	if errors.As(err, &be) {
		if status, ok := codeStatus[be.Code]; ok {
			var details any
			var missing *businessflow.MissingElementConfigError
			if errors.As(err, &missing) {
				details = missing.Missing
			} else if be.Err != nil && status < fiber.StatusInternalServerError {
				details = be.Err.Error()
			}
			return r.ErrorResponse(c, status, be.Message, be.Code, details)
		}
		fallbackCode = be.Code
	}

	r.logger.Error(fallbackMessage,
		zap.String("code", fallbackCode),
		zap.String("path", c.Path()),
		zap.String("request_id", requestid.FromContext(c)),
		zap.Error(err),
	)
	return r.ErrorResponse(c, fiber.StatusInternalServerError, fallbackMessage, fallbackCode, nil)
}

// ValidationError renders validator failures as readable messages
func (r responder) ValidationError(c fiber.Ctx, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return r.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", err.Error())
	}
	messages := make([]string, 0, len(verrs))
	for _, e := range verrs {
		messages = append(messages, getValidationErrorMessage(e))
	}
	return r.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", messages)
}

// requestContext carries request metadata into the flows under the server's
// request timeout
func (r responder) requestContext(c fiber.Ctx, endpoint string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(c.Context(), r.timeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, requestid.FromContext(c))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	return ctx, cancel
}

// positiveParam parses a path parameter that must be a positive integer
func positiveParam(c fiber.Ctx, name string) (int, bool) {
	v, err := strconv.Atoi(c.Params(name))
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "min":
		if err.Kind().String() == "slice" {
			return err.Field() + " must contain at least " + err.Param() + " items"
		}
		return err.Field() + " must be at least " + err.Param()
	case "max":
		return err.Field() + " must be at most " + err.Param() + " characters"
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", err.Field(), err.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}
