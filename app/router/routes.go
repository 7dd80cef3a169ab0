// Package router provides HTTP routing, middleware configuration, and server setup for the web application
package router

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/amirphl/Kusanagi/app/dto"
	"github.com/amirphl/Kusanagi/app/handlers"
	"github.com/amirphl/Kusanagi/app/middleware"
	"github.com/amirphl/Kusanagi/config"
	"github.com/amirphl/Kusanagi/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/compress"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"go.uber.org/zap"
)

const healthPath = "/api/v1/health"

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	Start(address string) error
	GetApp() *fiber.App
}

// Handlers bundles the endpoint handlers the router mounts
type Handlers struct {
	Batch         handlers.BatchHandlerInterface
	MicroID       handlers.MicroIDHandlerInterface
	ElementConfig handlers.ElementConfigHandlerInterface
	Health        *handlers.HealthHandler
}

// FiberRouter implements Router using Fiber v3
type FiberRouter struct {
	app      *fiber.App
	handlers Handlers
	server   config.ServerConfig
	security config.SecurityConfig
	metrics  config.MetricsConfig
	logger   *zap.Logger
}

// NewFiberRouter creates a new Fiber router
func NewFiberRouter(h Handlers, cfg *config.ProductionConfig, logger *zap.Logger) *FiberRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &FiberRouter{
		handlers: h,
		server:   cfg.Server,
		security: cfg.Security,
		metrics:  cfg.Metrics,
		logger:   logger,
	}
	r.app = fiber.New(fiber.Config{
		AppName:      "Kusanagi API",
		ServerHeader: "Kusanagi",
		ErrorHandler: r.errorHandler,
		BodyLimit:    cfg.Server.BodyLimit,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	return r
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	r.setupMiddleware()

	if r.metrics.Enabled {
		r.app.Get(r.metrics.Path, middleware.MetricsHandler())
	}

	api := r.app.Group("/api/v1")

	// Health check route (no rate limiting, no API key)
	api.Get("/health", r.handlers.Health.Health)

	api.Use(limiter.New(limiter.Config{
		Max:          r.security.GlobalRateLimit,
		Expiration:   r.security.RateLimitWindow,
		KeyGenerator: func(c fiber.Ctx) string { return c.IP() },
		LimitReached: rateLimited,
		Next:         func(c fiber.Ctx) bool { return c.Path() == healthPath },
	}))
	api.Use(middleware.NewAPIKeyMiddleware(
		r.security.RequireAPIKey, r.security.APIKeyHeader, r.security.AllowedAPIKeys, healthPath,
	).Authenticate())

	batches := api.Group("/batches")
	batches.Post("/preview", r.handlers.Batch.PreviewBatch)
	batches.Post("/", r.handlers.Batch.CreateBatch)
	batches.Get("/:uuid", r.handlers.Batch.GetBatch)
	batches.Get("/:uuid/rows", r.handlers.Batch.ListRows)
	batches.Post("/:uuid/redistribute", r.handlers.Batch.RedistributeBatch)
	batches.Post("/:uuid/arrays/:seq/engraved", r.handlers.Batch.MarkArrayEngraved)
	batches.Get("/:uuid/arrays/:seq/render", r.handlers.Batch.RenderArray)
	batches.Post("/:uuid/rows/:id/void", r.handlers.Batch.VoidRow)
	batches.Post("/:uuid/complete", r.handlers.Batch.CompleteBatch)
	batches.Post("/:uuid/cancel", r.handlers.Batch.CancelBatch)
	batches.Get("/:uuid/manifest", r.handlers.Batch.DownloadManifest)

	microid := api.Group("/microid")
	microid.Post("/encode", r.handlers.MicroID.Encode)
	microid.Post("/decode", r.handlers.MicroID.Decode)
	// Image decodes call a paid vision model; keep them on a tighter budget
	microid.Post("/decode-image", limiter.New(limiter.Config{
		Max:          r.security.DecodeRateLimit,
		Expiration:   r.security.RateLimitWindow,
		KeyGenerator: func(c fiber.Ctx) string { return c.IP() },
		LimitReached: rateLimited,
	}), r.handlers.MicroID.DecodeImage)

	api.Get("/serials/:serial", r.handlers.MicroID.LookupSerial)

	configs := api.Group("/element-configs")
	configs.Post("/import", r.handlers.ElementConfig.ImportElementConfigs)
	configs.Post("/", r.handlers.ElementConfig.UpsertElementConfig)
	configs.Get("/:design", r.handlers.ElementConfig.ListElementConfigs)

	api.Put("/calibrations/:design", r.handlers.ElementConfig.SetCalibration)

	// Not found handler
	r.app.Use(r.notFoundHandler)

	r.logger.Info("Routes configured successfully")
}

// setupMiddleware configures global middleware
func (r *FiberRouter) setupMiddleware() {
	// Request ID middleware - must be first
	r.app.Use(requestid.New(requestid.Config{
		Header:    "X-Request-ID",
		Generator: generateRequestID,
	}))

	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			r.logger.Error("panic recovered",
				zap.String("request_id", requestid.FromContext(c)),
				zap.Any("error", e),
				zap.String("path", c.Path()),
				zap.String("method", c.Method()),
				zap.String("ip", c.IP()),
			)
		},
	}))

	r.app.Use(middleware.Metrics())

	r.app.Use(helmet.New(helmet.Config{
		XSSProtection:             "1; mode=block",
		ContentTypeNosniff:        "nosniff",
		XFrameOptions:             "DENY",
		ReferrerPolicy:            "strict-origin-when-cross-origin",
		CrossOriginResourcePolicy: "cross-origin",
	}))

	r.app.Use(cors.New(cors.Config{
		AllowOrigins:  r.security.AllowedOrigins,
		AllowMethods:  r.security.AllowedMethods,
		AllowHeaders:  r.security.AllowedHeaders,
		ExposeHeaders: []string{"X-Request-ID", "Content-Disposition"},
		MaxAge:        r.security.CORSMaxAge,
	}))

	if r.server.EnableCompression {
		r.app.Use(compress.New(compress.Config{
			Level: compress.LevelBestSpeed,
			Next: func(c fiber.Ctx) bool {
				// Images and XLSX files are already compressed
				return strings.HasPrefix(c.Get(fiber.HeaderContentType), "image/") ||
					strings.HasSuffix(c.Path(), "/manifest")
			},
		}))
	}

	// Access log
	r.app.Use(func(c fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if c.Path() == healthPath {
			return err
		}
		r.logger.Info("request",
			zap.String("request_id", requestid.FromContext(c)),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.IP()),
			zap.String("user_agent", c.Get(fiber.HeaderUserAgent)),
		)
		return err
	})

	r.app.Use(r.securityMiddleware)
}

// securityMiddleware blocks configured addresses
func (r *FiberRouter) securityMiddleware(c fiber.Ctx) error {
	if slices.Contains(r.security.IPBlacklist, c.IP()) {
		return c.Status(fiber.StatusForbidden).JSON(dto.APIResponse{
			Success: false,
			Message: "Access denied from this IP address",
			Error: dto.ErrorDetail{
				Code: "ACCESS_DENIED",
			},
		})
	}
	return c.Next()
}

// Start starts the HTTP server
func (r *FiberRouter) Start(address string) error {
	r.logger.Info("Starting server", zap.String("address", address))
	return r.app.Listen(address)
}

// GetApp returns the Fiber app instance
func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

func rateLimited(c fiber.Ctx) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
		Success: false,
		Message: "Too many requests. Please try again later.",
		Error: dto.ErrorDetail{
			Code: "RATE_LIMIT_EXCEEDED",
		},
	})
}

// notFoundHandler answers unmatched routes
func (r *FiberRouter) notFoundHandler(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
		Success: false,
		Message: "The requested resource was not found",
		Error: dto.ErrorDetail{
			Code: "NOT_FOUND",
			Details: fiber.Map{
				"path":       c.Path(),
				"method":     c.Method(),
				"request_id": requestid.FromContext(c),
			},
		},
	})
}

// errorHandler renders errors that escaped the handlers
func (r *FiberRouter) errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "An internal server error occurred"
	errCode := "INTERNAL_ERROR"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		if code < fiber.StatusInternalServerError {
			message = e.Message
			errCode = "REQUEST_REJECTED"
		}
	}

	r.logger.Error("request failed", zap.Int("status", code), zap.String("path", c.Path()), zap.Error(err))

	return c.Status(code).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code: errCode,
			Details: fiber.Map{
				"timestamp":  utils.UTCNow().Unix(),
				"request_id": requestid.FromContext(c),
			},
		},
	})
}

// generateRequestID creates a unique request ID
func generateRequestID() string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
