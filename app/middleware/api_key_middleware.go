// Package middleware contains HTTP middleware functions for request processing
package middleware

import (
	"crypto/subtle"
	"slices"

	"github.com/amirphl/Kusanagi/app/dto"
	"github.com/gofiber/fiber/v3"
)

// APIKeyMiddleware guards the API with static keys from the security config
type APIKeyMiddleware struct {
	header  string
	keys    [][]byte
	enabled bool
	skip    []string
}

// NewAPIKeyMiddleware creates the guard. It lets everything through when
// enabled is false; paths in skip are never checked.
func NewAPIKeyMiddleware(enabled bool, header string, keys []string, skip ...string) *APIKeyMiddleware {
	if header == "" {
		header = "X-API-Key"
	}
	m := &APIKeyMiddleware{header: header, enabled: enabled, skip: skip}
	for _, k := range keys {
		if k != "" {
			m.keys = append(m.keys, []byte(k))
		}
	}
	return m
}

// Authenticate rejects requests without a known key
func (m *APIKeyMiddleware) Authenticate() fiber.Handler {
	return func(c fiber.Ctx) error {
		if !m.enabled || slices.Contains(m.skip, c.Path()) {
			return c.Next()
		}

		apiKey := c.Get(m.header)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "API key is required",
				Error: dto.ErrorDetail{
					Code: "MISSING_API_KEY",
				},
			})
		}
		if !m.valid([]byte(apiKey)) {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Invalid API key",
				Error: dto.ErrorDetail{
					Code: "INVALID_API_KEY",
				},
			})
		}

		c.Locals("api_key_authenticated", true)
		if requestID := c.Get("X-Request-ID"); requestID != "" {
			c.Locals("request_id", requestID)
		}
		return c.Next()
	}
}

func (m *APIKeyMiddleware) valid(key []byte) bool {
	ok := false
	for _, k := range m.keys {
		if subtle.ConstantTimeCompare(k, key) == 1 {
			ok = true
		}
	}
	return ok
}
