package router

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/amirphl/Kusanagi/app/dto"
	"github.com/amirphl/Kusanagi/app/handlers"
	businessflow "github.com/amirphl/Kusanagi/business_flow"
	"github.com/amirphl/Kusanagi/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "line-7-key"

func newTestRouter(t *testing.T) *FiberRouter {
	t.Helper()
	cfg := &config.ProductionConfig{
		Server: config.ServerConfig{BodyLimit: 1 << 20},
		Security: config.SecurityConfig{
			AllowedOrigins:  []string{"*"},
			AllowedMethods:  []string{"GET", "POST", "PUT"},
			AllowedHeaders:  []string{"Content-Type", "X-API-Key"},
			GlobalRateLimit: 100,
			DecodeRateLimit: 1,
			RateLimitWindow: time.Minute,
			RequireAPIKey:   true,
			APIKeyHeader:    "X-API-Key",
			AllowedAPIKeys:  []string{testAPIKey},
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}

	// Encode and image decode need neither a ledger nor a database
	decode := businessflow.NewDecodeFlow(nil, nil, nil, nil, nil, nil)
	r := NewFiberRouter(Handlers{
		Batch:         handlers.NewBatchHandler(nil, nil, 0),
		MicroID:       handlers.NewMicroIDHandler(decode, 0, nil, 0),
		ElementConfig: handlers.NewElementConfigHandler(nil, nil, nil, 0),
		Health:        handlers.NewHealthHandler("test", nil),
	}, cfg, nil)
	r.SetupRoutes()
	return r
}

func readCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var out dto.APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	detail, ok := out.Error.(map[string]any)
	if !ok {
		return ""
	}
	code, _ := detail["code"].(string)
	return code
}

func TestHealthSkipsAPIKey(t *testing.T) {
	app := newTestRouter(t).GetApp()

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestEncodeRequiresAPIKey(t *testing.T) {
	app := newTestRouter(t).GetApp()
	body := `{"id":76}`

	req := httptest.NewRequest("POST", "/api/v1/microid/encode", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "MISSING_API_KEY", readCode(t, resp))

	req = httptest.NewRequest("POST", "/api/v1/microid/encode", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Data dto.EncodeMicroIDResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "00000076", out.Data.Serial)
}

func TestNotFound(t *testing.T) {
	app := newTestRouter(t).GetApp()

	req := httptest.NewRequest("GET", "/api/v1/unknown", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", readCode(t, resp))
}

func TestDecodeImageRateLimit(t *testing.T) {
	app := newTestRouter(t).GetApp()

	upload := func() *http.Request {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		part, err := w.CreateFormFile("image", "capture.png")
		require.NoError(t, err)
		_, _ = part.Write([]byte("not-really-an-image"))
		require.NoError(t, w.Close())
		req := httptest.NewRequest("POST", "/api/v1/microid/decode-image", &buf)
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("X-API-Key", testAPIKey)
		return req
	}

	resp, err := app.Test(upload())
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "VISION_NOT_CONFIGURED", readCode(t, resp))

	resp, err = app.Test(upload())
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", readCode(t, resp))
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestRouter(t).GetApp()

	_, err := app.Test(httptest.NewRequest("GET", "/api/v1/health", nil))
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
