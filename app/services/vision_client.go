package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/amirphl/Kusanagi/microid"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var (
	ErrVisionUnavailable = errors.New("vision service unavailable")
	ErrVisionNoGrid      = errors.New("vision reply holds no readable grid")
)

const gridPrompt = `This image shows a 5x5 grid with dots (circles) in some cells.

Look at each cell in the 5x5 grid. Mark each cell as 1 if there's a dot, 0 if empty.
Read left to right, top to bottom.

Respond with JSON:
` + "```json" + `
{
  "grid": "25-character binary string",
  "row0": "[X][X][X][X][X]",
  "row1": "[X][X][X][X][X]",
  "row2": "[X][X][X][X][X]",
  "row3": "[X][X][X][X][X]",
  "row4": "[X][X][X][X][X]"
}
` + "```"

// VisionConfig configures the vision model endpoint
type VisionConfig struct {
	APIURL     string
	APIKey     string
	Model      string
	Referer    string
	Timeout    time.Duration
	RetryCount int
	RetryWait  time.Duration
}

// GridReading is the dot grid a vision model read from an image
type GridReading struct {
	Grid  string   `json:"grid"`
	Rows  []string `json:"rows"`
	Model string   `json:"model"`
	Raw   string   `json:"raw,omitempty"`
}

// VisionClient reads Micro-ID dot grids from images
type VisionClient interface {
	ReadGrid(ctx context.Context, image []byte, mime string) (*GridReading, error)
}

// ChatVisionClient talks to an OpenAI-compatible chat completions endpoint
type ChatVisionClient struct {
	httpClient *resty.Client
	apiURL     string
	model      string
	logger     *zap.Logger
}

func NewVisionClient(cfg VisionConfig, logger *zap.Logger) *ChatVisionClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = time.Second
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryWait*5).
		AddRetryCondition(retryTransient).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("X-Title", "Kusanagi Micro-ID Decoder")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	if cfg.Referer != "" {
		client.SetHeader("HTTP-Referer", cfg.Referer)
	}

	return &ChatVisionClient{httpClient: client, apiURL: strings.TrimSpace(cfg.APIURL), model: cfg.Model, logger: logger}
}

func retryTransient(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return false
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

type chatContent struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ReadGrid sends image to the model and parses the grid from its reply
func (c *ChatVisionClient) ReadGrid(ctx context.Context, image []byte, mime string) (*GridReading, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("empty image: %w", ErrVisionNoGrid)
	}
	if mime == "" {
		mime = "image/png"
	}

	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContent{
				{Type: "image_url", ImageURL: &chatImageURL{URL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)}},
				{Type: "text", Text: gridPrompt},
			},
		}},
		MaxTokens:   1024,
		Temperature: 0.1,
	}

	started := time.Now()
	var out chatResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post(c.apiURL)
	if err != nil {
		c.logger.Error("Vision API call failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrVisionUnavailable, err)
	}
	if resp.IsError() {
		c.logger.Error("Vision API returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", truncate(resp.String(), 200)),
		)
		return nil, fmt.Errorf("%w: status %d", ErrVisionUnavailable, resp.StatusCode())
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("no choices in reply: %w", ErrVisionNoGrid)
	}

	text := out.Choices[0].Message.Content
	reading, err := ParseGridReply(text)
	if err != nil {
		c.logger.Warn("Vision reply unreadable", zap.String("reply", truncate(text, 200)), zap.Error(err))
		return nil, err
	}
	reading.Model = out.Model
	if reading.Model == "" {
		reading.Model = c.model
	}

	c.logger.Info("Vision grid read",
		zap.String("model", reading.Model),
		zap.String("grid", reading.Grid),
		zap.Duration("elapsed", time.Since(started)),
	)
	return reading, nil
}

var (
	fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	bareJSON   = regexp.MustCompile(`(?s)(\{[^{}]*"(?:grid|row0)"[^{}]*\})`)
)

type gridReply struct {
	Grid string `json:"grid"`
	Row0 string `json:"row0"`
	Row1 string `json:"row1"`
	Row2 string `json:"row2"`
	Row3 string `json:"row3"`
	Row4 string `json:"row4"`
}

// ParseGridReply extracts the grid from a model reply. A fenced json block is
// preferred over a bare object. The 25-character grid field wins; the row
// fields are used when it is missing or malformed.
func ParseGridReply(text string) (*GridReading, error) {
	var reply gridReply
	found := false
	for _, re := range []*regexp.Regexp{fencedJSON, bareJSON} {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if err := json.Unmarshal([]byte(m[1]), &reply); err == nil {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrVisionNoGrid
	}

	g, err := microid.ParseGrid(reply.Grid)
	if err != nil {
		rows := reply.Row0 + reply.Row1 + reply.Row2 + reply.Row3 + reply.Row4
		if g, err = microid.ParseGrid(rows); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrVisionNoGrid, err)
		}
	}
	return &GridReading{Grid: g.String(), Rows: g.Rows(), Raw: text}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
