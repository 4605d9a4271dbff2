package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/teslashibe/go-shopcam/internal/httpc"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 8 << 20

// Client calls POST {base}/predict. It never retries; the capture loop
// simply tries again on its next tick.
type Client struct {
	baseURL string
	quality int
	http    *http.Client
	schema  *jsonschema.Schema
	logger  *slog.Logger
}

// NewClient creates a detector client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("detect: base URL required")
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		return nil, fmt.Errorf("detect: jpeg quality %d out of range", cfg.JPEGQuality)
	}

	schema, err := compileResponseSchema()
	if err != nil {
		return nil, fmt.Errorf("detect: compile response schema: %w", err)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = httpc.NewClient(cfg.Timeout)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		quality: cfg.JPEGQuality,
		http:    hc,
		schema:  schema,
		logger:  logger.With("component", "detect.client"),
	}, nil
}

// Detect uploads one frame and parses the response.
func (c *Client) Detect(ctx context.Context, frame image.Image) (*Result, error) {
	start := time.Now()

	dataURL, err := EncodeDataURL(frame, c.quality)
	if err != nil {
		return nil, fmt.Errorf("detect: encode frame: %w", err)
	}

	body, err := json.Marshal(map[string]string{"image": dataURL})
	if err != nil {
		return nil, fmt.Errorf("detect: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("detect: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, networkError("predict", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, networkError("predict", fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp.StatusCode, raw)
	}

	result, err := c.decode(raw)
	if err != nil {
		return nil, badResponse("predict", err)
	}

	c.logger.Debug("detect complete",
		"detections", len(result.Detections),
		"catalog", len(result.Catalog),
		"latency", time.Since(start),
	)
	return result, nil
}

// decode validates the payload against the response schema and unmarshals
// it. An empty body is rejected so the caller keeps its previous result.
func (c *Client) decode(raw []byte) (*Result, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errEmptyBody
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if err := c.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("validate response: %w", err)
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// parseError builds an APIError, preferring the backend's {"error": "..."} body.
func parseError(status int, body []byte) error {
	var errResp struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		message = errResp.Error
	}
	return &APIError{StatusCode: status, Message: message}
}

var _ Detector = (*Client)(nil)
