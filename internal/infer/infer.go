// Package infer implements classify.Engine against a sidecar inference
// daemon. The daemon owns the accelerator and the model; this client
// sends it one JPEG per frame and receives ranked (class id, score)
// pairs back.
package infer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"time"

	"github.com/feederwatch/classifier/internal/classify"
)

const (
	requestTimeout = 10 * time.Second
	jpegQuality    = 90
)

// Client is an HTTP client for the inference daemon.
type Client struct {
	baseURL string
	httpc   *http.Client
	topK    int
}

type classifyResponse struct {
	Results []classify.RawClass `json:"results"`
}

// NewClient creates a client for the daemon at baseURL, requesting at
// most topK ranked classes per frame.
func NewClient(baseURL string, topK int) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: requestTimeout},
		topK:    topK,
	}
}

// Ping verifies the daemon is reachable. Called once at startup so an
// unreachable model is a fatal startup error, not a per-frame surprise.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("inference daemon unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference daemon health check returned %d", resp.StatusCode)
	}
	return nil
}

// Invoke classifies one frame. Results arrive ranked by descending score.
func (c *Client) Invoke(ctx context.Context, img image.Image) ([]classify.RawClass, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	url := fmt.Sprintf("%s/classify?top_k=%d", c.baseURL, c.topK)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("inference daemon returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var parsed classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode inference response: %w", err)
	}
	return parsed.Results, nil
}
