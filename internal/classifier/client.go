package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/john/chatguard/internal/metrics"
)

// LabelPhishing is the label the classifier assigns to phishing messages
const LabelPhishing = "phishing"

// Result is one classification. A nil *Result means no result.
type Result struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Request is the JSON body sent to the endpoint
type Request struct {
	Text string `json:"text"`
}

// StatusResponse is the body of the service's readiness endpoint
type StatusResponse struct {
	Ready bool `json:"ready"`
}

// Client submits message text to the remote classification endpoint
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a client for endpoint with the given request timeout
func NewClient(endpoint string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Classify sends text to the endpoint. Every failure (transport, non-2xx
// status, undecodable or null body, score outside [0,1]) yields nil; the
// caller never sees an error.
func (c *Client) Classify(ctx context.Context, text string) *Result {
	start := time.Now()
	res, outcome, err := c.classify(ctx, text)
	metrics.ClassifyDuration.Observe(time.Since(start).Seconds())
	metrics.Classifications.WithLabelValues(outcome).Inc()

	if err != nil {
		c.logger.Debug("Classification unavailable", zap.String("outcome", outcome), zap.Error(err))
		return nil
	}
	return res
}

func (c *Client) classify(ctx context.Context, text string) (*Result, string, error) {
	jsonData, err := json.Marshal(Request{Text: text})
	if err != nil {
		return nil, "encode", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, "transport", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "transport", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "status", fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result *Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, "decode", fmt.Errorf("failed to decode response: %w", err)
	}
	if result == nil {
		return nil, "decode", fmt.Errorf("empty response")
	}
	// An empty object is still a result; it renders as "unknown"
	if result.Score < 0 || result.Score > 1 {
		return nil, "decode", fmt.Errorf("score %v out of range", result.Score)
	}

	return result, "ok", nil
}

// Ready asks the service's /status endpoint whether its model is loaded.
// Any failure reads as not ready.
func (c *Client) Ready(ctx context.Context) bool {
	statusURL, err := c.statusURL()
	if err != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("Classifier status check failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false
	}
	return status.Ready
}

// statusURL replaces the last path element of the endpoint with "status"
// (http://host:5000/detect -> http://host:5000/status)
func (c *Client) statusURL() (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	path := strings.TrimSuffix(u.Path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[:i]
	}
	u.Path = path + "/status"
	u.RawQuery = ""
	return u.String(), nil
}
