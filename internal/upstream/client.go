// ABOUTME: HTTP client for the hosted weather agent's streaming endpoint
// ABOUTME: Builds the agent run payload and returns the raw streaming body

package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Options configures the upstream client. All values come from config;
// nothing about the endpoint is compiled in.
type Options struct {
	URL     string
	Headers map[string]string

	RunID       string
	ResourceID  string
	ThreadID    string
	MaxRetries  int
	MaxSteps    int
	Temperature float64
	TopP        float64

	// Timeout bounds the whole streaming request. Zero means no timeout.
	Timeout time.Duration
}

// Client opens streaming requests against the hosted agent.
type Client struct {
	opts       Options
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an upstream client. Pass nil logger for default.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     logger.With("component", "upstream"),
	}
}

// chatMessage is a single role/content pair in the agent request.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// streamRequest is the JSON payload the hosted agent expects.
type streamRequest struct {
	Messages       []chatMessage  `json:"messages"`
	RunID          string         `json:"runId"`
	MaxRetries     int            `json:"maxRetries"`
	MaxSteps       int            `json:"maxSteps"`
	Temperature    float64        `json:"temperature"`
	TopP           float64        `json:"topP"`
	RuntimeContext map[string]any `json:"runtimeContext"`
	ThreadID       string         `json:"threadId"`
	ResourceID     string         `json:"resourceId"`
}

// errorBodyLimit caps how much of an upstream error body is read into the error.
const errorBodyLimit = 4 * 1024

// Stream sends a single user message to the agent and returns the raw
// newline-delimited streaming body. The caller owns the body and must close
// it. A non-2xx status is returned as an error embedding the response text.
func (c *Client) Stream(ctx context.Context, message string) (io.ReadCloser, error) {
	payload := streamRequest{
		Messages:       []chatMessage{{Role: "user", Content: message}},
		RunID:          c.opts.RunID,
		MaxRetries:     c.opts.MaxRetries,
		MaxSteps:       c.opts.MaxSteps,
		Temperature:    c.opts.Temperature,
		TopP:           c.opts.TopP,
		RuntimeContext: map[string]any{},
		ThreadID:       c.opts.ThreadID,
		ResourceID:     c.opts.ResourceID,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.opts.Headers {
		req.Header.Set(k, v)
	}

	c.logger.Debug("opening upstream stream", "url", c.opts.URL, "run_id", c.opts.RunID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to upstream: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errText, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		resp.Body.Close()
		return nil, fmt.Errorf("upstream returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(errText))
	}

	if resp.Body == nil {
		return nil, fmt.Errorf("upstream returned no body")
	}

	return resp.Body, nil
}
