// Package jobctl talks to the job-control service that runs the bot.
package jobctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"botdash/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StartResult is the job service's answer to a start request.
type StartResult struct {
	Status string `json:"status"`
	PID    int    `json:"pid"`
	Mode   string `json:"mode"`
}

// Client is a job-control API client.
type Client struct {
	baseURL string
	client  HTTPClient
	timeout time.Duration
}

// New creates a Client for the service at baseURL, e.g. "http://localhost:8000".
func New(baseURL string, client HTTPClient) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		timeout: 15 * time.Second,
	}
}

// Status returns the bot process state.
func (c *Client) Status(ctx context.Context) (model.BotStatus, error) {
	var st model.BotStatus
	err := c.do(ctx, http.MethodGet, "/api/bot/status", nil, &st)
	return st, err
}

// Start launches the bot in mode.
func (c *Client) Start(ctx context.Context, mode string) (StartResult, error) {
	var res StartResult
	err := c.do(ctx, http.MethodPost, "/api/bot/start", map[string]string{"mode": mode}, &res)
	return res, err
}

// Stop stops the bot. It reports false when nothing was running.
func (c *Client) Stop(ctx context.Context) (bool, error) {
	var res struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/bot/stop", nil, &res); err != nil {
		return false, err
	}
	return res.Status == "stopped", nil
}

// Config returns the bot's configuration values.
func (c *Client) Config(ctx context.Context) (map[string]string, error) {
	values := map[string]string{}
	err := c.do(ctx, http.MethodGet, "/api/config", nil, &values)
	return values, err
}

// UpdateConfig merges values into the bot's configuration.
func (c *Client) UpdateConfig(ctx context.Context, values map[string]string) error {
	return c.do(ctx, http.MethodPost, "/api/config", values, nil)
}

// Stats returns the job counters.
func (c *Client) Stats(ctx context.Context) (model.JobStats, error) {
	var st model.JobStats
	err := c.do(ctx, http.MethodGet, "/api/stats", nil, &st)
	return st, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1024*1024)).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
