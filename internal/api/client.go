package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrConflict is returned by Start when the node already has an active job.
var ErrConflict = errors.New("job already active")

// Client is a thin HTTP client for one node control service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given base URL (e.g. http://host:port).
func NewClient(baseURL string) *Client {
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Start submits a job. A node with an active job answers 409, surfaced as
// ErrConflict.
func (c *Client) Start(ctx context.Context, req StartRequest) (StartResponse, error) {
	var resp StartResponse
	if err := c.postJSON(ctx, "/start", req, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// Stop requests best-effort cancellation of the active job.
func (c *Client) Stop(ctx context.Context) error {
	return c.postJSON(ctx, "/stop", struct{}{}, nil)
}

// Status fetches the node's current job snapshot.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	if err := c.getJSON(ctx, "/status", &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// Info fetches node identity, independent of job state.
func (c *Client) Info(ctx context.Context) (InfoResponse, error) {
	var resp InfoResponse
	if err := c.getJSON(ctx, "/info", &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// Health reports process liveness only.
func (c *Client) Health(ctx context.Context) error {
	return c.getJSON(ctx, "/health", nil)
}

// Reset evicts terminal jobs from the node's job table.
func (c *Client) Reset(ctx context.Context) error {
	return c.postJSON(ctx, "/reset", struct{}{}, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusConflict {
		return ErrConflict
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return statusError(res)
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(res.Body)
	return decoder.Decode(out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return statusError(res)
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(res.Body)
	return decoder.Decode(out)
}

func statusError(res *http.Response) error {
	body, _ := io.ReadAll(res.Body)
	msg := strings.TrimSpace(string(body))
	if msg != "" {
		return fmt.Errorf("request failed: %s: %s", res.Status, msg)
	}
	return fmt.Errorf("request failed: %s", res.Status)
}
