// Package client talks to a running render server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-render/internal/api"
	"github.com/heimdex/heimdex-render/internal/logging"
	"github.com/heimdex/heimdex-render/internal/render"
)

// DefaultPollInterval is how often Wait re-queries a running job.
const DefaultPollInterval = 2500 * time.Millisecond

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("render api: HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("render api: HTTP %d: %s", e.StatusCode, e.Message)
}

// NotFound reports whether the server did not know the job.
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

type Client struct {
	baseURL      string
	token        string
	pollInterval time.Duration
	httpClient   *http.Client
	logger       *slog.Logger
}

type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logging.OrDiscard(logger) }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		pollInterval: DefaultPollInterval,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		logger:       logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit queues a render and returns the PENDING job view.
func (c *Client) Submit(ctx context.Context, req render.SubmitRequest) (*api.VideoResponse, error) {
	var resp api.RenderResponse
	if err := c.do(ctx, http.MethodPost, "/api/render", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Video, nil
}

func (c *Client) Status(ctx context.Context, id string) (*api.VideoResponse, error) {
	q := url.Values{"id": {id}, "type": {api.RenderStatusType}}
	var resp api.RenderResponse
	if err := c.do(ctx, http.MethodGet, "/api/render?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Video, nil
}

func (c *Client) Cancel(ctx context.Context, id string) (*api.VideoResponse, error) {
	var resp api.RenderResponse
	if err := c.do(ctx, http.MethodDelete, "/api/render/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Video, nil
}

// Jobs lists recent jobs, newest first. A limit of zero uses the server default.
func (c *Client) Jobs(ctx context.Context, limit int) ([]api.JobResponse, error) {
	p := "/api/render/jobs"
	if limit > 0 {
		p += "?limit=" + strconv.Itoa(limit)
	}
	var resp api.JobsResponse
	if err := c.do(ctx, http.MethodGet, p, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Wait polls a job until it reaches a terminal status. onUpdate, when set,
// sees every polled view including the final one.
func (c *Client) Wait(ctx context.Context, id string, onUpdate func(api.VideoResponse)) (*api.VideoResponse, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		v, err := c.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		if onUpdate != nil {
			onUpdate(*v)
		}
		if render.Status(v.Status).Terminal() {
			return v, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Heimdex-Request-Id", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var er api.ErrorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			apiErr.Code = er.Code
			apiErr.Message = er.Error
		}
		c.logger.Debug("render api error", "method", method, "path", path, "status", resp.StatusCode, "code", apiErr.Code)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
