// Package notify delivers job lifecycle events to an external webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-render/internal/logging"
	"github.com/heimdex/heimdex-render/internal/render"
)

// DeliveryError is a non-2xx webhook response.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook delivery failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx) and 429.
// Other client errors are permanent.
func (e *DeliveryError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Event is the webhook payload.
type Event struct {
	Event    string      `json:"event"`
	SentAt   time.Time   `json:"sent_at"`
	Job      *render.Job `json:"job"`
	Absolute string      `json:"absolute_url,omitempty"`
}

// EventName maps a job status to an event name, e.g. render.completed.
func EventName(s render.Status) string {
	return "render." + strings.ToLower(string(s))
}

// HTTPNotifier posts terminal job events as JSON.
type HTTPNotifier struct {
	url        string
	token      string
	publicBase string
	httpClient *http.Client
	logger     *slog.Logger

	maxAttempts int
	backoff     time.Duration
}

// Option configures an HTTPNotifier.
type Option func(*HTTPNotifier)

// WithRetry sets the attempt count and the base backoff between attempts.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(n *HTTPNotifier) {
		n.maxAttempts = max(attempts, 1)
		n.backoff = backoff
	}
}

// WithPublicBase makes payloads carry absolute artifact URLs.
func WithPublicBase(base string) Option {
	return func(n *HTTPNotifier) {
		n.publicBase = strings.TrimRight(base, "/")
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *HTTPNotifier) {
		n.httpClient = c
	}
}

func NewHTTPNotifier(url, token string, logger *slog.Logger, opts ...Option) *HTTPNotifier {
	n := &HTTPNotifier{
		url:   url,
		token: token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger:      logging.WithComponent(logging.OrDiscard(logger), "notify"),
		maxAttempts: 3,
		backoff:     time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify delivers the job event, retrying transient failures with linear
// backoff until attempts run out or ctx ends.
func (n *HTTPNotifier) Notify(ctx context.Context, job *render.Job) error {
	ev := Event{
		Event:  EventName(job.Status),
		SentAt: time.Now().UTC(),
		Job:    job,
	}
	if n.publicBase != "" && job.URL != "" {
		ev.Absolute = n.publicBase + job.URL
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		lastErr = n.post(ctx, body)
		if lastErr == nil {
			n.logger.Info("webhook delivered", "job_id", job.ID, "event", ev.Event, "attempt", attempt)
			return nil
		}
		if !retryable(lastErr) || attempt == n.maxAttempts {
			break
		}

		n.logger.Warn("webhook delivery failed, retrying",
			"job_id", job.ID,
			"attempt", attempt,
			"error", lastErr,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.backoff * time.Duration(attempt)):
		}
	}
	return lastErr
}

func (n *HTTPNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Heimdex-Request-Id", uuid.NewString())
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &DeliveryError{StatusCode: resp.StatusCode, Body: string(respBody)}
}

func retryable(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.IsRetryable()
	}
	// Transport errors are worth another attempt; context errors are not.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
