// Package publisher talks to the target environment's admin API. All chart
// mutations go through this API rather than direct database writes, since
// chart saves trigger server-side bookkeeping (revision logs, rebakes).
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/owid/chart-sync/internal/chartsync"
)

// retryStatuses are transient gateway errors worth retrying.
var retryStatuses = map[int]bool{
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
	http.StatusGatewayTimeout:     true,
}

// Options configure a Client.
type Options struct {
	BaseURL string
	APIKey  string

	// MaxAttempts bounds tries per request, including the first. Default 3.
	MaxAttempts int

	// RetryBackoff is the initial delay before a retry; it doubles per
	// attempt. Default 1s.
	RetryBackoff time.Duration

	// RequestsPerSecond throttles the client. Zero means no throttle.
	RequestsPerSecond float64

	HTTPClient *http.Client
	Logger     chartsync.Logger
}

// Client is an HTTP Publisher backed by the admin API.
type Client struct {
	baseURL     string
	apiKey      string
	maxAttempts int
	backoff     time.Duration
	limiter     *rate.Limiter
	httpClient  *http.Client
	logger      chartsync.Logger
}

// NewClient creates a publisher client. opts.BaseURL is required.
func NewClient(opts Options) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = chartsync.NewNopLogger()
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &Client{
		baseURL:     opts.BaseURL,
		apiKey:      opts.APIKey,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.RetryBackoff,
		limiter:     limiter,
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
	}
}

// apiResponse is the admin API's standard response envelope.
type apiResponse struct {
	Success bool   `json:"success"`
	ChartID int64  `json:"chartId"`
	Error   string `json:"error"`
}

// CreateChart creates a chart and returns the target-assigned id. The
// request carries an idempotency key so a retried create cannot produce
// duplicate charts.
func (c *Client) CreateChart(ctx context.Context, config map[string]any) (int64, error) {
	headers := map[string]string{"Idempotency-Key": uuid.New().String()}
	resp, err := c.do(ctx, http.MethodPost, "/api/charts", config, headers)
	if err != nil {
		return 0, err
	}
	return resp.ChartID, nil
}

// UpdateChart replaces the config of an existing chart.
func (c *Client) UpdateChart(ctx context.Context, id int64, config map[string]any) error {
	_, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/charts/%d", id), config, nil)
	return err
}

// SetTags replaces the tags attached to a chart.
func (c *Client) SetTags(ctx context.Context, id int64, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	body := map[string]any{"tags": tags}
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/charts/%d/setTags", id), body, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string) (*apiResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}

	backoff := c.backoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			c.logger.Warn("retrying request",
				"method", method, "path", path, "attempt", attempt, "error", lastErr)
			if err := sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, retryable, err := c.once(ctx, method, path, payload, headers)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s %s failed after %d attempts: %w", method, path, c.maxAttempts, lastErr)
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, headers map[string]string) (*apiResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network-level failures are retryable.
		return nil, true, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	// Cap the read so a misbehaving server cannot balloon error messages.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, true, fmt.Errorf("%s %s: reading response: %w", method, path, err)
	}

	if retryStatuses[resp.StatusCode] {
		return nil, true, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, raw)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, false, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, raw)
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, false, fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	if !parsed.Success {
		return nil, false, fmt.Errorf("%s %s: api error: %s", method, path, parsed.Error)
	}
	return &parsed, false, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Compile-time check that Client implements the Publisher interface
var _ chartsync.Publisher = (*Client)(nil)
