// Package client calls a codexec server's execute endpoint.
package client

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

	"codexec/internal/execution/model"
	"codexec/internal/sandbox/outcome"
)

const (
	DefaultBaseURL = "http://127.0.0.1:18080"
	DefaultTimeout = 60 * time.Second

	maxResponseBytes = 8 << 20
)

// RetryPolicy controls how failed calls are repeated. Waits grow
// exponentially from MinWait and are capped at MaxWait.
type RetryPolicy struct {
	Attempts int
	MinWait  time.Duration
	MaxWait  time.Duration
}

// DefaultRetryPolicy makes three attempts waiting 4s then up to 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, MinWait: 4 * time.Second, MaxWait: 10 * time.Second}
}

// wait returns the pause before attempt n+1, where n counts from 1.
func (p RetryPolicy) wait(n int) time.Duration {
	d := time.Second << uint(n)
	if d < p.MinWait {
		d = p.MinWait
	}
	if p.MaxWait > 0 && d > p.MaxWait {
		d = p.MaxWait
	}
	return d
}

// ResponseInfo carries one exchange with the server.
type ResponseInfo struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// StatusError reports a response that did not carry an execution record.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Client wraps HTTP requests to the server.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	tokenProvider func() string
	retry         RetryPolicy
}

// Option customises a Client.
type Option func(*Client)

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

func WithTokenProvider(fn func() string) Option {
	return func(c *Client) { c.tokenProvider = fn }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		retry:      DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.httpClient.Timeout = timeout
	}
}

// Execute submits code with params and returns the server's record. Error
// outcomes are returned in the record, not as an error. Transport failures,
// 5xx and 429 responses are retried per the retry policy.
func (c *Client) Execute(ctx context.Context, code string, params map[string]interface{}) (outcome.Response, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	body, err := json.Marshal(model.ExecuteRequest{Code: code, Params: params})
	if err != nil {
		return outcome.Response{}, fmt.Errorf("encode request failed: %w", err)
	}

	attempts := c.retry.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, retryable, err := c.executeOnce(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable || attempt == attempts {
			// A server-side failure that still produced a record is
			// reported through the record.
			if resp.Status != "" {
				return resp, nil
			}
			break
		}
		select {
		case <-ctx.Done():
			return outcome.Response{}, errors.Join(lastErr, ctx.Err())
		case <-time.After(c.retry.wait(attempt)):
		}
	}
	return outcome.Response{}, lastErr
}

func (c *Client) executeOnce(ctx context.Context, body []byte) (outcome.Response, bool, error) {
	info, err := c.Do(ctx, http.MethodPost, "/execute", nil, body)
	if err != nil {
		return outcome.Response{}, ctx.Err() == nil, err
	}
	retryable := info.StatusCode >= http.StatusInternalServerError || info.StatusCode == http.StatusTooManyRequests

	var resp outcome.Response
	if err := json.Unmarshal(info.Body, &resp); err != nil || resp.Status == "" {
		return outcome.Response{}, retryable, &StatusError{StatusCode: info.StatusCode, Body: string(info.Body)}
	}
	if retryable {
		return resp, true, &StatusError{StatusCode: info.StatusCode, Body: resp.Error}
	}
	return resp, false, nil
}

// Health reports whether the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	info, err := c.Do(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		return err
	}
	if info.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: info.StatusCode, Body: string(info.Body)}
	}
	return nil
}

// Do sends one request and reads the whole response.
func (c *Client) Do(ctx context.Context, method, path string, headers map[string]string, body []byte) (ResponseInfo, error) {
	var info ResponseInfo

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return info, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	if c.tokenProvider != nil {
		if token := c.tokenProvider(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	info.Duration = time.Since(start)
	if err != nil {
		return info, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	info.StatusCode = resp.StatusCode
	info.Headers = resp.Header
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return info, fmt.Errorf("read response body failed: %w", err)
	}
	info.Body = bodyBytes
	return info, nil
}
