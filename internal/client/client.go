// Package client talks to the vault AI endpoints.
package client

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

	"github.com/maximbilan/vaultai/internal/ai"
	"github.com/maximbilan/vaultai/internal/ratelimit"
)

// TokenSource yields the caller's session token; *credential.TokenStore satisfies it.
type TokenSource interface {
	Token() (string, error)
}

// ErrNotAuthenticated is reported when there is no session token.
var ErrNotAuthenticated = errors.New("Not authenticated")

// APIError is a non-2xx reply from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// NotConfigured reports whether the server rejected the call for lack of an API key.
func (e *APIError) NotConfigured() bool {
	return e.StatusCode == http.StatusBadRequest && e.Message == ai.ErrNotConfigured.Error()
}

// DefaultResponseTimeout bounds the wait for the server's response headers.
const DefaultResponseTimeout = 2 * time.Minute

type Client struct {
	baseURL         string
	http            *http.Client
	responseTimeout time.Duration
	tokens  TokenSource
	limiter *ratelimit.RateLimiter
	log     *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default client. Keep its Timeout at zero if
// it is used for streaming.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimiter throttles outgoing requests on the client side.
// WithResponseTimeout sets how long to wait for response headers. It has no
// effect together with WithHTTPClient. Streams are not cut off once the
// headers arrive.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.responseTimeout = d
		}
	}
}

func WithRateLimiter(rl *ratelimit.RateLimiter) Option {
	return func(c *Client) { c.limiter = rl }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		responseTimeout: DefaultResponseTimeout,
		tokens:          tokens,
		log:             slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: c.responseTimeout,
		}}
	}
	return c
}

func (c *Client) token() (string, error) {
	if c.tokens == nil {
		return "", ErrNotAuthenticated
	}
	token, err := c.tokens.Token()
	if err != nil || token == "" {
		return "", ErrNotAuthenticated
	}
	return token, nil
}

// do sends an authenticated request. Non-2xx replies become *APIError.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	token, err := c.token()
	if err != nil {
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	return resp, nil
}

func readAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("Error %d", resp.StatusCode)}
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
	}
	return apiErr
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// CallAI runs one non-streaming request through /ai-proxy.
func (c *Client) CallAI(ctx context.Context, req ai.ActionRequest) (*ai.Result, error) {
	var res ai.Result
	if err := c.doJSON(ctx, http.MethodPost, "/ai-proxy", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CheckAIConfigured reports whether the caller has an active API key. Any
// failure counts as not configured.
func (c *Client) CheckAIConfigured(ctx context.Context) bool {
	var res struct {
		Configured bool `json:"configured"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/ai-status", nil, &res); err != nil {
		c.log.Debug("ai status check failed", "error", err)
		return false
	}
	return res.Configured
}

// DetectDuplicates runs the server-side duplicate scan.
func (c *Client) DetectDuplicates(ctx context.Context) (*ai.DuplicateReport, error) {
	var report ai.DuplicateReport
	if err := c.doJSON(ctx, http.MethodPost, "/ai-duplicates", struct{}{}, &report); err != nil {
		return nil, err
	}
	return &report, nil
}
