// Package api provides the outbound HTTP client shared by the registry clients.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sdesani/mcp-server-collection/internal/auth"
	"github.com/sdesani/mcp-server-collection/internal/output"
	"github.com/sdesani/mcp-server-collection/internal/version"
)

const (
	maxAttempts = 3
	baseDelay   = 500 * time.Millisecond
	maxJitter   = 100 * time.Millisecond
)

// TokenSource supplies bearer tokens for authorized requests.
// *auth.Manager satisfies it.
type TokenSource interface {
	Token(ctx context.Context) (auth.Token, error)
	Invalidate(stale string)
}

// Client is a read-only HTTP client with typed error mapping and retries.
type Client struct {
	httpClient *http.Client
	tokens     TokenSource
	accept     string
	logger     *slog.Logger
}

// Options configures a Client.
type Options struct {
	// Tokens enables bearer authorization. Nil for unauthenticated APIs.
	Tokens TokenSource
	// Accept overrides the Accept header (default application/json).
	Accept string
	// HTTPClient overrides the default pooled client (tests).
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Response wraps an upstream response.
type Response struct {
	Data       json.RawMessage
	StatusCode int
	Headers    http.Header
}

// UnmarshalData unmarshals the response data into the given value.
func (r *Response) UnmarshalData(v any) error {
	return json.Unmarshal(r.Data, v)
}

// New creates a new client.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	accept := opts.Accept
	if accept == "" {
		accept = "application/json"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		tokens:     opts.Tokens,
		accept:     accept,
		logger:     logger,
	}
}

// Get performs a GET request against rawURL with optional query parameters.
// Retryable failures (network, 429, gateway errors, one stale-token 401) are
// retried with exponential backoff, honoring ctx.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) (*Response, error) {
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		rawURL += sep + params.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.singleRequest(ctx, rawURL, attempt)
		if err == nil {
			return resp, nil
		}

		apiErr := output.AsError(err)
		if !apiErr.Retryable {
			return nil, err
		}
		lastErr = err

		if attempt < maxAttempts {
			delay := backoffDelay(attempt)
			c.logger.Debug("retrying request", "url", rawURL, "attempt", attempt, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) singleRequest(ctx context.Context, rawURL string, attempt int) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", c.accept)

	var bearer string
	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		bearer = tok.AccessToken
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	c.logger.Debug("GET", "url", rawURL, "attempt", attempt)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, output.ErrNetwork(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, output.ErrNetwork(err)
		}
		return &Response{
			Data:       body,
			StatusCode: resp.StatusCode,
			Headers:    resp.Header,
		}, nil

	case http.StatusUnauthorized:
		// A stale cached token gets one forced refresh, then one retry.
		if c.tokens != nil && attempt == 1 {
			c.tokens.Invalidate(bearer)
			return nil, &output.Error{
				Code:       output.CodeAuth,
				Message:    "Unauthorized, refreshing token",
				HTTPStatus: resp.StatusCode,
				Retryable:  true,
			}
		}
		return nil, output.ErrAuth("Authentication failed. Please check your FHIR client credentials and token.")

	case http.StatusForbidden:
		return nil, output.ErrAPI(resp.StatusCode, "Access denied: insufficient scope")

	case http.StatusNotFound:
		return nil, output.ErrNotFound("Resource", rawURL)

	case http.StatusTooManyRequests:
		return nil, output.ErrRateLimit(parseRetryAfter(resp.Header.Get("Retry-After")))

	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, &output.Error{
			Code:       output.CodeAPI,
			Message:    fmt.Sprintf("Gateway error (%d)", resp.StatusCode),
			HTTPStatus: resp.StatusCode,
			Retryable:  true,
		}

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := upstreamMessage(body)
		if msg == "" {
			msg = fmt.Sprintf("Request failed (HTTP %d)", resp.StatusCode)
		}
		return nil, output.ErrAPI(resp.StatusCode, msg)
	}
}

// upstreamMessage extracts an error message from a JSON error body.
func upstreamMessage(body []byte) string {
	var apiErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &apiErr) != nil {
		return ""
	}
	if apiErr.Error != "" {
		return apiErr.Error
	}
	return apiErr.Message
}

func backoffDelay(attempt int) time.Duration {
	// Exponential backoff: base * 2^(attempt-1)
	delay := baseDelay * time.Duration(1<<(attempt-1))

	// Add jitter (0-100ms)
	jitter := time.Duration(rand.Int63n(int64(maxJitter))) //nolint:gosec // G404: Jitter doesn't need crypto rand

	return delay + jitter
}

// parseRetryAfter parses the Retry-After header value.
func parseRetryAfter(header string) int {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return seconds
	}
	return 0
}
