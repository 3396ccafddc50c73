/**
 * @description
 * This package provides a client for the Grid custody and payments API.
 * It covers the calls the payroll core needs: standing-order management,
 * transfer history, balances, staking transaction preparation and signing.
 *
 * Every call is bounded by the HTTP client's timeout. Non-2xx responses are
 * returned as *ErrorResponse so callers can classify them with IsTransient.
 */
package gridclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a client for the Grid API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient creates a new Grid API client. A non-positive timeout falls back to 30s.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		Logger: slog.Default(),
	}
}

// ErrorResponse represents an error returned by the Grid API.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("grid api error (status %d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("grid api error (status %d)", e.StatusCode)
}

// IsTransient reports whether err is worth retrying: transport failures,
// timeouts, rate limiting and 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *ErrorResponse
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *ErrorResponse  `json:"error"`
}

// do executes a request against the API and decodes the `data` member of the
// response envelope into out, when out is non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, payload any, headers map[string]string, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &ErrorResponse{StatusCode: resp.StatusCode}
		var env envelope
		if err := json.Unmarshal(bodyBytes, &env); err == nil && env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		c.logger().Warn("grid request failed", "op", op, "status", resp.StatusCode, "code", apiErr.Code, "detail", apiErr.Message)
		return apiErr
	}

	if out == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(bodyBytes, &env); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%s response has no data", op)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s response data: %w", op, err)
	}
	return nil
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func accountPath(address string, parts ...string) string {
	segments := append([]string{"/accounts", url.PathEscape(address)}, parts...)
	return strings.Join(segments, "/")
}

func limitQuery(limit int) string {
	if limit <= 0 {
		return ""
	}
	return "?limit=" + strconv.Itoa(limit)
}
