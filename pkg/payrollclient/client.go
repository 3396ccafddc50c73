/**
 * @description
 * Client for communicating with the payroll-service internal API.
 */
package payrollclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/transfa/payroll-service/internal/domain"
)

// Client is a client for the payroll service.
type Client struct {
	baseURL     string
	internalKey string
	httpClient  *http.Client
}

// NewClient creates a new payroll service client.
func NewClient(baseURL, internalKey string) *Client {
	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		internalKey: internalKey,
		// A sweep walks every active stream, so it gets a generous timeout.
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// SyncActiveStreams triggers a sync sweep and returns its summary.
func (c *Client) SyncActiveStreams(ctx context.Context) (*domain.SyncSummary, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("payroll service base URL is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/payroll/sync", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Internal-API-Key", c.internalKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to payroll service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read payroll service response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("payroll service returned error status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var summary domain.SyncSummary
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, fmt.Errorf("failed to decode sync summary: %w", err)
	}
	return &summary, nil
}
