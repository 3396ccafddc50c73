package gridclient

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// Standing-order statuses reported by Grid.
const (
	StandingOrderActive    = "active"
	StandingOrderPaused    = "paused"
	StandingOrderCancelled = "cancelled"
	StandingOrderCompleted = "completed"
)

// Execution statuses reported by Grid.
const (
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
	ExecutionPending   = "pending"
)

// CreateStandingOrderRequest is the payload for registering a recurring transfer.
type CreateStandingOrderRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	Frequency   string          `json:"frequency"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     *time.Time      `json:"end_date,omitempty"`
}

// StandingOrderCreated is returned by CreateStandingOrder.
type StandingOrderCreated struct {
	ID                 string  `json:"id"`
	Status             string  `json:"status"`
	TransactionPayload *string `json:"transaction_payload,omitempty"`
}

// Execution is one run of a standing order as reported by Grid.
type Execution struct {
	ID         string          `json:"id"`
	TransferID *string         `json:"transfer_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Status     string          `json:"status"`
	ExecutedAt time.Time       `json:"executed_at"`
	Error      *string         `json:"error,omitempty"`
}

// StandingOrder is the authoritative remote state of a standing order.
type StandingOrder struct {
	ID                string           `json:"id"`
	Status            string           `json:"status"`
	NextExecutionDate *time.Time       `json:"next_execution_date,omitempty"`
	LastExecutionDate *time.Time       `json:"last_execution_date,omitempty"`
	RemainingAmount   *decimal.Decimal `json:"remaining_amount,omitempty"`
	Executions        []Execution      `json:"executions"`
}

// CreateStandingOrder registers a standing order on the treasury account. A non-empty
// idempotencyKey is forwarded so that retried creates are deduplicated by Grid.
func (c *Client) CreateStandingOrder(ctx context.Context, treasuryAddress string, req CreateStandingOrderRequest, idempotencyKey string) (*StandingOrderCreated, error) {
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}
	var out StandingOrderCreated
	if err := c.do(ctx, "create_standing_order", http.MethodPost, accountPath(treasuryAddress, "standing-orders"), req, headers, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetStandingOrder fetches a standing order including its execution history.
func (c *Client) GetStandingOrder(ctx context.Context, treasuryAddress, standingOrderID string) (*StandingOrder, error) {
	var out StandingOrder
	path := accountPath(treasuryAddress, "standing-orders", url.PathEscape(standingOrderID))
	if err := c.do(ctx, "get_standing_order", http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateStandingOrderStatus sets a standing order to active or paused.
func (c *Client) UpdateStandingOrderStatus(ctx context.Context, treasuryAddress, standingOrderID, status string) error {
	path := accountPath(treasuryAddress, "standing-orders", url.PathEscape(standingOrderID))
	return c.do(ctx, "update_standing_order", http.MethodPatch, path, map[string]string{"status": status}, nil, nil)
}

// CancelStandingOrder cancels a standing order. Cancellation is final on the Grid side.
func (c *Client) CancelStandingOrder(ctx context.Context, treasuryAddress, standingOrderID string) error {
	path := accountPath(treasuryAddress, "standing-orders", url.PathEscape(standingOrderID))
	return c.do(ctx, "cancel_standing_order", http.MethodDelete, path, nil, nil, nil)
}
