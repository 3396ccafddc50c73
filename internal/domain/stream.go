/**
 * @description
 * Domain models for payroll streams and their realized executions.
 * A stream is the local record of a standing order registered with the
 * Grid payment provider, plus the business metadata the provider does not know about.
 */
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StreamStatus is the local lifecycle state of a payroll stream.
type StreamStatus string

const (
	StreamStatusActive  StreamStatus = "active"
	StreamStatusPaused  StreamStatus = "paused"
	StreamStatusStopped StreamStatus = "stopped"
)

// Valid reports whether s is a known lifecycle status.
func (s StreamStatus) Valid() bool {
	switch s {
	case StreamStatusActive, StreamStatusPaused, StreamStatusStopped:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed out of s.
func (s StreamStatus) Terminal() bool {
	return s == StreamStatusStopped
}

// Cadence is how often a stream pays out.
type Cadence string

const (
	CadenceDaily    Cadence = "daily"
	CadenceWeekly   Cadence = "weekly"
	CadenceBiweekly Cadence = "biweekly"
	CadenceMonthly  Cadence = "monthly"
)

// ParseCadence normalizes a user supplied cadence value.
func ParseCadence(raw string) (Cadence, bool) {
	c := Cadence(strings.ToLower(strings.TrimSpace(raw)))
	switch c {
	case CadenceDaily, CadenceWeekly, CadenceBiweekly, CadenceMonthly:
		return c, true
	}
	return "", false
}

// ProviderFrequency returns the standing-order frequency the provider understands.
// Only weekly and monthly are supported natively.
func (c Cadence) ProviderFrequency() (string, bool) {
	switch c {
	case CadenceWeekly:
		return "weekly", true
	case CadenceMonthly:
		return "monthly", true
	}
	return "", false
}

var (
	monthsPerYear = decimal.NewFromInt(12)
	weeksPerYear  = decimal.NewFromInt(52)
)

// ExecutionAmount converts a monthly amount into the amount paid per execution.
func (c Cadence) ExecutionAmount(monthly decimal.Decimal) decimal.Decimal {
	switch c {
	case CadenceWeekly:
		return monthly.Mul(monthsPerYear).Div(weeksPerYear).Round(2)
	default:
		return monthly.Round(2)
	}
}

// PayrollStream is a recurring payment obligation from an organization to a payee.
type PayrollStream struct {
	ID              uuid.UUID       `json:"id"`
	OrganizationID  uuid.UUID       `json:"organization_id"`
	EmployeeID      *uuid.UUID      `json:"employee_id,omitempty"`
	PayeeAddress    string          `json:"payee_address"`
	AmountMonthly   decimal.Decimal `json:"amount_monthly"`
	Cadence         Cadence         `json:"cadence"`
	Status          StreamStatus    `json:"status"`
	StandingOrderID *string         `json:"standing_order_id,omitempty"`
	StartDate       time.Time       `json:"start_date"`
	EndDate         *time.Time      `json:"end_date,omitempty"`

	// Mirrored from the provider; the remote copy is authoritative.
	RemoteStatus    *string          `json:"remote_status,omitempty"`
	NextExecutionAt *time.Time       `json:"next_execution_at,omitempty"`
	LastExecutionAt *time.Time       `json:"last_execution_at,omitempty"`
	RemainingAmount *decimal.Decimal `json:"remaining_amount,omitempty"`
	RemoteSyncedAt  *time.Time       `json:"remote_synced_at,omitempty"`

	CreatedBy uuid.UUID `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Trackable reports whether the stream is eligible for automatic execution tracking.
func (s *PayrollStream) Trackable() bool {
	return s != nil && s.StandingOrderID != nil && strings.TrimSpace(*s.StandingOrderID) != ""
}

// RunStatus is the outcome of a single stream execution.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// StreamRun is one realized (or attempted) execution of a stream.
type StreamRun struct {
	ID                uuid.UUID       `json:"id"`
	StreamID          uuid.UUID       `json:"stream_id"`
	RemoteExecutionID string          `json:"remote_execution_id"`
	RemoteTransferID  *string         `json:"remote_transfer_id,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Status            RunStatus       `json:"status"`
	ErrorDetail       *string         `json:"error_detail,omitempty"`
	ExecutedAt        time.Time       `json:"executed_at"`
	CreatedAt         time.Time       `json:"created_at"`
}

// PayeeResolution identifies who a stream pays. Exactly one field is set.
type PayeeResolution struct {
	EmployeeID    *uuid.UUID `json:"employee_id,omitempty"`
	WalletAddress string     `json:"wallet_address,omitempty"`
}

// CreateStreamRequest is the input for creating a payroll stream.
type CreateStreamRequest struct {
	Payee         PayeeResolution `json:"payee"`
	AmountMonthly decimal.Decimal `json:"amount_monthly"`
	Cadence       string          `json:"cadence"`
	StartDate     time.Time       `json:"start_date"`
	EndDate       *time.Time      `json:"end_date,omitempty"`
}

// StreamStatusView is the result of refreshing a stream against the provider.
type StreamStatusView struct {
	Stream            *PayrollStream `json:"stream"`
	UsingCachedStatus bool           `json:"using_cached_status"`
}

// StreamSyncFailure records one stream that could not be synced during a sweep.
type StreamSyncFailure struct {
	StreamID uuid.UUID `json:"stream_id"`
	Error    string    `json:"error"`
}

// SyncSummary aggregates the outcome of a scheduler sweep.
type SyncSummary struct {
	StreamsProcessed int                 `json:"streams_processed"`
	ExecutionsSynced int                 `json:"executions_synced"`
	Failures         []StreamSyncFailure `json:"failures"`
}
