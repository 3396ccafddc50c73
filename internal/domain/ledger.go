/**
 * @description
 * Provider ledger models. A ledger row tracks one asynchronous financial operation
 * (stake, unstake) from the moment a transaction is prepared for signature until
 * its on-chain signature is confirmed or rejected.
 */
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerOperation is the kind of operation a ledger row records.
type LedgerOperation string

const (
	LedgerOperationStake   LedgerOperation = "stake"
	LedgerOperationUnstake LedgerOperation = "unstake"
)

// LedgerStatus is the settlement state of a ledger row.
type LedgerStatus string

const (
	LedgerStatusPending   LedgerStatus = "pending"
	LedgerStatusCompleted LedgerStatus = "completed"
	LedgerStatusFailed    LedgerStatus = "failed"
)

// Terminal reports whether s is a final state.
func (s LedgerStatus) Terminal() bool {
	return s == LedgerStatusCompleted || s == LedgerStatusFailed
}

var ErrInvalidLedgerMetadata = errors.New("invalid ledger metadata")

// StakeMetadata is the metadata carried by a stake operation.
type StakeMetadata struct {
	ValidatorVoteAccount string `json:"validator_vote_account"`
	StakeAccount         string `json:"stake_account,omitempty"`
}

// UnstakeMetadata is the metadata carried by an unstake operation.
type UnstakeMetadata struct {
	StakeAccount string `json:"stake_account"`
}

// LedgerMetadata is a tagged union keyed by the ledger operation.
// Exactly one of Stake or Unstake is set, matching Operation.
type LedgerMetadata struct {
	Operation LedgerOperation  `json:"type"`
	Stake     *StakeMetadata   `json:"stake,omitempty"`
	Unstake   *UnstakeMetadata `json:"unstake,omitempty"`
}

// NewStakeMetadata builds validated stake metadata.
func NewStakeMetadata(m StakeMetadata) (LedgerMetadata, error) {
	md := LedgerMetadata{Operation: LedgerOperationStake, Stake: &m}
	return md, md.Validate()
}

// NewUnstakeMetadata builds validated unstake metadata.
func NewUnstakeMetadata(m UnstakeMetadata) (LedgerMetadata, error) {
	md := LedgerMetadata{Operation: LedgerOperationUnstake, Unstake: &m}
	return md, md.Validate()
}

// Validate checks that the metadata shape matches its operation.
func (m LedgerMetadata) Validate() error {
	switch m.Operation {
	case LedgerOperationStake:
		if m.Stake == nil || m.Unstake != nil {
			return fmt.Errorf("%w: stake operation requires stake metadata", ErrInvalidLedgerMetadata)
		}
		if err := validateAddress("validator_vote_account", m.Stake.ValidatorVoteAccount, true); err != nil {
			return err
		}
		return validateAddress("stake_account", m.Stake.StakeAccount, false)
	case LedgerOperationUnstake:
		if m.Unstake == nil || m.Stake != nil {
			return fmt.Errorf("%w: unstake operation requires unstake metadata", ErrInvalidLedgerMetadata)
		}
		return validateAddress("stake_account", m.Unstake.StakeAccount, true)
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidLedgerMetadata, m.Operation)
	}
}

func validateAddress(field, value string, required bool) error {
	value = strings.TrimSpace(value)
	if value == "" {
		if required {
			return fmt.Errorf("%w: %s is required", ErrInvalidLedgerMetadata, field)
		}
		return nil
	}
	if _, err := solana.PublicKeyFromBase58(value); err != nil {
		return fmt.Errorf("%w: %s is not a valid address", ErrInvalidLedgerMetadata, field)
	}
	return nil
}

// Payload encodes only the variant matching the operation, as stored in the ledger row.
func (m LedgerMetadata) Payload() ([]byte, error) {
	switch m.Operation {
	case LedgerOperationStake:
		return json.Marshal(m.Stake)
	case LedgerOperationUnstake:
		return json.Marshal(m.Unstake)
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidLedgerMetadata, m.Operation)
	}
}

// DecodeLedgerMetadata parses a stored metadata blob for the given operation and validates it.
func DecodeLedgerMetadata(op LedgerOperation, raw []byte) (LedgerMetadata, error) {
	md := LedgerMetadata{Operation: op}
	switch op {
	case LedgerOperationStake:
		var v StakeMetadata
		if err := json.Unmarshal(raw, &v); err != nil {
			return LedgerMetadata{}, fmt.Errorf("%w: %v", ErrInvalidLedgerMetadata, err)
		}
		md.Stake = &v
	case LedgerOperationUnstake:
		var v UnstakeMetadata
		if err := json.Unmarshal(raw, &v); err != nil {
			return LedgerMetadata{}, fmt.Errorf("%w: %v", ErrInvalidLedgerMetadata, err)
		}
		md.Unstake = &v
	default:
		return LedgerMetadata{}, fmt.Errorf("%w: unknown operation %q", ErrInvalidLedgerMetadata, op)
	}
	if err := md.Validate(); err != nil {
		return LedgerMetadata{}, err
	}
	return md, nil
}

// ProviderLedger is a pending/settled record of an operation submitted for on-chain settlement.
type ProviderLedger struct {
	ID                   uuid.UUID       `json:"id"`
	OwnerID              uuid.UUID       `json:"owner_id"`
	Operation            LedgerOperation `json:"operation"`
	Amount               decimal.Decimal `json:"amount"`
	Status               LedgerStatus    `json:"status"`
	Metadata             LedgerMetadata  `json:"metadata"`
	TransactionPayload   *string         `json:"transaction_payload,omitempty"`
	TransactionSignature *string         `json:"transaction_signature,omitempty"`
	ErrorDetail          *string         `json:"error_detail,omitempty"`
	ConfirmedAt          *time.Time      `json:"confirmed_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// StakeRequest is the input for preparing a stake or unstake operation.
type StakeRequest struct {
	Amount               decimal.Decimal `json:"amount"`
	ValidatorVoteAccount string          `json:"validator_vote_account,omitempty"`
	StakeAccount         string          `json:"stake_account,omitempty"`
}

// ExecuteLedgerRequest carries the signing session used to submit a prepared transaction.
type ExecuteLedgerRequest struct {
	SessionID      string `json:"session_id"`
	SessionSecrets string `json:"session_secrets"`
	Address        string `json:"address"`
}

// ConfirmLedgerRequest carries a client supplied transaction signature.
type ConfirmLedgerRequest struct {
	Signature string `json:"signature"`
}
