package gridclient

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"
)

// Transfer is a transfer on a Grid account.
type Transfer struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	Destination string          `json:"destination,omitempty"`
	ConfirmedAt *string         `json:"confirmed_at,omitempty"`
}

// Balance is the spendable balance of a Grid account.
type Balance struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// PrepareStakeRequest asks Grid to build an unsigned staking transaction.
type PrepareStakeRequest struct {
	Operation            string          `json:"operation"`
	Amount               decimal.Decimal `json:"amount"`
	ValidatorVoteAccount string          `json:"validator_vote_account,omitempty"`
	StakeAccount         string          `json:"stake_account,omitempty"`
}

// PreparedTransaction holds an unsigned, serialized transaction.
type PreparedTransaction struct {
	TransactionPayload string `json:"transaction_payload"`
}

// SignAndSendRequest submits a prepared transaction using a signing session.
type SignAndSendRequest struct {
	SessionSecrets     string `json:"session_secrets"`
	TransactionPayload string `json:"transaction"`
	Session            string `json:"session"`
	Address            string `json:"address"`
}

// SignAndSendResult is returned once Grid has broadcast a transaction.
type SignAndSendResult struct {
	TransactionSignature string  `json:"transaction_signature"`
	ConfirmedAt          *string `json:"confirmed_at,omitempty"`
}

// GetTransfers lists recent transfers on an account, newest first.
func (c *Client) GetTransfers(ctx context.Context, accountAddress string, limit int) ([]Transfer, error) {
	var out []Transfer
	if err := c.do(ctx, "get_transfers", http.MethodGet, accountPath(accountAddress, "transfers")+limitQuery(limit), nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAccountBalance fetches the balance of an account.
func (c *Client) GetAccountBalance(ctx context.Context, accountAddress string) (*Balance, error) {
	var out Balance
	if err := c.do(ctx, "get_balance", http.MethodGet, accountPath(accountAddress, "balances"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PrepareStakeTransaction builds an unsigned stake or unstake transaction for the account.
func (c *Client) PrepareStakeTransaction(ctx context.Context, accountAddress string, req PrepareStakeRequest) (*PreparedTransaction, error) {
	var out PreparedTransaction
	if err := c.do(ctx, "prepare_stake", http.MethodPost, accountPath(accountAddress, "staking", "transactions"), req, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SignAndSend signs a prepared transaction inside the caller's session and broadcasts it.
func (c *Client) SignAndSend(ctx context.Context, req SignAndSendRequest) (*SignAndSendResult, error) {
	var out SignAndSendResult
	if err := c.do(ctx, "sign_and_send", http.MethodPost, "/transactions/sign-and-send", req, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
