/**
 * @description
 * Client for checking transaction signatures against a Solana RPC node.
 * The investment ledger only settles once a client supplied signature has
 * been observed on chain at confirmed commitment or better.
 *
 * @dependencies
 * - github.com/gagliardetto/solana-go: signature parsing and the JSON-RPC client.
 */
package chainclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

var ErrInvalidSignature = errors.New("invalid transaction signature")

// SignatureState is the settlement state of a signature as seen by the network.
type SignatureState string

const (
	SignaturePending   SignatureState = "pending"
	SignatureConfirmed SignatureState = "confirmed"
	SignatureFailed    SignatureState = "failed"
)

// SignatureStatus is the result of a single lookup.
type SignatureStatus struct {
	State  SignatureState
	Slot   uint64
	Detail string
}

// Verifier looks up signature statuses over JSON-RPC.
type Verifier struct {
	rpc *rpc.Client
}

// NewVerifier creates a verifier for the given RPC endpoint.
func NewVerifier(endpoint string) *Verifier {
	return &Verifier{rpc: rpc.New(endpoint)}
}

// ParseSignature validates a base58 transaction signature.
func ParseSignature(raw string) (solana.Signature, error) {
	sig, err := solana.SignatureFromBase58(raw)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return sig, nil
}

// SignatureStatus reports whether the signature has landed. A signature the node
// has not seen yet, or has only processed, is reported as pending.
func (v *Verifier) SignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error) {
	sig, err := ParseSignature(signature)
	if err != nil {
		return nil, err
	}

	out, err := v.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, fmt.Errorf("get signature status: %w", err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return &SignatureStatus{State: SignaturePending}, nil
	}

	status := out.Value[0]
	if status.Err != nil {
		return &SignatureStatus{State: SignatureFailed, Slot: status.Slot, Detail: fmt.Sprint(status.Err)}, nil
	}
	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return &SignatureStatus{State: SignatureConfirmed, Slot: status.Slot}, nil
	default:
		return &SignatureStatus{State: SignaturePending, Slot: status.Slot}, nil
	}
}
