package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/payroll-service/internal/domain"
	"github.com/transfa/payroll-service/internal/store"
	"github.com/transfa/payroll-service/pkg/chainclient"
	"github.com/transfa/payroll-service/pkg/gridclient"
)

const writeScopeInvestments = "investment_write"

type stakeFingerprint struct {
	Operation domain.LedgerOperation `json:"operation"`
	Amount    string                 `json:"amount"`
	Metadata  domain.LedgerMetadata  `json:"metadata"`
}

// PrepareStake builds a stake transaction for the owner's wallet and records it as pending.
func (s *Service) PrepareStake(ctx context.Context, ownerID uuid.UUID, idempotencyKey string, req domain.StakeRequest) (*domain.ProviderLedger, error) {
	metadata, err := domain.NewStakeMetadata(domain.StakeMetadata{
		ValidatorVoteAccount: strings.TrimSpace(req.ValidatorVoteAccount),
		StakeAccount:         strings.TrimSpace(req.StakeAccount),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return s.prepareLedger(ctx, ownerID, idempotencyKey, OperationStake, req.Amount, metadata)
}

// PrepareUnstake builds an unstake transaction for an existing stake account.
func (s *Service) PrepareUnstake(ctx context.Context, ownerID uuid.UUID, idempotencyKey string, req domain.StakeRequest) (*domain.ProviderLedger, error) {
	metadata, err := domain.NewUnstakeMetadata(domain.UnstakeMetadata{
		StakeAccount: strings.TrimSpace(req.StakeAccount),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return s.prepareLedger(ctx, ownerID, idempotencyKey, OperationUnstake, req.Amount, metadata)
}

func (s *Service) prepareLedger(ctx context.Context, ownerID uuid.UUID, idempotencyKey, operation string, amount decimal.Decimal, metadata domain.LedgerMetadata) (*domain.ProviderLedger, error) {
	if !amount.IsPositive() {
		return nil, validationError("amount must be greater than zero")
	}
	if err := s.consumeWriteQuota(ctx, writeScopeInvestments, ownerID.String()); err != nil {
		return nil, err
	}

	fingerprint := stakeFingerprint{Operation: metadata.Operation, Amount: amount.String(), Metadata: metadata}
	scope := domain.IdempotencyScope{OwnerID: ownerID, Operation: operation, Key: idempotencyKey}
	return submitIdempotent(ctx, s, scope, fingerprint, func(ctx context.Context) (*domain.ProviderLedger, error) {
		wallet, err := s.repo.FindUserWalletAddress(ctx, ownerID)
		if err != nil {
			if errors.Is(err, store.ErrUserNotFound) {
				return nil, validationError("no wallet address linked to the account")
			}
			return nil, err
		}

		stakeReq := gridclient.PrepareStakeRequest{
			Operation: string(metadata.Operation),
			Amount:    amount,
		}
		if metadata.Stake != nil {
			stakeReq.ValidatorVoteAccount = metadata.Stake.ValidatorVoteAccount
			stakeReq.StakeAccount = metadata.Stake.StakeAccount
		}
		if metadata.Unstake != nil {
			stakeReq.StakeAccount = metadata.Unstake.StakeAccount
		}

		var prepared *gridclient.PreparedTransaction
		err = s.withRetry(ctx, "prepare_stake", func(ctx context.Context) error {
			var callErr error
			prepared, callErr = s.gateway.PrepareStakeTransaction(ctx, wallet, stakeReq)
			return callErr
		})
		if err != nil {
			return nil, providerWriteError("prepare stake transaction", err)
		}
		if prepared == nil || strings.TrimSpace(prepared.TransactionPayload) == "" {
			return nil, fmt.Errorf("%w: prepare stake transaction returned no payload", ErrProviderRequestFailed)
		}

		payload := prepared.TransactionPayload
		entry := &domain.ProviderLedger{
			ID:                 uuid.New(),
			OwnerID:            ownerID,
			Operation:          metadata.Operation,
			Amount:             amount,
			Status:             domain.LedgerStatusPending,
			Metadata:           metadata,
			TransactionPayload: &payload,
		}
		if err := s.repo.CreateLedgerEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("failed to save ledger entry: %w", err)
		}
		s.logger.Info("ledger entry prepared", "ledger_id", entry.ID, "operation", entry.Operation)
		return entry, nil
	})
}

// ExecuteLedger signs and broadcasts a prepared transaction through the provider,
// then verifies the resulting signature. The signing call is not retried because a
// repeated broadcast is not idempotent. The signature is stored before confirmation
// starts; once an entry has one, later calls only confirm it.
func (s *Service) ExecuteLedger(ctx context.Context, ownerID, ledgerID uuid.UUID, req domain.ExecuteLedgerRequest) (*domain.ProviderLedger, error) {
	entry, err := s.loadOwnedLedger(ctx, ownerID, ledgerID)
	if err != nil {
		return nil, err
	}
	if entry.Status.Terminal() {
		return entry, nil
	}
	if recorded := derefString(entry.TransactionSignature); recorded != "" {
		s.logger.Info("ledger entry already broadcast; confirming recorded signature", "ledger_id", entry.ID)
		return s.confirmSignature(ctx, entry, recorded)
	}
	if entry.TransactionPayload == nil || *entry.TransactionPayload == "" {
		return nil, validationError("ledger entry %s has no prepared transaction", entry.ID)
	}
	if strings.TrimSpace(req.SessionSecrets) == "" || strings.TrimSpace(req.SessionID) == "" {
		return nil, validationError("session_id and session_secrets are required")
	}

	address := strings.TrimSpace(req.Address)
	if address == "" {
		wallet, err := s.repo.FindUserWalletAddress(ctx, ownerID)
		if err != nil {
			return nil, validationError("no wallet address available for signing")
		}
		address = wallet
	}

	result, err := s.gateway.SignAndSend(ctx, gridclient.SignAndSendRequest{
		SessionSecrets:     req.SessionSecrets,
		TransactionPayload: *entry.TransactionPayload,
		Session:            req.SessionID,
		Address:            address,
	})
	if err != nil {
		s.logger.Error("sign and send failed", "ledger_id", entry.ID, "error", err)
		return nil, gatewayError("sign and send", err)
	}
	if result == nil || strings.TrimSpace(result.TransactionSignature) == "" {
		return nil, fmt.Errorf("%w: sign and send returned no signature", ErrProviderRequestFailed)
	}

	signature := strings.TrimSpace(result.TransactionSignature)
	recorded, err := s.repo.RecordLedgerSignature(context.WithoutCancel(ctx), entry.ID, signature)
	if err != nil {
		return nil, fmt.Errorf("transaction %s was broadcast but its signature could not be saved: %w", signature, err)
	}
	if !recorded {
		s.logger.Warn("ledger entry changed while broadcasting", "ledger_id", entry.ID, "signature", signature)
	}
	entry.TransactionSignature = &signature
	return s.confirmSignature(ctx, entry, signature)
}

// ConfirmLedger settles a pending entry with a client supplied signature once the
// network reports it.
func (s *Service) ConfirmLedger(ctx context.Context, ownerID, ledgerID uuid.UUID, req domain.ConfirmLedgerRequest) (*domain.ProviderLedger, error) {
	signature := strings.TrimSpace(req.Signature)
	if _, err := chainclient.ParseSignature(signature); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	entry, err := s.loadOwnedLedger(ctx, ownerID, ledgerID)
	if err != nil {
		return nil, err
	}
	if entry.Status.Terminal() {
		if entry.TransactionSignature != nil && *entry.TransactionSignature == signature {
			return entry, nil
		}
		return nil, fmt.Errorf("%w: ledger entry %s is already %s", ErrInvalidTransition, entry.ID, entry.Status)
	}
	if recorded := derefString(entry.TransactionSignature); recorded != "" && recorded != signature {
		return nil, fmt.Errorf("%w: ledger entry %s was broadcast with a different signature", ErrInvalidTransition, entry.ID)
	}
	return s.confirmSignature(ctx, entry, signature)
}

// ListLedger returns the owner's most recent ledger entries.
func (s *Service) ListLedger(ctx context.Context, ownerID uuid.UUID, limit int) ([]domain.ProviderLedger, error) {
	return s.repo.ListLedgerEntriesByOwner(ctx, ownerID, limit)
}

func (s *Service) loadOwnedLedger(ctx context.Context, ownerID, ledgerID uuid.UUID) (*domain.ProviderLedger, error) {
	entry, err := s.repo.FindLedgerEntryByID(ctx, ledgerID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if entry.OwnerID != ownerID {
		// Reported as missing so ids of other owners are not disclosed.
		return nil, fmt.Errorf("%w: ledger entry %s", ErrNotFound, ledgerID)
	}
	return entry, nil
}

// confirmSignature polls the network with linearly increasing backoff. The entry is
// settled as completed or failed once the network has an answer; if it never does
// within the attempt budget the entry stays pending and the call fails.
func (s *Service) confirmSignature(ctx context.Context, entry *domain.ProviderLedger, signature string) (*domain.ProviderLedger, error) {
	logger := s.logger.With("ledger_id", entry.ID)
	var lastErr error
	for attempt := 1; attempt <= s.opts.ConfirmAttempts; attempt++ {
		status, err := s.verifier.SignatureStatus(ctx, signature)
		switch {
		case err != nil:
			if errors.Is(err, chainclient.ErrInvalidSignature) {
				return nil, fmt.Errorf("%w: %v", ErrValidation, err)
			}
			lastErr = err
			logger.Warn("signature lookup failed", "attempt", attempt, "error", err)
		case status.State == chainclient.SignatureConfirmed:
			now := s.now()
			return s.settleLedger(ctx, entry, store.SettleLedgerParams{
				Status:      domain.LedgerStatusCompleted,
				Signature:   &signature,
				ConfirmedAt: &now,
			})
		case status.State == chainclient.SignatureFailed:
			detail := status.Detail
			if detail == "" {
				detail = "transaction failed on chain"
			}
			return s.settleLedger(ctx, entry, store.SettleLedgerParams{
				Status:      domain.LedgerStatusFailed,
				Signature:   &signature,
				ErrorDetail: &detail,
			})
		default:
			lastErr = nil
		}

		if attempt < s.opts.ConfirmAttempts {
			if err := sleepContext(ctx, time.Duration(attempt)*s.opts.ConfirmBackoff); err != nil {
				return nil, err
			}
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: signature %s could not be verified: %v", ErrProviderUnavailable, signature, lastErr)
	}
	return nil, fmt.Errorf("%w: signature %s not confirmed after %d attempts", ErrProviderRequestFailed, signature, s.opts.ConfirmAttempts)
}

func (s *Service) settleLedger(ctx context.Context, entry *domain.ProviderLedger, params store.SettleLedgerParams) (*domain.ProviderLedger, error) {
	applied, err := s.repo.SettleLedgerEntry(ctx, entry.ID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to settle ledger entry: %w", err)
	}
	if !applied {
		// Settled concurrently; report the stored outcome.
		current, err := s.repo.FindLedgerEntryByID(ctx, entry.ID)
		if err != nil {
			return nil, translateStoreError(err)
		}
		return current, nil
	}

	settled := *entry
	settled.Status = params.Status
	settled.TransactionSignature = params.Signature
	settled.ErrorDetail = params.ErrorDetail
	settled.ConfirmedAt = params.ConfirmedAt
	settled.UpdatedAt = s.now()
	s.logger.Info("ledger entry settled", "ledger_id", entry.ID, "status", params.Status)

	if settled.Status == domain.LedgerStatusCompleted {
		s.notify(ctx, domain.NotificationStakeSettled, entry.OwnerID.String(), map[string]any{
			"ledger_id": settled.ID,
			"operation": settled.Operation,
			"amount":    settled.Amount.String(),
			"signature": derefString(params.Signature),
		})
	}
	return &settled, nil
}

func derefString(sig *string) string {
	if sig == nil {
		return ""
	}
	return *sig
}
