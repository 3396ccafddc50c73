package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/transfa/payroll-service/internal/domain"
)

const ledgerColumns = `
	id, owner_id, operation, amount::text, status, metadata, transaction_payload,
	transaction_signature, error_detail, confirmed_at, created_at, updated_at
`

func scanLedgerEntry(row pgx.Row) (*domain.ProviderLedger, error) {
	var (
		entry     domain.ProviderLedger
		operation string
		amount    string
		status    string
		metadata  []byte
	)
	if err := row.Scan(
		&entry.ID,
		&entry.OwnerID,
		&operation,
		&amount,
		&status,
		&metadata,
		&entry.TransactionPayload,
		&entry.TransactionSignature,
		&entry.ErrorDetail,
		&entry.ConfirmedAt,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse ledger amount: %w", err)
	}
	entry.Amount = parsed
	entry.Operation = domain.LedgerOperation(operation)
	entry.Status = domain.LedgerStatus(status)

	md, err := domain.DecodeLedgerMetadata(entry.Operation, metadata)
	if err != nil {
		return nil, fmt.Errorf("decode ledger %s metadata: %w", entry.ID, err)
	}
	entry.Metadata = md
	return &entry, nil
}

// CreateLedgerEntry inserts a pending ledger row. The metadata is validated before it is written.
func (r *PostgresRepository) CreateLedgerEntry(ctx context.Context, entry *domain.ProviderLedger) error {
	if err := entry.Metadata.Validate(); err != nil {
		return err
	}
	if entry.Metadata.Operation != entry.Operation {
		return fmt.Errorf("%w: metadata type %q does not match operation %q", domain.ErrInvalidLedgerMetadata, entry.Metadata.Operation, entry.Operation)
	}
	payload, err := entry.Metadata.Payload()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO provider_ledger (
			id, owner_id, operation, amount, status, metadata, transaction_payload
		)
		VALUES ($1, $2, $3, $4::numeric, $5, $6::jsonb, $7)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		entry.ID,
		entry.OwnerID,
		string(entry.Operation),
		entry.Amount.String(),
		string(entry.Status),
		string(payload),
		entry.TransactionPayload,
	).Scan(&entry.CreatedAt, &entry.UpdatedAt)
}

func (r *PostgresRepository) FindLedgerEntryByID(ctx context.Context, ledgerID uuid.UUID) (*domain.ProviderLedger, error) {
	query := `SELECT ` + ledgerColumns + ` FROM provider_ledger WHERE id = $1`
	entry, err := scanLedgerEntry(r.db.QueryRow(ctx, query, ledgerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLedgerNotFound
		}
		return nil, err
	}
	return entry, nil
}

func (r *PostgresRepository) ListLedgerEntriesByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]domain.ProviderLedger, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `SELECT ` + ledgerColumns + ` FROM provider_ledger WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.ProviderLedger, 0)
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// RecordLedgerSignature stores the signature of a broadcast transaction on a pending
// entry that has none yet. It reports false when the entry is settled or already
// carries a signature.
func (r *PostgresRepository) RecordLedgerSignature(ctx context.Context, ledgerID uuid.UUID, signature string) (bool, error) {
	query := `
		UPDATE provider_ledger
		SET transaction_signature = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND transaction_signature IS NULL
	`
	result, err := r.db.Exec(ctx, query, ledgerID, signature)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// SettleLedgerEntry applies a terminal status to a pending entry. It reports false when
// the entry had already been settled by a concurrent caller.
func (r *PostgresRepository) SettleLedgerEntry(ctx context.Context, ledgerID uuid.UUID, params SettleLedgerParams) (bool, error) {
	if !params.Status.Terminal() {
		return false, fmt.Errorf("settle ledger %s: status %q is not terminal", ledgerID, params.Status)
	}
	query := `
		UPDATE provider_ledger
		SET
			status = $2,
			transaction_signature = COALESCE($3, transaction_signature),
			error_detail = $4,
			confirmed_at = $5,
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	result, err := r.db.Exec(ctx, query,
		ledgerID,
		string(params.Status),
		params.Signature,
		params.ErrorDetail,
		params.ConfirmedAt,
	)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}
