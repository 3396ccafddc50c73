package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/transfa/payroll-service/internal/domain"
)

const (
	idempotencyStatusProcessing = "processing"
	idempotencyStatusCompleted  = "completed"
)

// AcquireIdempotencyKey reserves a key for the caller. When the key was already
// completed with the same request hash, the stored response is returned and
// acquired is false. A processing row older than staleWindow is reclaimed.
func (r *PostgresRepository) AcquireIdempotencyKey(
	ctx context.Context,
	scope domain.IdempotencyScope,
	requestHash string,
	ttl time.Duration,
	staleWindow time.Duration,
) (cachedResponse []byte, acquired bool, err error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if staleWindow <= 0 {
		staleWindow = 2 * time.Minute
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin idempotency tx: %w", err)
	}
	defer tx.Rollback(ctx)

	expiresAt := time.Now().UTC().Add(ttl)
	insertQuery := `
		INSERT INTO idempotency_keys (
			owner_id,
			operation,
			idempotency_key,
			request_hash,
			status,
			expires_at,
			updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (owner_id, operation, idempotency_key) DO NOTHING
	`
	insertResult, err := tx.Exec(ctx, insertQuery,
		scope.OwnerID,
		scope.Operation,
		scope.Key,
		requestHash,
		idempotencyStatusProcessing,
		expiresAt,
	)
	if err != nil {
		if isUndefinedTableError(err) {
			return nil, false, ErrIdempotencyStoreMissing
		}
		return nil, false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if insertResult.RowsAffected() == 1 {
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}

	var (
		existingHash    string
		status          string
		responsePayload []byte
		updatedAt       time.Time
		existingExpires time.Time
	)
	selectQuery := `
		SELECT request_hash, status, response_payload, updated_at, expires_at
		FROM idempotency_keys
		WHERE owner_id = $1 AND operation = $2 AND idempotency_key = $3
		FOR UPDATE
	`
	if err := tx.QueryRow(ctx, selectQuery, scope.OwnerID, scope.Operation, scope.Key).Scan(
		&existingHash,
		&status,
		&responsePayload,
		&updatedAt,
		&existingExpires,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrIdempotencyKeyInProgress
		}
		return nil, false, fmt.Errorf("load idempotency row: %w", err)
	}

	now := time.Now().UTC()
	expired := existingExpires.Before(now)
	if !expired && existingHash != requestHash {
		return nil, false, ErrIdempotencyKeyConflict
	}

	if !expired && status == idempotencyStatusCompleted {
		if len(responsePayload) == 0 {
			return nil, false, ErrIdempotencyKeyInProgress
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		return responsePayload, false, nil
	}

	isStale := expired || updatedAt.Before(now.Add(-staleWindow))
	if !isStale {
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		return nil, false, ErrIdempotencyKeyInProgress
	}

	reclaimQuery := `
		UPDATE idempotency_keys
		SET
			request_hash = $4,
			status = $5,
			response_payload = NULL,
			expires_at = $6,
			updated_at = NOW()
		WHERE owner_id = $1 AND operation = $2 AND idempotency_key = $3
	`
	if _, err := tx.Exec(ctx, reclaimQuery,
		scope.OwnerID,
		scope.Operation,
		scope.Key,
		requestHash,
		idempotencyStatusProcessing,
		expiresAt,
	); err != nil {
		return nil, false, fmt.Errorf("reclaim stale idempotency row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return nil, true, nil
}

// CompleteIdempotencyKey stores the response for later replay.
func (r *PostgresRepository) CompleteIdempotencyKey(ctx context.Context, scope domain.IdempotencyScope, response []byte) error {
	query := `
		UPDATE idempotency_keys
		SET
			status = $4,
			response_payload = $5::jsonb,
			updated_at = NOW()
		WHERE owner_id = $1 AND operation = $2 AND idempotency_key = $3
	`
	result, err := r.db.Exec(ctx, query,
		scope.OwnerID,
		scope.Operation,
		scope.Key,
		idempotencyStatusCompleted,
		string(response),
	)
	if err != nil {
		if isUndefinedTableError(err) {
			return ErrIdempotencyStoreMissing
		}
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrIdempotencyKeyInProgress
	}
	return nil
}

// ReleaseIdempotencyKey drops an unfinished reservation so the caller can retry.
func (r *PostgresRepository) ReleaseIdempotencyKey(ctx context.Context, scope domain.IdempotencyScope) error {
	query := `
		DELETE FROM idempotency_keys
		WHERE owner_id = $1 AND operation = $2 AND idempotency_key = $3 AND status = $4
	`
	_, err := r.db.Exec(ctx, query, scope.OwnerID, scope.Operation, scope.Key, idempotencyStatusProcessing)
	if isUndefinedTableError(err) {
		return ErrIdempotencyStoreMissing
	}
	return err
}
