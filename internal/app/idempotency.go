package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/transfa/payroll-service/internal/domain"
)

// Idempotent operation names. Keys are unique per owner and operation.
const (
	OperationCreateStream = "create_stream"
	OperationStake        = "stake"
	OperationUnstake      = "unstake"
)

func hashRequest(payload any) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("hash idempotent request: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// submitIdempotent runs fn at most once per scope. A repeated call with the same
// payload returns the stored result of the first call; a different payload is
// rejected with ErrIdempotencyKeyConflict. An empty key disables deduplication.
func submitIdempotent[T any](ctx context.Context, s *Service, scope domain.IdempotencyScope, payload any, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	scope.Key = strings.TrimSpace(scope.Key)
	if scope.Key == "" {
		return fn(ctx)
	}
	if len(scope.Key) > 255 {
		return zero, validationError("idempotency key is too long")
	}

	requestHash, err := hashRequest(payload)
	if err != nil {
		return zero, err
	}

	cached, acquired, err := s.repo.AcquireIdempotencyKey(ctx, scope, requestHash, s.opts.IdempotencyTTL, s.opts.IdempotencyStaleWindow)
	if err != nil {
		return zero, translateStoreError(err)
	}
	if !acquired {
		var result T
		if err := json.Unmarshal(cached, &result); err != nil {
			return zero, fmt.Errorf("decode idempotent response: %w", err)
		}
		s.logger.Info("idempotent replay", "operation", scope.Operation, "owner_id", scope.OwnerID)
		return result, nil
	}

	result, err := fn(ctx)
	if err != nil {
		if releaseErr := s.repo.ReleaseIdempotencyKey(context.WithoutCancel(ctx), scope); releaseErr != nil {
			s.logger.Warn("failed to release idempotency key", "operation", scope.Operation, "owner_id", scope.OwnerID, "error", releaseErr)
		}
		return zero, err
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("failed to encode idempotent response", "operation", scope.Operation, "error", err)
		return result, nil
	}
	if err := s.repo.CompleteIdempotencyKey(context.WithoutCancel(ctx), scope, encoded); err != nil {
		s.logger.Error("failed to complete idempotency key", "operation", scope.Operation, "owner_id", scope.OwnerID, "error", err)
	}
	return result, nil
}
