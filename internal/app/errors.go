package app

import (
	"errors"
	"fmt"

	"github.com/transfa/payroll-service/internal/store"
	"github.com/transfa/payroll-service/pkg/gridclient"
)

var (
	ErrValidation               = errors.New("validation failed")
	ErrNotFound                 = errors.New("not found")
	ErrForbidden                = errors.New("forbidden")
	ErrProviderRequestFailed    = errors.New("provider request failed")
	ErrProviderUnavailable      = errors.New("provider unavailable")
	ErrInvalidTransition        = errors.New("invalid stream transition")
	ErrIdempotencyKeyConflict   = errors.New("idempotency key reused with a different payload")
	ErrIdempotencyKeyInProgress = errors.New("a request with this idempotency key is still in progress")
	ErrRateLimited              = errors.New("rate limit exceeded")
)

// RateLimitError reports a rejected write and how long the caller should wait.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s, retry after %ds", ErrRateLimited, e.RetryAfterSeconds)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// translateStoreError maps store sentinels onto the service taxonomy.
func translateStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrStreamNotFound),
		errors.Is(err, store.ErrLedgerNotFound),
		errors.Is(err, store.ErrOrganizationNotFound),
		errors.Is(err, store.ErrEmployeeNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, store.ErrIdempotencyKeyConflict):
		return ErrIdempotencyKeyConflict
	case errors.Is(err, store.ErrIdempotencyKeyInProgress):
		return ErrIdempotencyKeyInProgress
	}
	return err
}

// gatewayError classifies a failed gateway call. Transient failures become
// ErrProviderUnavailable, everything else ErrProviderRequestFailed.
func gatewayError(op string, err error) error {
	if err == nil {
		return nil
	}
	if gridclient.IsTransient(err) {
		return fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrProviderRequestFailed, op, err)
}

// providerWriteError reports a write that failed after its retry budget.
// Writes always surface as ErrProviderRequestFailed, whatever the cause.
func providerWriteError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrProviderRequestFailed, op, err)
}
