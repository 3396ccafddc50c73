/**
 * @description
 * This file defines the `Repository` interface, the contract for every data access
 * operation the payroll core needs. Business logic depends on this interface rather
 * than on PostgreSQL directly, which keeps the lifecycle and reconciliation code
 * testable with in-memory stubs.
 *
 * @dependencies
 * - github.com/google/uuid: identifiers.
 * - internal/domain: the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/payroll-service/internal/domain"
)

var (
	ErrStreamNotFound           = errors.New("payroll stream not found")
	ErrLedgerNotFound           = errors.New("ledger entry not found")
	ErrUserNotFound             = errors.New("user not found")
	ErrMemberNotFound           = errors.New("organization member not found")
	ErrOrganizationNotFound     = errors.New("organization not found")
	ErrEmployeeNotFound         = errors.New("employee profile not found")
	ErrIdempotencyKeyConflict   = errors.New("idempotency key reused with a different request")
	ErrIdempotencyKeyInProgress = errors.New("idempotency key request already in progress")
	ErrIdempotencyStoreMissing  = errors.New("idempotency_keys table is missing")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Organization collaborator lookups (read-only).
	FindUserIDByAuthSubject(ctx context.Context, subject string) (uuid.UUID, error)
	FindMemberRole(ctx context.Context, organizationID, userID uuid.UUID) (domain.MemberRole, error)
	FindOrganizationTreasury(ctx context.Context, organizationID uuid.UUID) (*domain.OrganizationTreasury, error)
	FindEmployeeProfile(ctx context.Context, organizationID, employeeID uuid.UUID) (*domain.EmployeeProfile, error)
	FindUserWalletAddress(ctx context.Context, userID uuid.UUID) (string, error)

	// Payroll stream methods
	CreateStream(ctx context.Context, stream *domain.PayrollStream) error
	FindStreamByID(ctx context.Context, streamID uuid.UUID) (*domain.PayrollStream, error)
	ListStreamsByOrganization(ctx context.Context, organizationID uuid.UUID) ([]domain.PayrollStream, error)
	ListActiveTrackableStreams(ctx context.Context) ([]domain.PayrollStream, error)
	UpdateStreamStatus(ctx context.Context, streamID uuid.UUID, from, to domain.StreamStatus) (bool, error)
	UpdateStreamRemoteState(ctx context.Context, streamID uuid.UUID, state RemoteStateParams) error

	// Stream run methods
	InsertStreamRunIfAbsent(ctx context.Context, run *domain.StreamRun) (bool, error)
	ListStreamRuns(ctx context.Context, streamID uuid.UUID) ([]domain.StreamRun, error)

	// Provider ledger methods
	CreateLedgerEntry(ctx context.Context, entry *domain.ProviderLedger) error
	FindLedgerEntryByID(ctx context.Context, ledgerID uuid.UUID) (*domain.ProviderLedger, error)
	ListLedgerEntriesByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]domain.ProviderLedger, error)
	RecordLedgerSignature(ctx context.Context, ledgerID uuid.UUID, signature string) (bool, error)
	SettleLedgerEntry(ctx context.Context, ledgerID uuid.UUID, params SettleLedgerParams) (bool, error)

	// Idempotency methods
	AcquireIdempotencyKey(ctx context.Context, scope domain.IdempotencyScope, requestHash string, ttl, staleWindow time.Duration) (cachedResponse []byte, acquired bool, err error)
	CompleteIdempotencyKey(ctx context.Context, scope domain.IdempotencyScope, response []byte) error
	ReleaseIdempotencyKey(ctx context.Context, scope domain.IdempotencyScope) error
}

// RemoteStateParams carries the provider-owned fields mirrored onto a stream.
// Local-only fields (amount, cadence, ownership) are never part of it.
type RemoteStateParams struct {
	RemoteStatus    string
	NextExecutionAt *time.Time
	LastExecutionAt *time.Time
	RemainingAmount *decimal.Decimal
	SyncedAt        time.Time
}

// SettleLedgerParams moves a pending ledger entry to a terminal status.
type SettleLedgerParams struct {
	Status      domain.LedgerStatus
	Signature   *string
	ErrorDetail *string
	ConfirmedAt *time.Time
}
