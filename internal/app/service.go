/**
 * @description
 * This file contains the core business logic of the payroll-service. The `Service`
 * struct coordinates the ledger store, the Grid payment provider, the Solana RPC
 * verifier and the notification broker.
 *
 * Key features:
 * - Stream lifecycle: create, pause, resume and stop standing orders, remote first.
 * - Reconciliation: mirror remote standing-order state and materialize executions as runs.
 * - Idempotency: caller supplied keys deduplicate stream creation, stake and unstake.
 *
 * @dependencies
 * - internal/domain, internal/store: domain models and data access.
 * - pkg/gridclient, pkg/chainclient, pkg/rabbitmq: external collaborators.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/payroll-service/internal/domain"
	"github.com/transfa/payroll-service/internal/store"
	"github.com/transfa/payroll-service/pkg/chainclient"
	"github.com/transfa/payroll-service/pkg/gridclient"
	"github.com/transfa/payroll-service/pkg/rabbitmq"
)

// Gateway is the subset of the Grid API the service depends on.
type Gateway interface {
	CreateStandingOrder(ctx context.Context, treasuryAddress string, req gridclient.CreateStandingOrderRequest, idempotencyKey string) (*gridclient.StandingOrderCreated, error)
	GetStandingOrder(ctx context.Context, treasuryAddress, standingOrderID string) (*gridclient.StandingOrder, error)
	UpdateStandingOrderStatus(ctx context.Context, treasuryAddress, standingOrderID, status string) error
	CancelStandingOrder(ctx context.Context, treasuryAddress, standingOrderID string) error
	GetTransfers(ctx context.Context, accountAddress string, limit int) ([]gridclient.Transfer, error)
	GetAccountBalance(ctx context.Context, accountAddress string) (*gridclient.Balance, error)
	PrepareStakeTransaction(ctx context.Context, accountAddress string, req gridclient.PrepareStakeRequest) (*gridclient.PreparedTransaction, error)
	SignAndSend(ctx context.Context, req gridclient.SignAndSendRequest) (*gridclient.SignAndSendResult, error)
}

// SignatureVerifier checks a transaction signature against the network.
type SignatureVerifier interface {
	SignatureStatus(ctx context.Context, signature string) (*chainclient.SignatureStatus, error)
}

// RateLimiter counts write attempts per scope and subject inside a window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Options tunes retries, concurrency and limits.
type Options struct {
	Currency               string
	NotificationExchange   string
	GatewayMaxAttempts     int
	GatewayRetryBackoff    time.Duration
	ConfirmAttempts        int
	ConfirmBackoff         time.Duration
	SyncConcurrency        int
	WriteRateLimit         int
	WriteRateLimitWindow   time.Duration
	IdempotencyTTL         time.Duration
	IdempotencyStaleWindow time.Duration
	TreasuryTransferLimit  int
}

func (o Options) withDefaults() Options {
	if o.Currency == "" {
		o.Currency = "USDC"
	}
	if o.NotificationExchange == "" {
		o.NotificationExchange = "notifications"
	}
	if o.GatewayMaxAttempts <= 0 {
		o.GatewayMaxAttempts = 3
	}
	if o.GatewayRetryBackoff < 0 {
		o.GatewayRetryBackoff = 0
	}
	if o.ConfirmAttempts <= 0 {
		o.ConfirmAttempts = 5
	}
	if o.ConfirmBackoff < 0 {
		o.ConfirmBackoff = 0
	}
	if o.SyncConcurrency <= 0 {
		o.SyncConcurrency = 4
	}
	if o.WriteRateLimitWindow <= 0 {
		o.WriteRateLimitWindow = time.Minute
	}
	if o.IdempotencyTTL <= 0 {
		o.IdempotencyTTL = 24 * time.Hour
	}
	if o.IdempotencyStaleWindow <= 0 {
		o.IdempotencyStaleWindow = 2 * time.Minute
	}
	if o.TreasuryTransferLimit <= 0 {
		o.TreasuryTransferLimit = 20
	}
	return o
}

// Service provides the payroll and investment ledger business logic.
type Service struct {
	repo      store.Repository
	gateway   Gateway
	verifier  SignatureVerifier
	publisher rabbitmq.Publisher
	limiter   RateLimiter
	logger    *slog.Logger
	opts      Options
	now       func() time.Time
}

// NewService creates a new payroll service instance.
func NewService(repo store.Repository, gateway Gateway, verifier SignatureVerifier, publisher rabbitmq.Publisher, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	}
	return &Service{
		repo:      repo,
		gateway:   gateway,
		verifier:  verifier,
		publisher: publisher,
		logger:    logger.With("component", "payroll_service"),
		opts:      opts.withDefaults(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetRateLimiter enables per-organization and per-owner write throttling.
func (s *Service) SetRateLimiter(limiter RateLimiter) {
	s.limiter = limiter
}

// ResolveInternalUserID maps an identity provider subject to the internal user id.
func (s *Service) ResolveInternalUserID(ctx context.Context, subject string) (uuid.UUID, error) {
	id, err := s.repo.FindUserIDByAuthSubject(ctx, subject)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return uuid.Nil, fmt.Errorf("%w: unknown user", ErrForbidden)
		}
		return uuid.Nil, err
	}
	return id, nil
}

// authorize checks that actorID belongs to the organization, and holds a payroll
// management role when requireManager is set.
func (s *Service) authorize(ctx context.Context, organizationID, actorID uuid.UUID, requireManager bool) error {
	role, err := s.repo.FindMemberRole(ctx, organizationID, actorID)
	if err != nil {
		if errors.Is(err, store.ErrMemberNotFound) {
			return fmt.Errorf("%w: not a member of organization %s", ErrForbidden, organizationID)
		}
		return err
	}
	if requireManager && !role.CanManagePayroll() {
		return fmt.Errorf("%w: role %q cannot manage payroll", ErrForbidden, role)
	}
	return nil
}

// consumeWriteQuota applies the write rate limit. Limiter failures are logged and the
// write is allowed.
func (s *Service) consumeWriteQuota(ctx context.Context, scope, subject string) error {
	if s.limiter == nil || s.opts.WriteRateLimit <= 0 {
		return nil
	}
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, scope, subject, s.opts.WriteRateLimit, s.opts.WriteRateLimitWindow)
	if err != nil {
		s.logger.Warn("rate limiter unavailable; allowing request", "scope", scope, "subject", subject, "error", err)
		return nil
	}
	if count > s.opts.WriteRateLimit {
		return &RateLimitError{RetryAfterSeconds: retryAfter}
	}
	return nil
}

func (s *Service) loadStream(ctx context.Context, streamID uuid.UUID) (*domain.PayrollStream, error) {
	stream, err := s.repo.FindStreamByID(ctx, streamID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return stream, nil
}

func (s *Service) treasuryFor(ctx context.Context, organizationID uuid.UUID) (string, error) {
	treasury, err := s.repo.FindOrganizationTreasury(ctx, organizationID)
	if err != nil {
		if errors.Is(err, store.ErrOrganizationNotFound) {
			return "", validationError("organization %s has no treasury account", organizationID)
		}
		return "", err
	}
	return treasury.TreasuryAddress, nil
}
