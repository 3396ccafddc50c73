package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/payroll-service/internal/domain"
	"github.com/transfa/payroll-service/internal/store"
	"github.com/transfa/payroll-service/pkg/gridclient"
)

const writeScopePayroll = "payroll_write"

// createStreamFingerprint is what an idempotency key is bound to for stream creation.
type createStreamFingerprint struct {
	EmployeeID    *uuid.UUID `json:"employee_id,omitempty"`
	WalletAddress string     `json:"wallet_address,omitempty"`
	AmountMonthly string     `json:"amount_monthly"`
	Cadence       string     `json:"cadence"`
	StartDate     string     `json:"start_date"`
	EndDate       string     `json:"end_date,omitempty"`
}

type payee struct {
	employeeID *uuid.UUID
	address    string
	recipient  string
}

func (s *Service) validateCreateStream(req domain.CreateStreamRequest) (domain.Cadence, string, error) {
	if !req.AmountMonthly.IsPositive() {
		return "", "", validationError("amount_monthly must be greater than zero")
	}
	cadence, ok := domain.ParseCadence(req.Cadence)
	if !ok {
		return "", "", validationError("unknown cadence %q", req.Cadence)
	}
	frequency, ok := cadence.ProviderFrequency()
	if !ok {
		return "", "", validationError("cadence %q is not supported by the payment provider; use weekly or monthly", cadence)
	}
	if !cadence.ExecutionAmount(req.AmountMonthly).IsPositive() {
		return "", "", validationError("amount_monthly is too small for cadence %q", cadence)
	}
	if req.StartDate.IsZero() {
		return "", "", validationError("start_date is required")
	}
	if req.EndDate != nil && !req.EndDate.After(req.StartDate) {
		return "", "", validationError("end_date must be after start_date")
	}
	hasEmployee := req.Payee.EmployeeID != nil
	hasAddress := strings.TrimSpace(req.Payee.WalletAddress) != ""
	if hasEmployee == hasAddress {
		return "", "", validationError("exactly one of payee.employee_id or payee.wallet_address is required")
	}
	return cadence, frequency, nil
}

// resolvePayee finds the settlement address for the payee: the employee profile's
// wallet, then the wallet of the employee's linked user, or a direct address.
func (s *Service) resolvePayee(ctx context.Context, organizationID uuid.UUID, resolution domain.PayeeResolution) (*payee, error) {
	if resolution.EmployeeID == nil {
		address := strings.TrimSpace(resolution.WalletAddress)
		return &payee{address: address, recipient: address}, nil
	}

	profile, err := s.repo.FindEmployeeProfile(ctx, organizationID, *resolution.EmployeeID)
	if err != nil {
		if errors.Is(err, store.ErrEmployeeNotFound) {
			return nil, validationError("employee %s not found in organization", *resolution.EmployeeID)
		}
		return nil, err
	}
	result := &payee{employeeID: &profile.ID, recipient: profile.Email}
	if profile.WalletAddress != nil && strings.TrimSpace(*profile.WalletAddress) != "" {
		result.address = strings.TrimSpace(*profile.WalletAddress)
		return result, nil
	}
	if profile.UserID != nil {
		wallet, err := s.repo.FindUserWalletAddress(ctx, *profile.UserID)
		if err == nil {
			result.address = wallet
			return result, nil
		}
		if !errors.Is(err, store.ErrUserNotFound) {
			return nil, err
		}
	}
	return nil, validationError("employee %s has no wallet address", profile.ID)
}

// CreateStream registers a standing order with the provider and then records the
// stream locally. No local row is written unless the remote create succeeded.
func (s *Service) CreateStream(ctx context.Context, actorID, organizationID uuid.UUID, idempotencyKey string, req domain.CreateStreamRequest) (*domain.PayrollStream, error) {
	cadence, frequency, err := s.validateCreateStream(req)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, organizationID, actorID, true); err != nil {
		return nil, err
	}
	if err := s.consumeWriteQuota(ctx, writeScopePayroll, organizationID.String()); err != nil {
		return nil, err
	}

	fingerprint := createStreamFingerprint{
		EmployeeID:    req.Payee.EmployeeID,
		WalletAddress: strings.TrimSpace(req.Payee.WalletAddress),
		AmountMonthly: req.AmountMonthly.String(),
		Cadence:       string(cadence),
		StartDate:     req.StartDate.UTC().Format(time.RFC3339),
	}
	if req.EndDate != nil {
		fingerprint.EndDate = req.EndDate.UTC().Format(time.RFC3339)
	}
	scope := domain.IdempotencyScope{OwnerID: organizationID, Operation: OperationCreateStream, Key: idempotencyKey}

	return submitIdempotent(ctx, s, scope, fingerprint, func(ctx context.Context) (*domain.PayrollStream, error) {
		return s.createStream(ctx, actorID, organizationID, idempotencyKey, cadence, frequency, req)
	})
}

func (s *Service) createStream(ctx context.Context, actorID, organizationID uuid.UUID, idempotencyKey string, cadence domain.Cadence, frequency string, req domain.CreateStreamRequest) (*domain.PayrollStream, error) {
	target, err := s.resolvePayee(ctx, organizationID, req.Payee)
	if err != nil {
		return nil, err
	}
	treasury, err := s.treasuryFor(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	streamID := uuid.New()
	// The provider deduplicates on this key, which makes retrying the create safe.
	gatewayKey := strings.TrimSpace(idempotencyKey)
	if gatewayKey == "" {
		gatewayKey = streamID.String()
	}
	orderReq := gridclient.CreateStandingOrderRequest{
		Amount:      cadence.ExecutionAmount(req.AmountMonthly),
		Currency:    s.opts.Currency,
		Source:      treasury,
		Destination: target.address,
		Frequency:   frequency,
		StartDate:   req.StartDate.UTC(),
		EndDate:     req.EndDate,
	}

	var created *gridclient.StandingOrderCreated
	err = s.withRetry(ctx, "create_standing_order", func(ctx context.Context) error {
		var callErr error
		created, callErr = s.gateway.CreateStandingOrder(ctx, treasury, orderReq, gatewayKey)
		return callErr
	})
	if err != nil {
		s.logger.Error("standing order creation failed", "organization_id", organizationID, "error", err)
		return nil, providerWriteError("create standing order", err)
	}
	if created == nil || strings.TrimSpace(created.ID) == "" {
		return nil, fmt.Errorf("%w: create standing order returned no id", ErrProviderRequestFailed)
	}

	standingOrderID := created.ID
	remoteStatus := created.Status
	now := s.now()
	stream := &domain.PayrollStream{
		ID:              streamID,
		OrganizationID:  organizationID,
		EmployeeID:      target.employeeID,
		PayeeAddress:    target.address,
		AmountMonthly:   req.AmountMonthly,
		Cadence:         cadence,
		Status:          domain.StreamStatusActive,
		StandingOrderID: &standingOrderID,
		StartDate:       req.StartDate.UTC(),
		EndDate:         req.EndDate,
		RemoteStatus:    &remoteStatus,
		RemoteSyncedAt:  &now,
		CreatedBy:       actorID,
	}
	if err := s.repo.CreateStream(ctx, stream); err != nil {
		s.logger.Error("failed to persist stream after remote create; cancelling standing order",
			"organization_id", organizationID, "standing_order_id", standingOrderID, "error", err)
		if cancelErr := s.gateway.CancelStandingOrder(context.WithoutCancel(ctx), treasury, standingOrderID); cancelErr != nil {
			s.logger.Error("compensating cancel failed", "standing_order_id", standingOrderID, "error", cancelErr)
		}
		return nil, fmt.Errorf("failed to save payroll stream: %w", err)
	}

	s.logger.Info("payroll stream created", "stream_id", stream.ID, "organization_id", organizationID, "standing_order_id", standingOrderID)
	s.notify(ctx, domain.NotificationStreamCreated, target.recipient, map[string]any{
		"stream_id":      stream.ID,
		"amount_monthly": stream.AmountMonthly.String(),
		"cadence":        stream.Cadence,
		"start_date":     stream.StartDate,
	})
	return stream, nil
}

// PauseStream pauses an active stream. Pausing a paused or stopped stream is a no-op.
func (s *Service) PauseStream(ctx context.Context, actorID, streamID uuid.UUID) (*domain.PayrollStream, error) {
	stream, err := s.loadManagedStream(ctx, actorID, streamID)
	if err != nil {
		return nil, err
	}
	if stream.Status != domain.StreamStatusActive {
		return stream, nil
	}
	return s.transition(ctx, stream, domain.StreamStatusPaused, gridclient.StandingOrderPaused)
}

// ResumeStream reactivates a paused stream. A stopped stream cannot be resumed.
func (s *Service) ResumeStream(ctx context.Context, actorID, streamID uuid.UUID) (*domain.PayrollStream, error) {
	stream, err := s.loadManagedStream(ctx, actorID, streamID)
	if err != nil {
		return nil, err
	}
	switch stream.Status {
	case domain.StreamStatusStopped:
		return nil, fmt.Errorf("%w: stream %s is stopped", ErrInvalidTransition, stream.ID)
	case domain.StreamStatusActive:
		return stream, nil
	}
	return s.transition(ctx, stream, domain.StreamStatusActive, gridclient.StandingOrderActive)
}

// StopStream cancels the standing order and stops the stream for good.
// Stopping a stopped stream succeeds without calling the provider again.
func (s *Service) StopStream(ctx context.Context, actorID, streamID uuid.UUID) (*domain.PayrollStream, error) {
	stream, err := s.loadManagedStream(ctx, actorID, streamID)
	if err != nil {
		return nil, err
	}
	if stream.Status.Terminal() {
		return stream, nil
	}
	return s.transition(ctx, stream, domain.StreamStatusStopped, gridclient.StandingOrderCancelled)
}

func (s *Service) loadManagedStream(ctx context.Context, actorID, streamID uuid.UUID) (*domain.PayrollStream, error) {
	stream, err := s.loadStream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, stream.OrganizationID, actorID, true); err != nil {
		return nil, err
	}
	if err := s.consumeWriteQuota(ctx, writeScopePayroll, stream.OrganizationID.String()); err != nil {
		return nil, err
	}
	return stream, nil
}

func (s *Service) remoteStatusCall(treasury, standingOrderID, remoteStatus string) func(ctx context.Context) error {
	if remoteStatus == gridclient.StandingOrderCancelled {
		return func(ctx context.Context) error {
			return s.gateway.CancelStandingOrder(ctx, treasury, standingOrderID)
		}
	}
	return func(ctx context.Context) error {
		return s.gateway.UpdateStandingOrderStatus(ctx, treasury, standingOrderID, remoteStatus)
	}
}

// transition moves the remote standing order first and commits the local status
// only after the remote call succeeded. When the local write fails the remote change
// is reverted where the provider allows it.
func (s *Service) transition(ctx context.Context, stream *domain.PayrollStream, to domain.StreamStatus, remoteStatus string) (*domain.PayrollStream, error) {
	from := stream.Status
	logger := s.logger.With("stream_id", stream.ID, "from", from, "to", to)

	var treasury, standingOrderID string
	if stream.Trackable() {
		var err error
		treasury, err = s.treasuryFor(ctx, stream.OrganizationID)
		if err != nil {
			return nil, err
		}
		standingOrderID = *stream.StandingOrderID
		call := s.remoteStatusCall(treasury, standingOrderID, remoteStatus)
		if err := s.applyRemoteStatus(ctx, treasury, standingOrderID, remoteStatus, call); err != nil {
			logger.Warn("remote status change failed; local status unchanged", "error", err)
			return nil, providerWriteError("update standing order status", err)
		}
	}

	applied, err := s.repo.UpdateStreamStatus(ctx, stream.ID, from, to)
	if err == nil && !applied {
		current, reloadErr := s.repo.FindStreamByID(ctx, stream.ID)
		if reloadErr == nil && current.Status == to {
			return current, nil
		}
		err = fmt.Errorf("%w: stream %s changed concurrently", ErrInvalidTransition, stream.ID)
	}
	if err != nil {
		if standingOrderID != "" {
			s.revertRemoteStatus(ctx, treasury, standingOrderID, from, remoteStatus)
		}
		logger.Error("local status update failed after remote change", "error", err)
		if errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update stream status: %w", err)
	}

	updated := *stream
	updated.Status = to
	updated.UpdatedAt = s.now()
	logger.Info("stream status changed")
	return &updated, nil
}

func (s *Service) revertRemoteStatus(ctx context.Context, treasury, standingOrderID string, from domain.StreamStatus, applied string) {
	if applied == gridclient.StandingOrderCancelled {
		s.logger.Error("standing order cancelled but local stop was not recorded; stopping the stream again will converge",
			"standing_order_id", standingOrderID)
		return
	}
	previous := gridclient.StandingOrderActive
	if from == domain.StreamStatusPaused {
		previous = gridclient.StandingOrderPaused
	}
	if err := s.gateway.UpdateStandingOrderStatus(context.WithoutCancel(ctx), treasury, standingOrderID, previous); err != nil {
		s.logger.Error("failed to revert remote standing order status", "standing_order_id", standingOrderID, "status", previous, "error", err)
	}
}
