package app

import (
	"context"

	"github.com/google/uuid"
	"github.com/transfa/payroll-service/internal/domain"
)

// ListStreams returns the organization's streams, newest first.
func (s *Service) ListStreams(ctx context.Context, actorID, organizationID uuid.UUID) ([]domain.PayrollStream, error) {
	if err := s.authorize(ctx, organizationID, actorID, false); err != nil {
		return nil, err
	}
	return s.repo.ListStreamsByOrganization(ctx, organizationID)
}

// ListStreamRuns returns the runs of a stream ordered by execution time.
func (s *Service) ListStreamRuns(ctx context.Context, actorID, streamID uuid.UUID) ([]domain.StreamRun, error) {
	stream, err := s.loadStream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, stream.OrganizationID, actorID, false); err != nil {
		return nil, err
	}
	return s.repo.ListStreamRuns(ctx, streamID)
}

// GetTreasuryView returns the treasury balance and its recent transfers.
func (s *Service) GetTreasuryView(ctx context.Context, actorID, organizationID uuid.UUID) (*domain.TreasuryView, error) {
	if err := s.authorize(ctx, organizationID, actorID, false); err != nil {
		return nil, err
	}
	treasury, err := s.treasuryFor(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	balance, err := s.gateway.GetAccountBalance(ctx, treasury)
	if err != nil {
		return nil, gatewayError("get balance", err)
	}
	transfers, err := s.gateway.GetTransfers(ctx, treasury, s.opts.TreasuryTransferLimit)
	if err != nil {
		return nil, gatewayError("get transfers", err)
	}

	view := &domain.TreasuryView{
		TreasuryAddress: treasury,
		Balance:         balance.Amount.String(),
		Currency:        balance.Currency,
		Transfers:       make([]domain.TreasuryTransfer, 0, len(transfers)),
	}
	if view.Currency == "" {
		view.Currency = s.opts.Currency
	}
	for _, t := range transfers {
		view.Transfers = append(view.Transfers, domain.TreasuryTransfer{
			ID:          t.ID,
			Amount:      t.Amount.String(),
			Status:      t.Status,
			Destination: t.Destination,
			ConfirmedAt: t.ConfirmedAt,
		})
	}
	return view, nil
}
