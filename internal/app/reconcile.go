package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/transfa/payroll-service/internal/domain"
	"github.com/transfa/payroll-service/internal/store"
	"github.com/transfa/payroll-service/pkg/gridclient"
)

// RefreshStreamStatus returns the stream with its remote state merged in. When the
// provider is unreachable the cached copy is returned and flagged as such.
func (s *Service) RefreshStreamStatus(ctx context.Context, actorID, streamID uuid.UUID) (*domain.StreamStatusView, error) {
	stream, err := s.loadStream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, stream.OrganizationID, actorID, false); err != nil {
		return nil, err
	}
	return s.refreshStreamStatus(ctx, stream)
}

func (s *Service) refreshStreamStatus(ctx context.Context, stream *domain.PayrollStream) (*domain.StreamStatusView, error) {
	if !stream.Trackable() {
		return &domain.StreamStatusView{Stream: stream}, nil
	}
	treasury, err := s.treasuryFor(ctx, stream.OrganizationID)
	if err != nil {
		return nil, err
	}

	order, err := s.gateway.GetStandingOrder(ctx, treasury, *stream.StandingOrderID)
	if err != nil {
		if gridclient.IsTransient(err) {
			s.logger.Warn("provider unavailable; serving cached stream status", "stream_id", stream.ID, "error", err)
			return &domain.StreamStatusView{Stream: stream, UsingCachedStatus: true}, nil
		}
		return nil, gatewayError("get standing order", err)
	}

	if err := s.mergeRemoteState(ctx, stream, order); err != nil {
		return nil, err
	}
	return &domain.StreamStatusView{Stream: stream}, nil
}

// mergeRemoteState overwrites the provider-owned fields of stream with order.
// Amount, cadence and ownership are local-only and left alone. A remote order that
// was cancelled or completed stops the local stream.
func (s *Service) mergeRemoteState(ctx context.Context, stream *domain.PayrollStream, order *gridclient.StandingOrder) error {
	synced := s.now()
	state := store.RemoteStateParams{
		RemoteStatus:    order.Status,
		NextExecutionAt: order.NextExecutionDate,
		LastExecutionAt: order.LastExecutionDate,
		RemainingAmount: order.RemainingAmount,
		SyncedAt:        synced,
	}
	if err := s.repo.UpdateStreamRemoteState(ctx, stream.ID, state); err != nil {
		return fmt.Errorf("failed to save remote stream state: %w", translateStoreError(err))
	}

	remoteStatus := order.Status
	stream.RemoteStatus = &remoteStatus
	stream.NextExecutionAt = order.NextExecutionDate
	if order.LastExecutionDate != nil {
		stream.LastExecutionAt = order.LastExecutionDate
	}
	stream.RemainingAmount = order.RemainingAmount
	stream.RemoteSyncedAt = &synced

	if !remoteTerminal(order.Status) || stream.Status.Terminal() {
		return nil
	}
	from := stream.Status
	stopped, err := s.repo.UpdateStreamStatus(ctx, stream.ID, from, domain.StreamStatusStopped)
	if err != nil {
		return fmt.Errorf("failed to stop stream after remote %s: %w", order.Status, translateStoreError(err))
	}
	if stopped {
		stream.Status = domain.StreamStatusStopped
		s.logger.Info("stream stopped to match remote standing order", "stream_id", stream.ID, "previous_status", from, "remote_status", order.Status)
	}
	return nil
}

// remoteTerminal reports whether the provider will never execute the standing order again.
func remoteTerminal(status string) bool {
	return strings.EqualFold(status, gridclient.StandingOrderCancelled) ||
		strings.EqualFold(status, gridclient.StandingOrderCompleted)
}

// SyncStream runs SyncExecutionHistory for one stream on behalf of a payroll manager.
func (s *Service) SyncStream(ctx context.Context, actorID, streamID uuid.UUID) (int, error) {
	stream, err := s.loadStream(ctx, streamID)
	if err != nil {
		return 0, err
	}
	if err := s.authorize(ctx, stream.OrganizationID, actorID, true); err != nil {
		return 0, err
	}
	return s.SyncExecutionHistory(ctx, stream)
}

func runFromExecution(streamID uuid.UUID, exec gridclient.Execution) (*domain.StreamRun, bool) {
	run := &domain.StreamRun{
		ID:                uuid.New(),
		StreamID:          streamID,
		RemoteExecutionID: exec.ID,
		RemoteTransferID:  exec.TransferID,
		Amount:            exec.Amount,
		ExecutedAt:        exec.ExecutedAt.UTC(),
	}
	switch strings.ToLower(exec.Status) {
	case gridclient.ExecutionCompleted:
		run.Status = domain.RunStatusCompleted
	case gridclient.ExecutionFailed:
		run.Status = domain.RunStatusFailed
		detail := "execution failed"
		if exec.Error != nil && strings.TrimSpace(*exec.Error) != "" {
			detail = strings.TrimSpace(*exec.Error)
		}
		run.ErrorDetail = &detail
	default:
		// Still in flight; it is recorded once the provider settles it.
		return nil, false
	}
	return run, true
}

// SyncExecutionHistory materializes every settled remote execution of the stream as
// a run, oldest first, and returns how many runs were newly created. Executions that
// already have a run are skipped, so repeated or concurrent calls converge on the
// same set of runs.
func (s *Service) SyncExecutionHistory(ctx context.Context, stream *domain.PayrollStream) (int, error) {
	if !stream.Trackable() {
		return 0, nil
	}
	treasury, err := s.treasuryFor(ctx, stream.OrganizationID)
	if err != nil {
		return 0, err
	}

	var order *gridclient.StandingOrder
	err = s.withRetry(ctx, "get_standing_order", func(ctx context.Context) error {
		var callErr error
		order, callErr = s.gateway.GetStandingOrder(ctx, treasury, *stream.StandingOrderID)
		return callErr
	})
	if err != nil {
		return 0, gatewayError("get standing order", err)
	}
	if err := s.mergeRemoteState(ctx, stream, order); err != nil {
		return 0, err
	}

	executions := append([]gridclient.Execution(nil), order.Executions...)
	sort.SliceStable(executions, func(i, j int) bool {
		if executions[i].ExecutedAt.Equal(executions[j].ExecutedAt) {
			return executions[i].ID < executions[j].ID
		}
		return executions[i].ExecutedAt.Before(executions[j].ExecutedAt)
	})

	synced := 0
	for _, exec := range executions {
		if strings.TrimSpace(exec.ID) == "" {
			s.logger.Warn("skipping remote execution without id", "stream_id", stream.ID)
			continue
		}
		run, ok := runFromExecution(stream.ID, exec)
		if !ok {
			continue
		}
		created, err := s.repo.InsertStreamRunIfAbsent(ctx, run)
		if err != nil {
			return synced, fmt.Errorf("failed to record run for execution %s: %w", exec.ID, err)
		}
		if !created {
			continue
		}
		synced++
		if run.Status == domain.RunStatusCompleted {
			s.notifyPaymentSent(ctx, stream, run)
		}
	}

	if synced > 0 {
		s.logger.Info("stream executions synced", "stream_id", stream.ID, "new_runs", synced)
	}
	return synced, nil
}

func (s *Service) notifyPaymentSent(ctx context.Context, stream *domain.PayrollStream, run *domain.StreamRun) {
	recipient := stream.PayeeAddress
	if stream.EmployeeID != nil {
		profile, err := s.repo.FindEmployeeProfile(ctx, stream.OrganizationID, *stream.EmployeeID)
		if err == nil && profile.Email != "" {
			recipient = profile.Email
		}
	}
	payload := map[string]any{
		"stream_id":           stream.ID,
		"run_id":              run.ID,
		"remote_execution_id": run.RemoteExecutionID,
		"amount":              run.Amount.String(),
		"executed_at":         run.ExecutedAt,
	}
	if run.RemoteTransferID != nil {
		payload["transfer_id"] = *run.RemoteTransferID
	}
	s.notify(ctx, domain.NotificationPaymentSent, recipient, payload)
}
