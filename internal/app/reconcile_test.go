package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/transfa/payroll-service/internal/domain"
	"github.com/transfa/payroll-service/pkg/gridclient"
)

func execution(id, status string, at time.Time) gridclient.Execution {
	transfer := "tr_" + id
	return gridclient.Execution{
		ID:         id,
		TransferID: &transfer,
		Amount:     mustDecimal("1000"),
		Status:     status,
		ExecutedAt: at,
	}
}

func TestRefreshStreamStatusMergesRemoteFields(t *testing.T) {
	f := newFixture(t)
	stream := f.seedStream(domain.StreamStatusActive)
	next := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	remaining := mustDecimal("11000")
	order := f.gateway.orders[*stream.StandingOrderID]
	order.Status = gridclient.StandingOrderPaused
	order.NextExecutionDate = &next
	order.RemainingAmount = &remaining

	view, err := f.svc.RefreshStreamStatus(context.Background(), f.memberID, stream.ID)
	if err != nil {
		t.Fatalf("RefreshStreamStatus returned error: %v", err)
	}
	if view.UsingCachedStatus {
		t.Fatal("expected fresh status")
	}
	if view.Stream.RemoteStatus == nil || *view.Stream.RemoteStatus != gridclient.StandingOrderPaused {
		t.Fatalf("expected remote status paused, got %v", view.Stream.RemoteStatus)
	}
	if view.Stream.NextExecutionAt == nil || !view.Stream.NextExecutionAt.Equal(next) {
		t.Fatalf("expected next execution %s, got %v", next, view.Stream.NextExecutionAt)
	}

	stored, _ := f.repo.FindStreamByID(context.Background(), stream.ID)
	if stored.RemainingAmount == nil || !stored.RemainingAmount.Equal(remaining) {
		t.Fatalf("expected remaining amount to be stored, got %v", stored.RemainingAmount)
	}
	// A remote pause leaves local fields alone.
	if stored.Status != domain.StreamStatusActive || !stored.AmountMonthly.Equal(mustDecimal("1000")) {
		t.Fatalf("local fields changed: status=%s amount=%s", stored.Status, stored.AmountMonthly)
	}
}

func TestRefreshStreamStatusServesCacheWhenProviderUnavailable(t *testing.T) {
	f := newFixture(t)
	stream := f.seedStream(domain.StreamStatusActive)
	f.gateway.getErrs[*stream.StandingOrderID] = transientErr()

	view, err := f.svc.RefreshStreamStatus(context.Background(), f.ownerID, stream.ID)
	if err != nil {
		t.Fatalf("RefreshStreamStatus returned error: %v", err)
	}
	if !view.UsingCachedStatus {
		t.Fatal("expected cached status flag")
	}
	if view.Stream.ID != stream.ID {
		t.Fatalf("expected cached stream %s, got %s", stream.ID, view.Stream.ID)
	}
	if f.repo.remoteStateWrites != 0 {
		t.Fatalf("expected no remote state write, got %d", f.repo.remoteStateWrites)
	}
}

func TestRefreshStreamStatusPermanentFailure(t *testing.T) {
	f := newFixture(t)
	stream := f.seedStream(domain.StreamStatusActive)
	f.gateway.getErrs[*stream.StandingOrderID] = permanentErr()

	_, err := f.svc.RefreshStreamStatus(context.Background(), f.ownerID, stream.ID)
	if !errors.Is(err, ErrProviderRequestFailed) {
		t.Fatalf("expected ErrProviderRequestFailed, got %v", err)
	}
}

func TestSyncExecutionHistoryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	stream := f.seedStream(domain.StreamStatusActive)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	orderID := *stream.StandingOrderID
	f.gateway.setExecutions(orderID,
		execution("ex_1", gridclient.ExecutionCompleted, base),
		execution("ex_2", gridclient.ExecutionCompleted, base.AddDate(0, 1, 0)),
		execution("ex_3", gridclient.ExecutionCompleted, base.AddDate(0, 2, 0)),
	)
	ctx := context.Background()

	synced, err := f.svc.SyncExecutionHistory(ctx, stream)
	if err != nil {
		t.Fatalf("SyncExecutionHistory returned error: %v", err)
	}
	if synced != 3 || f.repo.runCount(stream.ID) != 3 {
		t.Fatalf("expected 3 runs, got synced=%d stored=%d", synced, f.repo.runCount(stream.ID))
	}

	synced, err = f.svc.SyncExecutionHistory(ctx, stream)
	if err != nil {
		t.Fatalf("second SyncExecutionHistory returned error: %v", err)
	}
	if synced != 0 || f.repo.runCount(stream.ID) != 3 {
		t.Fatalf("expected no new runs, got synced=%d stored=%d", synced, f.repo.runCount(stream.ID))
	}

	f.gateway.setExecutions(orderID,
		execution("ex_1", gridclient.ExecutionCompleted, base),
		execution("ex_2", gridclient.ExecutionCompleted, base.AddDate(0, 1, 0)),
		execution("ex_3", gridclient.ExecutionCompleted, base.AddDate(0, 2, 0)),
		execution("ex_4", gridclient.ExecutionCompleted, base.AddDate(0, 3, 0)),
	)
	synced, err = f.svc.SyncExecutionHistory(ctx, stream)
	if err != nil {
		t.Fatalf("third SyncExecutionHistory returned error: %v", err)
	}
	if synced != 1 || f.repo.runCount(stream.ID) != 4 {
		t.Fatalf("expected exactly one new run, got synced=%d stored=%d", synced, f.repo.runCount(stream.ID))
	}
	if got := f.publisher.count(domain.NotificationPaymentSent); got != 4 {
		t.Fatalf("expected one payment notification per run, got %d", got)
	}
}

func TestSyncExecutionHistoryRecordsRunsInExecutionOrder(t *testing.T) {
	f := newFixture(t)
	stream := f.seedStream(domain.StreamStatusActive)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	f.gateway.setExecutions(*stream.StandingOrderID,
		execution("ex_c", gridclient.ExecutionCompleted, base.AddDate(0, 2, 0)),
		execution("ex_a", gridclient.ExecutionCompleted, base),
		execution("ex_b", gridclient.ExecutionCompleted, base.AddDate(0, 1, 0)),
	)

	if _, err := f.svc.SyncExecutionHistory(context.Background(), stream); err != nil {
		t.Fatalf("SyncExecutionHistory returned error: %v", err)
	}
	runs, _ := f.repo.ListStreamRuns(context.Background(), stream.ID)
	want := []string{"ex_a", "ex_b", "ex_c"}
	for i, run := range runs {
		if run.RemoteExecutionID != want[i] {
			t.Fatalf("run %d: expected %s, got %s", i, want[i], run.RemoteExecutionID)
		}
	}
}

func TestSyncExecutionHistoryHandlesFailedAndPendingExecutions(t *testing.T) {
	f := newFixture(t)
	stream := f.seedStream(domain.StreamStatusActive)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	failed := execution("ex_fail", gridclient.ExecutionFailed, base)
	reason := "insufficient funds"
	failed.Error = &reason
	f.gateway.setExecutions(*stream.StandingOrderID,
		failed,
		execution("ex_pending", gridclient.ExecutionPending, base.AddDate(0, 1, 0)),
		execution("", gridclient.ExecutionCompleted, base.AddDate(0, 1, 0)),
	)

	synced, err := f.svc.SyncExecutionHistory(context.Background(), stream)
	if err != nil {
		t.Fatalf("SyncExecutionHistory returned error: %v", err)
	}
	if synced != 1 {
		t.Fatalf("expected only the failed execution to be recorded, got %d", synced)
	}
	runs, _ := f.repo.ListStreamRuns(context.Background(), stream.ID)
	if runs[0].Status != domain.RunStatusFailed || runs[0].ErrorDetail == nil || *runs[0].ErrorDetail != reason {
		t.Fatalf("unexpected failed run: %+v", runs[0])
	}
	if got := f.publisher.count(domain.NotificationPaymentSent); got != 0 {
		t.Fatalf("expected no payment notification for a failed run, got %d", got)
	}
}

func TestSyncExecutionHistorySkipsUntrackedStream(t *testing.T) {
	f := newFixture(t)
	stream := &domain.PayrollStream{OrganizationID: f.orgID, Status: domain.StreamStatusActive}

	synced, err := f.svc.SyncExecutionHistory(context.Background(), stream)
	if err != nil || synced != 0 {
		t.Fatalf("expected no-op, got synced=%d err=%v", synced, err)
	}
	if f.gateway.getCalls != 0 {
		t.Fatalf("expected no provider call, got %d", f.gateway.getCalls)
	}
}

func TestSyncStreamRequiresManager(t *testing.T) {
	f := newFixture(t)
	stream := f.seedStream(domain.StreamStatusActive)

	if _, err := f.svc.SyncStream(context.Background(), f.memberID, stream.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestRefreshStreamStatusStopsStreamCancelledRemotely(t *testing.T) {
	f := newFixture(t)
	stream := f.seedStream(domain.StreamStatusActive)
	f.gateway.orders[*stream.StandingOrderID].Status = "CANCELLED"

	view, err := f.svc.RefreshStreamStatus(context.Background(), f.memberID, stream.ID)
	if err != nil {
		t.Fatalf("RefreshStreamStatus returned error: %v", err)
	}
	if view.Stream.Status != domain.StreamStatusStopped {
		t.Fatalf("expected stopped stream, got %s", view.Stream.Status)
	}

	active, err := f.repo.ListActiveTrackableStreams(context.Background())
	if err != nil {
		t.Fatalf("ListActiveTrackableStreams returned error: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected the stopped stream to leave the sweep, got %d streams", len(active))
	}

	if _, err := f.svc.ResumeStream(context.Background(), f.ownerID, stream.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on resume, got %v", err)
	}
	if _, err := f.svc.PauseStream(context.Background(), f.ownerID, stream.ID); err != nil {
		t.Fatalf("PauseStream returned error: %v", err)
	}
	if len(f.gateway.updateStatus) != 0 {
		t.Fatalf("expected no remote status calls for a stopped stream, got %v", f.gateway.updateStatus)
	}
}

func TestSyncExecutionHistoryStopsCompletedStream(t *testing.T) {
	f := newFixture(t)
	stream := f.seedStream(domain.StreamStatusPaused)
	order := f.gateway.orders[*stream.StandingOrderID]
	order.Status = gridclient.StandingOrderCompleted
	order.Executions = []gridclient.Execution{
		execution("ex_1", gridclient.ExecutionCompleted, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)),
	}

	synced, err := f.svc.SyncExecutionHistory(context.Background(), stream)
	if err != nil {
		t.Fatalf("SyncExecutionHistory returned error: %v", err)
	}
	if synced != 1 {
		t.Fatalf("expected the final execution to be recorded, got %d", synced)
	}
	stored, _ := f.repo.FindStreamByID(context.Background(), stream.ID)
	if stored.Status != domain.StreamStatusStopped {
		t.Fatalf("expected stopped stream, got %s", stored.Status)
	}

	// Already stopped: a second sync does not touch the local status.
	calls := f.repo.updateStatusCalls
	if _, err := f.svc.SyncExecutionHistory(context.Background(), stream); err != nil {
		t.Fatalf("second SyncExecutionHistory returned error: %v", err)
	}
	if f.repo.updateStatusCalls != calls {
		t.Fatalf("expected no further status writes, got %d", f.repo.updateStatusCalls-calls)
	}
}
