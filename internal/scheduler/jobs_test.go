package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/transfa/payroll-service/internal/config"
	"github.com/transfa/payroll-service/internal/domain"
)

type payrollClientStub struct {
	mu      sync.Mutex
	calls   int
	summary *domain.SyncSummary
	err     error
	block   chan struct{}
	started chan struct{}
}

func (s *payrollClientStub) SyncActiveStreams(ctx context.Context) (*domain.SyncSummary, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.started != nil {
		close(s.started)
	}
	if s.block != nil {
		<-s.block
	}
	return s.summary, s.err
}

func newTestJobs(client PayrollClient) *Jobs {
	return NewJobs(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSyncPayrollStreams_CallsPayrollService(t *testing.T) {
	client := &payrollClientStub{summary: &domain.SyncSummary{
		StreamsProcessed: 2,
		Failures:         []domain.StreamSyncFailure{{StreamID: uuid.New(), Error: "provider unavailable"}},
	}}
	jobs := newTestJobs(client)

	jobs.SyncPayrollStreams()
	jobs.SyncPayrollStreams()

	if client.calls != 2 {
		t.Fatalf("expected 2 sweeps, got %d", client.calls)
	}
}

func TestSyncPayrollStreams_SurvivesClientError(t *testing.T) {
	client := &payrollClientStub{err: errors.New("connection refused")}
	jobs := newTestJobs(client)

	jobs.SyncPayrollStreams()

	if jobs.running.Load() {
		t.Fatal("expected running flag to be cleared after a failed sweep")
	}
}

func TestSyncPayrollStreams_SkipsOverlappingTick(t *testing.T) {
	client := &payrollClientStub{
		summary: &domain.SyncSummary{},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	jobs := newTestJobs(client)

	done := make(chan struct{})
	go func() {
		jobs.SyncPayrollStreams()
		close(done)
	}()
	<-client.started

	jobs.SyncPayrollStreams()
	close(client.block)
	<-done

	if client.calls != 1 {
		t.Fatalf("expected the overlapping tick to be skipped, got %d calls", client.calls)
	}
}

func TestSchedulerRejectsInvalidSchedule(t *testing.T) {
	jobs := newTestJobs(&payrollClientStub{summary: &domain.SyncSummary{}})
	s := NewScheduler(jobs, slog.New(slog.NewTextHandler(io.Discard, nil)), config.SchedulerConfig{PayrollSyncJobSchedule: "every now and then"})

	if err := s.Start(); err == nil {
		t.Fatal("expected invalid schedule to be rejected")
	}
}

func TestSchedulerStartAndStop(t *testing.T) {
	jobs := newTestJobs(&payrollClientStub{summary: &domain.SyncSummary{}})
	s := NewScheduler(jobs, slog.New(slog.NewTextHandler(io.Discard, nil)), config.SchedulerConfig{PayrollSyncJobSchedule: "*/15 * * * *"})

	if err := s.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	<-s.Stop().Done()
}
