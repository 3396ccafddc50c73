/**
 * @description
 * Scheduled job implementations for the scheduler-service.
 */
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/transfa/payroll-service/internal/domain"
)

// PayrollClient triggers work on the payroll-service.
type PayrollClient interface {
	SyncActiveStreams(ctx context.Context) (*domain.SyncSummary, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	payroll PayrollClient
	logger  *slog.Logger
	timeout time.Duration
	running atomic.Bool
}

// NewJobs creates a new Jobs runner.
func NewJobs(payroll PayrollClient, logger *slog.Logger) *Jobs {
	return &Jobs{
		payroll: payroll,
		logger:  logger,
		timeout: 10 * time.Minute,
	}
}

// SyncPayrollStreams asks the payroll-service to reconcile every active stream.
// A tick that fires while the previous sweep is still running is skipped.
func (j *Jobs) SyncPayrollStreams() {
	if !j.running.CompareAndSwap(false, true) {
		j.logger.Warn("payroll sync job still running; skipping tick")
		return
	}
	defer j.running.Store(false)

	j.logger.Info("starting payroll sync job")
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	summary, err := j.payroll.SyncActiveStreams(ctx)
	if err != nil {
		j.logger.Error("payroll sync job failed", "error", err)
		return
	}
	for _, failure := range summary.Failures {
		j.logger.Warn("payroll stream failed to sync", "stream_id", failure.StreamID, "error", failure.Error)
	}
	j.logger.Info("payroll sync job finished",
		"streams_processed", summary.StreamsProcessed,
		"executions_synced", summary.ExecutionsSynced,
		"failures", len(summary.Failures),
	)
}
