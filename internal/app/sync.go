package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/transfa/payroll-service/internal/domain"
	"golang.org/x/sync/errgroup"
)

// SyncActiveStreams runs SyncExecutionHistory over every active trackable stream.
// A failing stream is recorded in the summary and does not stop the sweep.
// Overlapping sweeps are safe because runs are unique per remote execution.
func (s *Service) SyncActiveStreams(ctx context.Context) (*domain.SyncSummary, error) {
	streams, err := s.repo.ListActiveTrackableStreams(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active streams: %w", err)
	}

	var (
		mu      sync.Mutex
		summary = &domain.SyncSummary{Failures: make([]domain.StreamSyncFailure, 0)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.SyncConcurrency)
	for i := range streams {
		stream := streams[i]
		g.Go(func() error {
			synced, err := s.SyncExecutionHistory(gctx, &stream)

			mu.Lock()
			defer mu.Unlock()
			summary.StreamsProcessed++
			if err != nil {
				s.logger.Warn("stream sync failed", "stream_id", stream.ID, "error", err)
				summary.Failures = append(summary.Failures, domain.StreamSyncFailure{StreamID: stream.ID, Error: err.Error()})
				return nil
			}
			summary.ExecutionsSynced += synced
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(summary.Failures, func(i, j int) bool {
		return summary.Failures[i].StreamID.String() < summary.Failures[j].StreamID.String()
	})
	s.logger.Info("payroll sync sweep finished",
		"streams_processed", summary.StreamsProcessed,
		"executions_synced", summary.ExecutionsSynced,
		"failures", len(summary.Failures),
	)
	return summary, nil
}
