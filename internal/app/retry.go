package app

import (
	"context"
	"strings"
	"time"

	"github.com/transfa/payroll-service/pkg/gridclient"
)

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// withRetry runs fn up to GatewayMaxAttempts times with linearly increasing backoff.
// Only transient gateway errors are retried. Use it for calls that are safe to repeat:
// reads, and creates carrying an idempotency key.
func (s *Service) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= s.opts.GatewayMaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !gridclient.IsTransient(err) || attempt == s.opts.GatewayMaxAttempts {
			break
		}
		s.logger.Warn("transient gateway failure; retrying", "op", op, "attempt", attempt, "error", err)
		if sleepErr := sleepContext(ctx, time.Duration(attempt)*s.opts.GatewayRetryBackoff); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

// applyRemoteStatus performs a status-changing call that the provider does not treat
// as idempotent. After any failure the remote standing order is read back; the call
// is only repeated when the remote has not reached the desired status and the
// failure was transient.
func (s *Service) applyRemoteStatus(ctx context.Context, treasury, standingOrderID, desired string, call func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= s.opts.GatewayMaxAttempts; attempt++ {
		if err = call(ctx); err == nil {
			return nil
		}

		order, readErr := s.gateway.GetStandingOrder(ctx, treasury, standingOrderID)
		if readErr == nil && strings.EqualFold(order.Status, desired) {
			s.logger.Info("remote already reflects requested status", "standing_order_id", standingOrderID, "status", desired)
			return nil
		}
		if !gridclient.IsTransient(err) || attempt == s.opts.GatewayMaxAttempts {
			break
		}
		s.logger.Warn("transient status update failure; retrying after remote check", "standing_order_id", standingOrderID, "attempt", attempt, "error", err)
		if sleepErr := sleepContext(ctx, time.Duration(attempt)*s.opts.GatewayRetryBackoff); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}
