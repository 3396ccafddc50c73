package app

import (
	"context"
	"strings"
	"time"

	"github.com/transfa/payroll-service/internal/domain"
)

const notifyTimeout = 5 * time.Second

// notify publishes a notification event. Failures are logged and never returned.
func (s *Service) notify(ctx context.Context, templateType, recipient string, payload map[string]any) {
	if strings.TrimSpace(recipient) == "" {
		s.logger.Warn("notification skipped: no recipient", "template", templateType)
		return
	}
	event := domain.NotificationEvent{
		TemplateType: templateType,
		Recipient:    recipient,
		Payload:      payload,
		OccurredAt:   s.now(),
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, s.opts.NotificationExchange, "notification."+templateType, event); err != nil {
		s.logger.Warn("failed to publish notification", "template", templateType, "error", err)
	}
}
