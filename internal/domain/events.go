package domain

import (
	"time"

	"github.com/google/uuid"
)

// Notification template types understood by the notification dispatcher.
const (
	NotificationStreamCreated = "payroll_stream_created"
	NotificationPaymentSent   = "payroll_payment_sent"
	NotificationStakeSettled  = "investment_settled"
)

// NotificationEvent is published fire-and-forget to the notification exchange.
type NotificationEvent struct {
	TemplateType string         `json:"template_type"`
	Recipient    string         `json:"recipient"`
	Payload      map[string]any `json:"payload"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// IdempotencyScope is what an idempotency key is unique within.
type IdempotencyScope struct {
	OwnerID   uuid.UUID
	Operation string
	Key       string
}
