/**
 * @description
 * This package provides a simple producer for publishing messages to RabbitMQ.
 * The payroll service uses it to hand notification events to the notification
 * dispatcher, fire-and-forget.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	Close()
}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
	logger  *slog.Logger
}

// EventProducerFallback is a minimal no-op publisher used when RabbitMQ is unavailable at startup.
type EventProducerFallback struct {
	Logger *slog.Logger
}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("publish skipped", "component", "rabbitmq_producer", "mode", "fallback", "exchange", exchange, "routing_key", routingKey)
	return nil
}

func (p *EventProducerFallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// Stray characters before the scheme are dropped.
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer creates and returns a new EventProducer.
func NewEventProducer(amqpURL string, logger *slog.Logger) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Bounded dial timeout so startup does not hang.
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch, logger: logger}, nil
}

func (p *EventProducer) declare(exchange string) error {
	return p.channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	)
}

func (p *EventProducer) reopen(exchange string) error {
	if p.conn == nil {
		return errors.New("rabbitmq connection is not available")
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.channel = ch
	return p.declare(exchange)
}

// Publish sends a JSON message to a durable topic exchange. A failed publish
// reopens the channel and is retried once.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		p.logger.Error("json marshal failed", "component", "rabbitmq_producer", "exchange", exchange, "routing_key", routingKey, "error", err)
		return err
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         jsonBody,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.declare(exchange); err != nil {
		p.logger.Warn("exchange declare failed; reopening channel", "component", "rabbitmq_producer", "exchange", exchange, "error", err)
		if err := p.reopen(exchange); err != nil {
			return err
		}
	}

	err = p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
	if err == nil {
		return nil
	}
	p.logger.Warn("publish failed; reopening channel", "component", "rabbitmq_producer", "exchange", exchange, "routing_key", routingKey, "error", err)
	if reopenErr := p.reopen(exchange); reopenErr != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
