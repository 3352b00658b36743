package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lessonmarket/checkout-service/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Routing keys of checkout outcome events
const (
	RoutingCheckoutSucceeded = "checkout.succeeded"
	RoutingCheckoutFailed    = "checkout.failed"
)

// CheckoutEvent is the payload published when a checkout finishes
type CheckoutEvent struct {
	EventID        uuid.UUID `json:"event_id"`
	SessionID      uuid.UUID `json:"session_id"`
	UserID         uuid.UUID `json:"user_id"`
	BookingID      string    `json:"booking_id,omitempty"`
	Message        string    `json:"message,omitempty"`
	AmountDueCents int       `json:"amount_due_cents"`
	CreditCents    int       `json:"credit_cents"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// amqpChannel is the part of *amqp.Channel the publisher uses
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// EventPublisher publishes checkout outcomes to a RabbitMQ topic exchange.
// A publisher without a channel drops events.
type EventPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
	declared bool
	logger   *logrus.Logger
}

// NewEventPublisher dials RabbitMQ. An empty URL returns a disabled publisher.
func NewEventPublisher(cfg config.RabbitMQConfig, logger *logrus.Logger) (*EventPublisher, error) {
	if cfg.URL == "" {
		logger.Info("RabbitMQ URL not configured, checkout events disabled")
		return &EventPublisher{exchange: cfg.Exchange, logger: logger}, nil
	}

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	publisher := newEventPublisher(ch, cfg.Exchange, logger)
	publisher.conn = conn
	return publisher, nil
}

func newEventPublisher(ch amqpChannel, exchange string, logger *logrus.Logger) *EventPublisher {
	return &EventPublisher{
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}
}

// Enabled reports whether events reach a broker
func (p *EventPublisher) Enabled() bool {
	return p != nil && p.channel != nil
}

// CheckoutSucceeded publishes a checkout.succeeded event
func (p *EventPublisher) CheckoutSucceeded(ctx context.Context, event CheckoutEvent) error {
	return p.publish(ctx, RoutingCheckoutSucceeded, event)
}

// CheckoutFailed publishes a checkout.failed event
func (p *EventPublisher) CheckoutFailed(ctx context.Context, event CheckoutEvent) error {
	return p.publish(ctx, RoutingCheckoutFailed, event)
}

func (p *EventPublisher) publish(ctx context.Context, routingKey string, event CheckoutEvent) error {
	if !p.Enabled() {
		return nil
	}
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal checkout event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.declared {
		if err := p.channel.ExchangeDeclare(
			p.exchange, // name
			"topic",    // type
			true,       // durable
			false,      // autoDelete
			false,      // internal
			false,      // noWait
			nil,        // args
		); err != nil {
			p.logger.WithError(err).WithField("exchange", p.exchange).Warn("Failed to declare checkout exchange")
			return fmt.Errorf("failed to declare exchange: %w", err)
		}
		p.declared = true
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.EventID.String(),
			Timestamp:    event.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"routing_key": routingKey,
			"session_id":  event.SessionID,
		}).Warn("Failed to publish checkout event")
		return fmt.Errorf("failed to publish checkout event: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"routing_key": routingKey,
		"session_id":  event.SessionID,
		"booking_id":  event.BookingID,
	}).Debug("Checkout event published")
	return nil
}

// Close closes the channel and connection
func (p *EventPublisher) Close() {
	if p == nil {
		return
	}
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
