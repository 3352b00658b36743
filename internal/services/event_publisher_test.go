package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/lessonmarket/checkout-service/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	declares   int
	declareErr error
	publishErr error
	messages   []published
	closed     bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.declares++
	return f.declareErr
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.messages = append(f.messages, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestEventPublisher_Publishes(t *testing.T) {
	ch := &fakeChannel{}
	publisher := newEventPublisher(ch, "checkout_events", discardLogger())
	sessionID := uuid.New()

	require.NoError(t, publisher.CheckoutSucceeded(context.Background(), CheckoutEvent{SessionID: sessionID, BookingID: "bk-1", AmountDueCents: 9500}))
	require.NoError(t, publisher.CheckoutFailed(context.Background(), CheckoutEvent{SessionID: sessionID, Message: "Your card was declined."}))

	assert.Equal(t, 1, ch.declares, "exchange is declared once")
	require.Len(t, ch.messages, 2)
	assert.Equal(t, "checkout_events", ch.messages[0].exchange)
	assert.Equal(t, RoutingCheckoutSucceeded, ch.messages[0].key)
	assert.Equal(t, RoutingCheckoutFailed, ch.messages[1].key)
	assert.Equal(t, amqp.Persistent, ch.messages[0].msg.DeliveryMode)

	var event CheckoutEvent
	require.NoError(t, json.Unmarshal(ch.messages[0].msg.Body, &event))
	assert.Equal(t, sessionID, event.SessionID)
	assert.Equal(t, "bk-1", event.BookingID)
	assert.NotEqual(t, uuid.Nil, event.EventID)
	assert.Equal(t, event.EventID.String(), ch.messages[0].msg.MessageId)
	assert.False(t, event.OccurredAt.IsZero())

	publisher.Close()
	assert.True(t, ch.closed)
}

func TestEventPublisher_Failures(t *testing.T) {
	t.Run("Declare failure is retried next time", func(t *testing.T) {
		ch := &fakeChannel{declareErr: errors.New("channel closed")}
		publisher := newEventPublisher(ch, "checkout_events", discardLogger())

		assert.Error(t, publisher.CheckoutSucceeded(context.Background(), CheckoutEvent{}))
		ch.declareErr = nil
		assert.NoError(t, publisher.CheckoutSucceeded(context.Background(), CheckoutEvent{}))
		assert.Equal(t, 2, ch.declares)
	})

	t.Run("Publish failure", func(t *testing.T) {
		ch := &fakeChannel{publishErr: errors.New("flow control")}
		publisher := newEventPublisher(ch, "checkout_events", discardLogger())

		err := publisher.CheckoutFailed(context.Background(), CheckoutEvent{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to publish checkout event")
	})
}

func TestEventPublisher_Disabled(t *testing.T) {
	publisher, err := NewEventPublisher(config.RabbitMQConfig{Exchange: "checkout_events"}, discardLogger())
	require.NoError(t, err)
	assert.False(t, publisher.Enabled())
	assert.NoError(t, publisher.CheckoutSucceeded(context.Background(), CheckoutEvent{}))
	publisher.Close()

	var nilPublisher *EventPublisher
	assert.False(t, nilPublisher.Enabled())
	assert.NoError(t, nilPublisher.CheckoutFailed(context.Background(), CheckoutEvent{}))
}
