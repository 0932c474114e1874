package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"worklink/pkg/domain"
)

const (
	exchangeName   = "worklink.messaging"
	publishTimeout = 3 * time.Second
)

// Publisher emits messaging events for downstream consumers (the push
// notification pipeline among them). Publication is best-effort: a failed
// publish is logged and never fails the send that produced it.
type Publisher interface {
	Notify(ctx context.Context, receiverID string, event *domain.LiveEvent)
	Close() error
}

// AMQPPublisher publishes events to a topic exchange.
type AMQPPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

// NewAMQPPublisher connects to the broker and declares the exchange.
func NewAMQPPublisher(url string, logger *slog.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{
		conn:    conn,
		channel: channel,
		logger:  logger.With("component", "notify"),
	}, nil
}

// Notify publishes an event routed by event type and receiver,
// e.g. "message.new.user-42".
func (p *AMQPPublisher) Notify(ctx context.Context, receiverID string, event *domain.LiveEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("marshal event", "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	err = p.channel.PublishWithContext(ctx, exchangeName, RoutingKey(event.Type, receiverID), false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
	if err != nil {
		p.logger.Warn("publish event failed", "err", err, "receiver", receiverID)
	}
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// RoutingKey builds the topic routing key for an event and receiver.
func RoutingKey(eventType domain.LiveEventType, receiverID string) string {
	switch eventType {
	case domain.EventNewMessage:
		return "message.new." + receiverID
	case domain.EventMessageRead:
		return "message.read." + receiverID
	default:
		return "message.other." + receiverID
	}
}
