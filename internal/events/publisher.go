// Package events publishes persisted notifications to an AMQP topic exchange
// (routing key "notification.<type>") for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/metrics"
	"github.com/teamchat/internal/model"
)

// Publisher publishes notification events.
type Publisher interface {
	PublishNotification(ctx context.Context, n *model.Notification) error
	Close() error
}

// NotificationEvent is the wire body of a notification.<type> message.
type NotificationEvent struct {
	EventType    string              `json:"event_type"`
	OccurredAt   time.Time           `json:"occurred_at"`
	Notification *model.Notification `json:"notification"`
}

// RoutingKey returns the topic routing key for a notification type.
func RoutingKey(t model.NotificationType) string {
	return "notification." + string(t)
}

// NewPublisher builds a RabbitMQ publisher or a noop publisher when AMQP is disabled or unreachable.
func NewPublisher(amqpURL, exchange string) Publisher {
	if amqpURL == "" {
		logger.Info("events: amqp disabled, using noop: empty amqp url")
		return noopPublisher{reason: "empty amqp url"}
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		logger.Errorf("events: amqp disabled, using noop: %v", err)
		return noopPublisher{reason: err.Error()}
	}

	ch, err := conn.Channel()
	if err != nil {
		logger.Errorf("events: amqp disabled, using noop: %v", err)
		_ = conn.Close()
		return noopPublisher{reason: err.Error()}
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		logger.Errorf("events: amqp disabled, using noop: %v", err)
		_ = ch.Close()
		_ = conn.Close()
		return noopPublisher{reason: err.Error()}
	}

	logger.Infof("events: amqp connected exchange=%s", exchange)
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange}
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func (p *amqpPublisher) PublishNotification(ctx context.Context, n *model.Notification) error {
	key := RoutingKey(n.Type)
	body, err := json.Marshal(NotificationEvent{EventType: key, OccurredAt: time.Now().UTC(), Notification: n})
	if err != nil {
		return err
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    n.ID,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{"user_id": n.UserID},
		Body:         body,
	})
	if err != nil {
		metrics.IncAMQPPublishError()
		logger.Errorf("events: publish %s failed: %v", key, err)
	}
	return err
}

func (p *amqpPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct {
	reason string
}

func (noopPublisher) PublishNotification(ctx context.Context, n *model.Notification) error {
	logger.Debugf("events: noop publish routing_key=%s notification=%s user=%s", RoutingKey(n.Type), n.ID, n.UserID)
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// PublisherMode reports the publisher mode for logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// PublisherNoopReason explains why a noop publisher was chosen.
func PublisherNoopReason(p Publisher) string {
	if np, ok := p.(noopPublisher); ok {
		return np.reason
	}
	return ""
}
