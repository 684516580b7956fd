package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
)

// LogSink writes notifications to the structured log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Send(_ context.Context, msg DeliverArgs) error {
	s.logger.Info("notification", "message_id", msg.MessageID, "user_id", msg.UserID, "title", msg.Title, "body", msg.Body)
	return nil
}

func encode(msg DeliverArgs) ([]byte, error) {
	if msg.Title == "" {
		return nil, fmt.Errorf("%w: empty title", ErrUndeliverable)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndeliverable, err)
	}
	return payload, nil
}

// AMQPSink publishes notifications to a durable RabbitMQ queue consumed by
// the delivery service.
type AMQPSink struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
}

// NewAMQPSink dials RabbitMQ, retrying while the broker starts up.
func NewAMQPSink(ctx context.Context, url, queue string, logger *slog.Logger) (*AMQPSink, error) {
	var conn *amqp.Connection
	var err error
	for i := 0; i < 10; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		logger.Warn("rabbitmq not reachable, retrying", "attempt", i+1, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare a queue: %w", err)
	}
	return &AMQPSink{conn: conn, channel: ch, queue: queue}, nil
}

func (s *AMQPSink) Send(ctx context.Context, msg DeliverArgs) error {
	payload, err := encode(msg)
	if err != nil {
		return err
	}
	err = s.channel.PublishWithContext(ctx,
		"",      // exchange
		s.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			MessageId:    msg.MessageID.String(),
			ContentType:  "application/json",
			Timestamp:    msg.CreatedAt,
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

func (s *AMQPSink) Close() {
	s.channel.Close()
	s.conn.Close()
}

// NATSSink publishes each notification on <prefix>.<user id>, so a gateway
// can subscribe per connected user.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSSink(url, prefix string) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.Name("settlementd"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSSink{conn: conn, prefix: prefix}, nil
}

func (s *NATSSink) Send(_ context.Context, msg DeliverArgs) error {
	payload, err := encode(msg)
	if err != nil {
		return err
	}
	if err := s.conn.Publish(s.Subject(msg), payload); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Subject returns the subject msg is published on.
func (s *NATSSink) Subject(msg DeliverArgs) string {
	return s.prefix + "." + msg.UserID.String()
}

func (s *NATSSink) Close() {
	s.conn.Close()
}
