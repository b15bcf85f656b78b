package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Message is one outbound email. Actual delivery is delegated to a mailer
// worker consuming the queue; this service only hands the message off.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Mailer hands outbound mail to a delivery backend.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// AMQPMailer publishes messages to a durable RabbitMQ queue.
type AMQPMailer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
}

// NewAMQPMailer connects to RabbitMQ and declares the mail queue.
func NewAMQPMailer(url, queue string) (*AMQPMailer, error) {
	queue = strings.TrimSpace(queue)
	if queue == "" {
		queue = "mail.outbound"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &AMQPMailer{conn: conn, channel: channel, queue: queue}, nil
}

// Send publishes one persistent message.
func (m *AMQPMailer) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = m.channel.PublishWithContext(ctx, "", m.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish mail: %w", err)
	}
	return nil
}

// Close tears down the channel and connection.
func (m *AMQPMailer) Close() error {
	if err := m.channel.Close(); err != nil {
		_ = m.conn.Close()
		return err
	}
	return m.conn.Close()
}

// LogMailer logs messages instead of delivering them. Used in development
// when no broker is configured.
type LogMailer struct{}

// Send logs the message.
func (LogMailer) Send(_ context.Context, msg Message) error {
	slog.Info("outbound mail (log only)", "to", msg.To, "subject", msg.Subject)
	return nil
}

// Close is a no-op.
func (LogMailer) Close() error { return nil }
