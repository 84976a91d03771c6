// Package amqpnotify queues account e-mails on RabbitMQ for an external mail
// worker.
package amqpnotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/MrEthical07/authguard/notify"
)

// DefaultQueue is the durable queue the mail worker consumes.
const DefaultQueue = "auth.email"

// Message kinds.
const (
	KindVerification    = "verification"
	KindPasswordReset   = "password_reset"
	KindPasswordChanged = "password_changed"
)

// Message is the JSON body of each publishing.
type Message struct {
	Kind      string     `json:"kind"`
	To        string     `json:"to"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	SentAt    time.Time  `json:"sentAt"`
}

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher implements notify.Notifier on an AMQP channel.
type Publisher struct {
	ch    Channel
	queue string
	now   func() time.Time
	close func() error
}

var _ notify.Notifier = (*Publisher)(nil)

// New publishes to queue through ch. The queue must already exist.
func New(ch Channel, queue string) *Publisher {
	if queue == "" {
		queue = DefaultQueue
	}
	return &Publisher{ch: ch, queue: queue, now: time.Now, close: func() error { return nil }}
}

// Dial connects, opens a channel and declares queue as durable.
func Dial(url, queue string) (*Publisher, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqpnotify: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqpnotify: channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqpnotify: declare %s: %w", queue, err)
	}
	p := New(ch, queue)
	p.close = func() error {
		return errors.Join(ch.Close(), conn.Close())
	}
	return p, nil
}

// Close releases the channel and connection opened by Dial.
func (p *Publisher) Close() error {
	return p.close()
}

func (p *Publisher) publish(ctx context.Context, m Message) error {
	m.SentAt = p.now().UTC()
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    m.SentAt,
		Type:         m.Kind,
		Body:         body,
	})
}

func (p *Publisher) SendVerificationEmail(ctx context.Context, to, token string) error {
	return p.publish(ctx, Message{Kind: KindVerification, To: to, Token: token})
}

func (p *Publisher) SendPasswordResetEmail(ctx context.Context, to, token string, expiresAt time.Time) error {
	exp := expiresAt.UTC()
	return p.publish(ctx, Message{Kind: KindPasswordReset, To: to, Token: token, ExpiresAt: &exp})
}

func (p *Publisher) SendPasswordChangeConfirmation(ctx context.Context, to string) error {
	return p.publish(ctx, Message{Kind: KindPasswordChanged, To: to})
}
