package amqpnotify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	sent []published
	err  error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange, key, msg})
	return nil
}

func TestPublishesPersistentJSON(t *testing.T) {
	ch := &fakeChannel{}
	p := New(ch, "")
	p.now = func() time.Time { return time.Unix(1767225600, 0) }

	exp := time.Unix(1767226500, 0)
	if err := p.SendPasswordResetEmail(context.Background(), "a@example.com", "tok", exp); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(ch.sent) != 1 {
		t.Fatalf("expected one publishing, got %d", len(ch.sent))
	}
	got := ch.sent[0]
	if got.exchange != "" || got.key != DefaultQueue {
		t.Fatalf("unexpected route %q/%q", got.exchange, got.key)
	}
	if got.msg.DeliveryMode != amqp.Persistent || got.msg.ContentType != "application/json" || got.msg.Type != KindPasswordReset {
		t.Fatalf("unexpected publishing %+v", got.msg)
	}

	var m Message
	if err := json.Unmarshal(got.msg.Body, &m); err != nil {
		t.Fatalf("body: %v", err)
	}
	if m.To != "a@example.com" || m.Token != "tok" || m.ExpiresAt == nil || !m.ExpiresAt.Equal(exp) {
		t.Fatalf("unexpected message %+v", m)
	}
}

func TestConfirmationCarriesNoToken(t *testing.T) {
	ch := &fakeChannel{}
	p := New(ch, "mail")
	if err := p.SendPasswordChangeConfirmation(context.Background(), "a@example.com"); err != nil {
		t.Fatalf("send: %v", err)
	}
	var m map[string]any
	_ = json.Unmarshal(ch.sent[0].msg.Body, &m)
	if _, ok := m["token"]; ok || ch.sent[0].key != "mail" {
		t.Fatalf("unexpected body %v", m)
	}
}

func TestPublishErrorPropagates(t *testing.T) {
	boom := errors.New("channel closed")
	p := New(&fakeChannel{err: boom}, "")
	if err := p.SendVerificationEmail(context.Background(), "a@example.com", "t"); !errors.Is(err, boom) {
		t.Fatalf("expected channel error, got %v", err)
	}
}
