package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type sent struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	sent   []sent
	err    error
	closed bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{exchange, key, msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestPublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	p := NewPublisher(ch, "medconnect.events")
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	err := p.Publish(context.Background(), "conversation:abc", "booking.created", map[string]string{"id": "b1"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(ch.sent) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(ch.sent))
	}
	got := ch.sent[0]
	if got.exchange != "medconnect.events" || got.key != "booking.created" {
		t.Fatalf("routed to %s/%s", got.exchange, got.key)
	}
	if got.msg.DeliveryMode != amqp.Persistent || got.msg.ContentType != "application/json" {
		t.Fatalf("unexpected publishing %+v", got.msg)
	}

	var body struct {
		Type       string            `json:"type"`
		Channel    string            `json:"channel"`
		OccurredAt time.Time         `json:"occurred_at"`
		Data       map[string]string `json:"data"`
	}
	if err := json.Unmarshal(got.msg.Body, &body); err != nil {
		t.Fatal(err)
	}
	if body.Type != "booking.created" || body.Channel != "conversation:abc" || body.Data["id"] != "b1" || !body.OccurredAt.Equal(at) {
		t.Fatalf("body = %+v", body)
	}
}

func TestPublisher_PublishError(t *testing.T) {
	down := errors.New("channel closed")
	p := NewPublisher(&fakeChannel{err: down}, "x")
	if err := p.Publish(context.Background(), "", "booking.cancelled", nil); !errors.Is(err, down) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
}

func TestPublisher_EncodeError(t *testing.T) {
	ch := &fakeChannel{}
	p := NewPublisher(ch, "x")
	if err := p.Publish(context.Background(), "", "booking.created", make(chan int)); err == nil {
		t.Fatal("expected encode error")
	}
	if len(ch.sent) != 0 {
		t.Fatal("nothing should be sent")
	}
}

func TestPublisher_Close(t *testing.T) {
	ch := &fakeChannel{}
	if err := NewPublisher(ch, "x").Close(); err != nil || !ch.closed {
		t.Fatalf("Close: %v closed=%v", err, ch.closed)
	}
}
