package notification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medconnect/medconnect/internal/domain/booking"
	"github.com/medconnect/medconnect/internal/domain/catalog"
	"github.com/medconnect/medconnect/internal/domain/conversation"
)

type publishCall struct {
	channel string
	event   string
	payload Payload
}

type mockPublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

func (m *mockPublisher) Publish(_ context.Context, channel, event string, payload interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, _ := payload.(Payload)
	m.calls = append(m.calls, publishCall{channel, event, p})
	return m.err
}

func (m *mockPublisher) Calls() []publishCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishCall(nil), m.calls...)
}

type failingConversations struct{}

func (failingConversations) GetOrCreate(context.Context, uuid.UUID, uuid.UUID, *uuid.UUID) (*conversation.Conversation, error) {
	return nil, errors.New("store unavailable")
}

func newBooking() *booking.Booking {
	return &booking.Booking{
		ID:            uuid.New(),
		Kind:          catalog.HomeService,
		PatientID:     uuid.New(),
		ProviderID:    uuid.New(),
		TotalAmount:   1000,
		Currency:      "usd",
		Status:        booking.StatusPending,
		PaymentStatus: booking.PaymentPending,
	}
}

func newConversations() *conversation.Service {
	return conversation.NewService(conversation.NewMemoryRepo(), nil, zerolog.Nop())
}

func TestTemplateEngine_Render(t *testing.T) {
	e := NewTemplateEngine()
	b := newBooking()

	got, err := e.Render(booking.EventPaymentCompleted, templateData(b))
	if err != nil {
		t.Fatal(err)
	}
	want := "Payment of 1000 USD for booking " + b.ID.String() + " was received."
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	if _, err := e.Render("booking.unknown", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}

	e.RegisterTemplate(booking.EventCreated, "hello {{missing}}")
	got, _ = e.Render(booking.EventCreated, templateData(b))
	if got != "hello {{missing}}" {
		t.Fatalf("unknown keys should be left alone, got %q", got)
	}
}

func TestDispatcher_FansOutToConversationAndBroker(t *testing.T) {
	convs := newConversations()
	realtime := &mockPublisher{}
	broker := &mockPublisher{}
	d := NewDispatcher(convs, realtime, broker, zerolog.Nop())

	b := newBooking()
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	d.Notify(context.Background(), booking.Event{Type: booking.EventCreated, Booking: b, OccurredAt: at})

	conv, err := convs.GetOrCreate(context.Background(), b.ProviderID, b.PatientID, &b.ID)
	if err != nil {
		t.Fatal(err)
	}

	rt := realtime.Calls()
	if len(rt) != 1 {
		t.Fatalf("expected 1 realtime publish, got %d", len(rt))
	}
	if rt[0].channel != conversation.Channel(conv.ID) || rt[0].event != "booking.created" {
		t.Fatalf("unexpected realtime call %+v", rt[0])
	}
	if rt[0].payload.ConversationID == nil || *rt[0].payload.ConversationID != conv.ID {
		t.Fatal("payload should carry the conversation id")
	}
	if !strings.Contains(rt[0].payload.Message, "HOME_SERVICE") || !rt[0].payload.OccurredAt.Equal(at) {
		t.Fatalf("payload = %+v", rt[0].payload)
	}

	br := broker.Calls()
	if len(br) != 1 || br[0].event != "booking.created" || br[0].payload.BookingID != b.ID {
		t.Fatalf("unexpected broker calls %+v", br)
	}
}

func TestDispatcher_SameConversationAcrossEvents(t *testing.T) {
	realtime := &mockPublisher{}
	d := NewDispatcher(newConversations(), realtime, nil, zerolog.Nop())
	b := newBooking()

	d.Notify(context.Background(), booking.Event{Type: booking.EventCreated, Booking: b})
	d.Notify(context.Background(), booking.Event{Type: booking.EventAccepted, Booking: b})

	calls := realtime.Calls()
	if len(calls) != 2 || calls[0].channel != calls[1].channel {
		t.Fatalf("events should share a channel: %+v", calls)
	}
}

func TestDispatcher_FailuresAreSwallowed(t *testing.T) {
	realtime := &mockPublisher{err: errors.New("hub down")}
	broker := &mockPublisher{err: errors.New("broker down")}
	d := NewDispatcher(newConversations(), realtime, broker, zerolog.Nop())

	d.Notify(context.Background(), booking.Event{Type: booking.EventCancelled, Booking: newBooking()})

	if len(realtime.Calls()) != 1 || len(broker.Calls()) != 1 {
		t.Fatal("both sinks should be attempted")
	}
}

func TestDispatcher_ConversationFailureStillReachesBroker(t *testing.T) {
	realtime := &mockPublisher{}
	broker := &mockPublisher{}
	d := NewDispatcher(failingConversations{}, realtime, broker, zerolog.Nop())

	d.Notify(context.Background(), booking.Event{Type: booking.EventConfirmed, Booking: newBooking()})

	if len(realtime.Calls()) != 0 {
		t.Fatal("no channel, no realtime publish")
	}
	calls := broker.Calls()
	if len(calls) != 1 || calls[0].channel != "" || calls[0].payload.ConversationID != nil {
		t.Fatalf("broker calls = %+v", calls)
	}
}

func TestDispatcher_NilBookingIgnored(t *testing.T) {
	broker := &mockPublisher{}
	d := NewDispatcher(nil, nil, broker, zerolog.Nop())
	d.Notify(context.Background(), booking.Event{Type: booking.EventCreated})
	if len(broker.Calls()) != 0 {
		t.Fatal("expected nothing published")
	}
}

func TestDispatcher_ImplementsNotifier(t *testing.T) {
	var _ booking.Notifier = NewDispatcher(nil, nil, nil, zerolog.Nop())
}
