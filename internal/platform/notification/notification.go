// Package notification fans booking lifecycle events out to the booking's
// conversation channel and to the event broker. Delivery is best effort:
// failures are logged and never reach the booking operation.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medconnect/medconnect/internal/domain/booking"
	"github.com/medconnect/medconnect/internal/domain/conversation"
)

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// TemplateEngine renders the human readable summary attached to each event.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[booking.EventType]string
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: map[booking.EventType]string{
		booking.EventCreated:          "New {{kind}} booking {{booking_id}} is {{status}}.",
		booking.EventAccepted:         "Booking {{booking_id}} was accepted by the provider.",
		booking.EventRejected:         "Booking {{booking_id}} was declined by the provider.",
		booking.EventConfirmed:        "Booking {{booking_id}} is confirmed.",
		booking.EventCompleted:        "Booking {{booking_id}} is completed.",
		booking.EventCancelled:        "Booking {{booking_id}} was cancelled.",
		booking.EventPaymentCompleted: "Payment of {{amount}} {{currency}} for booking {{booking_id}} was received.",
		booking.EventPaymentFailed:    "Payment for booking {{booking_id}} failed.",
	}}
	return e
}

// RegisterTemplate adds or replaces the template for t.
func (e *TemplateEngine) RegisterTemplate(t booking.EventType, body string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t] = body
}

// Render performs {{key}} replacement. Keys absent from data are left as-is.
func (e *TemplateEngine) Render(t booking.EventType, data map[string]string) (string, error) {
	e.mu.RLock()
	body, ok := e.templates[t]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template %q not found", t)
	}
	for k, v := range data {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return body, nil
}

func templateData(b *booking.Booking) map[string]string {
	return map[string]string{
		"booking_id": b.ID.String(),
		"kind":       string(b.Kind),
		"status":     string(b.Status),
		"amount":     fmt.Sprintf("%d", b.TotalAmount),
		"currency":   strings.ToUpper(b.Currency),
	}
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

// Publisher delivers an event on a channel. The websocket hub and the
// broker publisher both satisfy it.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload interface{}) error
}

// Conversations resolves the conversation of a booking.
type Conversations interface {
	GetOrCreate(ctx context.Context, providerID, patientID uuid.UUID, bookingID *uuid.UUID) (*conversation.Conversation, error)
}

// Payload is what subscribers receive for a booking event.
type Payload struct {
	BookingID      uuid.UUID             `json:"booking_id"`
	ConversationID *uuid.UUID            `json:"conversation_id,omitempty"`
	Kind           string                `json:"kind"`
	Status         booking.Status        `json:"status"`
	PaymentStatus  booking.PaymentStatus `json:"payment_status"`
	Message        string                `json:"message"`
	OccurredAt     time.Time             `json:"occurred_at"`
}

// Dispatcher implements booking.Notifier.
type Dispatcher struct {
	conversations Conversations
	realtime      Publisher
	broker        Publisher
	templates     *TemplateEngine
	timeout       time.Duration
	logger        zerolog.Logger
}

// NewDispatcher builds a fan-out. realtime and broker may be nil to skip
// that sink.
func NewDispatcher(conversations Conversations, realtime, broker Publisher, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		conversations: conversations,
		realtime:      realtime,
		broker:        broker,
		templates:     NewTemplateEngine(),
		timeout:       5 * time.Second,
		logger:        logger.With().Str("component", "notification").Logger(),
	}
}

func (d *Dispatcher) Templates() *TemplateEngine { return d.templates }

// Notify delivers e to every configured sink.
func (d *Dispatcher) Notify(ctx context.Context, e booking.Event) {
	if e.Booking == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	b := e.Booking
	log := d.logger.With().Str("booking_id", b.ID.String()).Str("event", string(e.Type)).Logger()

	msg, err := d.templates.Render(e.Type, templateData(b))
	if err != nil {
		log.Warn().Err(err).Msg("no template for event")
		msg = string(e.Type)
	}
	payload := Payload{
		BookingID:     b.ID,
		Kind:          string(b.Kind),
		Status:        b.Status,
		PaymentStatus: b.PaymentStatus,
		Message:       msg,
		OccurredAt:    e.OccurredAt,
	}

	channel := ""
	if d.conversations != nil {
		bookingID := b.ID
		conv, err := d.conversations.GetOrCreate(ctx, b.ProviderID, b.PatientID, &bookingID)
		if err != nil {
			log.Error().Err(err).Msg("resolving booking conversation failed")
		} else {
			payload.ConversationID = &conv.ID
			channel = conversation.Channel(conv.ID)
		}
	}

	if d.realtime != nil && channel != "" {
		if err := d.realtime.Publish(ctx, channel, string(e.Type), payload); err != nil {
			log.Error().Err(err).Str("channel", channel).Msg("realtime notification failed")
		}
	}
	if d.broker != nil {
		if err := d.broker.Publish(ctx, channel, string(e.Type), payload); err != nil {
			log.Error().Err(err).Msg("broker notification failed")
		}
	}
}
