package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/medconnect/medconnect/internal/domain/catalog"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusRejected  Status = "REJECTED"
	StatusConfirmed Status = "CONFIRMED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRejected
}

// releasesSlot reports whether entering s gives the slot instance back.
func (s Status) releasesSlot() bool {
	return s == StatusCancelled || s == StatusRejected
}

type PaymentMethod string

const (
	PaymentCard PaymentMethod = "CARD"
	PaymentCash PaymentMethod = "CASH_ON_DELIVERY"
)

func (m PaymentMethod) Valid() bool { return m == PaymentCard || m == PaymentCash }

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// LineItem is one selected sub-service or product on a booking.
type LineItem struct {
	ID       uuid.UUID `json:"id"`
	Position int       `json:"position"`
	Type     string    `json:"type"`
	Name     string    `json:"name"`
	Price    int64     `json:"price"`
}

// Booking is one patient request against one provider, service and slot.
// Amounts are in minor currency units.
type Booking struct {
	ID                     uuid.UUID     `json:"id"`
	Kind                   catalog.Kind  `json:"kind"`
	PatientID              uuid.UUID     `json:"patient_id"`
	ProviderID             uuid.UUID     `json:"provider_id"`
	ServiceRef             string        `json:"service_ref,omitempty"`
	WindowID               *uuid.UUID    `json:"window_id,omitempty"`
	ScheduledDate          *time.Time    `json:"scheduled_date,omitempty"`
	Items                  []LineItem    `json:"items"`
	ServiceCharge          int64         `json:"service_charge"`
	TotalAmount            int64         `json:"total_amount"`
	Currency               string        `json:"currency"`
	PaymentMethod          PaymentMethod `json:"payment_method"`
	PaymentStatus          PaymentStatus `json:"payment_status"`
	PaymentReference       *string       `json:"payment_reference,omitempty"`
	PaymentIntentID        *string       `json:"payment_intent_id,omitempty"`
	PaymentIntentCreatedAt *time.Time    `json:"payment_intent_created_at,omitempty"`
	Status                 Status        `json:"status"`
	Notes                  string        `json:"notes,omitempty"`
	CreatedAt              time.Time     `json:"created_at"`
	UpdatedAt              time.Time     `json:"updated_at"`
}

// Paid reports whether an external payment reference has been recorded.
func (b *Booking) Paid() bool {
	return b.PaymentStatus == PaymentCompleted && b.PaymentReference != nil
}

// HasSlot reports whether the booking holds a slot instance.
func (b *Booking) HasSlot() bool {
	return b.WindowID != nil && b.ScheduledDate != nil
}

// Total is the amount charged for items plus the fixed service charge.
func Total(items []LineItem, serviceCharge int64) int64 {
	total := serviceCharge
	for _, it := range items {
		total += it.Price
	}
	return total
}

type LineItemInput struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// CreateInput is a patient's request for a new booking. WindowID and Date
// are required for kinds that take a slot and must be absent otherwise.
type CreateInput struct {
	Kind          catalog.Kind
	PatientID     uuid.UUID
	ProviderID    uuid.UUID
	ServiceRef    string
	WindowID      *uuid.UUID
	Date          *time.Time
	Items         []LineItemInput
	PaymentMethod PaymentMethod
	Notes         string
}

// EventType names a booking lifecycle event.
type EventType string

const (
	EventCreated          EventType = "booking.created"
	EventAccepted         EventType = "booking.accepted"
	EventRejected         EventType = "booking.rejected"
	EventConfirmed        EventType = "booking.confirmed"
	EventCompleted        EventType = "booking.completed"
	EventCancelled        EventType = "booking.cancelled"
	EventPaymentCompleted EventType = "booking.payment.completed"
	EventPaymentFailed    EventType = "booking.payment.failed"
)

var eventByStatus = map[Status]EventType{
	StatusAccepted:  EventAccepted,
	StatusRejected:  EventRejected,
	StatusConfirmed: EventConfirmed,
	StatusCompleted: EventCompleted,
	StatusCancelled: EventCancelled,
}

// EventFor returns the event emitted when a booking enters s.
func EventFor(s Status) (EventType, bool) {
	e, ok := eventByStatus[s]
	return e, ok
}

type Event struct {
	Type       EventType `json:"type"`
	Booking    *Booking  `json:"booking"`
	OccurredAt time.Time `json:"occurred_at"`
}
