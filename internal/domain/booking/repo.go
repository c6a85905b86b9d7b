package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts the booking and its line items.
	Create(ctx context.Context, b *Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Booking, int, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*Booking, int, error)

	// UpdateStatus moves the booking from one status to another. It reports
	// false when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (bool, error)

	// SetPaymentIntent replaces the intent prev with intentID and resets a
	// FAILED payment to PENDING. It reports false when the payment is already
	// COMPLETED or the stored intent is no longer prev.
	SetPaymentIntent(ctx context.Context, id uuid.UUID, prev *string, intentID string, at time.Time) (bool, error)
	// CompletePayment writes the paid state once. When to is set the booking
	// status moves from from to to in the same write. It reports false when
	// the payment was already COMPLETED or the status changed.
	CompletePayment(ctx context.Context, id uuid.UUID, reference string, from Status, to *Status, at time.Time) (bool, error)
	// MarkPaymentFailed sets a PENDING payment to FAILED.
	MarkPaymentFailed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// ListStaleIntents returns CARD bookings with a PENDING payment whose
	// intent was created before cutoff, oldest first.
	ListStaleIntents(ctx context.Context, cutoff time.Time, limit int) ([]*Booking, error)
}
