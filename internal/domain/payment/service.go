package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medconnect/medconnect/internal/domain/booking"
	"github.com/medconnect/medconnect/internal/domain/catalog"
	"github.com/medconnect/medconnect/pkg/apperror"
)

const gatewayName = "payment gateway"

// maxConfirmAttempts bounds the re-read loop when the booking status moves
// underneath a confirmation.
const maxConfirmAttempts = 3

type Config struct {
	// Timeout bounds every gateway call.
	Timeout time.Duration
	// ReconcileAfter is the age at which an unconfirmed intent is swept.
	ReconcileAfter time.Duration
	// ExpireAfter is the age at which a still-open intent is cancelled.
	ExpireAfter time.Duration
	// BatchSize caps the bookings examined per sweep.
	BatchSize int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.ReconcileAfter <= 0 {
		c.ReconcileAfter = 15 * time.Minute
	}
	if c.ExpireAfter <= 0 {
		c.ExpireAfter = 24 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

// Service reconciles booking payment fields with the gateway. It is the
// only writer of those fields.
type Service struct {
	repo     booking.Repository
	bookings *booking.Service
	gateway  Gateway
	cfg      Config
	notifier booking.Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo booking.Repository, bookings *booking.Service, gw Gateway, cfg Config, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		bookings: bookings,
		gateway:  gw,
		cfg:      cfg.withDefaults(),
		notifier: nopNotifier{},
		logger:   logger.With().Str("component", "payment").Logger(),
		now:      time.Now,
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, booking.Event) {}

func (s *Service) SetNotifier(n booking.Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

func (s *Service) emit(ctx context.Context, t booking.EventType, b *booking.Booking) {
	s.notifier.Notify(context.WithoutCancel(ctx), booking.Event{Type: t, Booking: b, OccurredAt: s.now().UTC()})
}

// IntentResult is what the client needs to collect the payment.
type IntentResult struct {
	BookingID    uuid.UUID `json:"booking_id"`
	IntentID     string    `json:"intent_id"`
	ClientSecret string    `json:"client_secret"`
	Amount       int64     `json:"amount"`
	Currency     string    `json:"currency"`
}

func (s *Service) payable(b *booking.Booking) error {
	if b.PaymentMethod != booking.PaymentCard {
		return apperror.Validation("cash bookings are paid at the visit")
	}
	if b.PaymentStatus == booking.PaymentCompleted {
		return apperror.Validation("booking %s is already paid", b.ID)
	}
	if b.Status.Terminal() {
		return apperror.InvalidTransition("cannot pay for a %s booking", b.Status)
	}
	return nil
}

// CreateIntent asks the gateway for a capturable intent over the stored
// total. On gateway failure nothing is written and the call may be retried.
func (s *Service) CreateIntent(ctx context.Context, bookingID uuid.UUID, actor booking.Actor) (*IntentResult, error) {
	b, err := s.bookings.Get(ctx, bookingID, actor)
	if err != nil {
		return nil, err
	}
	if err := s.payable(b); err != nil {
		return nil, err
	}
	if b.PaymentIntentID != nil {
		paid, err := s.retirePrevious(ctx, b)
		if err != nil {
			return nil, err
		}
		if paid {
			return nil, apperror.Validation("booking %s is already paid", b.ID)
		}
	}

	gctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	intent, err := s.gateway.CreateIntent(gctx, b.TotalAmount, b.Currency, map[string]string{
		MetadataBookingID: b.ID.String(),
	})
	if err != nil {
		return nil, apperror.External(gatewayName, err)
	}

	ok, err := s.repo.SetPaymentIntent(ctx, b.ID, b.PaymentIntentID, intent.ID, s.now().UTC())
	if err != nil {
		s.cancelQuietly(ctx, b.ID, intent.ID)
		return nil, fmt.Errorf("record payment intent: %w", err)
	}
	if !ok {
		s.cancelQuietly(ctx, b.ID, intent.ID)
		cur, err := s.repo.GetByID(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		if cur.Paid() {
			return nil, apperror.Validation("booking %s is already paid", b.ID)
		}
		return nil, apperror.InvalidTransition("payment for booking %s changed concurrently, retry", b.ID)
	}
	return &IntentResult{
		BookingID:    b.ID,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       b.TotalAmount,
		Currency:     b.Currency,
	}, nil
}

// retirePrevious settles the booking's stored intent before a new one
// replaces it. An open intent is cancelled at the gateway. A captured one
// completes the booking and paid is true.
func (s *Service) retirePrevious(ctx context.Context, b *booking.Booking) (paid bool, err error) {
	prevID := *b.PaymentIntentID
	gctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	prev, err := s.gateway.GetIntent(gctx, prevID)
	if err != nil {
		return false, apperror.External(gatewayName, err)
	}
	if prev.Status.Open() {
		if prev, err = s.gateway.CancelIntent(gctx, prevID); err != nil {
			return false, apperror.External(gatewayName, err)
		}
	}
	if prev.Status != IntentSucceeded {
		return false, nil
	}
	if err := verify(b, prev); err != nil {
		return false, err
	}
	if _, err := s.complete(ctx, b, prev.ID); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) cancelQuietly(ctx context.Context, bookingID uuid.UUID, intentID string) {
	gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)
	defer cancel()
	if _, err := s.gateway.CancelIntent(gctx, intentID); err != nil {
		s.logger.Warn().Err(err).Str("booking_id", bookingID.String()).Str("intent_id", intentID).
			Msg("failed to cancel superseded payment intent")
	}
}

// verify checks that intent pays for exactly b.
func verify(b *booking.Booking, intent *Intent) error {
	if intent.Metadata[MetadataBookingID] != b.ID.String() {
		return apperror.Validation("payment %s does not belong to booking %s", intent.ID, b.ID)
	}
	if intent.Amount != b.TotalAmount || !strings.EqualFold(intent.Currency, b.Currency) {
		return apperror.Validation("payment %s amount %d %s does not match booking total %d %s",
			intent.ID, intent.Amount, intent.Currency, b.TotalAmount, b.Currency)
	}
	return nil
}

// Confirm records the payment once the gateway reports it captured.
// reference is the intent id or its client secret. A booking that is
// already paid is returned unchanged.
func (s *Service) Confirm(ctx context.Context, bookingID uuid.UUID, reference string, actor booking.Actor) (*booking.Booking, error) {
	b, err := s.bookings.Get(ctx, bookingID, actor)
	if err != nil {
		return nil, err
	}
	if b.PaymentStatus == booking.PaymentCompleted {
		return b, nil
	}
	if b.PaymentMethod != booking.PaymentCard {
		return nil, apperror.Validation("cash bookings are not confirmed through the payment gateway")
	}
	ref := IntentIDFromClientSecret(strings.TrimSpace(reference))
	if ref == "" {
		return nil, apperror.Validation("reference is required")
	}

	gctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	intent, err := s.gateway.GetIntent(gctx, ref)
	if err != nil {
		return nil, apperror.External(gatewayName, err)
	}
	if err := verify(b, intent); err != nil {
		return nil, err
	}

	switch intent.Status {
	case IntentSucceeded:
		return s.complete(ctx, b, intent.ID)
	case IntentCanceled, IntentFailed:
		if _, err := s.fail(ctx, b); err != nil {
			return nil, err
		}
		return nil, apperror.Validation("payment failed, try again")
	default:
		return nil, apperror.External(gatewayName, fmt.Errorf("payment %s is still %s", intent.ID, strings.ToLower(string(intent.Status))))
	}
}

// complete writes the paid state at most once. For payment-driven kinds the
// booking is confirmed in the same write.
func (s *Service) complete(ctx context.Context, b *booking.Booking, reference string) (*booking.Booking, error) {
	for attempt := 0; attempt < maxConfirmAttempts; attempt++ {
		profile, err := s.bookings.Profile(b)
		if err != nil {
			return nil, err
		}
		var to *booking.Status
		if profile.Flow == catalog.FlowPayment && b.Status == booking.StatusPending {
			next, err := booking.Next(profile.Flow, b.Status, booking.TransitionConfirm, booking.RoleSystem)
			if err != nil {
				return nil, err
			}
			to = &next
		}

		now := s.now().UTC()
		ok, err := s.repo.CompletePayment(ctx, b.ID, reference, b.Status, to, now)
		if err != nil {
			return nil, fmt.Errorf("complete payment: %w", err)
		}
		if ok {
			b.PaymentStatus = booking.PaymentCompleted
			b.PaymentMethod = booking.PaymentCard
			b.PaymentReference = &reference
			if to != nil {
				b.Status = *to
			}
			b.UpdatedAt = now
			s.logger.Info().Str("booking_id", b.ID.String()).Str("intent_id", reference).Msg("payment completed")
			s.emit(ctx, booking.EventPaymentCompleted, b)
			if to != nil {
				s.emit(ctx, booking.EventConfirmed, b)
			}
			return b, nil
		}

		// Lost a race: either another confirm won or the status moved.
		cur, err := s.repo.GetByID(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		if cur.PaymentStatus == booking.PaymentCompleted {
			return cur, nil
		}
		b = cur
	}
	return nil, apperror.Internal(fmt.Sprintf("booking %s kept changing while confirming payment", b.ID), nil)
}

func (s *Service) fail(ctx context.Context, b *booking.Booking) (bool, error) {
	ok, err := s.repo.MarkPaymentFailed(ctx, b.ID, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark payment failed: %w", err)
	}
	if ok {
		b.PaymentStatus = booking.PaymentFailed
		s.emit(ctx, booking.EventPaymentFailed, b)
	}
	return ok, nil
}

// MarkFailed handles a client-reported payment failure. The report is
// checked against the gateway: only a CANCELED or FAILED intent marks the
// payment FAILED, a captured one completes it, and an open one is left
// PENDING for the sweep. The booking keeps its status so the patient can
// retry.
func (s *Service) MarkFailed(ctx context.Context, bookingID uuid.UUID, actor booking.Actor) (*booking.Booking, error) {
	b, err := s.bookings.Get(ctx, bookingID, actor)
	if err != nil {
		return nil, err
	}
	if b.PaymentMethod != booking.PaymentCard {
		return nil, apperror.Validation("cash bookings have no card payment to fail")
	}
	if b.PaymentStatus == booking.PaymentCompleted {
		return nil, apperror.Validation("booking %s is already paid", b.ID)
	}
	if b.PaymentIntentID != nil {
		gctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
		intent, err := s.gateway.GetIntent(gctx, *b.PaymentIntentID)
		if err != nil {
			return nil, apperror.External(gatewayName, err)
		}
		switch {
		case intent.Status == IntentSucceeded:
			if err := verify(b, intent); err != nil {
				return nil, err
			}
			return s.complete(ctx, b, intent.ID)
		case intent.Status.Open():
			s.logger.Info().Str("booking_id", b.ID.String()).Str("intent_id", intent.ID).
				Str("intent_status", string(intent.Status)).Msg("payment failure reported for an open intent")
			return b, nil
		}
	}
	if _, err := s.fail(ctx, b); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, b.ID)
}

// SweepReport summarises one reconciliation pass.
type SweepReport struct {
	Checked   int `json:"checked"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	Expired   int `json:"expired"`
	Errors    int `json:"errors"`
}

// Sweep re-queries the gateway for card bookings whose intent was never
// confirmed by the client and settles them.
func (s *Service) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	var report SweepReport
	stale, err := s.repo.ListStaleIntents(ctx, now.Add(-s.cfg.ReconcileAfter), s.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list stale intents: %w", err)
	}
	for _, b := range stale {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		if err := s.reconcile(ctx, b, now, &report); err != nil {
			report.Errors++
			s.logger.Error().Err(err).Str("booking_id", b.ID.String()).Msg("payment reconciliation failed")
		}
	}
	return report, nil
}

func (s *Service) reconcile(ctx context.Context, b *booking.Booking, now time.Time, report *SweepReport) error {
	intentID := *b.PaymentIntentID
	gctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	intent, err := s.gateway.GetIntent(gctx, intentID)
	if err != nil {
		return apperror.External(gatewayName, err)
	}

	switch {
	case intent.Status == IntentSucceeded:
		if err := verify(b, intent); err != nil {
			return err
		}
		if _, err := s.complete(ctx, b, intent.ID); err != nil {
			return err
		}
		report.Confirmed++
	case intent.Status == IntentCanceled || intent.Status == IntentFailed:
		if _, err := s.fail(ctx, b); err != nil {
			return err
		}
		report.Failed++
	case b.PaymentIntentCreatedAt.Before(now.Add(-s.cfg.ExpireAfter)):
		if _, err := s.gateway.CancelIntent(gctx, intentID); err != nil {
			return apperror.External(gatewayName, err)
		}
		if _, err := s.fail(ctx, b); err != nil {
			return err
		}
		if !b.Status.Terminal() {
			if _, err := s.bookings.Cancel(ctx, b.ID, booking.System); err != nil {
				return fmt.Errorf("cancel expired booking: %w", err)
			}
		}
		s.logger.Info().Str("booking_id", b.ID.String()).Str("intent_id", intentID).Msg("expired unpaid booking")
		report.Expired++
	}
	return nil
}
