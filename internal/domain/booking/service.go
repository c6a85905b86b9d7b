package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medconnect/medconnect/internal/domain/catalog"
	"github.com/medconnect/medconnect/internal/domain/scheduling"
	"github.com/medconnect/medconnect/internal/platform/db"
	"github.com/medconnect/medconnect/pkg/apperror"
)

// Slots is the part of the scheduling service a booking needs.
type Slots interface {
	GetWindow(ctx context.Context, id uuid.UUID) (*scheduling.AvailabilityWindow, error)
	Acquire(ctx context.Context, windowID uuid.UUID, date time.Time) (*scheduling.Hold, error)
	Release(ctx context.Context, windowID uuid.UUID, date time.Time) error
}

// Notifier receives booking events. Delivery is best effort; implementations
// handle their own failures.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) {}

type Service struct {
	repo     Repository
	slots    Slots
	tx       db.Transactor
	catalog  *catalog.Catalog
	notifier Notifier
	currency string
	now      func() time.Time
}

func NewService(repo Repository, slots Slots, tx db.Transactor, cat *catalog.Catalog, currency string) *Service {
	return &Service{
		repo:     repo,
		slots:    slots,
		tx:       tx,
		catalog:  cat,
		notifier: nopNotifier{},
		currency: currency,
		now:      time.Now,
	}
}

// SetNotifier installs the event sink. A nil notifier drops events.
func (s *Service) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

func (s *Service) emit(ctx context.Context, t EventType, b *Booking) {
	s.notifier.Notify(context.WithoutCancel(ctx), Event{Type: t, Booking: b, OccurredAt: s.now().UTC()})
}

// Profile returns the catalog profile of the booking's kind.
func (s *Service) Profile(b *Booking) (catalog.Profile, error) {
	p, ok := s.catalog.Profile(b.Kind)
	if !ok {
		return catalog.Profile{}, apperror.Internal(fmt.Sprintf("booking %s has unknown kind %s", b.ID, b.Kind), nil)
	}
	return p, nil
}

func (s *Service) buildItems(profile catalog.Profile, in []LineItemInput) ([]LineItem, error) {
	items := make([]LineItem, 0, len(in))
	for i, it := range in {
		typ := strings.ToUpper(strings.TrimSpace(it.Type))
		if !profile.AllowsItem(typ) {
			return nil, apperror.Validation("items[%d]: %s bookings do not offer %q", i, profile.Kind, it.Type)
		}
		if it.Price < 0 {
			return nil, apperror.Validation("items[%d]: price must not be negative", i)
		}
		name := strings.TrimSpace(it.Name)
		if name == "" {
			name = typ
		}
		items = append(items, LineItem{ID: uuid.New(), Position: i, Type: typ, Name: name, Price: it.Price})
	}
	return items, nil
}

// checkSlot validates the slot reference against the kind and provider.
func (s *Service) checkSlot(ctx context.Context, profile catalog.Profile, in CreateInput) error {
	if !profile.RequiresSlot {
		if in.WindowID != nil || in.Date != nil {
			return apperror.Validation("%s bookings do not take a slot", profile.Kind)
		}
		return nil
	}
	if in.WindowID == nil || in.Date == nil {
		return apperror.Validation("window_id and scheduled_date are required for %s bookings", profile.Kind)
	}
	w, err := s.slots.GetWindow(ctx, *in.WindowID)
	if err != nil {
		return err
	}
	if w.ProviderID != in.ProviderID {
		return apperror.Validation("window %s does not belong to provider %s", w.ID, in.ProviderID)
	}
	if w.Category != profile.Kind {
		return apperror.Validation("window %s offers %s, not %s", w.ID, w.Category, profile.Kind)
	}
	return nil
}

// Create validates the request, claims the slot and persists the booking as
// one unit. When the insert fails the claim is released before returning.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Booking, error) {
	profile, ok := s.catalog.Profile(in.Kind)
	if !ok {
		return nil, apperror.Validation("unknown service kind %q", in.Kind)
	}
	if in.PatientID == uuid.Nil || in.ProviderID == uuid.Nil {
		return nil, apperror.Validation("patient_id and provider_id are required")
	}
	if !in.PaymentMethod.Valid() {
		return nil, apperror.Validation("payment_method must be CARD or CASH_ON_DELIVERY")
	}
	items, err := s.buildItems(profile, in.Items)
	if err != nil {
		return nil, err
	}
	if err := s.checkSlot(ctx, profile, in); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	b := &Booking{
		ID:            uuid.New(),
		Kind:          profile.Kind,
		PatientID:     in.PatientID,
		ProviderID:    in.ProviderID,
		ServiceRef:    strings.TrimSpace(in.ServiceRef),
		Items:         items,
		ServiceCharge: profile.ServiceCharge,
		TotalAmount:   Total(items, profile.ServiceCharge),
		Currency:      s.currency,
		PaymentMethod: in.PaymentMethod,
		PaymentStatus: PaymentPending,
		Status:        StatusPending,
		Notes:         strings.TrimSpace(in.Notes),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if profile.RequiresSlot {
		date := scheduling.DateOnly(*in.Date)
		b.WindowID = in.WindowID
		b.ScheduledDate = &date
	}
	// Cash is collected at the visit, so payment-driven flows confirm at once.
	if b.PaymentMethod == PaymentCash && profile.Flow == catalog.FlowPayment {
		st, err := Next(profile.Flow, b.Status, TransitionConfirm, RoleSystem)
		if err != nil {
			return nil, err
		}
		b.Status = st
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if b.HasSlot() {
			hold, err := s.slots.Acquire(ctx, *b.WindowID, *b.ScheduledDate)
			if err != nil {
				return err
			}
			defer func() {
				if err := hold.Close(ctx); err != nil {
					zerolog.Ctx(ctx).Error().Err(err).
						Str("window_id", hold.Window.ID.String()).
						Str("slot_date", scheduling.FormatDate(hold.Date)).
						Msg("failed to release slot after booking create failed")
				}
			}()
			if err := s.insert(ctx, b); err != nil {
				return err
			}
			hold.Keep()
			return nil
		}
		return s.insert(ctx, b)
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, EventCreated, b)
	if b.Status == StatusConfirmed {
		s.emit(ctx, EventConfirmed, b)
	}
	return b, nil
}

func (s *Service) insert(ctx context.Context, b *Booking) error {
	if err := s.repo.Create(ctx, b); err != nil {
		if db.IsUniqueViolation(err) {
			return apperror.SlotConflict("this slot was just taken, pick another")
		}
		if apperror.KindOf(err) != apperror.KindInternal {
			return err
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// Get returns the booking when actor is a party to it.
func (s *Service) Get(ctx context.Context, id uuid.UUID, actor Actor) (*Booking, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(b, actor); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Booking, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*Booking, int, error) {
	return s.repo.ListByProvider(ctx, providerID, limit, offset)
}

// Cancel moves the booking to CANCELLED and releases its slot.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor Actor) (*Booking, error) {
	return s.Transition(ctx, id, TransitionCancel, actor)
}

// Transition is the single entry point for status changes requested by
// patients, providers and background jobs.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, t Transition, actor Actor) (*Booking, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(b, actor); err != nil {
		return nil, err
	}
	profile, err := s.Profile(b)
	if err != nil {
		return nil, err
	}
	next, err := Next(profile.Flow, b.Status, t, actor.Role)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.repo.UpdateStatus(ctx, b.ID, b.Status, next, now)
		if err != nil {
			return fmt.Errorf("update booking status: %w", err)
		}
		if !ok {
			return apperror.InvalidTransition("booking %s changed status concurrently, reload and retry", b.ID)
		}
		if next.releasesSlot() && b.HasSlot() {
			return s.slots.Release(ctx, *b.WindowID, *b.ScheduledDate)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.Status = next
	b.UpdatedAt = now
	if e, ok := EventFor(next); ok {
		s.emit(ctx, e, b)
	}
	return b, nil
}
