package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/medconnect/medconnect/internal/domain/catalog"
	"github.com/medconnect/medconnect/internal/platform/db"
	"github.com/medconnect/medconnect/pkg/apperror"
)

// releaseTimeout bounds the compensating release issued by Hold.Close when
// the caller's context is already done.
const releaseTimeout = 5 * time.Second

type Service struct {
	windows WindowRepository
	slots   SlotRepository
	tx      db.Transactor
	catalog *catalog.Catalog
	now     func() time.Time
}

func NewService(windows WindowRepository, slots SlotRepository, tx db.Transactor, cat *catalog.Catalog) *Service {
	return &Service{
		windows: windows,
		slots:   slots,
		tx:      tx,
		catalog: cat,
		now:     time.Now,
	}
}

// -- Availability --

func (s *Service) checkSchedule(providerID uuid.UUID, category catalog.Kind) error {
	if providerID == uuid.Nil {
		return apperror.Validation("provider_id is required")
	}
	if _, ok := s.catalog.Profile(category); !ok {
		return apperror.Validation("unknown service category %q", category)
	}
	return nil
}

func toWindow(providerID uuid.UUID, category catalog.Kind, in WindowInput) *AvailabilityWindow {
	return &AvailabilityWindow{
		ProviderID: providerID,
		Category:   category,
		DayOfWeek:  in.DayOfWeek,
		Start:      in.Start,
		End:        in.End,
	}
}

// findOverlap returns the first pair of overlapping windows in ws.
func findOverlap(ws []*AvailabilityWindow) *OverlapError {
	for i := 0; i < len(ws); i++ {
		for j := i + 1; j < len(ws); j++ {
			if ws[i].Overlaps(ws[j]) {
				return &OverlapError{Proposed: *ws[j], Existing: *ws[i]}
			}
		}
	}
	return nil
}

// PublishWindows replaces the provider's whole schedule for category. The
// set is validated up front; on any error nothing is written.
func (s *Service) PublishWindows(ctx context.Context, providerID uuid.UUID, category catalog.Kind, inputs []WindowInput) ([]*AvailabilityWindow, error) {
	if err := s.checkSchedule(providerID, category); err != nil {
		return nil, err
	}

	ws := make([]*AvailabilityWindow, 0, len(inputs))
	for i, in := range inputs {
		if err := in.validate(); err != nil {
			return nil, apperror.Validation("windows[%d]: %v", i, err)
		}
		ws = append(ws, toWindow(providerID, category, in))
	}
	if oe := findOverlap(ws); oe != nil {
		return nil, oe
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.windows.LockSchedule(ctx, providerID, category); err != nil {
			return fmt.Errorf("lock schedule: %w", err)
		}
		return s.windows.ReplaceActive(ctx, providerID, category, ws)
	})
	if err != nil {
		return nil, fmt.Errorf("publish windows: %w", err)
	}
	sortWindows(ws)
	return ws, nil
}

// AddWindow appends one window to the active schedule after checking it
// against the windows already published for the same day.
func (s *Service) AddWindow(ctx context.Context, providerID uuid.UUID, category catalog.Kind, in WindowInput) (*AvailabilityWindow, error) {
	if err := s.checkSchedule(providerID, category); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, apperror.Validation("%v", err)
	}
	w := toWindow(providerID, category, in)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.windows.LockSchedule(ctx, providerID, category); err != nil {
			return fmt.Errorf("lock schedule: %w", err)
		}
		day := in.DayOfWeek
		existing, err := s.windows.ListActive(ctx, providerID, category, &day)
		if err != nil {
			return fmt.Errorf("list windows: %w", err)
		}
		for _, e := range existing {
			if w.Overlaps(e) {
				return &OverlapError{Proposed: *w, Existing: *e}
			}
		}
		return s.windows.Create(ctx, w)
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// ListWindows returns the active windows, optionally for a single weekday.
func (s *Service) ListWindows(ctx context.Context, providerID uuid.UUID, category catalog.Kind, day *DayOfWeek) ([]*AvailabilityWindow, error) {
	if err := s.checkSchedule(providerID, category); err != nil {
		return nil, err
	}
	if day != nil && !day.Valid() {
		return nil, apperror.Validation("invalid day_of_week %q", *day)
	}
	ws, err := s.windows.ListActive(ctx, providerID, category, day)
	if err != nil {
		return nil, err
	}
	sortWindows(ws)
	return ws, nil
}

// CandidateSlots renders the windows that apply on date with their
// reservation state for that date.
func (s *Service) CandidateSlots(ctx context.Context, providerID uuid.UUID, category catalog.Kind, date time.Time) ([]CandidateSlot, error) {
	date = DateOnly(date)
	day := DayOf(date)
	ws, err := s.ListWindows(ctx, providerID, category, &day)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(ws))
	for i, w := range ws {
		ids[i] = w.ID
	}
	reserved, err := s.slots.ReservedOn(ctx, ids, date)
	if err != nil {
		return nil, fmt.Errorf("load reservations: %w", err)
	}

	out := make([]CandidateSlot, len(ws))
	for i, w := range ws {
		out[i] = CandidateSlot{Window: w, Date: FormatDate(date), Reserved: reserved[w.ID]}
	}
	return out, nil
}

func (s *Service) GetWindow(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	return s.windows.GetByID(ctx, id)
}

func sortWindows(ws []*AvailabilityWindow) {
	sort.SliceStable(ws, func(i, j int) bool {
		if ws[i].DayOfWeek != ws[j].DayOfWeek {
			return dayOrder[ws[i].DayOfWeek] < dayOrder[ws[j].DayOfWeek]
		}
		return ws[i].Start < ws[j].Start
	})
}

// -- Slot claims --

// claimable checks that (windowID, date) names a real, bookable instance.
func (s *Service) claimable(ctx context.Context, windowID uuid.UUID, date time.Time) (*AvailabilityWindow, error) {
	if windowID == uuid.Nil {
		return nil, apperror.Validation("window_id is required")
	}
	if date.IsZero() {
		return nil, apperror.Validation("date is required")
	}
	w, err := s.windows.GetByID(ctx, windowID)
	if err != nil {
		return nil, err
	}
	if !w.Active {
		return nil, apperror.SlotConflict("window %s is no longer offered", windowID)
	}
	if !w.Covers(date) {
		return nil, apperror.Validation("window %s is on %s, date %s is a %s",
			windowID, w.DayOfWeek, FormatDate(date), DayOf(date))
	}
	if DateOnly(date).Before(DateOnly(s.now().UTC())) {
		return nil, apperror.Validation("date %s is in the past", FormatDate(date))
	}
	return w, nil
}

// TryClaim reserves the window instance on date. Of any number of concurrent
// callers exactly one gets Claimed; the rest get AlreadyReserved.
func (s *Service) TryClaim(ctx context.Context, windowID uuid.UUID, date time.Time) (ClaimResult, error) {
	if _, err := s.claimable(ctx, windowID, date); err != nil {
		return 0, err
	}
	ok, err := s.slots.TryClaim(ctx, windowID, DateOnly(date))
	if err != nil {
		return 0, fmt.Errorf("claim slot: %w", err)
	}
	if !ok {
		return AlreadyReserved, nil
	}
	return Claimed, nil
}

// Release returns the instance to the pool. Releasing an unreserved
// instance is a no-op.
func (s *Service) Release(ctx context.Context, windowID uuid.UUID, date time.Time) error {
	if _, err := s.slots.Release(ctx, windowID, DateOnly(date)); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

func (s *Service) GetSlot(ctx context.Context, windowID uuid.UUID, date time.Time) (*SlotInstance, error) {
	return s.slots.Get(ctx, windowID, DateOnly(date))
}

// Hold is a claimed slot instance that is released on Close unless Keep was
// called first.
type Hold struct {
	svc      *Service
	Window   *AvailabilityWindow
	Date     time.Time
	kept     bool
	released bool
}

// Acquire claims the instance and returns a Hold on it. A lost race is a
// SlotConflict error.
func (s *Service) Acquire(ctx context.Context, windowID uuid.UUID, date time.Time) (*Hold, error) {
	w, err := s.claimable(ctx, windowID, date)
	if err != nil {
		return nil, err
	}
	ok, err := s.slots.TryClaim(ctx, windowID, DateOnly(date))
	if err != nil {
		return nil, fmt.Errorf("claim slot: %w", err)
	}
	if !ok {
		return nil, apperror.SlotConflict("this slot was just taken, pick another")
	}
	return &Hold{svc: s, Window: w, Date: DateOnly(date)}, nil
}

// Keep marks the claim as owned by a persisted booking.
func (h *Hold) Keep() { h.kept = true }

// Close releases the claim unless it was kept. Safe to call more than once.
func (h *Hold) Close(ctx context.Context) error {
	if h == nil || h.kept || h.released {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := h.svc.Release(ctx, h.Window.ID, h.Date); err != nil {
		return err
	}
	h.released = true
	return nil
}

// ParseCategory resolves a category path segment to a known service kind.
func (s *Service) ParseCategory(raw string) (catalog.Kind, error) {
	k, err := s.catalog.ParseKind(raw)
	if err != nil {
		return "", apperror.Validation("%v", err)
	}
	return k, nil
}
