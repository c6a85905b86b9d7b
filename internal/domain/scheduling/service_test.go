package scheduling

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medconnect/medconnect/internal/domain/catalog"
	"github.com/medconnect/medconnect/internal/platform/db"
	"github.com/medconnect/medconnect/pkg/apperror"
)

// 2024-06-01 is a Saturday; 2024-06-03 the following Monday.
var (
	testNow    = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	nextMonday = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
)

func newTestService() (*Service, *MemoryStore) {
	store := NewMemoryStore()
	svc := NewService(store.Windows(), store.Slots(), db.NoTx{}, catalog.Default())
	svc.now = func() time.Time { return testNow }
	return svc, store
}

func input(day DayOfWeek, start, end string) WindowInput {
	return WindowInput{DayOfWeek: day, Start: MustClock(start), End: MustClock(end)}
}

func publishMonday(t *testing.T, svc *Service, providerID uuid.UUID) *AvailabilityWindow {
	t.Helper()
	ws, err := svc.PublishWindows(context.Background(), providerID, catalog.OnlineConsultation,
		[]WindowInput{input(Monday, "09:00", "10:00")})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	return ws[0]
}

func TestPublishWindows(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	providerID := uuid.New()

	ws, err := svc.PublishWindows(ctx, providerID, catalog.HomeService, []WindowInput{
		input(Tuesday, "14:00", "15:00"),
		input(Monday, "10:00", "11:00"),
		input(Monday, "09:00", "10:00"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ws) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(ws))
	}
	if ws[0].DayOfWeek != Monday || ws[0].Start != MustClock("09:00") {
		t.Errorf("expected windows sorted by day then start, got %s %s first", ws[0].DayOfWeek, ws[0].Start)
	}
	for _, w := range ws {
		if w.ID == uuid.Nil {
			t.Error("expected persisted window to have an id")
		}
	}

	listed, err := svc.ListWindows(ctx, providerID, catalog.HomeService, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 3 {
		t.Errorf("expected 3 listed windows, got %d", len(listed))
	}
}

func TestPublishWindows_ReplacesWholesale(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	providerID := uuid.New()
	old := publishMonday(t, svc, providerID)

	_, err := svc.PublishWindows(ctx, providerID, catalog.OnlineConsultation, []WindowInput{
		input(Wednesday, "08:00", "09:00"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	listed, _ := svc.ListWindows(ctx, providerID, catalog.OnlineConsultation, nil)
	if len(listed) != 1 || listed[0].DayOfWeek != Wednesday {
		t.Fatalf("expected only the Wednesday window, got %+v", listed)
	}

	retired, err := svc.GetWindow(ctx, old.ID)
	if err != nil {
		t.Fatalf("retired window must stay addressable: %v", err)
	}
	if retired.Active {
		t.Error("expected replaced window to be retired")
	}
}

func TestPublishWindows_OverlapRejected(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	providerID := uuid.New()
	publishMonday(t, svc, providerID)

	_, err := svc.PublishWindows(ctx, providerID, catalog.OnlineConsultation, []WindowInput{
		input(Monday, "09:00", "10:00"),
		input(Monday, "09:30", "10:30"),
	})
	var oe *OverlapError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OverlapError, got %v", err)
	}
	if oe.Proposed.Start != MustClock("09:30") || oe.Existing.Start != MustClock("09:00") {
		t.Errorf("expected error to name both windows, got %+v", oe)
	}
	if apperror.KindOf(err) != apperror.KindOverlap {
		t.Errorf("expected OVERLAP kind, got %s", apperror.KindOf(err))
	}

	listed, _ := svc.ListWindows(ctx, providerID, catalog.OnlineConsultation, nil)
	if len(listed) != 1 || listed[0].Start != MustClock("09:00") || listed[0].End != MustClock("10:00") {
		t.Errorf("rejected publish must leave the previous schedule untouched, got %+v", listed)
	}
}

func TestPublishWindows_InvalidWindowWritesNothing(t *testing.T) {
	svc, store := newTestService()
	providerID := uuid.New()

	_, err := svc.PublishWindows(context.Background(), providerID, catalog.LabTest, []WindowInput{
		input(Monday, "09:00", "10:00"),
		input(Monday, "12:00", "11:00"),
	})
	if !apperror.IsKind(err, apperror.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(store.windows) != 0 {
		t.Errorf("expected nothing persisted, got %d windows", len(store.windows))
	}
}

func TestPublishWindows_TouchingAllowed(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.PublishWindows(context.Background(), uuid.New(), catalog.LabTest, []WindowInput{
		input(Monday, "09:00", "10:00"),
		input(Monday, "10:00", "11:00"),
		input(Tuesday, "09:30", "10:30"),
	})
	if err != nil {
		t.Fatalf("touching windows and other days must be accepted: %v", err)
	}
}

func TestPublishWindows_UnknownCategory(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.PublishWindows(context.Background(), uuid.New(), catalog.Kind("SURGERY"), nil)
	if !apperror.IsKind(err, apperror.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestPublishWindows_NeverPersistsOverlap(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	providerID := uuid.New()
	rng := rand.New(rand.NewSource(42))
	days := []DayOfWeek{Monday, Tuesday, Wednesday}

	for round := 0; round < 200; round++ {
		n := rng.Intn(5)
		inputs := make([]WindowInput, n)
		for i := range inputs {
			start := rng.Intn(20) * 30
			length := (rng.Intn(4) + 1) * 30
			inputs[i] = WindowInput{
				DayOfWeek: days[rng.Intn(len(days))],
				Start:     ClockTime(start),
				End:       ClockTime(start + length),
			}
		}
		_, _ = svc.PublishWindows(ctx, providerID, catalog.HomeService, inputs)

		active, _ := store.Windows().ListActive(ctx, providerID, catalog.HomeService, nil)
		for i := range active {
			for j := i + 1; j < len(active); j++ {
				if active[i].Overlaps(active[j]) {
					t.Fatalf("round %d: persisted overlapping windows %+v and %+v", round, active[i], active[j])
				}
			}
		}
	}
}

func TestAddWindow(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	providerID := uuid.New()
	publishMonday(t, svc, providerID)

	_, err := svc.AddWindow(ctx, providerID, catalog.OnlineConsultation, input(Monday, "09:30", "10:30"))
	var oe *OverlapError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OverlapError, got %v", err)
	}
	if oe.Existing.ID == uuid.Nil {
		t.Error("expected the existing window id in the error")
	}

	w, err := svc.AddWindow(ctx, providerID, catalog.OnlineConsultation, input(Monday, "10:00", "11:00"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.ID == uuid.Nil || !w.Active {
		t.Errorf("expected an active persisted window, got %+v", w)
	}

	// Same time in another category is independent.
	if _, err := svc.AddWindow(ctx, providerID, catalog.LabTest, input(Monday, "09:30", "10:30")); err != nil {
		t.Errorf("unexpected error for another category: %v", err)
	}
}

func TestListWindows_DayFilter(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	providerID := uuid.New()
	_, _ = svc.PublishWindows(ctx, providerID, catalog.HomeService, []WindowInput{
		input(Monday, "09:00", "10:00"),
		input(Friday, "09:00", "10:00"),
	})

	day := Friday
	ws, err := svc.ListWindows(ctx, providerID, catalog.HomeService, &day)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ws) != 1 || ws[0].DayOfWeek != Friday {
		t.Errorf("expected only the Friday window, got %+v", ws)
	}
}

func TestCandidateSlots(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	providerID := uuid.New()
	ws, _ := svc.PublishWindows(ctx, providerID, catalog.OnlineConsultation, []WindowInput{
		input(Monday, "09:00", "10:00"),
		input(Monday, "11:00", "12:00"),
		input(Tuesday, "09:00", "10:00"),
	})

	if res, err := svc.TryClaim(ctx, ws[0].ID, nextMonday); err != nil || res != Claimed {
		t.Fatalf("claim: %v %v", res, err)
	}

	slots, err := svc.CandidateSlots(ctx, providerID, catalog.OnlineConsultation, nextMonday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("expected the 2 Monday windows, got %d", len(slots))
	}
	if !slots[0].Reserved || slots[1].Reserved {
		t.Errorf("expected only the 09:00 slot reserved, got %v/%v", slots[0].Reserved, slots[1].Reserved)
	}
	if slots[0].Date != "2024-06-03" {
		t.Errorf("unexpected date %s", slots[0].Date)
	}
}

func TestTryClaim_SecondAttemptFails(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	w := publishMonday(t, svc, uuid.New())

	first, err := svc.TryClaim(ctx, w.ID, nextMonday)
	if err != nil || first != Claimed {
		t.Fatalf("expected Claimed, got %v %v", first, err)
	}
	second, err := svc.TryClaim(ctx, w.ID, nextMonday)
	if err != nil || second != AlreadyReserved {
		t.Fatalf("expected AlreadyReserved, got %v %v", second, err)
	}

	// A different date of the same window is a different instance.
	other, err := svc.TryClaim(ctx, w.ID, nextMonday.AddDate(0, 0, 7))
	if err != nil || other != Claimed {
		t.Errorf("expected next week's instance to be claimable, got %v %v", other, err)
	}
}

func TestTryClaim_Concurrent(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	w := publishMonday(t, svc, uuid.New())

	const callers = 64
	results := make(chan ClaimResult, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := svc.TryClaim(ctx, w.ID, nextMonday)
			if err != nil {
				t.Errorf("claim error: %v", err)
				return
			}
			results <- res
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	claimed, reserved := 0, 0
	for r := range results {
		switch r {
		case Claimed:
			claimed++
		case AlreadyReserved:
			reserved++
		}
	}
	if claimed != 1 {
		t.Errorf("expected exactly one Claimed, got %d", claimed)
	}
	if reserved != callers-1 {
		t.Errorf("expected %d AlreadyReserved, got %d", callers-1, reserved)
	}
}

func TestTryClaim_Validation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	w := publishMonday(t, svc, uuid.New())

	if _, err := svc.TryClaim(ctx, w.ID, nextMonday.AddDate(0, 0, 1)); !apperror.IsKind(err, apperror.KindValidation) {
		t.Errorf("expected validation error for a Tuesday, got %v", err)
	}
	if _, err := svc.TryClaim(ctx, w.ID, nextMonday.AddDate(0, 0, -7)); !apperror.IsKind(err, apperror.KindValidation) {
		t.Errorf("expected validation error for a past date, got %v", err)
	}
	if _, err := svc.TryClaim(ctx, uuid.New(), nextMonday); !apperror.IsKind(err, apperror.KindNotFound) {
		t.Errorf("expected not found for unknown window, got %v", err)
	}
}

func TestTryClaim_RetiredWindow(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	providerID := uuid.New()
	w := publishMonday(t, svc, providerID)
	if _, err := svc.PublishWindows(ctx, providerID, catalog.OnlineConsultation, nil); err != nil {
		t.Fatalf("clear schedule: %v", err)
	}
	if _, err := svc.TryClaim(ctx, w.ID, nextMonday); !apperror.IsKind(err, apperror.KindSlotConflict) {
		t.Errorf("expected slot conflict for a retired window, got %v", err)
	}
}

func TestRelease(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	w := publishMonday(t, svc, uuid.New())

	_, _ = svc.TryClaim(ctx, w.ID, nextMonday)
	if err := svc.Release(ctx, w.ID, nextMonday); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := svc.Release(ctx, w.ID, nextMonday); err != nil {
		t.Fatalf("second release must be a no-op: %v", err)
	}
	res, err := svc.TryClaim(ctx, w.ID, nextMonday)
	if err != nil || res != Claimed {
		t.Errorf("expected released slot to be claimable again, got %v %v", res, err)
	}
}

func TestAcquire_CloseReleasesUnlessKept(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	w := publishMonday(t, svc, uuid.New())

	hold, err := svc.Acquire(ctx, w.ID, nextMonday)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := svc.Acquire(ctx, w.ID, nextMonday); !apperror.IsKind(err, apperror.KindSlotConflict) {
		t.Fatalf("expected slot conflict while held, got %v", err)
	}
	if err := hold.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	slot, _ := svc.GetSlot(ctx, w.ID, nextMonday)
	if slot.Reserved {
		t.Error("expected Close to release an unkept hold")
	}

	kept, err := svc.Acquire(ctx, w.ID, nextMonday)
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	kept.Keep()
	if err := kept.Close(ctx); err != nil {
		t.Fatalf("close kept: %v", err)
	}
	slot, _ = svc.GetSlot(ctx, w.ID, nextMonday)
	if !slot.Reserved {
		t.Error("expected a kept hold to stay reserved")
	}
}

func TestHoldClose_CancelledContext(t *testing.T) {
	svc, _ := newTestService()
	w := publishMonday(t, svc, uuid.New())

	ctx, cancel := context.WithCancel(context.Background())
	hold, err := svc.Acquire(ctx, w.ID, nextMonday)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	cancel()
	if err := hold.Close(ctx); err != nil {
		t.Fatalf("close after cancel: %v", err)
	}
	slot, _ := svc.GetSlot(context.Background(), w.ID, nextMonday)
	if slot.Reserved {
		t.Error("expected release to run even when the request context is done")
	}
}
