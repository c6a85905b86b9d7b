package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medconnect/medconnect/pkg/apperror"
)

// MemoryRepo is an in-process Repository. Every conditional write is a
// compare-and-set under the mutex, matching the guarded UPDATEs of the
// Postgres repository.
type MemoryRepo struct {
	mu       sync.RWMutex
	bookings map[uuid.UUID]*Booking
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{bookings: make(map[uuid.UUID]*Booking)}
}

func clone(b *Booking) *Booking {
	cp := *b
	cp.Items = append([]LineItem{}, b.Items...)
	return &cp
}

// Len returns the number of stored bookings.
func (m *MemoryRepo) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bookings)
}

func (m *MemoryRepo) Create(_ context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[b.ID]; ok {
		return apperror.Internal("duplicate booking id", nil)
	}
	if b.HasSlot() {
		for _, o := range m.bookings {
			if o.HasSlot() && *o.WindowID == *b.WindowID && o.ScheduledDate.Equal(*b.ScheduledDate) && !o.Status.releasesSlot() {
				return apperror.SlotConflict("slot already booked")
			}
		}
	}
	m.bookings[b.ID] = clone(b)
	return nil
}

func (m *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, apperror.NotFound("booking", id)
	}
	return clone(b), nil
}

func (m *MemoryRepo) list(match func(*Booking) bool, limit, offset int) ([]*Booking, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []*Booking
	for _, b := range m.bookings {
		if match(b) {
			all = append(all, clone(b))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *MemoryRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Booking, int, error) {
	return m.list(func(b *Booking) bool { return b.PatientID == patientID }, limit, offset)
}

func (m *MemoryRepo) ListByProvider(_ context.Context, providerID uuid.UUID, limit, offset int) ([]*Booking, int, error) {
	return m.list(func(b *Booking) bool { return b.ProviderID == providerID }, limit, offset)
}

func (m *MemoryRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	b.UpdatedAt = at
	return true, nil
}

func (m *MemoryRepo) SetPaymentIntent(_ context.Context, id uuid.UUID, prev *string, intentID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.PaymentStatus == PaymentCompleted || !sameIntent(b.PaymentIntentID, prev) {
		return false, nil
	}
	b.PaymentIntentID = &intentID
	b.PaymentIntentCreatedAt = &at
	b.PaymentStatus = PaymentPending
	b.UpdatedAt = at
	return true, nil
}

func (m *MemoryRepo) CompletePayment(_ context.Context, id uuid.UUID, reference string, from Status, to *Status, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.PaymentStatus == PaymentCompleted || b.Status != from {
		return false, nil
	}
	b.PaymentStatus = PaymentCompleted
	b.PaymentMethod = PaymentCard
	b.PaymentReference = &reference
	if to != nil {
		b.Status = *to
	}
	b.UpdatedAt = at
	return true, nil
}

func (m *MemoryRepo) MarkPaymentFailed(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.PaymentStatus != PaymentPending {
		return false, nil
	}
	b.PaymentStatus = PaymentFailed
	b.UpdatedAt = at
	return true, nil
}

func (m *MemoryRepo) ListStaleIntents(_ context.Context, cutoff time.Time, limit int) ([]*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Booking
	for _, b := range m.bookings {
		if b.PaymentMethod == PaymentCard && b.PaymentStatus == PaymentPending &&
			b.PaymentIntentID != nil && b.PaymentIntentCreatedAt.Before(cutoff) {
			out = append(out, clone(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentIntentCreatedAt.Before(*out[j].PaymentIntentCreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sameIntent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
