package scheduling

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medconnect/medconnect/internal/domain/catalog"
	"github.com/medconnect/medconnect/pkg/apperror"
)

type slotKey struct {
	window uuid.UUID
	date   string
}

// MemoryStore keeps windows and slot instances in process. The claim is a
// compare-and-set under the store mutex, matching the conditional write of
// the Postgres store. Used by tests and single-process tooling.
type MemoryStore struct {
	mu      sync.RWMutex
	windows map[uuid.UUID]*AvailabilityWindow
	slots   map[slotKey]*SlotInstance
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[uuid.UUID]*AvailabilityWindow),
		slots:   make(map[slotKey]*SlotInstance),
	}
}

// Windows returns the store as a WindowRepository.
func (m *MemoryStore) Windows() WindowRepository { return memWindows{m} }

// Slots returns the store as a SlotRepository.
func (m *MemoryStore) Slots() SlotRepository { return memSlots{m} }

type memWindows struct{ m *MemoryStore }

func (r memWindows) LockSchedule(context.Context, uuid.UUID, catalog.Kind) error { return nil }

func (r memWindows) ReplaceActive(_ context.Context, providerID uuid.UUID, category catalog.Kind, ws []*AvailabilityWindow) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, w := range r.m.windows {
		if w.ProviderID == providerID && w.Category == category {
			w.Active = false
		}
	}
	for _, w := range ws {
		r.m.insertLocked(w)
	}
	return nil
}

func (m *MemoryStore) insertLocked(w *AvailabilityWindow) {
	w.ID = uuid.New()
	w.Active = true
	w.CreatedAt = time.Now().UTC()
	cp := *w
	m.windows[w.ID] = &cp
}

func (r memWindows) Create(_ context.Context, w *AvailabilityWindow) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.insertLocked(w)
	return nil
}

func (r memWindows) GetByID(_ context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	w, ok := r.m.windows[id]
	if !ok {
		return nil, apperror.NotFound("availability window", id)
	}
	cp := *w
	return &cp, nil
}

func (r memWindows) ListActive(_ context.Context, providerID uuid.UUID, category catalog.Kind, day *DayOfWeek) ([]*AvailabilityWindow, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []*AvailabilityWindow
	for _, w := range r.m.windows {
		if !w.Active || w.ProviderID != providerID || w.Category != category {
			continue
		}
		if day != nil && w.DayOfWeek != *day {
			continue
		}
		cp := *w
		out = append(out, &cp)
	}
	sortWindows(out)
	return out, nil
}

type memSlots struct{ m *MemoryStore }

func keyOf(windowID uuid.UUID, date time.Time) slotKey {
	return slotKey{window: windowID, date: FormatDate(date)}
}

func (r memSlots) TryClaim(_ context.Context, windowID uuid.UUID, date time.Time) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.windows[windowID]; !ok {
		return false, apperror.NotFound("availability window", windowID)
	}
	k := keyOf(windowID, date)
	s, ok := r.m.slots[k]
	if ok && s.Reserved {
		return false, nil
	}
	if !ok {
		s = &SlotInstance{WindowID: windowID, Date: DateOnly(date)}
		r.m.slots[k] = s
	}
	s.Reserved = true
	s.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r memSlots) Release(_ context.Context, windowID uuid.UUID, date time.Time) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.slots[keyOf(windowID, date)]
	if !ok || !s.Reserved {
		return false, nil
	}
	s.Reserved = false
	s.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r memSlots) Get(_ context.Context, windowID uuid.UUID, date time.Time) (*SlotInstance, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if s, ok := r.m.slots[keyOf(windowID, date)]; ok {
		cp := *s
		return &cp, nil
	}
	return &SlotInstance{WindowID: windowID, Date: DateOnly(date)}, nil
}

func (r memSlots) ReservedOn(_ context.Context, windowIDs []uuid.UUID, date time.Time) (map[uuid.UUID]bool, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	out := make(map[uuid.UUID]bool, len(windowIDs))
	for _, id := range windowIDs {
		if s, ok := r.m.slots[keyOf(id, date)]; ok && s.Reserved {
			out[id] = true
		}
	}
	return out, nil
}
