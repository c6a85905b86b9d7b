package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medconnect/medconnect/internal/domain/catalog"
)

type WindowRepository interface {
	// LockSchedule serializes writers of one (provider, category) schedule
	// for the rest of the current transaction.
	LockSchedule(ctx context.Context, providerID uuid.UUID, category catalog.Kind) error
	// ReplaceActive retires every active window of the schedule and inserts ws.
	ReplaceActive(ctx context.Context, providerID uuid.UUID, category catalog.Kind, ws []*AvailabilityWindow) error
	Create(ctx context.Context, w *AvailabilityWindow) error
	GetByID(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error)
	ListActive(ctx context.Context, providerID uuid.UUID, category catalog.Kind, day *DayOfWeek) ([]*AvailabilityWindow, error)
}

type SlotRepository interface {
	// TryClaim flips (windowID, date) from unreserved to reserved in one
	// conditional write and reports whether this call did the flip.
	TryClaim(ctx context.Context, windowID uuid.UUID, date time.Time) (bool, error)
	// Release flips a reserved instance back and reports whether it did.
	Release(ctx context.Context, windowID uuid.UUID, date time.Time) (bool, error)
	Get(ctx context.Context, windowID uuid.UUID, date time.Time) (*SlotInstance, error)
	ReservedOn(ctx context.Context, windowIDs []uuid.UUID, date time.Time) (map[uuid.UUID]bool, error)
}
