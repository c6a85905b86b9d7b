package scheduling

import (
	"fmt"

	"github.com/medconnect/medconnect/pkg/apperror"
)

// OverlapError names the two windows that collide. Existing is nil-ID when
// both windows come from the same proposed set.
type OverlapError struct {
	Proposed AvailabilityWindow
	Existing AvailabilityWindow
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("window %s %s-%s overlaps %s-%s",
		e.Proposed.DayOfWeek, e.Proposed.Start, e.Proposed.End, e.Existing.Start, e.Existing.End)
}

func (e *OverlapError) AppKind() apperror.Kind { return apperror.KindOverlap }

func (e *OverlapError) Details() interface{} {
	return map[string]interface{}{
		"proposed": e.Proposed,
		"existing": e.Existing,
	}
}
