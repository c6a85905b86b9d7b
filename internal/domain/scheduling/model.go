package scheduling

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medconnect/medconnect/internal/domain/catalog"
)

// DayOfWeek is the weekday a recurring window applies to.
type DayOfWeek string

const (
	Monday    DayOfWeek = "MONDAY"
	Tuesday   DayOfWeek = "TUESDAY"
	Wednesday DayOfWeek = "WEDNESDAY"
	Thursday  DayOfWeek = "THURSDAY"
	Friday    DayOfWeek = "FRIDAY"
	Saturday  DayOfWeek = "SATURDAY"
	Sunday    DayOfWeek = "SUNDAY"
)

var weekdays = map[time.Weekday]DayOfWeek{
	time.Monday:    Monday,
	time.Tuesday:   Tuesday,
	time.Wednesday: Wednesday,
	time.Thursday:  Thursday,
	time.Friday:    Friday,
	time.Saturday:  Saturday,
	time.Sunday:    Sunday,
}

var dayOrder = map[DayOfWeek]int{
	Monday: 0, Tuesday: 1, Wednesday: 2, Thursday: 3, Friday: 4, Saturday: 5, Sunday: 6,
}

// DayOf maps a calendar date to its weekday.
func DayOf(date time.Time) DayOfWeek {
	return weekdays[date.Weekday()]
}

// ParseDay accepts a day name in any case.
func ParseDay(s string) (DayOfWeek, error) {
	d := DayOfWeek(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := dayOrder[d]; !ok {
		return "", fmt.Errorf("invalid day_of_week %q", s)
	}
	return d, nil
}

// Valid reports whether d is one of the seven weekdays.
func (d DayOfWeek) Valid() bool {
	_, ok := dayOrder[d]
	return ok
}

// ClockTime is a wall-clock time of day in minutes since midnight. It is
// written and read as "HH:MM".
type ClockTime int

const minutesPerDay = 24 * 60

// ParseClock parses "HH:MM" in the range 00:00 to 23:59.
func ParseClock(s string) (ClockTime, error) {
	if len(s) != 5 || s[2] != ':' || !isDigits(s[:2]) || !isDigits(s[3:]) {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return ClockTime(h*60 + m), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// MustClock is ParseClock for literals; it panics on bad input.
func MustClock(s string) ClockTime {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("time must be a \"HH:MM\" string")
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// WindowInput is a proposed window as sent by a provider.
type WindowInput struct {
	DayOfWeek DayOfWeek `json:"day_of_week"`
	Start     ClockTime `json:"start_time"`
	End       ClockTime `json:"end_time"`
}

func (in WindowInput) validate() error {
	if !in.DayOfWeek.Valid() {
		return fmt.Errorf("invalid day_of_week %q", in.DayOfWeek)
	}
	if in.Start < 0 || in.End >= minutesPerDay {
		return fmt.Errorf("window %s-%s is outside the day", in.Start, in.End)
	}
	if in.Start >= in.End {
		return fmt.Errorf("window start %s must be before end %s", in.Start, in.End)
	}
	return nil
}

// AvailabilityWindow is one recurring weekly interval a provider offers for
// a service category. Retired windows stay in storage with Active=false so
// existing bookings keep their reference.
type AvailabilityWindow struct {
	ID         uuid.UUID    `json:"id"`
	ProviderID uuid.UUID    `json:"provider_id"`
	Category   catalog.Kind `json:"category"`
	DayOfWeek  DayOfWeek    `json:"day_of_week"`
	Start      ClockTime    `json:"start_time"`
	End        ClockTime    `json:"end_time"`
	Active     bool         `json:"active"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Overlaps reports whether w and o share any instant on the same weekday.
// Windows are half-open, so 09:00-10:00 and 10:00-11:00 do not overlap.
func (w *AvailabilityWindow) Overlaps(o *AvailabilityWindow) bool {
	return w.DayOfWeek == o.DayOfWeek && w.Start < o.End && o.Start < w.End
}

// Covers reports whether the window applies on the given calendar date.
func (w *AvailabilityWindow) Covers(date time.Time) bool {
	return DayOf(date) == w.DayOfWeek
}

// ClaimResult is the outcome of a slot claim.
type ClaimResult int

const (
	Claimed ClaimResult = iota + 1
	AlreadyReserved
)

func (r ClaimResult) String() string {
	switch r {
	case Claimed:
		return "CLAIMED"
	case AlreadyReserved:
		return "ALREADY_RESERVED"
	default:
		return "UNKNOWN"
	}
}

func (r ClaimResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// SlotInstance binds a window to one calendar date.
type SlotInstance struct {
	WindowID  uuid.UUID `json:"window_id"`
	Date      time.Time `json:"date"`
	Reserved  bool      `json:"reserved"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CandidateSlot is a window rendered for a specific date.
type CandidateSlot struct {
	Window   *AvailabilityWindow `json:"window"`
	Date     string              `json:"date"`
	Reserved bool                `json:"reserved"`
}

const dateLayout = "2006-01-02"

// ParseDate parses a calendar date in YYYY-MM-DD form as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return d, nil
}

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a calendar date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}
