package scheduling

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    ClockTime
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:30", 570, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"9:30", 0, true},
		{"+1:00", 0, true},
		{"ab:cd", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseClock(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseClock(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestClockTime_JSON(t *testing.T) {
	var in WindowInput
	if err := json.Unmarshal([]byte(`{"day_of_week":"MONDAY","start_time":"09:00","end_time":"10:15"}`), &in); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if in.Start != MustClock("09:00") || in.End != MustClock("10:15") {
		t.Errorf("unexpected times %s-%s", in.Start, in.End)
	}
	out, _ := json.Marshal(in.End)
	if string(out) != `"10:15"` {
		t.Errorf("expected \"10:15\", got %s", out)
	}
	if err := json.Unmarshal([]byte(`{"start_time":540}`), &in); err == nil {
		t.Error("expected error for numeric time")
	}
}

func TestDayOf(t *testing.T) {
	monday := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	if DayOf(monday) != Monday {
		t.Errorf("expected MONDAY, got %s", DayOf(monday))
	}
	if DayOf(monday.AddDate(0, 0, 6)) != Sunday {
		t.Errorf("expected SUNDAY, got %s", DayOf(monday.AddDate(0, 0, 6)))
	}
}

func TestParseDay(t *testing.T) {
	d, err := ParseDay("friday")
	if err != nil || d != Friday {
		t.Errorf("expected FRIDAY, got %s err=%v", d, err)
	}
	if _, err := ParseDay("FUNDAY"); err == nil {
		t.Error("expected error for unknown day")
	}
}

func win(day DayOfWeek, start, end string) *AvailabilityWindow {
	return &AvailabilityWindow{DayOfWeek: day, Start: MustClock(start), End: MustClock(end)}
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b *AvailabilityWindow
		want bool
	}{
		{"start inside", win(Monday, "09:00", "10:00"), win(Monday, "09:30", "10:30"), true},
		{"end inside", win(Monday, "09:00", "10:00"), win(Monday, "08:30", "09:30"), true},
		{"contains", win(Monday, "09:00", "12:00"), win(Monday, "10:00", "11:00"), true},
		{"identical", win(Monday, "09:00", "10:00"), win(Monday, "09:00", "10:00"), true},
		{"touching", win(Monday, "09:00", "10:00"), win(Monday, "10:00", "11:00"), false},
		{"disjoint", win(Monday, "09:00", "10:00"), win(Monday, "13:00", "14:00"), false},
		{"other day", win(Monday, "09:00", "10:00"), win(Tuesday, "09:00", "10:00"), false},
	}
	for _, tt := range tests {
		if got := tt.a.Overlaps(tt.b); got != tt.want {
			t.Errorf("%s: a.Overlaps(b) = %v, want %v", tt.name, got, tt.want)
		}
		if got := tt.b.Overlaps(tt.a); got != tt.want {
			t.Errorf("%s: overlap must be symmetric", tt.name)
		}
	}
}

func TestWindowInput_Validate(t *testing.T) {
	ok := WindowInput{DayOfWeek: Monday, Start: MustClock("09:00"), End: MustClock("10:00")}
	if err := ok.validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	backwards := WindowInput{DayOfWeek: Monday, Start: MustClock("10:00"), End: MustClock("09:00")}
	if err := backwards.validate(); err == nil {
		t.Error("expected error when start is after end")
	}
	empty := WindowInput{DayOfWeek: Monday, Start: MustClock("10:00"), End: MustClock("10:00")}
	if err := empty.validate(); err == nil {
		t.Error("expected error for empty window")
	}
	noDay := WindowInput{Start: MustClock("09:00"), End: MustClock("10:00")}
	if err := noDay.validate(); err == nil {
		t.Error("expected error for missing day")
	}
}
