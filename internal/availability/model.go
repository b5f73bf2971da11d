package availability

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ClockLayout is the wire format for times of day ("HH:MM", 24-hour).
const ClockLayout = "15:04"

var (
	ErrInvalidWeekday  = errors.New("weekday must be between 0 (Sunday) and 6 (Saturday)")
	ErrInvalidClock    = errors.New("time of day must be in HH:MM 24-hour format")
	ErrInvalidRange    = errors.New("start time must be before end time")
	ErrInvalidDuration = errors.New("slot duration must be positive")
)

// Window is a doctor's recurring weekly opening. The engine only reads
// windows; doctors create, edit and soft-delete them via IsActive.
type Window struct {
	ID                  uuid.UUID
	DoctorID            uuid.UUID
	Weekday             int    // 0=Sunday .. 6=Saturday
	StartTime           string // "HH:MM"
	EndTime             string // "HH:MM"
	SlotDurationMinutes int
	IsActive            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (w Window) Validate() error {
	if w.Weekday < 0 || w.Weekday > 6 {
		return ErrInvalidWeekday
	}
	start, err := ParseClock(w.StartTime)
	if err != nil {
		return err
	}
	end, err := ParseClock(w.EndTime)
	if err != nil {
		return err
	}
	if start >= end {
		return ErrInvalidRange
	}
	if w.SlotDurationMinutes <= 0 {
		return ErrInvalidDuration
	}
	return nil
}

// StartMinutes returns the window start as minutes since midnight.
// The window must have passed Validate.
func (w Window) StartMinutes() int {
	m, _ := ParseClock(w.StartTime)
	return m
}

// EndMinutes returns the window end as minutes since midnight.
func (w Window) EndMinutes() int {
	m, _ := ParseClock(w.EndTime)
	return m
}

// Contains reports whether a time of day (minutes since midnight) falls
// inside the window. The end is exclusive: a booking may start at any
// minute in [start, end).
func (w Window) Contains(minuteOfDay int) bool {
	return minuteOfDay >= w.StartMinutes() && minuteOfDay < w.EndMinutes()
}

// FormatRange renders the window as "09:00 - 12:00" for rejection payloads.
func (w Window) FormatRange() string {
	return fmt.Sprintf("%s - %s", w.StartTime, w.EndTime)
}

// ParseClock converts "HH:MM" to minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse(ClockLayout, s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock converts minutes since midnight to "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
