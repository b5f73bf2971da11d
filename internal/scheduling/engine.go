package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/telehealth-scheduling/internal/availability"
)

// Booking policy. These are product decisions, kept here so nothing in the
// engine reaches for an inline literal.
const (
	// DefaultDurationMinutes is the consultation length applied when the
	// caller does not specify one.
	DefaultDurationMinutes = 50

	// MaxDayAppointments caps every conflict-check fetch; the engine never
	// assumes an unbounded result set.
	MaxDayAppointments = 200

	// MaxSuggestions is the most alternative times a rejection carries.
	MaxSuggestions = 3

	// SuggestionStep is the walk increment when searching a window for
	// alternative times.
	SuggestionStep = time.Hour

	// SuggestionAttemptsPerWindow bounds the walk per window.
	SuggestionAttemptsPerWindow = 10
)

// fallbackOffsets are proposed unconditionally when the doctor has no
// configured windows for the rejected weekday.
var fallbackOffsets = []time.Duration{2 * time.Hour, 4 * time.Hour}

// Booked is an already-claimed interval held by a pending or confirmed
// appointment. The engine only needs the interval and the owning ID.
type Booked struct {
	ID    uuid.UUID
	Start time.Time
	End   time.Time
}

// Overlaps tests closed-open interval overlap with [start, end).
func (b Booked) Overlaps(start, end time.Time) bool {
	return overlaps(b.Start, b.End, start, end)
}

// WindowSource is the engine's read path into availability windows.
type WindowSource interface {
	FindActiveByDoctorAndWeekday(ctx context.Context, doctorID uuid.UUID, weekday int) ([]availability.Window, error)
}

// OccupancySource is the engine's read path into the intervals already
// claimed by pending/confirmed appointments.
type OccupancySource interface {
	FindOccupiedByDoctorAndRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time, limit int) ([]Booked, error)
}

// Engine is the scheduling core: it expands availability windows into
// bookable slots and decides whether a proposed booking is acceptable. It
// never writes; persisting an accepted booking is the caller's job.
type Engine struct {
	windows WindowSource
	busy    OccupancySource
	now     func() time.Time
}

func NewEngine(windows WindowSource, busy OccupancySource) *Engine {
	return &Engine{
		windows: windows,
		busy:    busy,
		now:     time.Now,
	}
}

// WithClock overrides the engine's notion of now. Tests only.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// overlaps is the shared closed-open interval test: [aStart, aEnd) and
// [bStart, bEnd) overlap iff aStart < bEnd && aEnd > bStart. Adjacent
// intervals do not overlap.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// dayBounds returns the inclusive [start, end] of t's calendar day in t's
// location.
func dayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	end := start.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return start, end
}

// minuteOfDay returns t's time of day as minutes since midnight.
func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
