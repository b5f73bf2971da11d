package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/telehealth-scheduling/internal/availability"
)

type RejectCode string

const (
	RejectOutsideAvailability RejectCode = "outside_availability"
	RejectConflict            RejectCode = "time_conflict"
)

// Rejection explains why a proposed booking was refused. A nil *Rejection
// from TryBook means the proposal is acceptable.
type Rejection struct {
	Code            RejectCode
	Reason          string
	AllowedHours    []string    // populated on availability rejections
	ConflictingTime *time.Time  // populated on conflict rejections
	Suggestions     []time.Time // best-effort alternatives, may be empty
}

// TryBook decides whether an appointment at scheduledAt for
// durationMinutes can be booked with the doctor. It performs no writes and
// is safe to call repeatedly; callers must re-run it immediately before the
// insert and still rely on the repository's Reserve guard for the rest of
// the race window.
//
// A non-nil error is an infrastructure failure and the booking must not
// proceed.
func (e *Engine) TryBook(ctx context.Context, doctorID uuid.UUID, scheduledAt time.Time, durationMinutes int) (*Rejection, error) {
	if durationMinutes <= 0 {
		durationMinutes = DefaultDurationMinutes
	}

	weekday := int(scheduledAt.Weekday())

	windows, err := e.windows.FindActiveByDoctorAndWeekday(ctx, doctorID, weekday)
	if err != nil {
		return nil, fmt.Errorf("load availability windows: %w", err)
	}

	// A doctor with no windows configured for this weekday is treated as
	// unrestricted, not unavailable: only the conflict check applies. This
	// keeps bookings possible before a doctor has set up a schedule.
	if len(windows) > 0 {
		minute := minuteOfDay(scheduledAt)

		inWindow := false
		for _, w := range windows {
			if w.Contains(minute) {
				inWindow = true
				break
			}
		}

		if !inWindow {
			hours := make([]string, 0, len(windows))
			for _, w := range windows {
				hours = append(hours, w.FormatRange())
			}
			return &Rejection{
				Code:         RejectOutsideAvailability,
				Reason:       fmt.Sprintf("requested time %s is outside the doctor's available hours", scheduledAt.Format("15:04")),
				AllowedHours: hours,
			}, nil
		}
	}

	proposedEnd := scheduledAt.Add(time.Duration(durationMinutes) * time.Minute)

	// Fetch the proposed day's occupying appointments, widened by the
	// proposal's own duration on both ends so an overlapping neighbour just
	// outside the day bounds cannot be missed.
	dayStart, dayEnd := dayBounds(scheduledAt)
	pad := time.Duration(durationMinutes) * time.Minute

	booked, err := e.busy.FindOccupiedByDoctorAndRange(ctx, doctorID, dayStart.Add(-pad), dayEnd.Add(pad), MaxDayAppointments)
	if err != nil {
		return nil, fmt.Errorf("load existing appointments: %w", err)
	}

	for i := range booked {
		if booked[i].Overlaps(scheduledAt, proposedEnd) {
			conflictAt := booked[i].Start
			return &Rejection{
				Code:            RejectConflict,
				Reason:          fmt.Sprintf("the doctor already has an appointment at %s", conflictAt.Format("2006-01-02 15:04")),
				ConflictingTime: &conflictAt,
				Suggestions:     e.suggestAlternatives(windows, booked, scheduledAt, durationMinutes),
			}, nil
		}
	}

	return nil, nil
}

// suggestAlternatives searches for up to MaxSuggestions free start times
// near the rejected one. With configured windows it walks each window from
// its start in SuggestionStep increments, skipping candidates that
// conflict, are not strictly in the future, or equal the rejected time.
// Without windows it falls back to coarse fixed offsets with no further
// validation.
func (e *Engine) suggestAlternatives(windows []availability.Window, booked []Booked, scheduledAt time.Time, durationMinutes int) []time.Time {
	if len(windows) == 0 {
		out := make([]time.Time, 0, len(fallbackOffsets))
		for _, off := range fallbackOffsets {
			out = append(out, scheduledAt.Add(off))
		}
		return out
	}

	now := e.now()
	dayStart, _ := dayBounds(scheduledAt)
	dur := time.Duration(durationMinutes) * time.Minute

	suggestions := make([]time.Time, 0, MaxSuggestions)

	for _, w := range windows {
		candidate := dayStart.Add(time.Duration(w.StartMinutes()) * time.Minute)

		for attempt := 0; attempt < SuggestionAttemptsPerWindow && len(suggestions) < MaxSuggestions; attempt++ {
			ok := candidate.After(now) && !candidate.Equal(scheduledAt)
			if ok {
				for i := range booked {
					if booked[i].Overlaps(candidate, candidate.Add(dur)) {
						ok = false
						break
					}
				}
			}
			if ok {
				suggestions = append(suggestions, candidate)
			}
			candidate = candidate.Add(SuggestionStep)
		}

		if len(suggestions) >= MaxSuggestions {
			break
		}
	}

	return suggestions
}
