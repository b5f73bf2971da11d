package scheduling

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
)

// TimeSlot is a derived, never-persisted candidate appointment time.
type TimeSlot struct {
	Start         time.Time
	End           time.Time
	Available     bool
	Booked        bool
	AppointmentID *uuid.UUID
}

// GenerateSlots expands the doctor's active windows for date's weekday into
// concrete slots, marking each against the day's pending/confirmed
// appointments and against the current time.
//
// Store failures fail closed: the error is logged and an empty list is
// returned, because "no slots" is a normal renderable state for the caller.
//
// Overlapping windows are expanded independently; two windows that share a
// start time will both emit a slot at that start. The output is sorted by
// start but deliberately not deduplicated.
func (e *Engine) GenerateSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) []TimeSlot {
	weekday := int(date.Weekday())

	windows, err := e.windows.FindActiveByDoctorAndWeekday(ctx, doctorID, weekday)
	if err != nil {
		log.Printf("generate slots: load windows doctor=%s weekday=%d: %v", doctorID, weekday, err)
		return []TimeSlot{}
	}
	if len(windows) == 0 {
		// No availability configured is a valid, common state.
		return []TimeSlot{}
	}

	dayStart, dayEnd := dayBounds(date)

	booked, err := e.busy.FindOccupiedByDoctorAndRange(ctx, doctorID, dayStart, dayEnd, MaxDayAppointments)
	if err != nil {
		log.Printf("generate slots: load appointments doctor=%s date=%s: %v", doctorID, dayStart.Format("2006-01-02"), err)
		return []TimeSlot{}
	}

	now := e.now()
	slots := make([]TimeSlot, 0)

	for _, w := range windows {
		startM := w.StartMinutes()
		endM := w.EndMinutes()
		step := w.SlotDurationMinutes

		// Walk the window in slot-duration steps; a trailing partial slot
		// that would spill past the window end is not emitted.
		for cur := startM; cur+step <= endM; cur += step {
			slot := TimeSlot{
				Start:     dayStart.Add(time.Duration(cur) * time.Minute),
				End:       dayStart.Add(time.Duration(cur+step) * time.Minute),
				Available: true,
			}

			for i := range booked {
				if booked[i].Overlaps(slot.Start, slot.End) {
					id := booked[i].ID
					slot.Booked = true
					slot.AppointmentID = &id
					slot.Available = false
					break
				}
			}

			// A slot entirely in the past is never available, booked or not.
			if !slot.End.After(now) {
				slot.Available = false
			}

			slots = append(slots, slot)
		}
	}

	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].Start.Before(slots[j].Start)
	})

	return slots
}
