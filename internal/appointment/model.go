package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusConfirmed   Status = "confirmed"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusNoShow      Status = "no_show"
	StatusRescheduled Status = "rescheduled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow, StatusRescheduled:
		return true
	}
	return false
}

// Occupies reports whether an appointment in this status blocks its time
// interval from being rebooked. Only pending and confirmed do; every other
// status frees the slot.
func (s Status) Occupies() bool {
	return s == StatusPending || s == StatusConfirmed
}

// OccupyingStatuses is the status set consulted by every conflict check.
var OccupyingStatuses = []Status{StatusPending, StatusConfirmed}

type Mode string

const (
	ModeVideo     Mode = "video"
	ModeAudio     Mode = "audio"
	ModeMessaging Mode = "messaging"
	ModeInPerson  Mode = "in_person"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeVideo, ModeAudio, ModeMessaging, ModeInPerson:
		return true
	}
	return false
}

type Appointment struct {
	ID              uuid.UUID
	DoctorID        uuid.UUID
	PatientID       uuid.UUID
	CompanionID     *uuid.UUID
	ScheduledAt     time.Time
	DurationMinutes int
	Mode            Mode
	Status          Status
	Reason          string
	Notes           *string
	ConsultationFee *float64
	RejectionReason *string
	ConfirmedAt     *time.Time
	CancelledAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// End returns the exclusive end of the appointment's interval.
func (a Appointment) End() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Overlaps tests closed-open interval overlap with [start, end). An
// appointment ending exactly when another starts does not overlap.
func (a Appointment) Overlaps(start, end time.Time) bool {
	return a.ScheduledAt.Before(end) && a.End().After(start)
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
