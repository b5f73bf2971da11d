package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrTimeConflict is returned by Reserve when the proposed interval
	// overlaps a pending or confirmed appointment for the same doctor at
	// commit time. It is the persistence-level backstop behind the
	// resolver's in-memory check.
	ErrTimeConflict = errors.New("appointment time conflicts with an existing booking")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// FindByDoctorAndRange returns the doctor's appointments whose
	// scheduled_at falls in [from, to], filtered to the given statuses.
	// The result is capped at limit rows, chronologically first.
	FindByDoctorAndRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time, statuses []Status, limit int) ([]Appointment, error)

	// Reserve atomically re-checks the appointment's interval against
	// every occupying appointment for the doctor and inserts the row in
	// pending state. Returns ErrTimeConflict if another writer got there
	// first.
	Reserve(ctx context.Context, appt Appointment) (*Appointment, error)

	// UpdateStatus transitions id from one status to another, refusing the
	// write if the row is no longer in the expected state.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, set StatusUpdate) (*Appointment, error)

	// FindConfirmedEndedBefore feeds the completion worker.
	FindConfirmedEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

// StatusUpdate carries the optional columns written alongside a status
// transition.
type StatusUpdate struct {
	Notes           *string
	RejectionReason *string
	ConfirmedAt     *time.Time
	CancelledAt     *time.Time
}
