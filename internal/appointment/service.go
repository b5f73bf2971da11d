package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/telehealth-scheduling/internal/config"
	"github.com/carebridge/telehealth-scheduling/internal/metrics"
	redisclient "github.com/carebridge/telehealth-scheduling/internal/redis"
	"github.com/carebridge/telehealth-scheduling/internal/scheduling"
)

const (
	EventAppointmentRequested = "APPOINTMENT_REQUESTED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentRejected  = "APPOINTMENT_REJECTED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
)

var (
	ErrDoctorBusy              = errors.New("doctor is currently processing another booking, please retry")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrRejectionReasonRequired = errors.New("rejection reason is required")
	ErrCancelPastAppointment   = errors.New("past appointments cannot be cancelled")
	ErrInvalidMode             = errors.New("mode must be one of video, audio, messaging, in_person")
	ErrInvalidDuration         = errors.New("duration must be positive")
	ErrMissingDoctor           = errors.New("doctor id is required")
	ErrMissingPatient          = errors.New("patient id is required")
	ErrMissingSchedule         = errors.New("scheduled time is required")
	ErrMissingReason           = errors.New("booking reason is required")
)

type BookRequest struct {
	DoctorID        uuid.UUID
	PatientID       uuid.UUID
	CompanionID     *uuid.UUID
	ScheduledAt     time.Time
	DurationMinutes int // 0 means DefaultDurationMinutes
	Mode            Mode
	Reason          string
	Notes           *string
	ConsultationFee *float64
}

func (r *BookRequest) Validate() error {
	if r.DoctorID == uuid.Nil {
		return ErrMissingDoctor
	}
	if r.PatientID == uuid.Nil {
		return ErrMissingPatient
	}
	if r.ScheduledAt.IsZero() {
		return ErrMissingSchedule
	}
	if r.DurationMinutes < 0 {
		return ErrInvalidDuration
	}
	if !r.Mode.Valid() {
		return ErrInvalidMode
	}
	if strings.TrimSpace(r.Reason) == "" {
		return ErrMissingReason
	}
	return nil
}

// Service owns the appointment lifecycle. Booking combines the engine's
// read-only decision with the per-doctor lock and the repository's Reserve
// guard; the remaining transitions are compare-and-swap status updates that
// each emit exactly one domain event.
type Service struct {
	repo    Repository
	locker  redisclient.Locker
	engine  *scheduling.Engine
	cfg     config.Config
	metrics *metrics.SchedulingMetrics
	now     func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, engine *scheduling.Engine, cfg config.Config, m *metrics.SchedulingMetrics) *Service {
	return &Service{
		repo:    repo,
		locker:  locker,
		engine:  engine,
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
	}
}

// WithClock overrides the service's notion of now. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Slots renders the doctor's calendar for one day. Store failures inside
// the engine fail closed to an empty list.
func (s *Service) Slots(ctx context.Context, doctorID uuid.UUID, date time.Time) []scheduling.TimeSlot {
	readCtx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	return s.engine.GenerateSlots(readCtx, doctorID, date)
}

// Book validates the request, runs the conflict resolver under a per-doctor
// lock and reserves the appointment in pending state. A non-nil Rejection
// means the proposal was refused and nothing was persisted.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, *scheduling.Rejection, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = scheduling.DefaultDurationMinutes
	}

	var (
		created   *Appointment
		rejection *scheduling.Rejection
	)

	err := s.locker.WithDoctorLock(ctx, req.DoctorID, func(lockCtx context.Context) error {
		// Decide inside the critical section so the check is as close to
		// the insert as the lock allows; Reserve closes what remains.
		rej, err := s.engine.TryBook(lockCtx, req.DoctorID, req.ScheduledAt, req.DurationMinutes)
		if err != nil {
			return fmt.Errorf("resolve booking: %w", err)
		}
		if rej != nil {
			rejection = rej
			return nil
		}

		appt, err := s.repo.Reserve(lockCtx, Appointment{
			DoctorID:        req.DoctorID,
			PatientID:       req.PatientID,
			CompanionID:     req.CompanionID,
			ScheduledAt:     req.ScheduledAt,
			DurationMinutes: req.DurationMinutes,
			Mode:            req.Mode,
			Reason:          req.Reason,
			Notes:           req.Notes,
			ConsultationFee: req.ConsultationFee,
		})
		if err != nil {
			return err
		}

		created = appt

		s.logEvent(lockCtx, appt.ID, EventAppointmentRequested, map[string]any{
			"doctor_id":        req.DoctorID.String(),
			"patient_id":       req.PatientID.String(),
			"scheduled_at":     req.ScheduledAt,
			"duration_minutes": req.DurationMinutes,
			"mode":             string(req.Mode),
		})

		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			s.metrics.ObserveBooking(metrics.OutcomeError)
			return nil, nil, ErrDoctorBusy
		}
		if errors.Is(err, ErrTimeConflict) {
			// Another writer won the race between the check and the
			// insert. Re-run the resolver outside the lock to build a
			// rejection with fresh suggestions.
			rej, rerr := s.engine.TryBook(ctx, req.DoctorID, req.ScheduledAt, req.DurationMinutes)
			if rerr == nil && rej != nil {
				s.metrics.ObserveBooking(metrics.OutcomeConflictRejected)
				return nil, rej, nil
			}
			s.metrics.ObserveBooking(metrics.OutcomeConflictRejected)
			return nil, &scheduling.Rejection{
				Code:   scheduling.RejectConflict,
				Reason: "the requested time was booked by another request",
			}, nil
		}
		s.metrics.ObserveBooking(metrics.OutcomeError)
		return nil, nil, err
	}

	if rejection != nil {
		switch rejection.Code {
		case scheduling.RejectOutsideAvailability:
			s.metrics.ObserveBooking(metrics.OutcomeAvailabilityRejected)
		default:
			s.metrics.ObserveBooking(metrics.OutcomeConflictRejected)
		}
		return nil, rejection, nil
	}

	s.metrics.ObserveBooking(metrics.OutcomeAccepted)
	return created, nil, nil
}

// Confirm moves a pending appointment to confirmed. Actor: doctor.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, notes *string) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status != StatusPending {
		return nil, ErrInvalidStatusTransition
	}

	now := s.now()
	updated, err := s.repo.UpdateStatus(ctx, id, StatusPending, StatusConfirmed, StatusUpdate{
		Notes:       notes,
		ConfirmedAt: &now,
	})
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// The row left pending between the read and the update.
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentConfirmed, map[string]any{})
	s.metrics.ObserveTransition("confirmed")

	return updated, nil
}

// Reject declines a pending appointment with a mandatory reason. Actor:
// doctor. The appointment lands in cancelled state and frees its interval.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrRejectionReasonRequired
	}

	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status != StatusPending {
		return nil, ErrInvalidStatusTransition
	}

	now := s.now()
	updated, err := s.repo.UpdateStatus(ctx, id, StatusPending, StatusCancelled, StatusUpdate{
		RejectionReason: &reason,
		CancelledAt:     &now,
	})
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("reject appointment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentRejected, map[string]any{
		"reason": reason,
	})
	s.metrics.ObserveTransition("rejected")

	return updated, nil
}

// Cancel withdraws a pending or confirmed appointment, only while its
// scheduled time is still in the future. Actor: patient or companion.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, notes *string) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status != StatusPending && appt.Status != StatusConfirmed {
		return nil, ErrInvalidStatusTransition
	}
	if !appt.ScheduledAt.After(s.now()) {
		return nil, ErrCancelPastAppointment
	}

	now := s.now()
	updated, err := s.repo.UpdateStatus(ctx, id, appt.Status, StatusCancelled, StatusUpdate{
		Notes:       notes,
		CancelledAt: &now,
	})
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentCancelled, map[string]any{
		"previous_status": string(appt.Status),
	})
	s.metrics.ObserveTransition("cancelled")

	return updated, nil
}

// CompleteElapsed marks confirmed appointments whose session end has passed
// as completed. Intended to be called by the completion worker periodically.
func (s *Service) CompleteElapsed(ctx context.Context) error {
	elapsed, err := s.repo.FindConfirmedEndedBefore(ctx, s.now(), scheduling.MaxDayAppointments)
	if err != nil {
		return fmt.Errorf("find elapsed appointments: %w", err)
	}

	for _, appt := range elapsed {
		_, err := s.repo.UpdateStatus(ctx, appt.ID, StatusConfirmed, StatusCompleted, StatusUpdate{})
		if err != nil {
			// A row that left confirmed between the fetch and the update
			// (concurrent cancel) made no transition here, so no event.
			if !errors.Is(err, ErrAppointmentNotFound) {
				log.Printf("failed to complete appointment %s: %v", appt.ID, err)
			}
			continue
		}
		s.logEvent(ctx, appt.ID, EventAppointmentCompleted, map[string]any{
			"reason": "worker",
		})
		s.metrics.ObserveTransition("completed")
	}

	return nil
}

// GetAppointment retrieves an appointment by ID.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// ListByDoctorAndRange retrieves a doctor's occupying appointments in a
// time range, capped like every other engine read.
func (s *Service) ListByDoctorAndRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	appts, err := s.repo.FindByDoctorAndRange(ctx, doctorID, from, to, OccupyingStatuses, scheduling.MaxDayAppointments)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return appts, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for appointment %s: %v", eventType, appointmentID, err)
	}
}
