package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres error code raised by the appointments_no_doctor_overlap EXCLUDE
// constraint (see migrations/0001).
const exclusionViolationCode = "23P01"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `
	id, doctor_id, patient_id, companion_id, scheduled_at, duration_minutes,
	mode, status, reason, notes, consultation_fee, rejection_reason,
	confirmed_at, cancelled_at, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.CompanionID,
		&a.ScheduledAt,
		&a.DurationMinutes,
		&a.Mode,
		&a.Status,
		&a.Reason,
		&a.Notes,
		&a.ConsultationFee,
		&a.RejectionReason,
		&a.ConfirmedAt,
		&a.CancelledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) FindByDoctorAndRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time, statuses []Status, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND scheduled_at >= $2
		  AND scheduled_at <= $3
		  AND status = ANY($4)
		ORDER BY scheduled_at
		LIMIT $5
	`, doctorID, from, to, statusStrings(statuses), limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// Reserve closes the check-then-insert gap. The transaction takes a
// per-doctor advisory lock, re-runs the overlap check in SQL and only then
// inserts the pending row. The appointments_no_doctor_overlap EXCLUDE
// constraint catches anything that still slips through.
func (r *PgRepository) Reserve(ctx context.Context, appt Appointment) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reserve tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, appt.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("acquire doctor advisory lock: %w", err)
	}

	end := appt.End()

	var conflictID uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id
		FROM appointments
		WHERE doctor_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND scheduled_at < $3
		  AND ends_at > $2
		LIMIT 1
	`, appt.DoctorID, appt.ScheduledAt, end).Scan(&conflictID)
	if err == nil {
		return nil, ErrTimeConflict
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reserve overlap check: %w", err)
	}

	id := appt.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (
			id, doctor_id, patient_id, companion_id, scheduled_at, duration_minutes,
			ends_at, mode, status, reason, notes, consultation_fee, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9, $10, $11, now(), now())
		RETURNING `+appointmentColumns+`
	`, id, appt.DoctorID, appt.PatientID, appt.CompanionID, appt.ScheduledAt,
		appt.DurationMinutes, end, appt.Mode, appt.Reason, appt.Notes, appt.ConsultationFee)

	created, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == exclusionViolationCode {
			return nil, ErrTimeConflict
		}
		return nil, fmt.Errorf("insert pending appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == exclusionViolationCode {
			return nil, ErrTimeConflict
		}
		return nil, fmt.Errorf("commit reserve tx: %w", err)
	}

	return created, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, set StatusUpdate) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    notes = COALESCE($4, notes),
		    rejection_reason = COALESCE($5, rejection_reason),
		    confirmed_at = COALESCE($6, confirmed_at),
		    cancelled_at = COALESCE($7, cancelled_at),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from, set.Notes, set.RejectionReason, set.ConfirmedAt, set.CancelledAt)

	return scanAppointment(row)
}

func (r *PgRepository) FindConfirmedEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'confirmed'
		  AND ends_at < $1
		ORDER BY scheduled_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
