package availability

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanWindow(row pgx.Row) (*Window, error) {
	var w Window

	err := row.Scan(
		&w.ID,
		&w.DoctorID,
		&w.Weekday,
		&w.StartTime,
		&w.EndTime,
		&w.SlotDurationMinutes,
		&w.IsActive,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWindowNotFound
		}
		return nil, err
	}

	return &w, nil
}

func collectWindows(rows pgx.Rows) ([]Window, error) {
	defer rows.Close()

	var result []Window
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *w)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) FindActiveByDoctorAndWeekday(ctx context.Context, doctorID uuid.UUID, weekday int) ([]Window, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, weekday, start_time, end_time, slot_duration_minutes, is_active, created_at, updated_at
		FROM availability_windows
		WHERE doctor_id = $1
		  AND weekday = $2
		  AND is_active
		ORDER BY start_time
	`, doctorID, weekday)
	if err != nil {
		return nil, err
	}
	return collectWindows(rows)
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Window, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, weekday, start_time, end_time, slot_duration_minutes, is_active, created_at, updated_at
		FROM availability_windows
		WHERE doctor_id = $1
		  AND is_active
		ORDER BY weekday, start_time
	`, doctorID)
	if err != nil {
		return nil, err
	}
	return collectWindows(rows)
}

func (r *PgRepository) Create(ctx context.Context, w Window) (*Window, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO availability_windows (id, doctor_id, weekday, start_time, end_time, slot_duration_minutes, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, true, now(), now())
		RETURNING id, doctor_id, weekday, start_time, end_time, slot_duration_minutes, is_active, created_at, updated_at
	`, id, w.DoctorID, w.Weekday, w.StartTime, w.EndTime, w.SlotDurationMinutes)

	return scanWindow(row)
}

func (r *PgRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE availability_windows
		SET is_active = false,
		    updated_at = now()
		WHERE id = $1
		  AND is_active
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWindowNotFound
	}
	return nil
}
