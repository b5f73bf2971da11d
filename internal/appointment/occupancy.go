package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/telehealth-scheduling/internal/scheduling"
)

// Occupancy adapts the appointment repository to the engine's read
// interface, exposing pending/confirmed rows as claimed intervals.
type Occupancy struct {
	Repo Repository
}

func (o Occupancy) FindOccupiedByDoctorAndRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time, limit int) ([]scheduling.Booked, error) {
	appts, err := o.Repo.FindByDoctorAndRange(ctx, doctorID, from, to, OccupyingStatuses, limit)
	if err != nil {
		return nil, err
	}

	booked := make([]scheduling.Booked, 0, len(appts))
	for _, a := range appts {
		booked = append(booked, scheduling.Booked{
			ID:    a.ID,
			Start: a.ScheduledAt,
			End:   a.End(),
		})
	}

	return booked, nil
}
