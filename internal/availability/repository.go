package availability

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrWindowNotFound = errors.New("availability window not found")

// Repository contains all DB interactions needed for availability windows.
type Repository interface {
	// FindActiveByDoctorAndWeekday is the engine's read path. Inactive
	// (soft-deleted) windows are never returned.
	FindActiveByDoctorAndWeekday(ctx context.Context, doctorID uuid.UUID, weekday int) ([]Window, error)

	// Doctor-facing schedule management.
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Window, error)
	Create(ctx context.Context, w Window) (*Window, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}
