package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/telehealth-scheduling/internal/availability"
	"github.com/carebridge/telehealth-scheduling/internal/config"
	redisclient "github.com/carebridge/telehealth-scheduling/internal/redis"
	"github.com/carebridge/telehealth-scheduling/internal/scheduling"
)

// sunday is a fixed Sunday; testNow sits the evening before so everything
// scheduled on it is in the future.
var (
	sunday  = time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	testNow = sunday.Add(-6 * time.Hour)
)

type memRepo struct {
	mu           sync.Mutex
	appointments map[uuid.UUID]*Appointment
	events       []EventLog

	reserveErr error
	getErr     error
}

func newMemRepo() *memRepo {
	return &memRepo{appointments: map[uuid.UUID]*Appointment{}}
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	appt, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *appt
	return &cp, nil
}

func (r *memRepo) FindByDoctorAndRange(_ context.Context, doctorID uuid.UUID, from, to time.Time, statuses []Status, limit int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Appointment, 0)
	for _, a := range r.appointments {
		if a.DoctorID != doctorID {
			continue
		}
		if a.ScheduledAt.Before(from) || a.ScheduledAt.After(to) {
			continue
		}
		match := false
		for _, st := range statuses {
			if a.Status == st {
				match = true
				break
			}
		}
		if match {
			out = append(out, *a)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *memRepo) Reserve(_ context.Context, appt Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reserveErr != nil {
		return nil, r.reserveErr
	}

	end := appt.End()
	for _, existing := range r.appointments {
		if existing.DoctorID == appt.DoctorID && existing.Status.Occupies() && existing.Overlaps(appt.ScheduledAt, end) {
			return nil, ErrTimeConflict
		}
	}

	appt.ID = uuid.New()
	appt.Status = StatusPending
	appt.CreatedAt = time.Now()
	appt.UpdatedAt = appt.CreatedAt

	cp := appt
	r.appointments[appt.ID] = &cp
	out := appt
	return &out, nil
}

func (r *memRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, set StatusUpdate) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	appt, ok := r.appointments[id]
	if !ok || appt.Status != from {
		return nil, ErrAppointmentNotFound
	}

	appt.Status = to
	if set.Notes != nil {
		appt.Notes = set.Notes
	}
	if set.RejectionReason != nil {
		appt.RejectionReason = set.RejectionReason
	}
	if set.ConfirmedAt != nil {
		appt.ConfirmedAt = set.ConfirmedAt
	}
	if set.CancelledAt != nil {
		appt.CancelledAt = set.CancelledAt
	}
	appt.UpdatedAt = time.Now()

	cp := *appt
	return &cp, nil
}

func (r *memRepo) FindConfirmedEndedBefore(_ context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Appointment, 0)
	for _, a := range r.appointments {
		if a.Status == StatusConfirmed && a.End().Before(cutoff) {
			out = append(out, *a)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memRepo) eventsOfType(eventType string) []EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventLog, 0)
	for _, ev := range r.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (r *memRepo) put(appt Appointment) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	cp := appt
	r.appointments[appt.ID] = &cp
	return appt.ID
}

type fakeLocker struct {
	held  bool
	calls int
}

func (l *fakeLocker) WithDoctorLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	if l.held {
		return redisclient.ErrLockNotAcquired
	}
	l.calls++
	return fn(ctx)
}

type stubWindows struct {
	windows []availability.Window
	err     error
}

func (s stubWindows) FindActiveByDoctorAndWeekday(_ context.Context, _ uuid.UUID, _ int) ([]availability.Window, error) {
	return s.windows, s.err
}

func newTestService(repo *memRepo, locker *fakeLocker, windows stubWindows) *Service {
	engine := scheduling.NewEngine(windows, Occupancy{Repo: repo}).
		WithClock(func() time.Time { return testNow })

	cfg := config.Config{
		QueryTimeout: time.Second,
		LockTTL:      time.Second,
	}

	return NewService(repo, locker, engine, cfg, nil).
		WithClock(func() time.Time { return testNow })
}

func morningWindow(doctorID uuid.UUID) availability.Window {
	return availability.Window{
		ID:                  uuid.New(),
		DoctorID:            doctorID,
		Weekday:             0,
		StartTime:           "09:00",
		EndTime:             "12:00",
		SlotDurationMinutes: 30,
		IsActive:            true,
	}
}

func validBookRequest(doctorID uuid.UUID) BookRequest {
	return BookRequest{
		DoctorID:    doctorID,
		PatientID:   uuid.New(),
		ScheduledAt: sunday.Add(10 * time.Hour),
		Mode:        ModeVideo,
		Reason:      "follow-up consultation",
	}
}

func TestBook_Success(t *testing.T) {
	doctorID := uuid.New()
	repo := newMemRepo()
	locker := &fakeLocker{}
	svc := newTestService(repo, locker, stubWindows{windows: []availability.Window{morningWindow(doctorID)}})

	req := validBookRequest(doctorID)
	appt, rejection, err := svc.Book(context.Background(), req)

	require.NoError(t, err)
	assert.Nil(t, rejection)
	require.NotNil(t, appt)
	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, scheduling.DefaultDurationMinutes, appt.DurationMinutes)
	assert.Equal(t, req.ScheduledAt, appt.ScheduledAt)
	assert.Equal(t, 1, locker.calls)

	stored, err := repo.GetByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)

	events := repo.eventsOfType(EventAppointmentRequested)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].AppointmentID)
	assert.Equal(t, appt.ID, *events[0].AppointmentID)
}

func TestBook_Validation(t *testing.T) {
	doctorID := uuid.New()

	tests := []struct {
		name    string
		mutate  func(*BookRequest)
		wantErr error
	}{
		{"missing doctor", func(r *BookRequest) { r.DoctorID = uuid.Nil }, ErrMissingDoctor},
		{"missing patient", func(r *BookRequest) { r.PatientID = uuid.Nil }, ErrMissingPatient},
		{"missing schedule", func(r *BookRequest) { r.ScheduledAt = time.Time{} }, ErrMissingSchedule},
		{"negative duration", func(r *BookRequest) { r.DurationMinutes = -10 }, ErrInvalidDuration},
		{"bad mode", func(r *BookRequest) { r.Mode = "hologram" }, ErrInvalidMode},
		{"blank reason", func(r *BookRequest) { r.Reason = "   " }, ErrMissingReason},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			svc := newTestService(repo, &fakeLocker{}, stubWindows{})

			req := validBookRequest(doctorID)
			tt.mutate(&req)

			appt, rejection, err := svc.Book(context.Background(), req)

			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, appt)
			assert.Nil(t, rejection)
			assert.Empty(t, repo.events)
		})
	}
}

func TestBook_OutsideAvailability(t *testing.T) {
	doctorID := uuid.New()
	repo := newMemRepo()
	svc := newTestService(repo, &fakeLocker{}, stubWindows{windows: []availability.Window{morningWindow(doctorID)}})

	req := validBookRequest(doctorID)
	req.ScheduledAt = sunday.Add(8 * time.Hour)

	appt, rejection, err := svc.Book(context.Background(), req)

	require.NoError(t, err)
	assert.Nil(t, appt)
	require.NotNil(t, rejection)
	assert.Equal(t, scheduling.RejectOutsideAvailability, rejection.Code)
	assert.Equal(t, []string{"09:00 - 12:00"}, rejection.AllowedHours)
	assert.Empty(t, repo.appointments)
}

func TestBook_Conflict(t *testing.T) {
	doctorID := uuid.New()
	repo := newMemRepo()
	repo.put(Appointment{
		DoctorID:        doctorID,
		PatientID:       uuid.New(),
		ScheduledAt:     sunday.Add(10 * time.Hour),
		DurationMinutes: 50,
		Status:          StatusPending,
	})
	svc := newTestService(repo, &fakeLocker{}, stubWindows{windows: []availability.Window{morningWindow(doctorID)}})

	req := validBookRequest(doctorID)
	req.ScheduledAt = sunday.Add(10*time.Hour + 15*time.Minute)

	appt, rejection, err := svc.Book(context.Background(), req)

	require.NoError(t, err)
	assert.Nil(t, appt)
	require.NotNil(t, rejection)
	assert.Equal(t, scheduling.RejectConflict, rejection.Code)
	require.NotNil(t, rejection.ConflictingTime)
	assert.Equal(t, sunday.Add(10*time.Hour), *rejection.ConflictingTime)
	assert.Len(t, repo.appointments, 1)
}

func TestBook_CancelledAppointmentFreesSlot(t *testing.T) {
	doctorID := uuid.New()
	repo := newMemRepo()
	repo.put(Appointment{
		DoctorID:        doctorID,
		PatientID:       uuid.New(),
		ScheduledAt:     sunday.Add(10 * time.Hour),
		DurationMinutes: 50,
		Status:          StatusCancelled,
	})
	svc := newTestService(repo, &fakeLocker{}, stubWindows{windows: []availability.Window{morningWindow(doctorID)}})

	req := validBookRequest(doctorID)
	appt, rejection, err := svc.Book(context.Background(), req)

	require.NoError(t, err)
	assert.Nil(t, rejection)
	require.NotNil(t, appt)
}

func TestBook_DoctorBusy(t *testing.T) {
	doctorID := uuid.New()
	repo := newMemRepo()
	svc := newTestService(repo, &fakeLocker{held: true}, stubWindows{windows: []availability.Window{morningWindow(doctorID)}})

	appt, rejection, err := svc.Book(context.Background(), validBookRequest(doctorID))

	require.ErrorIs(t, err, ErrDoctorBusy)
	assert.Nil(t, appt)
	assert.Nil(t, rejection)
}

func TestBook_ReserveRaceBecomesRejection(t *testing.T) {
	// The resolver sees a free calendar but Reserve loses the race. The
	// caller gets a rejection, not an internal error.
	doctorID := uuid.New()
	repo := newMemRepo()
	repo.reserveErr = ErrTimeConflict
	svc := newTestService(repo, &fakeLocker{}, stubWindows{windows: []availability.Window{morningWindow(doctorID)}})

	appt, rejection, err := svc.Book(context.Background(), validBookRequest(doctorID))

	require.NoError(t, err)
	assert.Nil(t, appt)
	require.NotNil(t, rejection)
	assert.Equal(t, scheduling.RejectConflict, rejection.Code)
}

func TestBook_ExplicitDurationKept(t *testing.T) {
	doctorID := uuid.New()
	repo := newMemRepo()
	svc := newTestService(repo, &fakeLocker{}, stubWindows{windows: []availability.Window{morningWindow(doctorID)}})

	req := validBookRequest(doctorID)
	req.DurationMinutes = 20

	appt, rejection, err := svc.Book(context.Background(), req)

	require.NoError(t, err)
	assert.Nil(t, rejection)
	require.NotNil(t, appt)
	assert.Equal(t, 20, appt.DurationMinutes)
}

func TestConfirm(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &fakeLocker{}, stubWindows{})

	id := repo.put(Appointment{
		DoctorID:        uuid.New(),
		PatientID:       uuid.New(),
		ScheduledAt:     sunday.Add(10 * time.Hour),
		DurationMinutes: 50,
		Status:          StatusPending,
	})

	notes := "bring previous lab results"
	appt, err := svc.Confirm(context.Background(), id, &notes)

	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, appt.Status)
	require.NotNil(t, appt.ConfirmedAt)
	assert.Equal(t, testNow, *appt.ConfirmedAt)
	require.NotNil(t, appt.Notes)
	assert.Equal(t, notes, *appt.Notes)

	assert.Len(t, repo.eventsOfType(EventAppointmentConfirmed), 1)
}

func TestConfirm_OnlyFromPending(t *testing.T) {
	for _, status := range []Status{StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow} {
		t.Run(string(status), func(t *testing.T) {
			repo := newMemRepo()
			svc := newTestService(repo, &fakeLocker{}, stubWindows{})

			id := repo.put(Appointment{
				DoctorID:        uuid.New(),
				PatientID:       uuid.New(),
				ScheduledAt:     sunday.Add(10 * time.Hour),
				DurationMinutes: 50,
				Status:          status,
			})

			_, err := svc.Confirm(context.Background(), id, nil)
			require.ErrorIs(t, err, ErrInvalidStatusTransition)
			assert.Empty(t, repo.events)
		})
	}
}

func TestConfirm_NotFound(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &fakeLocker{}, stubWindows{})

	_, err := svc.Confirm(context.Background(), uuid.New(), nil)
	require.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestReject(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &fakeLocker{}, stubWindows{})

	id := repo.put(Appointment{
		DoctorID:        uuid.New(),
		PatientID:       uuid.New(),
		ScheduledAt:     sunday.Add(10 * time.Hour),
		DurationMinutes: 50,
		Status:          StatusPending,
	})

	appt, err := svc.Reject(context.Background(), id, "  fully booked that day  ")

	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, appt.Status)
	require.NotNil(t, appt.RejectionReason)
	assert.Equal(t, "fully booked that day", *appt.RejectionReason)
	require.NotNil(t, appt.CancelledAt)

	events := repo.eventsOfType(EventAppointmentRejected)
	require.Len(t, events, 1)
}

func TestReject_RequiresReason(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &fakeLocker{}, stubWindows{})

	id := repo.put(Appointment{
		DoctorID:    uuid.New(),
		PatientID:   uuid.New(),
		ScheduledAt: sunday.Add(10 * time.Hour),
		Status:      StatusPending,
	})

	for _, reason := range []string{"", "   "} {
		_, err := svc.Reject(context.Background(), id, reason)
		require.ErrorIs(t, err, ErrRejectionReasonRequired)
	}

	stored, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestReject_OnlyFromPending(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &fakeLocker{}, stubWindows{})

	id := repo.put(Appointment{
		DoctorID:    uuid.New(),
		PatientID:   uuid.New(),
		ScheduledAt: sunday.Add(10 * time.Hour),
		Status:      StatusConfirmed,
	})

	_, err := svc.Reject(context.Background(), id, "no longer available")
	require.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestCancel(t *testing.T) {
	for _, status := range []Status{StatusPending, StatusConfirmed} {
		t.Run(string(status), func(t *testing.T) {
			repo := newMemRepo()
			svc := newTestService(repo, &fakeLocker{}, stubWindows{})

			id := repo.put(Appointment{
				DoctorID:        uuid.New(),
				PatientID:       uuid.New(),
				ScheduledAt:     sunday.Add(10 * time.Hour),
				DurationMinutes: 50,
				Status:          status,
			})

			appt, err := svc.Cancel(context.Background(), id, nil)

			require.NoError(t, err)
			assert.Equal(t, StatusCancelled, appt.Status)
			require.NotNil(t, appt.CancelledAt)
			assert.Len(t, repo.eventsOfType(EventAppointmentCancelled), 1)
		})
	}
}

func TestCancel_PastAppointment(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &fakeLocker{}, stubWindows{})

	id := repo.put(Appointment{
		DoctorID:        uuid.New(),
		PatientID:       uuid.New(),
		ScheduledAt:     testNow.Add(-2 * time.Hour),
		DurationMinutes: 50,
		Status:          StatusConfirmed,
	})

	_, err := svc.Cancel(context.Background(), id, nil)

	require.ErrorIs(t, err, ErrCancelPastAppointment)

	stored, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, stored.Status)
}

func TestCancel_TerminalStates(t *testing.T) {
	for _, status := range []Status{StatusCompleted, StatusCancelled, StatusNoShow} {
		t.Run(string(status), func(t *testing.T) {
			repo := newMemRepo()
			svc := newTestService(repo, &fakeLocker{}, stubWindows{})

			id := repo.put(Appointment{
				DoctorID:    uuid.New(),
				PatientID:   uuid.New(),
				ScheduledAt: sunday.Add(10 * time.Hour),
				Status:      status,
			})

			_, err := svc.Cancel(context.Background(), id, nil)
			require.ErrorIs(t, err, ErrInvalidStatusTransition)
		})
	}
}

func TestCompleteElapsed(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &fakeLocker{}, stubWindows{})

	elapsedID := repo.put(Appointment{
		DoctorID:        uuid.New(),
		PatientID:       uuid.New(),
		ScheduledAt:     testNow.Add(-3 * time.Hour),
		DurationMinutes: 50,
		Status:          StatusConfirmed,
	})
	upcomingID := repo.put(Appointment{
		DoctorID:        uuid.New(),
		PatientID:       uuid.New(),
		ScheduledAt:     testNow.Add(3 * time.Hour),
		DurationMinutes: 50,
		Status:          StatusConfirmed,
	})
	pendingID := repo.put(Appointment{
		DoctorID:        uuid.New(),
		PatientID:       uuid.New(),
		ScheduledAt:     testNow.Add(-3 * time.Hour),
		DurationMinutes: 50,
		Status:          StatusPending,
	})

	require.NoError(t, svc.CompleteElapsed(context.Background()))

	elapsed, _ := repo.GetByID(context.Background(), elapsedID)
	assert.Equal(t, StatusCompleted, elapsed.Status)

	upcoming, _ := repo.GetByID(context.Background(), upcomingID)
	assert.Equal(t, StatusConfirmed, upcoming.Status)

	pending, _ := repo.GetByID(context.Background(), pendingID)
	assert.Equal(t, StatusPending, pending.Status)

	assert.Len(t, repo.eventsOfType(EventAppointmentCompleted), 1)
}

// lostCASRepo simulates a row that leaves confirmed between the sweep's
// fetch and its compare-and-swap update.
type lostCASRepo struct {
	*memRepo
}

func (r lostCASRepo) UpdateStatus(_ context.Context, _ uuid.UUID, _, _ Status, _ StatusUpdate) (*Appointment, error) {
	return nil, ErrAppointmentNotFound
}

func TestCompleteElapsed_LostRaceEmitsNoEvent(t *testing.T) {
	repo := newMemRepo()
	repo.put(Appointment{
		DoctorID:        uuid.New(),
		PatientID:       uuid.New(),
		ScheduledAt:     testNow.Add(-3 * time.Hour),
		DurationMinutes: 50,
		Status:          StatusConfirmed,
	})

	engine := scheduling.NewEngine(stubWindows{}, Occupancy{Repo: repo}).
		WithClock(func() time.Time { return testNow })
	svc := NewService(lostCASRepo{repo}, &fakeLocker{}, engine, config.Config{
		QueryTimeout: time.Second,
	}, nil).WithClock(func() time.Time { return testNow })

	require.NoError(t, svc.CompleteElapsed(context.Background()))

	assert.Empty(t, repo.eventsOfType(EventAppointmentCompleted),
		"a lost compare-and-swap is not a transition and must not emit an event")
}

func TestGetAppointment_NotFound(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, &fakeLocker{}, stubWindows{})

	_, err := svc.GetAppointment(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestListByDoctorAndRange(t *testing.T) {
	doctorID := uuid.New()
	repo := newMemRepo()
	repo.put(Appointment{
		DoctorID:    doctorID,
		PatientID:   uuid.New(),
		ScheduledAt: sunday.Add(10 * time.Hour),
		Status:      StatusPending,
	})
	repo.put(Appointment{
		DoctorID:    doctorID,
		PatientID:   uuid.New(),
		ScheduledAt: sunday.Add(11 * time.Hour),
		Status:      StatusCancelled,
	})
	repo.put(Appointment{
		DoctorID:    uuid.New(),
		PatientID:   uuid.New(),
		ScheduledAt: sunday.Add(10 * time.Hour),
		Status:      StatusConfirmed,
	})

	svc := newTestService(repo, &fakeLocker{}, stubWindows{})

	appts, err := svc.ListByDoctorAndRange(context.Background(), doctorID, sunday, sunday.AddDate(0, 0, 1))

	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, doctorID, appts[0].DoctorID)
	assert.Equal(t, StatusPending, appts[0].Status)
}

func TestBook_EngineErrorSurfaces(t *testing.T) {
	boom := errors.New("connection refused")
	repo := newMemRepo()
	svc := newTestService(repo, &fakeLocker{}, stubWindows{err: boom})

	appt, rejection, err := svc.Book(context.Background(), validBookRequest(uuid.New()))

	require.ErrorIs(t, err, boom)
	assert.Nil(t, appt)
	assert.Nil(t, rejection)
}
