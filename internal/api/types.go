package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/telehealth-scheduling/internal/appointment"
	"github.com/carebridge/telehealth-scheduling/internal/availability"
	"github.com/carebridge/telehealth-scheduling/internal/scheduling"
)

type BookAppointmentRequest struct {
	DoctorID        string   `json:"doctor_id"`
	PatientID       string   `json:"patient_id"`
	CompanionID     *string  `json:"companion_id,omitempty"`
	ScheduledAt     string   `json:"scheduled_at"` // ISO-8601
	DurationMinutes int      `json:"duration_minutes,omitempty"`
	Mode            string   `json:"mode"`
	Reason          string   `json:"reason"`
	Notes           *string  `json:"notes,omitempty"`
	ConsultationFee *float64 `json:"consultation_fee,omitempty"`
}

type ConfirmRequest struct {
	Notes *string `json:"notes,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

type CancelRequest struct {
	Notes *string `json:"notes,omitempty"`
}

type CreateWindowRequest struct {
	Weekday             int    `json:"weekday"` // 0=Sunday .. 6=Saturday
	StartTime           string `json:"start_time"`
	EndTime             string `json:"end_time"`
	SlotDurationMinutes int    `json:"slot_duration_minutes"`
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	DoctorID        uuid.UUID  `json:"doctor_id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	CompanionID     *uuid.UUID `json:"companion_id,omitempty"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
	DurationMinutes int        `json:"duration_minutes"`
	Mode            string     `json:"mode"`
	Status          string     `json:"status"`
	Reason          string     `json:"reason"`
	Notes           *string    `json:"notes,omitempty"`
	ConsultationFee *float64   `json:"consultation_fee,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		DoctorID:        a.DoctorID,
		PatientID:       a.PatientID,
		CompanionID:     a.CompanionID,
		ScheduledAt:     a.ScheduledAt,
		DurationMinutes: a.DurationMinutes,
		Mode:            string(a.Mode),
		Status:          string(a.Status),
		Reason:          a.Reason,
		Notes:           a.Notes,
		ConsultationFee: a.ConsultationFee,
		RejectionReason: a.RejectionReason,
		ConfirmedAt:     a.ConfirmedAt,
		CancelledAt:     a.CancelledAt,
	}
}

type TimeSlotResponse struct {
	Start         time.Time  `json:"start"`
	End           time.Time  `json:"end"`
	Available     bool       `json:"available"`
	Booked        bool       `json:"booked"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

func toSlotResponses(slots []scheduling.TimeSlot) []TimeSlotResponse {
	out := make([]TimeSlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, TimeSlotResponse{
			Start:         s.Start,
			End:           s.End,
			Available:     s.Available,
			Booked:        s.Booked,
			AppointmentID: s.AppointmentID,
		})
	}
	return out
}

type WindowResponse struct {
	ID                  uuid.UUID `json:"id"`
	DoctorID            uuid.UUID `json:"doctor_id"`
	Weekday             int       `json:"weekday"`
	StartTime           string    `json:"start_time"`
	EndTime             string    `json:"end_time"`
	SlotDurationMinutes int       `json:"slot_duration_minutes"`
}

func toWindowResponses(windows []availability.Window) []WindowResponse {
	out := make([]WindowResponse, 0, len(windows))
	for _, w := range windows {
		out = append(out, WindowResponse{
			ID:                  w.ID,
			DoctorID:            w.DoctorID,
			Weekday:             w.Weekday,
			StartTime:           w.StartTime,
			EndTime:             w.EndTime,
			SlotDurationMinutes: w.SlotDurationMinutes,
		})
	}
	return out
}

// RejectionResponse is the body for refused bookings: why, and what to try
// instead. Suggestions may be empty, meaning "no alternative found, pick
// another day".
type RejectionResponse struct {
	Error           string      `json:"error"`
	Code            string      `json:"code"`
	Details         string      `json:"details"`
	AllowedHours    []string    `json:"allowed_hours,omitempty"`
	ConflictingTime *time.Time  `json:"conflicting_time,omitempty"`
	Suggestions     []time.Time `json:"suggestions"`
}

func toRejectionResponse(rej *scheduling.Rejection) RejectionResponse {
	suggestions := rej.Suggestions
	if suggestions == nil {
		suggestions = []time.Time{}
	}
	return RejectionResponse{
		Error:           "booking_rejected",
		Code:            string(rej.Code),
		Details:         rej.Reason,
		AllowedHours:    rej.AllowedHours,
		ConflictingTime: rej.ConflictingTime,
		Suggestions:     suggestions,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
