package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/interval"
)

// CreateAppointmentRequest takes either an end or a duration in minutes.
type CreateAppointmentRequest struct {
	PatientID       string     `json:"patient_id"`
	DoctorID        string     `json:"doctor_id"`
	Start           time.Time  `json:"start"`
	End             *time.Time `json:"end,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	Notes           string     `json:"notes,omitempty"`
}

// RescheduleRequest keeps the current duration when neither end nor duration is given.
type RescheduleRequest struct {
	Start           time.Time  `json:"start"`
	End             *time.Time `json:"end,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
}

type AppointmentResponse struct {
	ID              string    `json:"id"`
	PatientID       string    `json:"patient_id"`
	DoctorID        string    `json:"doctor_id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
	Notes           string    `json:"notes"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type ListAppointmentsResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Count        int                   `json:"count"`
}

type SlotsResponse struct {
	DoctorID        string              `json:"doctor_id"`
	DurationMinutes int                 `json:"duration_minutes"`
	Slots           []interval.Interval `json:"slots"`
}

type AvailabilityResponse struct {
	DoctorID string              `json:"doctor_id"`
	Date     string              `json:"date"`
	Windows  []interval.Interval `json:"windows"`
}

type EventResponse struct {
	ID        int64           `json:"id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		Start:           a.Interval.Start,
		End:             a.Interval.End,
		DurationMinutes: interval.DurationMinutes(a.Interval),
		Status:          string(a.Status),
		Notes:           a.Notes,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

// resolveInterval builds [start, end) from an explicit end or a duration.
func resolveInterval(start time.Time, end *time.Time, minutes int) (interval.Interval, error) {
	if start.IsZero() {
		return interval.Interval{}, fmt.Errorf("%w: start is required", interval.ErrInvalidInterval)
	}
	if end != nil {
		return interval.New(start, *end)
	}
	if minutes <= 0 {
		return interval.Interval{}, fmt.Errorf("%w: end or a positive duration_minutes is required", interval.ErrInvalidInterval)
	}
	return interval.OfMinutes(start, minutes)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
