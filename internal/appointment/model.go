package appointment

import (
	"fmt"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/interval"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
	StatusNoShow    AppointmentStatus = "no-show"
)

// ActiveStatuses count against double-booking. Cancelled and no-show release the slot.
var ActiveStatuses = []AppointmentStatus{StatusScheduled, StatusConfirmed, StatusCompleted}

// State transitions:
//
//	scheduled -> confirmed -> completed
//	scheduled|confirmed -> cancelled
//	scheduled|confirmed -> no-show
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled: {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

func ParseStatus(s string) (AppointmentStatus, error) {
	switch st := AppointmentStatus(s); st {
	case StatusScheduled, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow:
		return st, nil
	}
	return "", fmt.Errorf("unknown appointment status %q", s)
}

func (s AppointmentStatus) IsActive() bool {
	return s == StatusScheduled || s == StatusConfirmed || s == StatusCompleted
}

func (s AppointmentStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusNoShow
}

type Appointment struct {
	ID        string            `json:"id"`
	PatientID string            `json:"patient_id"`
	DoctorID  string            `json:"doctor_id"`
	Interval  interval.Interval `json:"interval"`
	Status    AppointmentStatus `json:"status"`
	Notes     string            `json:"notes"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`

	// Version grows by one on every stored update.
	Version int64 `json:"version"`
}

func (a *Appointment) CanTransitionTo(next AppointmentStatus) bool {
	for _, s := range transitions[a.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// Filter selects appointments. Zero fields match everything.
type Filter struct {
	DoctorID    string
	PatientID   string
	Statuses    []AppointmentStatus
	Overlapping *interval.Interval
	EndedBy     time.Time // Interval.End <= EndedBy
}

func (f Filter) Matches(a Appointment) bool {
	if f.DoctorID != "" && a.DoctorID != f.DoctorID {
		return false
	}
	if f.PatientID != "" && a.PatientID != f.PatientID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if a.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Overlapping != nil && !interval.Overlaps(*f.Overlapping, a.Interval) {
		return false
	}
	if !f.EndedBy.IsZero() && a.Interval.End.After(f.EndedBy) {
		return false
	}
	return true
}

// EventLog is one entry of the appointment audit trail. Payload holds JSON.
type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID string
	Payload       []byte
	CreatedAt     time.Time
}
