package appointment

import (
	"errors"

	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/interval"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorConflict      = errors.New("doctor already has an overlapping appointment")
	ErrDoctorUnavailable   = errors.New("doctor is not available during the requested interval")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrStaleAppointment    = errors.New("appointment was modified concurrently")
)

// ErrorKind is the token surfaced to API and CLI callers for each failure class.
type ErrorKind string

const (
	KindInvalidInterval    ErrorKind = "invalid_interval"
	KindCrossesDayBoundary ErrorKind = "crosses_day_boundary"
	KindDoctorUnavailable  ErrorKind = "doctor_unavailable"
	KindDoctorConflict     ErrorKind = "doctor_conflict"
	KindNotFound           ErrorKind = "not_found"
	KindInvalidTransition  ErrorKind = "invalid_transition"
	KindInternal           ErrorKind = "internal_error"
)

// Kind classifies err. Nil errors have no kind.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, interval.ErrInvalidInterval):
		return KindInvalidInterval
	case errors.Is(err, availability.ErrCrossesDayBoundary):
		return KindCrossesDayBoundary
	case errors.Is(err, ErrDoctorUnavailable):
		return KindDoctorUnavailable
	case errors.Is(err, ErrDoctorConflict),
		errors.Is(err, ErrStaleAppointment):
		return KindDoctorConflict
	case errors.Is(err, ErrAppointmentNotFound),
		errors.Is(err, ErrPatientNotFound),
		errors.Is(err, availability.ErrDoctorNotFound),
		errors.Is(err, availability.ErrNoSlot):
		return KindNotFound
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	}
	return KindInternal
}
