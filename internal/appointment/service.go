package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/interval"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentNoShow      = "APPOINTMENT_NO_SHOW"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
)

var tracer = otel.Tracer("clinic.internal.appointment")

// Calendar is the availability view the service books against.
type Calendar interface {
	IsAvailable(ctx context.Context, doctorID string, iv interval.Interval) (bool, error)
	NextAvailableSlotBefore(ctx context.Context, doctorID string, from time.Time, durationMinutes int, until time.Time) (interval.Interval, error)
	HorizonEnd(from time.Time) time.Time
}

// PatientLookup checks patient ids against the registry.
type PatientLookup interface {
	HasPatient(ctx context.Context, patientID string) (bool, error)
}

// EventRecorder persists an audit trail of appointment changes.
type EventRecorder interface {
	InsertEvent(ctx context.Context, ev EventLog) error
}

type BookRequest struct {
	PatientID string
	DoctorID  string
	Interval  interval.Interval
	Notes     string
}

// Service is the entry point for callers: it checks availability, then
// delegates to the ledger, which re-validates conflicts under its lock.
type Service struct {
	ledger   *Ledger
	calendar Calendar
	patients PatientLookup
	events   EventRecorder
	metrics  *metrics.SchedulingMetrics
	log      zerolog.Logger
}

type ServiceOption func(*Service)

func WithPatientLookup(p PatientLookup) ServiceOption {
	return func(s *Service) { s.patients = p }
}

func WithEventRecorder(r EventRecorder) ServiceOption {
	return func(s *Service) { s.events = r }
}

func WithMetrics(m *metrics.SchedulingMetrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

func NewService(ledger *Ledger, calendar Calendar, log zerolog.Logger, opts ...ServiceOption) *Service {
	if ledger == nil || calendar == nil {
		panic("appointment: ledger and calendar required")
	}
	s := &Service{
		ledger:   ledger,
		calendar: calendar,
		log:      log.With().Str("component", "scheduling").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Book creates an appointment if the doctor is open and free for the whole interval.
func (s *Service) Book(ctx context.Context, req BookRequest) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.book")
	defer s.finish(span, "book", time.Now(), &err)
	span.SetAttributes(
		attribute.String("clinic.doctor_id", req.DoctorID),
		attribute.String("clinic.patient_id", req.PatientID),
	)

	if err := req.Interval.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkPatient(ctx, req.PatientID); err != nil {
		return nil, err
	}
	if err := s.checkAvailable(ctx, req.DoctorID, req.Interval); err != nil {
		return nil, err
	}

	appt, err = s.ledger.Insert(ctx, req.PatientID, req.DoctorID, req.Interval, req.Notes)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", appt.ID).
		Str("doctor_id", appt.DoctorID).
		Str("patient_id", appt.PatientID).
		Time("start", appt.Interval.Start).
		Time("end", appt.Interval.End).
		Msg("appointment booked")
	s.logEvent(ctx, appt.ID, EventAppointmentBooked, map[string]any{
		"doctor_id":  appt.DoctorID,
		"patient_id": appt.PatientID,
		"start":      appt.Interval.Start,
		"end":        appt.Interval.End,
	})
	return appt, nil
}

// FindAvailableSlots returns up to limit free slots of durationMinutes, earliest first.
// The search horizon is anchored at from, so the result is finite and repeatable.
func (s *Service) FindAvailableSlots(ctx context.Context, doctorID string, from time.Time, durationMinutes, limit int) (slots []interval.Interval, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.find_slots")
	defer s.finish(span, "find_slots", time.Now(), &err)
	span.SetAttributes(
		attribute.String("clinic.doctor_id", doctorID),
		attribute.Int("clinic.duration_minutes", durationMinutes),
		attribute.Int("clinic.limit", limit),
	)

	slots = make([]interval.Interval, 0)
	if limit <= 0 {
		return slots, nil
	}

	until := s.calendar.HorizonEnd(from)
	cursor := from
	for len(slots) < limit {
		candidate, err := s.calendar.NextAvailableSlotBefore(ctx, doctorID, cursor, durationMinutes, until)
		if errors.Is(err, availability.ErrNoSlot) {
			break
		}
		if err != nil {
			return nil, err
		}

		taken, err := s.ledger.Query(ctx, Filter{
			DoctorID:    doctorID,
			Statuses:    ActiveStatuses,
			Overlapping: &candidate,
		})
		if err != nil {
			return nil, fmt.Errorf("query booked appointments: %w", err)
		}
		if len(taken) == 0 {
			slots = append(slots, candidate)
			cursor = candidate.End
			continue
		}

		// Skip past every booking that overlaps the candidate
		next := candidate.Start
		for _, a := range taken {
			if a.Interval.End.After(next) {
				next = a.Interval.End
			}
		}
		cursor = next
	}

	s.metrics.ObserveSlotsReturned(len(slots))
	return slots, nil
}

// Reschedule re-checks availability for the new interval before moving the appointment.
func (s *Service) Reschedule(ctx context.Context, id string, newIv interval.Interval) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.reschedule")
	defer s.finish(span, "reschedule", time.Now(), &err)
	span.SetAttributes(attribute.String("clinic.appointment_id", id))

	if err := newIv.Validate(); err != nil {
		return nil, err
	}
	current, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, current.Status)
	}
	if err := s.checkAvailable(ctx, current.DoctorID, newIv); err != nil {
		return nil, err
	}

	appt, err = s.ledger.Reschedule(ctx, id, newIv)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", appt.ID).
		Time("from", current.Interval.Start).
		Time("to", appt.Interval.Start).
		Msg("appointment rescheduled")
	s.logEvent(ctx, appt.ID, EventAppointmentRescheduled, map[string]any{
		"previous_start": current.Interval.Start,
		"previous_end":   current.Interval.End,
		"start":          appt.Interval.Start,
		"end":            appt.Interval.End,
	})
	return appt, nil
}

func (s *Service) Cancel(ctx context.Context, id string) (*Appointment, error) {
	return s.transition(ctx, "cancel", id, EventAppointmentCancelled, s.ledger.Cancel)
}

func (s *Service) Confirm(ctx context.Context, id string) (*Appointment, error) {
	return s.transition(ctx, "confirm", id, EventAppointmentConfirmed, s.ledger.Confirm)
}

func (s *Service) Complete(ctx context.Context, id string) (*Appointment, error) {
	return s.transition(ctx, "complete", id, EventAppointmentCompleted, s.ledger.Complete)
}

func (s *Service) MarkNoShow(ctx context.Context, id string) (*Appointment, error) {
	return s.transition(ctx, "no_show", id, EventAppointmentNoShow, s.ledger.MarkNoShow)
}

func (s *Service) Get(ctx context.Context, id string) (*Appointment, error) {
	return s.ledger.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Appointment, error) {
	appts, err := s.ledger.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

// SweepNoShows marks scheduled appointments that ended more than grace ago
// and were never confirmed as no-show. It is called by the worker periodically.
func (s *Service) SweepNoShows(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := s.ledger.Now().Add(-grace)
	candidates, err := s.ledger.Query(ctx, Filter{
		Statuses: []AppointmentStatus{StatusScheduled},
		EndedBy:  cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("find overdue appointments: %w", err)
	}

	marked := 0
	for _, appt := range candidates {
		if _, err := s.ledger.MarkNoShow(ctx, appt.ID); err != nil {
			// Confirmed or cancelled concurrently, skip it
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			s.log.Error().Err(err).Str("appointment_id", appt.ID).Msg("failed to mark no-show")
			continue
		}
		marked++
		s.logEvent(ctx, appt.ID, EventAppointmentNoShow, map[string]any{"reason": "sweeper"})
	}
	s.metrics.AddNoShowsSwept(marked)
	return marked, nil
}

func (s *Service) transition(ctx context.Context, op, id, event string, apply func(context.Context, string) (*Appointment, error)) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "scheduling."+op)
	defer s.finish(span, op, time.Now(), &err)
	span.SetAttributes(attribute.String("clinic.appointment_id", id))

	appt, err = apply(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("appointment_id", appt.ID).Str("status", string(appt.Status)).Msg("appointment " + op)
	s.logEvent(ctx, appt.ID, event, map[string]any{"status": appt.Status})
	return appt, nil
}

func (s *Service) checkPatient(ctx context.Context, patientID string) error {
	if patientID == "" {
		return fmt.Errorf("%w: empty patient id", ErrPatientNotFound)
	}
	if s.patients == nil {
		return nil
	}
	ok, err := s.patients.HasPatient(ctx, patientID)
	if err != nil {
		return fmt.Errorf("load patient: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrPatientNotFound, patientID)
	}
	return nil
}

func (s *Service) checkAvailable(ctx context.Context, doctorID string, iv interval.Interval) error {
	ok, err := s.calendar.IsAvailable(ctx, doctorID, iv)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: doctor %s %s", ErrDoctorUnavailable, doctorID, iv)
	}
	return nil
}

func (s *Service) finish(span trace.Span, op string, start time.Time, errp *error) {
	outcome := "ok"
	if err := *errp; err != nil {
		outcome = string(Kind(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	s.metrics.ObserveOperation(op, outcome, time.Since(start).Seconds())
	span.End()
}

func (s *Service) logEvent(ctx context.Context, appointmentID, eventType string, payload map[string]any) {
	if s.events == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}
	if err := s.events.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Str("appointment_id", appointmentID).Msg("failed to insert event log")
	}
}
